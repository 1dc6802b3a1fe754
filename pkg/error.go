package pkg

import "errors"

// Block device errors.
var (
	// ErrOutOfRange indicates a block index beyond the device capacity.
	ErrOutOfRange = errors.New("block out of range")

	// ErrFlashOperationFailed indicates a flash erase or program failure.
	ErrFlashOperationFailed = errors.New("flash operation failed")

	// ErrFlashTimeout indicates the flash busy flag never cleared within
	// the cycle budget.
	ErrFlashTimeout = errors.New("flash busy timeout")

	// ErrNotErased indicates an attempt to program bits that are not erased.
	ErrNotErased = errors.New("flash not erased")

	// ErrConfiguration indicates an address or parameter outside the
	// configured geometry. It is a programming error, never a host error.
	ErrConfiguration = errors.New("configuration error")

	// ErrReadOnly indicates a write to a read-only region.
	ErrReadOnly = errors.New("read-only region")
)

// Command layer errors.
var (
	// ErrNotConfigured indicates the command layer has no transport.
	ErrNotConfigured = errors.New("not configured")

	// ErrInvalidRequest indicates an invalid or unsupported request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// ErrorKind classifies an error by how the block device reports it.
type ErrorKind int

// Error kinds.
const (
	KindNone          ErrorKind = iota // No error
	KindOutOfRange                     // Host addressed a block past the end
	KindFlashFailed                    // Erase/program hardware failure
	KindConfiguration                  // Geometry invariant violated
	KindReadOnly                       // Write to read-only metadata was rejected
	KindOther                          // Anything else
)

// KindOf returns the kind of err.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrOutOfRange):
		return KindOutOfRange
	case errors.Is(err, ErrFlashOperationFailed),
		errors.Is(err, ErrFlashTimeout),
		errors.Is(err, ErrNotErased):
		return KindFlashFailed
	case errors.Is(err, ErrReadOnly):
		return KindReadOnly
	default:
		return KindOther
	}
}

// String returns a string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindOutOfRange:
		return "out-of-range"
	case KindFlashFailed:
		return "flash-failed"
	case KindConfiguration:
		return "configuration"
	case KindReadOnly:
		return "read-only"
	default:
		return "other"
	}
}

// Error returns the sentinel error for the kind.
func (k ErrorKind) Error() error {
	switch k {
	case KindNone:
		return nil
	case KindOutOfRange:
		return ErrOutOfRange
	case KindFlashFailed:
		return ErrFlashOperationFailed
	case KindConfiguration:
		return ErrConfiguration
	case KindReadOnly:
		return ErrReadOnly
	default:
		return ErrInvalidRequest
	}
}
