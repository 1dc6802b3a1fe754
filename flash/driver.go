package flash

import (
	"errors"
	"fmt"

	"github.com/ardnew/ghostfat/pkg"
)

// ErasedByte is the value of every byte of an erased page.
const ErasedByte = 0xFF

// DefaultMaxBusyCycles bounds the busy-flag poll loop of an erase or
// program operation. A page erase on the reference part takes roughly
// 150k cycles with caches disabled.
const DefaultMaxBusyCycles = 1_000_000

// Driver defines the platform flash contract.
// All operations are synchronous: they return once the hardware reports
// completion or failure.
type Driver interface {
	// PageSize returns the erase granularity in bytes.
	PageSize() uint32

	// SizeKiB returns the total flash capacity in kibibytes.
	SizeKiB() uint32

	// ErasePage erases the page starting at addr.
	ErasePage(addr uint32) error

	// ProgramPage programs data into the erased page starting at addr.
	// len(data) must not exceed PageSize.
	ProgramPage(addr uint32, data []byte) error

	// Read copies len(buf) bytes starting at addr into buf.
	Read(addr uint32, buf []byte) error
}

// WaitReady polls busy until it reports false, giving up after maxCycles
// polls. It returns the number of polls spent.
func WaitReady(busy func() bool, maxCycles int) (int, error) {
	for cycles := 0; cycles < maxCycles; cycles++ {
		if !busy() {
			return cycles, nil
		}
	}
	return maxCycles, pkg.ErrFlashTimeout
}

// operationError wraps err so that it always matches
// pkg.ErrFlashOperationFailed.
func operationError(op string, addr uint32, err error) error {
	if errors.Is(err, pkg.ErrFlashOperationFailed) || errors.Is(err, pkg.ErrConfiguration) {
		return fmt.Errorf("%s 0x%08X: %w", op, addr, err)
	}
	return fmt.Errorf("%w: %s 0x%08X: %w", pkg.ErrFlashOperationFailed, op, addr, err)
}

// checkErased reports whether data can be programmed over cur without an
// erase, i.e. no bit must change from 0 to 1.
func checkErased(cur, data []byte) bool {
	for i := range data {
		if cur[i]&data[i] != data[i] {
			return false
		}
	}
	return true
}
