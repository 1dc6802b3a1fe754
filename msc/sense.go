package msc

import (
	"errors"

	"github.com/ardnew/ghostfat/pkg"
)

// senseForError returns the sense key and additional sense code reported
// for a storage error. write selects the code for flash failures.
func senseForError(err error, write bool) (key, asc uint8) {
	switch pkg.KindOf(err) {
	case pkg.KindNone:
		return SenseNoSense, ASCNoAdditionalInfo
	case pkg.KindOutOfRange:
		return SenseIllegalRequest, ASCLBAOutOfRange
	case pkg.KindReadOnly:
		return SenseDataProtect, ASCWriteProtected
	case pkg.KindFlashFailed:
		if write {
			return SenseMediumError, ASCWriteFault
		}
		return SenseMediumError, ASCUnrecoveredReadError
	case pkg.KindConfiguration:
		return SenseHardwareError, ASCInternalTargetFailure
	}
	if errors.Is(err, pkg.ErrNotConfigured) {
		return SenseNotReady, ASCMediumNotPresent
	}
	return SenseMediumError, ASCNoAdditionalInfo
}
