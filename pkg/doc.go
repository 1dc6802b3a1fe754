// Package pkg provides shared utilities for the ghostfat block device.
//
// This package contains common functionality used by the flash, FAT image,
// block device, and SCSI layers, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error values and their [ErrorKind] classification
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with component context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.EnableComponents(pkg.ComponentCache, pkg.ComponentTick)
//	pkg.LogInfo(pkg.ComponentCache, "page flushed", pkg.Addr("page", 0x08010000))
//
// # Errors
//
// Block device errors are defined as sentinel values and wrapped with
// context by the layer that detects them:
//
//	if errors.Is(err, pkg.ErrOutOfRange) {
//	    // Report CHECK CONDITION to the host
//	}
package pkg
