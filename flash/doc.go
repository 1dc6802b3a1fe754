// Package flash models on-chip flash memory and the single-page write cache
// that sits in front of it.
//
// Flash can only be erased a whole page at a time and programmed only over
// erased bits. A host writing 512-byte blocks therefore cannot be served by
// programming directly: every sub-page write requires reading the page,
// overlaying the new bytes, erasing, and programming the whole page again.
// [PageCache] coalesces these read-modify-write cycles by holding exactly
// one page in RAM until the host moves to a different page or the cache is
// explicitly flushed.
//
// # Geometry
//
// A [Geometry] describes the writable window of flash:
//
//	geo := flash.GeometryForCapacity(flash.DefaultBase, 128, flash.DefaultMinAddress)
//	// geo.PageSize   == 1024
//	// geo.MinAddress == 0x08010000
//	// geo.MaxAddress == 0x08020000
//
// Writes outside [MinAddress, MaxAddress) are rejected with
// [pkg.ErrConfiguration]; they indicate a geometry miscalculation and must
// never reach the hardware.
//
// # Drivers
//
// [Driver] is the platform flash contract: synchronous page erase, page
// program, and arbitrary reads. Two host-side implementations are provided:
//
//   - [MemoryDriver] - RAM-backed flash with busy-flag and fault simulation
//   - [FileDriver] - flash contents persisted to an image file
//
// Implementations spin on the hardware busy flag with a bounded cycle count
// (see [WaitReady]) and fail with [pkg.ErrFlashTimeout] instead of hanging.
//
// # Cache states
//
// The cache is always in one of three states:
//
//	Empty      no page loaded
//	Clean(p)   page p loaded, identical to flash
//	Dirty(p)   page p loaded, ahead of flash
//
// A failed flush invalidates the cache back to Empty so a stale dirty flag
// can never hide lost data.
package flash
