package flash

import (
	"fmt"
	"math/bits"

	"github.com/ardnew/ghostfat/pkg"
)

// Flash layout defaults for the reference board.
const (
	DefaultBase       = 0x08000000 // Start of on-chip flash
	DefaultMinAddress = 0x08010000 // First page above the firmware image
	DefaultFlashKiB   = 128        // Capacity when the hardware is not queried
)

// Page sizes.
const (
	SmallPageSize = 1024 // Low and medium density parts
	LargePageSize = 2048 // High density parts
	MinPageSize   = 256
	MaxPageSize   = 4096

	// LargePageThresholdKiB is the capacity above which parts use
	// LargePageSize pages.
	LargePageThresholdKiB = 128
)

// Geometry describes the writable window of a flash device.
type Geometry struct {
	PageSize   uint32 // Erase granularity in bytes
	MinAddress uint32 // First writable address (page aligned)
	MaxAddress uint32 // End of usable flash, exclusive (page aligned)
}

// PageSizeForCapacity returns the page size used by a part with the given
// flash capacity.
func PageSizeForCapacity(flashKiB uint32) uint32 {
	if flashKiB > LargePageThresholdKiB {
		return LargePageSize
	}
	return SmallPageSize
}

// GeometryForCapacity computes the geometry of a part whose flash starts at
// base and holds flashKiB kibibytes, writable from minAddress.
func GeometryForCapacity(base, flashKiB, minAddress uint32) Geometry {
	return Geometry{
		PageSize:   PageSizeForCapacity(flashKiB),
		MinAddress: minAddress,
		MaxAddress: base + flashKiB*1024,
	}
}

// Validate checks the geometry invariants.
func (g Geometry) Validate() error {
	if g.PageSize < MinPageSize || g.PageSize > MaxPageSize || bits.OnesCount32(g.PageSize) != 1 {
		return fmt.Errorf("%w: page size %d", pkg.ErrConfiguration, g.PageSize)
	}
	if g.MinAddress%g.PageSize != 0 || g.MaxAddress%g.PageSize != 0 {
		return fmt.Errorf("%w: window [0x%08X, 0x%08X) not aligned to %d-byte pages",
			pkg.ErrConfiguration, g.MinAddress, g.MaxAddress, g.PageSize)
	}
	if g.MinAddress >= g.MaxAddress {
		return fmt.Errorf("%w: empty window [0x%08X, 0x%08X)",
			pkg.ErrConfiguration, g.MinAddress, g.MaxAddress)
	}
	return nil
}

// Size returns the number of writable bytes.
func (g Geometry) Size() uint32 {
	return g.MaxAddress - g.MinAddress
}

// Pages returns the number of writable pages.
func (g Geometry) Pages() uint32 {
	return g.Size() / g.PageSize
}

// PageOf returns the address of the page containing addr.
func (g Geometry) PageOf(addr uint32) uint32 {
	return addr &^ (g.PageSize - 1)
}

// Contains reports whether the n bytes starting at addr lie entirely inside
// the writable window.
func (g Geometry) Contains(addr uint32, n int) bool {
	if n < 0 || addr < g.MinAddress {
		return false
	}
	return uint64(addr)+uint64(n) <= uint64(g.MaxAddress) && addr < g.MaxAddress
}

// String returns a human-readable description of the geometry.
func (g Geometry) String() string {
	return fmt.Sprintf("[0x%08X, 0x%08X) %d pages of %d bytes",
		g.MinAddress, g.MaxAddress, g.Pages(), g.PageSize)
}
