package blockdev

import (
	"fmt"
	"strings"
	"time"

	"github.com/ardnew/ghostfat/fatimg"
	"github.com/ardnew/ghostfat/flash"
	"github.com/ardnew/ghostfat/pkg"
)

// BlockSize is the logical block size of the device.
const BlockSize = fatimg.BlockSize

// Timing defaults.
const (
	DefaultIdleFlush  = 300 // milliseconds
	DefaultTickPeriod = 10 * time.Millisecond
)

// WritePolicy selects what happens to host writes into synthetic blocks.
type WritePolicy int

// Write policies.
const (
	// WriteDiscard accepts and drops the data.
	WriteDiscard WritePolicy = iota
	// WriteReject fails the write with ErrReadOnly.
	WriteReject
	// WriteUF2 stages UF2 blocks at their target flash address and drops
	// everything else.
	WriteUF2
)

// String returns the policy name.
func (p WritePolicy) String() string {
	switch p {
	case WriteDiscard:
		return "discard"
	case WriteReject:
		return "reject"
	case WriteUF2:
		return "uf2"
	default:
		return fmt.Sprintf("WritePolicy(%d)", int(p))
	}
}

// ParseWritePolicy returns the policy named s.
func ParseWritePolicy(s string) (WritePolicy, error) {
	switch strings.ToLower(s) {
	case "discard":
		return WriteDiscard, nil
	case "reject":
		return WriteReject, nil
	case "uf2":
		return WriteUF2, nil
	}
	return 0, fmt.Errorf("%w: unknown write policy %q", pkg.ErrInvalidParameter, s)
}

// Config holds the fixed configuration of a Device.
type Config struct {
	Geometry        flash.Geometry
	Image           fatimg.Params // Image.Flash.Blocks is derived from Geometry
	SyntheticWrites WritePolicy
	IdleFlush       uint32 // Idle milliseconds before a dirty page is committed
	Removable       bool
	FamilyID        uint32 // UF2 family filter, 0 accepts all
}

// DefaultConfig returns a configuration exposing the flash window of geo.
func DefaultConfig(geo flash.Geometry) Config {
	return Config{
		Geometry:        geo,
		Image:           fatimg.DefaultParams(geo.Size() / BlockSize),
		SyntheticWrites: WriteDiscard,
		IdleFlush:       DefaultIdleFlush,
		Removable:       true,
	}
}

// FlashBlocks returns the number of flash-backed blocks.
func (c Config) FlashBlocks() uint32 {
	return c.Geometry.Size() / BlockSize
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if err := c.Geometry.Validate(); err != nil {
		return err
	}
	if c.Geometry.Size()%BlockSize != 0 {
		return fmt.Errorf("%w: flash window %s is not a whole number of blocks",
			pkg.ErrConfiguration, c.Geometry)
	}
	if c.IdleFlush == 0 {
		return fmt.Errorf("%w: zero idle flush threshold", pkg.ErrConfiguration)
	}
	switch c.SyntheticWrites {
	case WriteDiscard, WriteReject, WriteUF2:
	default:
		return fmt.Errorf("%w: %v", pkg.ErrConfiguration, c.SyntheticWrites)
	}
	return nil
}
