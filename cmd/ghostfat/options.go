package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ardnew/ghostfat/blockdev"
	"github.com/ardnew/ghostfat/fatimg"
	"github.com/ardnew/ghostfat/flash"
	"github.com/ardnew/ghostfat/pkg"
	"github.com/ardnew/ghostfat/uf2"
)

// options are the flags shared by every subcommand.
type options struct {
	flashKiB        uint32
	flashBase       uint32
	minAddress      uint32
	pageSize        uint32
	flashFile       string
	label           string
	clusterSectors  uint8
	spareKiB        uint32
	syntheticWrites string
	idleFlush       uint32
	family          string
	verbose         bool
	logLevel        string
	logComponents   string
	json            bool
}

func defaultOptions() *options {
	return &options{
		flashKiB:        flash.DefaultFlashKiB,
		flashBase:       flash.DefaultBase,
		minAddress:      flash.DefaultMinAddress,
		label:           fatimg.DefaultVolumeLabel,
		clusterSectors:  1,
		syntheticWrites: blockdev.WriteDiscard.String(),
		idleFlush:       blockdev.DefaultIdleFlush,
		logLevel:        "warn",
	}
}

// geometry returns the flash window selected by the flags.
func (o *options) geometry() flash.Geometry {
	geo := flash.GeometryForCapacity(o.flashBase, o.flashKiB, o.minAddress)
	if o.pageSize != 0 {
		geo.PageSize = o.pageSize
	}
	return geo
}

// config builds the device configuration selected by the flags.
func (o *options) config() (blockdev.Config, error) {
	geo := o.geometry()
	if err := geo.Validate(); err != nil {
		return blockdev.Config{}, err
	}

	cfg := blockdev.DefaultConfig(geo)
	policy, err := blockdev.ParseWritePolicy(o.syntheticWrites)
	if err != nil {
		return blockdev.Config{}, err
	}
	cfg.SyntheticWrites = policy
	cfg.IdleFlush = o.idleFlush

	family, err := parseFamily(o.family)
	if err != nil {
		return blockdev.Config{}, err
	}
	cfg.FamilyID = family

	cfg.Image.VolumeLabel = o.label
	cfg.Image.SectorsPerCluster = o.clusterSectors
	if o.spareKiB != 0 {
		clusterBytes := uint32(o.clusterSectors) * fatimg.BlockSize
		if clusterBytes == 0 {
			return blockdev.Config{}, fmt.Errorf("%w: zero sectors per cluster", pkg.ErrConfiguration)
		}
		cfg.Image.SpareClusters = (o.spareKiB*1024 + clusterBytes - 1) / clusterBytes
	}
	return cfg, nil
}

// parseFamily accepts a name from uf2.Families or a number in any base.
// The empty string accepts every family.
func parseFamily(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}
	if id, ok := uf2.Families[strings.ToLower(s)]; ok {
		return id, nil
	}
	id, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: unknown UF2 family %q", pkg.ErrInvalidParameter, s)
	}
	return uint32(id), nil
}

// session is an open device and the flash driver behind it.
type session struct {
	dev  *blockdev.Device
	file *flash.FileDriver // nil when backed by memory
}

// open creates a device over the flash selected by the flags.
func (o *options) open() (*session, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}

	s := &session{}
	var driver flash.Driver
	if o.flashFile != "" {
		fd, err := flash.OpenFileDriver(o.flashFile, o.flashBase, o.flashKiB, cfg.Geometry.PageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to open flash image: %w", err)
		}
		s.file = fd
		driver = fd
	} else {
		driver = flash.NewMemoryDriver(o.flashBase, o.flashKiB, cfg.Geometry.PageSize)
	}

	dev, err := blockdev.New(driver, cfg)
	if err != nil {
		if s.file != nil {
			s.file.Close()
		}
		return nil, err
	}
	s.dev = dev
	pkg.LogDebug(pkg.ComponentCLI, "device opened",
		"flashFile", o.flashFile,
		"geometry", cfg.Geometry.String())
	return s, nil
}

// persistent reports whether writes outlive the session.
func (s *session) persistent() bool {
	return s.file != nil
}

// Close commits the staged page and releases the flash image.
func (s *session) Close() error {
	err := s.dev.Sync()
	if s.file != nil {
		err = errors.Join(err, s.file.Sync(), s.file.Close())
	}
	return err
}
