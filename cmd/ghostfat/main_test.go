package main

import (
	"bytes"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/marcinbor85/gohex"

	"github.com/ardnew/ghostfat/blockdev"
	"github.com/ardnew/ghostfat/flash"
	"github.com/ardnew/ghostfat/pkg"
	"github.com/ardnew/ghostfat/uf2"
)

func openTest(t *testing.T, modify func(*options)) *session {
	t.Helper()
	opts := defaultOptions()
	if modify != nil {
		modify(opts)
	}
	s, err := opts.open()
	if err != nil {
		t.Fatalf("open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOptionsConfig(t *testing.T) {
	opts := defaultOptions()
	opts.syntheticWrites = "reject"
	opts.spareKiB = 16
	opts.label = "FIRMWARE"

	cfg, err := opts.config()
	if err != nil {
		t.Fatalf("config() error = %v", err)
	}
	if cfg.SyntheticWrites != blockdev.WriteReject {
		t.Errorf("SyntheticWrites = %v, want reject", cfg.SyntheticWrites)
	}
	if cfg.Image.SpareClusters != 32 {
		t.Errorf("SpareClusters = %d, want 32", cfg.Image.SpareClusters)
	}
	if cfg.Image.VolumeLabel != "FIRMWARE" {
		t.Errorf("VolumeLabel = %q, want FIRMWARE", cfg.Image.VolumeLabel)
	}
	if cfg.Geometry.MinAddress != flash.DefaultMinAddress || cfg.Geometry.PageSize != 1024 {
		t.Errorf("Geometry = %s, want default window", cfg.Geometry)
	}
}

func TestOptionsConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*options)
		want   error
	}{
		{"policy", func(o *options) { o.syntheticWrites = "keep" }, pkg.ErrInvalidParameter},
		{"family", func(o *options) { o.family = "z80" }, pkg.ErrInvalidParameter},
		{"page size", func(o *options) { o.pageSize = 1000 }, pkg.ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := defaultOptions()
			tt.modify(opts)
			if _, err := opts.config(); !errors.Is(err, tt.want) {
				t.Errorf("config() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoadAndDump(t *testing.T) {
	s := openTest(t, func(o *options) { o.syntheticWrites = "uf2" })

	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i * 7)
	}
	blocks := uf2.Encode(flash.DefaultMinAddress, data, 0)
	steps := 0
	staged, err := loadBlocks(s.dev, blocks, func() { steps++ })
	if err != nil {
		t.Fatalf("loadBlocks() error = %v", err)
	}
	if staged != len(blocks) || steps != len(blocks) {
		t.Errorf("loadBlocks() = %d staged, %d steps, want %d", staged, steps, len(blocks))
	}
	if err := s.dev.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	var blk [blockdev.BlockSize]byte
	if err := s.dev.ReadBlock(s.dev.SyntheticBlocks(), &blk); err != nil {
		t.Fatalf("ReadBlock() error = %v", err)
	}
	if !bytes.Equal(blk[:], data[:blockdev.BlockSize]) {
		t.Error("first flash block does not hold the firmware")
	}

	var out bytes.Buffer
	n, err := dumpHex(&out, s.dev, false)
	if err != nil {
		t.Fatalf("dumpHex() error = %v", err)
	}
	if n != 2*blockdev.BlockSize {
		t.Errorf("dumpHex() = %d bytes, want %d", n, 2*blockdev.BlockSize)
	}

	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(&out); err != nil {
		t.Fatalf("ParseIntelHex() error = %v", err)
	}
	segs := mem.GetDataSegments()
	if len(segs) != 1 {
		t.Fatalf("segments = %d, want 1", len(segs))
	}
	if segs[0].Address != flash.DefaultMinAddress {
		t.Errorf("segment address = %#x, want %#x", segs[0].Address, flash.DefaultMinAddress)
	}
	if !bytes.Equal(segs[0].Data[:len(data)], data) {
		t.Error("dumped segment does not match the firmware")
	}
}

func TestLoadOutsideWindow(t *testing.T) {
	s := openTest(t, func(o *options) { o.syntheticWrites = "uf2" })

	blocks := uf2.Encode(flash.DefaultBase, make([]byte, 512), 0)
	staged, err := loadBlocks(s.dev, blocks, nil)
	if err != nil {
		t.Fatalf("loadBlocks() error = %v", err)
	}
	if staged != 0 {
		t.Errorf("loadBlocks() = %d staged, want 0", staged)
	}
	if got := s.dev.Stats().Discarded; got != uint64(len(blocks)) {
		t.Errorf("Discarded = %d, want %d", got, len(blocks))
	}
}

func TestLoadWraps(t *testing.T) {
	s := openTest(t, func(o *options) {
		o.syntheticWrites = "uf2"
		o.spareKiB = 1
	})

	blocks := uf2.Encode(flash.DefaultMinAddress, make([]byte, 2048), 0)
	staged, err := loadBlocks(s.dev, blocks, nil)
	if err != nil {
		t.Fatalf("loadBlocks() error = %v", err)
	}
	if staged != len(blocks) {
		t.Errorf("loadBlocks() = %d staged, want %d", staged, len(blocks))
	}
}

func TestDumpEmpty(t *testing.T) {
	s := openTest(t, nil)

	var out bytes.Buffer
	n, err := dumpHex(&out, s.dev, false)
	if err != nil {
		t.Fatalf("dumpHex() error = %v", err)
	}
	if n != 0 {
		t.Errorf("dumpHex() = %d bytes, want 0", n)
	}

	n, err = dumpHex(&out, s.dev, true)
	if err != nil {
		t.Fatalf("dumpHex(all) error = %v", err)
	}
	want := int(s.dev.Blocks()-s.dev.SyntheticBlocks()) * blockdev.BlockSize
	if n != want {
		t.Errorf("dumpHex(all) = %d bytes, want %d", n, want)
	}
}

func TestWriteImage(t *testing.T) {
	s := openTest(t, nil)

	var out bytes.Buffer
	if err := writeImage(&out, s.dev, nil); err != nil {
		t.Fatalf("writeImage() error = %v", err)
	}
	if got, want := out.Len(), int(s.dev.Blocks())*blockdev.BlockSize; got != want {
		t.Fatalf("image size = %d, want %d", got, want)
	}
	img := out.Bytes()
	if img[510] != 0x55 || img[511] != 0xAA {
		t.Errorf("boot signature = %02X %02X, want 55 AA", img[510], img[511])
	}
}

func TestPrintInfo(t *testing.T) {
	color.NoColor = true
	s := openTest(t, nil)

	var out bytes.Buffer
	printInfo(&out, s.dev)
	report := out.String()

	for _, want := range []string{"FAT12", "GHOSTFAT", "CURRENT.BIN", "INFO_UF2.TXT", "08010000", "class 08h subclass 06h protocol 50h"} {
		if !strings.Contains(report, want) {
			t.Errorf("printInfo() missing %q:\n%s", want, report)
		}
	}
}

func TestFileSessionPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.bin")
	modify := func(o *options) { o.flashFile = path }

	opts := defaultOptions()
	modify(opts)
	s, err := opts.open()
	if err != nil {
		t.Fatalf("open() error = %v", err)
	}
	if !s.persistent() {
		t.Error("persistent() = false, want true")
	}
	first := s.dev.SyntheticBlocks()
	var blk [blockdev.BlockSize]byte
	for i := range blk {
		blk[i] = 0x3C
	}
	if err := s.dev.WriteBlock(first, &blk); err != nil {
		t.Fatalf("WriteBlock() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s = openTest(t, modify)
	var got [blockdev.BlockSize]byte
	if err := s.dev.ReadBlock(first, &got); err != nil {
		t.Fatalf("ReadBlock() error = %v", err)
	}
	if got != blk {
		t.Error("block not persisted across sessions")
	}
}

func TestRootCommandVersion(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "ghostfat dev") {
		t.Errorf("version output = %q", out.String())
	}
}

func TestConfigureLogging(t *testing.T) {
	original := pkg.GetLogLevel()
	defer func() {
		pkg.SetLogLevel(original)
		pkg.EnableComponents()
	}()

	tests := []struct {
		name    string
		modify  func(*options)
		want    slog.Level
		wantErr bool
	}{
		{"default", func(o *options) {}, slog.LevelWarn, false},
		{"level", func(o *options) { o.logLevel = "info" }, slog.LevelInfo, false},
		{"verbose", func(o *options) { o.logLevel = "error"; o.verbose = true }, slog.LevelDebug, false},
		{"components", func(o *options) { o.logComponents = "cache,scsi" }, slog.LevelWarn, false},
		{"bad level", func(o *options) { o.logLevel = "loud" }, 0, true},
		{"bad component", func(o *options) { o.logComponents = "usb" }, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := defaultOptions()
			tt.modify(opts)
			err := configureLogging(opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("configureLogging() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && pkg.GetLogLevel() != tt.want {
				t.Errorf("GetLogLevel() = %v, want %v", pkg.GetLogLevel(), tt.want)
			}
		})
	}
}
