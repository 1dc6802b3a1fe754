package blockdev

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/ardnew/ghostfat/fatimg"
	"github.com/ardnew/ghostfat/flash"
	"github.com/ardnew/ghostfat/pkg"
	"github.com/ardnew/ghostfat/uf2"
)

// recordingDriver wraps a flash driver and records every erase and program.
type recordingDriver struct {
	flash.Driver
	ops []string
}

func (r *recordingDriver) ErasePage(addr uint32) error {
	r.ops = append(r.ops, fmt.Sprintf("erase:%08X", addr))
	return r.Driver.ErasePage(addr)
}

func (r *recordingDriver) ProgramPage(addr uint32, data []byte) error {
	r.ops = append(r.ops, fmt.Sprintf("program:%08X", addr))
	return r.Driver.ProgramPage(addr, data)
}

var testGeometry = flash.Geometry{
	PageSize:   1024,
	MinAddress: 0x08010000,
	MaxAddress: 0x08020000,
}

func newTestDevice(t *testing.T, modify func(*Config)) (*Device, *flash.MemoryDriver, *recordingDriver) {
	t.Helper()
	mem := flash.NewMemoryDriver(flash.DefaultBase, 128, 1024)
	rec := &recordingDriver{Driver: mem}
	cfg := DefaultConfig(testGeometry)
	if modify != nil {
		modify(&cfg)
	}
	d, err := New(rec, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d, mem, rec
}

func fill(b byte) *[BlockSize]byte {
	var blk [BlockSize]byte
	for i := range blk {
		blk[i] = b
	}
	return &blk
}

func checkOps(t *testing.T, rec *recordingDriver, want ...string) {
	t.Helper()
	if fmt.Sprint(rec.ops) != fmt.Sprint(want) {
		t.Errorf("driver ops = %v, want %v", rec.ops, want)
	}
}

func TestNew_FlashWindow(t *testing.T) {
	d, _, _ := newTestDevice(t, nil)

	if got := d.Blocks() - d.SyntheticBlocks(); got != 128 {
		t.Errorf("flash-backed blocks = %d, want 128", got)
	}
	blocks, size := d.Capacity()
	if blocks != d.Blocks() || size != 512 {
		t.Errorf("Capacity() = (%d, %d), want (%d, 512)", blocks, size, d.Blocks())
	}
	if d.BlockCount() != uint64(d.Blocks()) || d.BlockSize() != 512 {
		t.Errorf("BlockCount() = %d, BlockSize() = %d", d.BlockCount(), d.BlockSize())
	}

	var b [BlockSize]byte
	if err := d.ReadBlock(0, &b); err != nil {
		t.Fatalf("ReadBlock(0) error = %v", err)
	}
	if got := binary.LittleEndian.Uint16(b[11:]); got != 512 {
		t.Errorf("boot sector bytesPerSector = %d, want 512", got)
	}
	if b[510] != 0x55 || b[511] != 0xAA {
		t.Errorf("boot signature = %02X %02X, want 55 AA", b[510], b[511])
	}
}

func TestDevice_FlashAddress(t *testing.T) {
	d, _, _ := newTestDevice(t, nil)
	s := d.SyntheticBlocks()

	tests := []struct {
		index uint32
		want  uint32
		ok    bool
	}{
		{0, 0, false},
		{s - 1, 0, false},
		{s, 0x08010000, true},
		{s + 1, 0x08010200, true},
		{s + 127, 0x0801FE00, true},
		{s + 128, 0, false},
	}
	for _, tt := range tests {
		got, ok := d.FlashAddress(tt.index)
		if got != tt.want || ok != tt.ok {
			t.Errorf("FlashAddress(%d) = (0x%08X, %v), want (0x%08X, %v)", tt.index, got, ok, tt.want, tt.ok)
		}
	}
}

func TestTick_IdleFlush(t *testing.T) {
	d, mem, rec := newTestDevice(t, nil)
	s := d.SyntheticBlocks()

	if err := d.WriteBlock(s, fill(0xAA)); err != nil {
		t.Fatalf("WriteBlock() error = %v", err)
	}
	checkOps(t, rec)

	if err := d.Tick(1000); err != nil {
		t.Fatalf("Tick(1000) error = %v", err)
	}
	checkOps(t, rec, "erase:08010000", "program:08010000")

	raw := mem.Bytes()[0x10000:0x10400]
	if !bytes.Equal(raw[:512], fill(0xAA)[:]) {
		t.Error("flash block not programmed with 0xAA")
	}
	if !bytes.Equal(raw[512:], bytes.Repeat([]byte{0xFF}, 512)) {
		t.Error("rest of the page not preserved as erased")
	}
	if got := d.CacheState(); got != flash.CacheClean {
		t.Errorf("CacheState() = %v, want clean", got)
	}
	if got := d.Stats().IdleFlushes; got != 1 {
		t.Errorf("Stats().IdleFlushes = %d, want 1", got)
	}

	// Clean cache: further ticks touch nothing.
	if err := d.Tick(1000); err != nil {
		t.Fatalf("Tick(1000) error = %v", err)
	}
	checkOps(t, rec, "erase:08010000", "program:08010000")
}

func TestTick_WriteResetsIdle(t *testing.T) {
	d, _, rec := newTestDevice(t, nil)
	s := d.SyntheticBlocks()

	steps := []struct {
		write   bool
		elapsed uint32
		ops     int
	}{
		{true, 0, 0},
		{false, 250, 0},
		{true, 0, 0},
		{false, 250, 0},
		{false, 49, 0},
		{false, 1, 2},
	}
	for i, step := range steps {
		if step.write {
			if err := d.WriteBlock(s, fill(byte(i))); err != nil {
				t.Fatalf("step %d: WriteBlock() error = %v", i, err)
			}
		} else if err := d.Tick(step.elapsed); err != nil {
			t.Fatalf("step %d: Tick() error = %v", i, err)
		}
		if len(rec.ops) != step.ops {
			t.Fatalf("step %d: driver ops = %v, want %d ops", i, rec.ops, step.ops)
		}
	}
}

func TestDevice_ReadAfterWrite(t *testing.T) {
	d, _, rec := newTestDevice(t, nil)
	s := d.SyntheticBlocks()

	src := fill(0x5C)
	if err := d.WriteBlock(s+3, src); err != nil {
		t.Fatalf("WriteBlock() error = %v", err)
	}
	var got [BlockSize]byte
	if err := d.ReadBlock(s+3, &got); err != nil {
		t.Fatalf("ReadBlock() error = %v", err)
	}
	if got != *src {
		t.Error("ReadBlock() did not return staged data")
	}
	if err := d.ReadBlock(s+2, &got); err != nil {
		t.Fatalf("ReadBlock() error = %v", err)
	}
	if got != *fill(0xFF) {
		t.Error("neighboring block in the staged page is not erased")
	}
	checkOps(t, rec)
}

func TestDevice_PageSwitchCommitsFirst(t *testing.T) {
	d, _, rec := newTestDevice(t, nil)
	s := d.SyntheticBlocks()

	if err := d.WriteBlock(s, fill(0x01)); err != nil {
		t.Fatalf("WriteBlock() error = %v", err)
	}
	if err := d.WriteBlock(s+1, fill(0x02)); err != nil {
		t.Fatalf("WriteBlock() error = %v", err)
	}
	checkOps(t, rec)

	if err := d.WriteBlock(s+2, fill(0x03)); err != nil {
		t.Fatalf("WriteBlock() error = %v", err)
	}
	checkOps(t, rec, "erase:08010000", "program:08010000")

	if err := d.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	checkOps(t, rec, "erase:08010000", "program:08010000", "erase:08010400", "program:08010400")
}

func TestDevice_SyntheticWritePolicies(t *testing.T) {
	tests := []struct {
		policy  WritePolicy
		wantErr error
	}{
		{WriteDiscard, nil},
		{WriteReject, pkg.ErrReadOnly},
		{WriteUF2, nil},
	}
	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			d, _, rec := newTestDevice(t, func(c *Config) { c.SyntheticWrites = tt.policy })

			var before, after [BlockSize]byte
			if err := d.ReadBlock(0, &before); err != nil {
				t.Fatalf("ReadBlock(0) error = %v", err)
			}
			err := d.WriteBlock(0, fill(0x00))
			if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
				t.Errorf("WriteBlock(0) error = %v, want %v", err, tt.wantErr)
			}
			if err := d.ReadBlock(0, &after); err != nil {
				t.Fatalf("ReadBlock(0) error = %v", err)
			}
			if before != after {
				t.Error("synthetic block changed after write")
			}
			if d.CacheState() != flash.CacheEmpty {
				t.Errorf("CacheState() = %v, want empty", d.CacheState())
			}
			if err := d.Sync(); err != nil {
				t.Fatalf("Sync() error = %v", err)
			}
			checkOps(t, rec)
		})
	}
}

func uf2Sector(addr uint32, payload []byte, family uint32) *[BlockSize]byte {
	var sector [BlockSize]byte
	blk := uf2.Encode(addr, payload, family)[0]
	blk.MarshalTo(sector[:])
	return &sector
}

func TestDevice_UF2Write(t *testing.T) {
	d, _, rec := newTestDevice(t, func(c *Config) {
		c.SyntheticWrites = WriteUF2
		c.FamilyID = uf2.Families["stm32f4"]
	})
	s := d.SyntheticBlocks()
	spare := s - 1
	if got := d.Image().Locate(spare).Kind; got != fatimg.RegionSpare {
		t.Fatalf("Locate(%d) = %v, want spare", spare, got)
	}

	payload := bytes.Repeat([]byte{0x3C}, uf2.PayloadSize)
	if err := d.WriteBlock(spare, uf2Sector(0x08010100, payload, uf2.Families["stm32f4"])); err != nil {
		t.Fatalf("WriteBlock(uf2) error = %v", err)
	}
	if got := d.Stats().UF2Blocks; got != 1 {
		t.Errorf("Stats().UF2Blocks = %d, want 1", got)
	}
	if err := d.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	checkOps(t, rec, "erase:08010000", "program:08010000")

	var b [BlockSize]byte
	if err := d.ReadBlock(s, &b); err != nil {
		t.Fatalf("ReadBlock() error = %v", err)
	}
	if !bytes.Equal(b[:256], bytes.Repeat([]byte{0xFF}, 256)) {
		t.Error("bytes before the UF2 target are not erased")
	}
	if !bytes.Equal(b[256:], payload) {
		t.Error("UF2 payload not at its target address")
	}

	ignored := []struct {
		name   string
		sector *[BlockSize]byte
	}{
		{"below window", uf2Sector(0x08000000, payload, 0)},
		{"past window", uf2Sector(0x0801FF80, payload, 0)},
		{"foreign family", uf2Sector(0x08010000, payload, uf2.Families["rp2040"])},
		{"not uf2", fill(0x00)},
	}
	for _, tt := range ignored {
		if err := d.WriteBlock(spare, tt.sector); err != nil {
			t.Errorf("%s: WriteBlock() error = %v", tt.name, err)
		}
		if d.CacheState() == flash.CacheDirty {
			t.Errorf("%s: cache dirty after ignored block", tt.name)
		}
	}
}

func TestDevice_OutOfRange(t *testing.T) {
	d, _, _ := newTestDevice(t, nil)
	var b [BlockSize]byte
	n := d.Blocks()

	if err := d.ReadBlock(n, &b); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("ReadBlock(%d) error = %v, want ErrOutOfRange", n, err)
	}
	if err := d.WriteBlock(n, &b); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("WriteBlock(%d) error = %v, want ErrOutOfRange", n, err)
	}
	buf := make([]byte, 2*BlockSize)
	if _, err := d.Read(uint64(n-1), 2, buf); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("Read(%d, 2) error = %v, want ErrOutOfRange", n-1, err)
	}
	if _, err := d.Write(uint64(n), 1, buf); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("Write(%d, 1) error = %v, want ErrOutOfRange", n, err)
	}
	if _, err := d.Read(0, 3, buf); !errors.Is(err, pkg.ErrBufferTooSmall) {
		t.Errorf("Read(short buffer) error = %v, want ErrBufferTooSmall", err)
	}
}

func TestDevice_FlushFailure(t *testing.T) {
	d, mem, rec := newTestDevice(t, nil)
	s := d.SyntheticBlocks()

	if err := d.WriteBlock(s, fill(0x11)); err != nil {
		t.Fatalf("WriteBlock() error = %v", err)
	}
	mem.FailNextProgram()
	if err := d.Tick(1000); !errors.Is(err, pkg.ErrFlashOperationFailed) {
		t.Fatalf("Tick() error = %v, want ErrFlashOperationFailed", err)
	}
	if got := d.CacheState(); got != flash.CacheEmpty {
		t.Errorf("CacheState() = %v, want empty", got)
	}
	checkOps(t, rec, "erase:08010000", "program:08010000")

	// No retry: the failed page is gone and nothing is pending.
	if err := d.Tick(1000); err != nil {
		t.Errorf("Tick() after failure error = %v", err)
	}
	checkOps(t, rec, "erase:08010000", "program:08010000")

	var b [BlockSize]byte
	if err := d.ReadBlock(s, &b); err != nil {
		t.Fatalf("ReadBlock() error = %v", err)
	}
	if b != *fill(0xFF) {
		t.Error("block after failed flush does not reflect flash")
	}
}

func TestDevice_WriteFailsOnPageSwitch(t *testing.T) {
	d, mem, _ := newTestDevice(t, nil)
	s := d.SyntheticBlocks()

	if err := d.WriteBlock(s, fill(0x22)); err != nil {
		t.Fatalf("WriteBlock() error = %v", err)
	}
	mem.FailNextErase()
	buf := bytes.Repeat([]byte{0x33}, BlockSize)
	n, err := d.Write(uint64(s+2), 1, buf)
	if !errors.Is(err, pkg.ErrFlashOperationFailed) || n != 0 {
		t.Errorf("Write() = (%d, %v), want (0, ErrFlashOperationFailed)", n, err)
	}
}

func TestDevice_MultiBlockStorage(t *testing.T) {
	d, _, _ := newTestDevice(t, nil)
	s := uint64(d.SyntheticBlocks())

	src := make([]byte, 3*BlockSize)
	for i := range src {
		src[i] = byte(i / BlockSize)
	}
	if n, err := d.Write(s+1, 3, src); err != nil || n != 3 {
		t.Fatalf("Write() = (%d, %v), want (3, nil)", n, err)
	}
	dst := make([]byte, 3*BlockSize)
	if n, err := d.Read(s+1, 3, dst); err != nil || n != 3 {
		t.Fatalf("Read() = (%d, %v), want (3, nil)", n, err)
	}
	if !bytes.Equal(src, dst) {
		t.Error("Read() data mismatch")
	}

	// A read spanning synthetic and flash blocks.
	span := make([]byte, 2*BlockSize)
	if _, err := d.Read(s-1, 2, span); err != nil {
		t.Fatalf("Read(span) error = %v", err)
	}
	if !bytes.Equal(span[:BlockSize], make([]byte, BlockSize)) {
		t.Error("spare block not zero")
	}
}

func TestDevice_Eject(t *testing.T) {
	d, _, rec := newTestDevice(t, nil)
	s := d.SyntheticBlocks()

	if err := d.WriteBlock(s, fill(0x44)); err != nil {
		t.Fatalf("WriteBlock() error = %v", err)
	}
	if err := d.Eject(); err != nil {
		t.Fatalf("Eject() error = %v", err)
	}
	checkOps(t, rec, "erase:08010000", "program:08010000")
	if d.IsPresent() {
		t.Error("IsPresent() = true after Eject")
	}
	buf := make([]byte, BlockSize)
	if _, err := d.Read(0, 1, buf); !errors.Is(err, pkg.ErrNotConfigured) {
		t.Errorf("Read() after eject error = %v, want ErrNotConfigured", err)
	}
	if err := d.WriteBlock(s, fill(0x55)); !errors.Is(err, pkg.ErrNotConfigured) {
		t.Errorf("WriteBlock() after eject error = %v, want ErrNotConfigured", err)
	}
	var blk [BlockSize]byte
	if err := d.ReadBlock(s, &blk); !errors.Is(err, pkg.ErrNotConfigured) {
		t.Errorf("ReadBlock() after eject error = %v, want ErrNotConfigured", err)
	}
	if got := d.CacheState(); got == flash.CacheDirty {
		t.Errorf("CacheState() after eject = %v, want no staged write", got)
	}
	d.Load()
	if _, err := d.Read(0, 1, buf); err != nil {
		t.Errorf("Read() after Load error = %v", err)
	}
	if err := d.ReadBlock(s, &blk); err != nil || blk != *fill(0x44) {
		t.Errorf("ReadBlock() after Load = %v, want committed data", err)
	}

	fixed, _, _ := newTestDevice(t, func(c *Config) { c.Removable = false })
	if err := fixed.Eject(); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("Eject(fixed) error = %v, want ErrNotSupported", err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"geometry", func(c *Config) { c.Geometry.PageSize = 1000 }},
		{"idle flush", func(c *Config) { c.IdleFlush = 0 }},
		{"policy", func(c *Config) { c.SyntheticWrites = WritePolicy(9) }},
		{"image", func(c *Config) { c.Image.NumFATs = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := flash.NewMemoryDriver(flash.DefaultBase, 128, 1024)
			cfg := DefaultConfig(testGeometry)
			tt.modify(&cfg)
			if _, err := New(mem, cfg); !errors.Is(err, pkg.ErrConfiguration) {
				t.Errorf("New() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestParseWritePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    WritePolicy
		wantErr bool
	}{
		{"discard", WriteDiscard, false},
		{"Reject", WriteReject, false},
		{"UF2", WriteUF2, false},
		{"drop", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseWritePolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseWritePolicy(%q) = (%v, %v), want (%v, wantErr %v)", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}
