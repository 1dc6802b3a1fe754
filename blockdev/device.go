package blockdev

import (
	"fmt"
	"math"
	"sync"

	"github.com/ardnew/ghostfat/fatimg"
	"github.com/ardnew/ghostfat/flash"
	"github.com/ardnew/ghostfat/msc"
	"github.com/ardnew/ghostfat/pkg"
	"github.com/ardnew/ghostfat/uf2"
)

// Stats counts device activity.
type Stats struct {
	Reads       uint64 // Blocks read
	Writes      uint64 // Flash blocks staged
	Discarded   uint64 // Synthetic writes dropped
	Rejected    uint64 // Synthetic writes refused
	UF2Blocks   uint64 // UF2 blocks staged
	IdleFlushes uint64
	Syncs       uint64
}

// Device is the flash-backed FAT block device.
type Device struct {
	cfg       Config
	cache     *flash.PageCache
	image     *fatimg.Image
	synthetic uint32
	count     uint32
	idle      uint32 // Milliseconds since the last staged write
	present   bool
	stats     Stats
	mutex     sync.Mutex
}

// New builds a device over driver. The image parameters are completed
// with the number of flash-backed blocks in cfg.Geometry.
func New(driver flash.Driver, cfg Config) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		pkg.LogError(pkg.ComponentBlockDev, "invalid configuration", "error", err)
		return nil, err
	}

	cache, err := flash.NewPageCache(driver, cfg.Geometry)
	if err != nil {
		return nil, err
	}

	params := cfg.Image
	params.Flash.Blocks = cfg.FlashBlocks()
	if params.Flash.Name == "" {
		params.Flash.Name = fatimg.DefaultFlashName
	}
	if cfg.Removable {
		params.Media = fatimg.MediaRemovable
	}
	image, err := fatimg.New(params)
	if err != nil {
		return nil, err
	}
	cfg.Image = params

	d := &Device{
		cfg:       cfg,
		cache:     cache,
		image:     image,
		synthetic: image.SyntheticBlocks(),
		count:     image.TotalBlocks(),
		present:   true,
	}

	pkg.LogInfo(pkg.ComponentBlockDev, "device ready",
		"geometry", cfg.Geometry.String(),
		"fat", image.Type(),
		"blocks", d.count,
		"synthetic", d.synthetic,
		"policy", cfg.SyntheticWrites)
	return d, nil
}

// Config returns the effective configuration.
func (d *Device) Config() Config {
	return d.cfg
}

// Image returns the synthesized volume.
func (d *Device) Image() *fatimg.Image {
	return d.image
}

// Capacity returns the block count and block size.
func (d *Device) Capacity() (blocks uint32, blockSize uint32) {
	return d.count, BlockSize
}

// Blocks returns the number of blocks on the device.
func (d *Device) Blocks() uint32 {
	return d.count
}

// SyntheticBlocks returns the index of the first flash-backed block.
func (d *Device) SyntheticBlocks() uint32 {
	return d.synthetic
}

// FlashAddress returns the flash address of block index, or false if the
// block is not flash-backed.
func (d *Device) FlashAddress(index uint32) (uint32, bool) {
	if index < d.synthetic || index >= d.count {
		return 0, false
	}
	return d.cfg.Geometry.MinAddress + (index-d.synthetic)*BlockSize, true
}

// CacheState returns the state of the page cache.
func (d *Device) CacheState() flash.CacheState {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.cache.State()
}

// Stats returns a snapshot of the activity counters.
func (d *Device) Stats() Stats {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.stats
}

// ReadBlock fills dst with block index.
func (d *Device) ReadBlock(index uint32, dst *[BlockSize]byte) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if !d.present {
		return pkg.ErrNotConfigured
	}
	return d.readBlock(index, dst)
}

// WriteBlock writes src to block index.
func (d *Device) WriteBlock(index uint32, src *[BlockSize]byte) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if !d.present {
		return pkg.ErrNotConfigured
	}
	return d.writeBlock(index, src)
}

// Tick advances the idle clock by elapsedMs. Once the cache has been
// dirty without a staged write for IdleFlush milliseconds the page is
// committed.
func (d *Device) Tick(elapsedMs uint32) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if !d.cache.Dirty() {
		d.idle = 0
		return nil
	}
	if d.idle > math.MaxUint32-elapsedMs {
		d.idle = math.MaxUint32
	} else {
		d.idle += elapsedMs
	}
	if d.idle < d.cfg.IdleFlush {
		return nil
	}

	idle := d.idle
	d.idle = 0
	d.stats.IdleFlushes++
	pkg.LogDebug(pkg.ComponentTick, "idle flush", "idleMs", idle)
	if err := d.cache.Flush(); err != nil {
		return fmt.Errorf("idle flush: %w", err)
	}
	return nil
}

// Sync commits any staged page immediately.
func (d *Device) Sync() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.sync()
}

func (d *Device) sync() error {
	d.idle = 0
	d.stats.Syncs++
	return d.cache.Flush()
}

func (d *Device) readBlock(index uint32, dst *[BlockSize]byte) error {
	if index >= d.count {
		return d.outOfRange(index)
	}
	d.stats.Reads++
	if index < d.synthetic {
		return d.image.ReadBlock(index, dst)
	}
	addr, _ := d.FlashAddress(index)
	if err := d.cache.Read(addr, dst[:]); err != nil {
		return fmt.Errorf("read block %d: %w", index, err)
	}
	return nil
}

func (d *Device) writeBlock(index uint32, src *[BlockSize]byte) error {
	if index >= d.count {
		return d.outOfRange(index)
	}
	if index < d.synthetic {
		return d.writeSynthetic(index, src)
	}
	addr, _ := d.FlashAddress(index)
	if err := d.stage(addr, src[:]); err != nil {
		return fmt.Errorf("write block %d: %w", index, err)
	}
	d.stats.Writes++
	return nil
}

// writeSynthetic applies the write policy to a write into FAT metadata or
// static file blocks. Nothing here reaches flash except UF2 payloads.
func (d *Device) writeSynthetic(index uint32, src *[BlockSize]byte) error {
	switch d.cfg.SyntheticWrites {
	case WriteReject:
		d.stats.Rejected++
		pkg.LogWarn(pkg.ComponentBlockDev, "rejected synthetic write",
			"block", index, "region", d.image.Locate(index).Kind)
		return fmt.Errorf("%w: block %d", pkg.ErrReadOnly, index)

	case WriteUF2:
		blk, ok := uf2.Parse(src[:])
		if ok && blk.MainFlash() && blk.MatchesFamily(d.cfg.FamilyID) {
			return d.stageUF2(index, &blk)
		}
	}

	d.stats.Discarded++
	pkg.LogDebug(pkg.ComponentBlockDev, "discarded synthetic write",
		"block", index, "region", d.image.Locate(index).Kind)
	return nil
}

func (d *Device) stageUF2(index uint32, blk *uf2.Block) error {
	payload := blk.Payload()
	if !d.cfg.Geometry.Contains(blk.TargetAddr, len(payload)) {
		d.stats.Discarded++
		pkg.LogWarn(pkg.ComponentUF2, "block outside flash window",
			"block", index,
			pkg.Addr("addr", blk.TargetAddr),
			"len", len(payload))
		return nil
	}
	if err := d.stage(blk.TargetAddr, payload); err != nil {
		return fmt.Errorf("uf2 block %d/%d: %w", blk.BlockNo, blk.NumBlocks, err)
	}
	d.stats.UF2Blocks++
	pkg.LogDebug(pkg.ComponentUF2, "staged block",
		"seq", blk.BlockNo,
		"total", blk.NumBlocks,
		pkg.Addr("addr", blk.TargetAddr))
	return nil
}

func (d *Device) stage(addr uint32, data []byte) error {
	d.idle = 0
	return d.cache.StageWrite(addr, data)
}

func (d *Device) outOfRange(index uint32) error {
	pkg.LogWarn(pkg.ComponentBlockDev, "block out of range",
		"block", index, "count", d.count)
	return fmt.Errorf("%w: block %d (count %d)", pkg.ErrOutOfRange, index, d.count)
}

// BlockSize returns the logical block size.
func (d *Device) BlockSize() uint32 {
	return BlockSize
}

// BlockCount returns the number of logical blocks.
func (d *Device) BlockCount() uint64 {
	return uint64(d.count)
}

// Read reads blocks starting at lba into buf.
func (d *Device) Read(lba uint64, blocks uint32, buf []byte) (uint32, error) {
	if err := d.checkRequest(lba, blocks, buf); err != nil {
		return 0, err
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()

	for i := uint32(0); i < blocks; i++ {
		dst := (*[BlockSize]byte)(buf[i*BlockSize:])
		if err := d.readBlock(uint32(lba)+i, dst); err != nil {
			return i, err
		}
	}
	return blocks, nil
}

// Write writes blocks from buf starting at lba.
func (d *Device) Write(lba uint64, blocks uint32, buf []byte) (uint32, error) {
	if err := d.checkRequest(lba, blocks, buf); err != nil {
		return 0, err
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()

	for i := uint32(0); i < blocks; i++ {
		src := (*[BlockSize]byte)(buf[i*BlockSize:])
		if err := d.writeBlock(uint32(lba)+i, src); err != nil {
			return i, err
		}
	}
	return blocks, nil
}

func (d *Device) checkRequest(lba uint64, blocks uint32, buf []byte) error {
	if lba+uint64(blocks) > uint64(d.count) {
		pkg.LogWarn(pkg.ComponentBlockDev, "request out of range",
			"lba", lba, "blocks", blocks, "count", d.count)
		return fmt.Errorf("%w: lba %d+%d (count %d)", pkg.ErrOutOfRange, lba, blocks, d.count)
	}
	if uint64(len(buf)) < uint64(blocks)*BlockSize {
		return fmt.Errorf("%w: %d bytes for %d blocks", pkg.ErrBufferTooSmall, len(buf), blocks)
	}
	if !d.IsPresent() {
		return pkg.ErrNotConfigured
	}
	return nil
}

// IsReadOnly reports whether the device refuses all writes. The flash file
// is always writable; WriteReject only refuses FAT metadata blocks.
func (d *Device) IsReadOnly() bool {
	return false
}

// IsRemovable reports whether the device presents removable media.
func (d *Device) IsRemovable() bool {
	return d.cfg.Removable
}

// IsPresent reports whether the medium is loaded.
func (d *Device) IsPresent() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.present
}

// Eject commits any staged page and unloads the medium.
func (d *Device) Eject() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if !d.cfg.Removable {
		return pkg.ErrNotSupported
	}
	err := d.sync()
	d.present = false
	pkg.LogInfo(pkg.ComponentBlockDev, "medium ejected", "flushed", err == nil)
	return err
}

// HasWriteCache reports that writes are staged before reaching flash.
func (d *Device) HasWriteCache() bool {
	return true
}

// Load reloads an ejected medium.
func (d *Device) Load() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.present = true
}

var _ msc.Storage = (*Device)(nil)
