package flash

import (
	"fmt"
	"sync"

	"github.com/ardnew/ghostfat/pkg"
)

// MemoryDriver implements Driver using an in-memory buffer.
// It mimics on-chip flash: erased bytes read 0xFF, programming may only
// clear bits, and every erase/program spins on a simulated busy flag.
type MemoryDriver struct {
	base     uint32
	pageSize uint32
	mem      []byte

	latency   int  // busy polls before an operation completes
	maxCycles int  // busy poll budget
	stuck     bool // busy flag never clears

	failErase   bool // next erase fails
	failProgram bool // next program fails

	stats DriverStats
	mutex sync.Mutex
}

// DriverStats counts completed driver operations.
type DriverStats struct {
	Erases     uint64 // Successful page erases
	Programs   uint64 // Successful page programs
	Reads      uint64 // Read calls
	BusyCycles uint64 // Total busy-flag polls
}

// NewMemoryDriver creates erased flash of sizeKiB kibibytes starting at
// base, with the given page size. A pageSize of 0 selects the size
// implied by the capacity.
func NewMemoryDriver(base, sizeKiB, pageSize uint32) *MemoryDriver {
	if pageSize == 0 {
		pageSize = PageSizeForCapacity(sizeKiB)
	}
	d := &MemoryDriver{
		base:      base,
		pageSize:  pageSize,
		mem:       make([]byte, sizeKiB*1024),
		maxCycles: DefaultMaxBusyCycles,
	}
	for i := range d.mem {
		d.mem[i] = ErasedByte
	}
	return d
}

// PageSize returns the page size.
func (d *MemoryDriver) PageSize() uint32 {
	return d.pageSize
}

// SizeKiB returns the flash capacity.
func (d *MemoryDriver) SizeKiB() uint32 {
	return uint32(len(d.mem) / 1024)
}

// Base returns the address of the first byte of flash.
func (d *MemoryDriver) Base() uint32 {
	return d.base
}

// SetLatency sets the number of busy polls each operation takes.
func (d *MemoryDriver) SetLatency(cycles int) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.latency = cycles
}

// SetMaxBusyCycles sets the busy poll budget.
func (d *MemoryDriver) SetMaxBusyCycles(cycles int) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.maxCycles = cycles
}

// SetStuck makes the busy flag stay set until cleared again.
func (d *MemoryDriver) SetStuck(stuck bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.stuck = stuck
}

// FailNextErase makes the next ErasePage report a hardware error.
func (d *MemoryDriver) FailNextErase() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.failErase = true
}

// FailNextProgram makes the next ProgramPage report a hardware error.
func (d *MemoryDriver) FailNextProgram() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.failProgram = true
}

// Stats returns a snapshot of the operation counters.
func (d *MemoryDriver) Stats() DriverStats {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.stats
}

// Bytes returns a copy of the whole flash contents.
func (d *MemoryDriver) Bytes() []byte {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	out := make([]byte, len(d.mem))
	copy(out, d.mem)
	return out
}

// ErasePage erases the page at addr.
func (d *MemoryDriver) ErasePage(addr uint32) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	off, err := d.pageOffset(addr)
	if err != nil {
		return err
	}

	if err := d.wait(); err != nil {
		return operationError("erase", addr, err)
	}

	if d.failErase {
		d.failErase = false
		return operationError("erase", addr, fmt.Errorf("write protection error"))
	}

	page := d.mem[off : off+d.pageSize]
	for i := range page {
		page[i] = ErasedByte
	}
	d.stats.Erases++

	pkg.LogDebug(pkg.ComponentFlash, "page erased", pkg.Addr("addr", addr))
	return nil
}

// ProgramPage programs data at the start of the page at addr.
func (d *MemoryDriver) ProgramPage(addr uint32, data []byte) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	off, err := d.pageOffset(addr)
	if err != nil {
		return err
	}
	if uint32(len(data)) > d.pageSize {
		return fmt.Errorf("%w: program %d bytes into %d-byte page",
			pkg.ErrConfiguration, len(data), d.pageSize)
	}

	cur := d.mem[off : off+uint32(len(data))]
	if !checkErased(cur, data) {
		return operationError("program", addr, pkg.ErrNotErased)
	}

	if err := d.wait(); err != nil {
		return operationError("program", addr, err)
	}

	if d.failProgram {
		d.failProgram = false
		return operationError("program", addr, fmt.Errorf("programming error"))
	}

	copy(cur, data)
	d.stats.Programs++

	pkg.LogDebug(pkg.ComponentFlash, "page programmed", pkg.Addr("addr", addr), "len", len(data))
	return nil
}

// Read copies flash contents into buf.
func (d *MemoryDriver) Read(addr uint32, buf []byte) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if addr < d.base || uint64(addr-d.base)+uint64(len(buf)) > uint64(len(d.mem)) {
		return fmt.Errorf("%w: read 0x%08X+%d outside flash", pkg.ErrConfiguration, addr, len(buf))
	}

	copy(buf, d.mem[addr-d.base:])
	d.stats.Reads++
	return nil
}

// pageOffset validates a page address and returns its offset into mem.
func (d *MemoryDriver) pageOffset(addr uint32) (uint32, error) {
	if addr < d.base || addr%d.pageSize != 0 {
		return 0, fmt.Errorf("%w: invalid page address 0x%08X", pkg.ErrConfiguration, addr)
	}
	off := addr - d.base
	if uint64(off)+uint64(d.pageSize) > uint64(len(d.mem)) {
		return 0, fmt.Errorf("%w: page 0x%08X outside flash", pkg.ErrConfiguration, addr)
	}
	return off, nil
}

// wait spins on the simulated busy flag.
func (d *MemoryDriver) wait() error {
	remaining := d.latency
	cycles, err := WaitReady(func() bool {
		if d.stuck {
			return true
		}
		if remaining > 0 {
			remaining--
			return true
		}
		return false
	}, d.maxCycles)
	d.stats.BusyCycles += uint64(cycles)
	return err
}

// Compile-time interface check
var _ Driver = (*MemoryDriver)(nil)
