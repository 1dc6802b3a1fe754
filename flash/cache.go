package flash

import (
	"errors"
	"fmt"

	"github.com/ardnew/ghostfat/pkg"
)

// CacheState is the state of a PageCache.
type CacheState int

// Cache states.
const (
	CacheEmpty CacheState = iota // No page loaded
	CacheClean                   // Page loaded and identical to flash
	CacheDirty                   // Page loaded and ahead of flash
)

// String returns a string representation of the cache state.
func (s CacheState) String() string {
	switch s {
	case CacheEmpty:
		return "empty"
	case CacheClean:
		return "clean"
	case CacheDirty:
		return "dirty"
	default:
		return "unknown"
	}
}

// CacheStats counts page cache activity.
type CacheStats struct {
	Loads    uint64 // Pages read into the buffer
	Flushes  uint64 // Pages erased and programmed
	Hits     uint64 // Reads served from the buffer
	Failures uint64 // Failed flushes or loads
}

// PageCache buffers writes to a single flash page.
//
// PageCache is not safe for concurrent use; the owner serializes access.
type PageCache struct {
	driver Driver
	geo    Geometry

	// Page buffer (zero-allocation pattern)
	buf [MaxPageSize]byte

	page  uint32 // address of the buffered page
	valid bool   // buf mirrors page
	dirty bool   // buf is ahead of flash

	stats CacheStats
}

// NewPageCache creates an empty cache over driver for the writable window
// described by geo.
func NewPageCache(driver Driver, geo Geometry) (*PageCache, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	if driver.PageSize() != geo.PageSize {
		return nil, fmt.Errorf("%w: driver page size %d, geometry page size %d",
			pkg.ErrConfiguration, driver.PageSize(), geo.PageSize)
	}
	return &PageCache{driver: driver, geo: geo}, nil
}

// Geometry returns the cache geometry.
func (c *PageCache) Geometry() Geometry {
	return c.geo
}

// State returns the current cache state.
func (c *PageCache) State() CacheState {
	switch {
	case c.dirty:
		return CacheDirty
	case c.valid:
		return CacheClean
	default:
		return CacheEmpty
	}
}

// Page returns the address of the buffered page and whether one is loaded.
func (c *PageCache) Page() (uint32, bool) {
	return c.page, c.valid
}

// Dirty reports whether the buffer holds uncommitted writes.
func (c *PageCache) Dirty() bool {
	return c.dirty
}

// Stats returns a snapshot of the cache counters.
func (c *PageCache) Stats() CacheStats {
	return c.stats
}

// StageWrite overlays data onto the flash contents starting at addr.
// Pages are loaded before they are modified; moving to another page first
// commits the dirty page. The whole span must lie inside the writable
// window.
func (c *PageCache) StageWrite(addr uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if !c.geo.Contains(addr, len(data)) {
		pkg.LogError(pkg.ComponentCache, "write outside writable window",
			pkg.Addr("addr", addr),
			"len", len(data),
			pkg.Addr("min", c.geo.MinAddress),
			pkg.Addr("max", c.geo.MaxAddress))
		return fmt.Errorf("%w: write 0x%08X+%d outside [0x%08X, 0x%08X)",
			pkg.ErrConfiguration, addr, len(data), c.geo.MinAddress, c.geo.MaxAddress)
	}

	for len(data) > 0 {
		page := c.geo.PageOf(addr)
		if err := c.load(page); err != nil {
			return err
		}

		off := addr - page
		n := copy(c.buf[off:c.geo.PageSize], data)
		c.dirty = true

		data = data[n:]
		addr += uint32(n)
	}

	return nil
}

// Read copies the current contents at addr into buf, including staged
// writes that have not been flushed yet.
func (c *PageCache) Read(addr uint32, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if !c.geo.Contains(addr, len(buf)) {
		return fmt.Errorf("%w: read 0x%08X+%d outside [0x%08X, 0x%08X)",
			pkg.ErrConfiguration, addr, len(buf), c.geo.MinAddress, c.geo.MaxAddress)
	}

	for len(buf) > 0 {
		page := c.geo.PageOf(addr)
		off := addr - page
		n := int(c.geo.PageSize - off)
		if n > len(buf) {
			n = len(buf)
		}

		switch {
		case c.valid && c.page == page:
			copy(buf[:n], c.buf[off:])
			c.stats.Hits++

		case c.dirty:
			// Keep the dirty page; read around it.
			if err := c.driver.Read(addr, buf[:n]); err != nil {
				return fmt.Errorf("read 0x%08X: %w", addr, err)
			}

		default:
			if err := c.load(page); err != nil {
				return err
			}
			copy(buf[:n], c.buf[off:])
		}

		buf = buf[n:]
		addr += uint32(n)
	}

	return nil
}

// Flush commits the dirty page to flash. It is a no-op when the cache is
// not dirty. A failed erase or program invalidates the cache.
func (c *PageCache) Flush() error {
	if !c.dirty {
		return nil
	}

	page := c.page
	if err := c.driver.ErasePage(page); err != nil {
		return c.fail("erase", page, err)
	}
	if err := c.driver.ProgramPage(page, c.buf[:c.geo.PageSize]); err != nil {
		return c.fail("program", page, err)
	}

	c.dirty = false
	c.stats.Flushes++

	pkg.LogDebug(pkg.ComponentCache, "page flushed", pkg.Addr("page", page))
	return nil
}

// Invalidate drops the buffered page, discarding any staged writes.
func (c *PageCache) Invalidate() {
	if c.dirty {
		pkg.LogWarn(pkg.ComponentCache, "discarding dirty page", pkg.Addr("page", c.page))
	}
	c.valid = false
	c.dirty = false
}

// load makes page the buffered page, committing the previous page if it
// is dirty.
func (c *PageCache) load(page uint32) error {
	if c.valid && c.page == page {
		return nil
	}

	if c.dirty {
		pkg.LogDebug(pkg.ComponentCache, "page switch",
			pkg.Addr("from", c.page),
			pkg.Addr("to", page))
		if err := c.Flush(); err != nil {
			return err
		}
	}

	if err := c.driver.Read(page, c.buf[:c.geo.PageSize]); err != nil {
		c.valid = false
		c.stats.Failures++
		return fmt.Errorf("load page 0x%08X: %w", page, err)
	}

	c.page = page
	c.valid = true
	c.dirty = false
	c.stats.Loads++
	return nil
}

// fail invalidates the cache after a failed flush of page.
func (c *PageCache) fail(op string, page uint32, err error) error {
	c.stats.Failures++
	pkg.LogError(pkg.ComponentCache, "flush failed",
		"op", op,
		pkg.Addr("page", page),
		"error", err)
	c.Invalidate()
	if !errors.Is(err, pkg.ErrFlashOperationFailed) {
		err = fmt.Errorf("%w: %s: %w", pkg.ErrFlashOperationFailed, op, err)
	}
	return fmt.Errorf("flush page 0x%08X: %w", page, err)
}
