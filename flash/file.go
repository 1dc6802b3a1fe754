package flash

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ardnew/ghostfat/pkg"
)

// FileDriver implements Driver on top of a flash image file.
// Byte i of the file holds the flash byte at base+i.
type FileDriver struct {
	file     *os.File
	base     uint32
	size     uint32
	pageSize uint32
	scratch  []byte
	mutex    sync.Mutex
}

// OpenFileDriver opens or creates the flash image at path.
// A new or short file is extended with erased bytes up to sizeKiB.
// A pageSize of 0 selects the size implied by the capacity.
func OpenFileDriver(path string, base, sizeKiB, pageSize uint32) (*FileDriver, error) {
	if pageSize == 0 {
		pageSize = PageSizeForCapacity(sizeKiB)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	d := &FileDriver{
		file:     file,
		base:     base,
		size:     sizeKiB * 1024,
		pageSize: pageSize,
		scratch:  make([]byte, pageSize),
	}

	if stat.Size() < int64(d.size) {
		if err := d.fillErased(stat.Size()); err != nil {
			file.Close()
			return nil, err
		}
	}

	pkg.LogDebug(pkg.ComponentFlash, "flash image opened",
		"path", path,
		"sizeKiB", sizeKiB,
		"pageSize", pageSize)

	return d, nil
}

// fillErased writes erased bytes from offset from to the end of the image.
func (d *FileDriver) fillErased(from int64) error {
	erased := make([]byte, d.pageSize)
	for i := range erased {
		erased[i] = ErasedByte
	}
	for off := from; off < int64(d.size); {
		n := int64(len(erased))
		if off+n > int64(d.size) {
			n = int64(d.size) - off
		}
		if _, err := d.file.WriteAt(erased[:n], off); err != nil {
			return err
		}
		off += n
	}
	return nil
}

// PageSize returns the page size.
func (d *FileDriver) PageSize() uint32 {
	return d.pageSize
}

// SizeKiB returns the flash capacity.
func (d *FileDriver) SizeKiB() uint32 {
	return d.size / 1024
}

// Base returns the address of the first byte of flash.
func (d *FileDriver) Base() uint32 {
	return d.base
}

// ErasePage erases the page at addr.
func (d *FileDriver) ErasePage(addr uint32) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	off, err := d.pageOffset(addr)
	if err != nil {
		return err
	}

	for i := range d.scratch {
		d.scratch[i] = ErasedByte
	}
	if _, err := d.file.WriteAt(d.scratch, int64(off)); err != nil {
		return operationError("erase", addr, err)
	}
	return nil
}

// ProgramPage programs data at the start of the page at addr.
func (d *FileDriver) ProgramPage(addr uint32, data []byte) error {
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

	cur := d.scratch[:len(data)]
	if _, err := d.file.ReadAt(cur, int64(off)); err != nil && !errors.Is(err, io.EOF) {
		return operationError("program", addr, err)
	}
	if !checkErased(cur, data) {
		return operationError("program", addr, pkg.ErrNotErased)
	}

	if _, err := d.file.WriteAt(data, int64(off)); err != nil {
		return operationError("program", addr, err)
	}
	return nil
}

// Read copies flash contents into buf.
func (d *FileDriver) Read(addr uint32, buf []byte) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if addr < d.base || uint64(addr-d.base)+uint64(len(buf)) > uint64(d.size) {
		return fmt.Errorf("%w: read 0x%08X+%d outside flash", pkg.ErrConfiguration, addr, len(buf))
	}

	if _, err := d.file.ReadAt(buf, int64(addr-d.base)); err != nil {
		return fmt.Errorf("read 0x%08X: %w", addr, err)
	}
	return nil
}

// Sync commits the image file to disk.
func (d *FileDriver) Sync() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.file == nil {
		return nil
	}
	return d.file.Sync()
}

// Close closes the underlying file.
func (d *FileDriver) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.file != nil {
		err := d.file.Close()
		d.file = nil
		return err
	}
	return nil
}

// pageOffset validates a page address and returns its offset into the file.
func (d *FileDriver) pageOffset(addr uint32) (uint32, error) {
	if addr < d.base || addr%d.pageSize != 0 || uint64(addr-d.base)+uint64(d.pageSize) > uint64(d.size) {
		return 0, fmt.Errorf("%w: invalid page address 0x%08X", pkg.ErrConfiguration, addr)
	}
	return addr - d.base, nil
}

// Compile-time interface check
var _ Driver = (*FileDriver)(nil)
