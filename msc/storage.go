package msc

import (
	"fmt"
	"sync"

	"github.com/ardnew/ghostfat/pkg"
)

// Storage is a block device served by the command layer.
type Storage interface {
	// BlockSize returns the size of a storage block in bytes.
	BlockSize() uint32

	// BlockCount returns the total number of blocks.
	BlockCount() uint64

	// Read reads blocks starting at lba into buf and returns the number
	// of blocks read.
	Read(lba uint64, blocks uint32, buf []byte) (uint32, error)

	// Write writes blocks from buf starting at lba and returns the number
	// of blocks written.
	Write(lba uint64, blocks uint32, buf []byte) (uint32, error)

	// Sync commits any cached writes.
	Sync() error

	// IsReadOnly returns true if storage is read-only.
	IsReadOnly() bool

	// IsRemovable returns true if media is removable.
	IsRemovable() bool

	// IsPresent returns true if media is present.
	IsPresent() bool

	// Eject commits cached writes and unloads removable media.
	Eject() error
}

// MemoryStorage is a RAM disk used to exercise the command layer without
// flash behind it.
type MemoryStorage struct {
	data      []byte
	blockSize uint32
	flags     mediumFlags
	mutex     sync.RWMutex
}

// mediumFlags are the reported medium properties of a MemoryStorage.
type mediumFlags uint8

const (
	mediumReadOnly mediumFlags = 1 << iota
	mediumRemovable
	mediumAbsent
)

// NewMemoryStorage creates a RAM disk of size bytes. size is truncated to
// a whole number of blocks.
func NewMemoryStorage(size uint64, blockSize uint32) *MemoryStorage {
	return &MemoryStorage{
		data:      make([]byte, size-size%uint64(blockSize)),
		blockSize: blockSize,
	}
}

// BlockSize returns the block size.
func (m *MemoryStorage) BlockSize() uint32 { return m.blockSize }

// BlockCount returns the number of blocks.
func (m *MemoryStorage) BlockCount() uint64 {
	return uint64(len(m.data)) / uint64(m.blockSize)
}

// Bytes returns the disk contents. The slice aliases the disk.
func (m *MemoryStorage) Bytes() []byte { return m.data }

// Read copies blocks starting at lba into buf.
func (m *MemoryStorage) Read(lba uint64, blocks uint32, buf []byte) (uint32, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.transfer(lba, blocks, buf, false)
}

// Write copies blocks from buf to the disk starting at lba.
func (m *MemoryStorage) Write(lba uint64, blocks uint32, buf []byte) (uint32, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.flags&mediumReadOnly != 0 {
		return 0, pkg.ErrReadOnly
	}
	return m.transfer(lba, blocks, buf, true)
}

func (m *MemoryStorage) transfer(lba uint64, blocks uint32, buf []byte, write bool) (uint32, error) {
	if m.flags&mediumAbsent != 0 {
		return 0, pkg.ErrNotConfigured
	}
	if end := lba + uint64(blocks); end > m.BlockCount() || end < lba {
		return 0, fmt.Errorf("%w: lba %d+%d", pkg.ErrOutOfRange, lba, blocks)
	}
	n := uint64(blocks) * uint64(m.blockSize)
	if uint64(len(buf)) < n {
		return 0, pkg.ErrBufferTooSmall
	}
	disk := m.data[lba*uint64(m.blockSize):][:n]
	if write {
		copy(disk, buf)
	} else {
		copy(buf, disk)
	}
	return blocks, nil
}

// Sync has nothing to commit.
func (m *MemoryStorage) Sync() error { return nil }

func (m *MemoryStorage) has(f mediumFlags) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.flags&f != 0
}

func (m *MemoryStorage) set(f mediumFlags, on bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if on {
		m.flags |= f
	} else {
		m.flags &^= f
	}
}

// IsReadOnly reports whether writes are refused.
func (m *MemoryStorage) IsReadOnly() bool { return m.has(mediumReadOnly) }

// IsRemovable reports whether the medium can be ejected.
func (m *MemoryStorage) IsRemovable() bool { return m.has(mediumRemovable) }

// IsPresent reports whether the medium is loaded.
func (m *MemoryStorage) IsPresent() bool { return !m.has(mediumAbsent) }

// SetReadOnly sets whether writes are refused.
func (m *MemoryStorage) SetReadOnly(readOnly bool) { m.set(mediumReadOnly, readOnly) }

// SetRemovable sets whether the medium can be ejected.
func (m *MemoryStorage) SetRemovable(removable bool) { m.set(mediumRemovable, removable) }

// SetPresent loads or unloads the medium.
func (m *MemoryStorage) SetPresent(present bool) { m.set(mediumAbsent, !present) }

// Eject unloads a removable medium.
func (m *MemoryStorage) Eject() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.flags&mediumRemovable == 0 {
		return pkg.ErrNotSupported
	}
	m.flags |= mediumAbsent
	return nil
}

var _ Storage = (*MemoryStorage)(nil)
