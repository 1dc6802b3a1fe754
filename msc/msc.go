package msc

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"github.com/ardnew/ghostfat/pkg"
)

// Transport moves bulk data between host and device. Read returns one
// OUT transfer; Write sends one IN transfer.
type Transport interface {
	Read(ctx context.Context, buf []byte) (int, error)
	Write(ctx context.Context, buf []byte) (int, error)
}

// MSC is a Bulk-Only Transport mass storage function.
type MSC struct {
	transport Transport
	storage   Storage
	inquiry   InquiryResponse
	maxLUN    uint8

	currentCBW CommandBlockWrapper
	sense      SenseData

	// Buffers (zero-allocation pattern)
	cbwBuf   [CBWSize]byte
	cswBuf   [CSWSize]byte
	dataBuf  [MaxTransferSize]byte
	senseBuf [SenseDataSize]byte

	mutex sync.RWMutex
}

// New creates a mass storage function serving storage.
// vendorID and productID are at most 8 and 16 characters.
func New(storage Storage, vendorID, productID string) *MSC {
	m := &MSC{storage: storage}
	m.inquiry = *NewInquiryResponse(DeviceTypeDisk, storage.IsRemovable(), vendorID, productID, "1.0")
	m.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
	return m
}

// SetTransport attaches the bulk pipes. A nil transport detaches them.
func (m *MSC) SetTransport(t Transport) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.transport = t
}

// SetMaxLUN sets the maximum Logical Unit Number (0-15).
func (m *MSC) SetMaxLUN(lun uint8) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if lun <= 15 {
		m.maxLUN = lun
	}
}

// Sense returns the pending sense data.
func (m *MSC) Sense() SenseData {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.sense
}

// HandleClassRequest services a class-specific control request addressed
// to the mass storage interface. It returns false for requests it does not
// recognize so the caller can stall the control pipe.
func (m *MSC) HandleClassRequest(request uint8, data []byte) (bool, error) {
	switch request {
	case RequestBulkOnlyMassStorageReset:
		pkg.LogDebug(pkg.ComponentSCSI, "bulk-only reset")
		m.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
		return true, nil

	case RequestGetMaxLUN:
		if len(data) < 1 {
			return false, pkg.ErrBufferTooSmall
		}
		m.mutex.RLock()
		data[0] = m.maxLUN
		m.mutex.RUnlock()
		pkg.LogDebug(pkg.ComponentSCSI, "get max LUN", "maxLUN", data[0])
		return true, nil

	default:
		return false, nil
	}
}

// Close detaches the transport and commits pending storage writes.
func (m *MSC) Close() error {
	m.SetTransport(nil)
	return m.storage.Sync()
}

// Run is the main processing loop. It reads CBWs, processes SCSI commands,
// and sends CSWs until ctx is cancelled or the transport reports io.EOF.
func (m *MSC) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := m.processCBW(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, pkg.ErrNotConfigured) {
				return err
			}
			pkg.LogWarn(pkg.ComponentSCSI, "CBW processing error", "error", err)
		}
	}
}

// processCBW services one command.
func (m *MSC) processCBW(ctx context.Context) error {
	t := m.currentTransport()
	if t == nil {
		return pkg.ErrNotConfigured
	}

	n, err := t.Read(ctx, m.cbwBuf[:])
	if err != nil {
		return err
	}
	if !ParseCBW(m.cbwBuf[:n], &m.currentCBW) {
		pkg.LogWarn(pkg.ComponentSCSI, "invalid CBW", "len", n)
		return pkg.ErrInvalidRequest
	}

	cbw := &m.currentCBW
	pkg.LogDebug(pkg.ComponentSCSI, "CBW received",
		"tag", cbw.Tag,
		"dataLen", cbw.DataTransferLength,
		"flags", cbw.Flags,
		"lun", cbw.LUN,
		"opcode", cbw.Opcode())

	status, residue := m.handleSCSICommand(ctx, cbw)
	return m.sendCSW(ctx, cbw.Tag, status, residue)
}

// sendCSW sends a Command Status Wrapper.
func (m *MSC) sendCSW(ctx context.Context, tag uint32, status uint8, residue uint32) error {
	t := m.currentTransport()
	if t == nil {
		return pkg.ErrNotConfigured
	}

	csw := NewCSW(tag, residue, status)
	n := csw.MarshalTo(m.cswBuf[:])
	if _, err := t.Write(ctx, m.cswBuf[:n]); err != nil {
		return err
	}

	pkg.LogDebug(pkg.ComponentSCSI, "CSW sent",
		"tag", tag,
		"residue", residue,
		"status", status)
	return nil
}

func (m *MSC) currentTransport() Transport {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.transport
}

// setSense sets sense data for the next REQUEST SENSE command.
func (m *MSC) setSense(key, asc, ascq uint8) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sense = SenseData{Key: key, ASC: asc, ASCQ: ascq}
}

func parseU16BE(data []byte, offset int) uint16 {
	if offset+2 > len(data) {
		return 0
	}
	return binary.BigEndian.Uint16(data[offset:])
}

func parseU32BE(data []byte, offset int) uint32 {
	if offset+4 > len(data) {
		return 0
	}
	return binary.BigEndian.Uint32(data[offset:])
}

func parseU64BE(data []byte, offset int) uint64 {
	if offset+8 > len(data) {
		return 0
	}
	return binary.BigEndian.Uint64(data[offset:])
}
