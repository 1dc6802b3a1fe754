package msc

import (
	"context"
	"io"

	"github.com/ardnew/ghostfat/pkg"
)

// writeCacher is implemented by storage that buffers writes.
type writeCacher interface {
	HasWriteCache() bool
}

// handleSCSICommand processes the command in cbw.
// Returns command status and data residue.
func (m *MSC) handleSCSICommand(ctx context.Context, cbw *CommandBlockWrapper) (status uint8, residue uint32) {
	opcode := cbw.Opcode()

	pkg.LogDebug(pkg.ComponentSCSI, "SCSI command",
		"opcode", opcode,
		"lun", cbw.LUN)

	m.mutex.RLock()
	maxLUN := m.maxLUN
	m.mutex.RUnlock()
	if cbw.LUN > maxLUN {
		m.setSense(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
		return CSWStatusFailed, cbw.DataTransferLength
	}

	switch opcode {
	case SCSITestUnitReady:
		return m.handleTestUnitReady(cbw)

	case SCSIRequestSense:
		return m.handleRequestSense(ctx, cbw)

	case SCSIInquiry:
		return m.handleInquiry(ctx, cbw)

	case SCSIReadCapacity10:
		return m.handleReadCapacity10(ctx, cbw)

	case SCSIRead10:
		return m.handleRead(ctx, cbw, uint64(parseU32BE(cbw.CB[:], 2)), uint32(parseU16BE(cbw.CB[:], 7)))

	case SCSIRead16:
		return m.handleRead(ctx, cbw, parseU64BE(cbw.CB[:], 2), parseU32BE(cbw.CB[:], 10))

	case SCSIWrite10:
		return m.handleWrite(ctx, cbw, uint64(parseU32BE(cbw.CB[:], 2)), uint32(parseU16BE(cbw.CB[:], 7)))

	case SCSIWrite16:
		return m.handleWrite(ctx, cbw, parseU64BE(cbw.CB[:], 2), parseU32BE(cbw.CB[:], 10))

	case SCSIModeSense6:
		return m.handleModeSense(ctx, cbw, false)

	case SCSIModeSense10:
		return m.handleModeSense(ctx, cbw, true)

	case SCSIPreventAllowRemoval:
		return m.handlePreventAllowRemoval(cbw)

	case SCSIStartStopUnit:
		return m.handleStartStopUnit(cbw)

	case SCSISynchronizeCache10:
		return m.handleSynchronizeCache10(cbw)

	case SCSIVerify10:
		return m.handleVerify10(cbw)

	case SCSIReadFormatCapacities:
		return m.handleReadFormatCapacities(ctx, cbw)

	case SCSIServiceActionIn16:
		if cbw.CB[1]&0x1F == ServiceActionReadCapacity16 {
			return m.handleReadCapacity16(ctx, cbw)
		}
		fallthrough

	default:
		pkg.LogWarn(pkg.ComponentSCSI, "unsupported SCSI command",
			"opcode", opcode)
		m.setSense(SenseIllegalRequest, ASCInvalidCommand, 0)
		return CSWStatusFailed, cbw.DataTransferLength
	}
}

// requirePresent sets NOT READY sense if the medium is absent.
func (m *MSC) requirePresent() bool {
	if m.storage.IsPresent() {
		return true
	}
	m.setSense(SenseNotReady, ASCMediumNotPresent, 0)
	return false
}

// failWith records sense data for err and fails the command.
func (m *MSC) failWith(cbw *CommandBlockWrapper, err error, write bool, residue uint32) (uint8, uint32) {
	key, asc := senseForError(err, write)
	pkg.LogWarn(pkg.ComponentSCSI, "command failed",
		"opcode", cbw.Opcode(),
		"kind", pkg.KindOf(err),
		"error", err)
	m.setSense(key, asc, 0)
	return CSWStatusFailed, residue
}

// respond sends at most alloc bytes of data in the data-in phase.
func (m *MSC) respond(ctx context.Context, cbw *CommandBlockWrapper, data []byte, alloc int) (uint8, uint32) {
	n := min(len(data), alloc, int(cbw.DataTransferLength))
	if n == 0 {
		m.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
		return CSWStatusGood, cbw.DataTransferLength
	}
	if !cbw.IsDataIn() {
		return CSWStatusPhaseError, cbw.DataTransferLength
	}
	if err := m.sendData(ctx, data[:n]); err != nil {
		m.setSense(SenseHardwareError, ASCNoAdditionalInfo, 0)
		return CSWStatusFailed, cbw.DataTransferLength
	}
	return CSWStatusGood, cbw.DataTransferLength - uint32(n)
}

func (m *MSC) handleTestUnitReady(cbw *CommandBlockWrapper) (uint8, uint32) {
	if !m.requirePresent() {
		return CSWStatusFailed, cbw.DataTransferLength
	}
	m.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
	return CSWStatusGood, cbw.DataTransferLength
}

// handleRequestSense returns and then clears the pending sense data.
func (m *MSC) handleRequestSense(ctx context.Context, cbw *CommandBlockWrapper) (uint8, uint32) {
	sense := m.Sense()
	n := sense.MarshalTo(m.senseBuf[:])

	status, residue := m.respond(ctx, cbw, m.senseBuf[:n], int(cbw.CB[4]))
	if status == CSWStatusGood {
		m.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
	}
	return status, residue
}

func (m *MSC) handleInquiry(ctx context.Context, cbw *CommandBlockWrapper) (uint8, uint32) {
	if cbw.CB[1]&0x01 != 0 {
		// Vital product data pages are not provided.
		m.setSense(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
		return CSWStatusFailed, cbw.DataTransferLength
	}
	n := m.inquiry.MarshalTo(m.dataBuf[:])
	return m.respond(ctx, cbw, m.dataBuf[:n], int(parseU16BE(cbw.CB[:], 3)))
}

func (m *MSC) handleReadCapacity10(ctx context.Context, cbw *CommandBlockWrapper) (uint8, uint32) {
	if !m.requirePresent() {
		return CSWStatusFailed, cbw.DataTransferLength
	}

	resp := ReadCapacity10Response{
		LastLBA:     0xFFFFFFFF,
		BlockLength: m.storage.BlockSize(),
	}
	if count := m.storage.BlockCount(); count <= 0xFFFFFFFF {
		resp.LastLBA = uint32(count - 1)
	}
	n := resp.MarshalTo(m.dataBuf[:])
	return m.respond(ctx, cbw, m.dataBuf[:n], n)
}

func (m *MSC) handleReadCapacity16(ctx context.Context, cbw *CommandBlockWrapper) (uint8, uint32) {
	if !m.requirePresent() {
		return CSWStatusFailed, cbw.DataTransferLength
	}

	resp := ReadCapacity16Response{
		LastLBA:     m.storage.BlockCount() - 1,
		BlockLength: m.storage.BlockSize(),
	}
	n := resp.MarshalTo(m.dataBuf[:])
	return m.respond(ctx, cbw, m.dataBuf[:n], int(parseU32BE(cbw.CB[:], 10)))
}

// checkTransfer validates a READ or WRITE request against the medium and
// the host's expected data phase.
func (m *MSC) checkTransfer(cbw *CommandBlockWrapper, lba uint64, blocks uint32, dataIn bool) (uint8, bool) {
	if !m.requirePresent() {
		return CSWStatusFailed, false
	}
	if lba+uint64(blocks) > m.storage.BlockCount() || lba+uint64(blocks) < lba {
		m.setSense(SenseIllegalRequest, ASCLBAOutOfRange, 0)
		return CSWStatusFailed, false
	}
	length := uint64(blocks) * uint64(m.storage.BlockSize())
	if length > uint64(cbw.DataTransferLength) || (length > 0 && cbw.IsDataIn() != dataIn) {
		pkg.LogWarn(pkg.ComponentSCSI, "data phase mismatch",
			"opcode", cbw.Opcode(),
			"expected", cbw.DataTransferLength,
			"length", length)
		return CSWStatusPhaseError, false
	}
	return CSWStatusGood, true
}

// handleRead services READ (10) and READ (16), streaming the request in
// chunks of at most MaxTransferSize bytes.
func (m *MSC) handleRead(ctx context.Context, cbw *CommandBlockWrapper, lba uint64, blocks uint32) (uint8, uint32) {
	if status, ok := m.checkTransfer(cbw, lba, blocks, true); !ok {
		return status, cbw.DataTransferLength
	}

	pkg.LogDebug(pkg.ComponentSCSI, "READ",
		"lba", lba,
		"blocks", blocks)

	blockSize := m.storage.BlockSize()
	chunk := uint32(MaxTransferSize) / blockSize
	var sent uint32
	for blocks > 0 {
		n := min(blocks, chunk)
		got, err := m.storage.Read(lba, n, m.dataBuf[:n*blockSize])
		if err != nil {
			return m.failWith(cbw, err, false, cbw.DataTransferLength-sent)
		}
		if err := m.sendData(ctx, m.dataBuf[:got*blockSize]); err != nil {
			m.setSense(SenseHardwareError, ASCNoAdditionalInfo, 0)
			return CSWStatusFailed, cbw.DataTransferLength - sent
		}
		sent += got * blockSize
		lba += uint64(got)
		blocks -= got
	}

	m.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
	return CSWStatusGood, cbw.DataTransferLength - sent
}

// handleWrite services WRITE (10) and WRITE (16). After a storage failure
// the rest of the data phase is drained so the next CBW stays aligned.
func (m *MSC) handleWrite(ctx context.Context, cbw *CommandBlockWrapper, lba uint64, blocks uint32) (uint8, uint32) {
	if status, ok := m.checkTransfer(cbw, lba, blocks, false); !ok {
		return status, cbw.DataTransferLength
	}
	if m.storage.IsReadOnly() {
		m.setSense(SenseDataProtect, ASCWriteProtected, 0)
		return CSWStatusFailed, cbw.DataTransferLength
	}

	pkg.LogDebug(pkg.ComponentSCSI, "WRITE",
		"lba", lba,
		"blocks", blocks)

	blockSize := m.storage.BlockSize()
	chunk := uint32(MaxTransferSize) / blockSize
	var (
		received uint32
		failure  error
	)
	for blocks > 0 {
		n := min(blocks, chunk)
		buf := m.dataBuf[:n*blockSize]
		if err := m.receiveData(ctx, buf); err != nil {
			m.setSense(SenseHardwareError, ASCNoAdditionalInfo, 0)
			return CSWStatusFailed, cbw.DataTransferLength - received
		}
		received += n * blockSize
		if failure == nil {
			if _, err := m.storage.Write(lba, n, buf); err != nil {
				failure = err
			}
		}
		lba += uint64(n)
		blocks -= n
	}

	if failure != nil {
		return m.failWith(cbw, failure, true, cbw.DataTransferLength-received)
	}
	m.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
	return CSWStatusGood, cbw.DataTransferLength - received
}

func (m *MSC) handleModeSense(ctx context.Context, cbw *CommandBlockWrapper, ten bool) (uint8, uint32) {
	page := cbw.CB[2] & 0x3F
	params := ModeParameters{WriteProtect: m.storage.IsReadOnly()}
	if c, ok := m.storage.(writeCacher); ok {
		params.WriteCache = c.HasWriteCache()
	}

	if ten {
		n := params.MarshalSense10(page, m.dataBuf[:])
		return m.respond(ctx, cbw, m.dataBuf[:n], int(parseU16BE(cbw.CB[:], 7)))
	}
	n := params.MarshalSense6(page, m.dataBuf[:])
	return m.respond(ctx, cbw, m.dataBuf[:n], int(cbw.CB[4]))
}

func (m *MSC) handlePreventAllowRemoval(cbw *CommandBlockWrapper) (uint8, uint32) {
	pkg.LogDebug(pkg.ComponentSCSI, "PREVENT/ALLOW MEDIUM REMOVAL",
		"prevent", cbw.CB[4]&0x01)
	m.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
	return CSWStatusGood, cbw.DataTransferLength
}

// handleStartStopUnit commits pending writes on stop and ejects the medium
// when LOEJ is set.
func (m *MSC) handleStartStopUnit(cbw *CommandBlockWrapper) (uint8, uint32) {
	start := cbw.CB[4]&0x01 != 0
	loej := cbw.CB[4]&0x02 != 0

	pkg.LogDebug(pkg.ComponentSCSI, "START/STOP UNIT",
		"start", start,
		"loej", loej)

	if !start {
		var err error
		if loej && m.storage.IsRemovable() {
			err = m.storage.Eject()
		} else {
			err = m.storage.Sync()
		}
		if err != nil {
			return m.failWith(cbw, err, true, cbw.DataTransferLength)
		}
	}

	m.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
	return CSWStatusGood, cbw.DataTransferLength
}

func (m *MSC) handleSynchronizeCache10(cbw *CommandBlockWrapper) (uint8, uint32) {
	if err := m.storage.Sync(); err != nil {
		return m.failWith(cbw, err, true, cbw.DataTransferLength)
	}
	m.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
	return CSWStatusGood, cbw.DataTransferLength
}

// handleVerify10 checks the range only; the medium is not reread.
func (m *MSC) handleVerify10(cbw *CommandBlockWrapper) (uint8, uint32) {
	if !m.requirePresent() {
		return CSWStatusFailed, cbw.DataTransferLength
	}
	lba := uint64(parseU32BE(cbw.CB[:], 2))
	blocks := uint64(parseU16BE(cbw.CB[:], 7))
	if lba+blocks > m.storage.BlockCount() {
		m.setSense(SenseIllegalRequest, ASCLBAOutOfRange, 0)
		return CSWStatusFailed, cbw.DataTransferLength
	}
	m.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
	return CSWStatusGood, cbw.DataTransferLength
}

func (m *MSC) handleReadFormatCapacities(ctx context.Context, cbw *CommandBlockWrapper) (uint8, uint32) {
	capacity := FormatCapacity{
		BlockCount:  uint32(min(m.storage.BlockCount(), 0xFFFFFFFF)),
		BlockLength: m.storage.BlockSize(),
		Present:     m.storage.IsPresent(),
	}
	n := capacity.MarshalTo(m.dataBuf[:])
	return m.respond(ctx, cbw, m.dataBuf[:n], int(parseU16BE(cbw.CB[:], 7)))
}

// sendData sends one data-in transfer.
func (m *MSC) sendData(ctx context.Context, data []byte) error {
	t := m.currentTransport()
	if t == nil {
		return pkg.ErrNotConfigured
	}
	_, err := t.Write(ctx, data)
	return err
}

// receiveData fills buf from data-out transfers.
func (m *MSC) receiveData(ctx context.Context, buf []byte) error {
	t := m.currentTransport()
	if t == nil {
		return pkg.ErrNotConfigured
	}

	total := 0
	for total < len(buf) {
		n, err := t.Read(ctx, buf[total:])
		total += n
		if err != nil {
			if err == io.EOF && total == len(buf) {
				break
			}
			return err
		}
		if n == 0 {
			return io.ErrUnexpectedEOF
		}
	}
	return nil
}
