package msc

import "encoding/binary"

// CommandBlockWrapper carries one SCSI command from the host.
type CommandBlockWrapper struct {
	Signature          uint32
	Tag                uint32 // Echoed in the CSW
	DataTransferLength uint32 // Bytes the host expects in the data phase
	Flags              uint8  // Bit 7 set for device-to-host
	LUN                uint8
	CBLength           uint8
	CB                 [CBWMaxCBLength]byte
}

// ParseCBW decodes a Command Block Wrapper. It reports false if data is
// not exactly one CBW, the signature is wrong, or the command block
// length is outside 1..16.
func ParseCBW(data []byte, out *CommandBlockWrapper) bool {
	if len(data) != CBWSize {
		return false
	}

	out.Signature = binary.LittleEndian.Uint32(data[0:4])
	if out.Signature != CBWSignature {
		return false
	}

	out.Tag = binary.LittleEndian.Uint32(data[4:8])
	out.DataTransferLength = binary.LittleEndian.Uint32(data[8:12])
	out.Flags = data[12]
	out.LUN = data[13] & 0x0F
	out.CBLength = data[14] & 0x1F
	copy(out.CB[:], data[15:31])

	return out.CBLength >= 1 && out.CBLength <= CBWMaxCBLength
}

// MarshalTo encodes the wrapper into buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (cbw *CommandBlockWrapper) MarshalTo(buf []byte) int {
	if len(buf) < CBWSize {
		return 0
	}

	binary.LittleEndian.PutUint32(buf[0:4], CBWSignature)
	binary.LittleEndian.PutUint32(buf[4:8], cbw.Tag)
	binary.LittleEndian.PutUint32(buf[8:12], cbw.DataTransferLength)
	buf[12] = cbw.Flags
	buf[13] = cbw.LUN & 0x0F
	buf[14] = cbw.CBLength & 0x1F
	copy(buf[15:31], cbw.CB[:])

	return CBWSize
}

// Opcode returns the SCSI operation code.
func (cbw *CommandBlockWrapper) Opcode() uint8 {
	return cbw.CB[0]
}

// IsDataIn returns true if the data phase is device-to-host (IN).
func (cbw *CommandBlockWrapper) IsDataIn() bool {
	return cbw.Flags&CBWFlagDataIn != 0
}

// IsDataOut returns true if the data phase is host-to-device (OUT).
func (cbw *CommandBlockWrapper) IsDataOut() bool {
	return cbw.Flags&CBWFlagDataIn == 0 && cbw.DataTransferLength > 0
}

// CommandStatusWrapper reports the outcome of one command.
type CommandStatusWrapper struct {
	Signature   uint32
	Tag         uint32 // Tag of the CBW being answered
	DataResidue uint32 // Expected minus transferred bytes
	Status      uint8
}

// MarshalTo writes the Command Status Wrapper to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (csw *CommandStatusWrapper) MarshalTo(buf []byte) int {
	if len(buf) < CSWSize {
		return 0
	}

	binary.LittleEndian.PutUint32(buf[0:4], csw.Signature)
	binary.LittleEndian.PutUint32(buf[4:8], csw.Tag)
	binary.LittleEndian.PutUint32(buf[8:12], csw.DataResidue)
	buf[12] = csw.Status

	return CSWSize
}

// ParseCSW decodes a Command Status Wrapper.
func ParseCSW(data []byte, out *CommandStatusWrapper) bool {
	if len(data) != CSWSize {
		return false
	}
	out.Signature = binary.LittleEndian.Uint32(data[0:4])
	out.Tag = binary.LittleEndian.Uint32(data[4:8])
	out.DataResidue = binary.LittleEndian.Uint32(data[8:12])
	out.Status = data[12]
	return out.Signature == CSWSignature
}

// NewCSW creates a new Command Status Wrapper with the given parameters.
func NewCSW(tag uint32, residue uint32, status uint8) *CommandStatusWrapper {
	return &CommandStatusWrapper{
		Signature:   CSWSignature,
		Tag:         tag,
		DataResidue: residue,
		Status:      status,
	}
}
