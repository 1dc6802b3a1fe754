package msc

import (
	"bytes"
	"encoding/binary"
)

// InquiryResponse is standard INQUIRY data.
type InquiryResponse struct {
	DeviceType uint8
	Removable  bool
	VendorID   [8]byte
	ProductID  [16]byte
	ProductRev [4]byte
}

// NewInquiryResponse builds INQUIRY data with space-padded identification
// strings.
func NewInquiryResponse(deviceType uint8, removable bool, vendor, product, revision string) *InquiryResponse {
	resp := &InquiryResponse{DeviceType: deviceType, Removable: removable}
	copy(resp.VendorID[:], padString(vendor, len(resp.VendorID)))
	copy(resp.ProductID[:], padString(product, len(resp.ProductID)))
	copy(resp.ProductRev[:], padString(revision, len(resp.ProductRev)))
	return resp
}

// MarshalTo writes the INQUIRY data to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *InquiryResponse) MarshalTo(buf []byte) int {
	if len(buf) < InquiryStandardSize {
		return 0
	}

	clear(buf[:InquiryStandardSize])
	buf[0] = r.DeviceType
	if r.Removable {
		buf[1] = InquiryRMB
	}
	buf[2] = InquiryVersionSPC4
	buf[3] = InquiryResponseFormatSPC
	buf[4] = InquiryStandardSize - 5
	copy(buf[8:16], r.VendorID[:])
	copy(buf[16:32], r.ProductID[:])
	copy(buf[32:36], r.ProductRev[:])

	return InquiryStandardSize
}

// ReadCapacity10Response is READ CAPACITY (10) data.
type ReadCapacity10Response struct {
	LastLBA     uint32 // 0xFFFFFFFF when the device is larger
	BlockLength uint32
}

// MarshalTo writes the response to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *ReadCapacity10Response) MarshalTo(buf []byte) int {
	if len(buf) < 8 {
		return 0
	}
	binary.BigEndian.PutUint32(buf[0:4], r.LastLBA)
	binary.BigEndian.PutUint32(buf[4:8], r.BlockLength)
	return 8
}

// ReadCapacity16Response is READ CAPACITY (16) data.
type ReadCapacity16Response struct {
	LastLBA     uint64
	BlockLength uint32
}

// MarshalTo writes the response to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *ReadCapacity16Response) MarshalTo(buf []byte) int {
	if len(buf) < 32 {
		return 0
	}
	clear(buf[:32])
	binary.BigEndian.PutUint64(buf[0:8], r.LastLBA)
	binary.BigEndian.PutUint32(buf[8:12], r.BlockLength)
	return 32
}

// SenseData is fixed-format sense data for REQUEST SENSE.
type SenseData struct {
	Key  uint8
	ASC  uint8
	ASCQ uint8
}

// MarshalTo writes the sense data to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (s *SenseData) MarshalTo(buf []byte) int {
	if len(buf) < SenseDataSize {
		return 0
	}
	clear(buf[:SenseDataSize])
	buf[0] = SenseResponseCurrent
	buf[2] = s.Key & 0x0F
	buf[7] = SenseDataSize - 8
	buf[12] = s.ASC
	buf[13] = s.ASCQ
	return SenseDataSize
}

// ModeParameters describes the device for MODE SENSE.
type ModeParameters struct {
	WriteProtect bool
	// WriteCache reports the write-back cache as enabled, telling the host
	// to issue SYNCHRONIZE CACHE before removal.
	WriteCache bool
}

// cachingPageSize is the length of mode page 0x08 including its header.
const cachingPageSize = 20

// marshalPages writes the mode pages selected by page code pc.
func (p *ModeParameters) marshalPages(pc uint8, buf []byte) int {
	if pc != ModePageCachingParameters && pc != ModePageAllPages {
		return 0
	}
	if len(buf) < cachingPageSize {
		return 0
	}
	clear(buf[:cachingPageSize])
	buf[0] = ModePageCachingParameters
	buf[1] = cachingPageSize - 2
	if p.WriteCache {
		buf[2] = 0x04 // WCE
	}
	return cachingPageSize
}

func (p *ModeParameters) deviceParam() uint8 {
	if p.WriteProtect {
		return ModeSenseWP
	}
	return 0
}

// MarshalSense6 writes a MODE SENSE (6) header and the pages selected by
// pc to buf, returning the number of bytes written.
func (p *ModeParameters) MarshalSense6(pc uint8, buf []byte) int {
	if len(buf) < 4 {
		return 0
	}
	n := 4 + p.marshalPages(pc, buf[4:])
	buf[0] = uint8(n - 1)
	buf[1] = 0
	buf[2] = p.deviceParam()
	buf[3] = 0
	return n
}

// MarshalSense10 writes a MODE SENSE (10) header and the pages selected
// by pc to buf, returning the number of bytes written.
func (p *ModeParameters) MarshalSense10(pc uint8, buf []byte) int {
	if len(buf) < 8 {
		return 0
	}
	n := 8 + p.marshalPages(pc, buf[8:])
	clear(buf[:8])
	binary.BigEndian.PutUint16(buf[0:2], uint16(n-2))
	buf[3] = p.deviceParam()
	return n
}

// FormatCapacity is the READ FORMAT CAPACITIES list with its single
// current/maximum descriptor.
type FormatCapacity struct {
	BlockCount  uint32
	BlockLength uint32 // 24 bits
	Present     bool
}

// MarshalTo writes the capacity list to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (f *FormatCapacity) MarshalTo(buf []byte) int {
	if len(buf) < 12 {
		return 0
	}
	clear(buf[:12])
	buf[3] = 8 // capacity list length
	binary.BigEndian.PutUint32(buf[4:8], f.BlockCount)
	if f.Present {
		buf[8] = 0x02 // formatted media
	} else {
		buf[8] = 0x03 // no media present
	}
	buf[9] = uint8(f.BlockLength >> 16)
	buf[10] = uint8(f.BlockLength >> 8)
	buf[11] = uint8(f.BlockLength)
	return 12
}

// padString pads or truncates a string to the specified length.
func padString(s string, length int) []byte {
	result := bytes.Repeat([]byte{' '}, length)
	copy(result, s)
	return result
}
