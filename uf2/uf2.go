// Package uf2 encodes and decodes blocks of the UF2 flashing format.
//
// A UF2 file is a sequence of self-describing 512-byte blocks, each
// carrying up to 476 bytes of payload and the flash address it belongs at.
// Because every block is exactly one sector, a device can recognize UF2
// blocks in a raw stream of sector writes regardless of where the host
// places the file on the volume.
package uf2

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Block framing.
const (
	BlockSize      = 512
	HeaderSize     = 32
	DataSize       = 476
	PayloadSize    = 256
	Magic0         = 0x0A324655 // "UF2\n"
	Magic1         = 0x9E5D5157
	MagicEnd       = 0x0AB16F30
	magicEndOffset = BlockSize - 4
)

// Block flags.
const (
	FlagNotMainFlash    = 0x00000001
	FlagFileContainer   = 0x00001000
	FlagFamilyIDPresent = 0x00002000
	FlagMD5Present      = 0x00004000
	FlagExtTagsPresent  = 0x00008000
)

// Families maps well-known family names to their identifiers.
var Families = map[string]uint32{
	"samd21":        0x68ed2b88,
	"samd51":        0x55114460,
	"stm32f1":       0x5ee21072,
	"stm32f4":       0x57755a57,
	"nrf52840":      0xada52840,
	"rp2040":        0xe48bff56,
	"absolute":      0xe48bff57,
	"data":          0xe48bff58,
	"rp2350_arm_s":  0xe48bff59,
	"rp2350_riscv":  0xe48bff5a,
	"rp2350_arm_ns": 0xe48bff5b,
}

// ErrInvalidBlock is returned when a sector is not a valid UF2 block.
var ErrInvalidBlock = errors.New("uf2: invalid block")

// Block is one decoded UF2 block.
type Block struct {
	Flags       uint32
	TargetAddr  uint32
	PayloadSize uint32
	BlockNo     uint32
	NumBlocks   uint32
	FamilyID    uint32 // Or file size when FlagFileContainer is set
	Data        [DataSize]byte
}

// Payload returns the meaningful bytes of the block data.
func (b *Block) Payload() []byte {
	return b.Data[:b.PayloadSize]
}

// MainFlash reports whether the block targets main flash.
func (b *Block) MainFlash() bool {
	return b.Flags&(FlagNotMainFlash|FlagFileContainer) == 0
}

// MatchesFamily reports whether the block applies to family. A zero
// family, or a block without a family ID, matches everything.
func (b *Block) MatchesFamily(family uint32) bool {
	if family == 0 || b.Flags&FlagFamilyIDPresent == 0 {
		return true
	}
	return b.FamilyID == family
}

// Parse decodes sector as a UF2 block. It reports false if any magic
// number is wrong or the payload does not fit the data area.
func Parse(sector []byte) (Block, bool) {
	var b Block
	if len(sector) < BlockSize {
		return b, false
	}
	le := binary.LittleEndian
	if le.Uint32(sector[0:]) != Magic0 ||
		le.Uint32(sector[4:]) != Magic1 ||
		le.Uint32(sector[magicEndOffset:]) != MagicEnd {
		return b, false
	}
	b.Flags = le.Uint32(sector[8:])
	b.TargetAddr = le.Uint32(sector[12:])
	b.PayloadSize = le.Uint32(sector[16:])
	b.BlockNo = le.Uint32(sector[20:])
	b.NumBlocks = le.Uint32(sector[24:])
	b.FamilyID = le.Uint32(sector[28:])
	if b.PayloadSize > DataSize || (b.NumBlocks != 0 && b.BlockNo >= b.NumBlocks) {
		return b, false
	}
	copy(b.Data[:], sector[HeaderSize:HeaderSize+DataSize])
	return b, true
}

// MarshalTo encodes the block into buf and returns the number of bytes
// written, or 0 if buf is shorter than BlockSize.
func (b *Block) MarshalTo(buf []byte) int {
	if len(buf) < BlockSize {
		return 0
	}
	le := binary.LittleEndian
	le.PutUint32(buf[0:], Magic0)
	le.PutUint32(buf[4:], Magic1)
	le.PutUint32(buf[8:], b.Flags)
	le.PutUint32(buf[12:], b.TargetAddr)
	le.PutUint32(buf[16:], b.PayloadSize)
	le.PutUint32(buf[20:], b.BlockNo)
	le.PutUint32(buf[24:], b.NumBlocks)
	le.PutUint32(buf[28:], b.FamilyID)
	copy(buf[HeaderSize:], b.Data[:])
	le.PutUint32(buf[magicEndOffset:], MagicEnd)
	return BlockSize
}

// Encode splits data into PayloadSize-byte blocks targeting consecutive
// addresses starting at addr. A nonzero family sets FlagFamilyIDPresent.
func Encode(addr uint32, data []byte, family uint32) []Block {
	total := (len(data) + PayloadSize - 1) / PayloadSize
	blocks := make([]Block, 0, total)
	for i := 0; i < total; i++ {
		chunk := data[i*PayloadSize : min((i+1)*PayloadSize, len(data))]
		b := Block{
			TargetAddr:  addr + uint32(i*PayloadSize),
			PayloadSize: PayloadSize,
			BlockNo:     uint32(i),
			NumBlocks:   uint32(total),
		}
		if family != 0 {
			b.Flags |= FlagFamilyIDPresent
			b.FamilyID = family
		}
		copy(b.Data[:], chunk)
		blocks = append(blocks, b)
	}
	return blocks
}

// WriteBlocks encodes blocks to w.
func WriteBlocks(w io.Writer, blocks []Block) error {
	var buf [BlockSize]byte
	for i := range blocks {
		blocks[i].MarshalTo(buf[:])
		if _, err := w.Write(buf[:]); err != nil {
			return fmt.Errorf("uf2: write block %d: %w", i, err)
		}
	}
	return nil
}

// ReadBlocks decodes every block from r. Any sector that does not parse
// is an error.
func ReadBlocks(r io.Reader) ([]Block, error) {
	var (
		buf    [BlockSize]byte
		blocks []Block
	)
	for {
		_, err := io.ReadFull(r, buf[:])
		if errors.Is(err, io.EOF) {
			return blocks, nil
		}
		if err != nil {
			return blocks, fmt.Errorf("uf2: read block %d: %w", len(blocks), err)
		}
		b, ok := Parse(buf[:])
		if !ok {
			return blocks, fmt.Errorf("%w: block %d", ErrInvalidBlock, len(blocks))
		}
		blocks = append(blocks, b)
	}
}
