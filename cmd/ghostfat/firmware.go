package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"

	"github.com/ardnew/ghostfat/pkg"
	"github.com/ardnew/ghostfat/uf2"
)

// segment is a contiguous run of firmware bytes.
type segment struct {
	Address uint32
	Data    []byte
}

// readFirmware loads path as UF2 blocks. Raw binaries are placed at addr;
// Intel HEX and UF2 files carry their own addresses.
func readFirmware(path string, addr, family uint32) ([]uf2.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read firmware file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".uf2":
		return uf2.ReadBlocks(bytes.NewReader(data))
	case ".hex", ".ihex":
		segs, err := parseHex(data)
		if err != nil {
			return nil, err
		}
		return encodeSegments(segs, family), nil
	default:
		return encodeSegments([]segment{{Address: addr, Data: data}}, family), nil
	}
}

// parseHex decodes Intel HEX records into segments.
func parseHex(data []byte) ([]segment, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: intel hex: %v", pkg.ErrInvalidParameter, err)
	}
	var segs []segment
	for _, s := range mem.GetDataSegments() {
		segs = append(segs, segment{Address: s.Address, Data: s.Data})
	}
	return segs, nil
}

// encodeSegments converts segments to one numbered UF2 sequence.
func encodeSegments(segs []segment, family uint32) []uf2.Block {
	var blocks []uf2.Block
	for _, s := range segs {
		blocks = append(blocks, uf2.Encode(s.Address, s.Data, family)...)
	}
	for i := range blocks {
		blocks[i].BlockNo = uint32(i)
		blocks[i].NumBlocks = uint32(len(blocks))
	}
	return blocks
}
