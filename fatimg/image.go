package fatimg

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/ghostfat/pkg"
)

const dirEntrySize = 32

// Image is a synthesized FAT volume. It holds no mutable state.
type Image struct {
	params Params
	layout Layout
	boot   [BlockSize]byte
	root   []byte // RootSectors*BlockSize bytes
}

// New validates p and precomputes the fixed structures of the volume.
func New(p Params) (*Image, error) {
	if p.ModTime.IsZero() {
		p.ModTime = DefaultModTime
	}
	if err := p.Validate(); err != nil {
		pkg.LogError(pkg.ComponentFAT, "invalid volume parameters", "error", err)
		return nil, err
	}
	layout, err := computeLayout(p)
	if err != nil {
		pkg.LogError(pkg.ComponentFAT, "invalid volume layout", "error", err)
		return nil, err
	}

	img := &Image{params: p, layout: layout}
	img.params.Files = make([]File, len(p.Files))
	for i, f := range p.Files {
		f.Content = append([]byte(nil), f.Content...)
		img.params.Files[i] = f
	}
	img.buildBoot()
	img.buildRoot()

	pkg.LogDebug(pkg.ComponentFAT, "volume synthesized",
		"type", layout.Type,
		"clusters", layout.Clusters,
		"sectorsPerFAT", layout.SectorsPerFAT,
		"dataStart", layout.DataStart,
		"syntheticBlocks", layout.SyntheticBlocks,
		"totalBlocks", layout.TotalBlocks)
	return img, nil
}

// Layout returns the volume geometry.
func (img *Image) Layout() Layout {
	l := img.layout
	l.Runs = append([]Run(nil), l.Runs...)
	return l
}

// Type returns the FAT type of the volume.
func (img *Image) Type() FATType { return img.layout.Type }

// SyntheticBlocks returns the number of blocks served by ReadBlock.
func (img *Image) SyntheticBlocks() uint32 { return img.layout.SyntheticBlocks }

// TotalBlocks returns the number of blocks in the volume, including the
// flash-backed blocks.
func (img *Image) TotalBlocks() uint32 { return img.layout.TotalBlocks }

// VolumeLabel returns the volume label.
func (img *Image) VolumeLabel() string { return img.params.VolumeLabel }

// ReadBlock fills dst with the content of synthetic block index.
// It returns ErrOutOfRange for flash-backed and nonexistent blocks.
func (img *Image) ReadBlock(index uint32, dst *[BlockSize]byte) error {
	l := &img.layout
	if index >= l.SyntheticBlocks {
		return fmt.Errorf("%w: block %d is not synthetic (limit %d)",
			pkg.ErrOutOfRange, index, l.SyntheticBlocks)
	}

	clear(dst[:])
	switch {
	case index == 0:
		*dst = img.boot
	case index < l.FATStart:
		// Reserved sectors after the boot sector read as zero.
	case index < l.RootStart:
		img.fatSector((index-l.FATStart)%l.SectorsPerFAT, dst)
	case index < l.DataStart:
		off := (index - l.RootStart) * BlockSize
		copy(dst[:], img.root[off:off+BlockSize])
	default:
		img.dataSector(index, dst)
	}
	return nil
}

// buildBoot encodes the boot sector and BIOS parameter block.
func (img *Image) buildBoot() {
	b := &img.boot
	p := &img.params
	l := &img.layout

	b[0], b[1], b[2] = 0xEB, 0x3C, 0x90
	copy(b[3:11], pad(p.OEMName, 8))
	binary.LittleEndian.PutUint16(b[11:], BlockSize)
	b[13] = p.SectorsPerCluster
	binary.LittleEndian.PutUint16(b[14:], p.ReservedSectors)
	b[16] = p.NumFATs
	binary.LittleEndian.PutUint16(b[17:], p.RootEntries)
	if l.TotalBlocks <= 0xFFFF {
		binary.LittleEndian.PutUint16(b[19:], uint16(l.TotalBlocks))
	} else {
		binary.LittleEndian.PutUint32(b[32:], l.TotalBlocks)
	}
	b[21] = p.Media
	binary.LittleEndian.PutUint16(b[22:], uint16(l.SectorsPerFAT))
	binary.LittleEndian.PutUint16(b[24:], 1) // sectors per track
	binary.LittleEndian.PutUint16(b[26:], 1) // heads
	b[36] = 0x80                             // drive number
	b[38] = 0x29                             // extended boot signature
	binary.LittleEndian.PutUint32(b[39:], p.VolumeID)
	label, _ := encodeLabel(p.VolumeLabel)
	if p.VolumeLabel == "" {
		label, _ = encodeLabel("NO NAME")
	}
	copy(b[43:54], label[:])
	copy(b[54:62], pad(l.Type.String(), 8))
	b[62], b[63] = 0xEB, 0xFE // jmp $
	b[510], b[511] = 0x55, 0xAA
}

// buildRoot encodes the root directory: the volume label, if any, followed
// by one entry per file.
func (img *Image) buildRoot() {
	p := &img.params
	img.root = make([]byte, img.layout.RootSectors*BlockSize)
	date, clock := dosDateTime(p.ModTime)

	slot := 0
	if p.VolumeLabel != "" {
		label, _ := encodeLabel(p.VolumeLabel)
		e := img.root[:dirEntrySize]
		copy(e[0:11], label[:])
		e[11] = AttrVolumeLabel
		binary.LittleEndian.PutUint16(e[22:], clock)
		binary.LittleEndian.PutUint16(e[24:], date)
		slot++
	}

	for i, run := range img.layout.Runs {
		name, _ := encodeName(run.Name)
		attr := byte(AttrArchive)
		if i < len(p.Files) && p.Files[i].ReadOnly {
			attr |= AttrReadOnly
		}
		e := img.root[slot*dirEntrySize : (slot+1)*dirEntrySize]
		slot++
		copy(e[0:11], name[:])
		e[11] = attr
		binary.LittleEndian.PutUint16(e[14:], clock)
		binary.LittleEndian.PutUint16(e[16:], date)
		binary.LittleEndian.PutUint16(e[18:], date)
		binary.LittleEndian.PutUint16(e[22:], clock)
		binary.LittleEndian.PutUint16(e[24:], date)
		binary.LittleEndian.PutUint16(e[26:], uint16(run.FirstCluster))
		binary.LittleEndian.PutUint32(e[28:], run.Size)
	}
}

// fatEntry returns the value of FAT entry n.
func (img *Image) fatEntry(n uint32) uint16 {
	l := &img.layout
	switch {
	case n == 0:
		if l.Type == FAT12 {
			return 0xF00 | uint16(img.params.Media)
		}
		return 0xFF00 | uint16(img.params.Media)
	case n == 1:
		return l.Type.eoc()
	case n >= l.Clusters+2:
		return 0
	}
	for _, run := range l.Runs {
		if run.Contains(n) {
			if n == run.FirstCluster+run.Clusters-1 {
				return l.Type.eoc()
			}
			return uint16(n + 1)
		}
	}
	return 0
}

// fatSector fills dst with sector s of one FAT copy.
func (img *Image) fatSector(s uint32, dst *[BlockSize]byte) {
	entries := img.layout.Clusters + 2
	entry := func(n uint32) uint16 {
		if n >= entries {
			return 0
		}
		return img.fatEntry(n)
	}

	if img.layout.Type == FAT16 {
		first := s * (BlockSize / 2)
		for i := uint32(0); i < BlockSize/2 && first+i < entries; i++ {
			binary.LittleEndian.PutUint16(dst[2*i:], entry(first+i))
		}
		return
	}

	// FAT12 packs two entries into three bytes.
	base := s * BlockSize
	for i := uint32(0); i < BlockSize; i++ {
		p := base + i
		k := p / 3 * 2
		if k >= entries {
			break
		}
		switch p % 3 {
		case 0:
			dst[i] = byte(entry(k))
		case 1:
			dst[i] = byte(entry(k)>>8)&0x0F | byte(entry(k+1)&0x0F)<<4
		case 2:
			dst[i] = byte(entry(k+1) >> 4)
		}
	}
}

// dataSector fills dst with a data block of a static file or spare cluster.
func (img *Image) dataSector(index uint32, dst *[BlockSize]byte) {
	l := &img.layout
	cluster, sector := l.ClusterOf(index)
	for i, f := range img.params.Files {
		run, content := l.Runs[i], f.Content
		if !run.Contains(cluster) {
			continue
		}
		off := (cluster-run.FirstCluster)*l.SectorsPerCluster*BlockSize + sector*BlockSize
		if off < uint32(len(content)) {
			copy(dst[:], content[off:])
		}
		return
	}
}

// pad returns s truncated or space-padded to n bytes.
func pad(s string, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	copy(b, s)
	return b
}
