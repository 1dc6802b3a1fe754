package fatimg

import (
	"fmt"
	"strings"
	"time"

	"github.com/ardnew/ghostfat/pkg"
)

// BlockSize is the size of a logical block (sector) in bytes.
const BlockSize = 512

// Directory entry attributes.
const (
	AttrReadOnly    = 0x01
	AttrHidden      = 0x02
	AttrSystem      = 0x04
	AttrVolumeLabel = 0x08
	AttrDirectory   = 0x10
	AttrArchive     = 0x20
)

// Media descriptors.
const (
	MediaFixed     = 0xF8
	MediaRemovable = 0xF0
)

// File is a static file whose contents are served from memory.
type File struct {
	Name     string // 8.3 name, e.g. "INFO_UF2.TXT"
	Content  []byte
	ReadOnly bool
}

// FlashFile is the file whose clusters are the flash-backed blocks.
type FlashFile struct {
	Name   string // 8.3 name
	Blocks uint32 // Number of flash-backed blocks
}

// Params are the fixed parameters of a synthesized volume.
type Params struct {
	OEMName           string    // Up to 8 characters
	VolumeLabel       string    // Up to 11 characters
	VolumeID          uint32    // Volume serial number
	SectorsPerCluster uint8     // Power of two
	ReservedSectors   uint16    // At least 1 (the boot sector)
	NumFATs           uint8     // 1 or 2
	RootEntries       uint16    // Root directory capacity
	Media             uint8     // Media descriptor
	SpareClusters     uint32    // Free clusters before the flash file
	ModTime           time.Time // Timestamp of every directory entry
	Files             []File    // Static files, in directory order
	Flash             FlashFile // Flash-backed file
}

// Defaults used by DefaultParams.
const (
	DefaultOEMName     = "GHOSTFAT"
	DefaultVolumeLabel = "GHOSTFAT"
	DefaultVolumeID    = 0x00420042
	DefaultRootEntries = 64
	DefaultFlashName   = "CURRENT.BIN"
)

// DefaultModTime is the timestamp used when Params.ModTime is zero.
var DefaultModTime = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// DefaultInfo is the default content of INFO_UF2.TXT.
const DefaultInfo = "UF2 Bootloader ghostfat\r\n" +
	"Model: Generic Cortex-M flash disk\r\n" +
	"Board-ID: ghostfat-cortex-m\r\n"

// DefaultIndex is the default content of INDEX.HTM.
const DefaultIndex = "<!doctype html>\n" +
	"<html><body><script>\n" +
	"location.replace(\"https://github.com/microsoft/uf2\");\n" +
	"</script></body></html>\n"

// DefaultParams returns parameters for a volume exposing flashBlocks
// flash-backed blocks. Enough spare space is reserved to drop a UF2 image
// of the whole flash window (UF2 carries 256 payload bytes per block).
func DefaultParams(flashBlocks uint32) Params {
	return Params{
		OEMName:           DefaultOEMName,
		VolumeLabel:       DefaultVolumeLabel,
		VolumeID:          DefaultVolumeID,
		SectorsPerCluster: 1,
		ReservedSectors:   1,
		NumFATs:           2,
		RootEntries:       DefaultRootEntries,
		Media:             MediaFixed,
		SpareClusters:     2*flashBlocks + 64,
		ModTime:           DefaultModTime,
		Files: []File{
			{Name: "INFO_UF2.TXT", Content: []byte(DefaultInfo), ReadOnly: true},
			{Name: "INDEX.HTM", Content: []byte(DefaultIndex), ReadOnly: true},
		},
		Flash: FlashFile{Name: DefaultFlashName, Blocks: flashBlocks},
	}
}

// Validate checks the parameters for consistency.
func (p Params) Validate() error {
	spc := p.SectorsPerCluster
	if spc == 0 || spc&(spc-1) != 0 {
		return fmt.Errorf("%w: sectors per cluster %d", pkg.ErrConfiguration, spc)
	}
	if p.ReservedSectors == 0 {
		return fmt.Errorf("%w: no reserved sectors", pkg.ErrConfiguration)
	}
	if p.NumFATs != 1 && p.NumFATs != 2 {
		return fmt.Errorf("%w: %d FAT copies", pkg.ErrConfiguration, p.NumFATs)
	}
	if len(p.OEMName) > 8 {
		return fmt.Errorf("%w: OEM name %q too long", pkg.ErrConfiguration, p.OEMName)
	}
	if _, err := encodeLabel(p.VolumeLabel); err != nil {
		return err
	}

	entries := len(p.Files)
	if p.VolumeLabel != "" {
		entries++
	}
	if p.Flash.Blocks > 0 {
		entries++
	}
	if int(p.RootEntries) < entries {
		return fmt.Errorf("%w: %d root entries for %d directory entries",
			pkg.ErrConfiguration, p.RootEntries, entries)
	}

	seen := make(map[[11]byte]string)
	names := make([]string, 0, len(p.Files)+1)
	for _, f := range p.Files {
		names = append(names, f.Name)
	}
	if p.Flash.Blocks > 0 {
		names = append(names, p.Flash.Name)
		if p.Flash.Blocks%uint32(spc) != 0 {
			return fmt.Errorf("%w: %d flash blocks not a multiple of %d-sector clusters",
				pkg.ErrConfiguration, p.Flash.Blocks, spc)
		}
		if uint64(p.Flash.Blocks)*BlockSize > 0xFFFFFFFF {
			return fmt.Errorf("%w: flash file too large", pkg.ErrConfiguration)
		}
	}
	for _, name := range names {
		short, err := encodeName(name)
		if err != nil {
			return err
		}
		if prev, ok := seen[short]; ok {
			return fmt.Errorf("%w: %q and %q share a short name", pkg.ErrConfiguration, prev, name)
		}
		seen[short] = name
	}
	return nil
}

// encodeName converts a file name to the space-padded 8.3 directory form.
func encodeName(name string) ([11]byte, error) {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}

	base, ext := name, ""
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		base, ext = name[:i], name[i+1:]
	}
	if len(base) == 0 || len(base) > 8 || len(ext) > 3 {
		return out, fmt.Errorf("%w: %q is not an 8.3 name", pkg.ErrConfiguration, name)
	}

	upper := strings.ToUpper(base + ext)
	for i := 0; i < len(upper); i++ {
		if !validNameChar(upper[i]) {
			return out, fmt.Errorf("%w: invalid character %q in %q", pkg.ErrConfiguration, upper[i], name)
		}
	}

	copy(out[:8], strings.ToUpper(base))
	copy(out[8:], strings.ToUpper(ext))
	return out, nil
}

// encodeLabel converts a volume label to its space-padded 11-byte form.
func encodeLabel(label string) ([11]byte, error) {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	if len(label) > len(out) {
		return out, fmt.Errorf("%w: volume label %q too long", pkg.ErrConfiguration, label)
	}
	upper := strings.ToUpper(label)
	for i := 0; i < len(upper); i++ {
		if upper[i] != ' ' && !validNameChar(upper[i]) {
			return out, fmt.Errorf("%w: invalid character %q in label %q", pkg.ErrConfiguration, upper[i], label)
		}
	}
	copy(out[:], upper)
	return out, nil
}

// validNameChar reports whether c may appear in an upper-case short name.
func validNameChar(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("!#$%&'()-@^_`{}~", c) >= 0
}

// dosDateTime encodes t in the FAT directory date and time formats.
// Dates before 1980 clamp to the FAT epoch.
func dosDateTime(t time.Time) (date, clock uint16) {
	if t.Year() < 1980 {
		return 1<<5 | 1, 0
	}
	date = uint16(t.Year()-1980)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
	clock = uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	return date, clock
}
