package fatimg

import "fmt"

// RegionKind classifies a block of the volume.
type RegionKind int

// Region kinds.
const (
	RegionOutOfRange RegionKind = iota
	RegionBoot
	RegionReserved
	RegionFAT
	RegionRoot
	RegionFile
	RegionSpare
	RegionFlash
)

// String returns a readable name for the kind.
func (k RegionKind) String() string {
	switch k {
	case RegionOutOfRange:
		return "out-of-range"
	case RegionBoot:
		return "boot"
	case RegionReserved:
		return "reserved"
	case RegionFAT:
		return "fat"
	case RegionRoot:
		return "root"
	case RegionFile:
		return "file"
	case RegionSpare:
		return "spare"
	case RegionFlash:
		return "flash"
	default:
		return fmt.Sprintf("RegionKind(%d)", int(k))
	}
}

// Region describes where a block lies in the volume.
type Region struct {
	Kind RegionKind
	File string // Owning file, for RegionFile and RegionFlash
	// Offset is the block offset within the region: the sector within one
	// FAT copy, the sector of the root directory, the block within the
	// owning file, or the block within the spare area.
	Offset uint32
}

// Synthetic reports whether the region is materialized by ReadBlock.
func (r Region) Synthetic() bool {
	return r.Kind != RegionFlash && r.Kind != RegionOutOfRange
}

// Locate classifies block index.
func (img *Image) Locate(index uint32) Region {
	l := &img.layout
	switch {
	case index >= l.TotalBlocks:
		return Region{Kind: RegionOutOfRange}
	case index >= l.SyntheticBlocks:
		r := Region{Kind: RegionFlash, Offset: index - l.SyntheticBlocks}
		if run, ok := l.FlashRun(); ok {
			r.File = run.Name
		}
		return r
	case index == 0:
		return Region{Kind: RegionBoot}
	case index < l.FATStart:
		return Region{Kind: RegionReserved, Offset: index}
	case index < l.RootStart:
		return Region{Kind: RegionFAT, Offset: (index - l.FATStart) % l.SectorsPerFAT}
	case index < l.DataStart:
		return Region{Kind: RegionRoot, Offset: index - l.RootStart}
	}

	cluster, sector := l.ClusterOf(index)
	for _, run := range l.Runs {
		if run.Contains(cluster) {
			return Region{
				Kind:   RegionFile,
				File:   run.Name,
				Offset: (cluster-run.FirstCluster)*l.SectorsPerCluster + sector,
			}
		}
	}
	return Region{Kind: RegionSpare, Offset: index - l.BlockOf(l.SpareCluster)}
}
