package fatimg

import (
	"fmt"

	"github.com/ardnew/ghostfat/pkg"
)

// FATType identifies the width of a FAT entry.
type FATType int

// FAT types.
const (
	FAT12 FATType = 12
	FAT16 FATType = 16
)

// Cluster count limits that select the FAT type.
const (
	MaxClustersFAT12 = 4084
	MaxClustersFAT16 = 65524
)

// String returns the file system type label written to the boot sector.
func (t FATType) String() string {
	switch t {
	case FAT12:
		return "FAT12"
	case FAT16:
		return "FAT16"
	default:
		return fmt.Sprintf("FATType(%d)", int(t))
	}
}

// eoc returns the end-of-chain marker.
func (t FATType) eoc() uint16 {
	if t == FAT12 {
		return 0xFFF
	}
	return 0xFFFF
}

// Run is a contiguous chain of clusters belonging to one file.
type Run struct {
	Name         string
	FirstCluster uint32 // 0 for an empty file
	Clusters     uint32
	Size         uint32 // File size in bytes
}

// Contains reports whether cluster n belongs to the run.
func (r Run) Contains(n uint32) bool {
	return r.Clusters > 0 && n >= r.FirstCluster && n < r.FirstCluster+r.Clusters
}

// Layout is the fixed geometry of a synthesized volume. All positions are
// block indices unless named otherwise.
type Layout struct {
	Type              FATType
	SectorsPerCluster uint32
	SectorsPerFAT     uint32
	FATStart          uint32
	RootStart         uint32
	RootSectors       uint32
	DataStart         uint32
	Clusters          uint32 // Data clusters, numbered from 2
	SpareCluster      uint32 // First spare cluster
	SpareClusters     uint32
	SyntheticBlocks   uint32 // First flash-backed block
	TotalBlocks       uint32
	Runs              []Run // Static files then the flash file
}

// ClusterOf returns the cluster holding data block index, and the sector
// within that cluster.
func (l *Layout) ClusterOf(index uint32) (cluster, sector uint32) {
	rel := index - l.DataStart
	return 2 + rel/l.SectorsPerCluster, rel % l.SectorsPerCluster
}

// BlockOf returns the first block of cluster n.
func (l *Layout) BlockOf(n uint32) uint32 {
	return l.DataStart + (n-2)*l.SectorsPerCluster
}

// FlashRun returns the run of the flash-backed file.
func (l *Layout) FlashRun() (Run, bool) {
	if len(l.Runs) == 0 {
		return Run{}, false
	}
	r := l.Runs[len(l.Runs)-1]
	if r.Clusters == 0 || l.BlockOf(r.FirstCluster) != l.SyntheticBlocks {
		return Run{}, false
	}
	return r, true
}

// computeLayout places every region of the volume described by p.
func computeLayout(p Params) (Layout, error) {
	spc := uint32(p.SectorsPerCluster)
	clusterBytes := spc * BlockSize

	l := Layout{
		SectorsPerCluster: spc,
		FATStart:          uint32(p.ReservedSectors),
	}

	next := uint32(2)
	for _, f := range p.Files {
		run := Run{Name: f.Name, Size: uint32(len(f.Content))}
		if n := (run.Size + clusterBytes - 1) / clusterBytes; n > 0 {
			run.FirstCluster, run.Clusters = next, n
			next += n
		}
		l.Runs = append(l.Runs, run)
	}

	l.SpareCluster, l.SpareClusters = next, p.SpareClusters
	next += p.SpareClusters
	syntheticClusters := next - 2

	if p.Flash.Blocks > 0 {
		n := p.Flash.Blocks / spc
		l.Runs = append(l.Runs, Run{
			Name:         p.Flash.Name,
			FirstCluster: next,
			Clusters:     n,
			Size:         p.Flash.Blocks * BlockSize,
		})
		next += n
	}

	l.Clusters = next - 2
	switch {
	case l.Clusters == 0:
		return l, fmt.Errorf("%w: volume has no data clusters", pkg.ErrConfiguration)
	case l.Clusters <= MaxClustersFAT12:
		l.Type = FAT12
	case l.Clusters <= MaxClustersFAT16:
		l.Type = FAT16
	default:
		return l, fmt.Errorf("%w: %d clusters exceeds FAT16", pkg.ErrConfiguration, l.Clusters)
	}

	entries := l.Clusters + 2
	var fatBytes uint32
	if l.Type == FAT12 {
		fatBytes = (entries*3 + 1) / 2
	} else {
		fatBytes = entries * 2
	}
	l.SectorsPerFAT = (fatBytes + BlockSize - 1) / BlockSize
	l.RootSectors = (uint32(p.RootEntries)*dirEntrySize + BlockSize - 1) / BlockSize
	l.RootStart = l.FATStart + uint32(p.NumFATs)*l.SectorsPerFAT
	l.DataStart = l.RootStart + l.RootSectors
	l.SyntheticBlocks = l.DataStart + syntheticClusters*spc
	l.TotalBlocks = l.SyntheticBlocks + p.Flash.Blocks
	return l, nil
}
