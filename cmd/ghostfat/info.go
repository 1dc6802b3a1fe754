package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ardnew/ghostfat/blockdev"
	"github.com/ardnew/ghostfat/fatimg"
	"github.com/ardnew/ghostfat/msc"
)

var (
	headingColor = color.New(color.FgCyan, color.Bold)
	labelColor   = color.New(color.FgWhite)
	flashColor   = color.New(color.FgYellow)
)

func newInfoCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the volume layout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open()
			if err != nil {
				return err
			}
			defer s.Close()

			printInfo(cmd.OutOrStdout(), s.dev)
			return nil
		},
	}
}

// printInfo writes a report of the geometry and layout of d.
func printInfo(w io.Writer, d *blockdev.Device) {
	cfg := d.Config()
	img := d.Image()
	l := img.Layout()

	headingColor.Fprintln(w, "Flash")
	field(w, "Window", cfg.Geometry.String())
	field(w, "Page size", fmt.Sprintf("%d bytes", cfg.Geometry.PageSize))
	field(w, "Pages", fmt.Sprintf("%d", cfg.Geometry.Pages()))
	field(w, "Idle flush", fmt.Sprintf("%d ms", cfg.IdleFlush))
	field(w, "Synthetic writes", cfg.SyntheticWrites.String())
	fmt.Fprintln(w)

	headingColor.Fprintln(w, "Volume")
	field(w, "Label", img.VolumeLabel())
	field(w, "Type", img.Type().String())
	field(w, "Blocks", fmt.Sprintf("%d x %d bytes", img.TotalBlocks(), blockdev.BlockSize))
	field(w, "Clusters", fmt.Sprintf("%d x %d sectors", l.Clusters, l.SectorsPerCluster))
	field(w, "Interface", fmt.Sprintf("class %02Xh subclass %02Xh protocol %02Xh",
		msc.ClassMSC, msc.SubclassSCSI, msc.ProtocolBulkOnly))
	fmt.Fprintln(w)

	headingColor.Fprintln(w, "Regions")
	region(w, "boot", 0, l.FATStart)
	region(w, "fat", l.FATStart, l.RootStart)
	region(w, "root", l.RootStart, l.DataStart)
	for _, run := range l.Runs {
		if run.Clusters == 0 {
			continue
		}
		first := l.BlockOf(run.FirstCluster)
		end := first + run.Clusters*l.SectorsPerCluster
		if first == l.SyntheticBlocks {
			continue
		}
		region(w, run.Name, first, end)
	}
	if l.SpareClusters > 0 {
		first := l.BlockOf(l.SpareCluster)
		region(w, "spare", first, first+l.SpareClusters*l.SectorsPerCluster)
	}
	if run, ok := l.FlashRun(); ok {
		lo, _ := d.FlashAddress(l.SyntheticBlocks)
		line := fmt.Sprintf("  %-14s %6d - %-6d  %08X - %08X\n",
			run.Name, l.SyntheticBlocks, l.TotalBlocks-1,
			lo, lo+(l.TotalBlocks-l.SyntheticBlocks)*fatimg.BlockSize-1)
		flashColor.Fprint(w, line)
	}
}

func field(w io.Writer, name, value string) {
	labelColor.Fprintf(w, "  %-18s", name+":")
	fmt.Fprintln(w, value)
}

func region(w io.Writer, name string, first, end uint32) {
	if end <= first {
		return
	}
	fmt.Fprintf(w, "  %-14s %6d - %-6d\n", name, first, end-1)
}
