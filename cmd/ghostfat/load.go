package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ardnew/ghostfat/blockdev"
	"github.com/ardnew/ghostfat/pkg"
	"github.com/ardnew/ghostfat/uf2"
)

func newLoadCommand(opts *options) *cobra.Command {
	var addr uint32
	cmd := &cobra.Command{
		Use:   "load <firmware.{bin,hex,uf2}>",
		Short: "Copy firmware onto the volume as a host would",
		Long: `Convert firmware to UF2 and write the blocks into the free space of the
volume, exactly as a host copying the file onto the drive would. The device
stages every UF2 payload at its target address; the final page is committed
on exit.

Raw binaries are placed at --address. Intel HEX and UF2 files carry their
own addresses. Blocks outside the flash window are ignored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.syntheticWrites = blockdev.WriteUF2.String()
			if addr == 0 {
				addr = opts.minAddress
			}

			family, err := parseFamily(opts.family)
			if err != nil {
				return err
			}
			blocks, err := readFirmware(args[0], addr, family)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Firmware: %s (%d UF2 blocks)\n", args[0], len(blocks))

			s, err := opts.open()
			if err != nil {
				return err
			}

			bar := newProgressBar(len(blocks), "Loading")
			staged, err := loadBlocks(s.dev, blocks, func() { bar.Add(1) })
			if err != nil {
				s.Close()
				return err
			}
			bar.Finish()

			if err := s.Close(); err != nil {
				return fmt.Errorf("failed to commit flash: %w", err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Staged %d of %d blocks\n", staged, len(blocks))
			if !s.persistent() {
				fmt.Fprintln(w, "Warning: no --flash-file given, contents discarded on exit")
			}
			return nil
		},
	}
	cmd.Flags().Uint32VarP(&addr, "address", "a", 0, "Load address of raw binaries (--min-address if zero)")
	return cmd
}

// loadBlocks writes blocks into the spare area of d, wrapping around when
// the file is larger than the area. It returns how many payloads the
// device staged.
func loadBlocks(d *blockdev.Device, blocks []uf2.Block, step func()) (int, error) {
	l := d.Image().Layout()
	spare := l.SpareClusters * l.SectorsPerCluster
	if spare == 0 {
		return 0, fmt.Errorf("%w: volume has no free space", pkg.ErrConfiguration)
	}
	first := l.BlockOf(l.SpareCluster)

	before := d.Stats().UF2Blocks
	var buf [blockdev.BlockSize]byte
	for i := range blocks {
		blocks[i].MarshalTo(buf[:])
		index := first + uint32(i)%spare
		if err := d.WriteBlock(index, &buf); err != nil {
			return int(d.Stats().UF2Blocks - before), err
		}
		if step != nil {
			step()
		}
	}

	staged := int(d.Stats().UF2Blocks - before)
	pkg.LogInfo(pkg.ComponentCLI, "firmware loaded", "blocks", len(blocks), "staged", staged)
	return staged, nil
}
