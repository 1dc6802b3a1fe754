package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/marcinbor85/gohex"
	"github.com/spf13/cobra"

	"github.com/ardnew/ghostfat/blockdev"
	"github.com/ardnew/ghostfat/flash"
)

func newDumpCommand(opts *options) *cobra.Command {
	var (
		output string
		all    bool
	)
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Write the flash window as Intel HEX",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open()
			if err != nil {
				return err
			}
			defer s.Close()

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			defer f.Close()

			n, err := dumpHex(f, s.dev, all)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes of flash)\n", output, n)
			return f.Close()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "flash.hex", "HEX file to write")
	cmd.Flags().BoolVar(&all, "all", false, "Include erased blocks")
	return cmd
}

// dumpHex writes the flash-backed blocks of d to w as Intel HEX and
// returns the number of data bytes written. Fully erased blocks are
// skipped unless all is set.
func dumpHex(w io.Writer, d *blockdev.Device, all bool) (int, error) {
	mem := gohex.NewMemory()
	erased := bytes.Repeat([]byte{flash.ErasedByte}, blockdev.BlockSize)

	var (
		start uint32
		run   []byte
		total int
	)
	emit := func() {
		if len(run) > 0 {
			mem.AddBinary(start, run)
			total += len(run)
		}
		run = nil
	}

	var buf [blockdev.BlockSize]byte
	for i := d.SyntheticBlocks(); i < d.Blocks(); i++ {
		if err := d.ReadBlock(i, &buf); err != nil {
			return total, err
		}
		addr, _ := d.FlashAddress(i)
		if !all && bytes.Equal(buf[:], erased) {
			emit()
			continue
		}
		if len(run) == 0 {
			start = addr
		}
		run = append(run, buf[:]...)
	}
	emit()

	if err := mem.DumpIntelHex(w, 16); err != nil {
		return total, fmt.Errorf("dump intel hex: %w", err)
	}
	return total, nil
}
