package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ardnew/ghostfat/blockdev"
)

func newImageCommand(opts *options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Write the volume as a raw disk image",
		Long: `Read every block of the volume through the device and write them to a
raw disk image that can be mounted or inspected with FAT tools.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open()
			if err != nil {
				return err
			}
			defer s.Close()

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create image: %w", err)
			}
			defer f.Close()

			bar := newProgressBar(int(s.dev.Blocks()), "Reading")
			w := bufio.NewWriter(f)
			if err := writeImage(w, s.dev, func() { bar.Add(1) }); err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return err
			}
			bar.Finish()

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d blocks)\n", output, s.dev.Blocks())
			return f.Close()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "disk.img", "Image file to write")
	return cmd
}

// writeImage copies every block of d to w, calling step after each.
func writeImage(w io.Writer, d *blockdev.Device, step func()) error {
	var buf [blockdev.BlockSize]byte
	for i := uint32(0); i < d.Blocks(); i++ {
		if err := d.ReadBlock(i, &buf); err != nil {
			return fmt.Errorf("read block %d: %w", i, err)
		}
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
		if step != nil {
			step()
		}
	}
	return nil
}

func newProgressBar(max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}
