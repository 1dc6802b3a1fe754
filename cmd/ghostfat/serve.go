package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/ardnew/ghostfat/blockdev"
	"github.com/ardnew/ghostfat/pkg"
)

func newServeCommand(opts *options) *cobra.Command {
	var (
		duration time.Duration
		period   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the idle-flush ticker against the device",
		Long: `Open the device and drive its tick handler until --duration elapses or
the process is interrupted. The staged page is committed on exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			pkg.LogInfo(pkg.ComponentCLI, "serving", "period", period, "duration", duration)
			start := time.Now()
			err = blockdev.Ticker{Period: period}.Run(ctx, s.dev)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				err = nil
			}
			err = errors.Join(err, s.Close())

			stats := s.dev.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "Served %s: %d idle flushes, %d syncs\n",
				time.Since(start).Round(time.Millisecond), stats.IdleFlushes, stats.Syncs)
			return err
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "How long to serve (until interrupted if zero)")
	cmd.Flags().DurationVar(&period, "period", blockdev.DefaultTickPeriod, "Tick period")
	return cmd
}
