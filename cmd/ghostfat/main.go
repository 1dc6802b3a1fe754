// Command ghostfat exercises a flash-backed FAT volume from the host.
//
// The flash is emulated by an image file (--flash-file) or, when none is
// given, by memory that lives for one invocation.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ardnew/ghostfat/pkg"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := defaultOptions()

	rootCmd := &cobra.Command{
		Use:   "ghostfat",
		Short: "Expose a flash region as a synthesized FAT volume",
		Long: `ghostfat presents the writable window of a microcontroller's flash as
the last file of a FAT12/16 volume that exists only as a computed view.

Boot sector, FATs, root directory and the static files are synthesized
on every read. Only blocks of the flash file reach the flash, through a
one-page write-back cache committed after the host goes idle.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return configureLogging(opts)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.Uint32Var(&opts.flashKiB, "flash-kib", opts.flashKiB, "Flash capacity in KiB")
	flags.Uint32Var(&opts.flashBase, "flash-base", opts.flashBase, "Address of the first flash byte")
	flags.Uint32Var(&opts.minAddress, "min-address", opts.minAddress, "First writable flash address")
	flags.Uint32Var(&opts.pageSize, "page-size", 0, "Flash page size (derived from capacity if zero)")
	flags.StringVarP(&opts.flashFile, "flash-file", "f", "", "Flash image file (memory if empty)")
	flags.StringVar(&opts.label, "label", opts.label, "Volume label")
	flags.Uint8Var(&opts.clusterSectors, "cluster-sectors", opts.clusterSectors, "Sectors per cluster")
	flags.Uint32Var(&opts.spareKiB, "spare-kib", 0, "Free space before the flash file in KiB (sized for a UF2 image if zero)")
	flags.StringVar(&opts.syntheticWrites, "synthetic-writes", opts.syntheticWrites, "Writes outside the flash file: discard, reject or uf2")
	flags.Uint32Var(&opts.idleFlush, "idle-flush", opts.idleFlush, "Idle milliseconds before a dirty page is committed")
	flags.StringVar(&opts.family, "family", "", "UF2 family accepted (name or number, any if empty)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log at debug level")
	flags.StringVar(&opts.logLevel, "log-level", opts.logLevel, "Minimum log level: debug, info, warn or error")
	flags.StringVar(&opts.logComponents, "log-components", "", "Comma-separated components to log (all if empty)")
	flags.BoolVar(&opts.json, "json", false, "Log in JSON")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "ghostfat %s\n", version)
			fmt.Fprintf(w, "  commit: %s\n", commit)
			fmt.Fprintf(w, "  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(
		newInfoCommand(opts),
		newImageCommand(opts),
		newLoadCommand(opts),
		newDumpCommand(opts),
		newServeCommand(opts),
		versionCmd,
	)
	return rootCmd
}

func configureLogging(opts *options) error {
	level, err := pkg.ParseLogLevel(opts.logLevel)
	if err != nil {
		return err
	}
	if opts.verbose {
		level = slog.LevelDebug
	}
	components, err := pkg.ParseComponents(opts.logComponents)
	if err != nil {
		return err
	}

	if opts.json {
		pkg.SetLogFormat(pkg.LogFormatJSON)
	}
	pkg.SetLogLevel(level)
	pkg.EnableComponents(components...)
	return nil
}
