// Package cli implements the qcache debugging commands.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "yaml" | "json"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"yaml", "json"}

// NewRootCommand creates the root command for the qcache CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "qcache",
		Short: "Inspect and reconcile cached PostgREST query results",
		Long: `qcache decodes cache keys, evaluates query filters against rows and
replays single-row writes against a cache snapshot or a live Redis cache.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitUsage, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log reconciliation details to stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "yaml", "output format (yaml|json)")

	cmd.AddCommand(NewDecodeCommand(opts))
	cmd.AddCommand(NewEncodeCommand(opts))
	cmd.AddCommand(NewFilterCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))

	return cmd
}

// logger returns a debug logger on w when verbose, a discarding one otherwise.
func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	if !o.Verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
