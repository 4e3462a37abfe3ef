// Package cli implements the timeaudit command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/timeaudit/internal/config"
	"github.com/kimhsiao/timeaudit/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "json" | "text"

	cfg     *config.Config
	openApp AppOpener
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the timeaudit CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(OpenApp)
}

func newRootCommand(opener AppOpener) *cobra.Command {
	opts := &RootOptions{openApp: opener}

	cmd := &cobra.Command{
		Use:   "timeaudit",
		Short: "timeaudit - log what you are doing, even offline",
		Long: `Log short activity notes against the clock.

Entries are saved locally first and delivered to the remote activities
store in the background. Anything that could not be delivered is retried
until it succeeds or runs out of attempts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.loadConfig()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default ~/.timeaudit/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewCleanupCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// loadConfig reads and validates configuration, then sets up logging on
// stderr so JSON output on stdout stays clean.
func (o *RootOptions) loadConfig() error {
	path := o.ConfigPath
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.LoadFromPath(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := logging.ParseLevel(cfg.LogLevel)
	if o.Verbose {
		level = logging.LevelDebug
	}
	logging.Init(os.Stderr, level)

	o.cfg = cfg
	return nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
