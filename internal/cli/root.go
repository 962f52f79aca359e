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
	Format  string // "json" | "text"

	// Logger is built before each command runs. Diagnostics go to stderr
	// so they never corrupt JSON output.
	Logger *slog.Logger

	handler HandlerFunc
}

// HandlerFunc builds the log handler for the level chosen by --verbose.
type HandlerFunc func(w io.Writer, level slog.Level) slog.Handler

// RootOption configures the root command.
type RootOption func(*RootOptions)

// WithLogHandler replaces the default text log handler.
func WithLogHandler(fn HandlerFunc) RootOption {
	return func(o *RootOptions) { o.handler = fn }
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the strata CLI.
func NewRootCommand(options ...RootOption) *cobra.Command {
	opts := &RootOptions{
		handler: func(w io.Writer, level slog.Level) slog.Handler {
			return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
		},
	}
	for _, o := range options {
		o(opts)
	}

	cmd := &cobra.Command{
		Use:   "strata",
		Short: "Strata - decorated collections over CUE definitions",
		Long: `Serve collections declared in a CUE definition through the full
decorator stack, backed by an in-memory store or SQLite.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			level := slog.LevelWarn
			if opts.Verbose {
				level = slog.LevelDebug
			}
			opts.Logger = slog.New(opts.handler(cmd.ErrOrStderr(), level))
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewAggregateCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// logger returns the configured logger, or a discarding one when a
// subcommand runs without the root.
func (o *RootOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
