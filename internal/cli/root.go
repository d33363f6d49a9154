package cli

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/triad/internal/config"
	"github.com/roach88/triad/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Open builds the App for commands that touch the stores. Tests replace
	// it; nil means OpenApp.
	Open OpenFunc
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the triad CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "triad",
		Short: "triad - keep the ledger, cache and media stores consistent",
		Long: `triad creates records across an append-only ledger, a relational cache
and content-addressed media storage as a saga, and repairs drift between them.

Configuration comes from TRIAD_* environment variables, a .env file and an
optional YAML file passed with --config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "YAML config file")

	// Add subcommands
	cmd.AddCommand(NewHealthCommand(opts))
	cmd.AddCommand(NewPrepareCommand(opts))
	cmd.AddCommand(NewCompleteCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewRepairCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewCleanupCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewResumeCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewChainCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// withApp loads configuration, configures logging, opens the stores and
// runs fn. The stores are closed when fn returns.
func (o *RootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, app *App, out *OutputFormatter) error) error {
	out := o.formatter(cmd)

	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return out.Fail("failed to load config", err, nil)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return out.Fail("failed to load config", err, nil)
	}
	if o.Verbose {
		level = slog.LevelDebug
	}
	logging.Init(cmd.ErrOrStderr(), level, cfg.Log.JSON)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	open := o.Open
	if open == nil {
		open = OpenApp
	}
	app, err := open(ctx, cfg)
	if err != nil {
		return out.Fail("failed to open stores", err, nil)
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			slog.Error("error closing stores", "error", closeErr)
		}
	}()

	return fn(ctx, app, out)
}
