package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewCleanupCommand creates the cleanup command.
func NewCleanupCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove cache rows that never got ledger proof",
		Long: `Find cache rows older than the orphan grace period that carry no ledger
reference. Rows whose record did land on the ledger get the proof attached;
the rest are deleted together with their media.

Examples:
  triad cleanup`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				sum := app.Orch.CleanupOrphans(ctx)
				if err := out.Emit(sum, renderCleanup(sum)); err != nil {
					return err
				}
				if sum.Errored > 0 {
					return NewExitError(ExitFailure, "cleanup incomplete")
				}
				return nil
			})
		},
	}
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Check and repair every cached record",
		Long: `Resume operations stuck after ledger confirmation, then check every cached
record against the ledger and media stores and repair what drifted.

Examples:
  triad sync
  triad sync --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				sum := app.Orch.SyncAll(ctx)
				if err := out.Emit(sum, renderSync(sum)); err != nil {
					return err
				}
				if sum.Failed > 0 {
					return NewExitError(ExitFailure, "sync incomplete")
				}
				return nil
			})
		},
	}
}

// ResumeResult is the resume command payload.
type ResumeResult struct {
	Resumed int `json:"resumed"`
	Expired int `json:"expired"`
}

// NewResumeCommand creates the resume command.
func NewResumeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Finish interrupted rollbacks and expire abandoned operations",
		Long: `Finish rollbacks interrupted by a crash, then roll back prepared
operations whose signature never arrived within the prepared TTL.

Examples:
  triad resume`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				var res ResumeResult
				var err error
				if res.Resumed, err = app.Orch.ResumeRollbacks(ctx); err != nil {
					return out.Fail("resume failed", err, nil)
				}
				if res.Expired, err = app.Orch.ExpireStaleOperations(ctx); err != nil {
					return out.Fail("expire failed", err, res)
				}
				return out.Emit(res, fmt.Sprintf("%s resumed=%d expired=%d\n",
					styleTitle.Render("Rollbacks"), res.Resumed, res.Expired))
			})
		},
	}
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one maintenance sweep",
		Long: `Run one maintenance sweep: resume rollbacks, expire abandoned operations,
sync every record and clean up orphans.

Examples:
  triad sweep`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				rep, err := app.Monitor.Sweep(ctx)
				if err != nil {
					return out.Fail("sweep failed", err, nil)
				}
				return out.Emit(rep, renderSweep(rep))
			})
		},
	}
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled sweeps until interrupted",
		Long: `Run the health monitor in the foreground. A sweep runs at start-up and
then whenever the sweep interval has elapsed. Stops on SIGINT or SIGTERM.

Examples:
  TRIAD_MONITOR_SWEEP_INTERVAL=5m triad serve`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				slog.Info("monitor starting",
					"sweep_interval", app.Config.Monitor.SweepInterval,
					"health_ttl", app.Config.Health.TTL)
				fmt.Fprintln(out.GetErrWriter(), "Monitor started. Press Ctrl-C to stop.")

				if err := app.Monitor.Run(ctx); err != nil {
					return out.Fail("monitor stopped", err, nil)
				}
				slog.Info("monitor stopped gracefully")
				return nil
			})
		},
	}
}
