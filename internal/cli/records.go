package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/triad/internal/model"
	"github.com/roach88/triad/internal/monitor"
)

// HealthResult is the health command payload.
type HealthResult struct {
	monitor.Report
	Metrics []monitor.StoreMetrics `json:"metrics,omitempty"`
}

// NewHealthCommand creates the health command.
func NewHealthCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check all three stores",
		Long: `Check the ledger, cache and media stores in parallel and report the
worst state. Exits with code 1 when any store is unhealthy.

Examples:
  triad health
  triad health --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				report := app.Monitor.Aggregate(ctx)
				res := HealthResult{Report: report, Metrics: app.Monitor.Metrics()}
				if err := out.Emit(res, renderHealth(report, res.Metrics)); err != nil {
					return err
				}
				if report.Status == model.Unhealthy {
					return NewExitError(ExitFailure, "stores unhealthy")
				}
				return nil
			})
		},
	}
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <record-id>",
		Short: "Compare a record across the three stores",
		Long: `Compare one record across the ledger, cache and media stores without
changing anything. Exits with code 1 when discrepancies are found.

Examples:
  triad check 01928f...
  triad check 01928f... --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				report, err := app.Orch.CheckConsistency(ctx, args[0])
				if err != nil {
					return out.Fail("check failed", err, nil)
				}
				if err := out.Emit(report, renderReport(report)); err != nil {
					return err
				}
				if !report.Consistent() {
					return NewExitError(ExitFailure, "record inconsistent")
				}
				return nil
			})
		},
	}
}

// NewRepairCommand creates the repair command.
func NewRepairCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "repair <record-id>",
		Short: "Repair a record from the ledger copy",
		Long: `Rebuild or refresh the cache copy of a record from the ledger, re-pin its
metadata document and, when a signer is configured, recreate a missing ledger
entry. Divergences that cannot be fixed automatically are listed for manual
intervention and exit with code 1.

Repair is idempotent: a consistent record is left untouched.

Examples:
  triad repair 01928f...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				res, err := app.Orch.RepairConsistency(ctx, args[0])
				if err != nil {
					return out.Fail("repair failed", err, nil)
				}
				if err := out.Emit(res, renderRepair(res)); err != nil {
					return err
				}
				if len(res.Errors) > 0 || len(res.ManualIntervention) > 0 {
					return NewExitError(ExitFailure, "repair incomplete")
				}
				return nil
			})
		},
	}
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Query  model.ListQuery
	Facets bool
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records from the relational cache",
		Long: `List cached records, newest first by default.

Examples:
  triad list --category music
  triad list --sort ticket_price --order asc --limit 50
  triad list --facets`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				if opts.Facets {
					facets, err := app.Cache.Facets(ctx)
					if err != nil {
						return out.Fail("facets failed", err, nil)
					}
					return out.Emit(facets, renderFacets(facets))
				}
				page, err := app.Cache.List(ctx, opts.Query)
				if err != nil {
					return out.Fail("list failed", err, nil)
				}
				return out.Emit(page, renderPage(page))
			})
		},
	}

	cmd.Flags().IntVar(&opts.Query.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&opts.Query.Limit, "limit", 20, "records per page")
	cmd.Flags().StringVar(&opts.Query.SortField, "sort", "", "sort field")
	cmd.Flags().StringVar(&opts.Query.SortOrder, "order", "", "asc or desc")
	cmd.Flags().StringVar(&opts.Query.Category, "category", "", "filter by category")
	cmd.Flags().StringVar(&opts.Query.Location, "location", "", "filter by location")
	cmd.Flags().BoolVar(&opts.Facets, "facets", false, "print categories, locations and price range instead")

	return cmd
}
