package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/triad/internal/model"
	"github.com/roach88/triad/internal/saga"
)

// PrepareOptions holds flags for the prepare command.
type PrepareOptions struct {
	*RootOptions
	Input      string
	Banner     string
	BannerType string
}

// NewPrepareCommand creates the prepare command.
func NewPrepareCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PrepareOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Upload media and prepare an unsigned ledger transaction",
		Long: `Validate a creation request, upload its media and prepare the unsigned
ledger transaction the initiator must sign.

The input file is YAML or JSON:

  fields:
    title: Rooftop Jazz
    starts_at: 2026-06-01T19:00:00Z
    ends_at: 2026-06-01T22:00:00Z
    max_capacity: 120
    ticket_price: "2500000000000000000"
  idempotency_key: rooftop-1
  initiator:
    external_id: user-42
    address: "0x..."

Quote addresses and prices so YAML keeps them as strings.

Examples:
  triad prepare --input event.yaml
  triad prepare --input event.yaml --banner banner.png --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrepare(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "creation request file (required)")
	_ = cmd.MarkFlagRequired("input")
	cmd.Flags().StringVar(&opts.Banner, "banner", "", "banner image to upload")
	cmd.Flags().StringVar(&opts.BannerType, "banner-type", "", "banner content type (detected when empty)")

	return cmd
}

func runPrepare(opts *PrepareOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	req, err := loadCreationInput(opts.Input)
	if err != nil {
		return out.Fail("failed to read input", err, nil)
	}
	if opts.Banner != "" {
		content, err := os.ReadFile(opts.Banner)
		if err != nil {
			return out.Fail("failed to read banner", err, nil)
		}
		ct := opts.BannerType
		if ct == "" {
			ct = http.DetectContentType(content)
		}
		req.Banner = &model.Attachment{Content: content, ContentType: ct}
	}

	return opts.withApp(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
		res, err := app.Orch.PrepareCreation(ctx, req)
		if err != nil {
			return out.Fail("prepare failed", err, validationDetails(err))
		}
		return out.Emit(res, renderPrepared(res))
	})
}

// loadCreationInput reads YAML or JSON. Both go through a generic decode so
// timestamps are parsed the same way regardless of format.
func loadCreationInput(path string) (saga.PrepareRequest, error) {
	var req saga.PrepareRequest
	raw, err := os.ReadFile(path)
	if err != nil {
		return req, err
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return req, fmt.Errorf("parse %s: %w", path, err)
	}
	normalized, err := json.Marshal(doc)
	if err != nil {
		return req, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := json.Unmarshal(normalized, &req); err != nil {
		return req, fmt.Errorf("parse %s: %w", path, err)
	}
	return req, nil
}

func validationDetails(err error) any {
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		return map[string]string{"field": ve.Field, "message": ve.Message}
	}
	if code := model.StorageCode(err); code != "" {
		return map[string]string{"storage_code": string(code)}
	}
	return nil
}

// CompleteOptions holds flags for the complete command.
type CompleteOptions struct {
	*RootOptions
	TxRef string
}

// NewCompleteCommand creates the complete command.
func NewCompleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompleteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "complete <operation-id>",
		Short: "Verify a signed transaction and write the cache copy",
		Long: `Verify the signed ledger transaction of a prepared operation, write the
relational cache copy and cross-check all three stores.

Running complete again on a finished operation prints the stored result.
After a verification timeout, run it again with the same or a replacement
transaction reference.

Examples:
  triad complete 01928f... --tx 0x5e1f...
  triad complete 01928f...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				res, err := app.Orch.CompleteCreation(ctx, saga.CompleteRequest{OperationID: args[0], TxRef: opts.TxRef})
				if err != nil {
					if res != nil {
						return out.Fail("complete failed", err, res)
					}
					return out.Fail("complete failed", err, validationDetails(err))
				}
				return out.Emit(res, renderCreation(res))
			})
		},
	}

	cmd.Flags().StringVar(&opts.TxRef, "tx", "", "signed transaction reference")

	return cmd
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <operation-id>",
		Short: "Show the persisted state of a creation operation",
		Long: `Show the phase, compensations and last error of a creation operation.

Examples:
  triad status 01928f...
  triad status 01928f... --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				op, err := app.Orch.Operation(ctx, args[0])
				if err != nil {
					return out.Fail("failed to load operation", err, nil)
				}
				return out.Emit(op, renderOperation(op))
			})
		},
	}
}

func renderOperation(op *model.OperationState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", styleTitle.Render("Operation"), op.ID)
	fmt.Fprintf(&b, "  record:  %s\n", op.RecordID)
	fmt.Fprintf(&b, "  phase:   %s\n", op.Phase)
	if op.LedgerTxRef != "" {
		fmt.Fprintf(&b, "  tx:      %s\n", op.LedgerTxRef)
	}
	fmt.Fprintf(&b, "  updated: %s\n", op.UpdatedAt.Format(time.RFC3339))
	for _, c := range op.Compensations {
		line := fmt.Sprintf("  #%d %s %s [%s]", c.Seq, c.Kind, c.Target, c.Status)
		if c.Error != "" {
			line += " " + styleBad.Render(c.Error)
		}
		b.WriteString(line + "\n")
	}
	if op.LastError != "" {
		fmt.Fprintf(&b, "  %s %s\n", styleBad.Render("last error:"), op.LastError)
	}
	return b.String()
}
