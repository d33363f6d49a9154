package cli

import (
	"context"
	"fmt"
	"math/big"

	"github.com/spf13/cobra"

	"github.com/roach88/triad/internal/ledger"
	"github.com/roach88/triad/internal/model"
)

// NewChainCommand creates the chain command group for the development
// ledger.
func NewChainCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Operate the local development ledger",
		Long: `Operate the SQLite development ledger: fund addresses, sign prepared
transactions as their initiator would, and mine pending transactions when
manual mining is enabled.`,
	}
	cmd.AddCommand(newChainFundCommand(rootOpts))
	cmd.AddCommand(newChainSignCommand(rootOpts))
	cmd.AddCommand(newChainMineCommand(rootOpts))
	return cmd
}

func newChainFundCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fund <address> <amount>",
		Short: "Set an address balance in base units",
		Long: `Set an address balance in base units on the development ledger.

Examples:
  triad chain fund 0x1111111111111111111111111111111111111111 1000000000000000000`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				if !ledger.ValidSigner(args[0]) {
					return out.Fail("fund failed", model.NewValidationError("address", "must be 0x followed by 40 hex characters"), nil)
				}
				amount, ok := new(big.Int).SetString(args[1], 10)
				if !ok || amount.Sign() < 0 {
					return out.Fail("fund failed", model.NewValidationError("amount", "must be a non-negative base-10 integer"), nil)
				}
				if err := app.Chain.Fund(ctx, args[0], amount); err != nil {
					return out.Fail("fund failed", err, nil)
				}
				res := map[string]string{"address": args[0], "balance": amount.String()}
				return out.Emit(res, fmt.Sprintf("funded %s with %s\n", args[0], amount))
			})
		},
	}
}

// SignResult is the chain sign command payload.
type SignResult struct {
	OperationID string `json:"operation_id"`
	TxRef       string `json:"tx_ref"`
}

func newChainSignCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sign <operation-id>",
		Short: "Sign and submit a prepared transaction as its initiator",
		Long: `Sign the unsigned transaction of a prepared operation with the
development key of its initiator and submit it to the development ledger.
This plays the part of the initiator's wallet; production deployments sign
outside triad.

Examples:
  triad chain sign 01928f...
  triad complete 01928f... --tx $(triad chain sign 01928f... --format json | jq -r .data.tx_ref)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				op, err := app.Orch.Operation(ctx, args[0])
				if err != nil {
					return out.Fail("sign failed", err, nil)
				}
				if op.UnsignedTx == nil || op.Phase != model.PhasePrepared {
					return out.Fail("sign failed",
						fmt.Errorf("operation %s is %s, not awaiting a signature", op.ID, op.Phase), nil)
				}
				ref, err := app.Chain.Submit(ctx, ledger.SignedTx{Tx: *op.UnsignedTx, Signature: ledger.Sign(*op.UnsignedTx)})
				if err != nil {
					return out.Fail("sign failed", err, nil)
				}
				res := SignResult{OperationID: op.ID, TxRef: ref}
				return out.Emit(res, ref+"\n")
			})
		},
	}
}

func newChainMineCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "mine",
		Short:         "Mine pending transactions into a block",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withApp(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				n, err := app.Chain.Mine(ctx)
				if err != nil {
					return out.Fail("mine failed", err, nil)
				}
				return out.Emit(map[string]int{"mined": n}, fmt.Sprintf("mined %d transaction(s)\n", n))
			})
		},
	}
}
