package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/sethvargo/go-retry"

	"github.com/roach88/triad/internal/model"
)

var errStillPending = errors.New("transaction still pending")

// verify polls the ledger until txRef settles or attempts run out. A
// pending result or a transport error after the last attempt is reported
// as VERIFY_TIMEOUT; a failed transaction as TX_FAILED.
func (o *Orchestrator) verify(ctx context.Context, txRef string) (model.TxVerification, error) {
	var v model.TxVerification
	backoff := retry.WithMaxRetries(uint64(o.opts.VerifyAttempts-1), retry.NewConstant(o.opts.VerifyDelay))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		got, err := o.ledger.VerifyTransaction(ctx, txRef)
		if err != nil {
			if model.IsValidation(err) {
				return err
			}
			o.logger(ctx).Debug("verify attempt failed", "tx_ref", txRef, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		v = got
		if got.Status == model.TxPending {
			return retry.RetryableError(errStillPending)
		}
		return nil
	})

	switch {
	case err == nil:
	case model.IsValidation(err):
		return v, err
	case ctx.Err() != nil:
		return v, model.NewStorageError(model.StoreLedger, "verify", model.ErrCodeVerifyTimeout, ctx.Err())
	default:
		return v, model.NewStorageError(model.StoreLedger, "verify", model.ErrCodeVerifyTimeout,
			fmt.Errorf("%s after %d attempts: %w", txRef, attempt, err))
	}

	if v.Status == model.TxFailed {
		reason := v.Reason
		if reason == "" {
			reason = "reverted"
		}
		return v, model.NewStorageError(model.StoreLedger, "verify", model.ErrCodeTxFailed,
			fmt.Errorf("%s: %s", txRef, reason))
	}
	return v, nil
}
