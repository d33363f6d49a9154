package chainlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/roach88/triad/internal/canonical"
	"github.com/roach88/triad/internal/ledger"
)

const domainTxRef = "triad/chainlog/tx/v1"

var _ ledger.Submitter = (*Chain)(nil)

// TxRef derives the transaction reference from its digest and signature.
func TxRef(stx ledger.SignedTx) string {
	return "0x" + canonical.HashWithDomain(domainTxRef, []byte(stx.Tx.Digest+"|"+stx.Signature))
}

// Submit accepts a signed transaction. Invalid signatures and foreign
// networks are rejected outright; execution failures are recorded as a
// failed receipt. Resubmitting the same signed transaction is a no-op that
// returns the same ref.
func (c *Chain) Submit(ctx context.Context, stx ledger.SignedTx) (string, error) {
	if err := ledger.VerifySigned(stx); err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	network, err := c.NetworkID(ctx)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	if stx.Tx.Network != network {
		return "", fmt.Errorf("submit: transaction for network %q sent to %q", stx.Tx.Network, network)
	}

	ref := TxRef(stx)
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("submit: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions
		(tx_ref, from_addr, to_addr, method, payload, fee, digest, signature, status, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?)
		ON CONFLICT(tx_ref) DO NOTHING
	`,
		ref,
		strings.ToLower(stx.Tx.From),
		strings.ToLower(stx.Tx.To),
		stx.Tx.Method,
		stx.Tx.Payload,
		stx.Tx.Fee,
		stx.Tx.Digest,
		stx.Signature,
		c.opts.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("submit: insert: %w", err)
	}

	if !c.opts.ManualMining {
		if _, err := c.mine(ctx, tx); err != nil {
			return "", fmt.Errorf("submit: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("submit: commit: %w", err)
	}
	return ref, nil
}

// Mine executes all pending transactions in submission order and returns
// how many were processed.
func (c *Chain) Mine(ctx context.Context) (int, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mine: begin tx: %w", err)
	}
	defer tx.Rollback()

	n, err := c.mine(ctx, tx)
	if err != nil {
		return 0, fmt.Errorf("mine: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mine: commit: %w", err)
	}
	return n, nil
}

type pendingTx struct {
	ref     string
	from    string
	method  string
	payload string
	fee     string
}

func (c *Chain) mine(ctx context.Context, tx *sql.Tx) (int, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT tx_ref, from_addr, method, payload, fee
		FROM transactions
		WHERE status = 'pending'
		ORDER BY seq ASC
	`)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}
	var pending []pendingTx
	for rows.Next() {
		var p pendingTx
		if err := rows.Scan(&p.ref, &p.from, &p.method, &p.payload, &p.fee); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan pending: %w", err)
		}
		pending = append(pending, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, p := range pending {
		if err := c.execute(ctx, tx, p); err != nil {
			return 0, err
		}
	}
	return len(pending), nil
}

// execute applies one transaction and stamps its receipt. Only infrastructure
// errors are returned; contract-level rejections become failed receipts.
func (c *Chain) execute(ctx context.Context, tx *sql.Tx, p pendingTx) error {
	var block int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(block), 0) + 1 FROM transactions`).Scan(&block); err != nil {
		return fmt.Errorf("next block: %w", err)
	}

	recordID, reason, err := c.apply(ctx, tx, p, block)
	if err != nil {
		return err
	}

	status := "success"
	if reason != "" {
		status = "failed"
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE transactions SET status = ?, reason = ?, block = ?, record_id = ?
		WHERE tx_ref = ?
	`, status, reason, block, recordID, p.ref)
	if err != nil {
		return fmt.Errorf("stamp receipt: %w", err)
	}
	return nil
}

func (c *Chain) apply(ctx context.Context, tx *sql.Tx, p pendingTx, block int64) (recordID, reason string, err error) {
	if p.method != ledger.MethodCreateEvent {
		return "", fmt.Sprintf("unknown method %q", p.method), nil
	}
	recordID, perr := ledger.PayloadRecordID(p.payload)
	if perr != nil {
		return "", perr.Error(), nil
	}
	fee, ok := new(big.Int).SetString(p.fee, 10)
	if !ok || fee.Sign() < 0 {
		return recordID, "invalid fee", nil
	}

	bal, err := balance(ctx, tx, p.from)
	if err != nil {
		return "", "", err
	}
	if bal.Cmp(fee) < 0 {
		return recordID, "insufficient funds", nil
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO entries (record_id, tx_ref, block, from_addr, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_id) DO NOTHING
	`, recordID, p.ref, block, p.from, p.payload, c.opts.Now().Unix())
	if err != nil {
		return "", "", fmt.Errorf("insert entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return recordID, "record already exists", nil
	}

	if err := setBalance(ctx, tx, p.from, new(big.Int).Sub(bal, fee)); err != nil {
		return "", "", err
	}
	return recordID, "", nil
}

// Fund credits amount to address. Development networks only.
func (c *Chain) Fund(ctx context.Context, address string, amount *big.Int) error {
	if !ledger.ValidSigner(address) {
		return fmt.Errorf("fund: invalid address %q", address)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("fund: amount must be positive")
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("fund: begin tx: %w", err)
	}
	defer tx.Rollback()

	addr := strings.ToLower(address)
	bal, err := balance(ctx, tx, addr)
	if err != nil {
		return fmt.Errorf("fund: %w", err)
	}
	if err := setBalance(ctx, tx, addr, bal.Add(bal, amount)); err != nil {
		return fmt.Errorf("fund: %w", err)
	}
	return tx.Commit()
}

func setBalance(ctx context.Context, tx *sql.Tx, address string, amount *big.Int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (address, balance) VALUES (?, ?)
		ON CONFLICT(address) DO UPDATE SET balance = excluded.balance
	`, address, amount.String())
	if err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return nil
}

// ErrNotPending is returned by Fail for transactions that already executed.
var ErrNotPending = errors.New("transaction is not pending")

// Fail marks a pending transaction as failed without executing it, as a
// network would on revert.
func (c *Chain) Fail(ctx context.Context, txRef, reason string) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = 'failed', reason = ?, block = (SELECT COALESCE(MAX(block), 0) + 1 FROM transactions)
		WHERE tx_ref = ? AND status = 'pending'
	`, reason, txRef)
	if err != nil {
		return fmt.Errorf("fail tx: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotPending
	}
	return nil
}
