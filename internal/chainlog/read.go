package chainlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/roach88/triad/internal/ledger"
	"github.com/roach88/triad/internal/model"
)

var _ ledger.Chain = (*Chain)(nil)

func (c *Chain) NetworkID(ctx context.Context) (string, error) {
	var id string
	if err := c.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'network_id'`).Scan(&id); err != nil {
		return "", fmt.Errorf("read network id: %w", err)
	}
	return id, nil
}

func (c *Chain) GasPrice(ctx context.Context) (*big.Int, error) {
	var raw string
	if err := c.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'gas_price'`).Scan(&raw); err != nil {
		return nil, fmt.Errorf("read gas price: %w", err)
	}
	return parseAmount(raw)
}

// Balance returns zero for unknown addresses.
func (c *Chain) Balance(ctx context.Context, address string) (*big.Int, error) {
	return balance(ctx, c.db, strings.ToLower(address))
}

func (c *Chain) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Chain) Receipt(ctx context.Context, txRef string) (*ledger.Receipt, error) {
	var (
		r      ledger.Receipt
		status string
		block  sql.NullInt64
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT tx_ref, status, reason, block, record_id
		FROM transactions
		WHERE tx_ref = ?
	`, txRef).Scan(&r.TxRef, &status, &r.Reason, &block, &r.RecordID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrUnknownTx
	}
	if err != nil {
		return nil, fmt.Errorf("read receipt: %w", err)
	}
	r.Status = model.TxStatus(status)
	r.Block = block.Int64
	return &r, nil
}

func (c *Chain) Entry(ctx context.Context, recordID string) (*ledger.Entry, error) {
	var (
		e       ledger.Entry
		created int64
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT record_id, tx_ref, block, from_addr, payload, created_at
		FROM entries
		WHERE record_id = ?
	`, recordID).Scan(&e.RecordID, &e.TxRef, &e.Block, &e.From, &e.Payload, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read entry: %w", err)
	}
	e.Timestamp = time.Unix(created, 0).UTC()
	return &e, nil
}

// EntryIDs lists record ids in block order.
func (c *Chain) EntryIDs(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT record_id FROM entries ORDER BY block ASC, record_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func balance(ctx context.Context, q queryer, address string) (*big.Int, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE address = ?`, address).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	return parseAmount(raw)
}

func parseAmount(raw string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt amount %q", raw)
	}
	return n, nil
}
