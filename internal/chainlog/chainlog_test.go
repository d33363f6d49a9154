package chainlog

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/triad/internal/ledger"
	"github.com/roach88/triad/internal/model"
)

const (
	testNetwork  = "triad-dev-1"
	testSigner   = "0x1111111111111111111111111111111111111111"
	testContract = "0x2222222222222222222222222222222222222222"
)

func createTestChain(t *testing.T, opts Options) *Chain {
	t.Helper()
	if opts.Network == "" {
		opts.Network = testNetwork
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Unix(1_800_000_000, 0) }
	}
	c, err := Open(filepath.Join(t.TempDir(), "chain.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func prepareSigned(t *testing.T, c *Chain, recordID string) ledger.SignedTx {
	t.Helper()
	store, err := ledger.New(c, ledger.Config{Network: testNetwork, Contract: testContract})
	require.NoError(t, err)

	start := time.Date(2027, 3, 1, 18, 0, 0, 0, time.UTC)
	tx, err := store.PrepareTransaction(context.Background(), model.Draft{
		RecordID:  recordID,
		Slug:      "launch-" + recordID,
		Organizer: "user-1",
		Fields: model.EventFields{
			Title:       "Launch",
			StartsAt:    start,
			EndsAt:      start.Add(2 * time.Hour),
			MaxCapacity: 100,
			TicketPrice: "0",
		},
	}, "ipfs://meta", testSigner)
	require.NoError(t, err)
	return ledger.SignedTx{Tx: tx, Signature: ledger.Sign(tx)}
}

func fund(t *testing.T, c *Chain) {
	t.Helper()
	require.NoError(t, c.Fund(context.Background(), testSigner, big.NewInt(1_000_000_000_000_000)))
}

func TestOpenAppliesPragmasAndVersion(t *testing.T) {
	c := createTestChain(t, Options{})

	var mode string
	require.NoError(t, c.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var version int
	require.NoError(t, c.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)

	id, err := c.NetworkID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testNetwork, id)
}

func TestOpenRejectsOtherNetwork(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.db")
	c, err := Open(path, Options{Network: "a"})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = Open(path, Options{Network: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `belongs to network "a"`)
}

func TestSubmitWritesEntry(t *testing.T) {
	c := createTestChain(t, Options{})
	fund(t, c)
	ctx := context.Background()

	stx := prepareSigned(t, c, "rec-1")
	ref, err := c.Submit(ctx, stx)
	require.NoError(t, err)
	assert.Equal(t, TxRef(stx), ref)

	r, err := c.Receipt(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.TxSuccess, r.Status)
	assert.Equal(t, int64(1), r.Block)
	assert.Equal(t, "rec-1", r.RecordID)

	e, err := c.Entry(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, ref, e.TxRef)
	assert.Equal(t, testSigner, e.From)
	assert.Equal(t, stx.Tx.Payload, e.Payload)

	fee, _ := new(big.Int).SetString(stx.Tx.Fee, 10)
	bal, err := c.Balance(ctx, testSigner)
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Sub(big.NewInt(1_000_000_000_000_000), fee).String(), bal.String())

	again, err := c.Submit(ctx, stx)
	require.NoError(t, err, "resubmission is idempotent")
	assert.Equal(t, ref, again)
}

func TestSubmitSameRecordTwiceFails(t *testing.T) {
	c := createTestChain(t, Options{})
	fund(t, c)
	ctx := context.Background()

	_, err := c.Submit(ctx, prepareSigned(t, c, "rec-1"))
	require.NoError(t, err)

	second := prepareSigned(t, c, "rec-1")
	second.Tx.Payload = second.Tx.Payload + " "
	second.Tx.Digest, err = ledger.Digest(second.Tx)
	require.NoError(t, err)
	second.Signature = ledger.Sign(second.Tx)

	ref, err := c.Submit(ctx, second)
	require.NoError(t, err)
	r, err := c.Receipt(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.TxFailed, r.Status)
	assert.Equal(t, "record already exists", r.Reason)
}

func TestSubmitInsufficientFunds(t *testing.T) {
	c := createTestChain(t, Options{})
	ctx := context.Background()

	ref, err := c.Submit(ctx, prepareSigned(t, c, "rec-1"))
	require.NoError(t, err)

	r, err := c.Receipt(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.TxFailed, r.Status)
	assert.Equal(t, "insufficient funds", r.Reason)

	_, err = c.Entry(ctx, "rec-1")
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestSubmitRejectsTampering(t *testing.T) {
	c := createTestChain(t, Options{})
	ctx := context.Background()

	stx := prepareSigned(t, c, "rec-1")
	stx.Tx.Fee = "0"
	_, err := c.Submit(ctx, stx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "digest mismatch")

	stx = prepareSigned(t, c, "rec-1")
	stx.Signature = "forged"
	_, err = c.Submit(ctx, stx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature")

	_, err = c.Receipt(ctx, TxRef(stx))
	assert.ErrorIs(t, err, ledger.ErrUnknownTx)
}

func TestManualMining(t *testing.T) {
	c := createTestChain(t, Options{ManualMining: true})
	fund(t, c)
	ctx := context.Background()

	ref, err := c.Submit(ctx, prepareSigned(t, c, "rec-1"))
	require.NoError(t, err)

	r, err := c.Receipt(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.TxPending, r.Status)

	n, err := c.Mine(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	r, err = c.Receipt(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.TxSuccess, r.Status)
}

func TestFailPendingTransaction(t *testing.T) {
	c := createTestChain(t, Options{ManualMining: true})
	ctx := context.Background()

	ref, err := c.Submit(ctx, prepareSigned(t, c, "rec-1"))
	require.NoError(t, err)
	require.NoError(t, c.Fail(ctx, ref, "reverted"))
	assert.ErrorIs(t, c.Fail(ctx, ref, "again"), ErrNotPending)

	r, err := c.Receipt(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.TxFailed, r.Status)
	assert.Equal(t, "reverted", r.Reason)
}

func TestEntriesAreAppendOnly(t *testing.T) {
	c := createTestChain(t, Options{})
	fund(t, c)
	ctx := context.Background()

	_, err := c.Submit(ctx, prepareSigned(t, c, "rec-1"))
	require.NoError(t, err)

	_, err = c.db.Exec(`UPDATE entries SET payload = '{}' WHERE record_id = 'rec-1'`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = c.db.Exec(`DELETE FROM entries WHERE record_id = 'rec-1'`)
	require.Error(t, err)

	ids, err := c.EntryIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-1"}, ids)
}

func TestFundValidates(t *testing.T) {
	c := createTestChain(t, Options{})
	ctx := context.Background()

	require.Error(t, c.Fund(ctx, "not-an-address", big.NewInt(1)))
	require.Error(t, c.Fund(ctx, testSigner, big.NewInt(0)))

	require.NoError(t, c.Fund(ctx, testSigner, big.NewInt(5)))
	require.NoError(t, c.Fund(ctx, testSigner, big.NewInt(7)))
	bal, err := c.Balance(ctx, testSigner)
	require.NoError(t, err)
	assert.Equal(t, "12", bal.String())

	zero, err := c.Balance(ctx, testContract)
	require.NoError(t, err)
	assert.Equal(t, "0", zero.String())
}

func TestGasPrice(t *testing.T) {
	c := createTestChain(t, Options{})
	ctx := context.Background()

	p, err := c.GasPrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultGasPrice.String(), p.String())

	require.NoError(t, c.SetGasPrice(ctx, big.NewInt(3)))
	p, err = c.GasPrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, "3", p.String())
}
