package testutil

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/roach88/triad/internal/ledger"
	"github.com/roach88/triad/internal/model"
	"github.com/roach88/triad/internal/storage"
)

// Fake ledger constants.
const (
	FakeNetwork  = "testnet"
	FakeContract = "0x00000000000000000000000000000000000000c0"
	FakeFee      = "150000"
	// FakeSigner is the address FakeLedger signs as when it stands in for a
	// service-held signer.
	FakeSigner = "0x00000000000000000000000000000000000000f1"
)

type fakeTx struct {
	tx     model.UnsignedTx
	status model.TxStatus
	block  int64
	reason string
}

// FakeLedger is an in-memory storage.LedgerStore. Transactions are built
// with the real payload encoding; Submit plays the part of the wallet and
// chain.
//
// Fault ops: "prepare", "verify", "get", "submit".
type FakeLedger struct {
	Faults

	mu          sync.Mutex
	journal     *Journal
	now         func() time.Time
	health      model.HealthState
	maxCapacity int64
	txs         map[string]*fakeTx
	order       []string
	entries     map[string]model.Record
	block       int64
	prepared    int
	balance     *big.Int
	network     string
}

var _ storage.LedgerStore = (*FakeLedger)(nil)

// NewFakeLedger returns an empty ledger. now defaults to time.Now.
func NewFakeLedger(journal *Journal, now func() time.Time) *FakeLedger {
	if now == nil {
		now = time.Now
	}
	return &FakeLedger{
		journal:     journal,
		now:         now,
		health:      model.Healthy,
		maxCapacity: ledger.DefaultMaxCapacity,
		txs:         make(map[string]*fakeTx),
		entries:     make(map[string]model.Record),
		balance:     new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		network:     FakeNetwork,
	}
}

func (l *FakeLedger) Name() string { return model.StoreLedger }

func (l *FakeLedger) Config() map[string]string {
	return map[string]string{"network": FakeNetwork, "contract": FakeContract}
}

// SetHealth sets what HealthCheck reports.
func (l *FakeLedger) SetHealth(s model.HealthState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.health = s
}

func (l *FakeLedger) HealthCheck(context.Context) model.HealthStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return model.HealthStatus{Store: l.Name(), Status: l.health, ResponseTime: time.Millisecond}
}

func (l *FakeLedger) PrepareTransaction(_ context.Context, draft model.Draft, externalRef, signer string) (model.UnsignedTx, error) {
	if err := l.check("prepare"); err != nil {
		return model.UnsignedTx{}, model.NewStorageError(model.StoreLedger, "prepare", model.ErrCodeUnavailable, err)
	}
	if err := ledger.ValidateDraft(draft.Fields, signer, l.maxCapacity); err != nil {
		return model.UnsignedTx{}, err
	}
	payload, err := ledger.EncodePayload(draft, externalRef)
	if err != nil {
		return model.UnsignedTx{}, err
	}
	tx := model.UnsignedTx{
		Network: FakeNetwork,
		From:    strings.ToLower(signer),
		To:      FakeContract,
		Method:  ledger.MethodCreateEvent,
		Payload: payload,
		Fee:     FakeFee,
	}
	if tx.Digest, err = ledger.Digest(tx); err != nil {
		return model.UnsignedTx{}, err
	}
	l.mu.Lock()
	l.prepared++
	l.mu.Unlock()
	l.journal.Record("ledger.prepare %s", draft.RecordID)
	return tx, nil
}

// Prepared counts successful PrepareTransaction calls.
func (l *FakeLedger) Prepared() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.prepared
}

// Submit records tx with the given outcome and returns its ref
// ("0xtx-1", ...). A success writes the ledger entry immediately.
func (l *FakeLedger) Submit(tx model.UnsignedTx, outcome model.TxStatus) (string, error) {
	if err := l.check("submit"); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ref := fmt.Sprintf("0xtx-%d", len(l.order)+1)
	l.txs[ref] = &fakeTx{tx: tx, status: model.TxPending}
	l.order = append(l.order, ref)
	l.journal.Record("ledger.submit %s", ref)
	switch outcome {
	case model.TxSuccess:
		return ref, l.land(ref)
	case model.TxFailed:
		l.txs[ref].status = model.TxFailed
		l.txs[ref].reason = "execution reverted"
	}
	return ref, nil
}

// Address is the service signer address, FakeSigner.
func (l *FakeLedger) Address() string { return FakeSigner }

// SignAndSubmit submits tx as a successful transaction. It lets FakeLedger
// stand in for a service-held signer.
func (l *FakeLedger) SignAndSubmit(_ context.Context, tx model.UnsignedTx) (string, error) {
	return l.Submit(tx, model.TxSuccess)
}

// Land confirms a pending transaction.
func (l *FakeLedger) Land(ref string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.land(ref)
}

// Fail marks a pending transaction failed.
func (l *FakeLedger) Fail(ref, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.txs[ref]; ok {
		t.status, t.reason = model.TxFailed, reason
	}
}

func (l *FakeLedger) land(ref string) error {
	t, ok := l.txs[ref]
	if !ok {
		return fmt.Errorf("unknown tx %s", ref)
	}
	rec, err := ledger.DecodePayload(t.tx.Payload)
	if err != nil {
		return err
	}
	if _, dup := l.entries[rec.ID]; dup {
		t.status, t.reason = model.TxFailed, "record already exists"
		return nil
	}
	l.block++
	t.status, t.block = model.TxSuccess, l.block
	rec.Signer = t.tx.From
	rec.Locations.LedgerRef = ref
	rec.Locations.BlockRef = strconv.FormatInt(t.block, 10)
	rec.CreatedAt = l.now()
	rec.UpdatedAt = rec.CreatedAt
	l.entries[rec.ID] = copyRecord(*rec)
	return nil
}

func (l *FakeLedger) VerifyTransaction(_ context.Context, txRef string) (model.TxVerification, error) {
	if err := l.check("verify"); err != nil {
		return model.TxVerification{}, model.NewStorageError(model.StoreLedger, "verify", model.ErrCodeReadFailed, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.journal.Record("ledger.verify %s", txRef)
	t, ok := l.txs[txRef]
	if !ok {
		return model.TxVerification{Status: model.TxPending}, nil
	}
	v := model.TxVerification{Status: t.status, Reason: t.reason}
	if t.status == model.TxSuccess {
		v.BlockRef = strconv.FormatInt(t.block, 10)
		id, _ := ledger.PayloadRecordID(t.tx.Payload)
		v.LedgerID = id
	}
	return v, nil
}

func (l *FakeLedger) GetByID(_ context.Context, id string) (*model.Record, error) {
	if err := l.check("get"); err != nil {
		return nil, model.NewStorageError(model.StoreLedger, "get", model.ErrCodeReadFailed, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.entries[id]
	if !ok {
		return nil, fmt.Errorf("ledger record %s: %w", id, model.ErrNotFound)
	}
	out := copyRecord(rec)
	return &out, nil
}

// Put writes rec straight into the ledger, bypassing transactions.
func (l *FakeLedger) Put(rec model.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[rec.ID] = copyRecord(rec)
}

// Entries counts ledger records.
func (l *FakeLedger) Entries() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// SetBalance sets the balance reported for every address.
func (l *FakeLedger) SetBalance(b *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance = new(big.Int).Set(b)
}

// SetNetwork changes the reported network id.
func (l *FakeLedger) SetNetwork(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.network = id
}

func (l *FakeLedger) Balance(context.Context, string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balance), nil
}

func (l *FakeLedger) NetworkID(context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.network, nil
}

func (l *FakeLedger) EstimateFee(context.Context) (*big.Int, error) {
	fee, _ := new(big.Int).SetString(FakeFee, 10)
	return fee, nil
}
