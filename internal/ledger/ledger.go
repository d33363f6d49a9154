// Package ledger adapts an append-only signed chain to storage.LedgerStore.
//
// The store never signs. PrepareTransaction returns an UnsignedTx whose
// Digest an external wallet signs and submits; VerifyTransaction then polls
// the chain for the receipt. Records are never updated or deleted.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/triad/internal/logging"
	"github.com/roach88/triad/internal/model"
	"github.com/roach88/triad/internal/storage"
)

// ErrUnknownTx is returned by Chain.Receipt for transactions the chain has
// not seen yet.
var ErrUnknownTx = errors.New("unknown transaction")

// DefaultCreateGas is the gas charged for a createEvent call.
const DefaultCreateGas int64 = 150_000

// Receipt is the chain's record of a submitted transaction.
type Receipt struct {
	TxRef    string
	Status   model.TxStatus
	Block    int64
	RecordID string
	Reason   string
}

// Entry is a record as stored on chain.
type Entry struct {
	RecordID  string
	TxRef     string
	Block     int64
	From      string
	Payload   string
	Timestamp time.Time
}

// Chain is the read side of the ledger network.
type Chain interface {
	NetworkID(ctx context.Context) (string, error)
	Balance(ctx context.Context, address string) (*big.Int, error)
	GasPrice(ctx context.Context) (*big.Int, error)

	// Receipt returns ErrUnknownTx while the transaction is not known.
	Receipt(ctx context.Context, txRef string) (*Receipt, error)

	// Entry returns model.ErrNotFound for absent records.
	Entry(ctx context.Context, recordID string) (*Entry, error)

	Ping(ctx context.Context) error
}

// Config configures a Store.
type Config struct {
	Network       string
	Contract      string
	MaxCapacity   int64
	CreateGas     int64
	Timeout       time.Duration
	DegradedAfter time.Duration
}

// Store implements storage.LedgerStore.
type Store struct {
	chain Chain
	cfg   Config
	log   *slog.Logger
}

var _ storage.LedgerStore = (*Store)(nil)

// New returns a Store reading from chain.
func New(chain Chain, cfg Config) (*Store, error) {
	if chain == nil {
		return nil, fmt.Errorf("ledger: chain is required")
	}
	if cfg.Network == "" {
		return nil, fmt.Errorf("ledger: network id is required")
	}
	if !ValidSigner(cfg.Contract) {
		return nil, fmt.Errorf("ledger: contract address %q is not 0x + 40 hex", cfg.Contract)
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = DefaultMaxCapacity
	}
	if cfg.CreateGas <= 0 {
		cfg.CreateGas = DefaultCreateGas
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Store{chain: chain, cfg: cfg, log: logging.Component("ledger")}, nil
}

// Name returns the ledger store name.
func (s *Store) Name() string { return model.StoreLedger }

// Config reports the network, contract and capacity limit.
func (s *Store) Config() map[string]string {
	return map[string]string{
		"network":      s.cfg.Network,
		"contract":     s.cfg.Contract,
		"max_capacity": strconv.FormatInt(s.cfg.MaxCapacity, 10),
	}
}

// MaxCapacity is the configured capacity limit.
func (s *Store) MaxCapacity() int64 { return s.cfg.MaxCapacity }

// HealthCheck pings the chain under the configured timeout.
func (s *Store) HealthCheck(ctx context.Context) model.HealthStatus {
	return storage.Probe(ctx, s.Name(), s.cfg.Timeout, s.cfg.DegradedAfter, nil, s.chain.Ping)
}

// PrepareTransaction validates draft and builds an unsigned createEvent
// transaction embedding externalRef as the metadata pointer.
func (s *Store) PrepareTransaction(ctx context.Context, draft model.Draft, externalRef, signer string) (model.UnsignedTx, error) {
	if draft.RecordID == "" {
		return model.UnsignedTx{}, model.NewValidationError("record_id", "is required")
	}
	if externalRef == "" {
		return model.UnsignedTx{}, model.NewValidationError("metadata_ref", "is required")
	}
	if err := ValidateDraft(draft.Fields, signer, s.cfg.MaxCapacity); err != nil {
		return model.UnsignedTx{}, err
	}
	payload, err := EncodePayload(draft, externalRef)
	if err != nil {
		return model.UnsignedTx{}, err
	}

	fee, err := s.EstimateFee(ctx)
	if err != nil {
		return model.UnsignedTx{}, err
	}

	tx := model.UnsignedTx{
		Network: s.cfg.Network,
		From:    strings.ToLower(signer),
		To:      strings.ToLower(s.cfg.Contract),
		Method:  MethodCreateEvent,
		Payload: payload,
		Fee:     fee.String(),
	}
	tx.Digest, err = Digest(tx)
	if err != nil {
		return model.UnsignedTx{}, fmt.Errorf("prepare transaction: %w", err)
	}
	s.log.Debug("prepared transaction", "record_id", draft.RecordID, "from", tx.From, "fee", tx.Fee)
	return tx, nil
}

// VerifyTransaction maps the chain receipt to a verification result.
func (s *Store) VerifyTransaction(ctx context.Context, txRef string) (model.TxVerification, error) {
	if txRef == "" {
		return model.TxVerification{}, model.NewValidationError("tx_ref", "is required")
	}
	r, err := s.chain.Receipt(ctx, txRef)
	if errors.Is(err, ErrUnknownTx) {
		return model.TxVerification{Status: model.TxPending}, nil
	}
	if err != nil {
		return model.TxVerification{}, model.NewStorageError(model.StoreLedger, "verify", model.ErrCodeReadFailed, err)
	}

	v := model.TxVerification{Status: r.Status, Reason: r.Reason}
	if r.Status == model.TxSuccess {
		v.BlockRef = strconv.FormatInt(r.Block, 10)
		v.LedgerID = r.RecordID
	}
	return v, nil
}

// GetByID reads a record from chain.
func (s *Store) GetByID(ctx context.Context, id string) (*model.Record, error) {
	e, err := s.chain.Entry(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("ledger record %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, model.NewStorageError(model.StoreLedger, "get", model.ErrCodeReadFailed, err)
	}
	rec, err := DecodePayload(e.Payload)
	if err != nil {
		return nil, model.NewStorageError(model.StoreLedger, "get", model.ErrCodeReadFailed, err)
	}
	rec.Signer = e.From
	rec.Locations.LedgerRef = e.TxRef
	rec.Locations.BlockRef = strconv.FormatInt(e.Block, 10)
	rec.CreatedAt = e.Timestamp
	rec.UpdatedAt = e.Timestamp
	return rec, nil
}

// Balance returns the spendable balance of address.
func (s *Store) Balance(ctx context.Context, address string) (*big.Int, error) {
	b, err := s.chain.Balance(ctx, strings.ToLower(address))
	if err != nil {
		return nil, model.NewStorageError(model.StoreLedger, "balance", model.ErrCodeReadFailed, err)
	}
	return b, nil
}

// NetworkID returns the id of the network the chain is on.
func (s *Store) NetworkID(ctx context.Context) (string, error) {
	id, err := s.chain.NetworkID(ctx)
	if err != nil {
		return "", model.NewStorageError(model.StoreLedger, "network_id", model.ErrCodeReadFailed, err)
	}
	return id, nil
}

// EstimateFee is gas price times the createEvent gas.
func (s *Store) EstimateFee(ctx context.Context) (*big.Int, error) {
	price, err := s.chain.GasPrice(ctx)
	if err != nil {
		return nil, model.NewStorageError(model.StoreLedger, "estimate_fee", model.ErrCodeReadFailed, err)
	}
	return new(big.Int).Mul(price, big.NewInt(s.cfg.CreateGas)), nil
}
