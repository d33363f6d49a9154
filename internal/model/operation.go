package model

import (
	"fmt"
	"time"
)

// Phase is the position of a creation operation in its state machine.
type Phase string

const (
	// PhasePreparing covers media uploads and transaction preparation.
	PhasePreparing Phase = "preparing"
	// PhasePrepared means an unsigned transaction was handed to the caller.
	PhasePrepared        Phase = "prepared"
	PhaseLedgerVerifying Phase = "ledger_verifying"
	PhaseLedgerConfirmed Phase = "ledger_confirmed"
	PhaseCacheWritten    Phase = "cache_written"
	PhaseConsistent      Phase = "consistent"
	// PhaseRollingBack is persisted before compensations run so an
	// interrupted rollback can be resumed.
	PhaseRollingBack Phase = "rolling_back"
	PhaseFailed      Phase = "failed"
)

var transitions = map[Phase][]Phase{
	PhasePreparing:       {PhasePrepared, PhaseRollingBack, PhaseFailed},
	PhasePrepared:        {PhaseLedgerVerifying, PhaseRollingBack, PhaseFailed},
	PhaseLedgerVerifying: {PhaseLedgerConfirmed, PhaseRollingBack, PhaseFailed},
	PhaseLedgerConfirmed: {PhaseCacheWritten, PhaseFailed},
	PhaseCacheWritten:    {PhaseConsistent, PhaseRollingBack, PhaseFailed},
	PhaseRollingBack:     {PhaseFailed},
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseConsistent || p == PhaseFailed
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CompensationKind tags what a compensation undoes. Compensations never
// target the ledger.
type CompensationKind string

const (
	CompensateDeleteMedia       CompensationKind = "delete_media"
	CompensateDeleteCacheRecord CompensationKind = "delete_cache_record"
)

// CompensationStatus tracks whether a compensation has fired.
type CompensationStatus string

const (
	CompensationPending CompensationStatus = "pending"
	CompensationDone    CompensationStatus = "done"
	CompensationFailed  CompensationStatus = "failed"
	// CompensationRetired marks an undo that must no longer run, e.g. media
	// referenced by a confirmed ledger record.
	CompensationRetired CompensationStatus = "retired"
)

// Compensation is a serialisable undo descriptor.
type Compensation struct {
	Seq    int                `json:"seq"`
	Kind   CompensationKind   `json:"kind"`
	Target string             `json:"target"`
	Status CompensationStatus `json:"status"`
	Error  string             `json:"error,omitempty"`
}

// OperationState is the persisted progress of one creation, keyed by ID.
// Any process holding the ID can resume it.
type OperationState struct {
	ID             string          `json:"id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	RecordID       string          `json:"record_id"`
	Slug           string          `json:"slug"`
	Phase          Phase           `json:"phase"`
	Input          CreationInput   `json:"input"`
	InputHash      string          `json:"input_hash"`
	MetadataRef    string          `json:"metadata_ref,omitempty"`
	MediaRefs      []string        `json:"media_refs,omitempty"`
	UnsignedTx     *UnsignedTx     `json:"unsigned_tx,omitempty"`
	LedgerTxRef    string          `json:"ledger_tx_ref,omitempty"`
	BlockRef       string          `json:"block_ref,omitempty"`
	CacheRecordID  string          `json:"cache_record_id,omitempty"`
	Compensations  []Compensation  `json:"compensations,omitempty"`
	Result         *CreationResult `json:"result,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Advance moves the operation to next, rejecting illegal edges.
func (op *OperationState) Advance(next Phase) error {
	if op.Phase == next {
		return nil
	}
	if !CanTransition(op.Phase, next) {
		return fmt.Errorf("operation %s: illegal transition %s -> %s", op.ID, op.Phase, next)
	}
	op.Phase = next
	return nil
}

// AddCompensation registers an undo step with the next sequence number.
func (op *OperationState) AddCompensation(kind CompensationKind, target string) {
	op.Compensations = append(op.Compensations, Compensation{
		Seq:    len(op.Compensations) + 1,
		Kind:   kind,
		Target: target,
		Status: CompensationPending,
	})
}

// RetireCompensations stops pending compensations of kind from ever firing.
func (op *OperationState) RetireCompensations(kind CompensationKind) {
	for i := range op.Compensations {
		c := &op.Compensations[i]
		if c.Kind == kind && c.Status == CompensationPending {
			c.Status = CompensationRetired
		}
	}
}

// PendingCompensations counts compensations that have not fired.
func (op *OperationState) PendingCompensations() int {
	n := 0
	for _, c := range op.Compensations {
		if c.Status == CompensationPending {
			n++
		}
	}
	return n
}

// CreatedOn reports which stores hold a copy of the record.
type CreatedOn struct {
	Ledger bool `json:"ledger"`
	Cache  bool `json:"cache"`
	Media  bool `json:"media"`
}

// CreationResult is returned by CompleteCreation even on partial failure so
// the caller can retry only the missing layer.
type CreationResult struct {
	OperationID string    `json:"operation_id"`
	RecordID    string    `json:"record_id"`
	LedgerRef   string    `json:"ledger_ref,omitempty"`
	BlockRef    string    `json:"block_ref,omitempty"`
	CacheRef    string    `json:"cache_ref,omitempty"`
	MediaRefs   []string  `json:"media_refs,omitempty"`
	CreatedOn   CreatedOn `json:"created_on"`
	Errors      []string  `json:"errors,omitempty"`
}
