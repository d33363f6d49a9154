package model

import (
	"strconv"
	"time"
)

// DiscrepancyKind classifies a cross-store divergence.
type DiscrepancyKind string

const (
	MissingInLedger    DiscrepancyKind = "missing_in_ledger"
	MissingInCache     DiscrepancyKind = "missing_in_cache"
	MissingInMedia     DiscrepancyKind = "missing_in_media"
	MissingLedgerProof DiscrepancyKind = "missing_ledger_proof"
	FieldMismatch      DiscrepancyKind = "field_mismatch"
	MediaUnreachable   DiscrepancyKind = "media_unreachable"
)

// Discrepancy is one divergence found by a consistency check.
type Discrepancy struct {
	Kind   DiscrepancyKind `json:"kind"`
	Field  string          `json:"field,omitempty"`
	Ledger string          `json:"ledger,omitempty"`
	Cache  string          `json:"cache,omitempty"`
	Detail string          `json:"detail,omitempty"`
}

// ConsistencyReport is the read-only result of checking one record.
type ConsistencyReport struct {
	RecordID        string        `json:"record_id"`
	PresentInLedger bool          `json:"present_in_ledger"`
	PresentInCache  bool          `json:"present_in_cache"`
	PresentInMedia  bool          `json:"present_in_media"`
	Discrepancies   []Discrepancy `json:"discrepancies"`
	CheckedAt       time.Time     `json:"checked_at"`
}

// Consistent is true iff no discrepancies were found.
func (r ConsistencyReport) Consistent() bool {
	return len(r.Discrepancies) == 0
}

// RepairAction describes one mutation performed by a repair.
type RepairAction struct {
	Store  string `json:"store"`
	Op     string `json:"op"`
	Detail string `json:"detail,omitempty"`
}

// RepairResult summarises a repair. ManualIntervention lists divergences
// that cannot be fixed automatically.
type RepairResult struct {
	RecordID           string         `json:"record_id"`
	Actions            []RepairAction `json:"actions"`
	Errors             []string       `json:"errors,omitempty"`
	ManualIntervention []string       `json:"manual_intervention,omitempty"`
}

// CriticalFieldDiff compares the fields that must agree between the ledger
// and the cache. Ledger values are authoritative.
func CriticalFieldDiff(ledger, cache EventFields) []Discrepancy {
	var out []Discrepancy
	add := func(field, l, c string) {
		if l != c {
			out = append(out, Discrepancy{Kind: FieldMismatch, Field: field, Ledger: l, Cache: c})
		}
	}
	add("title", ledger.Title, cache.Title)
	add("ticket_price", normalizePrice(ledger.TicketPrice), normalizePrice(cache.TicketPrice))
	add("max_capacity", itoa(ledger.MaxCapacity), itoa(cache.MaxCapacity))
	add("starts_at", ledger.StartsAt.UTC().Format(time.RFC3339), cache.StartsAt.UTC().Format(time.RFC3339))
	add("ends_at", ledger.EndsAt.UTC().Format(time.RFC3339), cache.EndsAt.UTC().Format(time.RFC3339))
	return out
}

func normalizePrice(s string) string {
	f := EventFields{TicketPrice: s}
	if p, ok := f.Price(); ok {
		return p.String()
	}
	return s
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
