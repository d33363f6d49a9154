package model

import (
	"math/big"
	"strings"
	"time"
)

// RecordStatus is the lifecycle flag carried on a record. The ledger never
// updates a record in place; a correction is a new record and the old one is
// flagged superseded.
type RecordStatus string

const (
	StatusActive     RecordStatus = "active"
	StatusCancelled  RecordStatus = "cancelled"
	StatusSuperseded RecordStatus = "superseded"
)

// EventFields are the frozen core fields of an event listing.
type EventFields struct {
	Title       string    `json:"title" yaml:"title"`
	Description string    `json:"description,omitempty" yaml:"description"`
	Category    string    `json:"category,omitempty" yaml:"category"`
	Location    string    `json:"location,omitempty" yaml:"location"`
	StartsAt    time.Time `json:"starts_at" yaml:"starts_at"`
	EndsAt      time.Time `json:"ends_at" yaml:"ends_at"`
	MaxCapacity int64     `json:"max_capacity" yaml:"max_capacity"`

	// TicketPrice is a decimal string of base units.
	TicketPrice string `json:"ticket_price" yaml:"ticket_price"`
}

// Normalized trims text fields and truncates times to UTC seconds, the
// precision the ledger stores.
func (f EventFields) Normalized() EventFields {
	f.Title = strings.TrimSpace(f.Title)
	f.Description = strings.TrimSpace(f.Description)
	f.Category = strings.TrimSpace(f.Category)
	f.Location = strings.TrimSpace(f.Location)
	f.StartsAt = f.StartsAt.UTC().Truncate(time.Second)
	f.EndsAt = f.EndsAt.UTC().Truncate(time.Second)
	f.TicketPrice = strings.TrimSpace(f.TicketPrice)
	if f.TicketPrice == "" {
		f.TicketPrice = "0"
	}
	return f
}

// Price parses TicketPrice. ok is false for anything that is not a base-10
// integer.
func (f EventFields) Price() (*big.Int, bool) {
	return new(big.Int).SetString(f.TicketPrice, 10)
}

// Principal is the identity initiating a creation: an external account id
// plus the ledger address that will sign.
type Principal struct {
	ExternalID string `json:"external_id" yaml:"external_id"`
	Address    string `json:"address" yaml:"address"`
}

// Attachment is an optional binary upload such as a banner image.
type Attachment struct {
	Content     []byte `json:"-" yaml:"-"`
	ContentType string `json:"content_type" yaml:"content_type"`
}

// CreationInput is everything a caller supplies to start a creation.
type CreationInput struct {
	Fields         EventFields `json:"fields" yaml:"fields"`
	Slug           string      `json:"slug,omitempty" yaml:"slug"`
	IdempotencyKey string      `json:"idempotency_key,omitempty" yaml:"idempotency_key"`
	Initiator      Principal   `json:"initiator" yaml:"initiator"`
	Banner         *Attachment `json:"banner,omitempty" yaml:"banner"`
}

// Locations records where each copy of a record lives.
type Locations struct {
	// LedgerRef is the confirmed transaction that wrote the record.
	LedgerRef   string   `json:"ledger_ref,omitempty"`
	BlockRef    string   `json:"block_ref,omitempty"`
	CacheRef    string   `json:"cache_ref,omitempty"`
	MetadataRef string   `json:"metadata_ref,omitempty"`
	MediaRefs   []string `json:"media_refs,omitempty"`
}

// Record is one logical event listing. It is durable only once LedgerRef is
// set and confirmed; the cache and media copies are denormalised.
type Record struct {
	ID        string      `json:"id"`
	Slug      string      `json:"slug"`
	Fields    EventFields `json:"fields"`
	Organizer string      `json:"organizer"`
	// OrganizerID is the cache's principal id for Organizer.
	OrganizerID string       `json:"organizer_id,omitempty"`
	Signer      string       `json:"signer,omitempty"`
	Status      RecordStatus `json:"status"`
	Locations   Locations    `json:"locations"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Draft is the ledger-bound subset of a record, before it has a ledger ref.
type Draft struct {
	RecordID  string
	Slug      string
	Fields    EventFields
	Organizer string
	BannerRef string
}

// UnsignedTx is a prepared ledger transaction awaiting an external
// signature. Digest is what the signer signs.
type UnsignedTx struct {
	Network string `json:"network"`
	From    string `json:"from"`
	To      string `json:"to"`
	Method  string `json:"method"`
	Payload string `json:"payload"`
	Fee     string `json:"fee"`
	Digest  string `json:"digest"`
}

// TxStatus is the ledger-reported state of a submitted transaction.
type TxStatus string

const (
	TxSuccess TxStatus = "success"
	TxFailed  TxStatus = "failed"
	TxPending TxStatus = "pending"
)

// TxVerification is the result of one verification poll.
type TxVerification struct {
	Status   TxStatus `json:"status"`
	BlockRef string   `json:"block_ref,omitempty"`
	LedgerID string   `json:"ledger_id,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// Upload describes a stored media object.
type Upload struct {
	URI         string `json:"uri"`
	ContentHash string `json:"content_hash"`
	Size        int64  `json:"size"`
}

// ListQuery selects a page of cached records.
type ListQuery struct {
	Page      int
	Limit     int
	SortField string
	SortOrder string
	Category  string
	Location  string
}

// Page is one page of listing results.
type Page struct {
	Records []Record `json:"records"`
	Total   int      `json:"total"`
	Page    int      `json:"page"`
	Limit   int      `json:"limit"`
}

// Facets summarises the cached records for filter UIs.
type Facets struct {
	Categories []string `json:"categories"`
	Locations  []string `json:"locations"`
	MinPrice   string   `json:"min_price,omitempty"`
	MaxPrice   string   `json:"max_price,omitempty"`
}
