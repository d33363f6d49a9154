package ledger

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/roach88/triad/internal/canonical"
	"github.com/roach88/triad/internal/model"
)

// MethodCreateEvent is the only contract method the orchestrator prepares.
const MethodCreateEvent = "createEvent"

// DefaultMaxCapacity bounds max_capacity when no limit is configured.
const DefaultMaxCapacity int64 = 1_000_000

var signerPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidSigner reports whether addr has the form 0x + 40 hex characters.
func ValidSigner(addr string) bool {
	return signerPattern.MatchString(addr)
}

// ValidateDraft checks the invariants the ledger enforces. It runs before
// any network call.
func ValidateDraft(f model.EventFields, signer string, maxCapacity int64) error {
	if maxCapacity <= 0 {
		maxCapacity = DefaultMaxCapacity
	}
	if strings.TrimSpace(f.Title) == "" {
		return model.NewValidationError("title", "must not be empty")
	}
	if f.StartsAt.IsZero() {
		return model.NewValidationError("starts_at", "is required")
	}
	if !f.EndsAt.After(f.StartsAt) {
		return model.NewValidationError("ends_at", "must be after starts_at")
	}
	price, ok := f.Price()
	if !ok {
		return model.NewValidationError("ticket_price", "must be an integer in base units, got %q", f.TicketPrice)
	}
	if price.Sign() < 0 {
		return model.NewValidationError("ticket_price", "must not be negative")
	}
	if f.MaxCapacity < 1 || f.MaxCapacity > maxCapacity {
		return model.NewValidationError("max_capacity", "must be between 1 and %d", maxCapacity)
	}
	if !ValidSigner(signer) {
		return model.NewValidationError("signer", "must be 0x followed by 40 hex characters")
	}
	return nil
}

// payload is the decoded form of a createEvent call.
type payload struct {
	RecordID    string `json:"record_id"`
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Location    string `json:"location"`
	StartsAt    int64  `json:"starts_at"`
	EndsAt      int64  `json:"ends_at"`
	MaxCapacity int64  `json:"max_capacity"`
	TicketPrice string `json:"ticket_price"`
	MetadataURI string `json:"metadata_uri"`
	BannerURI   string `json:"banner_uri"`
	Organizer   string `json:"organizer"`
	Status      string `json:"status"`
}

// EncodePayload builds the canonical createEvent arguments.
func EncodePayload(d model.Draft, metadataRef string) (string, error) {
	price, ok := d.Fields.Price()
	if !ok {
		return "", model.NewValidationError("ticket_price", "must be an integer in base units, got %q", d.Fields.TicketPrice)
	}
	args := map[string]any{
		"record_id":    d.RecordID,
		"slug":         d.Slug,
		"title":        d.Fields.Title,
		"starts_at":    d.Fields.StartsAt.Unix(),
		"ends_at":      d.Fields.EndsAt.Unix(),
		"max_capacity": d.Fields.MaxCapacity,
		"ticket_price": price,
		"metadata_uri": metadataRef,
		"organizer":    d.Organizer,
		"status":       string(model.StatusActive),
	}
	optional := map[string]string{
		"description": d.Fields.Description,
		"category":    d.Fields.Category,
		"location":    d.Fields.Location,
		"banner_uri":  d.BannerRef,
	}
	for k, v := range optional {
		if v != "" {
			args[k] = v
		}
	}
	data, err := canonical.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(data), nil
}

// DecodePayload parses createEvent arguments into a record. Locations are
// left for the caller to fill from the chain entry.
func DecodePayload(raw string) (*model.Record, error) {
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p.RecordID == "" {
		return nil, fmt.Errorf("decode payload: missing record_id")
	}
	status := model.RecordStatus(p.Status)
	if status == "" {
		status = model.StatusActive
	}
	rec := &model.Record{
		ID:   p.RecordID,
		Slug: p.Slug,
		Fields: model.EventFields{
			Title:       p.Title,
			Description: p.Description,
			Category:    p.Category,
			Location:    p.Location,
			StartsAt:    time.Unix(p.StartsAt, 0).UTC(),
			EndsAt:      time.Unix(p.EndsAt, 0).UTC(),
			MaxCapacity: p.MaxCapacity,
			TicketPrice: p.TicketPrice,
		},
		Organizer: p.Organizer,
		Status:    status,
		Locations: model.Locations{MetadataRef: p.MetadataURI},
	}
	if p.BannerURI != "" {
		rec.Locations.MediaRefs = append(rec.Locations.MediaRefs, p.BannerURI)
	}
	if p.MetadataURI != "" {
		rec.Locations.MediaRefs = append(rec.Locations.MediaRefs, p.MetadataURI)
	}
	return rec, nil
}

// PayloadRecordID extracts record_id without decoding the rest.
func PayloadRecordID(raw string) (string, error) {
	var p struct {
		RecordID string `json:"record_id"`
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}
	if p.RecordID == "" {
		return "", fmt.Errorf("decode payload: missing record_id")
	}
	return p.RecordID, nil
}

// Digest is the value a signer signs: a domain-separated hash of the
// canonical transaction without its digest.
func Digest(tx model.UnsignedTx) (string, error) {
	return canonical.Fingerprint(canonical.DomainTxDigest, map[string]any{
		"network": tx.Network,
		"from":    strings.ToLower(tx.From),
		"to":      strings.ToLower(tx.To),
		"method":  tx.Method,
		"payload": tx.Payload,
		"fee":     tx.Fee,
	})
}
