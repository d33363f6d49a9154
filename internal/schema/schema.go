// Package schema validates creation requests against an embedded CUE
// definition before any store is touched.
//
// The CUE document is the structural contract (required fields, bounds,
// formats). Ledger-specific rules such as the configured capacity ceiling
// are checked later by the ledger package.
package schema

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"github.com/roach88/triad/internal/model"
)

//go:embed creation.cue
var Source string

// MaxBannerBytes mirrors the banner size bound in creation.cue.
const MaxBannerBytes = 5 << 20

var (
	// cue.Values are not safe for concurrent use.
	mu      sync.Mutex
	once    sync.Once
	def     cue.Value
	loadErr error
)

func definition() (cue.Value, error) {
	once.Do(func() {
		ctx := cuecontext.New()
		v := ctx.CompileString(Source, cue.Filename("creation.cue"))
		if err := v.Err(); err != nil {
			loadErr = fmt.Errorf("compile creation schema: %w", err)
			return
		}
		def = v.LookupPath(cue.ParsePath("#CreationInput"))
		if !def.Exists() {
			loadErr = fmt.Errorf("creation schema: #CreationInput not found")
		}
	})
	return def, loadErr
}

// Document renders in as the plain document the CUE definition checks.
// Optional fields are omitted when empty.
func Document(in model.CreationInput) map[string]any {
	f := in.Fields
	doc := map[string]any{
		"title":        f.Title,
		"starts_at":    f.StartsAt.Unix(),
		"ends_at":      f.EndsAt.Unix(),
		"max_capacity": f.MaxCapacity,
		"ticket_price": f.TicketPrice,
		"initiator": map[string]any{
			"external_id": in.Initiator.ExternalID,
			"address":     in.Initiator.Address,
		},
	}
	optional := map[string]string{
		"description":     f.Description,
		"category":        f.Category,
		"location":        f.Location,
		"slug":            in.Slug,
		"idempotency_key": in.IdempotencyKey,
	}
	for k, v := range optional {
		if v != "" {
			doc[k] = v
		}
	}
	if in.Banner != nil {
		doc["banner"] = map[string]any{
			"content_type": in.Banner.ContentType,
			"size":         len(in.Banner.Content),
		}
	}
	return doc
}

// Validate checks in against #CreationInput. Fields should already be
// normalized. The first violation is returned as a *model.ValidationError.
func Validate(in model.CreationInput) error {
	errs := Check(in)
	if len(errs) == 0 {
		return nil
	}
	return errs[0]
}

// Check returns every violation, ordered by field path.
func Check(in model.CreationInput) []*model.ValidationError {
	mu.Lock()
	defer mu.Unlock()

	d, err := definition()
	if err != nil {
		return []*model.ValidationError{{Field: "schema", Message: err.Error()}}
	}

	v := d.Context().Encode(Document(in))
	err = d.Unify(v).Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}
	return toValidationErrors(err)
}

func toValidationErrors(err error) []*model.ValidationError {
	var out []*model.ValidationError
	seen := make(map[string]bool)
	for _, e := range errors.Errors(err) {
		field := strings.Join(e.Path(), ".")
		if field == "" {
			field = "input"
		}
		if seen[field] {
			continue
		}
		seen[field] = true
		format, args := e.Msg()
		out = append(out, &model.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}
	if len(out) == 0 {
		out = append(out, &model.ValidationError{Field: "input", Message: err.Error()})
	}
	slices.SortStableFunc(out, func(a, b *model.ValidationError) int {
		return strings.Compare(a.Field, b.Field)
	})
	return out
}
