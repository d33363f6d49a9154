package schema

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/triad/internal/model"
)

func validInput() model.CreationInput {
	start := time.Date(2027, 3, 14, 18, 0, 0, 0, time.UTC)
	return model.CreationInput{
		Fields: model.EventFields{
			Title:       "Rust & Go Meetup",
			Description: "Talks and pizza",
			Category:    "tech",
			StartsAt:    start,
			EndsAt:      start.Add(2 * time.Hour),
			MaxCapacity: 80,
			TicketPrice: "0",
		},
		IdempotencyKey: "req-42",
		Initiator: model.Principal{
			ExternalID: "user-7",
			Address:    "0x1111111111111111111111111111111111111111",
		},
	}
}

func fields(errs []*model.ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Field
	}
	return out
}

func TestValidateAcceptsWellFormedInput(t *testing.T) {
	require.NoError(t, Validate(validInput()))

	in := validInput()
	in.Slug = "rust-go-meetup"
	in.Banner = &model.Attachment{Content: []byte{0x89, 'P', 'N', 'G'}, ContentType: "image/png"}
	require.NoError(t, Validate(in))
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.CreationInput)
		field  string
	}{
		{"empty title", func(in *model.CreationInput) { in.Fields.Title = "" }, "title"},
		{"long title", func(in *model.CreationInput) { in.Fields.Title = strings.Repeat("x", 201) }, "title"},
		{"end before start", func(in *model.CreationInput) { in.Fields.EndsAt = in.Fields.StartsAt.Add(-time.Hour) }, "ends_at"},
		{"end equals start", func(in *model.CreationInput) { in.Fields.EndsAt = in.Fields.StartsAt }, "ends_at"},
		{"zero capacity", func(in *model.CreationInput) { in.Fields.MaxCapacity = 0 }, "max_capacity"},
		{"negative price", func(in *model.CreationInput) { in.Fields.TicketPrice = "-5" }, "ticket_price"},
		{"decimal price", func(in *model.CreationInput) { in.Fields.TicketPrice = "1.50" }, "ticket_price"},
		{"bad slug", func(in *model.CreationInput) { in.Slug = "Not A Slug" }, "slug"},
		{"missing principal", func(in *model.CreationInput) { in.Initiator.ExternalID = "" }, "initiator.external_id"},
		{"bad address", func(in *model.CreationInput) { in.Initiator.Address = "0x123" }, "initiator.address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)

			err := Validate(in)
			require.Error(t, err)
			assert.True(t, model.IsValidation(err))
			assert.Contains(t, fields(Check(in)), tt.field)
		})
	}
}

func TestValidateRejectsOversizedBanner(t *testing.T) {
	in := validInput()
	in.Banner = &model.Attachment{Content: make([]byte, MaxBannerBytes+1), ContentType: "image/png"}
	assert.True(t, model.IsValidation(Validate(in)))

	in.Banner = &model.Attachment{Content: []byte("GIF89a"), ContentType: "application/pdf"}
	assert.True(t, model.IsValidation(Validate(in)))
}

func TestCheckReportsEveryViolation(t *testing.T) {
	in := validInput()
	in.Fields.Title = ""
	in.Fields.MaxCapacity = -1

	got := fields(Check(in))
	assert.Contains(t, got, "title")
	assert.Contains(t, got, "max_capacity")
	assert.IsIncreasing(t, got)
}

func TestDocumentOmitsEmptyOptionals(t *testing.T) {
	in := validInput()
	in.Fields.Description = ""
	in.IdempotencyKey = ""

	doc := Document(in)
	assert.NotContains(t, doc, "description")
	assert.NotContains(t, doc, "idempotency_key")
	assert.NotContains(t, doc, "banner")
	assert.Equal(t, "tech", doc["category"])
	assert.Equal(t, in.Fields.StartsAt.Unix(), doc["starts_at"])
}
