package cache

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/roach88/triad/internal/model"
)

// Listing defaults and limits.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// sortColumns whitelists sortable fields. Anything else is rejected rather
// than interpolated into SQL.
var sortColumns = map[string]string{
	"starts_at":    "r.starts_at",
	"ends_at":      "r.ends_at",
	"created_at":   "r.created_at_ms",
	"title":        "r.title",
	"max_capacity": "r.max_capacity",
}

// listPlan is a validated listing query ready to render as SQL.
type listPlan struct {
	where   []string
	args    []any
	orderBy string
	limit   int
	offset  int
	page    int
}

func planList(q model.ListQuery) (listPlan, error) {
	p := listPlan{page: q.Page, limit: q.Limit}
	if p.page < 1 {
		p.page = 1
	}
	switch {
	case p.limit <= 0:
		p.limit = DefaultLimit
	case p.limit > MaxLimit:
		p.limit = MaxLimit
	}
	p.offset = (p.page - 1) * p.limit

	field := q.SortField
	if field == "" {
		field = "starts_at"
	}
	col, ok := sortColumns[field]
	if !ok {
		return listPlan{}, model.NewValidationError("sort_field", "unsupported sort field %q", field)
	}
	dir := "ASC"
	switch strings.ToLower(q.SortOrder) {
	case "", "asc":
	case "desc":
		dir = "DESC"
	default:
		return listPlan{}, model.NewValidationError("sort_order", "must be asc or desc")
	}
	// id breaks ties so pages never overlap.
	p.orderBy = fmt.Sprintf("%s %s, r.id ASC", col, dir)

	if q.Category != "" {
		p.where = append(p.where, "r.category = ?")
		p.args = append(p.args, q.Category)
	}
	if q.Location != "" {
		p.where = append(p.where, "r.location = ?")
		p.args = append(p.args, q.Location)
	}
	return p, nil
}

func (p listPlan) whereClause() string {
	if len(p.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(p.where, " AND ")
}

// List returns one page of records plus the total match count.
func (s *Store) List(ctx context.Context, q model.ListQuery) (model.Page, error) {
	plan, err := planList(q)
	if err != nil {
		return model.Page{}, err
	}

	var total int
	countSQL := s.rebind(`SELECT COUNT(*) FROM records r` + plan.whereClause())
	if err := s.db.QueryRowContext(ctx, countSQL, plan.args...).Scan(&total); err != nil {
		return model.Page{}, model.NewStorageError(model.StoreCache, "list", model.ErrCodeReadFailed, err)
	}

	args := append(append([]any{}, plan.args...), plan.limit, plan.offset)
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+recordColumns+` `+recordFrom+plan.whereClause()+
			` ORDER BY `+plan.orderBy+` LIMIT ? OFFSET ?`), args...)
	if err != nil {
		return model.Page{}, model.NewStorageError(model.StoreCache, "list", model.ErrCodeReadFailed, err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return model.Page{}, model.NewStorageError(model.StoreCache, "list", model.ErrCodeReadFailed, err)
	}
	if recs == nil {
		recs = []model.Record{}
	}
	return model.Page{Records: recs, Total: total, Page: plan.page, Limit: plan.limit}, nil
}

// Facets returns distinct non-empty categories and locations plus the price
// range. Prices are compared as integers, not strings.
func (s *Store) Facets(ctx context.Context) (model.Facets, error) {
	f := model.Facets{Categories: []string{}, Locations: []string{}}

	var err error
	if f.Categories, err = s.distinct(ctx, "category"); err != nil {
		return model.Facets{}, err
	}
	if f.Locations, err = s.distinct(ctx, "location"); err != nil {
		return model.Facets{}, err
	}
	prices, err := s.distinct(ctx, "ticket_price")
	if err != nil {
		return model.Facets{}, err
	}

	var lo, hi *big.Int
	for _, raw := range prices {
		n, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			continue
		}
		if lo == nil || n.Cmp(lo) < 0 {
			lo = n
		}
		if hi == nil || n.Cmp(hi) > 0 {
			hi = n
		}
	}
	if lo != nil {
		f.MinPrice, f.MaxPrice = lo.String(), hi.String()
	}
	return f, nil
}

// distinct lists non-empty values of a whitelisted column.
func (s *Store) distinct(ctx context.Context, column string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT `+column+` FROM records WHERE `+column+` <> '' ORDER BY `+column)
	if err != nil {
		return nil, model.NewStorageError(model.StoreCache, "facets", model.ErrCodeReadFailed, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, model.NewStorageError(model.StoreCache, "facets", model.ErrCodeReadFailed, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
