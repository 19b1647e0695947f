package connector

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/mesh-intelligence/connector/pkg/entity"
	"github.com/mesh-intelligence/connector/pkg/expr"
	"github.com/mesh-intelligence/connector/pkg/types"
)

// TextQuery is a full-text search request.
type TextQuery struct {
	// Index names the text index. Empty selects the entity's only one.
	Index string
	Text  string
	// Tenant selects the storage unit of entities with separated tenants.
	Tenant *string
}

var nonLetters = regexp.MustCompile(`\P{L}+`)

// TextSearch queries the native text index and, when the first page comes
// back short, fills it with regular expression matches of the individual
// words over the indexed fields. Pages after the first and requests with a
// total count get native results only.
func TextSearch[T any](ctx context.Context, c *Connector, q TextQuery, page *types.PageRequest) (*types.PageResponse[T], error) {
	d, err := c.registry.Describe(typeOf[T]())
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(q.Text) == "" {
		return nil, fmt.Errorf("%w: empty text", types.ErrInvalidQuery)
	}
	idx, err := d.TextIndex(q.Index)
	if err != nil {
		return nil, err
	}
	if err := checkSort(d, page.Sorts()); err != nil {
		return nil, err
	}
	storage := d.StorageNameForTenant(q.Tenant)
	if err := c.ensure(ctx, d, storage); err != nil {
		return nil, err
	}

	recs, total, err := c.textSearch(ctx, d, storage, idx, q.Text, page)
	if err != nil {
		return nil, err
	}
	data, err := decode[T](d, recs)
	if err != nil {
		return nil, err
	}
	return &types.PageResponse[T]{Total: total, Data: data}, nil
}

func (c *Connector) textSearch(ctx context.Context, d *entity.Descriptor, storage string, idx entity.Index, text string, page *types.PageRequest) ([]entity.Record, *int64, error) {
	c.logger.Debug("text search", "backend", c.backend.Name(), "storage", storage, "index", idx.Name, "text", text)
	recs, total, err := c.backend.RunTextSearch(ctx, d, storage, idx, text, page)
	if err != nil {
		return nil, nil, fmt.Errorf("searching %s: %w", storage, err)
	}
	if page.Total() || (page.Paged() && len(recs) >= page.PageSize) {
		return recs, total, nil
	}
	if page.Paged() && page.Page != 0 {
		return recs, total, nil
	}

	fallback := fallbackCondition(d, idx, text, recs)
	if fallback == nil {
		return recs, total, nil
	}
	var fp *types.PageRequest
	switch {
	case page.Paged():
		fp = &types.PageRequest{PageSize: page.PageSize - len(recs), Sort: page.Sort}
	case page != nil:
		fp = &types.PageRequest{Sort: page.Sort}
	}
	c.logger.Debug("text search fallback", "backend", c.backend.Name(), "storage", storage, "where", fallback)
	more, _, err := c.backend.RunFind(ctx, d, storage, fallback, fp)
	if err != nil {
		return nil, nil, fmt.Errorf("searching %s: %w", storage, err)
	}
	return append(recs, more...), total, nil
}

// fallbackCondition matches any word of text against any field of the text
// index or its simple companion, excluding the records already found.
func fallbackCondition(d *entity.Descriptor, idx entity.Index, text string, found []entity.Record) expr.Condition {
	fields := append([]string(nil), idx.Fields...)
	if simple, ok := d.Index(idx.Name + entity.SimpleSuffix); ok {
		for _, f := range simple.Fields {
			if !slices.Contains(fields, f) {
				fields = append(fields, f)
			}
		}
	}

	var matches []expr.Condition
	for _, word := range nonLetters.Split(text, -1) {
		if word == "" {
			continue
		}
		for _, f := range fields {
			matches = append(matches, expr.Field(f).Matches(regexp.QuoteMeta(word)))
		}
	}
	if len(matches) == 0 {
		return nil
	}
	if d.ID == nil {
		return expr.AnyOf(matches...)
	}
	ids := make([]any, len(found))
	for i, rec := range found {
		ids[i] = rec.ID(d)
	}
	return expr.AllOf(expr.AnyOf(matches...), expr.Field(d.ID.Name).NotIn(ids))
}
