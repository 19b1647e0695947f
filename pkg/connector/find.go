package connector

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/connector/pkg/expr"
	"github.com/mesh-intelligence/connector/pkg/types"
)

// FindRequest is a query for T built with Query.
type FindRequest[T any] struct {
	c     *Connector
	where expr.Condition
	page  *types.PageRequest
}

// Query starts a find on T.
func Query[T any](c *Connector) *FindRequest[T] {
	return &FindRequest[T]{c: c}
}

// Where sets the filter. Without one every row matches.
func (r *FindRequest[T]) Where(cond expr.Condition) *FindRequest[T] {
	r.where = cond
	return r
}

// Paging sets the page window, sort and total count.
func (r *FindRequest[T]) Paging(page *types.PageRequest) *FindRequest[T] {
	r.page = page
	return r
}

// Execute runs the query.
func (r *FindRequest[T]) Execute(ctx context.Context) (*types.PageResponse[T], error) {
	return Find[T](ctx, r.c, r.where, r.page)
}

// Single returns the first match, or nil.
func (r *FindRequest[T]) Single(ctx context.Context) (*T, error) {
	page := &types.PageRequest{PageSize: 1, Sort: r.page.Sorts()}
	res, err := Find[T](ctx, r.c, r.where, page)
	if err != nil {
		return nil, err
	}
	if v, ok := res.First(); ok {
		return &v, nil
	}
	return nil, nil
}

// Find returns the entities matching where. A nil page returns every match.
func Find[T any](ctx context.Context, c *Connector, where expr.Condition, page *types.PageRequest) (*types.PageResponse[T], error) {
	d, storage, err := c.forCondition(ctx, typeOf[T](), where)
	if err != nil {
		return nil, err
	}
	if err := checkSort(d, page.Sorts()); err != nil {
		return nil, err
	}
	c.logger.Debug("find", "backend", c.backend.Name(), "storage", storage, "where", where)
	recs, total, err := c.backend.RunFind(ctx, d, storage, where, page)
	if err != nil {
		return nil, fmt.Errorf("finding in %s: %w", storage, err)
	}
	data, err := decode[T](d, recs)
	if err != nil {
		return nil, err
	}
	return &types.PageResponse[T]{Total: total, Data: data}, nil
}

// FindOne returns the first entity matching where, or nil.
func FindOne[T any](ctx context.Context, c *Connector, where expr.Condition, sort ...types.Sort) (*T, error) {
	return Query[T](c).Where(where).Paging(&types.PageRequest{Sort: sort}).Single(ctx)
}

// FindByID returns the entity with the given id, or nil. Entities with
// separated tenants must be looked up with FindOne and a tenant constraint.
func FindByID[T any](ctx context.Context, c *Connector, id any) (*T, error) {
	d, err := c.registry.Describe(typeOf[T]())
	if err != nil {
		return nil, err
	}
	where, err := idCondition(d, id)
	if err != nil {
		return nil, err
	}
	return FindOne[T](ctx, c, where)
}
