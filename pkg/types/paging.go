package types

// Sort orders results by one property.
type Sort struct {
	Field string
	Desc  bool
}

// PageRequest selects a window of results. A zero PageSize means no paging:
// every match is returned.
type PageRequest struct {
	Page      int
	PageSize  int
	Sort      []Sort
	WithTotal bool
}

// Page returns a request for the given zero-based page.
func Page(page, size int, sort ...Sort) *PageRequest {
	return &PageRequest{Page: page, PageSize: size, Sort: sort}
}

// Asc and Desc build sort orders.
func Asc(field string) Sort  { return Sort{Field: field} }
func Desc(field string) Sort { return Sort{Field: field, Desc: true} }

// Paged reports whether the request limits the number of results.
func (p *PageRequest) Paged() bool {
	return p != nil && p.PageSize > 0
}

// Offset returns the number of rows to skip.
func (p *PageRequest) Offset() int {
	if !p.Paged() {
		return 0
	}
	return p.Page * p.PageSize
}

// Total reports whether a total count was requested.
func (p *PageRequest) Total() bool {
	return p != nil && p.WithTotal
}

// Sorts returns the sort orders, nil-safe.
func (p *PageRequest) Sorts() []Sort {
	if p == nil {
		return nil
	}
	return p.Sort
}

// PageResponse holds one page of results. Total is set only when the request
// asked for it.
type PageResponse[T any] struct {
	Total *int64
	Data  []T
}

// First returns the first element of the page, if any.
func (p *PageResponse[T]) First() (T, bool) {
	var zero T
	if p == nil || len(p.Data) == 0 {
		return zero, false
	}
	return p.Data[0], true
}
