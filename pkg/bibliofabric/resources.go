package bibliofabric

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
)

// Static errors for err113 compliance.
var (
	ErrNoMoreItems = errors.New("no more items")
)

// Query parameter names of the paged-search wire protocol.
const (
	paramID       = "id"
	paramPage     = "page"
	paramPageSize = "pageSize"
	paramSortBy   = "sortBy"
	paramCursor   = "cursor"

	// initialCursor is the sentinel requesting the first page of a
	// cursor-paginated scan. It is passed to the API opaquely.
	initialCursor = "*"
)

// Default page sizes.
const (
	// DefaultSearchPageSize is used by Search when no page size is given.
	DefaultSearchPageSize = 20

	// DefaultIteratePageSize is used by Iterate when no page size is given.
	DefaultIteratePageSize = 100
)

// Binding associates a resource path (e.g. "works") with a typed item model
// and exposes the get/search/iterate operations on it. Use map[string]any as
// the type parameter to work with raw documents.
type Binding[T any] struct {
	engine *Engine
	path   string
}

// NewBinding creates a resource binding on an engine.
func NewBinding[T any](engine *Engine, path string) (*Binding[T], error) {
	if engine == nil {
		return nil, newError(KindConfig, "binding requires an engine")
	}

	if path == "" {
		return nil, newError(KindConfig, "binding requires a resource path")
	}

	return &Binding[T]{engine: engine, path: path}, nil
}

// Path returns the binding's resource path.
func (b *Binding[T]) Path() string {
	return b.path
}

// Get retrieves a single entity by its id. The lookup is performed as a
// search filtered on the id with a page size of one, since many scholarly
// APIs have no direct item endpoint. A response with zero results surfaces
// a not-found error.
func (b *Binding[T]) Get(ctx context.Context, id string, extraFilters map[string]string) (T, error) {
	var zero T

	if id == "" {
		return zero, newError(KindValidation, "entity id is required")
	}

	query := url.Values{}
	query.Set(paramID, id)
	query.Set(paramPageSize, "1")

	for name, value := range extraFilters {
		query.Set(name, value)
	}

	resp, err := b.engine.Get(ctx, b.path, query)
	if err != nil {
		return zero, err
	}

	envelope := b.engine.Envelope()

	if len(envelope.Results(resp.Document)) == 0 {
		return zero, newError(KindNotFound, "entity %q not found in %s", id, b.path)
	}

	item, err := envelope.Single(resp.Document)
	if err != nil {
		var frameworkErr *FrameworkError
		if errors.As(err, &frameworkErr) {
			return zero, err
		}

		return zero, wrapError(KindValidation, err, "extracting entity %q", id)
	}

	return decodeItem[T](item)
}

// SearchOptions configures a paged search.
type SearchOptions struct {
	// Page is the 1-based page number. Zero means the first page.
	Page int

	// PageSize is the number of results per page. Zero applies the default.
	PageSize int

	// SortBy is a sort specification of the form "<field> asc|desc".
	SortBy string

	// Filters narrows the search.
	Filters *Filters
}

// SearchResult carries one server page of typed results together with the
// envelope's pagination header.
type SearchResult[T any] struct {
	// Page and PageSize echo the request.
	Page     int
	PageSize int

	// Total is the envelope's total result count, or -1 when the API does
	// not report one.
	Total int

	// NextCursor is the envelope's pagination token, empty when absent.
	NextCursor string

	// Results holds the page's items. The server's page is returned
	// verbatim; no re-pagination happens client-side.
	Results []T

	// Raw is the parsed response document.
	Raw map[string]any
}

// Search fetches one page of results. Page numbering is 1-based and passed
// to the API verbatim.
func (b *Binding[T]) Search(ctx context.Context, opts SearchOptions) (*SearchResult[T], error) {
	page := opts.Page
	if page == 0 {
		page = 1
	}

	pageSize := opts.PageSize
	if pageSize == 0 {
		pageSize = DefaultSearchPageSize
	}

	if page < 1 {
		return nil, newError(KindValidation, "page must be >= 1, got %d", page)
	}

	if pageSize < 1 {
		return nil, newError(KindValidation, "page_size must be >= 1, got %d", pageSize)
	}

	if err := validateSortBy(opts.SortBy); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set(paramPage, strconv.Itoa(page))
	query.Set(paramPageSize, strconv.Itoa(pageSize))

	if opts.SortBy != "" {
		query.Set(paramSortBy, opts.SortBy)
	}

	if err := opts.Filters.apply(query); err != nil {
		return nil, err
	}

	resp, err := b.engine.Get(ctx, b.path, query)
	if err != nil {
		return nil, err
	}

	envelope := b.engine.Envelope()

	rawItems := envelope.Results(resp.Document)

	results := make([]T, 0, len(rawItems))

	for _, raw := range rawItems {
		item, err := decodeItem[T](raw)
		if err != nil {
			return nil, err
		}

		results = append(results, item)
	}

	total := -1
	if t, ok := envelope.Total(resp.Document); ok {
		total = t
	}

	return &SearchResult[T]{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		NextCursor: envelope.NextCursor(resp.Document),
		Results:    results,
		Raw:        resp.Document,
	}, nil
}

// IterateOptions configures a cursor iteration.
type IterateOptions struct {
	// PageSize is the number of results fetched per API call. Zero applies
	// the default.
	PageSize int

	// SortBy is a sort specification of the form "<field> asc|desc".
	SortBy string

	// Filters narrows the scan.
	Filters *Filters
}

// Iterate scans all entities matching the criteria using cursor pagination.
// The returned iterator is one-shot; call Iterate again to restart. An empty
// first page terminates cleanly with zero items.
func (b *Binding[T]) Iterate(ctx context.Context, opts IterateOptions) (*Iterator[T], error) {
	pageSize := opts.PageSize
	if pageSize == 0 {
		pageSize = DefaultIteratePageSize
	}

	if pageSize < 1 {
		return nil, newError(KindValidation, "page_size must be >= 1, got %d", pageSize)
	}

	if err := validateSortBy(opts.SortBy); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set(paramCursor, initialCursor)
	query.Set(paramPageSize, strconv.Itoa(pageSize))

	if opts.SortBy != "" {
		query.Set(paramSortBy, opts.SortBy)
	}

	if err := opts.Filters.apply(query); err != nil {
		return nil, err
	}

	return &Iterator[T]{
		ctx:     ctx,
		binding: b,
		query:   query,
	}, nil
}

// Iterator lazily walks a cursor-paginated result set, fetching the next
// page after the last item of the current one is consumed.
type Iterator[T any] struct {
	ctx     context.Context
	binding *Binding[T]
	query   url.Values

	items []T
	idx   int
	done  bool
	err   error
}

// HasNext reports whether another item is available, fetching the next page
// when the current one is exhausted. It returns false after an error; check
// Err for the cause.
func (it *Iterator[T]) HasNext() bool {
	if it.err != nil {
		return false
	}

	for it.idx >= len(it.items) && !it.done {
		it.fetch()

		if it.err != nil {
			return false
		}
	}

	return it.idx < len(it.items)
}

// Next returns the next item. It returns ErrNoMoreItems once the scan is
// exhausted, or the scan's failure once an error occurred.
func (it *Iterator[T]) Next() (T, error) {
	var zero T

	if !it.HasNext() {
		if it.err != nil {
			return zero, it.err
		}

		return zero, ErrNoMoreItems
	}

	item := it.items[it.idx]
	it.idx++

	return item, nil
}

// All drains the remaining items.
func (it *Iterator[T]) All() ([]T, error) {
	items := make([]T, 0)

	for it.HasNext() {
		item, err := it.Next()
		if err != nil {
			return nil, err
		}

		items = append(items, item)
	}

	if it.err != nil {
		return nil, it.err
	}

	return items, nil
}

// Err returns the scan's failure, if any.
func (it *Iterator[T]) Err() error {
	return it.err
}

// fetch loads the next page into the buffer and advances the cursor.
func (it *Iterator[T]) fetch() {
	// Cancellation halts iteration at the next boundary without further
	// fetches.
	if err := it.ctx.Err(); err != nil {
		it.done = true
		it.err = wrapError(KindTimeout, err, "iteration canceled")

		return
	}

	resp, err := it.binding.engine.Get(it.ctx, it.binding.path, it.query)
	if err != nil {
		it.done = true
		it.err = err

		return
	}

	envelope := it.binding.engine.Envelope()

	rawItems := envelope.Results(resp.Document)
	nextCursor := envelope.NextCursor(resp.Document)

	if len(rawItems) == 0 {
		it.done = true

		return
	}

	items := make([]T, 0, len(rawItems))

	for _, raw := range rawItems {
		item, err := decodeItem[T](raw)
		if err != nil {
			it.done = true
			it.err = err

			return
		}

		items = append(items, item)
	}

	it.items = items
	it.idx = 0

	if nextCursor == "" {
		it.done = true

		return
	}

	it.query.Set(paramCursor, nextCursor)
	it.query.Del(paramPage)
}

// decodeItem converts a raw envelope item into the binding's typed model.
func decodeItem[T any](raw map[string]any) (T, error) {
	var out T

	encoded, err := json.Marshal(raw)
	if err != nil {
		return out, wrapError(KindValidation, err, "encoding result item")
	}

	if err := json.Unmarshal(encoded, &out); err != nil {
		return out, wrapError(KindValidation, err, "decoding result item into %T", out)
	}

	return out, nil
}
