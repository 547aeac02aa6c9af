package pagination

// SortOrder represents the sort direction
type SortOrder string

const (
	SortOrderAsc  SortOrder = "ASC"
	SortOrderDesc SortOrder = "DESC"
)

// DefaultTake is the page size used when the client does not supply one.
const DefaultTake = 10

// Options holds client-supplied pagination parameters. Page is 1-based;
// Skip is the row offset actually applied to the query.
type Options struct {
	Page  int
	Take  int
	Skip  int
	Order SortOrder
}

// Normalize fills in defaults and derives Skip from Page when the client
// passed no explicit offset. Take is clamped to a positive value so page
// arithmetic never divides by zero.
func (o Options) Normalize() Options {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Take < 1 {
		o.Take = DefaultTake
	}
	if o.Skip < 0 {
		o.Skip = 0
	}
	if o.Skip == 0 && o.Page > 1 {
		o.Skip = (o.Page - 1) * o.Take
	}
	if o.Order != SortOrderAsc && o.Order != SortOrderDesc {
		o.Order = SortOrderAsc
	}
	return o
}

// Page is a materialized page of results plus paging metadata.
type Page[T any] struct {
	Values          []T  `json:"values"`
	ItemCount       int  `json:"itemCount"`
	PageCount       int  `json:"pageCount"`
	Take            int  `json:"take"`
	Page            int  `json:"page"`
	HasPreviousPage bool `json:"hasPreviousPage"`
	HasNextPage     bool `json:"hasNextPage"`
}

// New builds a page envelope from a fetched slice and the total row count.
// HasNextPage is a heuristic: it is true whenever the page came back full,
// including when that full page is the last one. Callers needing an exact
// answer must compare against PageCount instead.
func New[T any](values []T, total int, opts Options) Page[T] {
	return Page[T]{
		Values:          values,
		ItemCount:       len(values),
		PageCount:       (total + opts.Take - 1) / opts.Take,
		Take:            opts.Take,
		Page:            opts.Page,
		HasPreviousPage: opts.Page > 1,
		HasNextPage:     len(values) == opts.Take,
	}
}
