package domain

// Pagination carries cursor paging inputs shared by list queries.
type Pagination struct {
	PageSize  int
	PageToken string
}

// RangeQuery bounds a field between optional endpoints.
type RangeQuery[T any] struct {
	From *T
	To   *T
}

// SortOrder selects ascending or descending list order.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)
