package query

// Pagination carries optional limit/offset for repository list calls.
type Pagination struct {
	Limit  *int
	Offset *int
}

func NewPagination(limit, offset int) *Pagination {
	return &Pagination{Limit: &limit, Offset: &offset}
}
