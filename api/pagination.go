package api

import (
	"net/http"
	"strconv"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 200
)

// PaginationMeta is embedded in paginated list responses.
type PaginationMeta struct {
	TotalCount int  `json:"total_count"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"has_more"`
}

// positiveQueryInt returns the named query parameter when it parses as a
// positive integer.
func positiveQueryInt(r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	return n, err == nil && n > 0
}

// parsePagination reads the limit and offset query parameters. Anything
// other than a positive integer falls back to the default.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = defaultPageLimit
	if n, ok := positiveQueryInt(r, "limit"); ok {
		limit = min(n, maxPageLimit)
	}
	offset, _ = positiveQueryInt(r, "offset")
	return limit, offset
}

// page cuts the window selected by the request out of items. An offset
// past the end yields an empty page.
func page[T any](r *http.Request, items []T) ([]T, PaginationMeta) {
	limit, offset := parsePagination(r)
	total := len(items)
	start := min(offset, total)
	end := min(start+limit, total)
	return items[start:end], PaginationMeta{
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
		HasMore:    end < total,
	}
}
