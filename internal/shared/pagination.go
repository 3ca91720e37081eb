package shared

import (
	"net/url"
	"strconv"
)

const (
	defaultPerPage = 50
	maxPerPage     = 200
)

// PageRequest carries 1-based page parameters from a listing query.
type PageRequest struct {
	Page    int
	PerPage int
}

// ParsePageRequest reads page and per_page, clamping invalid values.
func ParsePageRequest(q url.Values) PageRequest {
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return PageRequest{Page: page, PerPage: perPage}
}

// Limit returns the row limit.
func (p PageRequest) Limit() int {
	return p.PerPage
}

// Offset returns the number of rows to skip.
func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.PerPage
}
