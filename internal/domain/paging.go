package domain

import (
	"errors"
	"strconv"
)

const (
	DefaultPerPage = 10
	// MaxPerPage caps task and user listings.
	MaxPerPage     = 100
)

var (
	ErrInvalidSort    = errors.New("the selected sort is invalid")
	ErrInvalidPerPage = errors.New("the per page must be an integer of at least 1")
	ErrInvalidPage    = errors.New("the page must be an integer of at least 1")
)

type SortDirection string

const (
	SortNone SortDirection = ""
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// Paging selects one page of a listing. Sort orders by creation time; without
// it listings are ordered by id.
type Paging struct {
	Sort    SortDirection `json:"sort,omitempty"`
	PerPage int           `json:"per_page"`
	Page    int           `json:"page"`
}

func (p Paging) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Normalized fills in the defaults for missing values.
func (p Paging) Normalized() Paging {
	if p.PerPage <= 0 {
		p.PerPage = DefaultPerPage
	}
	if p.Page <= 0 {
		p.Page = 1
	}
	return p
}

// ParsePaging validates raw query values. Empty values fall back to the
// defaults.
func ParsePaging(sort, perPage, page string) (Paging, error) {
	p := Paging{PerPage: DefaultPerPage, Page: 1}

	switch SortDirection(sort) {
	case SortNone, SortAsc, SortDesc:
		p.Sort = SortDirection(sort)
	default:
		return p, ErrInvalidSort
	}

	if perPage != "" {
		n, err := strconv.Atoi(perPage)
		if err != nil || n < 1 {
			return p, ErrInvalidPerPage
		}
		p.PerPage = n
	}

	if page != "" {
		n, err := strconv.Atoi(page)
		if err != nil || n < 1 {
			return p, ErrInvalidPage
		}
		p.Page = n
	}

	return p, nil
}
