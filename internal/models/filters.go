package models

import (
	"math"
	"time"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is a 1-based page request
type Page struct {
	Page  int
	Limit int
}

// Normalize clamps the limit to 1..MaxPageSize and the page to >= 1, and
// low enough that Offset cannot overflow.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Page < 1 {
		p.Page = 1
	}
	if maxPage := math.MaxInt32 / p.Limit; p.Page > maxPage {
		p.Page = maxPage
	}
	return p
}

// Offset returns the number of records to skip.
func (p Page) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.Limit
}

// TotalPages is ceil(total / limit), never less than 1.
func (p Page) TotalPages(total int) int {
	n := p.Normalize()
	pages := (total + n.Limit - 1) / n.Limit
	if pages < 1 {
		return 1
	}
	return pages
}

// ItemFilter selects items; all fields are optional and AND-combined.
type ItemFilter struct {
	Category  Category
	MetalType MetalType
	Statuses  []ItemStatus
	Search    string
	MinPrice  *int64
	MaxPrice  *int64
	Page
}

// ItemList is one page of items
type ItemList struct {
	Items      []Item `json:"items"`
	Page       int    `json:"page"`
	Total      int    `json:"total"`
	TotalPages int    `json:"total_pages"`
}

// OrderFilter selects orders
type OrderFilter struct {
	Status OrderStatus
	From   *time.Time
	To     *time.Time
	Page
}

// OrderList is one page of orders
type OrderList struct {
	Orders     []Order `json:"orders"`
	Page       int     `json:"page"`
	Total      int     `json:"total"`
	TotalPages int     `json:"total_pages"`
}
