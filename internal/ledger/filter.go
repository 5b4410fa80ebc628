package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultPageSize = 20

// Filter is a predicate over movements. The zero value matches everything.
type Filter struct {
	Type   MovementType // "" = all
	Search string       // case-insensitive substring of Reason
	From   *time.Time
	To     *time.Time
	// ToDateOnly extends To to the last millisecond of its day.
	ToDateOnly bool
	// AmountMin/AmountMax compare the raw stored amount, signed for adjustments.
	AmountMin   *decimal.Decimal
	AmountMax   *decimal.Decimal
	CreatedByMe bool
	CurrentUser string
}

func (f Filter) upperBound() *time.Time {
	if f.To == nil || !f.ToDateOnly {
		return f.To
	}
	t := *f.To
	end := time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(999*time.Millisecond), t.Location())
	return &end
}

// Matches reports whether m passes every active criterion.
func (f Filter) Matches(m Movement) bool {
	return f.matches(m, strings.ToLower(f.Search), f.upperBound())
}

func (f Filter) matches(m Movement, search string, to *time.Time) bool {
	if f.Type != "" && m.Type != f.Type {
		return false
	}
	if search != "" {
		reason := ""
		if m.Reason != nil {
			reason = *m.Reason
		}
		if !strings.Contains(strings.ToLower(reason), search) {
			return false
		}
	}
	if f.From != nil && m.CreatedAt.Before(*f.From) {
		return false
	}
	if to != nil && m.CreatedAt.After(*to) {
		return false
	}
	if f.AmountMin != nil && m.Amount.LessThan(*f.AmountMin) {
		return false
	}
	if f.AmountMax != nil && m.Amount.GreaterThan(*f.AmountMax) {
		return false
	}
	if f.CreatedByMe && (m.CreatedBy == nil || *m.CreatedBy != f.CurrentUser) {
		return false
	}
	return true
}

// ApplyFilter keeps the input order.
func ApplyFilter(movements []Movement, f Filter) []Movement {
	search := strings.ToLower(f.Search)
	to := f.upperBound()
	out := make([]Movement, 0, len(movements))
	for _, m := range movements {
		if f.matches(m, search, to) {
			out = append(out, m)
		}
	}
	return out
}

// Page is one 1-indexed slice of a list.
type Page[T any] struct {
	Items      []T  `json:"items"`
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// Paginate returns items[(page-1)*size : page*size], clamped to the list.
func Paginate[T any](items []T, page, pageSize int) Page[T] {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	total := len(items)
	totalPages := (total + pageSize - 1) / pageSize

	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return Page[T]{
		Items:      items[start:end],
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}

// FilterState is the filter plus the current page. Every filter change resets Page to 1.
type FilterState struct {
	Filter   Filter
	Page     int
	PageSize int
}

func NewFilterState(pageSize int) FilterState {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return FilterState{Page: 1, PageSize: pageSize}
}

func (s FilterState) withFilter(f Filter) FilterState {
	s.Filter = f
	s.Page = 1
	return s
}

func (s FilterState) WithType(t MovementType) FilterState {
	f := s.Filter
	f.Type = t
	return s.withFilter(f)
}

func (s FilterState) WithSearch(q string) FilterState {
	f := s.Filter
	f.Search = q
	return s.withFilter(f)
}

func (s FilterState) WithDateRange(from, to *time.Time, toDateOnly bool) FilterState {
	f := s.Filter
	f.From, f.To, f.ToDateOnly = from, to, toDateOnly
	return s.withFilter(f)
}

func (s FilterState) WithAmountRange(lo, hi *decimal.Decimal) FilterState {
	f := s.Filter
	f.AmountMin, f.AmountMax = lo, hi
	return s.withFilter(f)
}

func (s FilterState) WithCreatedByMe(on bool, currentUser string) FilterState {
	f := s.Filter
	f.CreatedByMe, f.CurrentUser = on, currentUser
	return s.withFilter(f)
}

func (s FilterState) WithPage(page int) FilterState {
	if page < 1 {
		page = 1
	}
	s.Page = page
	return s
}

// Apply filters then paginates.
func (s FilterState) Apply(movements []Movement) Page[Movement] {
	return Paginate(ApplyFilter(movements, s.Filter), s.Page, s.PageSize)
}
