package query

import (
	"context"
	"sync"

	"github.com/wolfeidau/leaguesync/internal/pubsub"
	"github.com/wolfeidau/leaguesync/internal/tables"
)

// Params is a point-in-time copy of a table's search, filter, sort and pagination state.
type Params struct {
	SearchQuery string
	FilterValue string
	FilterType  string
	SortBy      string
	SortOrder   tables.SortOrder
	Page        int
	PageSize    int
}

// Offset returns the row offset of the current page.
func (p Params) Offset() int {
	return p.Page * p.PageSize
}

// State holds the query parameters for one logical table.
//
// Changing what is being looked at (search, filter, sort column, page size)
// moves back to the first page. Changing only the sort direction or the page
// keeps the position.
type State struct {
	mu       sync.RWMutex
	params   Params
	defaults Params
	changes  *pubsub.Broker[Params]
}

// NewState creates query state starting at defaults.
func NewState(defaults Params) *State {
	if defaults.SortOrder == "" {
		defaults.SortOrder = tables.Asc
	}
	defaults.Page = 0
	return &State{
		params:   defaults,
		defaults: defaults,
		changes:  pubsub.NewBroker[Params](pubsub.WithBufferSize(16)),
	}
}

// NewStateForTable creates query state using the table's default sort and page size.
func NewStateForTable(t tables.Table) *State {
	return NewState(Params{
		SortBy:    t.DefaultSort.Column,
		SortOrder: t.DefaultSort.Order,
		PageSize:  t.PageSize,
	})
}

// Params returns the current parameters.
func (s *State) Params() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// Subscribe returns a channel receiving the parameters after every mutation.
func (s *State) Subscribe(ctx context.Context) <-chan Params {
	return s.changes.Subscribe(ctx)
}

// SetSearchQuery sets the free-text search and returns to the first page.
func (s *State) SetSearchQuery(q string) {
	s.update(func(p *Params) {
		p.SearchQuery = q
		p.Page = 0
	})
}

// SetFilterValue sets the filter value and returns to the first page.
func (s *State) SetFilterValue(v string) {
	s.update(func(p *Params) {
		p.FilterValue = v
		p.Page = 0
	})
}

// SetFilterType sets the column the filter value applies to and returns to the first page.
func (s *State) SetFilterType(column string) {
	s.update(func(p *Params) {
		p.FilterType = column
		p.Page = 0
	})
}

// SetSortBy sets the sort column and returns to the first page.
func (s *State) SetSortBy(column string) {
	s.update(func(p *Params) {
		p.SortBy = column
		p.Page = 0
	})
}

// SetSortOrder sets the sort direction and returns to the first page. Only
// ToggleSort's flip keeps the page.
func (s *State) SetSortOrder(order tables.SortOrder) {
	s.update(func(p *Params) {
		p.SortOrder = order
		p.Page = 0
	})
}

// ToggleSort flips the direction when column is already the sort column,
// otherwise sorts ascending by column from the first page.
func (s *State) ToggleSort(column string) {
	s.update(func(p *Params) {
		if p.SortBy == column {
			p.SortOrder = p.SortOrder.Flip()
			return
		}
		p.SortBy = column
		p.SortOrder = tables.Asc
		p.Page = 0
	})
}

// SetPage moves to page n (zero based). Negative values clamp to 0.
func (s *State) SetPage(n int) {
	s.update(func(p *Params) {
		p.Page = max(n, 0)
	})
}

// SetPageSize changes the page size and returns to the first page.
func (s *State) SetPageSize(n int) {
	if n <= 0 {
		return
	}
	s.update(func(p *Params) {
		p.PageSize = n
		p.Page = 0
	})
}

// Reset restores the defaults.
func (s *State) Reset() {
	s.update(func(p *Params) {
		*p = s.defaults
	})
}

func (s *State) update(fn func(*Params)) {
	s.mu.Lock()
	fn(&s.params)
	params := s.params
	s.mu.Unlock()

	s.changes.Publish(params)
}
