package query

import (
	"sync"

	"github.com/wolfeidau/leaguesync/internal/tables"
)

// Registry owns one independent State per logical table.
type Registry struct {
	tables *tables.Registry

	mu     sync.Mutex
	states map[string]*State
}

// NewRegistry creates a registry over the given table definitions.
func NewRegistry(tbls *tables.Registry) *Registry {
	return &Registry{
		tables: tbls,
		states: make(map[string]*State),
	}
}

// State returns the query state for table, creating it from the table defaults on first use.
func (r *Registry) State(table string) (*State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.states[table]; ok {
		return s, nil
	}

	t, err := r.tables.Get(table)
	if err != nil {
		return nil, err
	}

	s := NewStateForTable(t)
	r.states[table] = s
	return s, nil
}
