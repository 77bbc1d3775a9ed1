// Package reconcile merges server-pushed change events into an in-memory snapshot.
package reconcile

import (
	"github.com/wolfeidau/leaguesync/internal/models"
	"github.com/wolfeidau/leaguesync/internal/tables"
)

// Snapshot is the current page of rows plus the total count matching the query.
type Snapshot struct {
	Rows  []models.Row
	Total int
}

// Clone returns a copy of the snapshot that shares row values but not the slice.
func (s Snapshot) Clone() Snapshot {
	rows := make([]models.Row, len(s.Rows))
	copy(rows, s.Rows)
	return Snapshot{Rows: rows, Total: s.Total}
}

// Options controls how events are merged.
type Options struct {
	PrimaryKey string
	Placement  tables.Placement
}

// OptionsForTable derives merge options from a table definition.
func OptionsForTable(t tables.Table) Options {
	return Options{PrimaryKey: t.PrimaryKey, Placement: t.Placement}
}

// Apply returns the snapshot that results from applying ev to prev.
// prev is not modified.
//
// An insert whose key is already present replaces that row and leaves the
// total alone. Deletes for rows outside the current page still decrement the
// total. Updates for rows outside the current page are ignored.
func Apply(prev Snapshot, ev models.ChangeEvent, opts Options) Snapshot {
	pk := opts.PrimaryKey
	if pk == "" {
		pk = models.DefaultPrimaryKey
	}

	key := ev.Key(pk)
	if key == "" {
		return prev
	}

	idx := indexOf(prev.Rows, pk, key)

	switch ev.Kind {
	case models.ChangeInsert:
		if ev.New == nil {
			return prev
		}
		if idx >= 0 {
			return replaceAt(prev, idx, ev.New)
		}
		next := Snapshot{Total: prev.Total + 1, Rows: make([]models.Row, 0, len(prev.Rows)+1)}
		if opts.Placement == tables.PlacementAppend {
			next.Rows = append(append(next.Rows, prev.Rows...), ev.New)
		} else {
			next.Rows = append(append(next.Rows, ev.New), prev.Rows...)
		}
		return next

	case models.ChangeUpdate:
		if idx < 0 || ev.New == nil {
			return prev
		}
		return replaceAt(prev, idx, ev.New)

	case models.ChangeDelete:
		next := Snapshot{Total: max(prev.Total-1, 0)}
		if idx < 0 {
			next.Rows = prev.Rows
			return next
		}
		next.Rows = make([]models.Row, 0, len(prev.Rows)-1)
		next.Rows = append(next.Rows, prev.Rows[:idx]...)
		next.Rows = append(next.Rows, prev.Rows[idx+1:]...)
		return next
	}

	return prev
}

func indexOf(rows []models.Row, pk, key string) int {
	for i, r := range rows {
		if r.Key(pk) == key {
			return i
		}
	}
	return -1
}

func replaceAt(prev Snapshot, idx int, row models.Row) Snapshot {
	next := prev.Clone()
	next.Rows[idx] = row
	return next
}
