// Package memory is an in-process backend used by tests and the CLI demo mode.
// Writes to a Store are pushed to every matching subscription.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/leaguesync/internal/backend"
	"github.com/wolfeidau/leaguesync/internal/models"
)

// Store holds rows per table.
type Store struct {
	mu     sync.RWMutex
	tables map[string][]models.Row
	pk     string
	events *backend.Fanout
	now    func() time.Time
}

// NewStore creates an empty store exposing the given tables.
func NewStore(tables ...string) *Store {
	s := &Store{
		tables: make(map[string][]models.Row, len(tables)),
		pk:     models.DefaultPrimaryKey,
		events: backend.NewFanout(nil),
		now:    time.Now,
	}
	for _, t := range tables {
		s.tables[t] = nil
	}
	return s
}

// Insert adds a row, replacing any row with the same key without emitting a second insert.
func (s *Store) Insert(table string, row models.Row) error {
	s.mu.Lock()
	rows, ok := s.tables[table]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", backend.ErrUnknownTable, table)
	}
	key := row.Key(s.pk)
	if key == "" {
		s.mu.Unlock()
		return fmt.Errorf("row has no %s", s.pk)
	}
	kind := models.ChangeInsert
	var old models.Row
	if i := s.index(rows, key); i >= 0 {
		kind = models.ChangeUpdate
		old = rows[i]
		rows[i] = row.Clone()
	} else {
		rows = append(rows, row.Clone())
	}
	s.tables[table] = rows
	s.mu.Unlock()

	s.publish(models.ChangeEvent{Table: table, Kind: kind, Old: old, New: row.Clone()})
	return nil
}

// Update replaces the row with the same key.
func (s *Store) Update(table string, row models.Row) error {
	s.mu.Lock()
	rows, ok := s.tables[table]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", backend.ErrUnknownTable, table)
	}
	i := s.index(rows, row.Key(s.pk))
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("row %s not found in %s", row.Key(s.pk), table)
	}
	old := rows[i]
	rows[i] = row.Clone()
	s.mu.Unlock()

	s.publish(models.ChangeEvent{Table: table, Kind: models.ChangeUpdate, Old: old, New: row.Clone()})
	return nil
}

// Delete removes the row with the given key.
func (s *Store) Delete(table, key string) error {
	s.mu.Lock()
	rows, ok := s.tables[table]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", backend.ErrUnknownTable, table)
	}
	i := s.index(rows, key)
	if i < 0 {
		s.mu.Unlock()
		return nil
	}
	old := rows[i]
	s.tables[table] = slices.Delete(rows, i, i+1)
	s.mu.Unlock()

	s.publish(models.ChangeEvent{Table: table, Kind: models.ChangeDelete, Old: old})
	return nil
}

func (s *Store) index(rows []models.Row, key string) int {
	return slices.IndexFunc(rows, func(r models.Row) bool { return r.Key(s.pk) == key })
}

func (s *Store) publish(ev models.ChangeEvent) {
	ev.CommitTimestamp = s.now().UTC()
	s.events.Publish(ev)
}

// Select runs q against the stored rows.
func (s *Store) Select(_ context.Context, q backend.Query) (backend.Result, error) {
	s.mu.RLock()
	rows, ok := s.tables[q.Table]
	if !ok {
		s.mu.RUnlock()
		return backend.Result{}, &backend.QueryError{
			Code:    "42P01",
			Message: fmt.Sprintf("relation %q does not exist", q.Table),
			Err:     backend.ErrUnknownTable,
		}
	}
	matched := make([]models.Row, 0, len(rows))
	for _, r := range rows {
		if matches(r, q) {
			matched = append(matched, r.Clone())
		}
	}
	s.mu.RUnlock()

	if q.Sort != nil {
		srt := *q.Sort
		slices.SortStableFunc(matched, func(a, b models.Row) int {
			av, _ := a.Lookup(srt.Column)
			bv, _ := b.Lookup(srt.Column)
			c := backend.CompareValues(av, bv, srt.CaseInsensitive)
			if srt.Descending {
				return -c
			}
			return c
		})
	}

	total := len(matched)
	start := min(max(q.Offset, 0), total)
	end := total
	if q.Limit > 0 {
		end = min(start+q.Limit, total)
	}

	return backend.Result{Rows: matched[start:end], Count: total}, nil
}

func matches(r models.Row, q backend.Query) bool {
	for _, f := range q.Equals {
		if !f.Matches(r) {
			return false
		}
	}
	if len(q.Search) > 0 && !slices.ContainsFunc(q.Search, func(m backend.Match) bool { return m.Matches(r) }) {
		return false
	}
	for _, m := range q.Require {
		if !m.Matches(r) {
			return false
		}
	}
	return true
}

// Subscribe delivers store writes matching sub to handler until unsubscribed or ctx ends.
func (s *Store) Subscribe(ctx context.Context, sub backend.Subscription, handler backend.Handler) (backend.Unsubscriber, error) {
	s.mu.RLock()
	_, ok := s.tables[sub.Table]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrUnknownTable, sub.Table)
	}

	log.Debug().Str("table", sub.Table).Msg("memory subscription started")
	return s.events.Subscribe(ctx, sub, handler)
}

// Close stops all subscriptions.
func (s *Store) Close() error {
	s.events.Close()
	return nil
}
