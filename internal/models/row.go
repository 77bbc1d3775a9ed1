package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultPrimaryKey is the primary key column used when a table does not name one.
const DefaultPrimaryKey = "id"

// Row is a single record as returned by the query engine or carried by a change event.
type Row map[string]any

// Key returns the primary key value of the row rendered as a string.
// Returns an empty string when the key column is missing or null. Numeric
// keys render the same whether they were decoded as json.Number, float64 or
// an integer, so rows from pulls and change events line up.
func (r Row) Key(pk string) string {
	if pk == "" {
		pk = DefaultPrimaryKey
	}
	v, ok := r[pk]
	if !ok || v == nil {
		return ""
	}
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		if f, err := n.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return n.String()
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}

// Lookup resolves a dotted path (e.g. "location.city") through nested JSON objects.
func (r Row) Lookup(path string) (any, bool) {
	var cur any = map[string]any(r)
	for part := range strings.SplitSeq(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	clone := make(Row, len(r))
	for k, v := range r {
		clone[k] = v
	}
	return clone
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Row:
		return m, true
	default:
		return nil, false
	}
}

// ChangeKind identifies the row-level operation carried by a ChangeEvent.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeUpdate ChangeKind = "UPDATE"
	ChangeDelete ChangeKind = "DELETE"
)

// ParseChangeKind normalises the event type strings used by the push transports.
func ParseChangeKind(s string) (ChangeKind, error) {
	switch strings.ToUpper(s) {
	case "INSERT":
		return ChangeInsert, nil
	case "UPDATE":
		return ChangeUpdate, nil
	case "DELETE":
		return ChangeDelete, nil
	default:
		return "", fmt.Errorf("unknown change kind: %q", s)
	}
}

// ChangeEvent is a server-pushed notification of a row insert, update or delete.
// Old is set for update and delete, New for insert and update.
type ChangeEvent struct {
	Table           string
	Kind            ChangeKind
	Old             Row
	New             Row
	CommitTimestamp time.Time
}

// Key returns the primary key the event refers to, preferring the new row.
func (e ChangeEvent) Key(pk string) string {
	if k := e.New.Key(pk); k != "" {
		return k
	}
	return e.Old.Key(pk)
}
