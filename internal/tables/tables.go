package tables

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed tables.yaml
var defaultTables []byte

// ErrTableNotFound is returned when a table identifier is not registered.
var ErrTableNotFound = errors.New("table not found")

// Placement controls where a pushed insert lands in the current snapshot.
type Placement string

const (
	PlacementPrepend Placement = "prepend"
	PlacementAppend  Placement = "append"
)

// SortOrder is a sort direction.
type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// Flip returns the opposite direction.
func (o SortOrder) Flip() SortOrder {
	if o == Asc {
		return Desc
	}
	return Asc
}

// Predicate is a fixed equality predicate applied to every pull.
type Predicate struct {
	Column string `yaml:"column"`
	Value  any    `yaml:"value"`
}

// DefaultSort is the sort applied before the user picks a column.
type DefaultSort struct {
	Column string    `yaml:"column"`
	Order  SortOrder `yaml:"order"`
}

// Table describes how one logical table is queried and reconciled.
type Table struct {
	Name         string      `yaml:"name"`
	PrimaryKey   string      `yaml:"primary_key"`
	ScopeColumn  string      `yaml:"scope_column"`
	Base         []Predicate `yaml:"base"`
	SearchFields []string    `yaml:"search_fields"`
	FilterFields []string    `yaml:"filter_fields"`
	TextSort     []string    `yaml:"text_sort"`
	DefaultSort  DefaultSort `yaml:"default_sort"`
	PageSize     int         `yaml:"page_size"`
	Placement    Placement   `yaml:"placement"`
}

// Scoped reports whether pulls and subscriptions need a scope value.
func (t Table) Scoped() bool {
	return t.ScopeColumn != ""
}

// IsTextColumn reports whether sorting on column should use case-insensitive collation.
func (t Table) IsTextColumn(column string) bool {
	return slices.Contains(t.TextSort, column)
}

// IsFilterable reports whether column may be used as a filter type.
func (t Table) IsFilterable(column string) bool {
	return slices.Contains(t.FilterFields, column)
}

// ApplyDefaults applies default values to unset fields.
func (t *Table) ApplyDefaults() {
	if t.PrimaryKey == "" {
		t.PrimaryKey = "id"
	}
	if t.PageSize <= 0 {
		t.PageSize = 10
	}
	if t.Placement == "" {
		t.Placement = PlacementPrepend
	}
	if t.DefaultSort.Order == "" {
		t.DefaultSort.Order = Desc
	}
}

// Validate checks the table definition.
func (t *Table) Validate() error {
	if t.Name == "" {
		return errors.New("table name is required")
	}
	switch t.Placement {
	case PlacementPrepend, PlacementAppend:
	default:
		return fmt.Errorf("table %s: unknown placement %q", t.Name, t.Placement)
	}
	switch t.DefaultSort.Order {
	case Asc, Desc:
	default:
		return fmt.Errorf("table %s: unknown sort order %q", t.Name, t.DefaultSort.Order)
	}
	return nil
}

// Registry holds table definitions keyed by table identifier.
type Registry struct {
	tables map[string]Table
}

type document struct {
	Tables []Table `yaml:"tables"`
}

// Load parses table definitions from YAML.
func Load(r io.Reader) (*Registry, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode tables: %w", err)
	}

	reg := &Registry{tables: make(map[string]Table, len(doc.Tables))}
	for _, t := range doc.Tables {
		t.ApplyDefaults()
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, exists := reg.tables[t.Name]; exists {
			return nil, fmt.Errorf("duplicate table %q", t.Name)
		}
		reg.tables[t.Name] = t
	}
	return reg, nil
}

// Default returns the embedded table definitions.
func Default() *Registry {
	reg, err := LoadBytes(defaultTables)
	if err != nil {
		panic(fmt.Sprintf("embedded tables.yaml is invalid: %v", err))
	}
	return reg
}

// LoadBytes parses table definitions from a YAML document.
func LoadBytes(data []byte) (*Registry, error) {
	return Load(bytes.NewReader(data))
}

// Get returns the definition for name.
func (r *Registry) Get(name string) (Table, error) {
	t, ok := r.tables[name]
	if !ok {
		return Table{}, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return t, nil
}

// Names returns the registered table identifiers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
