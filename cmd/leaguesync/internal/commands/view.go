package commands

import (
	"fmt"

	"github.com/wolfeidau/leaguesync/internal/live"
	"github.com/wolfeidau/leaguesync/internal/query"
	"github.com/wolfeidau/leaguesync/internal/tables"
)

// ViewFlags are the query flags shared by list and watch.
type ViewFlags struct {
	Table    string   `arg:"" help:"Table to read (see tables.yaml)."`
	Scope    string   `help:"Scope value for scoped tables, e.g. the owner id for drafts or the organization id for venues."`
	Search   string   `help:"Search term matched against the table's search fields."`
	FilterBy string   `help:"Filterable column the filter value applies to."`
	Filter   string   `help:"Filter value."`
	SortBy   string   `help:"Sort column. Defaults to the table's default sort."`
	Desc     bool     `help:"Sort descending."`
	Page     int      `help:"Zero-based page number." default:"0"`
	PageSize int      `help:"Rows per page. Defaults to the table's page size." default:"0"`
	Output   string   `help:"Output format." enum:"table,json" default:"table"`
	Columns  []string `help:"Columns to print in table output."`
}

func (f *ViewFlags) newView(reg *tables.Registry) (*live.View, error) {
	t, err := reg.Get(f.Table)
	if err != nil {
		return nil, err
	}
	if t.Scoped() && f.Scope == "" {
		return nil, fmt.Errorf("table %s is scoped by %s: --scope is required", t.Name, t.ScopeColumn)
	}

	q := query.NewStateForTable(t)
	if f.SortBy != "" {
		q.SetSortBy(f.SortBy)
	}
	if f.Desc {
		q.SetSortOrder(tables.Desc)
	}
	if f.PageSize > 0 {
		q.SetPageSize(f.PageSize)
	}
	if f.FilterBy != "" {
		q.SetFilterType(f.FilterBy)
	}
	if f.Filter != "" {
		q.SetFilterValue(f.Filter)
	}
	if f.Search != "" {
		q.SetSearchQuery(f.Search)
	}
	q.SetPage(f.Page)

	v := live.NewView(t, q)
	v.SetScope(f.Scope)
	return v, nil
}
