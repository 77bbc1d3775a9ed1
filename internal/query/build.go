package query

import (
	"github.com/wolfeidau/leaguesync/internal/backend"
	"github.com/wolfeidau/leaguesync/internal/tables"
)

// Build composes the pull query for a table: base predicates, the scope
// filter, search and filter matches, the sort clause and the page range.
func Build(t tables.Table, p Params, scope string) backend.Query {
	q := backend.Query{Table: t.Name}

	for _, pred := range t.Base {
		q.Equals = append(q.Equals, backend.Filter{Column: pred.Column, Value: pred.Value})
	}

	if t.Scoped() {
		q.Equals = append(q.Equals, backend.Filter{Column: t.ScopeColumn, Value: scope})
	}

	if p.SearchQuery != "" {
		for _, field := range t.SearchFields {
			q.Search = append(q.Search, backend.Match{Path: field, Term: p.SearchQuery})
		}
	}

	if p.FilterValue != "" && p.FilterType != "" && t.IsFilterable(p.FilterType) {
		q.Require = append(q.Require, backend.Match{Path: p.FilterType, Term: p.FilterValue})
	}

	sortBy := p.SortBy
	order := p.SortOrder
	if sortBy == "" {
		sortBy = t.DefaultSort.Column
		order = t.DefaultSort.Order
	}
	if sortBy != "" {
		q.Sort = &backend.Sort{
			Column:          sortBy,
			Descending:      order == tables.Desc,
			CaseInsensitive: t.IsTextColumn(sortBy),
		}
	}

	pageSize := p.PageSize
	if pageSize <= 0 {
		pageSize = t.PageSize
	}
	q.Offset = max(p.Page, 0) * pageSize
	q.Limit = pageSize

	return q
}
