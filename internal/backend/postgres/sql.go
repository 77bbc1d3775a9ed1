package postgres

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/wolfeidau/leaguesync/internal/backend"
)

type statement struct {
	sql  string
	args []any
}

// queryBuilder renders a backend.Query as parameterised SQL. Identifiers are
// quoted with pgx.Identifier and every value, including JSON keys, is bound.
type queryBuilder struct {
	args []any
}

func (b *queryBuilder) bind(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// expr resolves a dotted path against the row alias t. The final JSON step
// uses ->> so nested values compare as text.
func (b *queryBuilder) expr(path string) string {
	parts := strings.Split(path, ".")
	var sb strings.Builder
	sb.WriteString(pgx.Identifier{"t", parts[0]}.Sanitize())
	for i, p := range parts[1:] {
		if i == len(parts)-2 {
			sb.WriteString("->>")
		} else {
			sb.WriteString("->")
		}
		sb.WriteString(b.bind(p))
	}
	return sb.String()
}

func (b *queryBuilder) where(q backend.Query) string {
	var conds []string

	for _, f := range q.Equals {
		if f.Value == nil {
			conds = append(conds, b.expr(f.Column)+" IS NULL")
			continue
		}
		value := f.Value
		if strings.Contains(f.Column, ".") {
			value = fmt.Sprint(value)
		}
		conds = append(conds, b.expr(f.Column)+" = "+b.bind(value))
	}

	if len(q.Search) > 0 {
		ors := make([]string, 0, len(q.Search))
		for _, m := range q.Search {
			ors = append(ors, b.ilike(m))
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}

	for _, m := range q.Require {
		conds = append(conds, b.ilike(m))
	}

	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func (b *queryBuilder) ilike(m backend.Match) string {
	return "(" + b.expr(m.Path) + ")::text ILIKE " + b.bind(likePattern(m.Term))
}

func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}

// buildSelect returns the page query and the matching count query.
func buildSelect(q backend.Query) (page, count statement) {
	table := pgx.Identifier{q.Table}.Sanitize()

	cb := &queryBuilder{}
	count.sql = "SELECT count(*) FROM " + table + " AS t" + cb.where(q)
	count.args = cb.args

	pb := &queryBuilder{}
	var sb strings.Builder
	sb.WriteString("SELECT to_jsonb(t) FROM ")
	sb.WriteString(table)
	sb.WriteString(" AS t")
	sb.WriteString(pb.where(q))

	if q.Sort != nil {
		col := pb.expr(q.Sort.Column)
		if q.Sort.CaseInsensitive {
			col = "lower((" + col + ")::text)"
		}
		dir := "ASC"
		if q.Sort.Descending {
			dir = "DESC"
		}
		sb.WriteString(" ORDER BY " + col + " " + dir + " NULLS LAST")
	}

	if q.Offset > 0 {
		sb.WriteString(" OFFSET " + pb.bind(q.Offset))
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + pb.bind(q.Limit))
	}

	page.sql = sb.String()
	page.args = pb.args
	return page, count
}
