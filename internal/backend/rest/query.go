package rest

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/wolfeidau/leaguesync/internal/backend"
)

// encodeQuery renders q as PostgREST query parameters.
func encodeQuery(q backend.Query) string {
	v := url.Values{}
	v.Set("select", "*")

	for _, f := range q.Equals {
		v.Add(column(f.Column), "eq."+literal(f.Value))
	}

	if len(q.Search) > 0 {
		terms := make([]string, 0, len(q.Search))
		for _, m := range q.Search {
			terms = append(terms, column(m.Path)+".ilike."+quote(pattern(m.Term)))
		}
		v.Set("or", "("+strings.Join(terms, ",")+")")
	}

	for _, m := range q.Require {
		v.Add(column(m.Path), "ilike."+pattern(m.Term))
	}

	if q.Sort != nil {
		dir := "asc"
		if q.Sort.Descending {
			dir = "desc"
		}
		v.Set("order", column(q.Sort.Column)+"."+dir+".nullslast")
	}

	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}

	return v.Encode()
}

// column maps a dotted JSON path to PostgREST's arrow syntax:
// "location.city" becomes "location->>city".
func column(path string) string {
	parts := strings.Split(path, ".")
	if len(parts) == 1 {
		return path
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for i, p := range parts[1:] {
		if i == len(parts)-2 {
			b.WriteString("->>")
		} else {
			b.WriteString("->")
		}
		b.WriteString(p)
	}
	return b.String()
}

func pattern(term string) string {
	// * is PostgREST's url-safe wildcard
	return "*" + strings.ReplaceAll(term, "*", "") + "*"
}

// quote wraps values containing PostgREST reserved characters in double quotes.
func quote(s string) string {
	if !strings.ContainsAny(s, `,.:()"\ `) {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
