package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/wolfeidau/leaguesync/internal/live"
	"github.com/wolfeidau/leaguesync/internal/models"
)

const maxCellWidth = 32

func printState(w io.Writer, format string, columns []string, st live.State) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Rows  []models.Row `json:"rows"`
			Total int          `json:"total"`
		}{Rows: st.Rows, Total: st.Total})
	}

	if len(st.Rows) == 0 {
		fmt.Fprintln(w, "No rows found.")
		return nil
	}

	if len(columns) == 0 {
		columns = slices.Sorted(maps.Keys(st.Rows[0]))
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(columns, "\t"))
	for _, row := range st.Rows {
		cells := make([]string, len(columns))
		for i, col := range columns {
			cells[i] = cell(row, col)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%d of %d rows\n", len(st.Rows), st.Total)
	return nil
}

func cell(row models.Row, col string) string {
	v, ok := row.Lookup(col)
	if !ok || v == nil {
		return "-"
	}
	var s string
	switch v := v.(type) {
	case string:
		s = v
	case map[string]any, []any:
		data, _ := json.Marshal(v)
		s = string(data)
	default:
		s = fmt.Sprint(v)
	}
	s = strings.ReplaceAll(s, "\t", " ")
	if len(s) > maxCellWidth {
		s = s[:maxCellWidth-3] + "..."
	}
	return s
}
