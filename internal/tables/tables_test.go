package tables

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	reg := Default()
	assert.Equal(t, []string{"drafts", "leagues", "organizations", "sports", "templates", "venues"}, reg.Names())

	leagues, err := reg.Get("leagues")
	require.NoError(t, err)
	assert.Equal(t, "id", leagues.PrimaryKey)
	assert.False(t, leagues.Scoped())
	assert.Equal(t, []Predicate{{Column: "is_active", Value: true}}, leagues.Base)
	assert.Equal(t, DefaultSort{Column: "date_submitted", Order: Desc}, leagues.DefaultSort)
	assert.True(t, leagues.IsTextColumn("name"))
	assert.False(t, leagues.IsTextColumn("date_submitted"))

	drafts, err := reg.Get("drafts")
	require.NoError(t, err)
	assert.Equal(t, "owner_id", drafts.ScopeColumn)
	assert.True(t, drafts.Scoped())

	sports, err := reg.Get("sports")
	require.NoError(t, err)
	assert.Equal(t, PlacementAppend, sports.Placement)
}

func TestGet_Unknown(t *testing.T) {
	_, err := Default().Get("teams")
	require.ErrorIs(t, err, ErrTableNotFound)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	reg, err := Load(strings.NewReader(`
tables:
  - name: widgets
`))
	require.NoError(t, err)

	w, err := reg.Get("widgets")
	require.NoError(t, err)
	assert.Equal(t, "id", w.PrimaryKey)
	assert.Equal(t, 10, w.PageSize)
	assert.Equal(t, PlacementPrepend, w.Placement)
	assert.Equal(t, Desc, w.DefaultSort.Order)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{name: "missing name", doc: "tables:\n  - primary_key: id\n", want: "table name is required"},
		{name: "bad placement", doc: "tables:\n  - name: a\n    placement: middle\n", want: "unknown placement"},
		{name: "bad order", doc: "tables:\n  - name: a\n    default_sort: {column: x, order: up}\n", want: "unknown sort order"},
		{name: "duplicate", doc: "tables:\n  - name: a\n  - name: a\n", want: "duplicate table"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSortOrder_Flip(t *testing.T) {
	assert.Equal(t, Desc, Asc.Flip())
	assert.Equal(t, Asc, Desc.Flip())
}
