package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/wolfeidau/leaguesync/internal/tables"
)

func TestRegistry_IndependentStates(t *testing.T) {
	r := NewRegistry(tables.Default())

	leagues, err := r.State("leagues")
	require.NoError(t, err)
	sports, err := r.State("sports")
	require.NoError(t, err)

	leagues.SetSearchQuery("hockey")
	leagues.SetPage(2)

	assert.Empty(t, sports.Params().SearchQuery)
	assert.Equal(t, "name", sports.Params().SortBy)
	assert.Equal(t, tables.Asc, sports.Params().SortOrder)

	again, err := r.State("leagues")
	require.NoError(t, err)
	assert.Same(t, leagues, again)
	assert.Equal(t, "hockey", again.Params().SearchQuery)
}

func TestRegistry_UnknownTable(t *testing.T) {
	r := NewRegistry(tables.Default())

	_, err := r.State("nope")
	require.ErrorIs(t, err, tables.ErrTableNotFound)
}

func TestRegistry_LeaguesToggleSort(t *testing.T) {
	r := NewRegistry(tables.Default())
	s, err := r.State("leagues")
	require.NoError(t, err)

	s.SetPage(3)
	s.ToggleSort("date_submitted")
	p := s.Params()
	assert.Equal(t, "date_submitted", p.SortBy)
	assert.Equal(t, tables.Asc, p.SortOrder)
	assert.Equal(t, 3, p.Page)

	s.ToggleSort("sport_name")
	p = s.Params()
	assert.Equal(t, "sport_name", p.SortBy)
	assert.Equal(t, tables.Asc, p.SortOrder)
	assert.Equal(t, 0, p.Page)
}

func TestRegistry_MutationsStayInTheirTable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewRegistry(tables.Default())
		sports, err := r.State("sports")
		require.NoError(t, err)
		venues, err := r.State("venues")
		require.NoError(t, err)

		before := venues.Params()

		steps := rapid.IntRange(1, 20).Draw(t, "steps")
		for range steps {
			switch rapid.IntRange(0, 4).Draw(t, "op") {
			case 0:
				sports.SetSearchQuery(rapid.String().Draw(t, "q"))
			case 1:
				sports.ToggleSort(rapid.SampledFrom([]string{"name", "created_at"}).Draw(t, "col"))
			case 2:
				sports.SetPage(rapid.IntRange(0, 30).Draw(t, "page"))
			case 3:
				sports.SetFilterValue(rapid.String().Draw(t, "fv"))
			case 4:
				sports.Reset()
			}
		}

		if venues.Params() != before {
			t.Fatalf("venues state changed: %+v -> %+v", before, venues.Params())
		}
	})
}
