package backend

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/leaguesync/internal/models"
)

func TestSubscription_Matches(t *testing.T) {
	sub := Subscription{Table: "drafts", Filter: &Filter{Column: "owner_id", Value: "user-1"}}

	tests := []struct {
		name string
		ev   models.ChangeEvent
		want bool
	}{
		{
			name: "insert for owner",
			ev:   models.ChangeEvent{Table: "drafts", Kind: models.ChangeInsert, New: models.Row{"id": 1, "owner_id": "user-1"}},
			want: true,
		},
		{
			name: "insert for other owner",
			ev:   models.ChangeEvent{Table: "drafts", Kind: models.ChangeInsert, New: models.Row{"id": 1, "owner_id": "user-2"}},
			want: false,
		},
		{
			name: "delete uses old row",
			ev:   models.ChangeEvent{Table: "drafts", Kind: models.ChangeDelete, Old: models.Row{"id": 1, "owner_id": "user-1"}},
			want: true,
		},
		{
			name: "other table",
			ev:   models.ChangeEvent{Table: "venues", Kind: models.ChangeInsert, New: models.Row{"id": 1, "owner_id": "user-1"}},
			want: false,
		},
		{
			name: "missing scope column",
			ev:   models.ChangeEvent{Table: "drafts", Kind: models.ChangeDelete, Old: models.Row{"id": 1}},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sub.Matches(tt.ev))
		})
	}
}

func TestEqualValues(t *testing.T) {
	assert.True(t, EqualValues(float64(7), 7))
	assert.True(t, EqualValues(json.Number("7"), int64(7)))
	assert.True(t, EqualValues("abc", "abc"))
	assert.False(t, EqualValues("abc", "abd"))
	assert.False(t, EqualValues(nil, "abc"))
}

func TestClient_CloseRunsClosersOnceInReverse(t *testing.T) {
	var order []int
	c := NewClient(nil, nil,
		func() error { order = append(order, 1); return nil },
		func() error { order = append(order, 2); return errors.New("boom") },
	)

	err := c.Close()
	require.Error(t, err)
	require.NoError(t, c.Close())
	assert.Equal(t, []int{2, 1}, order)
}

func TestQueryError_Unwrap(t *testing.T) {
	err := error(&QueryError{Code: "PGRST301", Message: "JWT expired", Err: ErrTokenExpired})
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.Equal(t, "query failed [PGRST301]: JWT expired", err.Error())
}

func TestCompareValues(t *testing.T) {
	assert.Equal(t, -1, CompareValues(2, 10, false))
	assert.Equal(t, 1, CompareValues("b", "A", false))
	assert.Equal(t, 1, CompareValues("b", "A", true))
	assert.Equal(t, 0, CompareValues("Soccer", "soccer", true))
	assert.Equal(t, 1, CompareValues(nil, "a", false))
	assert.Equal(t, -1, CompareValues("a", nil, false))
}

func TestMatch_Matches(t *testing.T) {
	r := models.Row{"name": "Downtown Soccer", "location": map[string]any{"city": "Portland"}}

	assert.True(t, Match{Path: "name", Term: "soc"}.Matches(r))
	assert.True(t, Match{Path: "location.city", Term: "PORT"}.Matches(r))
	assert.False(t, Match{Path: "location.name", Term: "x"}.Matches(r))
	assert.True(t, Filter{Column: "location.city", Value: "Portland"}.Matches(r))
}

func TestDecodeChange(t *testing.T) {
	raw := []byte(`{
		"ids": [1],
		"data": {
			"schema": "public",
			"table": "drafts",
			"type": "UPDATE",
			"commit_timestamp": "2026-03-01T10:00:00.123Z",
			"record": {"id": "d1", "owner_id": "u1", "name": "new"},
			"old_record": {"id": "d1"}
		}
	}`)

	ev, err := DecodeChange(raw)
	require.NoError(t, err)
	assert.Equal(t, "drafts", ev.Table)
	assert.Equal(t, models.ChangeUpdate, ev.Kind)
	assert.Equal(t, "new", ev.New["name"])
	assert.Equal(t, "d1", ev.Key("id"))
	assert.False(t, ev.CommitTimestamp.IsZero())
}

func TestDecodeChange_Delete(t *testing.T) {
	raw := []byte(`{"data": {"table": "drafts", "eventType": "DELETE", "record": {}, "old_record": {"id": "d2"}}}`)

	ev, err := DecodeChange(raw)
	require.NoError(t, err)
	assert.Equal(t, models.ChangeDelete, ev.Kind)
	assert.Nil(t, ev.New)
	assert.Equal(t, "d2", ev.Key("id"))
}

func TestDecodeChange_NumericKeyMatchesPulledRow(t *testing.T) {
	raw := []byte(`{"data": {"table": "leagues", "type": "INSERT", "record": {"id": 1234567, "name": "x"}}}`)

	ev, err := DecodeChange(raw)
	require.NoError(t, err)
	assert.Equal(t, json.Number("1234567"), ev.New["id"])

	pulled := models.Row{"id": json.Number("1234567")}
	assert.Equal(t, pulled.Key("id"), ev.Key("id"))
	assert.Equal(t, "1234567", ev.Key("id"))
}

func TestDecodeChange_UnknownType(t *testing.T) {
	_, err := DecodeChange([]byte(`{"data": {"type": "TRUNCATE"}}`))
	require.Error(t, err)
}
