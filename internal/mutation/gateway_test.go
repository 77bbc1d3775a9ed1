package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/leaguesync/internal/conn"
	"github.com/wolfeidau/leaguesync/internal/identity"
	"github.com/wolfeidau/leaguesync/internal/models"
	"github.com/wolfeidau/leaguesync/internal/token"
)

type staticSource struct {
	state conn.State
}

func (s staticSource) Current() conn.State { return s.state }

func connected(t *testing.T) staticSource {
	t.Helper()
	session := models.Session{ID: "sess-1", OwnerID: "u1", Valid: true}
	tokens := token.NewCache(session, identity.MinterFunc(func(context.Context, models.Session) (string, error) {
		return "tok-1", nil
	}))
	require.NoError(t, tokens.Prime(context.Background()))
	return staticSource{state: conn.State{
		IsLoaded: true,
		Conn:     &conn.Connection{SessionID: session.ID, OwnerID: session.OwnerID, Tokens: tokens},
	}}
}

type recorded struct {
	method string
	path   string
	query  string
	auth   string
	body   map[string]any
}

func newServer(t *testing.T, status int, response string) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.query = r.URL.RawQuery
		rec.auth = r.Header.Get("Authorization")
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestGateway_SaveDraft(t *testing.T) {
	srv, rec := newServer(t, http.StatusCreated, `{"id":"d1","name":"Spring"}`)
	var called atomic.Int64
	g, err := NewGateway(Config{
		BaseURL:   srv.URL,
		OnSuccess: func(context.Context, Op, Kind) { called.Add(1) },
	}, connected(t))
	require.NoError(t, err)

	record, err := g.Save(context.Background(), KindDraft, models.Row{"name": "Spring"}, ModeCreate)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/api/drafts", rec.path)
	assert.Equal(t, "Bearer tok-1", rec.auth)
	assert.Equal(t, "Spring", rec.body["name"])
	assert.NotContains(t, rec.body, "mode")
	assert.Equal(t, "d1", record["id"])
	assert.Equal(t, int64(1), called.Load())

	_, err = g.Save(context.Background(), KindDraft, models.Row{"id": "d1", "name": "Fall"}, ModeUpdate)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, rec.method)
}

func TestGateway_SaveTemplateSendsMode(t *testing.T) {
	srv, rec := newServer(t, http.StatusOK, `{"id":"t1"}`)
	g, err := NewGateway(Config{BaseURL: srv.URL}, connected(t))
	require.NoError(t, err)

	payload := models.Row{"id": "t1", "name": "Base"}
	_, err = g.Save(context.Background(), KindTemplate, payload, ModeUpdate)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/api/templates", rec.path)
	assert.Equal(t, "update", rec.body["mode"])
	assert.NotContains(t, payload, "mode", "caller payload must not be modified")
}

func TestGateway_Remove(t *testing.T) {
	srv, rec := newServer(t, http.StatusNoContent, "")
	g, err := NewGateway(Config{BaseURL: srv.URL}, connected(t))
	require.NoError(t, err)

	require.NoError(t, g.Remove(context.Background(), KindTemplate, "t1"))
	assert.Equal(t, http.MethodDelete, rec.method)
	assert.Equal(t, "/api/templates", rec.path)
	assert.Equal(t, "id=t1", rec.query)

	require.NoError(t, g.Remove(context.Background(), KindVenue, "v 1"))
	assert.Equal(t, "/api/venues/v 1", rec.path)
}

func TestGateway_ServerErrorMessage(t *testing.T) {
	srv, _ := newServer(t, http.StatusBadRequest, `{"error":"name is required"}`)
	var called atomic.Int64
	g, err := NewGateway(Config{
		BaseURL:   srv.URL,
		OnSuccess: func(context.Context, Op, Kind) { called.Add(1) },
	}, connected(t))
	require.NoError(t, err)

	_, err = g.Save(context.Background(), KindSport, models.Row{}, ModeCreate)
	require.Error(t, err)
	assert.Equal(t, "name is required", err.Error())

	var mErr *Error
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, http.StatusBadRequest, mErr.Status)
	assert.Zero(t, called.Load())
}

func TestGateway_GenericErrorMessage(t *testing.T) {
	srv, _ := newServer(t, http.StatusInternalServerError, `oops`)
	g, err := NewGateway(Config{BaseURL: srv.URL}, connected(t))
	require.NoError(t, err)

	err = g.Remove(context.Background(), KindDraft, "d1")
	require.Error(t, err)
	assert.Equal(t, "failed to remove draft", err.Error())
}

func TestGateway_FailsFastWithoutConnection(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	t.Cleanup(srv.Close)

	g, err := NewGateway(Config{BaseURL: srv.URL}, staticSource{state: conn.State{IsLoaded: true}})
	require.NoError(t, err)

	_, err = g.Save(context.Background(), KindDraft, models.Row{}, ModeCreate)
	require.ErrorIs(t, err, conn.ErrNoConnection)
	require.ErrorIs(t, g.Remove(context.Background(), KindDraft, "d1"), conn.ErrNoConnection)
	assert.Zero(t, hits.Load())
}

func TestGateway_UnknownKind(t *testing.T) {
	g, err := NewGateway(Config{BaseURL: "http://localhost"}, connected(t))
	require.NoError(t, err)

	_, err = g.Save(context.Background(), Kind("league"), models.Row{}, ModeCreate)
	require.Error(t, err)

	_, err = ParseKind("league")
	require.Error(t, err)
	k, err := ParseKind("venue")
	require.NoError(t, err)
	assert.Equal(t, KindVenue, k)
}

func TestGateway_SaveRejectsUnknownMode(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	t.Cleanup(srv.Close)

	g, err := NewGateway(Config{BaseURL: srv.URL}, connected(t))
	require.NoError(t, err)

	for _, kind := range []Kind{KindDraft, KindTemplate} {
		_, err = g.Save(context.Background(), kind, models.Row{"id": "x1", "name": "n"}, Mode("upsert"))
		require.Error(t, err, kind)
		assert.Contains(t, err.Error(), "unknown mode")
	}
	_, err = g.Save(context.Background(), KindDraft, models.Row{"name": "n"}, Mode(""))
	require.Error(t, err)
	assert.Zero(t, hits.Load())
}

func TestError_Message(t *testing.T) {
	err := error(&Error{Op: OpSave, Kind: KindTemplate})
	assert.Equal(t, "failed to save template", err.Error())

	var target *Error
	assert.True(t, errors.As(err, &target))
}
