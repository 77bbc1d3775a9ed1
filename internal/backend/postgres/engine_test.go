package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/leaguesync/internal/backend"
	"github.com/wolfeidau/leaguesync/internal/models"
)

func testEngine(tokens backend.TokenFunc) *Engine {
	return &Engine{
		tables:  []string{"drafts"},
		session: models.Session{ID: "sess-1", OwnerID: "user-1"},
		tokens:  tokens,
		now:     func() time.Time { return time.Unix(1_700_000_000, 0) },
	}
}

func staticToken(tok string) backend.TokenFunc {
	return func(context.Context) (string, error) { return tok, nil }
}

func TestEngine_RejectsUnlistedTable(t *testing.T) {
	e := testEngine(staticToken("t"))

	_, err := e.Select(context.Background(), backend.Query{Table: "secrets"})
	require.ErrorIs(t, err, backend.ErrUnknownTable)
}

func TestEngine_TokenFailureIsUnauthorized(t *testing.T) {
	e := testEngine(func(context.Context) (string, error) { return "", errors.New("mint failed") })

	_, err := e.Select(context.Background(), backend.Query{Table: "drafts"})
	require.ErrorIs(t, err, backend.ErrUnauthorized)
}

func TestEngine_ClaimsFromJWT(t *testing.T) {
	e := testEngine(nil)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "user-9",
		"role": "authenticated",
		"exp":  e.now().Add(time.Minute).Unix(),
	}).SignedString([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	raw, err := e.claims(tok)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, "user-9", got["sub"])
	assert.Equal(t, "authenticated", got["role"])
}

func TestEngine_ExpiredJWT(t *testing.T) {
	e := testEngine(nil)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-9",
		"exp": e.now().Add(-time.Second).Unix(),
	}).SignedString([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	_, err = e.claims(tok)
	require.ErrorIs(t, err, backend.ErrTokenExpired)
}

func TestEngine_ClaimsFromOpaqueToken(t *testing.T) {
	e := testEngine(nil)

	raw, err := e.claims("opaque-token")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, map[string]any{"sub": "user-1", "sid": "sess-1", "role": "authenticated"}, got)
}

func TestDecodeRow(t *testing.T) {
	row, err := decodeRow([]byte(`{"id":7,"name":"Spring","location":{"city":"Perth"}}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("7"), row["id"])
	v, ok := row.Lookup("location.city")
	require.True(t, ok)
	assert.Equal(t, "Perth", v)

	_, err = decodeRow([]byte(`not json`))
	require.Error(t, err)
}

func TestMapPostgresError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"undefined table", &pgconn.PgError{Code: pgerrcode.UndefinedTable}, backend.ErrUnknownTable},
		{"privilege", &pgconn.PgError{Code: pgerrcode.InsufficientPrivilege}, backend.ErrUnauthorized},
		{"too many connections", &pgconn.PgError{Code: pgerrcode.TooManyConnections}, backend.ErrUnavailable},
		{"canceled", &pgconn.PgError{Code: pgerrcode.QueryCanceled}, backend.ErrUnavailable},
		{"transport", errors.New("connection reset"), backend.ErrUnavailable},
		{"context", context.DeadlineExceeded, context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapPostgresError(tt.err), tt.want)
		})
	}

	var qe *backend.QueryError
	require.ErrorAs(t, mapPostgresError(&pgconn.PgError{Code: pgerrcode.SyntaxError, Message: "bad", Detail: "near x"}), &qe)
	assert.Equal(t, pgerrcode.SyntaxError, qe.Code)
	assert.Equal(t, "bad (detail: near x)", qe.Message)

	assert.NoError(t, mapPostgresError(nil))
}

func TestConfig_Validate(t *testing.T) {
	cfg := &Config{Pool: PoolConfig{ConnString: "postgres://localhost/db"}, Tables: []string{"drafts", "sports"}}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultNotifyChannel, cfg.NotifyChannel)
	assert.Equal(t, 10*time.Second, cfg.QueryTimeout)

	bad := *cfg
	bad.Tables = []string{"drafts; drop table x"}
	require.Error(t, bad.Validate())

	bad = *cfg
	bad.Tables = nil
	require.Error(t, bad.Validate())

	bad = *cfg
	bad.Pool.MinConns = 20
	require.Error(t, bad.Validate())
}

func TestChannel_ReconnectsAfterRelisten(t *testing.T) {
	l := newListener(nil, "leaguesync_changes")
	defer l.close()
	ch := &channel{listener: l, tables: []string{"drafts"}, tokens: func(context.Context) (string, error) { return "tok", nil }}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals := ch.Reconnects(ctx)

	l.listening()
	require.NoError(t, l.waitReady(ctx))
	select {
	case <-signals:
		t.Fatal("first listen is not a reconnect")
	default:
	}

	l.listening()
	select {
	case <-signals:
	case <-time.After(time.Second):
		t.Fatal("expected reconnect signal")
	}
}

func TestChannel_SubscribeChecksAllowlist(t *testing.T) {
	l := newListener(nil, "leaguesync_changes")
	defer l.close()
	ch := &channel{listener: l, tables: []string{"drafts"}, tokens: func(context.Context) (string, error) { return "tok", nil }}

	_, err := ch.Subscribe(context.Background(), backend.Subscription{Table: "secrets"}, func(models.ChangeEvent) {})
	require.ErrorIs(t, err, backend.ErrUnknownTable)

	u, err := ch.Subscribe(context.Background(), backend.Subscription{Table: "drafts"}, func(models.ChangeEvent) {})
	require.NoError(t, err)
	require.NoError(t, u.Unsubscribe())
}
