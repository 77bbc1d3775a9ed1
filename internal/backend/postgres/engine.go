package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/leaguesync/internal/backend"
	"github.com/wolfeidau/leaguesync/internal/models"
)

// Engine runs pull queries directly against PostgreSQL. Each query runs in a
// read-only transaction with request.jwt.claims set from the session token,
// so row level security policies written for the REST gateway still apply.
type Engine struct {
	pool    *pgxpool.Pool
	tables  []string
	timeout time.Duration
	session models.Session
	tokens  backend.TokenFunc
	now     func() time.Time
}

// Select implements backend.Engine.
func (e *Engine) Select(ctx context.Context, q backend.Query) (backend.Result, error) {
	if !contains(e.tables, q.Table) {
		return backend.Result{}, &backend.QueryError{
			Code:    "42P01",
			Message: fmt.Sprintf("relation %q is not exposed", q.Table),
			Err:     backend.ErrUnknownTable,
		}
	}

	tok, err := e.tokens(ctx)
	if err != nil {
		return backend.Result{}, fmt.Errorf("%w: %w", backend.ErrUnauthorized, err)
	}
	claims, err := e.claims(tok)
	if err != nil {
		return backend.Result{}, err
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	page, count := buildSelect(q)
	var (
		total int
		raw   [][]byte
	)

	err = pgx.BeginTxFunc(ctx, e.pool, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT set_config('request.jwt.claims', $1, true)`, claims); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, count.sql, count.args...).Scan(&total); err != nil {
			return err
		}
		rows, err := tx.Query(ctx, page.sql, page.args...)
		if err != nil {
			return err
		}
		raw, err = pgx.CollectRows(rows, pgx.RowTo[[]byte])
		return err
	})
	if err != nil {
		return backend.Result{}, mapPostgresError(err)
	}

	out := make([]models.Row, 0, len(raw))
	for _, data := range raw {
		row, err := decodeRow(data)
		if err != nil {
			return backend.Result{}, err
		}
		out = append(out, row)
	}

	log.Debug().Str("table", q.Table).Int("rows", len(out)).Int("count", total).Msg("postgres select")

	return backend.Result{Rows: out, Count: total}, nil
}

// claims returns the JSON claims for request.jwt.claims. JWT tokens are
// decoded without verification since the database trusts the minter; opaque
// tokens fall back to the session identity.
func (e *Engine) claims(tok string) (string, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, mc); err != nil {
		mc = jwt.MapClaims{
			"sub":  e.session.OwnerID,
			"sid":  e.session.ID,
			"role": "authenticated",
		}
	} else if exp, err := mc.GetExpirationTime(); err == nil && exp != nil && !exp.After(e.now()) {
		return "", &backend.QueryError{Code: "PGRST301", Message: "JWT expired", Err: backend.ErrTokenExpired}
	}

	data, err := json.Marshal(mc)
	if err != nil {
		return "", fmt.Errorf("failed to encode claims: %w", err)
	}
	return string(data), nil
}

func decodeRow(data []byte) (models.Row, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var row models.Row
	if err := dec.Decode(&row); err != nil {
		return nil, fmt.Errorf("failed to decode row: %w", err)
	}
	return row, nil
}
