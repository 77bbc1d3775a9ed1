// Package rest implements backend.Engine against a PostgREST endpoint.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/wolfeidau/leaguesync/internal/backend"
	"github.com/wolfeidau/leaguesync/internal/models"
)

// Config configures the REST engine.
type Config struct {
	// URL is the PostgREST base, e.g. https://host/rest/v1.
	URL        string
	APIKey     string
	Schema     string
	HTTPClient *http.Client
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("rest URL is required")
	}
	if _, err := url.Parse(c.URL); err != nil {
		return fmt.Errorf("invalid rest URL: %w", err)
	}
	return nil
}

// Engine runs pull queries over HTTP with the session's bearer token.
type Engine struct {
	cfg    Config
	base   *url.URL
	tokens backend.TokenFunc
}

// NewEngine creates an engine.
func NewEngine(cfg Config, tokens backend.TokenFunc) (*Engine, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rest config: %w", err)
	}
	base, _ := url.Parse(cfg.URL)
	return &Engine{cfg: cfg, base: base, tokens: tokens}, nil
}

// Select implements backend.Engine.
func (e *Engine) Select(ctx context.Context, q backend.Query) (backend.Result, error) {
	target := e.base.JoinPath(q.Table)
	target.RawQuery = encodeQuery(q)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return backend.Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", "count=exact")
	if e.cfg.APIKey != "" {
		req.Header.Set("apikey", e.cfg.APIKey)
	}
	if e.cfg.Schema != "" {
		req.Header.Set("Accept-Profile", e.cfg.Schema)
	}

	client := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, e.cfg.HTTPClient), backend.TokenSource(ctx, e.tokens))

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backend.Result{}, ctx.Err()
		}
		return backend.Result{}, fmt.Errorf("%w: %w", backend.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return mapResponseError(resp)
	}

	var rows []models.Row
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&rows); err != nil && !errors.Is(err, io.EOF) {
		return backend.Result{}, fmt.Errorf("failed to decode rows: %w", err)
	}
	if rows == nil {
		rows = []models.Row{}
	}

	count, ok := parseContentRange(resp.Header.Get("Content-Range"))
	if !ok {
		count = q.Offset + len(rows)
	}

	log.Debug().Str("table", q.Table).Int("rows", len(rows)).Int("count", count).Msg("rest select")

	return backend.Result{Rows: rows, Count: count}, nil
}

// parseContentRange extracts the total from "0-9/42" or "*/0".
func parseContentRange(v string) (int, bool) {
	_, total, ok := strings.Cut(v, "/")
	if !ok || total == "*" {
		return 0, false
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, false
	}
	return n, true
}
