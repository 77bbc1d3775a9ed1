// Package mutation sends authenticated writes to the site's HTTP endpoints.
//
// Writes never touch a view's snapshot. Callers learn about the result
// through pushed change events or by refetching from OnSuccess.
package mutation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/oauth2"

	"github.com/wolfeidau/leaguesync/internal/conn"
	"github.com/wolfeidau/leaguesync/internal/models"
	"github.com/wolfeidau/leaguesync/internal/telemetry"
)

const maxErrorBody = 64 << 10

// Op names a write operation.
type Op string

const (
	OpSave   Op = "save"
	OpRemove Op = "remove"
)

// Error is returned for non-2xx responses. Message is the server's error text
// when it sent one.
type Error struct {
	Op      Op
	Kind    Kind
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("failed to %s %s", e.Op, e.Kind)
}

// Source supplies the current connection. *conn.Manager implements it.
type Source interface {
	Current() conn.State
}

// Config configures a Gateway.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Routes     map[Kind]Route

	// OnSuccess runs after every successful write.
	OnSuccess func(ctx context.Context, op Op, kind Kind)
}

// Gateway performs writes on behalf of the signed-in session.
type Gateway struct {
	base      *url.URL
	source    Source
	client    *http.Client
	routes    map[Kind]Route
	onSuccess func(ctx context.Context, op Op, kind Kind)
}

// NewGateway creates a gateway.
func NewGateway(cfg Config, source Source) (*Gateway, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Routes == nil {
		cfg.Routes = DefaultRoutes()
	}
	return &Gateway{
		base:      base,
		source:    source,
		client:    cfg.HTTPClient,
		routes:    cfg.Routes,
		onSuccess: cfg.OnSuccess,
	}, nil
}

// Save creates or updates a record and returns the server's copy. mode must
// be ModeCreate or ModeUpdate.
func (g *Gateway) Save(ctx context.Context, kind Kind, payload models.Row, mode Mode) (models.Row, error) {
	route, ok := g.routes[kind]
	if !ok {
		return nil, fmt.Errorf("unknown kind: %q", kind)
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}

	method := http.MethodPost
	body := payload
	switch route.Style {
	case StyleResource:
		if mode == ModeUpdate {
			method = http.MethodPut
		}
	case StyleAction:
		body = payload.Clone()
		if body == nil {
			body = models.Row{}
		}
		body["mode"] = string(mode)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", kind, err)
	}

	var record models.Row
	if err := g.do(ctx, OpSave, kind, method, g.resolve(route.Path, ""), data, &record); err != nil {
		return nil, err
	}
	return record, nil
}

// Remove deletes the record with the given id.
func (g *Gateway) Remove(ctx context.Context, kind Kind, id string) error {
	route, ok := g.routes[kind]
	if !ok {
		return fmt.Errorf("unknown kind: %q", kind)
	}
	if id == "" {
		return errors.New("id is required")
	}

	var target string
	switch route.Style {
	case StyleAction:
		target = g.resolve(route.Path, url.Values{"id": {id}}.Encode())
	default:
		target = g.resolve(route.Path+"/"+url.PathEscape(id), "")
	}

	return g.do(ctx, OpRemove, kind, http.MethodDelete, target, nil, nil)
}

func (g *Gateway) resolve(path, rawQuery string) string {
	u := *g.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = rawQuery
	return u.String()
}

func (g *Gateway) do(ctx context.Context, op Op, kind Kind, method, target string, body []byte, out any) (err error) {
	metrics := telemetry.GetMetrics()
	attrs := metric.WithAttributes(attribute.String("op", string(op)), attribute.String("kind", string(kind)))
	start := time.Now()
	defer func() {
		metrics.MutationDurationMsec.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
		if err != nil {
			metrics.MutationErrorsTotal.Add(ctx, 1, attrs)
		}
	}()
	metrics.MutationsTotal.Add(ctx, 1, attrs)

	// fail before any network attempt when there is nobody to act for
	st := g.source.Current()
	if !st.Ready() {
		return conn.ErrNoConnection
	}
	tok, err := st.Conn.Tokens.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get token for %s %s: %w", op, kind, err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, g.client),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok, TokenType: "Bearer"}))

	resp, err := client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("op", string(op)).Str("kind", string(kind)).Msg("write request failed")
		return fmt.Errorf("failed to %s %s: %w", op, kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		mErr := &Error{Op: op, Kind: kind, Status: resp.StatusCode, Message: errorMessage(resp.Body)}
		log.Warn().Int("status", resp.StatusCode).Str("op", string(op)).Str("kind", string(kind)).Str("message", mErr.Message).Msg("write rejected")
		return mErr
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to decode %s response: %w", kind, err)
		}
	}

	log.Debug().Str("op", string(op)).Str("kind", string(kind)).Int("status", resp.StatusCode).Msg("write succeeded")

	if g.onSuccess != nil {
		g.onSuccess(ctx, op, kind)
	}
	return nil
}

// errorMessage extracts the {"error": "..."} message from a failure response.
func errorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	return body.Error
}
