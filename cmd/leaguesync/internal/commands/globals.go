package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/wolfeidau/leaguesync/internal/backend"
	"github.com/wolfeidau/leaguesync/internal/backend/memory"
	"github.com/wolfeidau/leaguesync/internal/backend/postgres"
	"github.com/wolfeidau/leaguesync/internal/backend/realtime"
	"github.com/wolfeidau/leaguesync/internal/backend/rest"
	"github.com/wolfeidau/leaguesync/internal/conn"
	"github.com/wolfeidau/leaguesync/internal/identity"
	"github.com/wolfeidau/leaguesync/internal/logger"
	"github.com/wolfeidau/leaguesync/internal/models"
	"github.com/wolfeidau/leaguesync/internal/tables"
	"github.com/wolfeidau/leaguesync/internal/telemetry"
)

// Globals are the flags shared by every command.
type Globals struct {
	Debug    bool   `help:"Enable debug mode."`
	LogLevel string `help:"Log level (trace, debug, info, warn, error)." env:"LEAGUESYNC_LOG_LEVEL"`
	Tracing  bool   `help:"Export traces and metrics over OTLP." env:"LEAGUESYNC_TRACING"`

	Backend     string `help:"Data backend." enum:"rest,postgres,memory" default:"rest" env:"LEAGUESYNC_BACKEND"`
	URL         string `help:"Data API base URL." env:"LEAGUESYNC_URL"`
	APIKey      string `help:"Data API public key." env:"LEAGUESYNC_API_KEY"`
	Schema      string `help:"Database schema." default:"public" env:"LEAGUESYNC_SCHEMA"`
	DatabaseURL string `help:"PostgreSQL connection string for the postgres backend." env:"LEAGUESYNC_DATABASE_URL"`
	AutoMigrate bool   `help:"Install the change notification trigger function on startup." env:"LEAGUESYNC_AUTO_MIGRATE"`
	SiteURL     string `help:"Site API base URL used for writes." env:"LEAGUESYNC_SITE_URL"`
	SeedFile    string `help:"JSON file of rows keyed by table for the memory backend." type:"existingfile"`
	TablesFile  string `help:"YAML table definitions overriding the built-in set." type:"existingfile" env:"LEAGUESYNC_TABLES_FILE"`

	SessionID string `help:"Session identifier. Generated when empty." env:"LEAGUESYNC_SESSION_ID"`
	OwnerID   string `help:"Signed-in principal." env:"LEAGUESYNC_OWNER_ID"`

	JWTSecret     string        `help:"Shared secret for signing data API tokens." env:"LEAGUESYNC_JWT_SECRET"`
	TokenURL      string        `help:"OAuth2 token endpoint, used when no JWT secret is set." env:"LEAGUESYNC_TOKEN_URL"`
	ClientID      string        `help:"OAuth2 client id." env:"LEAGUESYNC_CLIENT_ID"`
	ClientSecret  string        `help:"OAuth2 client secret." env:"LEAGUESYNC_CLIENT_SECRET"`
	TokenLifetime time.Duration `help:"Lifetime of minted tokens." default:"60s"`
	TokenRefresh  time.Duration `help:"Background token refresh interval." default:"50s"`
	HTTPTimeout   time.Duration `help:"Timeout for HTTP requests." default:"30s"`

	Version string `kong:"-"`

	out   io.Writer     `kong:"-"`
	store *memory.Store `kong:"-"`
}

func (g *Globals) stdout() io.Writer {
	if g.out == nil {
		return os.Stdout
	}
	return g.out
}

// setup installs the global logger and, when enabled, telemetry exporters.
func (g *Globals) setup(ctx context.Context) (func(), error) {
	l, err := logger.Setup(g.LogLevel, g.Debug)
	if err != nil {
		return nil, err
	}
	log.Logger = l

	if !g.Tracing {
		return func() {}, nil
	}

	shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{ServiceName: "leaguesync", Version: g.Version})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}, nil
}

func (g *Globals) registry() (*tables.Registry, error) {
	if g.TablesFile == "" {
		return tables.Default(), nil
	}
	f, err := os.Open(g.TablesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open tables file: %w", err)
	}
	defer f.Close()
	return tables.Load(f)
}

func (g *Globals) httpClient() *http.Client {
	return &http.Client{
		Timeout:   g.HTTPTimeout,
		Transport: logger.NewTransport(log.Logger, nil),
	}
}

func (g *Globals) session() models.Session {
	if g.SessionID == "" {
		g.SessionID = uuid.NewString()
	}
	return models.Session{ID: g.SessionID, OwnerID: g.OwnerID, Valid: true}
}

func (g *Globals) minter() (identity.Minter, error) {
	switch {
	case g.JWTSecret != "":
		return identity.NewJWTMinter(identity.JWTMinterConfig{
			Secret: []byte(g.JWTSecret),
			TTL:    g.TokenLifetime,
		})
	case g.TokenURL != "":
		return identity.NewOAuth2Minter(clientcredentials.Config{
			ClientID:     g.ClientID,
			ClientSecret: g.ClientSecret,
			TokenURL:     g.TokenURL,
		}), nil
	default:
		return nil, errors.New("either --jwt-secret or --token-url is required")
	}
}

// factory returns the backend factory and a function releasing anything
// shared between sessions.
func (g *Globals) factory(ctx context.Context, reg *tables.Registry) (backend.Factory, func(), error) {
	switch g.Backend {
	case "rest":
		if g.URL == "" {
			return nil, nil, errors.New("--url is required for the rest backend")
		}
		client := g.httpClient()
		return backend.FactoryFunc(func(ctx context.Context, _ models.Session, tokens backend.TokenFunc) (*backend.Client, error) {
			engine, err := rest.NewEngine(rest.Config{
				URL:        g.URL + "/rest/v1",
				APIKey:     g.APIKey,
				Schema:     g.Schema,
				HTTPClient: client,
			}, tokens)
			if err != nil {
				return nil, err
			}
			ch, err := realtime.Dial(ctx, realtime.Config{
				URL:    g.URL + "/realtime/v1/websocket",
				APIKey: g.APIKey,
				Schema: g.Schema,
			}, tokens)
			if err != nil {
				return nil, err
			}
			return backend.NewClient(engine, ch, ch.Close), nil
		}), func() {}, nil

	case "postgres":
		if g.DatabaseURL == "" {
			return nil, nil, errors.New("--database-url is required for the postgres backend")
		}
		b, err := postgres.NewBackend(ctx, &postgres.Config{
			Pool:        postgres.PoolConfig{ConnString: g.DatabaseURL},
			Tables:      reg.Names(),
			AutoMigrate: g.AutoMigrate,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := b.Start(ctx); err != nil {
			_ = b.Stop()
			return nil, nil, err
		}
		return b, func() { _ = b.Stop() }, nil

	case "memory":
		if g.store == nil {
			g.store = memory.NewStore(reg.Names()...)
			if g.SeedFile != "" {
				if err := seed(g.store, g.SeedFile); err != nil {
					return nil, nil, err
				}
			}
		}
		return memory.Factory{Store: g.store}, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", g.Backend)
	}
}

func seed(store *memory.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}
	var doc map[string][]models.Row
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}
	for table, rows := range doc {
		for _, row := range rows {
			if err := store.Insert(table, row); err != nil {
				return fmt.Errorf("seed %s: %w", table, err)
			}
		}
	}
	return nil
}

// connect builds a connection for the configured session and waits for it to
// initialise. The returned function tears everything down.
func (g *Globals) connect(ctx context.Context, reg *tables.Registry) (*conn.Manager, func(), error) {
	minter, err := g.minter()
	if err != nil {
		return nil, nil, err
	}
	factory, release, err := g.factory(ctx, reg)
	if err != nil {
		return nil, nil, err
	}

	mgr, err := conn.NewManager(conn.Config{
		Minter:          minter,
		Factory:         factory,
		TokenLifetime:   g.TokenLifetime,
		RefreshInterval: g.TokenRefresh,
	})
	if err != nil {
		release()
		return nil, nil, err
	}

	session := g.session()
	st := mgr.Observe(ctx, identity.State{Loaded: true, Session: &session})
	if st.IsError {
		mgr.Close()
		release()
		return nil, nil, fmt.Errorf("failed to connect: %w", st.Err)
	}

	log.Debug().Str("session_id", session.ID).Str("backend", g.Backend).Msg("connected")

	return mgr, func() {
		mgr.Close()
		release()
	}, nil
}
