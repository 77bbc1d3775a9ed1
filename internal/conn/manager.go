// Package conn owns the single authenticated backend connection and its token
// refresh lifecycle.
package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/leaguesync/internal/backend"
	"github.com/wolfeidau/leaguesync/internal/identity"
	"github.com/wolfeidau/leaguesync/internal/models"
	"github.com/wolfeidau/leaguesync/internal/pubsub"
	"github.com/wolfeidau/leaguesync/internal/telemetry"
	"github.com/wolfeidau/leaguesync/internal/token"
)

// ErrNoConnection is returned by accessors when no connection has been established.
var ErrNoConnection = errors.New("no connection established")

// Connection is a backend client bound to one session.
type Connection struct {
	SessionID string
	OwnerID   string
	Client    *backend.Client
	Tokens    *token.Cache
}

// State is what consumers observe. A nil Conn with IsLoaded set and IsError
// unset means there is no signed-in user.
type State struct {
	Conn     *Connection
	IsLoaded bool
	IsError  bool
	Err      error
}

// Ready reports whether a connection is available.
func (s State) Ready() bool {
	return s.IsLoaded && !s.IsError && s.Conn != nil
}

// Config configures a Manager.
type Config struct {
	Minter          identity.Minter
	Factory         backend.Factory
	TokenLifetime   time.Duration
	RefreshInterval time.Duration
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	if c.TokenLifetime <= 0 {
		c.TokenLifetime = token.DefaultLifetime
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = token.DefaultRefreshInterval
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Minter == nil {
		return errors.New("minter is required")
	}
	if c.Factory == nil {
		return errors.New("backend factory is required")
	}
	if c.RefreshInterval >= c.TokenLifetime {
		return fmt.Errorf("refresh interval %s must be shorter than token lifetime %s", c.RefreshInterval, c.TokenLifetime)
	}
	return nil
}

// Manager turns identity updates into at most one live Connection.
type Manager struct {
	cfg Config

	mu        sync.Mutex
	state     State
	sessionID string
	closed    bool

	changes *pubsub.Broker[State]
}

// NewManager creates a manager. Nothing is built until Observe sees a loaded identity.
func NewManager(cfg Config) (*Manager, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connection config: %w", err)
	}
	return &Manager{
		cfg:     cfg,
		changes: pubsub.NewBroker[State](pubsub.WithBufferSize(8)),
	}, nil
}

// Observe applies one identity update and returns the resulting state.
//
// Updates before the identity provider is loaded are ignored. Re-delivering the
// session that is already connected is a no-op. A different session tears the
// current connection down before the new one is built.
func (m *Manager) Observe(ctx context.Context, id identity.State) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || !id.Loaded {
		return m.state
	}

	session, active := id.Active()
	if !active {
		if m.state.Conn == nil && m.state.IsLoaded && !m.state.IsError {
			return m.state
		}
		m.teardownLocked(ctx)
		m.sessionID = ""
		m.setLocked(State{IsLoaded: true})
		return m.state
	}

	if session.ID == m.sessionID {
		return m.state
	}

	m.teardownLocked(ctx)

	conn, err := m.buildLocked(ctx, session)
	if err != nil {
		log.Error().Err(err).Str("session_id", session.ID).Msg("connection initialization failed")
		telemetry.GetMetrics().ConnectionInitFailures.Add(ctx, 1)
		// not remembered, so re-delivering the same session retries
		m.sessionID = ""
		m.setLocked(State{IsLoaded: true, IsError: true, Err: err})
		return m.state
	}

	m.sessionID = session.ID
	telemetry.GetMetrics().ConnectionsBuiltTotal.Add(ctx, 1)
	log.Info().Str("session_id", session.ID).Str("owner_id", session.OwnerID).Msg("connection established")
	m.setLocked(State{Conn: conn, IsLoaded: true})
	return m.state
}

func (m *Manager) buildLocked(ctx context.Context, session models.Session) (*Connection, error) {
	tokens := token.NewCache(session, m.cfg.Minter, token.WithLifetime(m.cfg.TokenLifetime))
	if err := tokens.Prime(ctx); err != nil {
		return nil, err
	}

	client, err := m.cfg.Factory.Build(ctx, session, tokens.Get)
	if err != nil {
		return nil, fmt.Errorf("failed to build backend client: %w", err)
	}

	if err := tokens.Start(m.cfg.RefreshInterval); err != nil {
		if cerr := client.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("failed to close backend client")
		}
		return nil, fmt.Errorf("failed to start token refresh: %w", err)
	}

	return &Connection{
		SessionID: session.ID,
		OwnerID:   session.OwnerID,
		Client:    client,
		Tokens:    tokens,
	}, nil
}

// teardownLocked stops the refresh loop before closing the client so no
// refresh can run against a connection that is going away.
func (m *Manager) teardownLocked(ctx context.Context) {
	conn := m.state.Conn
	if conn == nil {
		return
	}
	conn.Tokens.Stop()
	if err := conn.Client.Close(); err != nil {
		log.Warn().Err(err).Str("session_id", conn.SessionID).Msg("failed to close backend client")
	}
	telemetry.GetMetrics().ConnectionsTornDownTotal.Add(ctx, 1)
	log.Info().Str("session_id", conn.SessionID).Msg("connection torn down")
	m.state.Conn = nil
}

func (m *Manager) setLocked(s State) {
	m.state = s
	m.changes.Publish(s)
}

// Current returns the latest state.
func (m *Manager) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Client returns the live backend client or ErrNoConnection.
func (m *Manager) Client() (*backend.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Conn == nil {
		return nil, ErrNoConnection
	}
	return m.state.Conn.Client, nil
}

// Subscribe returns a channel receiving every published state. The channel is
// closed when ctx ends or the manager is closed.
func (m *Manager) Subscribe(ctx context.Context) <-chan State {
	return m.changes.Subscribe(ctx)
}

// Run feeds identity updates into Observe until ctx ends or updates is closed.
func (m *Manager) Run(ctx context.Context, updates <-chan identity.State) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id, ok := <-updates:
			if !ok {
				return nil
			}
			m.Observe(ctx, id)
		}
	}
}

// Close tears down the connection and closes all subscriber channels.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.teardownLocked(context.Background())
	m.sessionID = ""
	m.state = State{IsLoaded: true}
	m.mu.Unlock()

	m.changes.Close()
}
