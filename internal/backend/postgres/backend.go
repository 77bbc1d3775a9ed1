package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/leaguesync/internal/backend"
	"github.com/wolfeidau/leaguesync/internal/models"
)

// Backend serves pull queries and row change notifications straight from
// PostgreSQL. One pool and one LISTEN connection are shared by every session;
// Build hands each session its own engine bound to its token supplier.
type Backend struct {
	pool     *pgxpool.Pool
	cfg      *Config
	listener *listener

	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewBackend connects to PostgreSQL and, when enabled, installs the change
// notification trigger function.
func NewBackend(ctx context.Context, cfg *Config) (*Backend, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	pool, err := NewPool(ctx, &cfg.Pool)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("database", pool.Config().ConnConfig.Database).
		Str("host", pool.Config().ConnConfig.Host).
		Int32("max_conns", cfg.Pool.MaxConns).
		Msg("Connected to PostgreSQL")

	if cfg.AutoMigrate {
		if err := runMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info().Msg("Database migrations completed")
	}

	return &Backend{
		pool:     pool,
		cfg:      cfg,
		listener: newListener(pool, cfg.NotifyChannel),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start launches the change listener and pool monitor, then waits until the
// listener is subscribed so no change committed after Start returns is missed.
func (b *Backend) Start(ctx context.Context) error {
	log.Info().Msg("Starting PostgreSQL backend")

	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		b.listener.run(runCtx)
	}()
	go func() {
		defer b.wg.Done()
		b.monitorConnectionPool()
	}()

	if err := b.listener.waitReady(ctx); err != nil {
		return fmt.Errorf("change listener not ready: %w", err)
	}
	return nil
}

// Stop shuts down background tasks, ends all subscriptions and closes the pool.
func (b *Backend) Stop() error {
	b.once.Do(func() {
		log.Info().Msg("Stopping PostgreSQL backend")

		close(b.stopCh)
		if b.cancel != nil {
			b.cancel()
		}
		b.wg.Wait()

		b.listener.close()
		b.pool.Close()

		log.Info().Msg("PostgreSQL backend stopped")
	})
	return nil
}

// Build implements backend.Factory.
func (b *Backend) Build(ctx context.Context, session models.Session, tokens backend.TokenFunc) (*backend.Client, error) {
	if _, err := tokens(ctx); err != nil {
		return nil, fmt.Errorf("postgres backend token: %w", err)
	}

	engine := &Engine{
		pool:    b.pool,
		tables:  b.cfg.Tables,
		timeout: b.cfg.QueryTimeout,
		session: session,
		tokens:  tokens,
		now:     time.Now,
	}
	ch := &channel{listener: b.listener, tables: b.cfg.Tables, tokens: tokens}

	return backend.NewClient(engine, ch), nil
}

// channel scopes the shared listener to one session. LISTEN bypasses row
// level security, so only allowlisted tables can be subscribed and the token
// must still be valid when subscribing.
type channel struct {
	listener *listener
	tables   []string
	tokens   backend.TokenFunc
}

func (c *channel) Subscribe(ctx context.Context, sub backend.Subscription, handler backend.Handler) (backend.Unsubscriber, error) {
	if !contains(c.tables, sub.Table) {
		return nil, fmt.Errorf("subscribe %s: %w", sub.Table, backend.ErrUnknownTable)
	}
	if _, err := c.tokens(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", backend.ErrUnauthorized, err)
	}
	return c.listener.fanout.Subscribe(ctx, sub, handler)
}

// Reconnects implements backend.Reconnector for the shared listener.
func (c *channel) Reconnects(ctx context.Context) <-chan struct{} {
	return c.listener.relistens.Subscribe(ctx)
}

func contains(tables []string, table string) bool {
	for _, t := range tables {
		if t == table {
			return true
		}
	}
	return false
}

// monitorConnectionPool logs connection pool statistics periodically.
func (b *Backend) monitorConnectionPool() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := b.pool.Stat()
			log.Debug().
				Int32("total_conns", stats.TotalConns()).
				Int32("idle_conns", stats.IdleConns()).
				Int32("acquired_conns", stats.AcquiredConns()).
				Int64("acquire_count", stats.AcquireCount()).
				Int64("acquire_duration_ns", stats.AcquireDuration().Nanoseconds()).
				Msg("Connection pool stats")
		case <-b.stopCh:
			return
		}
	}
}
