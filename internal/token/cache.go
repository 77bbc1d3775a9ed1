package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/leaguesync/internal/identity"
	"github.com/wolfeidau/leaguesync/internal/models"
	"github.com/wolfeidau/leaguesync/internal/telemetry"
)

const (
	// DefaultLifetime is assumed when the token carries no readable exp claim.
	DefaultLifetime = 60 * time.Second

	// DefaultRefreshInterval leaves a 10s margin inside DefaultLifetime.
	DefaultRefreshInterval = 50 * time.Second

	tokenKey = "bearer"
)

var (
	// ErrInvalidInterval is returned by Start when the refresh interval would let the token lapse.
	ErrInvalidInterval = errors.New("refresh interval must be positive and shorter than the token lifetime")

	// ErrAlreadyRunning is returned by Start when a refresh loop is already active.
	ErrAlreadyRunning = errors.New("token refresh already running")
)

// Cache holds the current bearer token for one session and keeps it fresh on a timer.
// Get never performs a network call while a non-expired token is cached.
type Cache struct {
	session  models.Session
	minter   identity.Minter
	lifetime time.Duration
	now      func() time.Time

	store *gocache.Cache

	// mintMu serialises mints so concurrent misses do not stampede the provider.
	mintMu   sync.Mutex
	mintedAt time.Time

	loopMu sync.Mutex
	stopCh chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Cache.
type Option func(*Cache)

// WithLifetime overrides the fallback token lifetime.
func WithLifetime(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.lifetime = d
		}
	}
}

// NewCache creates a token cache for the given session. No token is minted until Prime or Get is called.
func NewCache(session models.Session, minter identity.Minter, opts ...Option) *Cache {
	c := &Cache{
		session:  session,
		minter:   minter,
		lifetime: DefaultLifetime,
		now:      time.Now,
		store:    gocache.New(gocache.NoExpiration, time.Minute),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the session this cache mints tokens for.
func (c *Cache) Session() models.Session {
	return c.session
}

// Prime performs the initial mint. A failure here is fatal for the connection being built.
func (c *Cache) Prime(ctx context.Context) error {
	if _, err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("initial token mint failed: %w", err)
	}
	return nil
}

// Get returns the cached token, minting synchronously if nothing usable is cached.
func (c *Cache) Get(ctx context.Context) (string, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}

	c.mintMu.Lock()
	defer c.mintMu.Unlock()

	// Another caller may have minted while we waited.
	if tok, ok := c.cached(); ok {
		return tok, nil
	}

	return c.mintLocked(ctx)
}

// Refresh mints a new token and replaces the cached one. On failure the
// previously cached token is left in place until it expires.
func (c *Cache) Refresh(ctx context.Context) (string, error) {
	c.mintMu.Lock()
	defer c.mintMu.Unlock()

	return c.mintLocked(ctx)
}

// MintedAt returns when the cached token was last replaced.
func (c *Cache) MintedAt() time.Time {
	c.mintMu.Lock()
	defer c.mintMu.Unlock()
	return c.mintedAt
}

func (c *Cache) cached() (string, bool) {
	v, ok := c.store.Get(tokenKey)
	if !ok {
		return "", false
	}
	tok, ok := v.(string)
	return tok, ok && tok != ""
}

// mintLocked must be called with mintMu held.
func (c *Cache) mintLocked(ctx context.Context) (string, error) {
	metrics := telemetry.GetMetrics()

	tok, err := c.minter.Mint(ctx, c.session)
	if err != nil {
		metrics.TokenMintErrorsTotal.Add(ctx, 1)
		return "", err
	}
	if tok == "" {
		metrics.TokenMintErrorsTotal.Add(ctx, 1)
		return "", errors.New("identity provider returned an empty token")
	}

	now := c.now()
	c.store.Set(tokenKey, tok, c.ttl(tok, now))
	c.mintedAt = now
	metrics.TokenMintsTotal.Add(ctx, 1)

	return tok, nil
}

// ttl derives the cache lifetime from the token's exp claim when it is a JWT.
func (c *Cache) ttl(tok string, now time.Time) time.Duration {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err == nil && claims.ExpiresAt != nil {
		if d := claims.ExpiresAt.Sub(now); d > 0 {
			return d
		}
		// Already expired by our clock; keep it just long enough to be served once.
		return time.Second
	}
	return c.lifetime
}

// Start launches the background refresh loop. It must be paired with Stop.
func (c *Cache) Start(interval time.Duration) error {
	if interval <= 0 || interval >= c.lifetime {
		return fmt.Errorf("%w: interval=%s lifetime=%s", ErrInvalidInterval, interval, c.lifetime)
	}

	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	if c.stopCh != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.stopCh = make(chan struct{})
	c.cancel = cancel

	c.wg.Add(1)
	go c.refreshLoop(ctx, c.stopCh, interval)

	log.Debug().
		Str("session_id", c.session.ID).
		Dur("interval", interval).
		Msg("started token refresh")

	return nil
}

// Stop halts the refresh loop and waits for it to exit. No refresh runs after Stop returns.
func (c *Cache) Stop() {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	if c.stopCh == nil {
		return
	}

	close(c.stopCh)
	c.cancel()
	c.wg.Wait()

	c.stopCh = nil
	c.cancel = nil

	log.Debug().Str("session_id", c.session.ID).Msg("stopped token refresh")
}

// Running reports whether the refresh loop is active.
func (c *Cache) Running() bool {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	return c.stopCh != nil
}

func (c *Cache) refreshLoop(ctx context.Context, stopCh <-chan struct{}, interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			// Stop may have raced the tick.
			select {
			case <-stopCh:
				return
			default:
			}

			if _, err := c.Refresh(ctx); err != nil {
				telemetry.GetMetrics().TokenRefreshFailuresTotal.Add(ctx, 1)
				log.Warn().
					Err(err).
					Str("session_id", c.session.ID).
					Msg("token refresh failed, keeping cached token")
			}
		}
	}
}
