package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/leaguesync/internal/identity"
	"github.com/wolfeidau/leaguesync/internal/models"
)

var testSession = models.Session{ID: "sess-1", OwnerID: "user-1", Valid: true}

// countingMinter returns "tok-N" for the Nth successful mint and fails while failing is set.
type countingMinter struct {
	calls   atomic.Int64
	failing atomic.Bool
}

func (m *countingMinter) Mint(ctx context.Context, session models.Session) (string, error) {
	n := m.calls.Add(1)
	if m.failing.Load() {
		return "", errors.New("provider unavailable")
	}
	return fmt.Sprintf("tok-%d", n), nil
}

func TestCache_PrimeAndGet(t *testing.T) {
	minter := &countingMinter{}
	cache := NewCache(testSession, minter)

	require.NoError(t, cache.Prime(context.Background()))

	tok, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	// Second read is served from cache.
	tok, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, int64(1), minter.calls.Load())
}

func TestCache_PrimeFailure(t *testing.T) {
	minter := &countingMinter{}
	minter.failing.Store(true)
	cache := NewCache(testSession, minter)

	err := cache.Prime(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initial token mint failed")
}

func TestCache_GetMintsOnMiss(t *testing.T) {
	minter := &countingMinter{}
	cache := NewCache(testSession, minter)

	tok, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
}

func TestCache_GetSingleMintUnderContention(t *testing.T) {
	minter := &countingMinter{}
	cache := NewCache(testSession, minter)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Get(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), minter.calls.Load())
}

func TestCache_RefreshFailureKeepsToken(t *testing.T) {
	minter := &countingMinter{}
	cache := NewCache(testSession, minter)
	require.NoError(t, cache.Prime(context.Background()))

	minter.failing.Store(true)
	_, err := cache.Refresh(context.Background())
	require.Error(t, err)

	tok, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
}

func TestCache_TTLFromJWTExpiry(t *testing.T) {
	secret := []byte("test-secret-key-min-32-bytes-long")
	minter, err := identity.NewJWTMinter(identity.JWTMinterConfig{Secret: secret, TTL: time.Hour})
	require.NoError(t, err)

	cache := NewCache(testSession, minter)
	tok, err := cache.Get(context.Background())
	require.NoError(t, err)

	claims := jwt.RegisteredClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(tok, &claims)
	require.NoError(t, err)

	ttl := cache.ttl(tok, time.Now())
	assert.Greater(t, ttl, 59*time.Minute)
	assert.LessOrEqual(t, ttl, time.Hour)
}

func TestCache_TTLFallsBackForOpaqueTokens(t *testing.T) {
	cache := NewCache(testSession, &countingMinter{}, WithLifetime(30*time.Second))
	assert.Equal(t, 30*time.Second, cache.ttl("opaque", time.Now()))
}

func TestCache_StartRejectsIntervalOutsideLifetime(t *testing.T) {
	cache := NewCache(testSession, &countingMinter{}, WithLifetime(60*time.Second))

	require.ErrorIs(t, cache.Start(60*time.Second), ErrInvalidInterval)
	require.ErrorIs(t, cache.Start(0), ErrInvalidInterval)
	assert.False(t, cache.Running())
}

func TestCache_RefreshLoop(t *testing.T) {
	minter := &countingMinter{}
	cache := NewCache(testSession, minter, WithLifetime(time.Second))
	require.NoError(t, cache.Prime(context.Background()))

	require.NoError(t, cache.Start(10*time.Millisecond))
	require.ErrorIs(t, cache.Start(10*time.Millisecond), ErrAlreadyRunning)
	assert.True(t, cache.Running())

	require.Eventually(t, func() bool { return minter.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	tok, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, "tok-1", tok)

	cache.Stop()
	assert.False(t, cache.Running())

	// No tick fires once Stop has returned.
	after := minter.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, minter.calls.Load())
}

func TestCache_RefreshLoopSurvivesFailures(t *testing.T) {
	minter := &countingMinter{}
	cache := NewCache(testSession, minter, WithLifetime(time.Second))
	require.NoError(t, cache.Prime(context.Background()))

	minter.failing.Store(true)
	require.NoError(t, cache.Start(10*time.Millisecond))
	defer cache.Stop()

	require.Eventually(t, func() bool { return minter.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	tok, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
}

func TestCache_StopIsIdempotent(t *testing.T) {
	cache := NewCache(testSession, &countingMinter{})
	cache.Stop()
	require.NoError(t, cache.Start(time.Second))
	cache.Stop()
	cache.Stop()
	assert.False(t, cache.Running())
}
