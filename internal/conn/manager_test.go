package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/leaguesync/internal/backend"
	"github.com/wolfeidau/leaguesync/internal/backend/memory"
	"github.com/wolfeidau/leaguesync/internal/identity"
	"github.com/wolfeidau/leaguesync/internal/models"
)

// recordingMinter counts mints per session and can be switched into failure.
type recordingMinter struct {
	mu      sync.Mutex
	calls   map[string]int
	failing atomic.Bool
}

func newRecordingMinter() *recordingMinter {
	return &recordingMinter{calls: map[string]int{}}
}

func (m *recordingMinter) Mint(_ context.Context, s models.Session) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[s.ID]++
	if m.failing.Load() {
		return "", errors.New("network down")
	}
	return fmt.Sprintf("%s-%d", s.ID, m.calls[s.ID]), nil
}

func (m *recordingMinter) count(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[id]
}

type countingFactory struct {
	builds atomic.Int64
	inner  backend.Factory
}

func (f *countingFactory) Build(ctx context.Context, s models.Session, tokens backend.TokenFunc) (*backend.Client, error) {
	f.builds.Add(1)
	return f.inner.Build(ctx, s, tokens)
}

func signedIn(id string) identity.State {
	return identity.State{Loaded: true, Session: &models.Session{ID: id, OwnerID: "owner-" + id, Valid: true}}
}

func newTestManager(t *testing.T, minter identity.Minter, lifetime, interval time.Duration) (*Manager, *countingFactory) {
	t.Helper()
	factory := &countingFactory{inner: memory.Factory{Store: memory.NewStore("leagues")}}
	m, err := NewManager(Config{
		Minter:          minter,
		Factory:         factory,
		TokenLifetime:   lifetime,
		RefreshInterval: interval,
	})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, factory
}

func TestManager_WaitsForIdentityLoaded(t *testing.T) {
	minter := newRecordingMinter()
	m, _ := newTestManager(t, minter, time.Minute, 50*time.Second)

	st := m.Observe(context.Background(), identity.State{Session: &models.Session{ID: "sess-1", Valid: true}})

	assert.False(t, st.IsLoaded)
	assert.Nil(t, st.Conn)
	assert.Zero(t, minter.count("sess-1"))
}

func TestManager_NoSession(t *testing.T) {
	m, _ := newTestManager(t, newRecordingMinter(), time.Minute, 50*time.Second)

	st := m.Observe(context.Background(), identity.State{Loaded: true})

	assert.True(t, st.IsLoaded)
	assert.False(t, st.IsError)
	assert.Nil(t, st.Conn)

	_, err := m.Client()
	require.ErrorIs(t, err, ErrNoConnection)
}

func TestManager_BuildsConnection(t *testing.T) {
	minter := newRecordingMinter()
	m, _ := newTestManager(t, minter, time.Minute, 50*time.Second)

	st := m.Observe(context.Background(), signedIn("sess-1"))

	require.True(t, st.Ready())
	assert.Equal(t, "sess-1", st.Conn.SessionID)
	assert.Equal(t, "owner-sess-1", st.Conn.OwnerID)
	assert.True(t, st.Conn.Tokens.Running())

	tok, err := st.Conn.Tokens.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess-1-1", tok)

	client, err := m.Client()
	require.NoError(t, err)
	assert.Same(t, st.Conn.Client, client)
}

func TestManager_SameSessionIsIdempotent(t *testing.T) {
	minter := newRecordingMinter()
	m, factory := newTestManager(t, minter, time.Minute, 50*time.Second)
	ctx := context.Background()

	first := m.Observe(ctx, signedIn("sess-1"))
	for range 5 {
		again := m.Observe(ctx, signedIn("sess-1"))
		assert.Same(t, first.Conn, again.Conn)
	}

	assert.Equal(t, 1, minter.count("sess-1"))
	assert.Equal(t, int64(1), factory.builds.Load())
	assert.True(t, first.Conn.Tokens.Running())
}

func TestManager_SessionSwitchTearsDownFirst(t *testing.T) {
	minter := newRecordingMinter()
	m, factory := newTestManager(t, minter, 200*time.Millisecond, 20*time.Millisecond)
	ctx := context.Background()

	c1 := m.Observe(ctx, signedIn("sess-1")).Conn
	require.NotNil(t, c1)

	// let a few refresh ticks happen for sess-1
	require.Eventually(t, func() bool { return minter.count("sess-1") >= 3 }, time.Second, 5*time.Millisecond)

	st := m.Observe(ctx, signedIn("sess-2"))
	require.True(t, st.Ready())
	assert.NotSame(t, c1, st.Conn)
	assert.False(t, c1.Tokens.Running())
	assert.Equal(t, 1, minter.count("sess-2"))
	assert.Equal(t, int64(2), factory.builds.Load())

	afterTeardown := minter.count("sess-1")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, afterTeardown, minter.count("sess-1"), "no refresh for the old session after teardown")
}

func TestManager_InitialMintFailure(t *testing.T) {
	minter := newRecordingMinter()
	minter.failing.Store(true)
	m, factory := newTestManager(t, minter, time.Minute, 50*time.Second)

	st := m.Observe(context.Background(), signedIn("sess-1"))

	assert.True(t, st.IsLoaded)
	assert.True(t, st.IsError)
	assert.Nil(t, st.Conn)
	require.Error(t, st.Err)
	assert.Zero(t, factory.builds.Load(), "no backend client is built when the mint fails")

	_, err := m.Client()
	require.ErrorIs(t, err, ErrNoConnection)

	// re-delivery retries once the provider recovers
	minter.failing.Store(false)
	st = m.Observe(context.Background(), signedIn("sess-1"))
	assert.True(t, st.Ready())
}

func TestManager_SignOutTearsDown(t *testing.T) {
	m, _ := newTestManager(t, newRecordingMinter(), time.Minute, 50*time.Second)
	ctx := context.Background()

	c1 := m.Observe(ctx, signedIn("sess-1")).Conn
	require.NotNil(t, c1)

	st := m.Observe(ctx, identity.State{Loaded: true})
	assert.Nil(t, st.Conn)
	assert.True(t, st.IsLoaded)
	assert.False(t, c1.Tokens.Running())

	// signing back in with the same session builds a fresh connection
	st = m.Observe(ctx, signedIn("sess-1"))
	require.True(t, st.Ready())
	assert.NotSame(t, c1, st.Conn)
}

func TestManager_RunAndSubscribe(t *testing.T) {
	m, _ := newTestManager(t, newRecordingMinter(), time.Minute, 50*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	states := m.Subscribe(ctx)
	updates := make(chan identity.State, 2)
	updates <- identity.State{Loaded: true}
	updates <- signedIn("sess-1")
	close(updates)

	require.NoError(t, m.Run(ctx, updates))

	var got []State
	timeout := time.After(time.Second)
	for len(got) < 2 {
		select {
		case st := <-states:
			got = append(got, st)
		case <-timeout:
			t.Fatalf("expected 2 states, got %d", len(got))
		}
	}
	assert.Nil(t, got[0].Conn)
	assert.True(t, got[1].Ready())
}

func TestManager_CloseStopsRefresh(t *testing.T) {
	m, _ := newTestManager(t, newRecordingMinter(), time.Minute, 50*time.Second)
	c := m.Observe(context.Background(), signedIn("sess-1")).Conn
	require.NotNil(t, c)

	m.Close()
	assert.False(t, c.Tokens.Running())
	assert.Nil(t, m.Current().Conn)

	// closed managers ignore further updates
	st := m.Observe(context.Background(), signedIn("sess-2"))
	assert.Nil(t, st.Conn)
}

func TestConfig_Validate(t *testing.T) {
	_, err := NewManager(Config{Minter: newRecordingMinter()})
	require.Error(t, err)

	_, err = NewManager(Config{
		Minter:          newRecordingMinter(),
		Factory:         memory.Factory{Store: memory.NewStore()},
		TokenLifetime:   time.Second,
		RefreshInterval: 2 * time.Second,
	})
	require.Error(t, err)
}
