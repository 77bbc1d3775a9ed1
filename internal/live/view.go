// Package live keeps one logical table's snapshot current by combining pull
// queries with pushed change events.
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfeidau/leaguesync/internal/backend"
	"github.com/wolfeidau/leaguesync/internal/conn"
	"github.com/wolfeidau/leaguesync/internal/models"
	"github.com/wolfeidau/leaguesync/internal/pubsub"
	"github.com/wolfeidau/leaguesync/internal/query"
	"github.com/wolfeidau/leaguesync/internal/reconcile"
	"github.com/wolfeidau/leaguesync/internal/tables"
	"github.com/wolfeidau/leaguesync/internal/telemetry"
)

// Source publishes connection state. *conn.Manager implements it.
type Source interface {
	Current() conn.State
	Subscribe(ctx context.Context) <-chan conn.State
}

// State is what a view exposes to its consumers.
type State struct {
	reconcile.Snapshot
	IsLoading bool
	Err       error
}

// View is the live snapshot of one logical table.
type View struct {
	table tables.Table
	query *query.State
	opts  reconcile.Options

	// syncMu serialises subscription changes so teardown always completes
	// before the replacement subscription is set up.
	syncMu sync.Mutex

	mu       sync.Mutex
	conn     *conn.Connection
	scope    string
	snap     reconcile.Snapshot
	loading  bool
	err      error
	fetchSeq uint64
	sub      backend.Unsubscriber
	subKey   string
	subGen   uint64
	closed   bool

	scopeCh   chan struct{}
	refetchCh chan struct{}
	changes   *pubsub.Broker[State]
}

// NewView creates a view for table driven by q.
func NewView(table tables.Table, q *query.State) *View {
	return &View{
		table:   table,
		query:   q,
		opts:    reconcile.OptionsForTable(table),
		scopeCh:   make(chan struct{}, 1),
		refetchCh: make(chan struct{}, 1),
		changes:   pubsub.NewBroker[State](pubsub.WithBufferSize(32)),
	}
}

// Table returns the table definition the view serves.
func (v *View) Table() tables.Table {
	return v.table
}

// Snapshot returns the current state.
func (v *View) Snapshot() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stateLocked()
}

// Subscribe returns a channel receiving the state after every change.
func (v *View) Subscribe(ctx context.Context) <-chan State {
	return v.changes.Subscribe(ctx)
}

// SetScope sets the value the table's scope column must match, such as the
// signed-in owner or the selected organization. Pulls still in flight and
// events from the previous scope's subscription are discarded.
func (v *View) SetScope(scope string) {
	v.mu.Lock()
	changed := v.scope != scope
	v.scope = scope
	if changed {
		v.invalidateLocked()
		v.publishLocked()
	}
	v.mu.Unlock()

	if changed {
		select {
		case v.scopeCh <- struct{}{}:
		default:
		}
	}
}

// SetConnection switches the view to the connection in st. Switching to a
// different session discards the rows fetched for the previous one.
func (v *View) SetConnection(st conn.State) {
	v.mu.Lock()
	defer v.mu.Unlock()

	next := st.Conn
	if !st.Ready() {
		next = nil
	}
	if sameSession(v.conn, next) {
		v.conn = next
		return
	}
	v.conn = next
	v.invalidateLocked()
	v.publishLocked()
}

// invalidateLocked drops the rows and fences off in-flight pulls and the
// current subscription's handler. The subscription itself stays registered
// until the next Sync tears it down.
func (v *View) invalidateLocked() {
	v.snap = reconcile.Snapshot{}
	v.err = nil
	v.loading = false
	v.fetchSeq++
	v.subGen++
	v.subKey = ""
}

func sameSession(a, b *conn.Connection) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.SessionID == b.SessionID && a.Client == b.Client
}

// ready returns the connection and scope when the view can talk to the backend.
func (v *View) readyLocked() (*conn.Connection, string, bool) {
	if v.closed || v.conn == nil {
		return nil, "", false
	}
	if v.table.Scoped() && v.scope == "" {
		return nil, "", false
	}
	return v.conn, v.scope, true
}

// Refetch pulls the current page. It does nothing while there is no
// connection or a required scope is missing. A failed pull keeps the previous
// rows and records the error.
func (v *View) Refetch(ctx context.Context) error {
	v.mu.Lock()
	c, scope, ok := v.readyLocked()
	if !ok {
		v.mu.Unlock()
		return nil
	}
	v.fetchSeq++
	seq := v.fetchSeq
	v.loading = true
	v.publishLocked()
	v.mu.Unlock()

	q := query.Build(v.table, v.query.Params(), scope)
	res, err := v.pull(ctx, c, q)

	v.mu.Lock()
	defer v.mu.Unlock()

	if seq != v.fetchSeq {
		// superseded by a newer pull or a connection change
		return err
	}

	v.loading = false
	if err != nil {
		v.err = err
		v.publishLocked()
		return err
	}

	v.snap = reconcile.Snapshot{Rows: res.Rows, Total: res.Count}
	if v.snap.Rows == nil {
		v.snap.Rows = []models.Row{}
	}
	v.err = nil
	v.publishLocked()
	return nil
}

func (v *View) pull(ctx context.Context, c *conn.Connection, q backend.Query) (backend.Result, error) {
	metrics := telemetry.GetMetrics()
	attrs := metric.WithAttributes(attribute.String("table", v.table.Name))

	ctx, span := telemetry.Tracer().Start(ctx, "live.pull",
		trace.WithAttributes(
			attribute.String("table", v.table.Name),
			attribute.Int("offset", q.Offset),
			attribute.Int("limit", q.Limit),
		))
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.SnapshotFetchDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	}()

	metrics.SnapshotFetchesTotal.Add(ctx, 1, attrs)

	res, err := c.Client.Engine.Select(ctx, q)
	if errors.Is(err, backend.ErrTokenExpired) {
		metrics.SnapshotTokenRetriesTotal.Add(ctx, 1, attrs)
		log.Debug().Str("table", v.table.Name).Msg("token expired, refreshing and retrying pull")
		if _, rerr := c.Tokens.Refresh(ctx); rerr != nil {
			err = fmt.Errorf("%w (refresh failed: %w)", err, rerr)
		} else {
			res, err = c.Client.Engine.Select(ctx, q)
		}
	}
	if err != nil {
		metrics.SnapshotFetchErrorsTotal.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn().Err(err).Str("table", v.table.Name).Msg("pull failed")
		return backend.Result{}, err
	}

	span.SetAttributes(attribute.Int("rows", len(res.Rows)), attribute.Int("count", res.Count))
	return res, nil
}

// Sync makes the push subscription match the current connection and scope.
// The old subscription is always torn down before a new one is set up, and no
// subscription exists while the connection or a required scope is missing.
// The subscription lives until ctx ends, Sync replaces it, or Close.
func (v *View) Sync(ctx context.Context) error {
	v.syncMu.Lock()
	defer v.syncMu.Unlock()

	v.mu.Lock()
	c, scope, ok := v.readyLocked()
	key := ""
	if ok {
		key = c.SessionID + "\x00" + scope
	}
	if key == v.subKey && (key == "") == (v.sub == nil) {
		v.mu.Unlock()
		return nil
	}
	old := v.sub
	v.sub = nil
	v.subKey = ""
	v.subGen++
	gen := v.subGen
	v.mu.Unlock()

	if old != nil {
		v.unsubscribe(ctx, old)
	}
	if !ok {
		return nil
	}

	sub := backend.Subscription{Table: v.table.Name}
	if v.table.Scoped() {
		sub.Filter = &backend.Filter{Column: v.table.ScopeColumn, Value: scope}
	}

	u, err := c.Client.Channel.Subscribe(ctx, sub, v.handler(gen))
	if err != nil {
		log.Warn().Err(err).Str("table", v.table.Name).Msg("subscribe failed")
		return fmt.Errorf("failed to subscribe to %s: %w", v.table.Name, err)
	}

	if r, ok := c.Client.Channel.(backend.Reconnector); ok {
		u = v.watchReconnects(ctx, r, u)
	}

	v.mu.Lock()
	if gen != v.subGen || v.closed {
		// Close or a scope or session change ran while we were subscribing
		v.mu.Unlock()
		if err := u.Unsubscribe(); err != nil {
			log.Warn().Err(err).Str("table", v.table.Name).Msg("unsubscribe failed")
		}
		return nil
	}
	v.sub = u
	v.subKey = key
	v.mu.Unlock()

	telemetry.GetMetrics().ActiveSubscriptions.Add(ctx, 1)
	log.Debug().Str("table", v.table.Name).Str("session_id", c.SessionID).Str("scope", scope).Msg("subscribed")
	return nil
}

func (v *View) unsubscribe(ctx context.Context, u backend.Unsubscriber) {
	if err := u.Unsubscribe(); err != nil {
		log.Warn().Err(err).Str("table", v.table.Name).Msg("unsubscribe failed")
	}
	telemetry.GetMetrics().ActiveSubscriptions.Add(ctx, -1)
}

// watchReconnects asks Run for a refetch whenever the channel reconnects,
// since events sent while it was down are lost. Watching stops with u.
func (v *View) watchReconnects(ctx context.Context, r backend.Reconnector, u backend.Unsubscriber) backend.Unsubscriber {
	wctx, stop := context.WithCancel(ctx)
	signals := r.Reconnects(wctx)
	go func() {
		for range signals {
			log.Debug().Str("table", v.table.Name).Msg("channel reconnected, refetching")
			select {
			case v.refetchCh <- struct{}{}:
			default:
			}
		}
	}()
	return backend.UnsubscribeFunc(func() error {
		stop()
		return u.Unsubscribe()
	})
}

func (v *View) handler(gen uint64) backend.Handler {
	attrs := metric.WithAttributes(attribute.String("table", v.table.Name))
	return func(ev models.ChangeEvent) {
		ctx := context.Background()

		v.mu.Lock()
		defer v.mu.Unlock()

		if gen != v.subGen || v.closed {
			telemetry.GetMetrics().ChangeEventsDroppedTotal.Add(ctx, 1, attrs)
			return
		}
		v.snap = reconcile.Apply(v.snap, ev, v.opts)
		telemetry.GetMetrics().ChangeEventsAppliedTotal.Add(ctx, 1, attrs)
		v.publishLocked()
	}
}

// Run keeps the view current: it follows connection changes from src,
// refetches when the query parameters change or the push channel reconnects,
// and resubscribes when the connection or scope changes. It returns when ctx
// ends.
//
// Values received from src only wake the loop; the state applied is always
// src.Current(), so a dropped notification cannot leave the view on a stale
// session.
func (v *View) Run(ctx context.Context, src Source) error {
	connCh := src.Subscribe(ctx)
	paramsCh := v.query.Subscribe(ctx)

	v.SetConnection(src.Current())
	v.refresh(ctx, true)

	for {
		select {
		case <-ctx.Done():
			v.dropSubscription()
			return ctx.Err()
		case _, ok := <-connCh:
			if !ok {
				v.dropSubscription()
				return nil
			}
			v.SetConnection(src.Current())
			v.refresh(ctx, true)
		case _, ok := <-paramsCh:
			if !ok {
				paramsCh = nil
				continue
			}
			v.refresh(ctx, false)
		case <-v.scopeCh:
			v.refresh(ctx, true)
		case <-v.refetchCh:
			v.refresh(ctx, false)
		}
	}
}

func (v *View) refresh(ctx context.Context, resync bool) {
	if resync {
		if err := v.Sync(ctx); err != nil {
			log.Error().Err(err).Str("table", v.table.Name).Msg("sync failed")
		}
	}
	// errors are recorded on the view state
	_ = v.Refetch(ctx)
}

func (v *View) dropSubscription() {
	v.syncMu.Lock()
	defer v.syncMu.Unlock()

	v.mu.Lock()
	old := v.sub
	v.sub = nil
	v.subKey = ""
	v.subGen++
	v.mu.Unlock()

	if old != nil {
		v.unsubscribe(context.Background(), old)
	}
}

// Close tears down the subscription and closes subscriber channels.
func (v *View) Close() {
	v.dropSubscription()

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()

	v.changes.Close()
}

func (v *View) stateLocked() State {
	return State{Snapshot: v.snap.Clone(), IsLoading: v.loading, Err: v.err}
}

func (v *View) publishLocked() {
	v.changes.Publish(v.stateLocked())
}
