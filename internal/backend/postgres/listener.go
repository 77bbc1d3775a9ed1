package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/leaguesync/internal/backend"
	"github.com/wolfeidau/leaguesync/internal/pubsub"
	"github.com/wolfeidau/leaguesync/internal/telemetry"
)

// listener holds one pooled connection in LISTEN mode and fans decoded change
// notifications out to subscriptions.
type listener struct {
	pool    *pgxpool.Pool
	channel string
	fanout  *backend.Fanout
	ready   chan struct{}

	// relistens signals every LISTEN after the first; notifications sent in
	// between were lost.
	relistens *pubsub.Broker[struct{}]
	listened  bool
}

func newListener(pool *pgxpool.Pool, channel string) *listener {
	return &listener{
		pool:    pool,
		channel: channel,
		fanout: backend.NewFanout(func() {
			telemetry.GetMetrics().ChangeEventsDroppedTotal.Add(context.Background(), 1)
		}),
		ready:     make(chan struct{}),
		relistens: pubsub.NewBroker[struct{}](pubsub.WithBufferSize(1)),
	}
}

// run listens until ctx ends, reconnecting with exponential backoff.
func (l *listener) run(ctx context.Context) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond
	expBackoff.MaxInterval = 30 * time.Second
	expBackoff.Reset()

	for {
		err := l.listen(ctx, func() {
			expBackoff.Reset()
			l.listening()
		})
		if ctx.Err() != nil {
			return
		}

		delay := expBackoff.NextBackOff()
		log.Warn().Err(err).Dur("delay", delay).Str("channel", l.channel).Msg("change listener disconnected")
		telemetry.GetMetrics().ChannelReconnectsTotal.Add(ctx, 1)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (l *listener) listen(ctx context.Context, onListening func()) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	log.Info().Str("channel", l.channel).Msg("listening for row changes")
	onListening()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				// the connection is mid-wait and cannot be reused
				conn.Hijack().Close(context.Background()) //nolint:errcheck
			}
			return err
		}

		ev, err := backend.DecodeChange([]byte(n.Payload))
		if err != nil {
			log.Warn().Err(err).Msg("dropping malformed change notification")
			continue
		}
		l.fanout.Publish(ev)
	}
}

// listening records a successful LISTEN. Only run calls it.
func (l *listener) listening() {
	if !l.listened {
		l.listened = true
		close(l.ready)
		return
	}
	l.relistens.Publish(struct{}{})
}

func (l *listener) close() {
	l.fanout.Close()
	l.relistens.Close()
}

// waitReady blocks until the first LISTEN succeeded.
func (l *listener) waitReady(ctx context.Context) error {
	select {
	case <-l.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
