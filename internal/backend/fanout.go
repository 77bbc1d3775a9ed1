package backend

import (
	"context"
	"sync"

	"github.com/wolfeidau/leaguesync/internal/models"
	"github.com/wolfeidau/leaguesync/internal/pubsub"
)

// Fanout is an in-process Channel: events passed to Publish are delivered to
// every subscription they match.
type Fanout struct {
	events *pubsub.Broker[models.ChangeEvent]
}

// NewFanout creates a fanout. onDrop, when set, runs for each event a slow
// subscription missed.
func NewFanout(onDrop func()) *Fanout {
	return &Fanout{
		events: pubsub.NewBroker[models.ChangeEvent](pubsub.WithBufferSize(256), pubsub.WithDropHandler(onDrop)),
	}
}

// Publish delivers ev to matching subscriptions without blocking.
func (f *Fanout) Publish(ev models.ChangeEvent) {
	f.events.Publish(ev)
}

// Subscribe implements Channel. Handler calls for one subscription are sequential.
func (f *Fanout) Subscribe(ctx context.Context, sub Subscription, handler Handler) (Unsubscriber, error) {
	subCtx, cancel := context.WithCancel(ctx)
	events := f.events.Subscribe(subCtx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range events {
			if subCtx.Err() != nil {
				return
			}
			if sub.Matches(ev) {
				handler(ev)
			}
		}
	}()

	var once sync.Once
	return UnsubscribeFunc(func() error {
		once.Do(func() {
			cancel()
			<-done
		})
		return nil
	}), nil
}

// Close ends every subscription.
func (f *Fanout) Close() {
	f.events.Close()
}
