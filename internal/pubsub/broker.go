package pubsub

import (
	"context"
	"sync"
)

const defaultBufferSize = 64

// Broker fans values out to any number of subscribers.
// Publishing never blocks: a subscriber whose buffer is full misses the value.
type Broker[T any] struct {
	mu         sync.RWMutex
	subs       map[chan T]struct{}
	done       chan struct{}
	bufferSize int
	onDrop     func()
}

// Option configures a Broker.
type Option func(*options)

type options struct {
	bufferSize int
	onDrop     func()
}

// WithBufferSize sets the per-subscriber channel capacity.
func WithBufferSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.bufferSize = size
		}
	}
}

// WithDropHandler registers a callback invoked each time a value is dropped for a slow subscriber.
func WithDropHandler(fn func()) Option {
	return func(o *options) {
		o.onDrop = fn
	}
}

// NewBroker creates a new broker.
func NewBroker[T any](opts ...Option) *Broker[T] {
	o := &options{bufferSize: defaultBufferSize}
	for _, opt := range opts {
		opt(o)
	}
	return &Broker[T]{
		subs:       make(map[chan T]struct{}),
		done:       make(chan struct{}),
		bufferSize: o.bufferSize,
		onDrop:     o.onDrop,
	}
}

// Subscribe registers a new subscriber. The returned channel is closed when ctx
// is cancelled or the broker is closed.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan T {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		ch := make(chan T)
		close(ch)
		return ch
	default:
	}

	sub := make(chan T, b.bufferSize)
	b.subs[sub] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
			return
		}

		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(sub)
		}
	}()

	return sub
}

// Publish delivers v to every subscriber with room in its buffer.
func (b *Broker[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	select {
	case <-b.done:
		return
	default:
	}

	for sub := range b.subs {
		select {
		case sub <- v:
		default:
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}
}

// Close shuts down the broker and closes all subscriber channels.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		return
	default:
	}

	close(b.done)
	for sub := range b.subs {
		close(sub)
		delete(b.subs, sub)
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
