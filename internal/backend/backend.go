package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/wolfeidau/leaguesync/internal/models"
)

// TokenFunc supplies the current bearer token. Implementations must be cheap:
// they are called before every query and on every push channel heartbeat.
type TokenFunc func(ctx context.Context) (string, error)

// Filter is an equality predicate on a column.
type Filter struct {
	Column string
	Value  any
}

// Matches reports whether row carries Value in Column.
func (f Filter) Matches(row models.Row) bool {
	v, ok := row.Lookup(f.Column)
	if !ok {
		return false
	}
	return EqualValues(v, f.Value)
}

// Match is a case-insensitive substring predicate. Path may reach into a JSON
// column using dots, e.g. "location.city".
type Match struct {
	Path string
	Term string
}

// Matches reports whether the value at Path contains Term, ignoring case.
func (m Match) Matches(row models.Row) bool {
	v, ok := row.Lookup(m.Path)
	if !ok || v == nil {
		return false
	}
	return strings.Contains(strings.ToLower(fmt.Sprint(v)), strings.ToLower(m.Term))
}

// Sort orders the result set.
type Sort struct {
	Column          string
	Descending      bool
	CaseInsensitive bool
}

// Query is a composed pull query against one table.
type Query struct {
	Table string

	// Equals are ANDed together.
	Equals []Filter

	// Search matches are ORed together; the group is ANDed with Equals.
	Search []Match

	// Require matches are ANDed together.
	Require []Match

	Sort *Sort

	Offset int
	Limit  int
}

// Result is the outcome of a pull query. Count is the total number of matching
// rows ignoring Offset and Limit.
type Result struct {
	Rows  []models.Row
	Count int
}

// Engine executes pull queries.
type Engine interface {
	Select(ctx context.Context, q Query) (Result, error)
}

// Subscription scopes a push subscription to one table and an optional equality filter.
type Subscription struct {
	Table  string
	Filter *Filter
}

// Matches reports whether an event row satisfies the subscription filter.
func (s Subscription) Matches(ev models.ChangeEvent) bool {
	if ev.Table != "" && ev.Table != s.Table {
		return false
	}
	if s.Filter == nil {
		return true
	}
	row := ev.New
	if row == nil {
		row = ev.Old
	}
	return s.Filter.Matches(row)
}

// Handler receives change events for a subscription. Handlers are called from a
// single goroutine per subscription.
type Handler func(models.ChangeEvent)

// Unsubscriber tears down a push subscription.
type Unsubscriber interface {
	Unsubscribe() error
}

// UnsubscribeFunc adapts a function to the Unsubscriber interface.
type UnsubscribeFunc func() error

// Unsubscribe implements Unsubscriber.
func (f UnsubscribeFunc) Unsubscribe() error { return f() }

// Channel delivers server-pushed change events.
type Channel interface {
	Subscribe(ctx context.Context, sub Subscription, handler Handler) (Unsubscriber, error)
}

// Reconnector is implemented by channels whose transport can drop and
// reconnect. Events sent while disconnected are lost, so a signal on the
// returned channel means pulled state may be stale. The channel closes when
// ctx ends or the channel is closed.
type Reconnector interface {
	Reconnects(ctx context.Context) <-chan struct{}
}

// Client is a live backend connection: a pull engine and a push channel sharing
// one token supplier.
type Client struct {
	Engine  Engine
	Channel Channel

	closeOnce sync.Once
	closers   []func() error
}

// NewClient creates a client. closers run in reverse order on Close.
func NewClient(engine Engine, channel Channel, closers ...func() error) *Client {
	return &Client{
		Engine:  engine,
		Channel: channel,
		closers: closers,
	}
}

// Close releases the client's transports. It is safe to call more than once.
func (c *Client) Close() error {
	var errs []error
	c.closeOnce.Do(func() {
		for i := len(c.closers) - 1; i >= 0; i-- {
			if err := c.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// Factory builds a client bound to a session and a token supplier.
type Factory interface {
	Build(ctx context.Context, session models.Session, tokens TokenFunc) (*Client, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context, session models.Session, tokens TokenFunc) (*Client, error)

// Build implements Factory.
func (f FactoryFunc) Build(ctx context.Context, session models.Session, tokens TokenFunc) (*Client, error) {
	return f(ctx, session, tokens)
}
