package memory

import (
	"context"
	"fmt"

	"github.com/wolfeidau/leaguesync/internal/backend"
	"github.com/wolfeidau/leaguesync/internal/models"
)

// Factory builds clients over a shared Store. Every query and subscription
// first asks the token supplier for a token, so token failures surface the
// same way they do with the network backends.
type Factory struct {
	Store *Store
}

// Build implements backend.Factory.
func (f Factory) Build(ctx context.Context, session models.Session, tokens backend.TokenFunc) (*backend.Client, error) {
	if _, err := tokens(ctx); err != nil {
		return nil, fmt.Errorf("memory backend token: %w", err)
	}
	tc := &tokenChecked{store: f.Store, tokens: tokens}
	return backend.NewClient(tc, tc), nil
}

type tokenChecked struct {
	store  *Store
	tokens backend.TokenFunc
}

func (t *tokenChecked) Select(ctx context.Context, q backend.Query) (backend.Result, error) {
	if _, err := t.tokens(ctx); err != nil {
		return backend.Result{}, fmt.Errorf("%w: %w", backend.ErrUnauthorized, err)
	}
	return t.store.Select(ctx, q)
}

func (t *tokenChecked) Subscribe(ctx context.Context, sub backend.Subscription, handler backend.Handler) (backend.Unsubscriber, error) {
	if _, err := t.tokens(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", backend.ErrUnauthorized, err)
	}
	return t.store.Subscribe(ctx, sub, handler)
}
