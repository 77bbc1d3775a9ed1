package identity

import (
	"context"
	"errors"

	"github.com/wolfeidau/leaguesync/internal/models"
)

// ErrNoSession is returned when a token is requested without an active session.
var ErrNoSession = errors.New("no active session")

// State is the value published by the identity provider each time its view of
// the signed-in user changes.
type State struct {
	// Loaded is false until the provider has finished its own initialisation.
	Loaded bool

	// Session is nil when nobody is signed in.
	Session *models.Session
}

// Active returns the current session if one is signed in and valid.
func (s State) Active() (models.Session, bool) {
	if !s.Session.IsActive() {
		return models.Session{}, false
	}
	return *s.Session, true
}

// Minter issues short-lived bearer tokens for a session.
type Minter interface {
	Mint(ctx context.Context, session models.Session) (string, error)
}

// MinterFunc adapts a function to the Minter interface.
type MinterFunc func(ctx context.Context, session models.Session) (string, error)

// Mint implements Minter.
func (f MinterFunc) Mint(ctx context.Context, session models.Session) (string, error) {
	return f(ctx, session)
}
