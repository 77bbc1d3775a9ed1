package identity

import (
	"context"
	"fmt"
	"net/url"

	"github.com/wolfeidau/leaguesync/internal/models"
	"golang.org/x/oauth2/clientcredentials"
)

// OAuth2Minter exchanges client credentials for a session-scoped access token
// at the identity provider's token endpoint. The session and owner are passed as
// endpoint parameters so the provider can bind the token to the session.
type OAuth2Minter struct {
	config clientcredentials.Config
}

// NewOAuth2Minter creates a minter for the given client credentials configuration.
func NewOAuth2Minter(cfg clientcredentials.Config) *OAuth2Minter {
	return &OAuth2Minter{config: cfg}
}

// Mint implements Minter.
func (m *OAuth2Minter) Mint(ctx context.Context, session models.Session) (string, error) {
	if !session.IsActive() {
		return "", ErrNoSession
	}

	cfg := m.config
	params := url.Values{}
	for k, v := range m.config.EndpointParams {
		params[k] = append([]string(nil), v...)
	}
	params.Set("session_id", session.ID)
	params.Set("subject", session.OwnerID)
	cfg.EndpointParams = params

	tok, err := cfg.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to exchange client credentials: %w", err)
	}
	return tok.AccessToken, nil
}
