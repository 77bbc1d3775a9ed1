package backend

import (
	"context"

	"golang.org/x/oauth2"
)

type tokenSource struct {
	ctx context.Context
	fn  TokenFunc
}

// TokenSource adapts fn to an oauth2.TokenSource so HTTP transports can attach
// the bearer token with oauth2.Transport. The source is not cached; fn is
// expected to do its own caching.
func TokenSource(ctx context.Context, fn TokenFunc) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, fn: fn}
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.fn(s.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}, nil
}
