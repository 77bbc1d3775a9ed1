package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/leaguesync/internal/models"
)

const (
	// DefaultTokenTTL matches the lifetime of tokens issued by the hosted identity provider.
	DefaultTokenTTL = 60 * time.Second

	// DefaultRole is the database role the data API switches to for signed-in users.
	DefaultRole = "authenticated"
)

// Claims are the JWT claims understood by the data API.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	Role      string `json:"role"`
}

// JWTMinter signs HS256 tokens with the data API's shared JWT secret.
type JWTMinter struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// JWTMinterConfig configures a JWTMinter.
type JWTMinterConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
}

// NewJWTMinter creates a minter signing tokens with the given secret.
func NewJWTMinter(cfg JWTMinterConfig) (*JWTMinter, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 bytes")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTokenTTL
	}
	if cfg.Audience == "" {
		cfg.Audience = DefaultRole
	}
	return &JWTMinter{
		secret:   cfg.Secret,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TTL,
		now:      time.Now,
	}, nil
}

// Mint implements Minter.
func (m *JWTMinter) Mint(ctx context.Context, session models.Session) (string, error) {
	if !session.IsActive() {
		return "", ErrNoSession
	}

	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.Must(uuid.NewV7()).String(),
			Issuer:    m.issuer,
			Subject:   session.OwnerID,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		SessionID: session.ID,
		Role:      DefaultRole,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	log.Debug().
		Str("session_id", session.ID).
		Time("expiry", claims.ExpiresAt.Time).
		Msg("minted session token")

	return token, nil
}
