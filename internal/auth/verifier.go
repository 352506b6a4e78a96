package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// Verifier turns a bearer token into the caller's identity.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Email  string
}

// HMACVerifier accepts tokens issued by IssueToken.
type HMACVerifier struct {
	Secret []byte
}

func (v HMACVerifier) Verify(token string) (Identity, error) {
	claims, err := ParseToken(v.Secret, token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

// JWKSVerifier accepts RS256/ES256 tokens from an external identity
// provider whose public keys are published as a JWK set. Keys are cached and
// refreshed by keyfunc.
type JWKSVerifier struct {
	jwks   keyfunc.Keyfunc
	logger *slog.Logger
}

func NewJWKSVerifier(ctx context.Context, jwksURL string, logger *slog.Logger) (*JWKSVerifier, error) {
	if jwksURL == "" {
		return nil, errors.New("jwks url cannot be empty")
	}
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("create jwks client: %w", err)
	}
	logger.Info("jwks verifier initialized", "jwks_url", jwksURL)
	return newJWKSVerifier(jwks, logger), nil
}

func newJWKSVerifier(jwks keyfunc.Keyfunc, logger *slog.Logger) *JWKSVerifier {
	return &JWKSVerifier{jwks: jwks, logger: logger}
}

func (v *JWKSVerifier) Verify(token string) (Identity, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, v.jwks.Keyfunc,
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		v.logger.Debug("jwks token rejected", "error", err)
		return Identity{}, ErrInvalidToken
	}
	if !parsed.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

// Chain tries each verifier in order and returns the first success. An
// expired token is reported as expired even if a later verifier rejects it.
type Chain []Verifier

func (c Chain) Verify(token string) (Identity, error) {
	result := ErrInvalidToken
	for _, v := range c {
		id, err := v.Verify(token)
		if err == nil {
			return id, nil
		}
		if errors.Is(err, ErrExpiredToken) {
			result = ErrExpiredToken
		}
	}
	return Identity{}, result
}
