package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims("user-1", "host@example.com", "jti-1", time.Now(), time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "user-1" || claims.Email != "host@example.com" || claims.ID != "jti-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims("user-1", "host@example.com", "jti-1", time.Now().Add(-time.Hour), time.Minute))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	issued, err := IssueToken([]byte("secret"), NewClaims("user-1", "", "jti-1", time.Now(), time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	cases := map[string]string{
		"wrong secret": issued,
		"garbage":      "not.a.token",
		"empty":        "",
	}
	for name, token := range cases {
		secret := []byte("secret")
		if name == "wrong secret" {
			secret = []byte("other")
		}
		if _, err := ParseToken(secret, token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestParseTokenRejectsOtherAlgorithms(t *testing.T) {
	claims := NewClaims("user-1", "", "jti-1", time.Now(), time.Hour)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := ParseToken([]byte("secret"), unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestJWKSVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	set := map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "test-key",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	}
	raw, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	jwks, err := keyfunc.NewJWKSetJSON(raw)
	if err != nil {
		t.Fatalf("NewJWKSetJSON() error = %v", err)
	}
	v := newJWKSVerifier(jwks, slog.New(slog.NewTextHandler(io.Discard, nil)))

	sign := func(claims Claims) string {
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["kid"] = "test-key"
		signed, err := token.SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return signed
	}

	id, err := v.Verify(sign(NewClaims("ext-1", "guest@example.com", "j", time.Now(), time.Hour)))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.UserID != "ext-1" || id.Email != "guest@example.com" {
		t.Fatalf("identity = %+v", id)
	}

	expired := sign(NewClaims("ext-1", "", "j", time.Now().Add(-2*time.Hour), time.Hour))
	if _, err := v.Verify(expired); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}

	hmacToken, err := IssueToken([]byte("secret"), NewClaims("user-1", "", "j", time.Now(), time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := v.Verify(hmacToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected HS256 token to be rejected, got %v", err)
	}

	chain := Chain{HMACVerifier{Secret: []byte("secret")}, v}
	if id, err := chain.Verify(hmacToken); err != nil || id.UserID != "user-1" {
		t.Fatalf("chain HMAC = %+v, %v", id, err)
	}
	if id, err := chain.Verify(sign(NewClaims("ext-2", "", "j", time.Now(), time.Hour))); err != nil || id.UserID != "ext-2" {
		t.Fatalf("chain JWKS = %+v, %v", id, err)
	}
	if _, err := chain.Verify(expired); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("chain expired = %v", err)
	}
}

func TestHashTokenIsStable(t *testing.T) {
	if HashToken("a") != HashToken("a") || HashToken("a") == HashToken("b") {
		t.Fatal("HashToken not deterministic")
	}
	if len(HashToken("a")) != 64 {
		t.Fatalf("hash length = %d", len(HashToken("a")))
	}
}
