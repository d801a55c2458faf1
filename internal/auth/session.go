// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// DefaultSessionLifetime is how long an issued session token stays valid.
const DefaultSessionLifetime = 7 * 24 * time.Hour

// minSigningSecretLen is the smallest HS256 key accepted.
const minSigningSecretLen = 32

// SessionIssuer creates session tokens for authenticated users.
type SessionIssuer interface {
	Issue(userID ulid.ULID) (string, error)
}

// SignerConfig configures a JWTSigner.
type SignerConfig struct {
	// Secret is the shared HMAC key. Any service holding it can verify tokens.
	Secret []byte
	// Lifetime defaults to DefaultSessionLifetime when zero.
	Lifetime time.Duration
	// Issuer is written to the iss claim and enforced on Verify when set.
	Issuer string
}

// SessionClaims are the claims carried by a session token.
// UserID duplicates the subject under the "id" key that web clients read.
type SessionClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"id"`
}

// SignerOption configures optional JWTSigner behavior.
type SignerOption func(*JWTSigner)

// WithSignerClock overrides the time source used for iat and exp.
func WithSignerClock(now func() time.Time) SignerOption {
	return func(s *JWTSigner) {
		s.now = now
	}
}

// JWTSigner issues and verifies stateless HS256 session tokens.
// There is no server-side record; expiry is the only invalidation.
type JWTSigner struct {
	secret   []byte
	lifetime time.Duration
	issuer   string
	now      func() time.Time
}

// NewJWTSigner creates a signer from cfg.
func NewJWTSigner(cfg SignerConfig, opts ...SignerOption) (*JWTSigner, error) {
	if len(cfg.Secret) == 0 {
		return nil, oops.Code("SIGNER_INVALID_CONFIG").Errorf("signing secret is required")
	}
	if len(cfg.Secret) < minSigningSecretLen {
		return nil, oops.Code("SIGNER_INVALID_CONFIG").
			With("min_length", minSigningSecretLen).
			Errorf("signing secret is too short")
	}
	if cfg.Lifetime < 0 {
		return nil, oops.Code("SIGNER_INVALID_CONFIG").
			With("lifetime", cfg.Lifetime.String()).
			Errorf("session lifetime cannot be negative")
	}
	lifetime := cfg.Lifetime
	if lifetime == 0 {
		lifetime = DefaultSessionLifetime
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	s := &JWTSigner{
		secret:   secret,
		lifetime: lifetime,
		issuer:   cfg.Issuer,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Lifetime returns the validity window of issued tokens.
func (s *JWTSigner) Lifetime() time.Duration {
	return s.lifetime
}

// Issue creates a signed token for userID that expires after the configured lifetime.
func (s *JWTSigner) Issue(userID ulid.ULID) (string, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return "", oops.Code("SESSION_ISSUE_FAILED").Errorf("user ID cannot be zero")
	}

	now := s.now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
		},
		UserID: userID.String(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", oops.Code("SESSION_ISSUE_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return signed, nil
}

// Verify parses token, checks its signature, algorithm and expiry, and
// returns its claims.
func (s *JWTSigner) Verify(token string) (*SessionClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, oops.Code("SESSION_INVALID").Wrap(err)
	}
	if !parsed.Valid {
		return nil, oops.Code("SESSION_INVALID").Errorf("token is not valid")
	}
	if _, err := ulid.Parse(claims.Subject); err != nil {
		return nil, oops.Code("SESSION_INVALID").With("subject", claims.Subject).Wrap(err)
	}
	return claims, nil
}
