// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package identity

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// TokenPurpose scopes a token to one operation kind.
type TokenPurpose string

// Supported token purposes.
const (
	PurposeEmailConfirmation TokenPurpose = "email_confirmation"
	PurposePasswordReset     TokenPurpose = "password_reset"
)

// Default token lifetimes per purpose.
const (
	DefaultConfirmationTTL = 24 * time.Hour
	DefaultResetTTL        = time.Hour
)

// TokenTTL configures token lifetimes per purpose.
type TokenTTL struct {
	EmailConfirmation time.Duration
	PasswordReset     time.Duration
}

// tokenClaims binds a token to a purpose and a snapshot of the user's
// security stamp. No token state is ever persisted: rotating the stamp is
// the revocation mechanism.
type tokenClaims struct {
	jwt.RegisteredClaims
	Purpose TokenPurpose `json:"pur"`
	Stamp   string       `json:"stp"`
}

// TokenService issues and verifies purpose-scoped, time-limited tokens.
// It performs no I/O of its own and is safe for concurrent use.
type TokenService struct {
	secret []byte
	ttl    TokenTTL
	now    func() time.Time
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		s.now = now
	}
}

// NewTokenService creates a TokenService signing with the given secret.
// Zero TTL fields fall back to the defaults.
func NewTokenService(secret []byte, ttl TokenTTL, opts ...TokenOption) (*TokenService, error) {
	if len(secret) == 0 {
		return nil, oops.Code("TOKEN_NO_SECRET").Errorf("token secret is required")
	}
	if ttl.EmailConfirmation <= 0 {
		ttl.EmailConfirmation = DefaultConfirmationTTL
	}
	if ttl.PasswordReset <= 0 {
		ttl.PasswordReset = DefaultResetTTL
	}
	s := &TokenService{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue encodes {purpose, user id, current security stamp, expiry} and signs
// it with the process-wide secret.
func (s *TokenService) Issue(purpose TokenPurpose, user *User) (string, error) {
	ttl, err := s.ttlFor(purpose)
	if err != nil {
		return "", err
	}

	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Purpose: purpose,
		Stamp:   user.SecurityStamp,
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").
			With("purpose", string(purpose)).
			Wrap(err)
	}
	return signed, nil
}

// Verify decodes and checks a token, then returns the fresh user it is bound
// to. A token verifies iff the signature matches, the expiry has not passed,
// the embedded user exists, and the issued stamp equals the user's current
// security stamp. Failures wrap, in order: ErrTokenTampered, ErrTokenExpired,
// ErrTokenUnknownUser, ErrTokenStale.
func (s *TokenService) Verify(ctx context.Context, purpose TokenPurpose, tokenString string, store Store) (*User, error) {
	if tokenString == "" {
		return nil, oops.Code("TOKEN_TAMPERED").Wrap(ErrTokenTampered)
	}

	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.Code("TOKEN_EXPIRED").Wrap(ErrTokenExpired)
		}
		return nil, oops.Code("TOKEN_TAMPERED").Wrap(ErrTokenTampered)
	}

	if claims.Purpose != purpose {
		return nil, oops.Code("TOKEN_TAMPERED").
			With("expected_purpose", string(purpose)).
			Wrap(ErrTokenTampered)
	}

	userID, err := ulid.Parse(claims.Subject)
	if err != nil {
		return nil, oops.Code("TOKEN_TAMPERED").Wrap(ErrTokenTampered)
	}

	user, err := store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("TOKEN_UNKNOWN_USER").
				With("user_id", claims.Subject).
				Wrap(ErrTokenUnknownUser)
		}
		return nil, oops.Code("TOKEN_VERIFY_FAILED").
			With("operation", "find user by id").
			Wrap(err)
	}

	if claims.Stamp != user.SecurityStamp {
		return nil, oops.Code("TOKEN_STALE").Wrap(ErrTokenStale)
	}

	return user, nil
}

func (s *TokenService) ttlFor(purpose TokenPurpose) (time.Duration, error) {
	switch purpose {
	case PurposeEmailConfirmation:
		return s.ttl.EmailConfirmation, nil
	case PurposePasswordReset:
		return s.ttl.PasswordReset, nil
	default:
		return 0, oops.Code("TOKEN_UNKNOWN_PURPOSE").
			With("purpose", string(purpose)).
			Errorf("unknown token purpose")
	}
}
