// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package identity

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session is the ephemeral authenticated state for one client. It is created
// by sign-in, destroyed by sign-out, and never persisted beyond the
// transport-level SessionStore.
type Session struct {
	UserID     ulid.ULID
	IssuedAt   time.Time
	Persistent bool
}

// SessionStore is the transport-level collaborator that turns a Session into
// a client-presented credential and back.
type SessionStore interface {
	// Put stores the session and returns the opaque token handed to the
	// client.
	Put(ctx context.Context, session *Session) (string, error)

	// Get resolves a client token to its session. Returns ErrNotFound for
	// unknown or expired tokens.
	Get(ctx context.Context, token string) (*Session, error)

	// Delete invalidates a client token. Unknown tokens are a no-op.
	Delete(ctx context.Context, token string) error
}

// SessionManager converts a verified credential into an authenticated
// session and tears it down on sign-out.
//
// Per caller the state machine is Anonymous -> Authenticated -> Anonymous.
type SessionManager struct {
	store SessionStore
	now   func() time.Time
}

// NewSessionManager creates a SessionManager backed by the given store.
func NewSessionManager(store SessionStore) (*SessionManager, error) {
	if store == nil {
		return nil, oops.Code("SESSION_NO_STORE").Errorf("session store is required")
	}
	return &SessionManager{store: store, now: time.Now}, nil
}

// SignIn transitions the caller to Authenticated and returns the session
// plus the opaque token to present on later requests.
//
// Contract: the caller has already verified the password and that the
// account's email is confirmed. SignIn does not re-check either.
func (m *SessionManager) SignIn(ctx context.Context, user *User, persistent bool) (*Session, string, error) {
	session := &Session{
		UserID:     user.ID,
		IssuedAt:   m.now(),
		Persistent: persistent,
	}
	token, err := m.store.Put(ctx, session)
	if err != nil {
		return nil, "", oops.Code("SESSION_SIGNIN_FAILED").
			With("operation", "store session").
			Wrap(err)
	}
	return session, token, nil
}

// SignOut transitions the caller to Anonymous. Signing out an unknown or
// already-removed token is a no-op, not an error.
func (m *SessionManager) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.store.Delete(ctx, token); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("SESSION_SIGNOUT_FAILED").
			With("operation", "delete session").
			Wrap(err)
	}
	return nil
}

// Resolve returns the session for a client token, or ErrNotFound.
func (m *SessionManager) Resolve(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, oops.Code("SESSION_TOKEN_EMPTY").Wrap(ErrNotFound)
	}
	session, err := m.store.Get(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, oops.Code("SESSION_RESOLVE_FAILED").
			With("operation", "get session").
			Wrap(err)
	}
	return session, nil
}
