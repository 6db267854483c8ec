// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package memory provides in-memory implementations of the identity
// persistence contracts, used by tests and development mode.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/sigil/sigil/internal/identity"
)

// UserStore implements identity.Store with a mutex-guarded map. The mutex
// gives the same per-user serialization guarantee the SQL store gets from
// its compare-and-swap updates.
type UserStore struct {
	mu         sync.Mutex
	users      map[ulid.ULID]*identity.User
	byEmail    map[string]ulid.ULID
	byUsername map[string]ulid.ULID
	hasher     identity.PasswordHasher
}

// NewUserStore creates an empty UserStore hashing with the given hasher.
func NewUserStore(hasher identity.PasswordHasher) (*UserStore, error) {
	if hasher == nil {
		return nil, oops.Code("STORE_NIL_HASHER").Errorf("password hasher is required")
	}
	return &UserStore{
		users:      make(map[ulid.ULID]*identity.User),
		byEmail:    make(map[string]ulid.ULID),
		byUsername: make(map[string]ulid.ULID),
		hasher:     hasher,
	}, nil
}

// FindByEmail retrieves a user by email (case-insensitive).
func (s *UserStore) FindByEmail(_ context.Context, email string) (*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[identity.NormalizeEmail(email)]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return s.users[id].Clone(), nil
}

// FindByID retrieves a user by ID.
func (s *UserStore) FindByID(_ context.Context, id ulid.ULID) (*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return user.Clone(), nil
}

// Create persists a new user with a fresh security stamp and a hashed
// password.
func (s *UserStore) Create(_ context.Context, draft identity.UserDraft) (*identity.User, error) {
	hash, err := s.hasher.Hash(draft.Password)
	if err != nil {
		return nil, oops.Code("USER_CREATE_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	emailKey := identity.NormalizeEmail(draft.Email)
	if _, exists := s.byEmail[emailKey]; exists {
		return nil, identity.ErrDuplicateEmail
	}
	usernameKey := strings.ToLower(draft.Username)
	if _, exists := s.byUsername[usernameKey]; exists {
		return nil, identity.ErrDuplicateUsername
	}

	now := time.Now()
	user := &identity.User{
		ID:             ulid.Make(),
		Email:          draft.Email,
		Username:       draft.Username,
		FirstName:      draft.FirstName,
		LastName:       draft.LastName,
		PasswordHash:   hash,
		EmailConfirmed: false,
		SecurityStamp:  identity.NewSecurityStamp(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	s.users[user.ID] = user
	s.byEmail[emailKey] = user.ID
	s.byUsername[usernameKey] = user.ID

	return user.Clone(), nil
}

// UpdateConfirmed sets EmailConfirmed and rotates the stamp iff the caller's
// stamp still matches the stored one.
func (s *UserStore) UpdateConfirmed(_ context.Context, user *identity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.users[user.ID]
	if !ok {
		return identity.ErrNotFound
	}
	if stored.SecurityStamp != user.SecurityStamp {
		return identity.ErrStaleUpdate
	}

	stored.EmailConfirmed = true
	stored.SecurityStamp = identity.NewSecurityStamp()
	stored.UpdatedAt = time.Now()

	user.EmailConfirmed = true
	user.SecurityStamp = stored.SecurityStamp
	user.UpdatedAt = stored.UpdatedAt
	return nil
}

// UpdatePassword replaces the password hash and rotates the stamp iff the
// caller's stamp still matches the stored one.
func (s *UserStore) UpdatePassword(_ context.Context, user *identity.User, newPlaintext string) error {
	hash, err := s.hasher.Hash(newPlaintext)
	if err != nil {
		return oops.Code("USER_UPDATE_PASSWORD_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.users[user.ID]
	if !ok {
		return identity.ErrNotFound
	}
	if stored.SecurityStamp != user.SecurityStamp {
		return identity.ErrStaleUpdate
	}

	stored.PasswordHash = hash
	stored.SecurityStamp = identity.NewSecurityStamp()
	stored.UpdatedAt = time.Now()

	user.PasswordHash = hash
	user.SecurityStamp = stored.SecurityStamp
	user.UpdatedAt = stored.UpdatedAt
	return nil
}

// SaveLoginStats persists the failure counter and lockout timestamp without
// touching the security stamp.
func (s *UserStore) SaveLoginStats(_ context.Context, user *identity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.users[user.ID]
	if !ok {
		return identity.ErrNotFound
	}

	stored.FailedAttempts = user.FailedAttempts
	if user.LockedUntil != nil {
		t := *user.LockedUntil
		stored.LockedUntil = &t
	} else {
		stored.LockedUntil = nil
	}
	stored.UpdatedAt = time.Now()
	return nil
}

// Compile-time interface check.
var _ identity.Store = (*UserStore)(nil)
