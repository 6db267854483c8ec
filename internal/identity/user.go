// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package identity

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
)

// MinPasswordLength is the minimum accepted password length.
const MinPasswordLength = 8

// usernameRegex matches usernames that:
// - Start with a letter (a-z, A-Z)
// - Contain only letters, numbers, and underscores
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// emailRegex is a shape check, not RFC 5322 validation. Confirmation mail is
// the real proof of ownership.
var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// User is an identity record.
//
// SecurityStamp is an opaque value rotated whenever credentials or
// confirmation state change. Every outstanding token embeds the stamp it was
// issued under, so a rotation implicitly revokes all of them.
type User struct {
	ID             ulid.ULID
	Email          string
	Username       string
	FirstName      string
	LastName       string
	PasswordHash   string
	EmailConfirmed bool
	SecurityStamp  string
	FailedAttempts int
	LockedUntil    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	c := *u
	if u.LockedUntil != nil {
		t := *u.LockedUntil
		c.LockedUntil = &t
	}
	return &c
}

// UserDraft is the input to registration. Password is plaintext here and
// must never be persisted or logged.
type UserDraft struct {
	Email     string
	Username  string
	FirstName string
	LastName  string
	Password  string
}

// Validate checks the draft's shape before it reaches the store.
func (d UserDraft) Validate() error {
	if !emailRegex.MatchString(d.Email) {
		return oops.Code("IDENTITY_INVALID_EMAIL").Errorf("email address is not valid")
	}
	if err := ValidateUsername(d.Username); err != nil {
		return err
	}
	if len(d.Password) < MinPasswordLength {
		return oops.Code("IDENTITY_INVALID_PASSWORD").
			With("min", MinPasswordLength).
			Errorf("password must be at least %d characters", MinPasswordLength)
	}
	return nil
}

// ValidateUsername validates a username against rules.
// Username requirements:
// - Length: MinUsernameLength to MaxUsernameLength characters
// - Must start with a letter
// - Can contain only letters (a-z, A-Z), numbers (0-9), and underscores (_)
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code("IDENTITY_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code("IDENTITY_INVALID_USERNAME").
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code("IDENTITY_INVALID_USERNAME").
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code("IDENTITY_INVALID_USERNAME").
			Errorf("username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// NormalizeEmail lowercases an email address for comparisons. Stores keep
// the original casing but match case-insensitively.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewSecurityStamp generates a fresh opaque stamp.
func NewSecurityStamp() string {
	return uuid.NewString()
}

// Store persists user identity records.
//
// UpdateConfirmed and UpdatePassword must be atomic compare-and-swap on the
// security stamp: of two racing token redemptions, the second must observe
// the rotated stamp and fail with ErrStaleUpdate. On success both mutate the
// passed user in place with the new state.
type Store interface {
	// FindByEmail retrieves a user by email (case-insensitive).
	// Returns ErrNotFound if no user has the given email.
	FindByEmail(ctx context.Context, email string) (*User, error)

	// FindByID retrieves a user by ID. Returns ErrNotFound on miss.
	FindByID(ctx context.Context, id ulid.ULID) (*User, error)

	// Create persists a new user from the draft with EmailConfirmed=false,
	// a fresh security stamp, and a hash of the draft password. Fails with
	// ErrDuplicateEmail or ErrDuplicateUsername on uniqueness violations.
	Create(ctx context.Context, draft UserDraft) (*User, error)

	// UpdateConfirmed sets EmailConfirmed=true and rotates the security
	// stamp atomically. Fails with ErrStaleUpdate if the stamp changed.
	UpdateConfirmed(ctx context.Context, user *User) error

	// UpdatePassword replaces the password hash and rotates the security
	// stamp atomically. Fails with ErrStaleUpdate if the stamp changed.
	UpdatePassword(ctx context.Context, user *User, newPlaintext string) error

	// SaveLoginStats persists the failed-attempt counter and lockout
	// timestamp. Does not rotate the security stamp.
	SaveLoginStats(ctx context.Context, user *User) error
}
