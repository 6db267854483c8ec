// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package postgres implements the identity persistence contracts on
// PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/sigil/sigil/internal/identity"
)

// poolIface is the subset of pgxpool.Pool the store needs. Satisfied by
// pgxmock.PgxPoolIface in unit tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const userColumns = `id, email, username, first_name, last_name, password_hash,
       email_confirmed, security_stamp, failed_attempts, locked_until,
       created_at, updated_at`

// UserStore implements identity.Store using PostgreSQL. Uniqueness is
// enforced by case-insensitive unique indexes; single-use token semantics
// come from the security-stamp guard on every UPDATE.
type UserStore struct {
	pool   poolIface
	hasher identity.PasswordHasher
}

// NewUserStore creates a UserStore on the given pool.
func NewUserStore(pool poolIface, hasher identity.PasswordHasher) (*UserStore, error) {
	if pool == nil {
		return nil, oops.Code("STORE_NIL_POOL").Errorf("connection pool is required")
	}
	if hasher == nil {
		return nil, oops.Code("STORE_NIL_HASHER").Errorf("password hasher is required")
	}
	return &UserStore{pool: pool, hasher: hasher}, nil
}

// FindByEmail retrieves a user by email (case-insensitive).
func (s *UserStore) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE LOWER(email) = LOWER($1)
	`, email)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("email", email).
			Wrap(identity.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return user, nil
}

// FindByID retrieves a user by ID.
func (s *UserStore) FindByID(ctx context.Context, id ulid.ULID) (*identity.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(identity.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// Create persists a new user with EmailConfirmed=false, a fresh security
// stamp, and a hash of the draft password.
func (s *UserStore) Create(ctx context.Context, draft identity.UserDraft) (*identity.User, error) {
	hash, err := s.hasher.Hash(draft.Password)
	if err != nil {
		return nil, oops.Code("USER_CREATE_FAILED").
			With("operation", "hash password").
			Wrap(err)
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

	_, err = s.pool.Exec(ctx, `
		INSERT INTO users (
			id, email, username, first_name, last_name, password_hash,
			email_confirmed, security_stamp, failed_attempts, locked_until,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		user.ID.String(),
		user.Email,
		user.Username,
		user.FirstName,
		user.LastName,
		user.PasswordHash,
		user.EmailConfirmed,
		user.SecurityStamp,
		user.FailedAttempts,
		user.LockedUntil,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if dup := duplicateError(err); dup != nil {
			return nil, dup
		}
		return nil, oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("username", user.Username).
			Wrap(err)
	}
	return user, nil
}

// UpdateConfirmed sets EmailConfirmed=true and rotates the security stamp.
// The WHERE clause compares the stamp, so a racing redemption loses with
// ErrStaleUpdate instead of confirming twice.
func (s *UserStore) UpdateConfirmed(ctx context.Context, user *identity.User) error {
	newStamp := identity.NewSecurityStamp()
	now := time.Now()

	result, err := s.pool.Exec(ctx, `
		UPDATE users
		SET email_confirmed = TRUE, security_stamp = $3, updated_at = $4
		WHERE id = $1 AND security_stamp = $2
	`, user.ID.String(), user.SecurityStamp, newStamp, now)
	if err != nil {
		return oops.Code("USER_UPDATE_CONFIRMED_FAILED").
			With("operation", "update confirmed").
			With("id", user.ID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_STALE_UPDATE").
			With("id", user.ID.String()).
			Wrap(identity.ErrStaleUpdate)
	}

	user.EmailConfirmed = true
	user.SecurityStamp = newStamp
	user.UpdatedAt = now
	return nil
}

// UpdatePassword replaces the password hash and rotates the security stamp
// under the same compare-and-swap guard as UpdateConfirmed.
func (s *UserStore) UpdatePassword(ctx context.Context, user *identity.User, newPlaintext string) error {
	hash, err := s.hasher.Hash(newPlaintext)
	if err != nil {
		return oops.Code("USER_UPDATE_PASSWORD_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	newStamp := identity.NewSecurityStamp()
	now := time.Now()

	result, err := s.pool.Exec(ctx, `
		UPDATE users
		SET password_hash = $3, security_stamp = $4, updated_at = $5
		WHERE id = $1 AND security_stamp = $2
	`, user.ID.String(), user.SecurityStamp, hash, newStamp, now)
	if err != nil {
		return oops.Code("USER_UPDATE_PASSWORD_FAILED").
			With("operation", "update password").
			With("id", user.ID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_STALE_UPDATE").
			With("id", user.ID.String()).
			Wrap(identity.ErrStaleUpdate)
	}

	user.PasswordHash = hash
	user.SecurityStamp = newStamp
	user.UpdatedAt = now
	return nil
}

// SaveLoginStats persists the failure counter and lockout timestamp. No
// stamp rotation: lockout bookkeeping must not revoke outstanding tokens.
func (s *UserStore) SaveLoginStats(ctx context.Context, user *identity.User) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE users
		SET failed_attempts = $2, locked_until = $3, updated_at = $4
		WHERE id = $1
	`, user.ID.String(), user.FailedAttempts, user.LockedUntil, time.Now())
	if err != nil {
		return oops.Code("USER_SAVE_LOGIN_STATS_FAILED").
			With("operation", "save login stats").
			With("id", user.ID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", user.ID.String()).
			Wrap(identity.ErrNotFound)
	}
	return nil
}

// duplicateError maps a unique violation to the matching sentinel, or nil
// if err is not a unique violation.
func duplicateError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return nil
	}
	switch {
	case strings.Contains(pgErr.ConstraintName, "email"):
		return oops.Code("USER_DUPLICATE_EMAIL").Wrap(identity.ErrDuplicateEmail)
	case strings.Contains(pgErr.ConstraintName, "username"):
		return oops.Code("USER_DUPLICATE_USERNAME").Wrap(identity.ErrDuplicateUsername)
	}
	// Unique violation on a constraint we don't recognize: surface as-is.
	return oops.Code("USER_CREATE_FAILED").Wrap(err)
}

// scanUser scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows.
func scanUser(row pgx.Row) (*identity.User, error) {
	var (
		idStr          string
		email          string
		username       string
		firstName      string
		lastName       string
		passwordHash   string
		emailConfirmed bool
		securityStamp  string
		failedAttempts int
		lockedUntil    *time.Time
		createdAt      time.Time
		updatedAt      time.Time
	)

	err := row.Scan(
		&idStr,
		&email,
		&username,
		&firstName,
		&lastName,
		&passwordHash,
		&emailConfirmed,
		&securityStamp,
		&failedAttempts,
		&lockedUntil,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").
			With("operation", "scan user").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("operation", "parse user id").
			With("id", idStr).
			Wrap(err)
	}

	return &identity.User{
		ID:             id,
		Email:          email,
		Username:       username,
		FirstName:      firstName,
		LastName:       lastName,
		PasswordHash:   passwordHash,
		EmailConfirmed: emailConfirmed,
		SecurityStamp:  securityStamp,
		FailedAttempts: failedAttempts,
		LockedUntil:    lockedUntil,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}, nil
}

// Compile-time interface check.
var _ identity.Store = (*UserStore)(nil)
