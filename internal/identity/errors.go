// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package identity

import "errors"

// ErrNotFound is returned when a requested user does not exist.
var ErrNotFound = errors.New("not found")

// Create errors. The store maps uniqueness violations to these sentinels.
var (
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrDuplicateUsername = errors.New("username already taken")
)

// ErrStaleUpdate is returned when a compare-and-swap update loses the race:
// the user's security stamp changed between read and write.
var ErrStaleUpdate = errors.New("security stamp changed since read")

// Token verification errors, in the order the checks run.
var (
	// ErrTokenTampered covers bad signatures, malformed tokens, and
	// purpose mismatches.
	ErrTokenTampered = errors.New("token is not valid")

	// ErrTokenExpired is returned when the token's expiry has passed.
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenUnknownUser is returned when the embedded user no longer exists.
	ErrTokenUnknownUser = errors.New("token user does not exist")

	// ErrTokenStale is returned when the issued security stamp no longer
	// matches the user's current stamp. This covers both "already used"
	// and "credentials changed since issuance".
	ErrTokenStale = errors.New("token has already been used or invalidated")
)

// UserError is a policy rejection safe to show to the caller. Anything that
// is not a UserError is a system failure and must be surfaced opaquely.
type UserError struct {
	Message string
	Err     error
}

func (e *UserError) Error() string { return e.Message }

func (e *UserError) Unwrap() error { return e.Err }

// NewUserError creates a UserError with a caller-facing message.
func NewUserError(message string) *UserError {
	return &UserError{Message: message}
}

// AsUserError reports whether err is (or wraps) a UserError.
func AsUserError(err error) (*UserError, bool) {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
