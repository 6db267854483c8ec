// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package identity

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/sigil/sigil/pkg/errutil"
)

// Caller-facing messages. These are the only strings a failed workflow may
// surface; everything else is opaque.
const (
	msgUserNotFound     = "user not found"
	msgConfirmFirst     = "please confirm your account"
	msgBadCredentials   = "username or password is incorrect"
	msgAccountLocked    = "account is temporarily locked"
	msgInvalidToken     = "invalid token"
	msgNotConfirmed     = "your account has not been confirmed"
	msgResetTokenBad    = "password reset link is invalid or has expired"
	msgPasswordTooShort = "password does not meet the minimum requirements"
)

// dummyPasswordHash is verified against when a user doesn't exist, so the
// unknown-user path costs the same as a real verification. It is not a
// credential and matches no password.
//
//nolint:gosec // G101: intentionally fake hash for timing uniformity, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// AccountService sequences the credential store, token service, verifier,
// session manager, and notifier into the account workflows. It owns every
// outcome decision; no workflow touches storage or tokens except through
// the component contracts.
type AccountService struct {
	store    Store
	hasher   PasswordHasher
	tokens   *TokenService
	sessions *SessionManager
	notifier Notifier
	links    *LinkBuilder

	lockout LockoutPolicy
	// mergeLoginErrors collapses "user not found" and "incorrect password"
	// into one message (anti-enumeration hardening).
	mergeLoginErrors bool
	logger           *slog.Logger
}

// AccountOption configures an AccountService.
type AccountOption func(*AccountService)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) AccountOption {
	return func(s *AccountService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLockoutPolicy overrides the default lockout policy.
func WithLockoutPolicy(policy LockoutPolicy) AccountOption {
	return func(s *AccountService) {
		s.lockout = policy
	}
}

// WithMergedLoginErrors enables the anti-enumeration hardening: unknown
// users and wrong passwords produce the same message.
func WithMergedLoginErrors() AccountOption {
	return func(s *AccountService) {
		s.mergeLoginErrors = true
	}
}

// NewAccountService creates an AccountService. All dependencies are required.
func NewAccountService(
	store Store,
	hasher PasswordHasher,
	tokens *TokenService,
	sessions *SessionManager,
	notifier Notifier,
	links *LinkBuilder,
	opts ...AccountOption,
) (*AccountService, error) {
	if store == nil {
		return nil, oops.Code("ACCOUNT_NIL_DEP").Errorf("store is required")
	}
	if hasher == nil {
		return nil, oops.Code("ACCOUNT_NIL_DEP").Errorf("password hasher is required")
	}
	if tokens == nil {
		return nil, oops.Code("ACCOUNT_NIL_DEP").Errorf("token service is required")
	}
	if sessions == nil {
		return nil, oops.Code("ACCOUNT_NIL_DEP").Errorf("session manager is required")
	}
	if notifier == nil {
		return nil, oops.Code("ACCOUNT_NIL_DEP").Errorf("notifier is required")
	}
	if links == nil {
		return nil, oops.Code("ACCOUNT_NIL_DEP").Errorf("link builder is required")
	}

	s := &AccountService{
		store:    store,
		hasher:   hasher,
		tokens:   tokens,
		sessions: sessions,
		notifier: notifier,
		links:    links,
		lockout:  DefaultLockoutPolicy(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register validates the draft, creates the user, and sends the confirmation
// link. Delivery failure is logged and discarded: the registration stands.
func (s *AccountService) Register(ctx context.Context, draft UserDraft) (*User, error) {
	if err := draft.Validate(); err != nil {
		return nil, &UserError{Message: err.Error(), Err: err}
	}

	user, err := s.store.Create(ctx, draft)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateEmail):
			return nil, &UserError{Message: ErrDuplicateEmail.Error(), Err: err}
		case errors.Is(err, ErrDuplicateUsername):
			return nil, &UserError{Message: ErrDuplicateUsername.Error(), Err: err}
		}
		return nil, oops.Code("ACCOUNT_REGISTER_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	token, err := s.tokens.Issue(PurposeEmailConfirmation, user)
	if err != nil {
		return nil, oops.Code("ACCOUNT_REGISTER_FAILED").
			With("operation", "issue confirmation token").
			Wrap(err)
	}

	subject, body := ConfirmationMail(s.links.ConfirmEmail(user.ID, token))
	s.notify(ctx, user.Email, subject, body)

	return user, nil
}

// Login verifies credentials and signs the user in. The unconfirmed branch
// returns before the password is evaluated, so it can never leak password
// correctness.
func (s *AccountService) Login(ctx context.Context, email, password string, persistent bool) (*Session, string, error) {
	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Burn a verification anyway so this path costs the same
			// as a wrong password.
			_, _ = s.hasher.Verify(password, dummyPasswordHash)
			if s.mergeLoginErrors {
				return nil, "", NewUserError(msgBadCredentials)
			}
			return nil, "", NewUserError(msgUserNotFound)
		}
		return nil, "", oops.Code("ACCOUNT_LOGIN_FAILED").
			With("operation", "find user by email").
			Wrap(err)
	}

	if !user.EmailConfirmed {
		return nil, "", NewUserError(msgConfirmFirst)
	}

	if s.lockout.IsLocked(user.LockedUntil) {
		return nil, "", NewUserError(msgAccountLocked)
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, "", oops.Code("ACCOUNT_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(err)
	}
	if !ok {
		user.FailedAttempts++
		user.LockedUntil = s.lockout.NextLockout(user.FailedAttempts)
		if saveErr := s.store.SaveLoginStats(ctx, user); saveErr != nil {
			errutil.LogError(s.logger, "recording login failure", saveErr)
		}
		return nil, "", NewUserError(msgBadCredentials)
	}

	if user.FailedAttempts > 0 || user.LockedUntil != nil {
		user.FailedAttempts = 0
		user.LockedUntil = nil
		if saveErr := s.store.SaveLoginStats(ctx, user); saveErr != nil {
			errutil.LogError(s.logger, "resetting login failures", saveErr)
		}
	}

	session, token, err := s.sessions.SignIn(ctx, user, persistent)
	if err != nil {
		return nil, "", oops.Code("ACCOUNT_LOGIN_FAILED").
			With("operation", "sign in").
			Wrap(err)
	}
	return session, token, nil
}

// ConfirmEmail redeems an email-confirmation token. Confirming rotates the
// security stamp, so redeeming the same token twice fails as stale.
func (s *AccountService) ConfirmEmail(ctx context.Context, userID, token string) error {
	if userID == "" || token == "" {
		return NewUserError(msgInvalidToken)
	}
	id, err := ulid.Parse(userID)
	if err != nil {
		return NewUserError(msgInvalidToken)
	}

	user, err := s.tokens.Verify(ctx, PurposeEmailConfirmation, token, s.store)
	if err != nil {
		if reason, ok := tokenFailureReason(err); ok {
			return &UserError{Message: msgNotConfirmed + ": " + reason, Err: err}
		}
		return oops.Code("ACCOUNT_CONFIRM_FAILED").
			With("operation", "verify confirmation token").
			Wrap(err)
	}

	// The token must belong to the account named in the link.
	if user.ID.Compare(id) != 0 {
		return NewUserError(msgInvalidToken)
	}

	if err := s.store.UpdateConfirmed(ctx, user); err != nil {
		if errors.Is(err, ErrStaleUpdate) {
			return &UserError{Message: msgNotConfirmed + ": " + ErrTokenStale.Error(), Err: err}
		}
		return oops.Code("ACCOUNT_CONFIRM_FAILED").
			With("operation", "update confirmed").
			Wrap(err)
	}
	return nil
}

// ForgotPassword issues a reset link for a known email. An unknown email is
// an indistinguishable success-shaped no-op, so callers cannot probe which
// addresses are registered.
func (s *AccountService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("ACCOUNT_FORGOT_FAILED").
			With("operation", "find user by email").
			Wrap(err)
	}

	token, err := s.tokens.Issue(PurposePasswordReset, user)
	if err != nil {
		return oops.Code("ACCOUNT_FORGOT_FAILED").
			With("operation", "issue reset token").
			Wrap(err)
	}

	subject, body := ResetMail(s.links.ResetPassword(user.ID, token))
	s.notify(ctx, user.Email, subject, body)

	return nil
}

// ResetPassword redeems a reset token and replaces the password. The store
// update rotates the security stamp, which invalidates the redeemed token
// and any sibling reset tokens.
func (s *AccountService) ResetPassword(ctx context.Context, email, token, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return NewUserError(msgPasswordTooShort)
	}

	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Same no-op shape as ForgotPassword for unknown emails.
			return nil
		}
		return oops.Code("ACCOUNT_RESET_FAILED").
			With("operation", "find user by email").
			Wrap(err)
	}

	verified, err := s.tokens.Verify(ctx, PurposePasswordReset, token, s.store)
	if err != nil {
		if _, ok := tokenFailureReason(err); ok {
			return &UserError{Message: msgResetTokenBad, Err: err}
		}
		return oops.Code("ACCOUNT_RESET_FAILED").
			With("operation", "verify reset token").
			Wrap(err)
	}

	if verified.ID.Compare(user.ID) != 0 {
		return NewUserError(msgResetTokenBad)
	}

	if err := s.store.UpdatePassword(ctx, verified, newPassword); err != nil {
		if errors.Is(err, ErrStaleUpdate) {
			return &UserError{Message: msgResetTokenBad, Err: err}
		}
		return oops.Code("ACCOUNT_RESET_FAILED").
			With("operation", "update password").
			Wrap(err)
	}
	return nil
}

// Logout tears down the session. Always succeeds: failures are logged, and
// signing out an already-anonymous caller is a no-op.
func (s *AccountService) Logout(ctx context.Context, sessionToken string) {
	if err := s.sessions.SignOut(ctx, sessionToken); err != nil {
		errutil.LogError(s.logger, "signing out", err)
	}
}

// notify sends best-effort. A failed delivery never rolls back the workflow
// that triggered it.
func (s *AccountService) notify(ctx context.Context, to, subject, body string) {
	if err := s.notifier.Send(ctx, to, subject, body); err != nil {
		errutil.LogError(s.logger, "sending notification", err)
	}
}

// tokenFailureReason maps a token verification error to its caller-facing
// reason. Returns false for non-token errors.
func tokenFailureReason(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return ErrTokenExpired.Error(), true
	case errors.Is(err, ErrTokenStale):
		return ErrTokenStale.Error(), true
	case errors.Is(err, ErrTokenUnknownUser):
		return ErrTokenUnknownUser.Error(), true
	case errors.Is(err, ErrTokenTampered):
		return ErrTokenTampered.Error(), true
	}
	return "", false
}
