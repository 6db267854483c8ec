// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package identity_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sigil/sigil/internal/identity"
	"github.com/sigil/sigil/internal/identity/mocks"
)

// fakeClock is a settable time source shared between a token service and the
// test driving it.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testUser() *identity.User {
	return &identity.User{
		ID:            ulid.Make(),
		Email:         "alice@example.com",
		Username:      "alice",
		SecurityStamp: identity.NewSecurityStamp(),
	}
}

func TestNewTokenService_RequiresSecret(t *testing.T) {
	_, err := identity.NewTokenService(nil, identity.TokenTTL{})
	require.Error(t, err)
}

func TestTokenService_IssueVerifyRoundtrip(t *testing.T) {
	svc, err := identity.NewTokenService([]byte("secret"), identity.TokenTTL{})
	require.NoError(t, err)

	user := testUser()
	token, err := svc.Issue(identity.PurposeEmailConfirmation, user)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	store := mocks.NewMockStore(t)
	store.On("FindByID", mock.Anything, user.ID).Return(user.Clone(), nil)

	verified, err := svc.Verify(context.Background(), identity.PurposeEmailConfirmation, token, store)
	require.NoError(t, err)
	assert.Equal(t, user.ID, verified.ID)
	assert.Equal(t, user.SecurityStamp, verified.SecurityStamp)
}

func TestTokenService_VerifyRejectsEmptyAndGarbage(t *testing.T) {
	svc, err := identity.NewTokenService([]byte("secret"), identity.TokenTTL{})
	require.NoError(t, err)

	store := mocks.NewMockStore(t)

	_, err = svc.Verify(context.Background(), identity.PurposeEmailConfirmation, "", store)
	assert.ErrorIs(t, err, identity.ErrTokenTampered)

	_, err = svc.Verify(context.Background(), identity.PurposeEmailConfirmation, "not.a.token", store)
	assert.ErrorIs(t, err, identity.ErrTokenTampered)
}

func TestTokenService_VerifyRejectsWrongSecret(t *testing.T) {
	issuer, err := identity.NewTokenService([]byte("secret-a"), identity.TokenTTL{})
	require.NoError(t, err)
	verifier, err := identity.NewTokenService([]byte("secret-b"), identity.TokenTTL{})
	require.NoError(t, err)

	token, err := issuer.Issue(identity.PurposePasswordReset, testUser())
	require.NoError(t, err)

	store := mocks.NewMockStore(t)
	_, err = verifier.Verify(context.Background(), identity.PurposePasswordReset, token, store)
	assert.ErrorIs(t, err, identity.ErrTokenTampered)
}

func TestTokenService_VerifyRejectsPurposeMismatch(t *testing.T) {
	svc, err := identity.NewTokenService([]byte("secret"), identity.TokenTTL{})
	require.NoError(t, err)

	token, err := svc.Issue(identity.PurposeEmailConfirmation, testUser())
	require.NoError(t, err)

	store := mocks.NewMockStore(t)
	_, err = svc.Verify(context.Background(), identity.PurposePasswordReset, token, store)
	assert.ErrorIs(t, err, identity.ErrTokenTampered)
}

func TestTokenService_VerifyRejectsExpired(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc, err := identity.NewTokenService([]byte("secret"),
		identity.TokenTTL{PasswordReset: time.Hour},
		identity.WithClock(clock.Now),
	)
	require.NoError(t, err)

	user := testUser()
	token, err := svc.Issue(identity.PurposePasswordReset, user)
	require.NoError(t, err)

	store := mocks.NewMockStore(t)
	store.On("FindByID", mock.Anything, user.ID).Return(user.Clone(), nil).Maybe()

	// Still inside the TTL.
	clock.Advance(59 * time.Minute)
	_, err = svc.Verify(context.Background(), identity.PurposePasswordReset, token, store)
	require.NoError(t, err)

	// Exactly at issue time + TTL the token is already dead.
	clock.Advance(time.Minute)
	_, err = svc.Verify(context.Background(), identity.PurposePasswordReset, token, store)
	assert.ErrorIs(t, err, identity.ErrTokenExpired)

	// And stays dead.
	clock.Advance(2 * time.Minute)
	_, err = svc.Verify(context.Background(), identity.PurposePasswordReset, token, store)
	assert.ErrorIs(t, err, identity.ErrTokenExpired)
}

func TestTokenService_VerifyRejectsUnknownUser(t *testing.T) {
	svc, err := identity.NewTokenService([]byte("secret"), identity.TokenTTL{})
	require.NoError(t, err)

	user := testUser()
	token, err := svc.Issue(identity.PurposeEmailConfirmation, user)
	require.NoError(t, err)

	store := mocks.NewMockStore(t)
	store.On("FindByID", mock.Anything, user.ID).Return(nil, identity.ErrNotFound)

	_, err = svc.Verify(context.Background(), identity.PurposeEmailConfirmation, token, store)
	assert.ErrorIs(t, err, identity.ErrTokenUnknownUser)
}

func TestTokenService_VerifyRejectsStaleStamp(t *testing.T) {
	svc, err := identity.NewTokenService([]byte("secret"), identity.TokenTTL{})
	require.NoError(t, err)

	user := testUser()
	token, err := svc.Issue(identity.PurposeEmailConfirmation, user)
	require.NoError(t, err)

	rotated := user.Clone()
	rotated.SecurityStamp = identity.NewSecurityStamp()

	store := mocks.NewMockStore(t)
	store.On("FindByID", mock.Anything, user.ID).Return(rotated, nil)

	_, err = svc.Verify(context.Background(), identity.PurposeEmailConfirmation, token, store)
	assert.ErrorIs(t, err, identity.ErrTokenStale)
}

func TestTokenService_IssueRejectsUnknownPurpose(t *testing.T) {
	svc, err := identity.NewTokenService([]byte("secret"), identity.TokenTTL{})
	require.NoError(t, err)

	_, err = svc.Issue(identity.TokenPurpose("mystery"), testUser())
	require.Error(t, err)
}
