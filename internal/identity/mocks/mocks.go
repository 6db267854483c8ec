// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package mocks provides testify mocks for the identity contracts.
package mocks

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/sigil/sigil/internal/identity"
)

type testingT interface {
	mock.TestingT
	Cleanup(func())
}

// MockStore is a mock implementation of identity.Store.
type MockStore struct {
	mock.Mock
}

// NewMockStore creates a MockStore that asserts its expectations at cleanup.
func NewMockStore(t testingT) *MockStore {
	m := &MockStore{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockStore) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	args := m.Called(ctx, email)
	return userArg(args.Get(0)), args.Error(1)
}

func (m *MockStore) FindByID(ctx context.Context, id ulid.ULID) (*identity.User, error) {
	args := m.Called(ctx, id)
	return userArg(args.Get(0)), args.Error(1)
}

func (m *MockStore) Create(ctx context.Context, draft identity.UserDraft) (*identity.User, error) {
	args := m.Called(ctx, draft)
	return userArg(args.Get(0)), args.Error(1)
}

func (m *MockStore) UpdateConfirmed(ctx context.Context, user *identity.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockStore) UpdatePassword(ctx context.Context, user *identity.User, newPlaintext string) error {
	args := m.Called(ctx, user, newPlaintext)
	return args.Error(0)
}

func (m *MockStore) SaveLoginStats(ctx context.Context, user *identity.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

// MockPasswordHasher is a mock implementation of identity.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a MockPasswordHasher that asserts its
// expectations at cleanup.
func NewMockPasswordHasher(t testingT) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockPasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *MockPasswordHasher) Verify(password, hash string) (bool, error) {
	args := m.Called(password, hash)
	return args.Bool(0), args.Error(1)
}

// MockNotifier is a mock implementation of identity.Notifier.
type MockNotifier struct {
	mock.Mock
}

// NewMockNotifier creates a MockNotifier that asserts its expectations at
// cleanup.
func NewMockNotifier(t testingT) *MockNotifier {
	m := &MockNotifier{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockNotifier) Send(ctx context.Context, to, subject, body string) error {
	args := m.Called(ctx, to, subject, body)
	return args.Error(0)
}

// MockSessionStore is a mock implementation of identity.SessionStore.
type MockSessionStore struct {
	mock.Mock
}

// NewMockSessionStore creates a MockSessionStore that asserts its
// expectations at cleanup.
func NewMockSessionStore(t testingT) *MockSessionStore {
	m := &MockSessionStore{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockSessionStore) Put(ctx context.Context, session *identity.Session) (string, error) {
	args := m.Called(ctx, session)
	return args.String(0), args.Error(1)
}

func (m *MockSessionStore) Get(ctx context.Context, token string) (*identity.Session, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Session), args.Error(1)
}

func (m *MockSessionStore) Delete(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func userArg(v any) *identity.User {
	if v == nil {
		return nil
	}
	return v.(*identity.User)
}

// Compile-time interface checks.
var (
	_ identity.Store          = (*MockStore)(nil)
	_ identity.PasswordHasher = (*MockPasswordHasher)(nil)
	_ identity.Notifier       = (*MockNotifier)(nil)
	_ identity.SessionStore   = (*MockSessionStore)(nil)
)
