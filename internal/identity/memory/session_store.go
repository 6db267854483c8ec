// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package memory

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/sigil/sigil/internal/identity"
)

// Session token configuration.
const (
	sessionTokenBytes = 32 // 32 bytes = 64 hex chars

	// DefaultSessionTTL applies to non-persistent sessions.
	DefaultSessionTTL = 24 * time.Hour

	// DefaultPersistentTTL applies to persistent ("remember me") sessions.
	DefaultPersistentTTL = 30 * 24 * time.Hour
)

type sessionEntry struct {
	session   identity.Session
	expiresAt time.Time
}

// SessionStore implements identity.SessionStore in memory. Tokens handed to
// clients are random; only their SHA-256 hashes are kept here.
type SessionStore struct {
	mu            sync.Mutex
	entries       map[string]sessionEntry
	sessionTTL    time.Duration
	persistentTTL time.Duration
	now           func() time.Time
}

// NewSessionStore creates a SessionStore with the default TTLs.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		entries:       make(map[string]sessionEntry),
		sessionTTL:    DefaultSessionTTL,
		persistentTTL: DefaultPersistentTTL,
		now:           time.Now,
	}
}

// Put stores the session and returns the plaintext token for the client.
func (s *SessionStore) Put(_ context.Context, session *identity.Session) (string, error) {
	raw := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			Wrap(err)
	}
	token := hex.EncodeToString(raw)

	ttl := s.sessionTTL
	if session.Persistent {
		ttl = s.persistentTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[hashToken(token)] = sessionEntry{
		session:   *session,
		expiresAt: s.now().Add(ttl),
	}
	return token, nil
}

// Get resolves a token. Expired entries are dropped and reported as
// ErrNotFound.
func (s *SessionStore) Get(_ context.Context, token string) (*identity.Session, error) {
	key := hashToken(token)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, identity.ErrNotFound
	}
	if s.now().After(entry.expiresAt) {
		delete(s.entries, key)
		return nil, identity.ErrNotFound
	}
	session := entry.session
	return &session, nil
}

// Delete invalidates a token. Unknown tokens are a no-op.
func (s *SessionStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, hashToken(token))
	return nil
}

// Len reports the number of live entries. Used by tests.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// Compile-time interface check.
var _ identity.SessionStore = (*SessionStore)(nil)
