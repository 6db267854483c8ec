// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package identity_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil/sigil/internal/identity"
)

func TestArgon2idHasher_HashAndVerify(t *testing.T) {
	hasher := identity.NewArgon2idHasher()

	hash, err := hasher.Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$"), "PHC format: %s", hash)

	ok, err := hasher.Verify("correct horse battery staple", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = hasher.Verify("wrong password", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArgon2idHasher_HashIsSalted(t *testing.T) {
	hasher := identity.NewArgon2idHasher()

	first, err := hasher.Hash("same password")
	require.NoError(t, err)
	second, err := hasher.Hash("same password")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "two hashes of one password must differ")
}

func TestArgon2idHasher_EmptyPassword(t *testing.T) {
	hasher := identity.NewArgon2idHasher()

	_, err := hasher.Hash("")
	assert.ErrorIs(t, err, identity.ErrEmptyPassword)
}

func TestArgon2idHasher_VerifyRejectsMalformedHash(t *testing.T) {
	hasher := identity.NewArgon2idHasher()

	tests := []struct {
		name string
		hash string
	}{
		{"empty", ""},
		{"not a hash", "plaintext"},
		{"wrong algorithm", "$bcrypt$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA"},
		{"bad salt encoding", "$argon2id$v=19$m=65536,t=1,p=4$!!!$aGFzaA"},
		{"missing sections", "$argon2id$v=19$m=65536,t=1,p=4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := hasher.Verify("password", tt.hash)
			require.Error(t, err)
			assert.False(t, ok)
		})
	}
}
