// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode asserts that err carries the given oops code.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	assert.Equal(t, code, mustOops(t, err).Code())
}

// AssertErrorContext asserts that err carries the given oops context entry.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	ctx := mustOops(t, err).Context()
	require.Contains(t, ctx, key)
	assert.Equal(t, value, ctx[key])
}

func mustOops(t *testing.T, err error) oops.OopsError {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "not an oops error: %v", err)
	return oopsErr
}
