// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package identity

import "time"

// Default lockout policy values.
const (
	DefaultLockoutThreshold = 7
	DefaultLockoutDuration  = 15 * time.Minute
)

// LockoutPolicy decides when repeated login failures lock an account.
// The zero value disables lockout entirely.
type LockoutPolicy struct {
	// Threshold is the number of consecutive failures that triggers a
	// lockout. Zero disables lockout.
	Threshold int

	// Duration is how long the account stays locked.
	Duration time.Duration
}

// DefaultLockoutPolicy returns the standard policy.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		Threshold: DefaultLockoutThreshold,
		Duration:  DefaultLockoutDuration,
	}
}

// IsLocked returns true if lockedUntil is in the future.
func (p LockoutPolicy) IsLocked(lockedUntil *time.Time) bool {
	return lockedUntil != nil && lockedUntil.After(time.Now())
}

// NextLockout returns the lockout timestamp for the given failure count,
// or nil if the threshold has not been reached.
func (p LockoutPolicy) NextLockout(failures int) *time.Time {
	if p.Threshold <= 0 || failures < p.Threshold {
		return nil
	}
	until := time.Now().Add(p.Duration)
	return &until
}
