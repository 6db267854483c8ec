// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package identity is the credential-lifecycle core: account registration,
// email confirmation, password reset, and session sign-in/sign-out.
//
// # Tokens
//
// Confirmation and reset tokens are stateless signed capabilities, not
// stored rows. Each token embeds the user's security stamp at issuance, and
// every credential-affecting store update rotates the stamp, so redeeming a
// token once invalidates it and all of its siblings. See TokenService.
//
// # Components
//
//   - Store - persists users; compare-and-swap updates on the security stamp
//   - PasswordHasher - pluggable hashing primitive (Argon2idHasher)
//   - TokenService - issues/verifies purpose-scoped tokens
//   - SessionManager - Anonymous -> Authenticated -> Anonymous
//   - AccountService - the workflows (Register, Login, ConfirmEmail,
//     ForgotPassword, ResetPassword, Logout)
//
// Workflow failures surface as *UserError when they are safe to show to the
// caller; every other error is a system failure and must stay opaque.
package identity
