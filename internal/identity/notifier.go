// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package identity

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Notifier delivers a message to a user out of band. Delivery failure is
// never fatal to a workflow: a registration or reset must not roll back
// because mail failed.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogNotifier writes notifications to the log instead of delivering them.
// Used in development and tests.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Send logs the notification. The body is included so the links inside are
// usable during development.
func (n *LogNotifier) Send(ctx context.Context, to, subject, body string) error {
	n.logger.InfoContext(ctx, "notification",
		"to", to,
		"subject", subject,
		"body", body,
	)
	return nil
}

// LinkBuilder produces the absolute, purpose-specific URLs embedded in
// notification mails. The token must round-trip through TokenService.Verify
// unchanged, so it is always query-escaped.
type LinkBuilder struct {
	base *url.URL
}

// NewLinkBuilder creates a LinkBuilder from an absolute base URL such as
// "https://accounts.example.com".
func NewLinkBuilder(baseURL string) (*LinkBuilder, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, oops.Code("LINK_INVALID_BASE").With("base_url", baseURL).Wrap(err)
	}
	if !base.IsAbs() {
		return nil, oops.Code("LINK_INVALID_BASE").
			With("base_url", baseURL).
			Errorf("base URL must be absolute")
	}
	base.Path = strings.TrimRight(base.Path, "/")
	return &LinkBuilder{base: base}, nil
}

// ConfirmEmail returns the absolute email-confirmation URL for a user/token pair.
func (b *LinkBuilder) ConfirmEmail(userID ulid.ULID, token string) string {
	return b.build("/v1/confirm-email", userID, token)
}

// ResetPassword returns the absolute password-reset URL for a user/token pair.
func (b *LinkBuilder) ResetPassword(userID ulid.ULID, token string) string {
	return b.build("/v1/reset-password", userID, token)
}

func (b *LinkBuilder) build(path string, userID ulid.ULID, token string) string {
	u := *b.base
	u.Path = b.base.Path + path
	q := url.Values{}
	q.Set("userId", userID.String())
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// ConfirmationMail renders the confirmation notification for a link.
func ConfirmationMail(link string) (subject, body string) {
	return "Please confirm your account",
		fmt.Sprintf("Follow this link to confirm your account: %s", link)
}

// ResetMail renders the password-reset notification for a link.
func ResetMail(link string) (subject, body string) {
	return "Reset your password",
		fmt.Sprintf("Follow this link to reset your password: %s", link)
}
