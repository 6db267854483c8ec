// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package mailer delivers identity notifications over SMTP.
package mailer

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/sigil/sigil/internal/identity"
)

// Retry settings for transient delivery failures. Delivery is best-effort
// overall; the workflow has already committed by the time Send runs.
const (
	maxRetries   = 3
	retryBackoff = 500 * time.Millisecond
)

// Config holds SMTP connection settings.
type Config struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

// sendFunc matches smtp.SendMail. Injectable for tests.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier implements identity.Notifier over SMTP with retries.
type SMTPNotifier struct {
	cfg  Config
	auth smtp.Auth
	send sendFunc
}

// Option configures an SMTPNotifier.
type Option func(*SMTPNotifier)

// WithSendFunc overrides the SMTP send function. Used by tests.
func WithSendFunc(send sendFunc) Option {
	return func(n *SMTPNotifier) {
		n.send = send
	}
}

// New creates an SMTPNotifier for the given server.
func New(cfg Config, opts ...Option) (*SMTPNotifier, error) {
	if cfg.Host == "" {
		return nil, oops.Code("MAILER_INVALID_CONFIG").Errorf("SMTP host is required")
	}
	if cfg.From == "" {
		return nil, oops.Code("MAILER_INVALID_CONFIG").Errorf("from address is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}

	n := &SMTPNotifier{
		cfg:  cfg,
		send: smtp.SendMail,
	}
	if cfg.Username != "" {
		n.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Send delivers one message, retrying transient failures with exponential
// backoff.
func (n *SMTPNotifier) Send(ctx context.Context, to, subject, body string) error {
	msg := buildMessage(n.cfg.From, to, subject, body)
	addr := net.JoinHostPort(n.cfg.Host, fmt.Sprintf("%d", n.cfg.Port))

	backoff := retry.WithMaxRetries(maxRetries, retry.NewExponential(retryBackoff))
	err := retry.Do(ctx, backoff, func(context.Context) error {
		if sendErr := n.send(addr, n.auth, n.cfg.From, []string{to}, msg); sendErr != nil {
			return retry.RetryableError(sendErr)
		}
		return nil
	})
	if err != nil {
		return oops.Code("MAILER_SEND_FAILED").
			With("operation", "smtp send").
			With("subject", subject).
			Wrap(err)
	}
	return nil
}

// buildMessage renders an RFC 5322 plain-text message.
func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// Compile-time interface check.
var _ identity.Notifier = (*SMTPNotifier)(nil)
