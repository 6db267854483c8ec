// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package mailer

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{From: "noreply@example.com"})
	require.Error(t, err, "missing host must fail")

	_, err = New(Config{Host: "mail.example.com"})
	require.Error(t, err, "missing from must fail")

	n, err := New(Config{Host: "mail.example.com", From: "noreply@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 587, n.cfg.Port, "default port")
}

func TestSend_BuildsMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	n, err := New(
		Config{Host: "mail.example.com", Port: 2525, From: "noreply@example.com"},
		WithSendFunc(func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
			gotAddr = addr
			gotFrom = from
			gotTo = to
			gotMsg = msg
			return nil
		}),
	)
	require.NoError(t, err)

	err = n.Send(context.Background(), "user@example.com", "Reset your password", "Follow this link: https://example.com/reset")
	require.NoError(t, err)

	assert.Equal(t, "mail.example.com:2525", gotAddr)
	assert.Equal(t, "noreply@example.com", gotFrom)
	assert.Equal(t, []string{"user@example.com"}, gotTo)

	msg := string(gotMsg)
	assert.Contains(t, msg, "From: noreply@example.com\r\n")
	assert.Contains(t, msg, "To: user@example.com\r\n")
	assert.Contains(t, msg, "Subject: Reset your password\r\n")
	assert.Contains(t, msg, "Follow this link: https://example.com/reset")
}

func TestSend_RetriesTransientFailures(t *testing.T) {
	attempts := 0
	n, err := New(
		Config{Host: "mail.example.com", From: "noreply@example.com"},
		WithSendFunc(func(string, smtp.Auth, string, []string, []byte) error {
			attempts++
			if attempts < 3 {
				return errors.New("connection reset")
			}
			return nil
		}),
	)
	require.NoError(t, err)

	err = n.Send(context.Background(), "user@example.com", "subject", "body")
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestSend_GivesUpAfterMaxRetries(t *testing.T) {
	attempts := 0
	n, err := New(
		Config{Host: "mail.example.com", From: "noreply@example.com"},
		WithSendFunc(func(string, smtp.Auth, string, []string, []byte) error {
			attempts++
			return errors.New("mailbox unavailable")
		}),
	)
	require.NoError(t, err)

	err = n.Send(context.Background(), "user@example.com", "subject", "body")
	require.Error(t, err)
	assert.Equal(t, maxRetries+1, attempts)
}
