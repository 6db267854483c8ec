// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package observability

import (
	"context"

	"github.com/sigil/sigil/internal/identity"
)

// InstrumentedNotifier wraps a notifier and counts deliveries by status.
type InstrumentedNotifier struct {
	next    identity.Notifier
	metrics *Metrics
}

// NewInstrumentedNotifier wraps next with delivery counters. metrics may be
// nil, in which case the wrapper is a pass-through.
func NewInstrumentedNotifier(next identity.Notifier, metrics *Metrics) *InstrumentedNotifier {
	return &InstrumentedNotifier{next: next, metrics: metrics}
}

// Send delegates to the wrapped notifier and records the outcome.
func (n *InstrumentedNotifier) Send(ctx context.Context, to, subject, body string) error {
	err := n.next.Send(ctx, to, subject, body)
	if n.metrics != nil {
		status := "sent"
		if err != nil {
			status = "failed"
		}
		n.metrics.NotificationsTotal.WithLabelValues(status).Inc()
	}
	return err
}

// Compile-time interface check.
var _ identity.Notifier = (*InstrumentedNotifier)(nil)
