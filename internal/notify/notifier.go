// Package notify escalates trading events to operators. Alerts carry the
// event type plus structured fields (coin, venues, amounts, drift) and are
// dispatched to all registered senders (Telegram, Discord), filtered by the
// event types the config selects.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Event types emitted by the trading engine. The config's notify.events list
// selects which of these reach operators.
const (
	EventPendingFailed     = "pending_failed"
	EventReconcileMismatch = "reconcile_mismatch"
	EventVenueDisconnected = "venue_disconnected"
	EventCoinPaused        = "coin_paused"
)

// Field is one structured key/value pair attached to an alert, rendered by
// each sender in its channel's native format.
type Field struct {
	Key   string
	Value string
}

// Alert is a single operator notification.
type Alert struct {
	Event   string
	Title   string
	Message string
	Fields  []Field
	Time    time.Time
}

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers the alert over the channel.
	Send(ctx context.Context, a Alert) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches alerts to one or more Senders. It maintains a set of
// allowed event types; Notify only forwards alerts whose event type is in the
// allowed set, while NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in the events slice will be forwarded by Notify.
// If events is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends an alert to all senders only if the event type is in the
// allowed list. If no events were configured (empty list), all events pass.
func (n *Notifier) Notify(ctx context.Context, event, title, message string, fields ...Field) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}

	return n.dispatch(ctx, Alert{
		Event:   event,
		Title:   title,
		Message: message,
		Fields:  fields,
		Time:    time.Now().UTC(),
	})
}

// NotifyAll sends an alert to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string, fields ...Field) error {
	return n.dispatch(ctx, Alert{
		Title:   title,
		Message: message,
		Fields:  fields,
		Time:    time.Now().UTC(),
	})
}

// dispatch iterates over all senders and delivers the alert. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, a Alert) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, a); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "alert sent",
				slog.String("sender", s.Name()),
				slog.String("event", a.Event),
				slog.String("title", a.Title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
