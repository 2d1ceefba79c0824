// Package notify pushes order lifecycle events to chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/limitorder/internal/domain"
)

// Sender delivers one message to a channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans order events out to every sender. When an event allow-list
// is configured, other event types are dropped.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier builds a Notifier. An empty events list allows everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// NotifyOrder formats evt and sends it if its type is allowed.
func (n *Notifier) NotifyOrder(ctx context.Context, evt domain.OrderEvent) error {
	if len(n.events) > 0 && !n.events[evt.Type] {
		n.logger.DebugContext(ctx, "notify: event filtered out", slog.String("event", evt.Type))
		return nil
	}
	title, msg := FormatOrderEvent(evt)
	return n.dispatch(ctx, title, msg)
}

// NotifyAll sends an operator message, bypassing the filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch tries every sender; one failing does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

var eventTitles = map[string]string{
	domain.OrderEventAccepted:  "Order placed",
	domain.OrderEventRejected:  "Order rejected",
	domain.OrderEventCancelled: "Order cancelled",
	domain.OrderEventUpdated:   "Order updated",
}

// FormatOrderEvent renders a title and a plain-text body for evt.
func FormatOrderEvent(evt domain.OrderEvent) (title, message string) {
	o := evt.Order
	title, ok := eventTitles[evt.Type]
	if !ok {
		title = evt.Type
	}
	title = fmt.Sprintf("%s: %s %s/%s", title, o.Side, o.Src.Symbol, o.Dest.Symbol)

	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\n", o.ID)
	if o.SourceAmount != nil {
		fmt.Fprintf(&b, "amount: %s %s\n", o.Amount().Display(6), o.Src.Symbol)
	}
	if o.TargetRate != nil {
		fmt.Fprintf(&b, "rate: %s %s per %s\n", o.Rate().Display(6), o.Dest.Symbol, o.Src.Symbol)
	}
	fmt.Fprintf(&b, "state: %s", o.State)
	if o.Reason != "" {
		fmt.Fprintf(&b, "\nreason: %s", o.Reason)
	}
	return title, b.String()
}
