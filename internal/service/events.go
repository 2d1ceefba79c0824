package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/limitorder/internal/domain"
)

// events fans an order change out to the bus, the durable stream, the audit
// log and the notifier. Every sink is optional and a failing sink is logged,
// never returned: the order change has already happened.
type events struct {
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier Notifier
	metrics  Metrics
	logger   *slog.Logger
}

func (e *events) emit(ctx context.Context, typ string, o domain.Order, at time.Time) {
	evt := domain.OrderEvent{Type: typ, Order: o, At: at}
	e.metrics.ObserveTransition(o.State)

	if e.bus != nil {
		payload, err := json.Marshal(evt)
		if err != nil {
			e.logger.ErrorContext(ctx, "service: marshal order event",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
		} else {
			if err := e.bus.Publish(ctx, domain.ChannelOrders, payload); err != nil {
				e.logger.WarnContext(ctx, "service: publish order event failed",
					slog.String("order_id", o.ID),
					slog.String("error", err.Error()),
				)
			}
			if err := e.bus.StreamAppend(ctx, domain.StreamOrders, payload); err != nil {
				e.logger.WarnContext(ctx, "service: append order stream failed",
					slog.String("order_id", o.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if e.audit != nil {
		detail := map[string]any{
			"order_id": o.ID,
			"wallet":   o.Sender.Hex(),
			"src":      o.Src.Symbol,
			"dest":     o.Dest.Symbol,
			"side":     string(o.Side),
			"state":    string(o.State),
			"amount":   o.Amount().String(),
			"rate":     o.Rate().String(),
		}
		if o.Reason != "" {
			detail["reason"] = o.Reason
		}
		if err := e.audit.Log(ctx, typ, detail); err != nil {
			e.logger.WarnContext(ctx, "service: audit log failed",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if e.notifier != nil {
		if err := e.notifier.NotifyOrder(ctx, evt); err != nil {
			e.logger.WarnContext(ctx, "service: notify failed",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}
