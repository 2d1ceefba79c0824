package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/limitorder/internal/domain"
)

// ErrCancelRefused is returned when the order service does not acknowledge a
// cancellation.
var ErrCancelRefused = errors.New("service: cancellation not acknowledged")

// OrderService owns persisted orders after submission: listing, user
// cancellation and status changes pushed by the exchange.
type OrderService struct {
	orders   domain.OrderStore
	exchange Exchange
	sessions domain.SessionStore
	events   *events
	logger   *slog.Logger
	now      func() time.Time
}

// NewOrderService creates an OrderService. bus, audit and notifier may be
// nil.
func NewOrderService(
	orders domain.OrderStore,
	exchange Exchange,
	sessions domain.SessionStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier Notifier,
	logger *slog.Logger,
) *OrderService {
	logger = logger.With(slog.String("component", "order_service"))
	return &OrderService{
		orders:   orders,
		exchange: exchange,
		sessions: sessions,
		events: &events{
			bus:      bus,
			audit:    audit,
			notifier: notifier,
			metrics:  noopMetrics{},
			logger:   logger,
		},
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithMetrics records order transitions on m.
func (s *OrderService) WithMetrics(m Metrics) *OrderService {
	if m != nil {
		s.events.metrics = m
	}
	return s
}

// Get retrieves a single order by its ID.
func (s *OrderService) Get(ctx context.Context, id string) (domain.Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: get order %q: %w", id, err)
	}
	return o, nil
}

// List returns persisted orders matching filter.
func (s *OrderService) List(ctx context.Context, filter domain.OrderFilter, opts domain.ListOpts) ([]domain.Order, error) {
	orders, err := s.orders.List(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("order_service: list orders: %w", err)
	}
	return orders, nil
}

// Open returns wallet's open and in-progress orders.
func (s *OrderService) Open(ctx context.Context, wallet common.Address) ([]domain.Order, error) {
	return s.List(ctx, domain.OrderFilter{
		Wallet: wallet,
		States: []domain.OrderState{domain.OrderStateOpen, domain.OrderStateInProgress},
	}, domain.ListOpts{})
}

// Cancel cancels wallet's order id. The order is looked up in the store
// first and then in the wallet's session open orders, since orders placed
// from elsewhere are only known to the exchange.
func (s *OrderService) Cancel(ctx context.Context, wallet common.Address, id string) (domain.Order, error) {
	o, err := s.lookup(ctx, wallet, id)
	if err != nil {
		return domain.Order{}, err
	}
	return s.cancel(ctx, wallet, o)
}

func (s *OrderService) lookup(ctx context.Context, wallet common.Address, id string) (domain.Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err == nil {
		if o.Sender != wallet {
			return domain.Order{}, fmt.Errorf("order_service: order %q: %w", id, domain.ErrNotFound)
		}
		return o, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Order{}, fmt.Errorf("order_service: get order %q: %w", id, err)
	}
	if s.sessions != nil {
		open, serr := s.sessions.OpenOrders(ctx, wallet)
		if serr == nil {
			for _, cand := range open {
				if cand.ID == id {
					return cand, nil
				}
			}
		}
	}
	return domain.Order{}, fmt.Errorf("order_service: order %q: %w", id, domain.ErrNotFound)
}

func (s *OrderService) cancel(ctx context.Context, wallet common.Address, o domain.Order) (domain.Order, error) {
	next, err := o.Transition(domain.OrderStateCancelled, s.now())
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: cancel %q: %w", o.ID, err)
	}

	ack, err := s.exchange.CancelOrder(ctx, wallet, o.ID)
	if err != nil {
		return domain.Order{}, domain.TransientNetworkError{Step: "cancel_order", Err: err}
	}
	if !ack {
		return domain.Order{}, fmt.Errorf("order_service: cancel %q: %w", o.ID, ErrCancelRefused)
	}

	next.Reason = "cancelled by user"
	if err := s.orders.UpdateState(ctx, next.ID, next.State, next.Reason); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "order_service: persist cancellation failed",
			slog.String("order_id", next.ID),
			slog.String("error", err.Error()),
		)
	}
	s.dropOpen(ctx, wallet, next.ID)
	s.events.emit(ctx, domain.OrderEventCancelled, next, next.UpdatedAt)

	s.logger.InfoContext(ctx, "order_service: order cancelled",
		slog.String("order_id", next.ID),
		slog.String("wallet", wallet.Hex()),
	)
	return next, nil
}

// ApplyStatus moves a persisted order to the state reported by the
// exchange. Repeated reports of the current state are ignored; transitions
// the lifecycle does not allow are refused.
func (s *OrderService) ApplyStatus(ctx context.Context, id string, state domain.OrderState, reason string, at time.Time) error {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("order_service: status for %q: %w", id, err)
	}
	if o.State == state {
		return nil
	}
	if at.IsZero() {
		at = s.now()
	}
	next, err := o.Transition(state, at)
	if err != nil {
		s.logger.WarnContext(ctx, "order_service: refusing status update",
			slog.String("order_id", id),
			slog.String("from", string(o.State)),
			slog.String("to", string(state)),
		)
		return fmt.Errorf("order_service: status for %q: %w", id, err)
	}
	next.Reason = reason
	if err := s.orders.UpdateState(ctx, id, next.State, reason); err != nil {
		return fmt.Errorf("order_service: status for %q: %w", id, err)
	}
	if next.State.Terminal() {
		s.dropOpen(ctx, next.Sender, id)
	}

	typ := domain.OrderEventUpdated
	switch next.State {
	case domain.OrderStateCancelled:
		typ = domain.OrderEventCancelled
	case domain.OrderStateRejected:
		typ = domain.OrderEventRejected
	}
	s.events.emit(ctx, typ, next, at)

	s.logger.InfoContext(ctx, "order_service: order status updated",
		slog.String("order_id", id),
		slog.String("state", string(next.State)),
	)
	return nil
}

// record persists a freshly submitted order and announces it.
func (s *OrderService) record(ctx context.Context, o domain.Order, typ string) {
	if err := s.orders.Create(ctx, o); err != nil {
		s.logger.ErrorContext(ctx, "order_service: persist order failed",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
	}
	s.events.emit(ctx, typ, o, o.UpdatedAt)
}

// dropOpen removes id from wallet's cached open orders.
func (s *OrderService) dropOpen(ctx context.Context, wallet common.Address, id string) {
	if s.sessions == nil {
		return
	}
	open, err := s.sessions.OpenOrders(ctx, wallet)
	if err != nil {
		return
	}
	kept := make([]domain.Order, 0, len(open))
	for _, o := range open {
		if o.ID != id {
			kept = append(kept, o)
		}
	}
	if len(kept) == len(open) {
		return
	}
	if err := s.sessions.SaveOpenOrders(ctx, wallet, kept); err != nil {
		s.logger.WarnContext(ctx, "order_service: update session open orders failed",
			slog.String("wallet", wallet.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

// addOpen appends o to wallet's cached open orders.
func (s *OrderService) addOpen(ctx context.Context, wallet common.Address, o domain.Order) {
	if s.sessions == nil {
		return
	}
	open, err := s.sessions.OpenOrders(ctx, wallet)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return
	}
	updated := make([]domain.Order, 0, len(open)+1)
	updated = append(updated, open...)
	if err := s.sessions.SaveOpenOrders(ctx, wallet, append(updated, o)); err != nil {
		s.logger.WarnContext(ctx, "order_service: update session open orders failed",
			slog.String("wallet", wallet.Hex()),
			slog.String("error", err.Error()),
		)
	}
}
