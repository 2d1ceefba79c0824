package service_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/limitorder/internal/domain"
	"github.com/alanyoungcy/limitorder/internal/service"
)

func storedOrder(t *testing.T, id string, state domain.OrderState) domain.Order {
	o := conflicting(t)
	o.ID = id
	o.State = state
	return o
}

func TestApplyStatusFollowsLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newMemOrders(storedOrder(t, "o-1", domain.OrderStateOpen))
	sessions := newMemSessions()
	sessions.open[wallet] = []domain.Order{storedOrder(t, "o-1", domain.OrderStateOpen)}
	audit := &memAudit{}
	svc := service.NewOrderService(store, newFakeExchange(), sessions, nil, audit, nil, discard())
	at := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	steps := []struct {
		state   domain.OrderState
		wantErr error
	}{
		{domain.OrderStateInProgress, nil},
		{domain.OrderStateInProgress, nil},
		{domain.OrderStateOpen, domain.ErrInvalidTransition},
		{domain.OrderStateFilled, nil},
		{domain.OrderStateCancelled, domain.ErrInvalidTransition},
	}
	for i, s := range steps {
		err := svc.ApplyStatus(ctx, "o-1", s.state, "", at)
		if !errors.Is(err, s.wantErr) {
			t.Fatalf("step %d ApplyStatus(%s) = %v, want %v", i, s.state, err, s.wantErr)
		}
	}

	if got := store.get(t, "o-1").State; got != domain.OrderStateFilled {
		t.Errorf("final state = %s, want filled", got)
	}
	if open, _ := sessions.OpenOrders(ctx, wallet); len(open) != 0 {
		t.Errorf("filled order still cached as open: %v", open)
	}
	if len(audit.events) != 2 {
		t.Errorf("audit events = %v, want one per applied transition", audit.events)
	}
}

func TestApplyStatusUnknownOrder(t *testing.T) {
	svc := service.NewOrderService(newMemOrders(), newFakeExchange(), nil, nil, nil, nil, discard())
	err := svc.ApplyStatus(context.Background(), "missing", domain.OrderStateFilled, "", time.Time{})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ApplyStatus = %v, want ErrNotFound", err)
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("stored order", func(t *testing.T) {
		store := newMemOrders(storedOrder(t, "o-1", domain.OrderStateInProgress))
		ex := newFakeExchange()
		svc := service.NewOrderService(store, ex, newMemSessions(), nil, nil, nil, discard())

		o, err := svc.Cancel(ctx, wallet, "o-1")
		if err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if o.State != domain.OrderStateCancelled || store.get(t, "o-1").State != domain.OrderStateCancelled {
			t.Errorf("state = %s, want cancelled", o.State)
		}
		if len(ex.cancelled) != 1 {
			t.Errorf("exchange cancellations = %v", ex.cancelled)
		}

		if _, err := svc.Cancel(ctx, wallet, "o-1"); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("second Cancel = %v, want ErrInvalidTransition", err)
		}
		if len(ex.cancelled) != 1 {
			t.Errorf("terminal order sent to exchange again")
		}
	})

	t.Run("session only order", func(t *testing.T) {
		sessions := newMemSessions()
		sessions.open[wallet] = []domain.Order{storedOrder(t, "ext-1", domain.OrderStateOpen)}
		svc := service.NewOrderService(newMemOrders(), newFakeExchange(), sessions, nil, nil, nil, discard())

		if _, err := svc.Cancel(ctx, wallet, "ext-1"); err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if open, _ := sessions.OpenOrders(ctx, wallet); len(open) != 0 {
			t.Errorf("cancelled order still cached: %v", open)
		}
	})

	t.Run("other wallet", func(t *testing.T) {
		store := newMemOrders(storedOrder(t, "o-1", domain.OrderStateOpen))
		svc := service.NewOrderService(store, newFakeExchange(), nil, nil, nil, nil, discard())
		if _, err := svc.Cancel(ctx, other, "o-1"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Cancel by other wallet = %v, want ErrNotFound", err)
		}
	})

	t.Run("refused", func(t *testing.T) {
		store := newMemOrders(storedOrder(t, "o-1", domain.OrderStateOpen))
		ex := newFakeExchange()
		ex.cancelAck = false
		svc := service.NewOrderService(store, ex, nil, nil, nil, nil, discard())

		if _, err := svc.Cancel(ctx, wallet, "o-1"); !errors.Is(err, service.ErrCancelRefused) {
			t.Fatalf("Cancel = %v, want ErrCancelRefused", err)
		}
		if store.get(t, "o-1").State != domain.OrderStateOpen {
			t.Error("refused cancellation changed the stored state")
		}
	})
}

func TestOpenListsReservingOrders(t *testing.T) {
	store := newMemOrders(
		storedOrder(t, "a", domain.OrderStateOpen),
		storedOrder(t, "b", domain.OrderStateInProgress),
		storedOrder(t, "c", domain.OrderStateFilled),
	)
	svc := service.NewOrderService(store, newFakeExchange(), nil, nil, nil, nil, discard())

	open, err := svc.Open(context.Background(), wallet)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(open) != 2 {
		t.Errorf("Open returned %d orders, want 2", len(open))
	}
}

func TestRefreshWritesSession(t *testing.T) {
	ctx := context.Background()
	ex := newFakeExchange()
	ex.open = []domain.Order{storedOrder(t, "o-1", domain.OrderStateOpen)}
	ex.pending = domain.PendingSettlements{"WETH": 0.25}
	ex.balances = domain.BalanceSnapshot{Balances: map[common.Address]*big.Int{knc.Address: big.NewInt(7)}}
	sessions := newMemSessions()

	r := service.NewRefresher(ex, sessions, time.Second, discard())
	r.Watch(wallet)
	r.Watch(other)
	r.Unwatch(other)
	if got := r.Wallets(); len(got) != 1 || got[0] != wallet {
		t.Fatalf("Wallets() = %v, want [%s]", got, wallet.Hex())
	}
	r.RefreshAll(ctx)

	open, err := sessions.OpenOrders(ctx, wallet)
	if err != nil || len(open) != 1 {
		t.Errorf("open orders = %v, %v", open, err)
	}
	if p, _ := sessions.Settlements(ctx, wallet); p["WETH"] != 0.25 {
		t.Errorf("settlements = %v", p)
	}
	if snap, _ := sessions.Balances(ctx, wallet); snap.Of(knc.Address).Int64() != 7 {
		t.Errorf("balances = %v", snap.Balances)
	}
}

func TestRefreshKeepsPartialResults(t *testing.T) {
	ctx := context.Background()
	ex := newFakeExchange()
	ex.open = []domain.Order{storedOrder(t, "o-1", domain.OrderStateOpen)}
	ex.balErr = errors.New("upstream down")
	sessions := newMemSessions()

	err := service.NewRefresher(ex, sessions, 0, discard()).Refresh(ctx, wallet)
	if err == nil {
		t.Fatal("Refresh returned nil despite a failed part")
	}
	if open, _ := sessions.OpenOrders(ctx, wallet); len(open) != 1 {
		t.Errorf("open orders not stored alongside the failure")
	}
	if _, err := sessions.Balances(ctx, wallet); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("balances stored from a failed fetch")
	}
}

// slowFeed runs during after the open orders were read and before they are
// returned.
type slowFeed struct {
	*fakeExchange
	during func()
}

func (f slowFeed) OpenOrders(ctx context.Context, w, src, dest common.Address) ([]domain.Order, error) {
	open, err := f.fakeExchange.OpenOrders(ctx, w, src, dest)
	f.during()
	return open, err
}

func TestRefreshKeepsOrderAcceptedDuringFetch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	gone := storedOrder(t, "gone-1", domain.OrderStateOpen)
	gone.Src, gone.Dest = weth, knc
	gone.TargetRate = units(t, "2000", knc)
	gone.UpdatedAt = time.Now().Add(-time.Hour)
	e.sessions.open[wallet] = []domain.Order{gone}
	e.ex.open = []domain.Order{storedOrder(t, "o-1", domain.OrderStateOpen)}

	feed := slowFeed{fakeExchange: e.ex, during: func() {
		if _, err := e.coord.Submit(ctx, orderForm(t, knc, weth, domain.OrderSideSell, "10", "0.5")); err != nil {
			t.Errorf("Submit: %v", err)
		}
	}}
	if err := service.NewRefresher(feed, e.sessions, 0, discard()).Refresh(ctx, wallet); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	open, _ := e.sessions.OpenOrders(ctx, wallet)
	ids := make(map[string]bool, len(open))
	for _, o := range open {
		ids[o.ID] = true
	}
	if len(open) != 2 || !ids["o-1"] || !ids["srv-1"] {
		t.Errorf("session open orders = %v, want o-1 and srv-1", ids)
	}
}

// memRates is an in-memory domain.RateCache.
type memRates struct {
	rates map[[2]common.Address]*big.Int
}

func (m *memRates) GetRate(_ context.Context, src, dest common.Address) (*big.Int, error) {
	r, ok := m.rates[[2]common.Address{src, dest}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r, nil
}

func (m *memRates) SetRate(_ context.Context, src, dest common.Address, rate *big.Int, _ time.Duration) error {
	m.rates[[2]common.Address{src, dest}] = rate
	return nil
}

func TestReferenceRateReadThrough(t *testing.T) {
	ctx := context.Background()
	ex := newFakeExchange()
	ex.reference = units(t, "0.002", eth)
	cache := &memRates{rates: map[[2]common.Address]*big.Int{}}
	rates := service.NewRates(ex, cache, time.Minute, discard())

	for i := 0; i < 2; i++ {
		got, err := rates.Reference(ctx, knc, eth)
		if err != nil {
			t.Fatalf("Reference: %v", err)
		}
		if got.String() != "0.002" {
			t.Errorf("Reference = %s, want 0.002", got)
		}
	}
	if ex.refCalls != 1 {
		t.Errorf("feed called %d times, want 1", ex.refCalls)
	}
}

func TestReferenceRateZeroNotCached(t *testing.T) {
	ctx := context.Background()
	ex := newFakeExchange()
	cache := &memRates{rates: map[[2]common.Address]*big.Int{}}
	rates := service.NewRates(ex, cache, time.Minute, discard())

	got, err := rates.Reference(ctx, knc, eth)
	if err != nil || !got.IsZero() {
		t.Fatalf("Reference = %s, %v; want zero", got, err)
	}
	if len(cache.rates) != 0 {
		t.Error("unknown rate was cached")
	}
}
