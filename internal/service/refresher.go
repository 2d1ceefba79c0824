package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/limitorder/internal/domain"
)

// DefaultRefreshInterval is how often wallet state is polled.
const DefaultRefreshInterval = 10 * time.Second

// Refresher keeps the session store's copy of each watched wallet's open
// orders, pending settlements and balances current. It only writes the
// session store; attempts in flight work from what they captured.
type Refresher struct {
	feed     Feed
	sessions domain.SessionStore
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	wallets map[common.Address]struct{}
}

// NewRefresher creates a Refresher polling every interval.
func NewRefresher(feed Feed, sessions domain.SessionStore, interval time.Duration, logger *slog.Logger) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Refresher{
		feed:     feed,
		sessions: sessions,
		interval: interval,
		logger:   logger.With(slog.String("component", "refresher")),
		now:      func() time.Time { return time.Now().UTC() },
		wallets:  make(map[common.Address]struct{}),
	}
}

// Watch adds wallet to the polled set.
func (r *Refresher) Watch(wallet common.Address) {
	r.mu.Lock()
	r.wallets[wallet] = struct{}{}
	r.mu.Unlock()
}

// Unwatch removes wallet from the polled set.
func (r *Refresher) Unwatch(wallet common.Address) {
	r.mu.Lock()
	delete(r.wallets, wallet)
	r.mu.Unlock()
}

// Wallets returns the watched wallets in a stable order.
func (r *Refresher) Wallets() []common.Address {
	r.mu.RLock()
	out := make([]common.Address, 0, len(r.wallets))
	for w := range r.wallets {
		out = append(out, w)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out
}

// Run refreshes once immediately and then on every tick until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	r.RefreshAll(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.RefreshAll(ctx)
		}
	}
}

// RefreshAll refreshes every watched wallet. Failures are logged per wallet.
func (r *Refresher) RefreshAll(ctx context.Context) {
	for _, w := range r.Wallets() {
		if err := r.Refresh(ctx, w); err != nil {
			r.logger.WarnContext(ctx, "refresher: refresh failed",
				slog.String("wallet", w.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Refresh fetches and stores one wallet's state. Each part is stored as
// soon as it arrives; the returned error joins every part that failed.
func (r *Refresher) Refresh(ctx context.Context, wallet common.Address) error {
	var errs []error

	since := r.now()
	if open, err := r.feed.OpenOrders(ctx, wallet, common.Address{}, common.Address{}); err != nil {
		errs = append(errs, err)
	} else if err := r.sessions.SaveOpenOrders(ctx, wallet, r.mergeOpen(ctx, wallet, open, since)); err != nil {
		errs = append(errs, err)
	}

	if pending, err := r.feed.PendingSettlements(ctx, wallet); err != nil {
		errs = append(errs, err)
	} else if err := r.sessions.SaveSettlements(ctx, wallet, pending); err != nil {
		errs = append(errs, err)
	}

	if snap, err := r.feed.Balances(ctx, wallet); err != nil {
		errs = append(errs, err)
	} else if err := r.sessions.SaveBalances(ctx, snap); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		r.logger.DebugContext(ctx, "refresher: wallet refreshed",
			slog.String("wallet", wallet.Hex()),
		)
	}
	return errors.Join(errs...)
}

// mergeOpen adds to fetched the cached orders that became reserving after
// the fetch started, such as an order accepted meanwhile. Older cached
// orders missing from fetched are gone on the exchange and are dropped.
func (r *Refresher) mergeOpen(ctx context.Context, wallet common.Address, fetched []domain.Order, since time.Time) []domain.Order {
	cached, err := r.sessions.OpenOrders(ctx, wallet)
	if err != nil {
		return fetched
	}
	seen := make(map[string]struct{}, len(fetched))
	for _, o := range fetched {
		seen[o.ID] = struct{}{}
	}
	merged := fetched
	for _, o := range cached {
		if _, ok := seen[o.ID]; ok || !o.State.Reserving() || o.UpdatedAt.Before(since) {
			continue
		}
		merged = append(merged, o)
	}
	return merged
}
