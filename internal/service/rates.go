package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/limitorder/internal/domain"
)

// Rates serves market and reference rates as Amounts scaled by the quote
// token's decimals. Reference rates are read through a cache; market rates
// are always live.
type Rates struct {
	feed   RateFeed
	cache  domain.RateCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewRates creates a Rates. cache may be nil.
func NewRates(feed RateFeed, cache domain.RateCache, ttl time.Duration, logger *slog.Logger) *Rates {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Rates{
		feed:   feed,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "rates")),
	}
}

// Market returns the live price of src in dest. Zero means unknown.
func (r *Rates) Market(ctx context.Context, src, dest domain.Token) (domain.Amount, error) {
	raw, err := r.feed.MarketRate(ctx, src.Address, dest.Address)
	if err != nil {
		return domain.Amount{}, fmt.Errorf("rates: market %s/%s: %w", src.Symbol, dest.Symbol, err)
	}
	return domain.NewAmount(raw, dest.Decimals), nil
}

// Reference returns the cached production price of src in quote, usually
// the native token. Zero means unknown and is never cached.
func (r *Rates) Reference(ctx context.Context, src, quote domain.Token) (domain.Amount, error) {
	if r.cache != nil {
		raw, err := r.cache.GetRate(ctx, src.Address, quote.Address)
		switch {
		case err == nil:
			return domain.NewAmount(raw, quote.Decimals), nil
		case !errors.Is(err, domain.ErrNotFound):
			r.logger.WarnContext(ctx, "rates: cache read failed",
				slog.String("pair", src.Symbol+"/"+quote.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	raw, err := r.feed.ReferenceRate(ctx, src.Address, quote.Address)
	if err != nil {
		return domain.Amount{}, fmt.Errorf("rates: reference %s/%s: %w", src.Symbol, quote.Symbol, err)
	}
	if r.cache != nil && raw != nil && raw.Sign() > 0 {
		if err := r.cache.SetRate(ctx, src.Address, quote.Address, raw, r.ttl); err != nil {
			r.logger.WarnContext(ctx, "rates: cache write failed",
				slog.String("pair", src.Symbol+"/"+quote.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	return domain.NewAmount(raw, quote.Decimals), nil
}
