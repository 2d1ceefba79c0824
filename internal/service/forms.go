package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/limitorder/internal/domain"
	"github.com/alanyoungcy/limitorder/internal/engine"
	"github.com/alanyoungcy/limitorder/internal/form"
)

// QuoteSource fetches fee quotes.
type QuoteSource interface {
	FeeQuote(ctx context.Context, key domain.QuoteKey) (domain.FeeQuote, error)
}

// Forms opens order forms and applies user actions to them, feeding in the
// cached session state, rates and fee quotes the reducer cannot fetch by
// itself. Every collaborator is optional and every load is best effort: a
// failed load leaves the form as it was.
type Forms struct {
	tokens   *domain.TokenRegistry
	sessions domain.SessionStore
	rates    *Rates
	quotes   QuoteSource
	limits   engine.Limits
	logger   *slog.Logger
	now      func() time.Time
}

// NewForms creates a Forms.
func NewForms(tokens *domain.TokenRegistry, sessions domain.SessionStore, rates *Rates, quotes QuoteSource, limits engine.Limits, logger *slog.Logger) *Forms {
	return &Forms{
		tokens:   tokens,
		sessions: sessions,
		rates:    rates,
		quotes:   quotes,
		limits:   limits,
		logger:   logger.With(slog.String("component", "forms")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Open returns a fresh form for wallet trading src for dest, with the
// wallet's cached balances and open orders and the pair's rates loaded.
func (f *Forms) Open(ctx context.Context, wallet common.Address, src, dest string, side domain.OrderSide) (form.State, error) {
	if !side.Valid() {
		return form.State{}, fmt.Errorf("forms: side %q: %w", side, form.ErrUnknownAction)
	}
	srcTok, ok := f.tokens.BySymbol(src)
	if !ok {
		return form.State{}, fmt.Errorf("forms: %s: %w", src, domain.ErrUnknownToken)
	}
	destTok, ok := f.tokens.BySymbol(dest)
	if !ok {
		return form.State{}, fmt.Errorf("forms: %s: %w", dest, domain.ErrUnknownToken)
	}

	st := form.Recompute(form.New(wallet, srcTok, destTok, side), f.limits)
	st = f.loadSession(ctx, st)
	st = f.loadRates(ctx, st)
	return st, nil
}

// Apply reduces a onto st. Switching wallet reloads the session state and
// changing the pair reloads the rates. A quote is fetched whenever the
// form's amounts no longer match the quote it holds.
func (f *Forms) Apply(ctx context.Context, st form.State, a form.Action) (form.State, error) {
	next, err := form.Reduce(st, a, f.limits)
	if err != nil {
		return st, err
	}
	switch a.Type {
	case form.ActionSwitchWallet:
		next = f.loadSession(ctx, next)
	case form.ActionSetPair:
		next = f.loadRates(ctx, next)
	}
	return f.loadQuote(ctx, next), nil
}

func (f *Forms) loadSession(ctx context.Context, st form.State) form.State {
	if f.sessions == nil {
		return st
	}
	if snap, err := f.sessions.Balances(ctx, st.Wallet); err == nil {
		st = f.reduce(st, form.Action{Type: form.ActionBalancesLoaded, Balances: &snap})
	} else {
		f.warnLoad(ctx, "balances", st.Wallet, err)
	}
	if open, err := f.sessions.OpenOrders(ctx, st.Wallet); err == nil {
		st = f.reduce(st, form.Action{Type: form.ActionOpenOrdersLoaded, Orders: open})
	} else {
		f.warnLoad(ctx, "open orders", st.Wallet, err)
	}
	if q, err := f.sessions.Quote(ctx, st.Wallet); err == nil && q.Matches(st.QuoteKey()) {
		st = f.reduce(st, form.Action{Type: form.ActionQuoteLoaded, Quote: &q})
	}
	return st
}

func (f *Forms) loadRates(ctx context.Context, st form.State) form.State {
	if f.rates == nil {
		return st
	}
	if rate, err := f.rates.Market(ctx, st.Src, st.Dest); err == nil {
		st = f.reduce(st, form.Action{Type: form.ActionMarketRateLoaded, Rate: &rate})
	} else {
		f.logger.WarnContext(ctx, "forms: market rate unavailable", slog.String("error", err.Error()))
	}

	if st.Src.EthEquivalent() {
		return st
	}
	native, ok := f.tokens.Native()
	if !ok {
		return st
	}
	if rate, err := f.rates.Reference(ctx, st.Src, native); err == nil {
		st = f.reduce(st, form.Action{Type: form.ActionReferenceRateLoaded, Rate: &rate})
	} else {
		f.logger.WarnContext(ctx, "forms: reference rate unavailable", slog.String("error", err.Error()))
	}
	return st
}

// loadQuote fetches a quote for the form's current amounts. A form with an
// empty amount keeps no quote.
func (f *Forms) loadQuote(ctx context.Context, st form.State) form.State {
	if f.quotes == nil || st.Quantities.Source.Sign() <= 0 || st.Quantities.Dest.Sign() <= 0 {
		return st
	}
	key := st.QuoteKey()
	if st.Quote != nil && st.Quote.Matches(key) {
		return st
	}
	quote, err := f.quotes.FeeQuote(ctx, key)
	if err != nil {
		f.logger.WarnContext(ctx, "forms: fee quote failed",
			slog.String("wallet", st.Wallet.Hex()),
			slog.String("error", err.Error()),
		)
		return st
	}
	qf := domain.QuotedFee{Key: key, Quote: quote, FetchedAt: f.now()}
	if f.sessions != nil {
		if err := f.sessions.SaveQuote(ctx, qf); err != nil {
			f.logger.WarnContext(ctx, "forms: save quote failed",
				slog.String("wallet", st.Wallet.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	return f.reduce(st, form.Action{Type: form.ActionQuoteLoaded, Quote: &qf})
}

// reduce applies a loader action. Loader actions never fail.
func (f *Forms) reduce(st form.State, a form.Action) form.State {
	next, err := form.Reduce(st, a, f.limits)
	if err != nil {
		return st
	}
	return next
}

func (f *Forms) warnLoad(ctx context.Context, what string, wallet common.Address, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		return
	}
	f.logger.WarnContext(ctx, "forms: load "+what+" failed",
		slog.String("wallet", wallet.Hex()),
		slog.String("error", err.Error()),
	)
}
