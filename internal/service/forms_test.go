package service_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/limitorder/internal/domain"
	"github.com/alanyoungcy/limitorder/internal/form"
	"github.com/alanyoungcy/limitorder/internal/service"
)

func newForms(t *testing.T, ex *fakeExchange, sessions *memSessions) *service.Forms {
	t.Helper()
	tokens := domain.NewTokenRegistry([]domain.Token{eth, weth, knc})
	cache := &memRates{rates: map[[2]common.Address]*big.Int{}}
	rates := service.NewRates(ex, cache, time.Minute, discard())
	return service.NewForms(tokens, sessions, rates, ex, testLimits(t), discard())
}

func TestFormsOpenLoadsSessionAndRates(t *testing.T) {
	ctx := context.Background()
	ex := newFakeExchange()
	ex.market = units(t, "0.5", weth)
	ex.reference = units(t, "0.002", eth)
	sessions := newMemSessions()
	_ = sessions.SaveBalances(ctx, domain.BalanceSnapshot{
		Wallet:   wallet,
		Balances: map[common.Address]*big.Int{knc.Address: units(t, "100", knc)},
	})

	st, err := newForms(t, ex, sessions).Open(ctx, wallet, "knc", "WETH", domain.OrderSideSell)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st.Available.String() != "100" {
		t.Errorf("Available = %s, want 100", st.Available)
	}
	if st.MarketRate.String() != "0.5" {
		t.Errorf("MarketRate = %s, want 0.5", st.MarketRate)
	}
	if st.ReferenceRate.String() != "0.002" {
		t.Errorf("ReferenceRate = %s, want 0.002", st.ReferenceRate)
	}
	if st.Error != "" {
		t.Errorf("empty form carries error %q", st.Error)
	}
}

func TestFormsOpenUnknownToken(t *testing.T) {
	_, err := newForms(t, newFakeExchange(), newMemSessions()).Open(context.Background(), wallet, "DOGE", "WETH", domain.OrderSideSell)
	if !errors.Is(err, domain.ErrUnknownToken) {
		t.Errorf("Open = %v, want ErrUnknownToken", err)
	}
}

func TestFormsApplyFetchesQuoteForAmounts(t *testing.T) {
	ctx := context.Background()
	ex := newFakeExchange()
	sessions := newMemSessions()
	forms := newForms(t, ex, sessions)

	st, err := forms.Open(ctx, wallet, "KNC", "WETH", domain.OrderSideSell)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	st, err = forms.Apply(ctx, st, form.Action{Type: form.ActionEditSource, Text: "10"})
	if err != nil {
		t.Fatalf("Apply source: %v", err)
	}
	if st.Quote != nil {
		t.Fatal("quote fetched before the destination amount is known")
	}

	st, err = forms.Apply(ctx, st, form.Action{Type: form.ActionEditRate, Text: "0.5"})
	if err != nil {
		t.Fatalf("Apply rate: %v", err)
	}
	if st.Quantities.Dest.String() != "5" {
		t.Fatalf("Dest = %s, want 5", st.Quantities.Dest)
	}
	if st.Quote == nil || !st.Quote.Matches(st.QuoteKey()) {
		t.Fatalf("Quote = %+v, want one matching the form", st.Quote)
	}
	saved, err := sessions.Quote(ctx, wallet)
	if err != nil || !saved.Matches(st.QuoteKey()) {
		t.Errorf("session quote = %+v, %v", saved, err)
	}
}

func TestFormsApplyUnknownAction(t *testing.T) {
	forms := newForms(t, newFakeExchange(), newMemSessions())
	st, _ := forms.Open(context.Background(), wallet, "KNC", "WETH", domain.OrderSideSell)
	got, err := forms.Apply(context.Background(), st, form.Action{Type: "teleport"})
	if !errors.Is(err, form.ErrUnknownAction) {
		t.Errorf("Apply = %v, want ErrUnknownAction", err)
	}
	if got.SourceText != st.SourceText {
		t.Error("failed action changed the form")
	}
}
