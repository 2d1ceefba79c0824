package form_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/limitorder/internal/domain"
	"github.com/alanyoungcy/limitorder/internal/engine"
	"github.com/alanyoungcy/limitorder/internal/form"
)

var (
	wallet = common.HexToAddress("0x1111111111111111111111111111111111111111")
	other  = common.HexToAddress("0x2222222222222222222222222222222222222222")

	eth  = domain.Token{Address: domain.NativeAddress, Symbol: "ETH", Decimals: 18, Native: true}
	weth = domain.Token{Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Symbol: "WETH", Decimals: 18, WrappedNative: true}
	knc  = domain.Token{Address: common.HexToAddress("0xdd974D5C2e2928deA5F71b9825b8b646686BD200"), Symbol: "KNC", Decimals: 18}
	usdc = domain.Token{Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Symbol: "USDC", Decimals: 6}
)

func limits(t *testing.T) engine.Limits {
	t.Helper()
	lo, _ := eth.Parse("0.001")
	hi, _ := eth.Parse("10")
	return engine.Limits{MinNotional: lo, MaxNotional: hi, RateCeilingMultiplier: 10}
}

func apply(t *testing.T, s form.State, actions ...form.Action) form.State {
	t.Helper()
	for _, a := range actions {
		var err error
		s, err = form.Reduce(s, a, limits(t))
		if err != nil {
			t.Fatalf("Reduce(%s): %v", a.Type, err)
		}
	}
	return s
}

func edit(typ form.ActionType, text string) form.Action {
	return form.Action{Type: typ, Text: text}
}

func TestReduceFocusRule(t *testing.T) {
	s := form.New(wallet, knc, weth, domain.OrderSideSell)

	s = apply(t, s, edit(form.ActionEditSource, "10"), edit(form.ActionEditRate, "0.5"))
	if s.DestText != "5" {
		t.Fatalf("after source+rate DestText = %q, want 5", s.DestText)
	}

	s = apply(t, s, edit(form.ActionEditDest, "6"))
	if s.SourceText != "12" || s.RateText != "0.5" {
		t.Errorf("after editing dest: source %q rate %q, want 12 and 0.5", s.SourceText, s.RateText)
	}

	s = apply(t, s, edit(form.ActionEditSource, "20"))
	if s.RateText != "0.3" || s.DestText != "6" {
		t.Errorf("after editing source: rate %q dest %q, want 0.3 and 6", s.RateText, s.DestText)
	}
}

func TestReduceBuyRateIsInverted(t *testing.T) {
	s := form.New(wallet, usdc, eth, domain.OrderSideBuy)
	s = apply(t, s, edit(form.ActionEditSource, "1000"), edit(form.ActionEditRate, "2000"))

	if s.DestText != "0.5" {
		t.Errorf("DestText = %q, want 0.5", s.DestText)
	}
	if got := s.Quantities.Rate.String(); got != "0.0005" {
		t.Errorf("stored rate = %s, want 0.0005", got)
	}

	s = apply(t, s, form.Action{Type: form.ActionSetSide, Side: domain.OrderSideSell})
	if s.RateText != "0.0005" {
		t.Errorf("after switching to sell RateText = %q, want 0.0005", s.RateText)
	}
}

func TestReduceStaleQuoteShowsPlaceholder(t *testing.T) {
	s := form.New(wallet, knc, weth, domain.OrderSideSell)
	s = apply(t, s, edit(form.ActionEditRate, "0.01"), edit(form.ActionEditSource, "100"))
	requested := s.QuoteKey()

	s = apply(t, s, edit(form.ActionEditSource, "150"))
	quote := &domain.QuotedFee{Key: requested, Quote: domain.FeeQuote{Fee: decimal.RequireFromString("0.002")}}
	s = apply(t, s, form.Action{Type: form.ActionQuoteLoaded, Quote: quote})

	if s.Fee.Fee != engine.NoQuote {
		t.Errorf("Fee = %q, want %q", s.Fee.Fee, engine.NoQuote)
	}

	s = apply(t, s, edit(form.ActionEditSource, "100"))
	if s.Fee.Fee != "0.2 KNC" {
		t.Errorf("Fee after returning to quoted tuple = %q, want 0.2 KNC", s.Fee.Fee)
	}
}

func TestReduceUseAllBalanceRefreshesDownstream(t *testing.T) {
	s := form.New(wallet, knc, weth, domain.OrderSideSell)
	s = apply(t, s, edit(form.ActionEditRate, "2"), form.Action{Type: form.ActionUseAllBalance})
	if s.SourceText != "" {
		t.Fatalf("SourceText before balances = %q, want empty", s.SourceText)
	}

	seven, _ := knc.Parse("7")
	snap := domain.BalanceSnapshot{Wallet: wallet, Balances: map[common.Address]*big.Int{knc.Address: seven.Raw()}}
	s = apply(t, s, form.Action{Type: form.ActionBalancesLoaded, Balances: &snap})

	if s.SourceText != "7" || s.DestText != "14" {
		t.Errorf("after balances: source %q dest %q, want 7 and 14", s.SourceText, s.DestText)
	}
}

func TestReduceSwitchWalletDropsStaleBalances(t *testing.T) {
	ten, _ := knc.Parse("10")
	snap := domain.BalanceSnapshot{Wallet: wallet, Balances: map[common.Address]*big.Int{knc.Address: ten.Raw()}}

	s := form.New(wallet, knc, weth, domain.OrderSideSell)
	s = apply(t, s, form.Action{Type: form.ActionBalancesLoaded, Balances: &snap})
	if s.Available.String() != "10" {
		t.Fatalf("Available = %s, want 10", s.Available)
	}

	s = apply(t, s,
		form.Action{Type: form.ActionSwitchWallet, Wallet: other},
		form.Action{Type: form.ActionBalancesLoaded, Balances: &snap},
	)
	if !s.Available.IsZero() {
		t.Errorf("Available after wallet switch = %s, want 0", s.Available)
	}
	if s.Balances.Wallet != other {
		t.Errorf("Balances.Wallet = %s, want %s", s.Balances.Wallet, other)
	}
}

func TestReduceSurfacesValidation(t *testing.T) {
	seven, _ := knc.Parse("7")
	snap := domain.BalanceSnapshot{Wallet: wallet, Balances: map[common.Address]*big.Int{knc.Address: seven.Raw()}}

	s := form.New(wallet, knc, weth, domain.OrderSideSell)
	s = apply(t, s,
		form.Action{Type: form.ActionBalancesLoaded, Balances: &snap},
		edit(form.ActionEditRate, "2"),
		edit(form.ActionEditSource, "8"),
	)
	if s.ErrorKind != domain.KindInsufficientBalance {
		t.Errorf("ErrorKind = %q, want %q", s.ErrorKind, domain.KindInsufficientBalance)
	}

	s = apply(t, s, edit(form.ActionEditSource, "abc"))
	if s.ErrorKind != form.KindMalformedInput {
		t.Errorf("ErrorKind = %q, want %q", s.ErrorKind, form.KindMalformedInput)
	}

	s = apply(t, s, edit(form.ActionEditSource, "7"))
	if s.Error != "" {
		t.Errorf("Error = %q, want none", s.Error)
	}
}

func TestReduceOpenOrdersConflicts(t *testing.T) {
	one, _ := knc.Parse("1")
	lowRate, _ := weth.Parse("0.4")
	mine := domain.Order{ID: "old", Sender: wallet, Src: knc, Dest: weth, SourceAmount: one.Raw(), TargetRate: lowRate.Raw(), Side: domain.OrderSideSell, State: domain.OrderStateOpen}
	theirs := mine
	theirs.ID, theirs.Sender = "theirs", other

	s := form.New(wallet, knc, weth, domain.OrderSideSell)
	s = apply(t, s,
		form.Action{Type: form.ActionOpenOrdersLoaded, Orders: []domain.Order{mine, theirs}},
		edit(form.ActionEditSource, "1"),
		edit(form.ActionEditRate, "0.5"),
	)
	if len(s.OpenOrders) != 1 {
		t.Fatalf("OpenOrders kept %d orders, want 1", len(s.OpenOrders))
	}
	if len(s.Conflicts) != 1 || s.Conflicts[0].Orders[0].ID != "old" {
		t.Errorf("Conflicts = %+v, want [old]", s.Conflicts)
	}
}

func TestCheckSubmitOnly(t *testing.T) {
	ten, _ := knc.Parse("10")
	snap := domain.BalanceSnapshot{Wallet: wallet, Balances: map[common.Address]*big.Int{knc.Address: ten.Raw()}}
	s := form.New(wallet, knc, weth, domain.OrderSideSell)
	s = apply(t, s,
		form.Action{Type: form.ActionSwitchWallet, Wallet: wallet, Promotional: true},
		form.Action{Type: form.ActionBalancesLoaded, Balances: &snap},
		edit(form.ActionEditSource, "1"),
		edit(form.ActionEditRate, "0.5"),
	)
	if s.Error != "" {
		t.Fatalf("keystroke validation reported %q", s.Error)
	}
	var ie domain.WalletIneligibleError
	if err := form.Check(s, limits(t)); !errors.As(err, &ie) {
		t.Errorf("Check() = %v, want WalletIneligibleError", err)
	}
}

func TestReduceUnknownAction(t *testing.T) {
	s := form.New(wallet, knc, weth, domain.OrderSideSell)
	if _, err := form.Reduce(s, form.Action{Type: "bogus"}, limits(t)); !errors.Is(err, form.ErrUnknownAction) {
		t.Errorf("Reduce(bogus) err = %v, want ErrUnknownAction", err)
	}
}
