package engine_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/limitorder/internal/domain"
	"github.com/alanyoungcy/limitorder/internal/engine"
)

func snapshot(w common.Address, balances map[common.Address]*big.Int) domain.BalanceSnapshot {
	return domain.BalanceSnapshot{Wallet: w, Balances: balances}
}

func TestAvailableSubtractsReservations(t *testing.T) {
	snap := snapshot(wallet, map[common.Address]*big.Int{knc.Address: amt(t, "10", knc).Raw()})
	orders := []domain.Order{
		order("a", knc, usdc, domain.OrderSideSell, amt(t, "4", knc).Raw(), big.NewInt(1), domain.OrderStateOpen),
		order("b", knc, usdc, domain.OrderSideSell, amt(t, "1", knc).Raw(), big.NewInt(1), domain.OrderStateInProgress),
		order("c", knc, usdc, domain.OrderSideSell, amt(t, "2", knc).Raw(), big.NewInt(1), domain.OrderStateFilled),
		order("d", usdc, knc, domain.OrderSideSell, amt(t, "2", usdc).Raw(), big.NewInt(1), domain.OrderStateOpen),
	}
	got := engine.Available(snap, orders, wallet, knc)
	if got.String() != "5" {
		t.Errorf("Available = %s, want 5", got)
	}
}

func TestAvailableTracksOrderLifecycle(t *testing.T) {
	snap := snapshot(wallet, map[common.Address]*big.Int{knc.Address: amt(t, "10", knc).Raw()})
	before := engine.Available(snap, nil, wallet, knc)

	o := order("a", knc, usdc, domain.OrderSideSell, amt(t, "3.25", knc).Raw(), big.NewInt(1), domain.OrderStateOpen)
	during := engine.Available(snap, []domain.Order{o}, wallet, knc)

	delta, _ := before.Sub(during)
	if delta.Raw().Cmp(o.SourceAmount) != 0 {
		t.Errorf("adding an open order reduced availability by %s, want %s", delta.Raw(), o.SourceAmount)
	}

	o.State = domain.OrderStateCancelled
	after := engine.Available(snap, []domain.Order{o}, wallet, knc)
	if after.Cmp(before) != 0 {
		t.Errorf("after cancel Available = %s, want %s", after, before)
	}
}

func TestAvailableNeverNegative(t *testing.T) {
	snap := snapshot(wallet, map[common.Address]*big.Int{knc.Address: amt(t, "1", knc).Raw()})
	orders := []domain.Order{
		order("a", knc, usdc, domain.OrderSideSell, amt(t, "5", knc).Raw(), big.NewInt(1), domain.OrderStateOpen),
	}
	if got := engine.Available(snap, orders, wallet, knc); got.Sign() != 0 {
		t.Errorf("Available = %s, want 0", got)
	}
}

func TestAvailableIsWalletScoped(t *testing.T) {
	snap := snapshot(other, map[common.Address]*big.Int{knc.Address: amt(t, "10", knc).Raw()})
	if got := engine.Available(snap, nil, wallet, knc); !got.IsZero() {
		t.Errorf("snapshot of another wallet leaked: %s", got)
	}

	own := snapshot(wallet, map[common.Address]*big.Int{knc.Address: amt(t, "10", knc).Raw()})
	foreign := order("x", knc, usdc, domain.OrderSideSell, amt(t, "4", knc).Raw(), big.NewInt(1), domain.OrderStateOpen)
	foreign.Sender = other
	if got := engine.Available(own, []domain.Order{foreign}, wallet, knc); got.String() != "10" {
		t.Errorf("another wallet's order reserved balance: %s", got)
	}
}

func TestAvailableWrappedIncludesNative(t *testing.T) {
	snap := snapshot(wallet, map[common.Address]*big.Int{
		weth.Address:         amt(t, "2", weth).Raw(),
		domain.NativeAddress: amt(t, "3", eth).Raw(),
	})
	if got := engine.Available(snap, nil, wallet, weth); got.String() != "5" {
		t.Errorf("Available(WETH) = %s, want 5", got)
	}
	if got := engine.Available(snap, nil, wallet, eth); got.String() != "3" {
		t.Errorf("Available(ETH) = %s, want 3", got)
	}
}
