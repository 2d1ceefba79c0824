package domain

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestOrderStateTransitions(t *testing.T) {
	tests := []struct {
		from, to OrderState
		want     bool
	}{
		{OrderStateDraft, OrderStatePendingSignature, true},
		{OrderStatePendingSignature, OrderStatePendingSubmission, true},
		{OrderStatePendingSubmission, OrderStateOpen, true},
		{OrderStatePendingSubmission, OrderStateRejected, true},
		{OrderStateOpen, OrderStateInProgress, true},
		{OrderStateOpen, OrderStateCancelled, true},
		{OrderStateInProgress, OrderStateFilled, true},
		{OrderStateInProgress, OrderStateCancelled, true},
		{OrderStateDraft, OrderStateOpen, false},
		{OrderStateFilled, OrderStateCancelled, false},
		{OrderStateCancelled, OrderStateOpen, false},
		{OrderStateRejected, OrderStateOpen, false},
		{OrderStateInProgress, OrderStateOpen, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestOrderStateTerminalHasNoExits(t *testing.T) {
	all := []OrderState{
		OrderStateDraft, OrderStatePendingSignature, OrderStatePendingSubmission,
		OrderStateOpen, OrderStateInProgress, OrderStateFilled, OrderStateCancelled, OrderStateRejected,
	}
	for _, from := range all {
		if !from.Terminal() {
			continue
		}
		for _, to := range all {
			if from.CanTransitionTo(to) {
				t.Errorf("terminal state %s allows -> %s", from, to)
			}
		}
	}
}

func TestOrderTransition(t *testing.T) {
	o := Order{ID: "a", State: OrderStateOpen}
	now := time.Now()
	next, err := o.Transition(OrderStateCancelled, now)
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if next.State != OrderStateCancelled || !next.UpdatedAt.Equal(now) {
		t.Errorf("Transition = %s @ %v", next.State, next.UpdatedAt)
	}
	if o.State != OrderStateOpen {
		t.Errorf("Transition mutated receiver")
	}
	if _, err := next.Transition(OrderStateOpen, now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Transition from terminal err = %v, want ErrInvalidTransition", err)
	}
}

func TestOrderCheckSubmittable(t *testing.T) {
	eth := Token{Address: NativeAddress, Symbol: "ETH", Decimals: 18, Native: true}
	knc := Token{Address: common.HexToAddress("0x01"), Symbol: "KNC", Decimals: 18}
	base := Order{Src: eth, Dest: knc, SourceAmount: big.NewInt(1), TargetRate: big.NewInt(1), Side: OrderSideSell}

	if err := base.CheckSubmittable(); err != nil {
		t.Fatalf("valid order: %v", err)
	}

	same := base
	same.Dest = eth
	var st SameTokenError
	if err := same.CheckSubmittable(); !errors.As(err, &st) {
		t.Errorf("same token err = %v", err)
	}

	zeroRate := base
	zeroRate.TargetRate = new(big.Int)
	var re InvalidRateError
	if err := zeroRate.CheckSubmittable(); !errors.As(err, &re) {
		t.Errorf("zero rate err = %v", err)
	}

	zeroAmt := base
	zeroAmt.SourceAmount = nil
	if err := zeroAmt.CheckSubmittable(); !errors.Is(err, ErrInvalidOrder) {
		t.Errorf("zero amount err = %v", err)
	}
}

func TestGasPrice(t *testing.T) {
	snap := GasSnapshot{Slow: big.NewInt(1), Standard: big.NewInt(2), Fast: big.NewInt(5)}
	tests := []struct {
		tier GasTier
		want int64
	}{
		{GasTierSlow, 1},
		{GasTierStandard, 2},
		{GasTierFast, 5},
		{GasTierSuperFast, 10},
		{GasTier("bogus"), 2},
	}
	for _, tt := range tests {
		if got := GasPrice(tt.tier, snap).Int64(); got != tt.want {
			t.Errorf("GasPrice(%s) = %d, want %d", tt.tier, got, tt.want)
		}
	}
	if got := GasPrice(GasTierFast, GasSnapshot{}).Sign(); got != 0 {
		t.Errorf("GasPrice on empty snapshot = %d, want 0", got)
	}
	if got := GasFee(GasTierFast, snap, 21000).Int64(); got != 105000 {
		t.Errorf("GasFee = %d, want 105000", got)
	}
}

func TestErrorKind(t *testing.T) {
	err := TransientNetworkError{Step: "nonce", Err: errors.New("timeout")}
	kind, ok := ErrorKind(err)
	if !ok || kind != KindTransientNetwork {
		t.Errorf("ErrorKind = %q, %v", kind, ok)
	}
	if _, ok := ErrorKind(errors.New("plain")); ok {
		t.Errorf("ErrorKind on plain error reported a kind")
	}
}
