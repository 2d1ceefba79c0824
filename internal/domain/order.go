package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OrderSide indicates whether the order buys or sells the destination token.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Valid reports whether s is a known side.
func (s OrderSide) Valid() bool { return s == OrderSideBuy || s == OrderSideSell }

// OrderState tracks the order lifecycle.
type OrderState string

const (
	OrderStateDraft             OrderState = "draft"
	OrderStatePendingSignature  OrderState = "pending_signature"
	OrderStatePendingSubmission OrderState = "pending_submission"
	OrderStateOpen              OrderState = "open"
	OrderStateInProgress        OrderState = "in_progress"
	OrderStateFilled            OrderState = "filled"
	OrderStateCancelled         OrderState = "cancelled"
	OrderStateRejected          OrderState = "rejected"
)

var orderTransitions = map[OrderState][]OrderState{
	OrderStateDraft:             {OrderStatePendingSignature, OrderStateRejected},
	OrderStatePendingSignature:  {OrderStatePendingSubmission, OrderStateRejected},
	OrderStatePendingSubmission: {OrderStateOpen, OrderStateRejected},
	OrderStateOpen:              {OrderStateInProgress, OrderStateFilled, OrderStateCancelled, OrderStateRejected},
	OrderStateInProgress:        {OrderStateFilled, OrderStateCancelled},
}

// Known reports whether s is one of the lifecycle states.
func (s OrderState) Known() bool {
	switch s {
	case OrderStateDraft, OrderStatePendingSignature, OrderStatePendingSubmission, OrderStateOpen,
		OrderStateInProgress, OrderStateFilled, OrderStateCancelled, OrderStateRejected:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s OrderState) CanTransitionTo(next OrderState) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s OrderState) Terminal() bool {
	return s == OrderStateFilled || s == OrderStateCancelled || s == OrderStateRejected
}

// Reserving reports whether orders in this state hold part of the wallet's
// balance.
func (s OrderState) Reserving() bool {
	return s == OrderStateOpen || s == OrderStateInProgress
}

// Order is a limit order. SourceAmount is scaled by the source token's
// decimals; TargetRate is destination units per 10^Src.Decimals source
// units, scaled by the destination token's decimals.
type Order struct {
	ID             string         `json:"id"`
	Sender         common.Address `json:"sender"`
	Src            Token          `json:"src"`
	Dest           Token          `json:"dest"`
	SourceAmount   *big.Int       `json:"source_amount"`
	TargetRate     *big.Int       `json:"target_rate"`
	FeePPM         uint32         `json:"fee_ppm"`
	TransferFeePPM uint32         `json:"transfer_fee_ppm"`
	Nonce          string         `json:"nonce"`
	Side           OrderSide      `json:"side"`
	State          OrderState     `json:"state"`
	Signature      string         `json:"signature,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Amount returns the source amount at the source token's precision.
func (o Order) Amount() Amount { return NewAmount(o.SourceAmount, o.Src.Decimals) }

// Rate returns the target rate at the destination token's precision.
func (o Order) Rate() Amount { return NewAmount(o.TargetRate, o.Dest.Decimals) }

// Transition returns a copy of o moved to next, or ErrInvalidTransition.
func (o Order) Transition(next OrderState, at time.Time) (Order, error) {
	if !o.State.CanTransitionTo(next) {
		return o, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.State, next)
	}
	o.State = next
	o.UpdatedAt = at
	return o, nil
}

// CheckSubmittable enforces the invariants every submitted order holds.
func (o Order) CheckSubmittable() error {
	switch {
	case o.Src.Same(o.Dest):
		return SameTokenError{Symbol: o.Src.Symbol}
	case o.SourceAmount == nil || o.SourceAmount.Sign() <= 0:
		return fmt.Errorf("%w: source amount must be positive", ErrInvalidOrder)
	case o.TargetRate == nil || o.TargetRate.Sign() <= 0:
		return InvalidRateError{Reason: RateReasonZero}
	case !o.Side.Valid():
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, o.Side)
	}
	return nil
}

// OrderDayGroup is a set of orders created on the same calendar day (UTC).
type OrderDayGroup struct {
	Day    string  `json:"day"`
	Orders []Order `json:"orders"`
}

// OrderEvent is published on the event bus whenever an order changes state.
type OrderEvent struct {
	Type  string    `json:"type"`
	Order Order     `json:"order"`
	At    time.Time `json:"at"`
}

const (
	OrderEventAccepted  = "order.accepted"
	OrderEventRejected  = "order.rejected"
	OrderEventUpdated   = "order.updated"
	OrderEventCancelled = "order.cancelled"
)
