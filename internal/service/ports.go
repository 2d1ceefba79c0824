// Package service coordinates the limit order lifecycle: submission
// attempts, cancellation, status updates and background refresh of the
// session state the form reads.
package service

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/limitorder/internal/crypto"
	"github.com/alanyoungcy/limitorder/internal/domain"
)

// Exchange is the part of the order service API a submission talks to.
type Exchange interface {
	FeeQuote(ctx context.Context, key domain.QuoteKey) (domain.FeeQuote, error)
	Nonce(ctx context.Context, wallet common.Address) (string, error)
	Eligibility(ctx context.Context, wallet common.Address) (bool, string, error)
	SubmitOrder(ctx context.Context, o domain.Order) (domain.Order, error)
	CancelOrder(ctx context.Context, wallet common.Address, id string) (bool, error)
	Balances(ctx context.Context, wallet common.Address) (domain.BalanceSnapshot, error)
	GasPrices(ctx context.Context) (domain.GasSnapshot, error)
}

// Feed supplies the wallet state the refresher polls.
type Feed interface {
	OpenOrders(ctx context.Context, wallet, src, dest common.Address) ([]domain.Order, error)
	PendingSettlements(ctx context.Context, wallet common.Address) (domain.PendingSettlements, error)
	Balances(ctx context.Context, wallet common.Address) (domain.BalanceSnapshot, error)
}

// RateFeed supplies live and reference prices for a pair.
type RateFeed interface {
	MarketRate(ctx context.Context, src, dest common.Address) (*big.Int, error)
	ReferenceRate(ctx context.Context, src, dest common.Address) (*big.Int, error)
}

// Signer abstracts EIP-712 order signing so the service layer never depends
// on how keys are held.
type Signer interface {
	Address() common.Address
	Payload(o domain.Order) crypto.OrderPayload
	SignOrder(o domain.Order) (string, error)
}

// Notifier forwards order events to operators.
type Notifier interface {
	NotifyOrder(ctx context.Context, evt domain.OrderEvent) error
}

// Metrics records submission outcomes and order state changes.
type Metrics interface {
	ObserveSubmission(outcome string, elapsed time.Duration)
	ObserveTransition(state domain.OrderState)
}

type noopMetrics struct{}

func (noopMetrics) ObserveSubmission(string, time.Duration) {}
func (noopMetrics) ObserveTransition(domain.OrderState)     {}
