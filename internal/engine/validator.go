package engine

import (
	"math/big"
	"strings"

	"github.com/alanyoungcy/limitorder/internal/domain"
)

// DefaultRateCeiling is how many times the market rate an order may ask for.
const DefaultRateCeiling = 10

// Limits bound an order's notional in native units.
type Limits struct {
	MinNotional           domain.Amount
	MaxNotional           domain.Amount
	RateCeilingMultiplier int64
}

// Input is everything one validation pass reads. The rates are in stored
// orientation; zero reference or market rates are unknown.
type Input struct {
	Src           domain.Token
	Dest          domain.Token
	Side          domain.OrderSide
	SourceAmount  domain.Amount
	TargetRate    domain.Amount
	Available     domain.Amount
	ReferenceRate domain.Amount
	MarketRate    domain.Amount
	// Submit is set only when the user presses submit.
	Submit *SubmitInput
}

// SubmitInput carries the raw form text checked at submit time.
type SubmitInput struct {
	SourceText        string
	DestText          string
	RateText          string
	PromotionalWallet bool
}

// Validate runs the predicate chain and returns the first failure.
func Validate(in Input, limits Limits) error {
	checks := []func(Input, Limits) error{
		checkSameToken,
		checkBalance,
		checkNotional,
		checkRatePositive,
		checkRateCeiling,
		checkSubmit,
	}
	for _, check := range checks {
		if err := check(in, limits); err != nil {
			return err
		}
	}
	return nil
}

func checkSameToken(in Input, _ Limits) error {
	if in.Src.Same(in.Dest) {
		return domain.SameTokenError{Symbol: in.Src.Symbol}
	}
	return nil
}

func checkBalance(in Input, _ Limits) error {
	if in.SourceAmount.Cmp(in.Available) > 0 {
		return domain.InsufficientBalanceError{
			Symbol:    in.Src.Symbol,
			Required:  in.SourceAmount,
			Available: in.Available,
		}
	}
	return nil
}

// Notional converts the source amount to native units at the limits'
// precision. It reports false when no reference rate is known.
func Notional(in Input, nativeDecimals uint8) (domain.Amount, bool) {
	if in.Src.EthEquivalent() {
		return in.SourceAmount.Rescale(nativeDecimals), true
	}
	if in.ReferenceRate.Sign() <= 0 {
		return domain.Amount{}, false
	}
	return DestAmount(in.SourceAmount, in.ReferenceRate).Rescale(nativeDecimals), true
}

func checkNotional(in Input, limits Limits) error {
	notional, ok := Notional(in, limits.MinNotional.Decimals())
	if !ok {
		return nil
	}
	if notional.Cmp(limits.MinNotional) < 0 {
		return domain.NotionalTooSmallError{Notional: notional, Min: limits.MinNotional}
	}
	if limits.MaxNotional.Sign() > 0 && notional.Cmp(limits.MaxNotional.Rescale(limits.MinNotional.Decimals())) > 0 {
		return domain.NotionalTooLargeError{Notional: notional, Max: limits.MaxNotional}
	}
	return nil
}

func checkRatePositive(in Input, _ Limits) error {
	if in.TargetRate.Sign() <= 0 {
		return domain.InvalidRateError{Reason: domain.RateReasonZero}
	}
	return nil
}

// checkRateCeiling compares prices as the user sees them, so a buy order's
// inverted price is bounded by the inverted market price.
func checkRateCeiling(in Input, limits Limits) error {
	if in.MarketRate.Sign() <= 0 {
		return nil
	}
	mult := limits.RateCeilingMultiplier
	if mult <= 0 {
		mult = DefaultRateCeiling
	}
	target := ConvertRate(in.TargetRate, in.Side, in.Src.Decimals, in.Dest.Decimals)
	market := ConvertRate(in.MarketRate, in.Side, in.Src.Decimals, in.Dest.Decimals)
	if market.Sign() <= 0 {
		return nil
	}
	ceiling := new(big.Int).Mul(market.Raw(), big.NewInt(mult))
	if target.Raw().Cmp(ceiling) > 0 {
		return domain.InvalidRateError{Reason: domain.RateReasonCeiling}
	}
	return nil
}

func checkSubmit(in Input, _ Limits) error {
	s := in.Submit
	if s == nil {
		return nil
	}
	switch {
	case strings.TrimSpace(s.SourceText) == "":
		return domain.MissingFieldError{Field: "source amount"}
	case strings.TrimSpace(s.DestText) == "":
		return domain.MissingFieldError{Field: "destination amount"}
	case strings.TrimSpace(s.RateText) == "":
		return domain.InvalidRateError{Reason: domain.RateReasonEmpty}
	case s.PromotionalWallet:
		return domain.WalletIneligibleError{Note: "promotional wallets cannot place limit orders"}
	}
	return nil
}
