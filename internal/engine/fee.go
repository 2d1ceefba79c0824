package engine

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/limitorder/internal/domain"
)

// NoQuote is displayed when no quote matches the current form.
const NoQuote = "---"

const ppm = 1_000_000

// FeeAmount returns src * (fee + transferFee), both in parts per million.
func FeeAmount(src domain.Amount, feePPM, transferFeePPM uint32) domain.Amount {
	raw := new(big.Int).Mul(src.Raw(), new(big.Int).SetUint64(uint64(feePPM)+uint64(transferFeePPM)))
	raw.Quo(raw, big.NewInt(ppm))
	return domain.NewAmount(raw, src.Decimals())
}

// DiscountThreshold is the smallest saved amount worth showing: 10^-6 of a
// unit, or one base unit for tokens with six decimals or fewer.
func DiscountThreshold(decimals uint8) *big.Int {
	if decimals <= 6 {
		return big.NewInt(1)
	}
	return domain.Pow10(decimals - 6)
}

// FeeDisplay is the rendered fee line.
type FeeDisplay struct {
	Fee               string `json:"fee"`
	Percent           string `json:"percent"`
	ShowDiscount      bool   `json:"show_discount"`
	FeeBeforeDiscount string `json:"fee_before_discount,omitempty"`
	DiscountPercent   string `json:"discount_percent,omitempty"`
}

// DisplayFee renders quoted for the current form tuple. A missing quote or
// one computed for a different tuple renders as NoQuote.
func DisplayFee(quoted *domain.QuotedFee, current domain.QuoteKey, src domain.Token, amount domain.Amount) FeeDisplay {
	if quoted == nil || !quoted.Matches(current) {
		return FeeDisplay{Fee: NoQuote, Percent: NoQuote}
	}
	q := quoted.Quote
	fee := FeeAmount(amount, q.FeePPM(), q.TransferFeePPM())
	out := FeeDisplay{
		Fee:     fee.Display(6) + " " + src.Symbol,
		Percent: percent(q.Fee.Add(q.TransferFee)),
	}
	before := FeeAmount(amount, q.FeeBeforeDiscountPPM(), q.TransferFeePPM())
	saved := new(big.Int).Sub(before.Raw(), fee.Raw())
	if q.Discount.IsPositive() && saved.Cmp(DiscountThreshold(src.Decimals)) >= 0 {
		out.ShowDiscount = true
		out.FeeBeforeDiscount = before.Display(6) + " " + src.Symbol
		out.DiscountPercent = percent(q.Discount)
	}
	return out
}

func percent(frac decimal.Decimal) string {
	return frac.Shift(2).Truncate(4).String() + "%"
}
