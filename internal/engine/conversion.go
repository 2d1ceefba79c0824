package engine

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/limitorder/internal/domain"
)

// ConversionShortfall returns how much native must be wrapped before an
// order spending amount of src can be placed:
// max(0, amount - (settled - pending)). Only the wrapped-native token can
// need a conversion; every other token yields zero.
func ConversionShortfall(src domain.Token, amount, settled, pending domain.Amount) domain.Amount {
	if !src.WrappedNative {
		return src.Zero()
	}
	free, _ := settled.Rescale(src.Decimals).Sub(pending.Rescale(src.Decimals))
	short, _ := amount.Rescale(src.Decimals).Sub(free)
	return short.ClampZero()
}

// SettlementAmount converts the order service's pending settlement for
// token into an Amount, truncating below the token's precision.
func SettlementAmount(pending domain.PendingSettlements, token domain.Token) domain.Amount {
	v, ok := pending[token.Symbol]
	if !ok || v <= 0 {
		return token.Zero()
	}
	raw := decimal.NewFromFloat(v).Shift(int32(token.Decimals)).Truncate(0).BigInt()
	return domain.NewAmount(raw, token.Decimals)
}

// PendingForConversion is the amount of the wrapped balance already
// committed: the larger of the locally computed reservation and the
// service-reported settlement, so neither source is counted twice.
func PendingForConversion(reserved, settling domain.Amount) domain.Amount {
	if settling.Rescale(reserved.Decimals()).Cmp(reserved) > 0 {
		return settling.Rescale(reserved.Decimals())
	}
	return reserved
}
