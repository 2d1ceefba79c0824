// Package engine holds the pure order computations: rate derivation, balance
// reservation, fees, validation, conflict detection and conversion checks.
// Nothing in this package performs I/O.
package engine

import (
	"math/big"

	"github.com/alanyoungcy/limitorder/internal/domain"
)

// Field names one of the three linked form inputs.
type Field string

const (
	FieldNone   Field = ""
	FieldSource Field = "source"
	FieldDest   Field = "destination"
	FieldRate   Field = "rate"
)

var fields = [...]Field{FieldSource, FieldDest, FieldRate}

// Valid reports whether f is one of the three form inputs.
func (f Field) Valid() bool {
	return f == FieldSource || f == FieldDest || f == FieldRate
}

// FieldToDerive returns the field that must be recomputed while the user
// edits focused, having previously edited prev. It is never focused or prev.
func FieldToDerive(focused, prev Field) Field {
	if focused.Valid() && prev.Valid() && focused != prev {
		for _, f := range fields {
			if f != focused && f != prev {
				return f
			}
		}
	}
	if focused == FieldDest {
		return FieldSource
	}
	return FieldDest
}

// DestAmount returns src * rate / 10^src.decimals at the rate's precision.
func DestAmount(src, rate domain.Amount) domain.Amount {
	raw := new(big.Int).Mul(src.Raw(), rate.Raw())
	raw.Quo(raw, domain.Pow10(src.Decimals()))
	return domain.NewAmount(raw, rate.Decimals())
}

// SourceAmount returns dest * 10^srcDecimals / rate. A zero rate is unknown
// and yields zero.
func SourceAmount(dest, rate domain.Amount, srcDecimals uint8) domain.Amount {
	if rate.Sign() <= 0 {
		return domain.ZeroAmount(srcDecimals)
	}
	raw := new(big.Int).Mul(dest.Raw(), domain.Pow10(srcDecimals))
	raw.Quo(raw, rate.Raw())
	return domain.NewAmount(raw, srcDecimals)
}

// Rate returns dest * 10^src.decimals / src at the destination precision.
// A zero source yields zero.
func Rate(src, dest domain.Amount) domain.Amount {
	if src.Sign() <= 0 {
		return domain.ZeroAmount(dest.Decimals())
	}
	raw := new(big.Int).Mul(dest.Raw(), domain.Pow10(src.Decimals()))
	raw.Quo(raw, src.Raw())
	return domain.NewAmount(raw, dest.Decimals())
}

// ConvertRate maps a rate between its stored orientation (destination per
// source, destination decimals) and the orientation shown to the user.
// Sell orders show the stored rate as is. Buy orders show the price of the
// destination token in source units, so the rate is inverted:
// 10^(srcDecimals+destDecimals) / rate. The inversion is its own inverse,
// so the same call converts in both directions. A zero rate stays zero.
func ConvertRate(rate domain.Amount, side domain.OrderSide, srcDecimals, destDecimals uint8) domain.Amount {
	if side != domain.OrderSideBuy {
		return rate
	}
	outDecimals := srcDecimals
	if rate.Decimals() == srcDecimals && srcDecimals != destDecimals {
		outDecimals = destDecimals
	}
	if rate.Sign() <= 0 {
		return domain.ZeroAmount(outDecimals)
	}
	raw := domain.Pow10(srcDecimals + destDecimals)
	raw.Quo(raw, rate.Raw())
	return domain.NewAmount(raw, outDecimals)
}

// Quantities are the three linked order inputs. Rate is in stored
// orientation.
type Quantities struct {
	Source domain.Amount `json:"source"`
	Dest   domain.Amount `json:"dest"`
	Rate   domain.Amount `json:"rate"`
}

// Derive recomputes field target of q from the other two.
func Derive(q Quantities, target Field, src, dest domain.Token) Quantities {
	switch target {
	case FieldSource:
		q.Source = SourceAmount(q.Dest, q.Rate, src.Decimals)
	case FieldRate:
		q.Rate = Rate(q.Source, q.Dest)
	default:
		q.Dest = DestAmount(q.Source, q.Rate)
	}
	return q
}
