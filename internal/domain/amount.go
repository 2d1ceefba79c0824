package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyAmount      = errors.New("amount: empty")
	ErrMalformedAmount  = errors.New("amount: malformed decimal")
	ErrNegativeAmount   = errors.New("amount: negative")
	ErrDecimalsMismatch = errors.New("amount: decimals mismatch")
)

// Amount is a token quantity stored as an integer scaled by 10^decimals.
// The zero value is a zero amount with zero decimals.
type Amount struct {
	raw      *big.Int
	decimals uint8
}

// Pow10 returns 10^n as a fresh big.Int.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// NewAmount wraps raw (copied) at the given precision. A nil raw is zero.
func NewAmount(raw *big.Int, decimals uint8) Amount {
	if raw == nil {
		return Amount{raw: new(big.Int), decimals: decimals}
	}
	return Amount{raw: new(big.Int).Set(raw), decimals: decimals}
}

// ZeroAmount returns a zero amount at the given precision.
func ZeroAmount(decimals uint8) Amount {
	return Amount{raw: new(big.Int), decimals: decimals}
}

// ParseAmount converts a human-entered decimal string into an Amount.
// Fractional digits beyond decimals are truncated, never rounded.
func ParseAmount(s string, decimals uint8) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, ErrEmptyAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrMalformedAmount, s)
	}
	if d.IsNegative() {
		return Amount{}, fmt.Errorf("%w: %q", ErrNegativeAmount, s)
	}
	raw := d.Truncate(int32(decimals)).Shift(int32(decimals)).BigInt()
	return Amount{raw: raw, decimals: decimals}, nil
}

// Raw returns a copy of the scaled integer.
func (a Amount) Raw() *big.Int {
	if a.raw == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.raw)
}

// Decimals returns the precision the amount is scaled by.
func (a Amount) Decimals() uint8 { return a.decimals }

// Sign returns -1, 0 or +1.
func (a Amount) Sign() int {
	if a.raw == nil {
		return 0
	}
	return a.raw.Sign()
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a.Sign() == 0 }

// Cmp compares the raw integers. Both sides must share a precision for the
// result to be meaningful; callers rescale first when they do not.
func (a Amount) Cmp(b Amount) int {
	return a.Raw().Cmp(b.Raw())
}

// Add returns a+b. The operands must share a precision.
func (a Amount) Add(b Amount) (Amount, error) {
	if a.decimals != b.decimals {
		return Amount{}, fmt.Errorf("%w: %d vs %d", ErrDecimalsMismatch, a.decimals, b.decimals)
	}
	return Amount{raw: new(big.Int).Add(a.Raw(), b.Raw()), decimals: a.decimals}, nil
}

// Sub returns a-b. The result may be negative; use ClampZero when a
// non-negative quantity is required.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.decimals != b.decimals {
		return Amount{}, fmt.Errorf("%w: %d vs %d", ErrDecimalsMismatch, a.decimals, b.decimals)
	}
	return Amount{raw: new(big.Int).Sub(a.Raw(), b.Raw()), decimals: a.decimals}, nil
}

// MulInt multiplies by an integer factor.
func (a Amount) MulInt(n int64) Amount {
	return Amount{raw: new(big.Int).Mul(a.Raw(), big.NewInt(n)), decimals: a.decimals}
}

// ClampZero returns the amount, or zero if it is negative.
func (a Amount) ClampZero() Amount {
	if a.Sign() < 0 {
		return ZeroAmount(a.decimals)
	}
	return a
}

// Rescale converts the amount to another precision, truncating when the
// target precision is smaller.
func (a Amount) Rescale(decimals uint8) Amount {
	switch {
	case decimals == a.decimals:
		return NewAmount(a.raw, decimals)
	case decimals > a.decimals:
		raw := new(big.Int).Mul(a.Raw(), Pow10(decimals-a.decimals))
		return Amount{raw: raw, decimals: decimals}
	default:
		raw := new(big.Int).Quo(a.Raw(), Pow10(a.decimals-decimals))
		return Amount{raw: raw, decimals: decimals}
	}
}

// Decimal returns the human value as a decimal.Decimal.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(a.Raw(), -int32(a.decimals))
}

// String renders the exact human value without trailing zeros.
func (a Amount) String() string {
	return a.Decimal().String()
}

// Display renders at most places fractional digits, truncating.
func (a Amount) Display(places int32) string {
	return a.Decimal().Truncate(places).String()
}

type amountJSON struct {
	Raw      string `json:"raw"`
	Decimals uint8  `json:"decimals"`
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(amountJSON{Raw: a.Raw().String(), Decimals: a.decimals})
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	var v amountJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	raw := new(big.Int)
	if v.Raw != "" {
		if _, ok := raw.SetString(v.Raw, 10); !ok {
			return fmt.Errorf("%w: raw %q", ErrMalformedAmount, v.Raw)
		}
	}
	a.raw = raw
	a.decimals = v.Decimals
	return nil
}
