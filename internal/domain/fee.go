package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// FeeQuote holds server-quoted fee fractions, each in [0,1).
type FeeQuote struct {
	Fee               decimal.Decimal `json:"fee"`
	Discount          decimal.Decimal `json:"discount"`
	FeeBeforeDiscount decimal.Decimal `json:"fee_before_discount"`
	TransferFee       decimal.Decimal `json:"transfer_fee"`
}

var million = decimal.NewFromInt(1_000_000)

// FeePPM returns the fee in parts per million, truncated.
func (q FeeQuote) FeePPM() uint32 { return toPPM(q.Fee) }

// TransferFeePPM returns the transfer fee in parts per million, truncated.
func (q FeeQuote) TransferFeePPM() uint32 { return toPPM(q.TransferFee) }

// FeeBeforeDiscountPPM returns the undiscounted fee in parts per million.
func (q FeeQuote) FeeBeforeDiscountPPM() uint32 { return toPPM(q.FeeBeforeDiscount) }

func toPPM(d decimal.Decimal) uint32 {
	if d.IsNegative() {
		return 0
	}
	return uint32(d.Mul(million).Truncate(0).IntPart())
}

// QuoteKey is the exact parameter tuple a fee quote was computed for.
type QuoteKey struct {
	Wallet     common.Address `json:"wallet"`
	Src        common.Address `json:"src"`
	Dest       common.Address `json:"dest"`
	SrcAmount  string         `json:"src_amount"`
	DestAmount string         `json:"dest_amount"`
}

// NewQuoteKey builds the key for a quote request.
func NewQuoteKey(wallet common.Address, src, dest Token, srcAmount, destAmount Amount) QuoteKey {
	return QuoteKey{
		Wallet:     wallet,
		Src:        src.Address,
		Dest:       dest.Address,
		SrcAmount:  srcAmount.Raw().String(),
		DestAmount: destAmount.Raw().String(),
	}
}

// QuotedFee is a fee quote together with the tuple that produced it.
type QuotedFee struct {
	Key       QuoteKey  `json:"key"`
	Quote     FeeQuote  `json:"quote"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Matches reports whether the quote was computed for key.
func (q QuotedFee) Matches(key QuoteKey) bool { return q.Key == key }
