package exchange

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/limitorder/internal/domain"
)

// APIOrder is an order as the order service encodes it.
type APIOrder struct {
	ID          string `json:"id"`
	Sender      string `json:"sender"`
	Src         string `json:"src"`
	Dest        string `json:"dest"`
	SrcAmount   string `json:"src_amount"`
	TargetRate  string `json:"target_rate"`
	Fee         uint32 `json:"fee"`
	TransferFee uint32 `json:"transfer_fee"`
	Nonce       string `json:"nonce"`
	Side        string `json:"side"`
	Status      string `json:"status"`
	Signature   string `json:"signature,omitempty"`
	Message     string `json:"message,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// APISubmitResult is the response to an order submission.
type APISubmitResult struct {
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	Order   APIOrder `json:"order"`
}

// APIFeeQuote carries fee fractions as decimal strings.
type APIFeeQuote struct {
	Fee               string `json:"fee"`
	Discount          string `json:"discount"`
	FeeBeforeDiscount string `json:"fee_before_discount"`
	TransferFee       string `json:"transfer_fee"`
}

// APIEligibility answers the wallet eligibility check.
type APIEligibility struct {
	Eligible bool   `json:"eligible"`
	Note     string `json:"note,omitempty"`
}

// APIRate is a rate in stored orientation as a base-10 integer string. An
// empty rate means the service has none.
type APIRate struct {
	Rate string `json:"rate"`
}

// APIGas holds gas prices in wei as base-10 strings.
type APIGas struct {
	Slow     string `json:"slow"`
	Standard string `json:"standard"`
	Fast     string `json:"fast"`
}

// APIBalances maps token address to a base-10 balance string.
type APIBalances struct {
	Address  string            `json:"address"`
	Balances map[string]string `json:"balances"`
}

// statusToState maps order service statuses onto the lifecycle.
var statusToState = map[string]domain.OrderState{
	"open":           domain.OrderStateOpen,
	"active":         domain.OrderStateOpen,
	"in_progress":    domain.OrderStateInProgress,
	"partial_filled": domain.OrderStateInProgress,
	"filled":         domain.OrderStateFilled,
	"cancelled":      domain.OrderStateCancelled,
	"invalidated":    domain.OrderStateRejected,
	"rejected":       domain.OrderStateRejected,
}

// ParseStatus maps a service status string to an OrderState.
func ParseStatus(s string) (domain.OrderState, bool) {
	st, ok := statusToState[strings.ToLower(s)]
	return st, ok
}

// ToDomain converts an APIOrder, resolving token metadata from tokens.
func (a APIOrder) ToDomain(tokens *domain.TokenRegistry) (domain.Order, error) {
	src, ok := tokens.Get(common.HexToAddress(a.Src))
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrUnknownToken, a.Src)
	}
	dest, ok := tokens.Get(common.HexToAddress(a.Dest))
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrUnknownToken, a.Dest)
	}
	amount, err := parseInt(a.SrcAmount)
	if err != nil {
		return domain.Order{}, fmt.Errorf("src_amount: %w", err)
	}
	rate, err := parseInt(a.TargetRate)
	if err != nil {
		return domain.Order{}, fmt.Errorf("target_rate: %w", err)
	}
	state, ok := ParseStatus(a.Status)
	if !ok {
		return domain.Order{}, fmt.Errorf("unknown order status %q", a.Status)
	}
	side := domain.OrderSide(strings.ToLower(a.Side))
	if !side.Valid() {
		return domain.Order{}, fmt.Errorf("unknown order side %q", a.Side)
	}
	return domain.Order{
		ID:             a.ID,
		Sender:         common.HexToAddress(a.Sender),
		Src:            src,
		Dest:           dest,
		SourceAmount:   amount,
		TargetRate:     rate,
		FeePPM:         a.Fee,
		TransferFeePPM: a.TransferFee,
		Nonce:          a.Nonce,
		Side:           side,
		State:          state,
		Signature:      a.Signature,
		Reason:         a.Message,
		CreatedAt:      unixOrZero(a.CreatedAt),
		UpdatedAt:      unixOrZero(a.UpdatedAt),
	}, nil
}

// FromDomain encodes an order for submission.
func FromDomain(o domain.Order) APIOrder {
	return APIOrder{
		Sender:      o.Sender.Hex(),
		Src:         o.Src.Address.Hex(),
		Dest:        o.Dest.Address.Hex(),
		SrcAmount:   intString(o.SourceAmount),
		TargetRate:  intString(o.TargetRate),
		Fee:         o.FeePPM,
		TransferFee: o.TransferFeePPM,
		Nonce:       o.Nonce,
		Side:        string(o.Side),
		Signature:   o.Signature,
	}
}

// ToDomain parses the quote's decimal strings. Empty fields are zero.
func (q APIFeeQuote) ToDomain() (domain.FeeQuote, error) {
	var out domain.FeeQuote
	fields := []struct {
		raw string
		dst *decimal.Decimal
	}{
		{q.Fee, &out.Fee},
		{q.Discount, &out.Discount},
		{q.FeeBeforeDiscount, &out.FeeBeforeDiscount},
		{q.TransferFee, &out.TransferFee},
	}
	for _, f := range fields {
		if f.raw == "" {
			*f.dst = decimal.Zero
			continue
		}
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return domain.FeeQuote{}, fmt.Errorf("fee quote: %w", err)
		}
		*f.dst = d
	}
	return out, nil
}

// ToDomain parses the gas snapshot.
func (g APIGas) ToDomain() (domain.GasSnapshot, error) {
	slow, err := parseInt(g.Slow)
	if err != nil {
		return domain.GasSnapshot{}, fmt.Errorf("gas slow: %w", err)
	}
	std, err := parseInt(g.Standard)
	if err != nil {
		return domain.GasSnapshot{}, fmt.Errorf("gas standard: %w", err)
	}
	fast, err := parseInt(g.Fast)
	if err != nil {
		return domain.GasSnapshot{}, fmt.Errorf("gas fast: %w", err)
	}
	return domain.GasSnapshot{Slow: slow, Standard: std, Fast: fast}, nil
}

// ToDomain parses the balance map.
func (b APIBalances) ToDomain(at time.Time) (domain.BalanceSnapshot, error) {
	snap := domain.BalanceSnapshot{
		Wallet:    common.HexToAddress(b.Address),
		Balances:  make(map[common.Address]*big.Int, len(b.Balances)),
		FetchedAt: at,
	}
	for addr, v := range b.Balances {
		n, err := parseInt(v)
		if err != nil {
			return domain.BalanceSnapshot{}, fmt.Errorf("balance %s: %w", addr, err)
		}
		snap.Balances[common.HexToAddress(addr)] = n
	}
	return snap, nil
}

func parseInt(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}

func intString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

func unixOrZero(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}
