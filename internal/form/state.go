// Package form holds the limit order form as a serializable value and the
// pure reducers that move it from one state to the next.
package form

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/limitorder/internal/domain"
	"github.com/alanyoungcy/limitorder/internal/engine"
)

// State is the whole order form. Inputs are what the user typed or what
// collaborators delivered; the fields after Acknowledged are derived by
// every reduction and never set directly.
type State struct {
	Wallet            common.Address   `json:"wallet"`
	PromotionalWallet bool             `json:"promotional_wallet,omitempty"`
	Src               domain.Token     `json:"src"`
	Dest              domain.Token     `json:"dest"`
	Side              domain.OrderSide `json:"side"`

	SourceText string `json:"source_text"`
	DestText   string `json:"dest_text"`
	// RateText is the price as shown: destination per source for sells,
	// source per destination for buys.
	RateText string `json:"rate_text"`

	Focused       engine.Field `json:"focused"`
	PrevFocused   engine.Field `json:"prev_focused"`
	UseAllBalance bool         `json:"use_all_balance,omitempty"`

	Balances      domain.BalanceSnapshot `json:"balances"`
	OpenOrders    []domain.Order         `json:"open_orders,omitempty"`
	Quote         *domain.QuotedFee      `json:"quote,omitempty"`
	MarketRate    domain.Amount          `json:"market_rate"`
	ReferenceRate domain.Amount          `json:"reference_rate"`
	Acknowledged  bool                   `json:"acknowledged,omitempty"`

	Quantities engine.Quantities      `json:"quantities"`
	Available  domain.Amount          `json:"available"`
	Fee        engine.FeeDisplay      `json:"fee"`
	Conflicts  []domain.OrderDayGroup `json:"conflicts,omitempty"`
	Error      string                 `json:"error,omitempty"`
	ErrorKind  string                 `json:"error_kind,omitempty"`
}

// New returns an empty form for wallet trading src for dest.
func New(wallet common.Address, src, dest domain.Token, side domain.OrderSide) State {
	s := State{
		Wallet:   wallet,
		Src:      src,
		Dest:     dest,
		Side:     side,
		Balances: domain.BalanceSnapshot{Wallet: wallet},
	}
	s.Quantities = engine.Quantities{Source: src.Zero(), Dest: dest.Zero(), Rate: dest.Zero()}
	return s
}

// rateDecimals is the precision of the rate as the user enters it.
func (s State) rateDecimals() uint8 {
	if s.Side == domain.OrderSideBuy {
		return s.Src.Decimals
	}
	return s.Dest.Decimals
}

// DisplayRate converts the stored rate into the orientation shown to the
// user.
func (s State) DisplayRate() domain.Amount {
	return engine.ConvertRate(s.Quantities.Rate, s.Side, s.Src.Decimals, s.Dest.Decimals)
}

// QuoteKey is the tuple a fee quote must match to be shown.
func (s State) QuoteKey() domain.QuoteKey {
	return domain.NewQuoteKey(s.Wallet, s.Src, s.Dest, s.Quantities.Source, s.Quantities.Dest)
}

// Draft builds the candidate order described by the form.
func (s State) Draft() domain.Order {
	return domain.Order{
		Sender:       s.Wallet,
		Src:          s.Src,
		Dest:         s.Dest,
		SourceAmount: s.Quantities.Source.Raw(),
		TargetRate:   s.Quantities.Rate.Raw(),
		Side:         s.Side,
		State:        domain.OrderStateDraft,
	}
}

// ValidationInput collects what the validator reads from the form. submit
// adds the submit-only checks.
func (s State) ValidationInput(submit bool) engine.Input {
	in := engine.Input{
		Src:           s.Src,
		Dest:          s.Dest,
		Side:          s.Side,
		SourceAmount:  s.Quantities.Source,
		TargetRate:    s.Quantities.Rate,
		Available:     s.Available,
		ReferenceRate: s.ReferenceRate,
		MarketRate:    s.MarketRate,
	}
	if submit {
		in.Submit = &engine.SubmitInput{
			SourceText:        s.SourceText,
			DestText:          s.DestText,
			RateText:          s.RateText,
			PromotionalWallet: s.PromotionalWallet,
		}
	}
	return in
}
