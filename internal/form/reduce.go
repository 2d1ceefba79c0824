package form

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/limitorder/internal/domain"
	"github.com/alanyoungcy/limitorder/internal/engine"
)

// ActionType names a form transition.
type ActionType string

const (
	ActionEditSource          ActionType = "edit_source"
	ActionEditDest            ActionType = "edit_dest"
	ActionEditRate            ActionType = "edit_rate"
	ActionFocus               ActionType = "focus"
	ActionSetSide             ActionType = "set_side"
	ActionSetPair             ActionType = "set_pair"
	ActionUseAllBalance       ActionType = "use_all_balance"
	ActionSwitchWallet        ActionType = "switch_wallet"
	ActionBalancesLoaded      ActionType = "balances_loaded"
	ActionOpenOrdersLoaded    ActionType = "open_orders_loaded"
	ActionQuoteLoaded         ActionType = "quote_loaded"
	ActionMarketRateLoaded    ActionType = "market_rate_loaded"
	ActionReferenceRateLoaded ActionType = "reference_rate_loaded"
	ActionAcknowledge         ActionType = "acknowledge"
)

// ErrUnknownAction is returned for an action type Reduce does not handle.
var ErrUnknownAction = errors.New("form: unknown action")

// KindMalformedInput marks a form whose edited field does not parse.
const KindMalformedInput = "malformed_input"

// Action is one transition request. Only the fields relevant to Type are
// read.
type Action struct {
	Type        ActionType              `json:"type"`
	Text        string                  `json:"text,omitempty"`
	Field       engine.Field            `json:"field,omitempty"`
	Side        domain.OrderSide        `json:"side,omitempty"`
	Src         *domain.Token           `json:"src,omitempty"`
	Dest        *domain.Token           `json:"dest,omitempty"`
	Wallet      common.Address          `json:"wallet,omitempty"`
	Promotional bool                    `json:"promotional,omitempty"`
	Balances    *domain.BalanceSnapshot `json:"balances,omitempty"`
	Orders      []domain.Order          `json:"orders,omitempty"`
	Quote       *domain.QuotedFee       `json:"quote,omitempty"`
	Rate        *domain.Amount          `json:"rate,omitempty"`
	Flag        bool                    `json:"flag,omitempty"`
}

// Reduce applies a to s and returns the recomputed state.
func Reduce(s State, a Action, limits engine.Limits) (State, error) {
	switch a.Type {
	case ActionEditSource:
		s = focus(s, engine.FieldSource)
		s.UseAllBalance = false
		s.SourceText = a.Text
	case ActionEditDest:
		s = focus(s, engine.FieldDest)
		s.UseAllBalance = false
		s.DestText = a.Text
	case ActionEditRate:
		s = focus(s, engine.FieldRate)
		s.RateText = a.Text
	case ActionFocus:
		if !a.Field.Valid() {
			return s, fmt.Errorf("%w: focus on %q", ErrUnknownAction, a.Field)
		}
		s = focus(s, a.Field)
		return Recompute(s, limits), nil
	case ActionSetSide:
		if !a.Side.Valid() {
			return s, fmt.Errorf("%w: side %q", ErrUnknownAction, a.Side)
		}
		if a.Side != s.Side {
			s.Side = a.Side
			s.RateText = render(s.DisplayRate())
			s.Acknowledged = false
		}
	case ActionSetPair:
		if a.Src == nil || a.Dest == nil {
			return s, fmt.Errorf("%w: set_pair needs src and dest", ErrUnknownAction)
		}
		s.Src, s.Dest = *a.Src, *a.Dest
		s.Quote = nil
		s.MarketRate = domain.Amount{}
		s.ReferenceRate = domain.Amount{}
		s.Acknowledged = false
	case ActionUseAllBalance:
		s = focus(s, engine.FieldSource)
		s.UseAllBalance = true
	case ActionSwitchWallet:
		s.Wallet = a.Wallet
		s.PromotionalWallet = a.Promotional
		s.Balances = domain.BalanceSnapshot{Wallet: a.Wallet}
		s.OpenOrders = nil
		s.Quote = nil
		s.Acknowledged = false
		s.UseAllBalance = false
	case ActionBalancesLoaded:
		if a.Balances == nil || a.Balances.Wallet != s.Wallet {
			return Recompute(s, limits), nil
		}
		s.Balances = *a.Balances
	case ActionOpenOrdersLoaded:
		s.OpenOrders = ownOrders(a.Orders, s.Wallet)
	case ActionQuoteLoaded:
		if a.Quote != nil && a.Quote.Key.Wallet == s.Wallet {
			q := *a.Quote
			s.Quote = &q
		}
	case ActionMarketRateLoaded:
		s.MarketRate = rateOrZero(a.Rate)
	case ActionReferenceRateLoaded:
		s.ReferenceRate = rateOrZero(a.Rate)
	case ActionAcknowledge:
		s.Acknowledged = a.Flag
	default:
		return s, fmt.Errorf("%w: %q", ErrUnknownAction, a.Type)
	}
	return Recompute(s, limits), nil
}

func focus(s State, f engine.Field) State {
	if s.Focused != f {
		s.PrevFocused = s.Focused
		s.Focused = f
	}
	return s
}

func ownOrders(orders []domain.Order, wallet common.Address) []domain.Order {
	out := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		if o.Sender == wallet {
			out = append(out, o)
		}
	}
	return out
}

func rateOrZero(r *domain.Amount) domain.Amount {
	if r == nil {
		return domain.Amount{}
	}
	return *r
}

func render(a domain.Amount) string {
	if a.IsZero() {
		return ""
	}
	return a.String()
}

// Recompute re-derives every dependent value from the inputs. It runs after
// each reduction whether or not the focused field changed, so a balance
// update that moves an all-balance source amount also refreshes the
// destination, fee, conflicts and verdict.
func Recompute(s State, limits engine.Limits) State {
	s.Error, s.ErrorKind = "", ""
	s.Available = engine.Available(s.Balances, s.OpenOrders, s.Wallet, s.Src)

	q, parseErr := parseInputs(s)
	if s.UseAllBalance {
		q.Source = s.Available
		s.SourceText = render(s.Available)
	}

	target := engine.FieldToDerive(s.Focused, s.PrevFocused)
	q = engine.Derive(q, target, s.Src, s.Dest)
	s.Quantities = q
	switch target {
	case engine.FieldSource:
		s.SourceText = render(q.Source)
	case engine.FieldDest:
		s.DestText = render(q.Dest)
	case engine.FieldRate:
		s.RateText = render(s.DisplayRate())
	}

	s.Fee = engine.DisplayFee(s.Quote, s.QuoteKey(), s.Src, q.Source)

	s.Conflicts = nil
	if conflicts := engine.ConflictingOrders(s.OpenOrders, s.Draft()); len(conflicts) > 0 {
		s.Conflicts = engine.GroupByDay(conflicts)
	}

	if parseErr != nil {
		s.Error, s.ErrorKind = parseErr.Error(), KindMalformedInput
		return s
	}
	if s.SourceText == "" && s.DestText == "" {
		return s
	}
	if err := engine.Validate(s.ValidationInput(false), limits); err != nil {
		s.Error = err.Error()
		s.ErrorKind, _ = domain.ErrorKind(err)
	}
	return s
}

// Check runs the full validator, including the submit-only predicates.
func Check(s State, limits engine.Limits) error {
	if _, err := parseInputs(s); err != nil {
		return err
	}
	return engine.Validate(s.ValidationInput(true), limits)
}

// parseInputs reads the three text fields. Empty fields parse as zero; the
// first malformed one is reported.
func parseInputs(s State) (engine.Quantities, error) {
	var firstErr error
	parse := func(text string, decimals uint8) domain.Amount {
		if text == "" {
			return domain.ZeroAmount(decimals)
		}
		a, err := domain.ParseAmount(text, decimals)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return domain.ZeroAmount(decimals)
		}
		return a
	}
	display := parse(s.RateText, s.rateDecimals())
	q := engine.Quantities{
		Source: parse(s.SourceText, s.Src.Decimals),
		Dest:   parse(s.DestText, s.Dest.Decimals),
		Rate:   engine.ConvertRate(display, s.Side, s.Src.Decimals, s.Dest.Decimals),
	}
	return q, firstErr
}
