package domain

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidOrder       = errors.New("invalid order parameters")
	ErrInvalidTransition  = errors.New("invalid order state transition")
	ErrLockHeld           = errors.New("lock already held")
	ErrWSDisconnect       = errors.New("websocket disconnected")
	ErrUnavailable        = errors.New("service unavailable")
	ErrSubmissionInFlight = errors.New("a submission is already in flight for this wallet")
	ErrNoPendingAttempt   = errors.New("no paused submission for this wallet")
	ErrUnknownToken       = errors.New("unknown token")
	ErrNonceUsed          = errors.New("nonce already used")
)

// Error kinds are stable codes surfaced to API clients.
const (
	KindSameToken           = "same_token"
	KindInsufficientBalance = "insufficient_balance"
	KindNotionalTooSmall    = "notional_too_small"
	KindNotionalTooLarge    = "notional_too_large"
	KindInvalidRate         = "invalid_rate"
	KindConversionRequired  = "conversion_required"
	KindConflictingOrders   = "conflicting_orders"
	KindWalletIneligible    = "wallet_ineligible"
	KindSigning             = "signing_failed"
	KindSubmissionRejected  = "submission_rejected"
	KindTransientNetwork    = "transient_network"
	KindMissingField        = "missing_field"
)

// KindError is implemented by every user-facing error.
type KindError interface {
	error
	Kind() string
}

// ErrorKind returns the kind of the first KindError in err's chain.
func ErrorKind(err error) (string, bool) {
	var ke KindError
	if errors.As(err, &ke) {
		return ke.Kind(), true
	}
	return "", false
}

type SameTokenError struct {
	Symbol string
}

func (e SameTokenError) Error() string {
	return fmt.Sprintf("source and destination token are both %s", e.Symbol)
}
func (SameTokenError) Kind() string { return KindSameToken }

type InsufficientBalanceError struct {
	Symbol    string
	Required  Amount
	Available Amount
}

func (e InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: required %s, available %s", e.Symbol, e.Required, e.Available)
}
func (InsufficientBalanceError) Kind() string { return KindInsufficientBalance }

type NotionalTooSmallError struct {
	Notional Amount
	Min      Amount
}

func (e NotionalTooSmallError) Error() string {
	return fmt.Sprintf("order value %s ETH is below the minimum %s ETH", e.Notional, e.Min)
}
func (NotionalTooSmallError) Kind() string { return KindNotionalTooSmall }

type NotionalTooLargeError struct {
	Notional Amount
	Max      Amount
}

func (e NotionalTooLargeError) Error() string {
	return fmt.Sprintf("order value %s ETH is above the maximum %s ETH", e.Notional, e.Max)
}
func (NotionalTooLargeError) Kind() string { return KindNotionalTooLarge }

// Reasons carried by InvalidRateError.
const (
	RateReasonEmpty   = "rate is empty"
	RateReasonZero    = "rate must be greater than zero"
	RateReasonCeiling = "rate exceeds the market rate ceiling"
)

type InvalidRateError struct {
	Reason string
}

func (e InvalidRateError) Error() string { return "invalid rate: " + e.Reason }
func (InvalidRateError) Kind() string    { return KindInvalidRate }

// ConversionRequiredError redirects the user to convert native to wrapped
// before the order can be placed.
type ConversionRequiredError struct {
	Shortfall       Amount
	EstimatedGasFee *big.Int
}

func (e ConversionRequiredError) Error() string {
	return fmt.Sprintf("conversion required: wrap at least %s before placing this order", e.Shortfall)
}
func (ConversionRequiredError) Kind() string { return KindConversionRequired }

// ConflictingOrdersError lists open orders that will be cancelled if the
// new order proceeds.
type ConflictingOrdersError struct {
	Orders []Order
	Groups []OrderDayGroup
}

func (e ConflictingOrdersError) Error() string {
	return fmt.Sprintf("%d open order(s) must be cancelled before this order can be placed", len(e.Orders))
}
func (ConflictingOrdersError) Kind() string { return KindConflictingOrders }

type WalletIneligibleError struct {
	Note string
}

func (e WalletIneligibleError) Error() string {
	if e.Note == "" {
		return "wallet is not eligible to place limit orders"
	}
	return "wallet is not eligible to place limit orders: " + e.Note
}
func (WalletIneligibleError) Kind() string { return KindWalletIneligible }

type SigningError struct {
	Err error
}

func (e SigningError) Error() string { return "signing failed: " + e.Err.Error() }
func (e SigningError) Unwrap() error { return e.Err }
func (SigningError) Kind() string    { return KindSigning }

// SubmissionRejectedError carries the server's message verbatim.
type SubmissionRejectedError struct {
	Message string
}

func (e SubmissionRejectedError) Error() string { return e.Message }
func (SubmissionRejectedError) Kind() string    { return KindSubmissionRejected }

// TransientNetworkError wraps a failed pre-submission fetch. The attempt may
// be retried unchanged.
type TransientNetworkError struct {
	Step string
	Err  error
}

func (e TransientNetworkError) Error() string { return e.Step + ": " + e.Err.Error() }
func (e TransientNetworkError) Unwrap() error { return e.Err }
func (TransientNetworkError) Kind() string    { return KindTransientNetwork }

// MissingFieldError is returned by submit-time checks on empty form input.
type MissingFieldError struct {
	Field string
}

func (e MissingFieldError) Error() string { return e.Field + " is required" }
func (MissingFieldError) Kind() string    { return KindMissingField }
