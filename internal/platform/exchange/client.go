// Package exchange is the client for the limit order service: fee quotes,
// replay nonces, eligibility, open orders, settlements, submission,
// cancellation, reference prices and the order status stream.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/limitorder/internal/crypto"
	"github.com/alanyoungcy/limitorder/internal/domain"
)

// Config tunes the REST client.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	BreakerFailures   uint32
	BreakerTimeout    time.Duration
}

// Client is the REST client for the order service. Requests are paced by a
// token bucket and guarded by a circuit breaker; client errors (4xx) do not
// count against the breaker.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
	tokens     *domain.TokenRegistry
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *slog.Logger
}

// NewClient creates an order service client. auth may be nil for
// unauthenticated deployments.
func NewClient(cfg Config, auth *crypto.HMACAuth, tokens *domain.TokenRegistry, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	logger = logger.With(slog.String("component", "exchange"))

	c := &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		auth:       auth,
		tokens:     tokens,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:     logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "exchange",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isClientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("exchange: circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return c
}

// FeeQuote asks for the fee schedule for the exact tuple in key.
func (c *Client) FeeQuote(ctx context.Context, key domain.QuoteKey) (domain.FeeQuote, error) {
	q := url.Values{
		"address":     {key.Wallet.Hex()},
		"src":         {key.Src.Hex()},
		"dest":        {key.Dest.Hex()},
		"src_amount":  {key.SrcAmount},
		"dest_amount": {key.DestAmount},
	}
	var out APIFeeQuote
	if err := c.getJSON(ctx, key.Wallet, "/api/fee", q, &out); err != nil {
		return domain.FeeQuote{}, fmt.Errorf("exchange: fee quote: %w", err)
	}
	quote, err := out.ToDomain()
	if err != nil {
		return domain.FeeQuote{}, fmt.Errorf("exchange: fee quote: %w", err)
	}
	return quote, nil
}

// Nonce fetches a fresh single-use replay nonce for wallet's session.
func (c *Client) Nonce(ctx context.Context, wallet common.Address) (string, error) {
	var out struct {
		Nonce string `json:"nonce"`
	}
	if err := c.getJSON(ctx, wallet, "/api/nonce", nil, &out); err != nil {
		return "", fmt.Errorf("exchange: nonce: %w", err)
	}
	if out.Nonce == "" {
		return "", errors.New("exchange: nonce: empty nonce in response")
	}
	return out.Nonce, nil
}

// Eligibility reports whether wallet may place limit orders.
func (c *Client) Eligibility(ctx context.Context, wallet common.Address) (bool, string, error) {
	var out APIEligibility
	q := url.Values{"address": {wallet.Hex()}}
	if err := c.getJSON(ctx, wallet, "/api/eligibility", q, &out); err != nil {
		return false, "", fmt.Errorf("exchange: eligibility: %w", err)
	}
	return out.Eligible, out.Note, nil
}

// OpenOrders lists wallet's orders for a pair. Zero addresses list every
// pair. Orders naming unknown tokens are skipped.
func (c *Client) OpenOrders(ctx context.Context, wallet, src, dest common.Address) ([]domain.Order, error) {
	q := url.Values{"address": {wallet.Hex()}}
	if src != (common.Address{}) {
		q.Set("src", src.Hex())
	}
	if dest != (common.Address{}) {
		q.Set("dest", dest.Hex())
	}
	var out []APIOrder
	if err := c.getJSON(ctx, wallet, "/api/orders", q, &out); err != nil {
		return nil, fmt.Errorf("exchange: open orders: %w", err)
	}
	orders := make([]domain.Order, 0, len(out))
	for _, a := range out {
		o, err := a.ToDomain(c.tokens)
		if err != nil {
			c.logger.WarnContext(ctx, "exchange: skipping order",
				slog.String("order_id", a.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// PendingSettlements returns amounts still settling per token symbol.
func (c *Client) PendingSettlements(ctx context.Context, wallet common.Address) (domain.PendingSettlements, error) {
	out := domain.PendingSettlements{}
	q := url.Values{"address": {wallet.Hex()}}
	if err := c.getJSON(ctx, wallet, "/api/pending-balances", q, &out); err != nil {
		return nil, fmt.Errorf("exchange: pending settlements: %w", err)
	}
	return out, nil
}

// Balances returns wallet's on-chain balances as seen by the service.
func (c *Client) Balances(ctx context.Context, wallet common.Address) (domain.BalanceSnapshot, error) {
	var out APIBalances
	q := url.Values{"address": {wallet.Hex()}}
	if err := c.getJSON(ctx, wallet, "/api/balances", q, &out); err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("exchange: balances: %w", err)
	}
	if out.Address == "" {
		out.Address = wallet.Hex()
	}
	snap, err := out.ToDomain(time.Now().UTC())
	if err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("exchange: balances: %w", err)
	}
	return snap, nil
}

// SubmitOrder posts a signed order. A refusal is returned as
// domain.SubmissionRejectedError carrying the service's message verbatim.
func (c *Client) SubmitOrder(ctx context.Context, o domain.Order) (domain.Order, error) {
	body, err := c.do(ctx, o.Sender, http.MethodPost, "/api/orders", nil, FromDomain(o))
	var res APISubmitResult
	if err != nil {
		var he *HTTPError
		if errors.As(err, &he) && he.Status >= 400 && he.Status < 500 && json.Unmarshal(he.Body, &res) == nil && res.Message != "" {
			return domain.Order{}, domain.SubmissionRejectedError{Message: res.Message}
		}
		return domain.Order{}, fmt.Errorf("exchange: submit order: %w", err)
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return domain.Order{}, fmt.Errorf("exchange: decode submit result: %w", err)
	}
	if !res.Success {
		return domain.Order{}, domain.SubmissionRejectedError{Message: res.Message}
	}
	accepted, err := res.Order.ToDomain(c.tokens)
	if err != nil {
		return domain.Order{}, fmt.Errorf("exchange: decode accepted order: %w", err)
	}
	return accepted, nil
}

// CancelOrder asks the service to cancel id and reports whether it
// acknowledged.
func (c *Client) CancelOrder(ctx context.Context, wallet common.Address, id string) (bool, error) {
	body, err := c.do(ctx, wallet, http.MethodDelete, "/api/orders/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return false, fmt.Errorf("exchange: cancel order %s: %w", id, err)
	}
	var res struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return false, fmt.Errorf("exchange: decode cancel result: %w", err)
	}
	return res.Success, nil
}

// MarketRate returns the live rate for a pair, or zero when none is known.
func (c *Client) MarketRate(ctx context.Context, src, dest common.Address) (*big.Int, error) {
	return c.rate(ctx, "/api/rates/market", src, dest)
}

// ReferenceRate returns the cached production rate for a pair, or zero.
func (c *Client) ReferenceRate(ctx context.Context, src, dest common.Address) (*big.Int, error) {
	return c.rate(ctx, "/api/rates/reference", src, dest)
}

// GasPrices returns the current gas price tiers.
func (c *Client) GasPrices(ctx context.Context) (domain.GasSnapshot, error) {
	var out APIGas
	if err := c.getJSON(ctx, common.Address{}, "/api/gas", nil, &out); err != nil {
		return domain.GasSnapshot{}, fmt.Errorf("exchange: gas prices: %w", err)
	}
	snap, err := out.ToDomain()
	if err != nil {
		return domain.GasSnapshot{}, fmt.Errorf("exchange: gas prices: %w", err)
	}
	return snap, nil
}

func (c *Client) rate(ctx context.Context, path string, src, dest common.Address) (*big.Int, error) {
	var out APIRate
	q := url.Values{"src": {src.Hex()}, "dest": {dest.Hex()}}
	if err := c.getJSON(ctx, common.Address{}, path, q, &out); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return new(big.Int), nil
		}
		return nil, fmt.Errorf("exchange: rate: %w", err)
	}
	n, err := parseInt(out.Rate)
	if err != nil {
		return nil, fmt.Errorf("exchange: rate: %w", err)
	}
	return n, nil
}

func (c *Client) getJSON(ctx context.Context, wallet common.Address, path string, q url.Values, out any) error {
	body, err := c.do(ctx, wallet, http.MethodGet, path, q, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// do paces, guards, signs and sends one request and returns the body.
func (c *Client) do(ctx context.Context, wallet common.Address, method, path string, q url.Values, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		payload = b
	}

	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	resp, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.auth != nil {
			for k, v := range c.auth.Headers(wallet.Hex(), method, path, string(payload)) {
				req.Header.Set(k, v)
			}
		}

		res, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http request: %w", err)
		}
		defer res.Body.Close()

		data, err := io.ReadAll(res.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if err := checkHTTPStatus(res.StatusCode, data); err != nil {
			return nil, err
		}
		return data, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	return resp, err
}

// HTTPError is a non-2xx response.
type HTTPError struct {
	Status int
	Body   []byte
	kind   error
}

func (e *HTTPError) Error() string {
	if e.kind != nil {
		return fmt.Sprintf("%v (HTTP %d): %s", e.kind, e.Status, e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

func (e *HTTPError) Unwrap() error { return e.kind }

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	he := &HTTPError{Status: status, Body: body}
	switch status {
	case http.StatusNotFound:
		he.kind = domain.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		he.kind = domain.ErrUnauthorized
	case http.StatusTooManyRequests:
		he.kind = domain.ErrRateLimited
	}
	return he
}

func isClientError(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.Status >= 400 && he.Status < 500 && he.Status != http.StatusTooManyRequests
}
