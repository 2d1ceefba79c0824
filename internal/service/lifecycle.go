package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/limitorder/internal/crypto"
	"github.com/alanyoungcy/limitorder/internal/domain"
	"github.com/alanyoungcy/limitorder/internal/engine"
	"github.com/alanyoungcy/limitorder/internal/form"
)

// Stage is where a submission attempt currently stands.
type Stage string

const (
	StageRunning            Stage = "running"
	StageAwaitingAck        Stage = "awaiting_acknowledgement"
	StageAwaitingConversion Stage = "awaiting_conversion"
	StageCompleted          Stage = "completed"
	StageFailed             Stage = "failed"
)

// Steps of a submission, in order.
const (
	stepFetch = iota + 1
	stepConflicts
	stepConversion
	stepSign
)

// CoordinatorConfig carries the settings a submission needs.
type CoordinatorConfig struct {
	Limits       engine.Limits
	GasTier      domain.GasTier
	WrapGasLimit uint64
	// LockTTL bounds how long the distributed submission lock is held.
	LockTTL time.Duration
	// SubmitsPerMinute caps submissions per wallet; zero disables the cap.
	SubmitsPerMinute int
	// PromotionalWallets may not place limit orders.
	PromotionalWallets []common.Address
}

// Submission is the outcome of one call into the coordinator.
type Submission struct {
	AttemptID string       `json:"attempt_id"`
	Stage     Stage        `json:"stage"`
	Order     domain.Order `json:"order"`
	Cancelled []string     `json:"cancelled,omitempty"`
}

type signedPayload struct {
	payload   crypto.OrderPayload
	signature string
}

// attempt is one submission for one wallet. Everything it reads was
// captured when it started or when its fetch step last ran, so background
// refreshes never change an attempt midway.
type attempt struct {
	id           string
	wallet       common.Address
	stage        Stage
	started      time.Time
	expires      time.Time
	form         form.State
	settlements  domain.PendingSettlements
	quote        domain.FeeQuote
	nonce        string
	nonceSaved   bool
	conflicts    []domain.Order
	acknowledged bool
	unlock       func()
}

// Coordinator runs limit order submissions: fee quote, nonce and
// eligibility fetched together, conflict acknowledgement, wrap conversion,
// signing and submission. A wallet has at most one attempt at a time.
type Coordinator struct {
	exchange Exchange
	signer   Signer
	sessions domain.SessionStore
	orders   *OrderService
	locks    domain.LockManager
	limiter  domain.RateLimiter
	metrics  Metrics
	rates    *Rates
	native   domain.Token
	promo    map[common.Address]bool
	cfg      CoordinatorConfig
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	attempts map[common.Address]*attempt
	signed   map[common.Address]signedPayload
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(
	exchange Exchange,
	signer Signer,
	sessions domain.SessionStore,
	orders *OrderService,
	cfg CoordinatorConfig,
	logger *slog.Logger,
) *Coordinator {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	promo := make(map[common.Address]bool, len(cfg.PromotionalWallets))
	for _, w := range cfg.PromotionalWallets {
		promo[w] = true
	}
	return &Coordinator{
		exchange: exchange,
		signer:   signer,
		sessions: sessions,
		orders:   orders,
		metrics:  noopMetrics{},
		promo:    promo,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "lifecycle")),
		now:      func() time.Time { return time.Now().UTC() },
		attempts: make(map[common.Address]*attempt),
		signed:   make(map[common.Address]signedPayload),
	}
}

// WithLocks serialises submissions for a wallet across processes.
func (c *Coordinator) WithLocks(locks domain.LockManager) *Coordinator {
	c.locks = locks
	return c
}

// WithLimiter caps submission frequency per wallet.
func (c *Coordinator) WithLimiter(limiter domain.RateLimiter) *Coordinator {
	c.limiter = limiter
	return c
}

// WithRates makes every attempt load the market rate and the reference
// rate against native itself. Without it both are treated as unknown.
func (c *Coordinator) WithRates(rates *Rates, native domain.Token) *Coordinator {
	c.rates = rates
	c.native = native
	return c
}

// WithMetrics records submission outcomes on m.
func (c *Coordinator) WithMetrics(m Metrics) *Coordinator {
	if m != nil {
		c.metrics = m
	}
	return c
}

// Submit starts a submission for the order described by st. A paused
// attempt returns its stage together with the ConflictingOrdersError or
// ConversionRequiredError that paused it; Acknowledge and
// ConversionCompleted resume it.
func (c *Coordinator) Submit(ctx context.Context, st form.State) (Submission, error) {
	if st.Wallet != c.signer.Address() {
		return Submission{}, fmt.Errorf("lifecycle: wallet %s: %w", st.Wallet.Hex(), domain.ErrUnauthorized)
	}
	att, err := c.begin(ctx, st.Wallet)
	if err != nil {
		return Submission{}, err
	}

	if c.limiter != nil && c.cfg.SubmitsPerMinute > 0 {
		allowed, err := c.limiter.Allow(ctx, "submit:"+st.Wallet.Hex(), c.cfg.SubmitsPerMinute, time.Minute)
		if err != nil {
			return c.fail(ctx, att, domain.Order{}, fmt.Errorf("lifecycle: rate limiter: %w", err))
		}
		if !allowed {
			return c.fail(ctx, att, domain.Order{}, domain.ErrRateLimited)
		}
	}

	st, err = c.capture(ctx, st, att)
	if err != nil {
		return c.fail(ctx, att, domain.Order{}, err)
	}
	if err := form.Check(st, c.cfg.Limits); err != nil {
		return c.fail(ctx, att, domain.Order{}, err)
	}
	att.form = st
	att.acknowledged = st.Acknowledged

	c.logger.InfoContext(ctx, "lifecycle: submission started",
		slog.String("attempt_id", att.id),
		slog.String("wallet", att.wallet.Hex()),
		slog.String("pair", st.Src.Symbol+"/"+st.Dest.Symbol),
		slog.String("side", string(st.Side)),
	)
	return c.run(ctx, att, stepFetch)
}

// Acknowledge records that the user accepts cancelling the conflicting
// orders and resumes the paused attempt at the conversion check.
func (c *Coordinator) Acknowledge(ctx context.Context, wallet common.Address) (Submission, error) {
	att, err := c.resume(ctx, wallet, StageAwaitingAck)
	if err != nil {
		return Submission{}, err
	}
	att.acknowledged = true
	return c.run(ctx, att, stepConversion)
}

// ConversionCompleted resumes an attempt paused for a wrap conversion. The
// balances are fetched again and the attempt restarts from the fetch step,
// since the quote, nonce and eligibility may have gone stale meanwhile.
func (c *Coordinator) ConversionCompleted(ctx context.Context, wallet common.Address) (Submission, error) {
	att, err := c.resume(ctx, wallet, StageAwaitingConversion)
	if err != nil {
		return Submission{}, err
	}
	snap, err := c.exchange.Balances(ctx, wallet)
	if err != nil {
		return c.fail(ctx, att, domain.Order{}, domain.TransientNetworkError{Step: "balances", Err: err})
	}
	if c.sessions != nil {
		if err := c.sessions.SaveBalances(ctx, snap); err != nil {
			c.logger.WarnContext(ctx, "lifecycle: save balances failed",
				slog.String("wallet", wallet.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	att.form.Balances = snap
	if att.form, err = c.loadRates(ctx, att.form); err != nil {
		return c.fail(ctx, att, domain.Order{}, err)
	}
	att.form = form.Recompute(att.form, c.cfg.Limits)
	if err := form.Check(att.form, c.cfg.Limits); err != nil {
		return c.fail(ctx, att, domain.Order{}, err)
	}
	return c.run(ctx, att, stepFetch)
}

// Abandon drops wallet's paused attempt. Orders the exchange already
// accepted are not touched.
func (c *Coordinator) Abandon(ctx context.Context, wallet common.Address) error {
	c.mu.Lock()
	att, ok := c.attempts[wallet]
	if ok && att.stage == StageRunning {
		c.mu.Unlock()
		return domain.ErrSubmissionInFlight
	}
	c.mu.Unlock()
	if !ok {
		return domain.ErrNoPendingAttempt
	}
	c.finish(att)
	c.metrics.ObserveSubmission("abandoned", c.now().Sub(att.started))
	c.logger.InfoContext(ctx, "lifecycle: submission abandoned",
		slog.String("attempt_id", att.id),
		slog.String("wallet", wallet.Hex()),
	)
	return nil
}

// Pending reports wallet's current attempt, if any.
func (c *Coordinator) Pending(wallet common.Address) (Submission, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	att, ok := c.attempts[wallet]
	if !ok || c.expired(att) {
		return Submission{}, false
	}
	return Submission{AttemptID: att.id, Stage: att.stage}, true
}

func (c *Coordinator) begin(ctx context.Context, wallet common.Address) (*attempt, error) {
	c.mu.Lock()
	stale, ok := c.attempts[wallet]
	if ok && !c.expired(stale) {
		c.mu.Unlock()
		return nil, domain.ErrSubmissionInFlight
	}
	now := c.now()
	att := &attempt{
		id:      uuid.NewString(),
		wallet:  wallet,
		stage:   StageRunning,
		started: now,
		expires: now.Add(c.cfg.LockTTL),
	}
	c.attempts[wallet] = att
	c.mu.Unlock()
	if ok {
		c.expire(ctx, stale)
	}

	if c.locks != nil {
		unlock, err := c.locks.Acquire(ctx, "submit:"+wallet.Hex(), c.cfg.LockTTL)
		if err != nil {
			c.finish(att)
			if errors.Is(err, domain.ErrLockHeld) {
				return nil, domain.ErrSubmissionInFlight
			}
			return nil, fmt.Errorf("lifecycle: acquire submission lock: %w", err)
		}
		att.unlock = unlock
	}
	return att, nil
}

func (c *Coordinator) resume(ctx context.Context, wallet common.Address, want Stage) (*attempt, error) {
	c.mu.Lock()
	att, ok := c.attempts[wallet]
	if ok && c.expired(att) {
		delete(c.attempts, wallet)
		c.mu.Unlock()
		c.expire(ctx, att)
		return nil, domain.ErrNoPendingAttempt
	}
	defer c.mu.Unlock()
	switch {
	case !ok:
		return nil, domain.ErrNoPendingAttempt
	case att.stage == StageRunning:
		return nil, domain.ErrSubmissionInFlight
	case att.stage != want:
		return nil, fmt.Errorf("lifecycle: attempt is %s: %w", att.stage, domain.ErrNoPendingAttempt)
	}
	att.stage = StageRunning
	return att, nil
}

func (c *Coordinator) finish(att *attempt) {
	c.mu.Lock()
	if c.attempts[att.wallet] == att {
		delete(c.attempts, att.wallet)
	}
	c.mu.Unlock()
	if att.unlock != nil {
		att.unlock()
	}
}

// expired reports whether a paused attempt has outlived its submission
// lock. Callers hold c.mu.
func (c *Coordinator) expired(att *attempt) bool {
	return att.stage != StageRunning && !c.now().Before(att.expires)
}

// expire releases an attempt already removed from c.attempts.
func (c *Coordinator) expire(ctx context.Context, att *attempt) {
	c.finish(att)
	c.metrics.ObserveSubmission("expired", c.now().Sub(att.started))
	c.logger.InfoContext(ctx, "lifecycle: paused submission expired",
		slog.String("attempt_id", att.id),
		slog.String("wallet", att.wallet.Hex()),
		slog.String("stage", string(att.stage)),
	)
}

// capture replaces the form's balances and open orders with the session
// store's copies, when present, reloads the rates and the wallet's
// promotional flag, and re-derives the form from them. Nothing the client
// posted about rates or wallet type survives.
func (c *Coordinator) capture(ctx context.Context, st form.State, att *attempt) (form.State, error) {
	if c.sessions != nil {
		if snap, err := c.sessions.Balances(ctx, st.Wallet); err == nil {
			st.Balances = snap
		}
		if open, err := c.sessions.OpenOrders(ctx, st.Wallet); err == nil {
			st.OpenOrders = open
		}
		if pending, err := c.sessions.Settlements(ctx, st.Wallet); err == nil {
			att.settlements = pending
		}
	}
	st.PromotionalWallet = c.promo[st.Wallet]
	st, err := c.loadRates(ctx, st)
	if err != nil {
		return st, err
	}
	return form.Recompute(st, c.cfg.Limits), nil
}

// loadRates replaces the form's market and reference rates with freshly
// loaded ones. A reference rate is only needed when the source token is not
// native or wrapped native.
func (c *Coordinator) loadRates(ctx context.Context, st form.State) (form.State, error) {
	st.MarketRate, st.ReferenceRate = domain.Amount{}, domain.Amount{}
	if c.rates == nil {
		return st, nil
	}
	market, err := c.rates.Market(ctx, st.Src, st.Dest)
	if err != nil {
		return st, domain.TransientNetworkError{Step: "market_rate", Err: err}
	}
	st.MarketRate = market
	if st.Src.EthEquivalent() {
		return st, nil
	}
	ref, err := c.rates.Reference(ctx, st.Src, c.native)
	if err != nil {
		return st, domain.TransientNetworkError{Step: "reference_rate", Err: err}
	}
	st.ReferenceRate = ref
	return st, nil
}

func (c *Coordinator) run(ctx context.Context, att *attempt, from int) (Submission, error) {
	if from <= stepFetch {
		if err := c.fetch(ctx, att); err != nil {
			return c.fail(ctx, att, domain.Order{}, err)
		}
	}
	if from <= stepConflicts {
		if err := c.checkConflicts(att); err != nil {
			return c.pause(ctx, att, StageAwaitingAck, err)
		}
	}
	if from <= stepConversion {
		if err := c.checkConversion(ctx, att); err != nil {
			return c.pause(ctx, att, StageAwaitingConversion, err)
		}
	}
	if err := c.claimNonce(ctx, att); err != nil {
		return c.fail(ctx, att, domain.Order{}, err)
	}
	o, err := c.sign(att)
	if err != nil {
		return c.fail(ctx, att, o, err)
	}
	return c.submit(ctx, att, o)
}

// fetch requests the fee quote, nonce and eligibility together. Any failure
// aborts the attempt.
func (c *Coordinator) fetch(ctx context.Context, att *attempt) error {
	key := att.form.QuoteKey()
	var (
		quote    domain.FeeQuote
		nonce    string
		eligible bool
		note     string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		q, err := c.exchange.FeeQuote(gctx, key)
		if err != nil {
			return domain.TransientNetworkError{Step: "fee_quote", Err: err}
		}
		quote = q
		return nil
	})
	g.Go(func() error {
		n, err := c.exchange.Nonce(gctx, att.wallet)
		if err != nil {
			return domain.TransientNetworkError{Step: "nonce", Err: err}
		}
		nonce = n
		return nil
	})
	g.Go(func() error {
		ok, msg, err := c.exchange.Eligibility(gctx, att.wallet)
		if err != nil {
			return domain.TransientNetworkError{Step: "eligibility", Err: err}
		}
		eligible, note = ok, msg
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if !eligible {
		return domain.WalletIneligibleError{Note: note}
	}
	att.quote, att.nonce = quote, nonce

	if c.sessions != nil {
		if err := c.sessions.SaveQuote(ctx, domain.QuotedFee{Key: key, Quote: quote, FetchedAt: c.now()}); err != nil {
			c.logger.WarnContext(ctx, "lifecycle: save quote failed",
				slog.String("attempt_id", att.id),
				slog.String("error", err.Error()),
			)
		}
		err := c.sessions.SaveNonce(ctx, att.wallet, nonce)
		if err != nil {
			c.logger.WarnContext(ctx, "lifecycle: save nonce failed",
				slog.String("attempt_id", att.id),
				slog.String("error", err.Error()),
			)
		}
		att.nonceSaved = err == nil
	}
	return nil
}

// claimNonce consumes the nonce the fetch step stored. A nonce signs at
// most one order: when it is gone or was replaced by another fetch, the
// attempt fails and a new one fetches a fresh nonce.
func (c *Coordinator) claimNonce(ctx context.Context, att *attempt) error {
	if c.sessions == nil || !att.nonceSaved {
		return nil
	}
	att.nonceSaved = false
	n, err := c.sessions.TakeNonce(ctx, att.wallet)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.TransientNetworkError{Step: "nonce", Err: domain.ErrNonceUsed}
	case err != nil:
		c.logger.WarnContext(ctx, "lifecycle: consume nonce failed",
			slog.String("attempt_id", att.id),
			slog.String("error", err.Error()),
		)
	case n != att.nonce:
		return domain.TransientNetworkError{Step: "nonce", Err: domain.ErrNonceUsed}
	}
	return nil
}

func (c *Coordinator) checkConflicts(att *attempt) error {
	att.conflicts = engine.ConflictingOrders(att.form.OpenOrders, att.form.Draft())
	if len(att.conflicts) == 0 || att.acknowledged {
		return nil
	}
	return domain.ConflictingOrdersError{
		Orders: att.conflicts,
		Groups: engine.GroupByDay(att.conflicts),
	}
}

func (c *Coordinator) checkConversion(ctx context.Context, att *attempt) error {
	src := att.form.Src
	if !src.WrappedNative {
		return nil
	}
	snap := att.form.Balances.For(att.wallet)
	settled := domain.NewAmount(snap.Of(src.Address), src.Decimals)
	reserved := engine.PendingReservation(att.form.OpenOrders, att.wallet, src)
	pending := engine.PendingForConversion(reserved, engine.SettlementAmount(att.settlements, src))
	short := engine.ConversionShortfall(src, att.form.Quantities.Source, settled, pending)
	if short.IsZero() {
		return nil
	}
	return domain.ConversionRequiredError{Shortfall: short, EstimatedGasFee: c.wrapFee(ctx)}
}

// wrapFee estimates the gas cost of the wrap conversion; nil when gas
// prices are unavailable.
func (c *Coordinator) wrapFee(ctx context.Context) *big.Int {
	gas, err := c.exchange.GasPrices(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "lifecycle: gas prices unavailable",
			slog.String("error", err.Error()),
		)
		return nil
	}
	return domain.GasFee(c.cfg.GasTier, gas, c.cfg.WrapGasLimit)
}

// sign fills in the nonce and fees and signs the order. The previous
// signature for the wallet is reused when every signed field is identical.
func (c *Coordinator) sign(att *attempt) (domain.Order, error) {
	now := c.now()
	o := att.form.Draft()
	o.ID = uuid.NewString()
	o.Nonce = att.nonce
	o.FeePPM = att.quote.FeePPM()
	o.TransferFeePPM = att.quote.TransferFeePPM()
	o.CreatedAt, o.UpdatedAt = now, now
	if err := o.CheckSubmittable(); err != nil {
		return o, err
	}
	o, err := o.Transition(domain.OrderStatePendingSignature, now)
	if err != nil {
		return o, err
	}

	payload := c.signer.Payload(o)
	c.mu.Lock()
	prev, ok := c.signed[att.wallet]
	c.mu.Unlock()

	sig := prev.signature
	if !ok || !prev.payload.Equal(payload) {
		sig, err = c.signer.SignOrder(o)
		if err != nil {
			return o, domain.SigningError{Err: err}
		}
		c.mu.Lock()
		c.signed[att.wallet] = signedPayload{payload: payload, signature: sig}
		c.mu.Unlock()
	} else {
		c.logger.Debug("lifecycle: reusing signature",
			slog.String("attempt_id", att.id),
		)
	}
	o.Signature = sig
	return o.Transition(domain.OrderStatePendingSubmission, now)
}

func (c *Coordinator) submit(ctx context.Context, att *attempt, o domain.Order) (Submission, error) {
	accepted, err := c.exchange.SubmitOrder(ctx, o)
	if err != nil {
		var rej domain.SubmissionRejectedError
		if errors.As(err, &rej) {
			o, _ = o.Transition(domain.OrderStateRejected, c.now())
			o.Reason = rej.Message
			c.orders.record(ctx, o, domain.OrderEventRejected)
			return c.fail(ctx, att, o, rej)
		}
		return c.fail(ctx, att, o, domain.TransientNetworkError{Step: "submit_order", Err: err})
	}

	if accepted.ID != "" {
		o.ID = accepted.ID
	}
	o, _ = o.Transition(domain.OrderStateOpen, c.now())

	c.mu.Lock()
	delete(c.signed, att.wallet)
	c.mu.Unlock()
	c.orders.record(ctx, o, domain.OrderEventAccepted)
	c.orders.addOpen(ctx, att.wallet, o)

	var cancelled []string
	for _, conflict := range att.conflicts {
		if _, err := c.orders.cancel(ctx, att.wallet, conflict); err != nil {
			c.logger.ErrorContext(ctx, "lifecycle: cancel conflicting order failed",
				slog.String("attempt_id", att.id),
				slog.String("order_id", conflict.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		cancelled = append(cancelled, conflict.ID)
	}

	c.finish(att)
	c.metrics.ObserveSubmission("accepted", c.now().Sub(att.started))
	c.logger.InfoContext(ctx, "lifecycle: order accepted",
		slog.String("attempt_id", att.id),
		slog.String("order_id", o.ID),
		slog.Int("cancelled", len(cancelled)),
	)
	return Submission{AttemptID: att.id, Stage: StageCompleted, Order: o, Cancelled: cancelled}, nil
}

func (c *Coordinator) pause(ctx context.Context, att *attempt, stage Stage, err error) (Submission, error) {
	c.mu.Lock()
	att.stage = stage
	c.mu.Unlock()
	c.metrics.ObserveSubmission(string(stage), c.now().Sub(att.started))
	c.logger.InfoContext(ctx, "lifecycle: submission paused",
		slog.String("attempt_id", att.id),
		slog.String("stage", string(stage)),
		slog.String("reason", err.Error()),
	)
	return Submission{AttemptID: att.id, Stage: stage, Order: att.form.Draft()}, err
}

func (c *Coordinator) fail(ctx context.Context, att *attempt, o domain.Order, err error) (Submission, error) {
	c.finish(att)
	outcome := "error"
	if kind, ok := domain.ErrorKind(err); ok {
		outcome = kind
	} else if errors.Is(err, domain.ErrRateLimited) {
		outcome = "rate_limited"
	}
	c.metrics.ObserveSubmission(outcome, c.now().Sub(att.started))
	c.logger.WarnContext(ctx, "lifecycle: submission failed",
		slog.String("attempt_id", att.id),
		slog.String("wallet", att.wallet.Hex()),
		slog.String("outcome", outcome),
		slog.String("error", err.Error()),
	)
	if o.ID == "" {
		o = att.form.Draft()
	}
	return Submission{AttemptID: att.id, Stage: StageFailed, Order: o}, err
}
