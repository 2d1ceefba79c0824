package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/limitorder/internal/crypto"
	"github.com/alanyoungcy/limitorder/internal/domain"
	"github.com/alanyoungcy/limitorder/internal/engine"
	"github.com/alanyoungcy/limitorder/internal/form"
)

var (
	wallet = common.HexToAddress("0x1111111111111111111111111111111111111111")
	other  = common.HexToAddress("0x2222222222222222222222222222222222222222")

	eth  = domain.Token{Address: domain.NativeAddress, Symbol: "ETH", Decimals: 18, Native: true}
	weth = domain.Token{Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Symbol: "WETH", Decimals: 18, WrappedNative: true}
	knc  = domain.Token{Address: common.HexToAddress("0xdd974D5C2e2928deA5F71b9825b8b646686BD200"), Symbol: "KNC", Decimals: 18}
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func units(t *testing.T, s string, tok domain.Token) *big.Int {
	t.Helper()
	a, err := tok.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return a.Raw()
}

func testLimits(t *testing.T) engine.Limits {
	t.Helper()
	lo, _ := eth.Parse("0.001")
	hi, _ := eth.Parse("10")
	return engine.Limits{MinNotional: lo, MaxNotional: hi, RateCeilingMultiplier: 10}
}

// fakeExchange is an in-memory order service.
type fakeExchange struct {
	mu sync.Mutex

	gate      chan struct{}
	quote     domain.FeeQuote
	nonce     string
	eligible  bool
	note      string
	quoteErr  error
	nonceErr  error
	eligErr   error
	balances  domain.BalanceSnapshot
	gas       domain.GasSnapshot
	open      []domain.Order
	pending   domain.PendingSettlements
	balErr    error
	cancelAck bool
	market    *big.Int
	reference *big.Int

	submitErrs []error
	submitted  []domain.Order
	cancelled  []string
	nonceCalls int
	refCalls   int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		nonce:     "nonce-1",
		eligible:  true,
		cancelAck: true,
		gas:       domain.GasSnapshot{Slow: big.NewInt(5e9), Standard: big.NewInt(10e9), Fast: big.NewInt(20e9)},
	}
}

func (f *fakeExchange) FeeQuote(ctx context.Context, _ domain.QuoteKey) (domain.FeeQuote, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.FeeQuote{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quote, f.quoteErr
}

func (f *fakeExchange) Nonce(_ context.Context, _ common.Address) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonceCalls++
	return f.nonce, f.nonceErr
}

func (f *fakeExchange) Eligibility(_ context.Context, _ common.Address) (bool, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eligible, f.note, f.eligErr
}

func (f *fakeExchange) SubmitOrder(_ context.Context, o domain.Order) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		if err != nil {
			return domain.Order{}, err
		}
	}
	f.submitted = append(f.submitted, o)
	o.ID = fmt.Sprintf("srv-%d", len(f.submitted))
	return o, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, _ common.Address, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelAck {
		f.cancelled = append(f.cancelled, id)
	}
	return f.cancelAck, nil
}

func (f *fakeExchange) Balances(_ context.Context, w common.Address) (domain.BalanceSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := f.balances
	snap.Wallet = w
	return snap, f.balErr
}

func (f *fakeExchange) GasPrices(context.Context) (domain.GasSnapshot, error) {
	return f.gas, nil
}

func (f *fakeExchange) OpenOrders(_ context.Context, _, _, _ common.Address) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Order(nil), f.open...), nil
}

func (f *fakeExchange) PendingSettlements(context.Context, common.Address) (domain.PendingSettlements, error) {
	return f.pending, nil
}

func (f *fakeExchange) MarketRate(context.Context, common.Address, common.Address) (*big.Int, error) {
	return f.market, nil
}

func (f *fakeExchange) ReferenceRate(context.Context, common.Address, common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refCalls++
	return f.reference, nil
}

func (f *fakeExchange) submissions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

// fakeSigner counts signatures.
type fakeSigner struct {
	addr  common.Address
	calls int
	err   error
}

func (s *fakeSigner) Address() common.Address { return s.addr }

func (s *fakeSigner) Payload(o domain.Order) crypto.OrderPayload {
	return crypto.PayloadFor(s.addr, o)
}

func (s *fakeSigner) SignOrder(o domain.Order) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if o.Nonce == "" {
		return "", errors.New("missing nonce")
	}
	s.calls++
	return fmt.Sprintf("sig-%d", s.calls), nil
}

// memSessions is an in-memory domain.SessionStore.
type memSessions struct {
	mu       sync.Mutex
	balances map[common.Address]domain.BalanceSnapshot
	open     map[common.Address][]domain.Order
	settle   map[common.Address]domain.PendingSettlements
	quotes   map[common.Address]domain.QuotedFee
	nonces   map[common.Address]string
}

var _ domain.SessionStore = (*memSessions)(nil)

func newMemSessions() *memSessions {
	return &memSessions{
		balances: map[common.Address]domain.BalanceSnapshot{},
		open:     map[common.Address][]domain.Order{},
		settle:   map[common.Address]domain.PendingSettlements{},
		quotes:   map[common.Address]domain.QuotedFee{},
		nonces:   map[common.Address]string{},
	}
}

func (m *memSessions) SaveBalances(_ context.Context, snap domain.BalanceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[snap.Wallet] = snap
	return nil
}

func (m *memSessions) Balances(_ context.Context, w common.Address) (domain.BalanceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.balances[w]
	if !ok {
		return domain.BalanceSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (m *memSessions) SaveOpenOrders(_ context.Context, w common.Address, orders []domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open[w] = append([]domain.Order(nil), orders...)
	return nil
}

func (m *memSessions) OpenOrders(_ context.Context, w common.Address) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	orders, ok := m.open[w]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]domain.Order(nil), orders...), nil
}

func (m *memSessions) SaveSettlements(_ context.Context, w common.Address, p domain.PendingSettlements) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settle[w] = p
	return nil
}

func (m *memSessions) Settlements(_ context.Context, w common.Address) (domain.PendingSettlements, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.settle[w]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (m *memSessions) SaveQuote(_ context.Context, q domain.QuotedFee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[q.Key.Wallet] = q
	return nil
}

func (m *memSessions) Quote(_ context.Context, w common.Address) (domain.QuotedFee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[w]
	if !ok {
		return domain.QuotedFee{}, domain.ErrNotFound
	}
	return q, nil
}

func (m *memSessions) SaveNonce(_ context.Context, w common.Address, nonce string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonces[w] = nonce
	return nil
}

func (m *memSessions) TakeNonce(_ context.Context, w common.Address) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nonces[w]
	if !ok {
		return "", domain.ErrNotFound
	}
	delete(m.nonces, w)
	return n, nil
}

func (m *memSessions) Clear(_ context.Context, w common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.balances, w)
	delete(m.open, w)
	delete(m.settle, w)
	delete(m.quotes, w)
	delete(m.nonces, w)
	return nil
}

// memOrders is an in-memory domain.OrderStore.
type memOrders struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

var _ domain.OrderStore = (*memOrders)(nil)

func newMemOrders(seed ...domain.Order) *memOrders {
	m := &memOrders{orders: map[string]domain.Order{}}
	for _, o := range seed {
		m.orders[o.ID] = o
	}
	return m
}

func (m *memOrders) Create(_ context.Context, o domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return domain.ErrAlreadyExists
	}
	m.orders[o.ID] = o
	return nil
}

func (m *memOrders) UpdateState(_ context.Context, id string, state domain.OrderState, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.State, o.Reason = state, reason
	m.orders[id] = o
	return nil
}

func (m *memOrders) GetByID(_ context.Context, id string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (m *memOrders) List(_ context.Context, f domain.OrderFilter, _ domain.ListOpts) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if f.Wallet != (common.Address{}) && o.Sender != f.Wallet {
			continue
		}
		if len(f.States) > 0 {
			match := false
			for _, s := range f.States {
				match = match || o.State == s
			}
			if !match {
				continue
			}
		}
		out = append(out, o)
	}
	return out, nil
}

func (m *memOrders) ListTerminalBefore(_ context.Context, before time.Time) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if o.State.Terminal() && o.UpdatedAt.Before(before) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memOrders) DeleteByIDs(_ context.Context, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := m.orders[id]; ok {
			delete(m.orders, id)
			n++
		}
	}
	return n, nil
}

func (m *memOrders) get(t *testing.T, id string) domain.Order {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		t.Fatalf("order %q not stored", id)
	}
	return o
}

// memAudit records audit events.
type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

// orderForm builds a form for wallet with the given text inputs.
func orderForm(t *testing.T, src, dest domain.Token, side domain.OrderSide, amount, rate string) form.State {
	t.Helper()
	s := form.New(wallet, src, dest, side)
	for _, a := range []form.Action{
		{Type: form.ActionEditSource, Text: amount},
		{Type: form.ActionEditRate, Text: rate},
	} {
		var err error
		if s, err = form.Reduce(s, a, testLimits(t)); err != nil {
			t.Fatalf("Reduce(%s): %v", a.Type, err)
		}
	}
	return s
}
