package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/limitorder/internal/domain"
)

// DefaultSessionTTL bounds how long an idle wallet's session survives.
const DefaultSessionTTL = 24 * time.Hour

// Session fields, one key each.
const (
	fieldBalances    = "balances"
	fieldOpen        = "open"
	fieldSettlements = "settlements"
	fieldQuote       = "quote"
	fieldNonce       = "nonce"
)

var sessionFields = []string{fieldBalances, fieldOpen, fieldSettlements, fieldQuote, fieldNonce}

// SessionStore implements domain.SessionStore with one JSON string per
// wallet and field.
//
// Key schema:
//
//	{prefix}:session:{wallet}:balances     - BalanceSnapshot
//	{prefix}:session:{wallet}:open         - []Order
//	{prefix}:session:{wallet}:settlements  - PendingSettlements
//	{prefix}:session:{wallet}:quote        - QuotedFee
//	{prefix}:session:{wallet}:nonce        - plain string, consumed by GETDEL
type SessionStore struct {
	c   *Client
	ttl time.Duration
}

// NewSessionStore creates a SessionStore; a zero ttl uses DefaultSessionTTL.
func NewSessionStore(c *Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{c: c, ttl: ttl}
}

func (s *SessionStore) sessionKey(wallet common.Address, field string) string {
	return s.c.key("session", strings.ToLower(wallet.Hex()), field)
}

func (s *SessionStore) put(ctx context.Context, wallet common.Address, field string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: marshal session %s for %s: %w", field, wallet.Hex(), err)
	}
	if err := s.c.rdb.Set(ctx, s.sessionKey(wallet, field), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: save session %s for %s: %w", field, wallet.Hex(), err)
	}
	return nil
}

func (s *SessionStore) load(ctx context.Context, wallet common.Address, field string, v any) error {
	data, err := s.c.rdb.Get(ctx, s.sessionKey(wallet, field)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("redis: load session %s for %s: %w", field, wallet.Hex(), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("redis: unmarshal session %s for %s: %w", field, wallet.Hex(), err)
	}
	return nil
}

func (s *SessionStore) SaveBalances(ctx context.Context, snap domain.BalanceSnapshot) error {
	return s.put(ctx, snap.Wallet, fieldBalances, snap)
}

func (s *SessionStore) Balances(ctx context.Context, wallet common.Address) (domain.BalanceSnapshot, error) {
	var snap domain.BalanceSnapshot
	if err := s.load(ctx, wallet, fieldBalances, &snap); err != nil {
		return domain.BalanceSnapshot{}, err
	}
	return snap, nil
}

// SaveOpenOrders replaces the wallet's cached open orders. An empty list is
// stored as such so readers can tell "none" from "never fetched".
func (s *SessionStore) SaveOpenOrders(ctx context.Context, wallet common.Address, orders []domain.Order) error {
	if orders == nil {
		orders = []domain.Order{}
	}
	return s.put(ctx, wallet, fieldOpen, orders)
}

func (s *SessionStore) OpenOrders(ctx context.Context, wallet common.Address) ([]domain.Order, error) {
	var orders []domain.Order
	if err := s.load(ctx, wallet, fieldOpen, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *SessionStore) SaveSettlements(ctx context.Context, wallet common.Address, pending domain.PendingSettlements) error {
	if pending == nil {
		pending = domain.PendingSettlements{}
	}
	return s.put(ctx, wallet, fieldSettlements, pending)
}

func (s *SessionStore) Settlements(ctx context.Context, wallet common.Address) (domain.PendingSettlements, error) {
	var pending domain.PendingSettlements
	if err := s.load(ctx, wallet, fieldSettlements, &pending); err != nil {
		return nil, err
	}
	return pending, nil
}

// SaveQuote stores the quote under the wallet named in its key.
func (s *SessionStore) SaveQuote(ctx context.Context, quote domain.QuotedFee) error {
	return s.put(ctx, quote.Key.Wallet, fieldQuote, quote)
}

func (s *SessionStore) Quote(ctx context.Context, wallet common.Address) (domain.QuotedFee, error) {
	var q domain.QuotedFee
	if err := s.load(ctx, wallet, fieldQuote, &q); err != nil {
		return domain.QuotedFee{}, err
	}
	return q, nil
}

func (s *SessionStore) SaveNonce(ctx context.Context, wallet common.Address, nonce string) error {
	if err := s.c.rdb.Set(ctx, s.sessionKey(wallet, fieldNonce), nonce, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: save nonce for %s: %w", wallet.Hex(), err)
	}
	return nil
}

// TakeNonce atomically reads and deletes the nonce so it is used at most
// once.
func (s *SessionStore) TakeNonce(ctx context.Context, wallet common.Address) (string, error) {
	nonce, err := s.c.rdb.GetDel(ctx, s.sessionKey(wallet, fieldNonce)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("redis: take nonce for %s: %w", wallet.Hex(), err)
	}
	return nonce, nil
}

// Clear drops every session field for the wallet.
func (s *SessionStore) Clear(ctx context.Context, wallet common.Address) error {
	keys := make([]string, len(sessionFields))
	for i, f := range sessionFields {
		keys[i] = s.sessionKey(wallet, f)
	}
	if err := s.c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: clear session for %s: %w", wallet.Hex(), err)
	}
	return nil
}

var _ domain.SessionStore = (*SessionStore)(nil)
