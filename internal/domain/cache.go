package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SessionStore holds per-wallet session state: last known balances, open
// orders, the last fee quote with its tuple and the single-use nonce.
type SessionStore interface {
	SaveBalances(ctx context.Context, snap BalanceSnapshot) error
	Balances(ctx context.Context, wallet common.Address) (BalanceSnapshot, error)
	SaveOpenOrders(ctx context.Context, wallet common.Address, orders []Order) error
	OpenOrders(ctx context.Context, wallet common.Address) ([]Order, error)
	SaveSettlements(ctx context.Context, wallet common.Address, pending PendingSettlements) error
	Settlements(ctx context.Context, wallet common.Address) (PendingSettlements, error)
	SaveQuote(ctx context.Context, quote QuotedFee) error
	Quote(ctx context.Context, wallet common.Address) (QuotedFee, error)
	SaveNonce(ctx context.Context, wallet common.Address, nonce string) error
	// TakeNonce returns and deletes the stored nonce; ErrNotFound if none.
	TakeNonce(ctx context.Context, wallet common.Address) (string, error)
	Clear(ctx context.Context, wallet common.Address) error
}

// RateCache caches reference rates keyed by token pair.
type RateCache interface {
	GetRate(ctx context.Context, src, dest common.Address) (*big.Int, error)
	SetRate(ctx context.Context, src, dest common.Address, rate *big.Int, ttl time.Duration) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Event bus names.
const (
	ChannelOrders = "orders"
	StreamOrders  = "stream:orders"
)
