package redis

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/limitorder/internal/domain"
)

// RateCache implements domain.RateCache. Rates are stored as base-10
// integer strings at {prefix}:rate:{src}:{dest}.
type RateCache struct {
	c *Client
}

func NewRateCache(c *Client) *RateCache {
	return &RateCache{c: c}
}

func (rc *RateCache) rateKey(src, dest common.Address) string {
	return rc.c.key("rate", strings.ToLower(src.Hex()), strings.ToLower(dest.Hex()))
}

// GetRate returns domain.ErrNotFound on a miss.
func (rc *RateCache) GetRate(ctx context.Context, src, dest common.Address) (*big.Int, error) {
	raw, err := rc.c.rdb.Get(ctx, rc.rateKey(src, dest)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get rate %s/%s: %w", src.Hex(), dest.Hex(), err)
	}
	rate, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("redis: parse rate %s/%s: %q", src.Hex(), dest.Hex(), raw)
	}
	return rate, nil
}

func (rc *RateCache) SetRate(ctx context.Context, src, dest common.Address, rate *big.Int, ttl time.Duration) error {
	if rate == nil {
		return fmt.Errorf("redis: set rate %s/%s: nil rate", src.Hex(), dest.Hex())
	}
	if err := rc.c.rdb.Set(ctx, rc.rateKey(src, dest), rate.String(), ttl).Err(); err != nil {
		return fmt.Errorf("redis: set rate %s/%s: %w", src.Hex(), dest.Hex(), err)
	}
	return nil
}

var _ domain.RateCache = (*RateCache)(nil)
