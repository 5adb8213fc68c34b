package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coinpulse/market-data-service/internal/models"
)

// ErrMiss signals the symbol has no cached latest price.
var ErrMiss = errors.New("cache miss")

// LatestPrices caches the most recent observation per symbol in Redis so
// the read API can serve "latest" without hitting the price table. The
// cache is best-effort; the store remains the source of truth.
type LatestPrices struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a latest-price cache. A 2x-cadence TTL keeps entries from
// outliving a stalled collector.
func New(addr, password string, db int) *LatestPrices {
	return &LatestPrices{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		ttl: 2 * time.Hour,
	}
}

// Ping verifies connectivity.
func (c *LatestPrices) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *LatestPrices) Close() error {
	return c.client.Close()
}

// SetLatest stores the most recent observation for a symbol.
func (c *LatestPrices) SetLatest(ctx context.Context, p *models.PricePoint) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal price point: %w", err)
	}
	if err := c.client.Set(ctx, key(p.Symbol), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set latest price for %s: %w", p.Symbol, err)
	}
	return nil
}

// GetLatest retrieves the cached latest observation for a symbol.
func (c *LatestPrices) GetLatest(ctx context.Context, symbol string) (*models.PricePoint, error) {
	data, err := c.client.Get(ctx, key(symbol)).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get latest price for %s: %w", symbol, err)
	}
	var p models.PricePoint
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal cached price: %w", err)
	}
	return &p, nil
}

func key(symbol string) string {
	return "latest_price:" + symbol
}
