package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/credeo/lendmarket-backend/pkg/redis"
)

// Rate is an externally supplied exchange rate between two currencies,
// expressed in principal smallest units per collateral smallest unit.
type Rate struct {
	ID   uuid.UUID       `json:"id"`
	Rate decimal.Decimal `json:"rate"`
	AsOf time.Time       `json:"as_of"`
}

// Provider resolves the freshest known rate for a currency pair. The price
// pipeline that writes these values lives outside this service.
type Provider interface {
	LatestRate(ctx context.Context, collateralCurrencyID, principalCurrencyID uuid.UUID) (*Rate, error)
}

type redisStore interface {
	Get(ctx context.Context, key string) (string, error)
}

type redisProvider struct {
	store redisStore
}

// NewRedisProvider reads rates from the shared cache the price feed maintains.
func NewRedisProvider(client *redis.Client) (Provider, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client required")
	}
	return &redisProvider{store: client}, nil
}

// Key builds the cache key for a currency pair.
func Key(collateralCurrencyID, principalCurrencyID uuid.UUID) string {
	return fmt.Sprintf("rates:%s:%s", collateralCurrencyID, principalCurrencyID)
}

// LatestRate returns (nil, nil) when no rate is cached for the pair.
func (p *redisProvider) LatestRate(ctx context.Context, collateralCurrencyID, principalCurrencyID uuid.UUID) (*Rate, error) {
	raw, err := p.store.Get(ctx, Key(collateralCurrencyID, principalCurrencyID))
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch rate: %w", err)
	}
	var rate Rate
	if err := json.Unmarshal([]byte(raw), &rate); err != nil {
		return nil, fmt.Errorf("decode rate payload: %w", err)
	}
	return &rate, nil
}
