package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Redis reads marks published by a price feed under "{prefix}price:{symbol}"
// and funding rates under "{prefix}funding:{symbol}".
type Redis struct {
	client stringGetter
	prefix string
	closer func() error
}

func NewRedis(addr, password string, db int, prefix string) *Redis {
	c := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Redis{client: c, prefix: prefix, closer: c.Close}
}

func (r *Redis) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	v, err := r.client.Get(ctx, r.prefix+"price:"+symbol).Result()
	if err != nil {
		return decimal.Zero, unavailable(symbol, err)
	}
	p, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, unavailable(symbol, err)
	}
	return checkPrice(symbol, p)
}

// FundingRate treats a missing key as a zero rate.
func (r *Redis) FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	v, err := r.client.Get(ctx, r.prefix+"funding:"+symbol).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("funding rate %s: %w", symbol, err)
	}
	rate, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("funding rate %s: %w", symbol, err)
	}
	return rate, nil
}

func (r *Redis) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
