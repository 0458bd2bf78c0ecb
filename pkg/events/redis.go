package events

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type priceStore interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPriceSink keeps "<prefix><instrument>" set to the last trade price and
// announces changes on the "<prefix>updates" channel. Trades are ignored.
type RedisPriceSink struct {
	client priceStore
	prefix string
}

func NewRedisPriceSink(client *redis.Client, prefix string) *RedisPriceSink {
	return &RedisPriceSink{client: client, prefix: prefix}
}

func (r *RedisPriceSink) Name() string { return "redis" }

func (r *RedisPriceSink) Handle(ctx context.Context, ev Event) error {
	pu, ok := ev.(PriceUpdated)
	if !ok {
		return nil
	}
	if err := r.client.Set(ctx, r.prefix+pu.InstrumentID, pu.Price, 0).Err(); err != nil {
		return err
	}
	payload, err := Encode(pu)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.prefix+"updates", payload).Err()
}
