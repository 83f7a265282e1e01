// Package events delivers fill notifications to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"autotrader/src/model"

	"github.com/redis/go-redis/v9"
	logger "github.com/sirupsen/logrus"
)

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher publishes fill events as JSON on a pub/sub channel.
type RedisPublisher struct {
	rdb     redisPublisher
	closer  func() error
	channel string
}

// NewRedisPublisher connects and pings the server.
func NewRedisPublisher(ctx context.Context, cfg Config) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.RedisAddr, err)
	}
	return &RedisPublisher{rdb: rdb, closer: rdb.Close, channel: cfg.Channel}, nil
}

func (p *RedisPublisher) PublishFill(ctx context.Context, event model.FillEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Kind, err)
	}
	receivers, err := p.rdb.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("redis: publish %s: %w", p.channel, err)
	}

	logger.WithFields(map[string]interface{}{
		"component": "RedisPublisher",
		"channel":   p.channel,
		"kind":      event.Kind,
		"order_id":  event.OrderID,
		"receivers": receivers,
	}).Debug("Fill event published")
	return nil
}

func (p *RedisPublisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}

// LogPublisher writes fill events to the log only.
type LogPublisher struct{}

func (LogPublisher) PublishFill(ctx context.Context, event model.FillEvent) error {
	entry := logger.WithFields(map[string]interface{}{
		"component":  "FillEvents",
		"kind":       event.Kind,
		"order_id":   event.OrderID,
		"api_key_id": event.APIKeyID,
		"symbol":     event.Symbol,
		"quantity":   event.Quantity,
		"price":      event.Price,
	})
	if event.PnlUSDT != nil {
		entry = entry.WithField("pnl_usdt", *event.PnlUSDT)
	}
	if event.Reason != "" {
		entry = entry.WithField("reason", event.Reason)
	}
	entry.Info("Order filled")
	return nil
}

type Publisher interface {
	PublishFill(ctx context.Context, event model.FillEvent) error
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) PublishFill(ctx context.Context, event model.FillEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishFill(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New returns the log publisher, plus redis when REDIS_ADDR is set. The
// returned close func is never nil.
func New(ctx context.Context, cfg Config) (Publisher, func() error, error) {
	if cfg.RedisAddr == "" {
		return LogPublisher{}, func() error { return nil }, nil
	}
	rp, err := NewRedisPublisher(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return Multi{LogPublisher{}, rp}, rp.Close, nil
}
