package events

import (
	"context"
	"encoding/json"
	"testing"

	"autotrader/src/model"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	channel string
	payload []byte
	err     error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

type failingPublisher struct{}

func (failingPublisher) PublishFill(ctx context.Context, event model.FillEvent) error {
	return assert.AnError
}

func TestRedisPublisherSendsJSON(t *testing.T) {
	rdb := &fakeRedis{}
	p := &RedisPublisher{rdb: rdb, channel: "trading:fills"}
	pnl := 4.2
	buyID := uint(5)

	err := p.PublishFill(context.Background(), model.FillEvent{
		Kind:       model.FillKindSell,
		OrderID:    9,
		Symbol:     "ETHUSDT",
		Quantity:   0.5,
		Price:      3100,
		PnlUSDT:    &pnl,
		Reason:     model.CloseReasonTakeProfit,
		BuyOrderID: &buyID,
		Source:     "auto_trading",
	})
	require.NoError(t, err)
	assert.Equal(t, "trading:fills", rdb.channel)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rdb.payload, &got))
	assert.Equal(t, "SELL_FILLED", got["kind"])
	assert.Equal(t, "TAKE_PROFIT", got["reason"])
	assert.Equal(t, 4.2, got["pnl_usdt"])
	assert.Equal(t, float64(5), got["buy_order_id"])
}

func TestRedisPublisherWrapsError(t *testing.T) {
	p := &RedisPublisher{rdb: &fakeRedis{err: assert.AnError}, channel: "c"}
	err := p.PublishFill(context.Background(), model.FillEvent{Kind: model.FillKindBuy})
	require.ErrorIs(t, err, assert.AnError)
}

func TestMultiKeepsPublishingAfterFailure(t *testing.T) {
	rdb := &fakeRedis{}
	m := Multi{failingPublisher{}, LogPublisher{}, &RedisPublisher{rdb: rdb, channel: "c"}}

	err := m.PublishFill(context.Background(), model.FillEvent{Kind: model.FillKindBuy, OrderID: 1})
	require.ErrorIs(t, err, assert.AnError)
	assert.NotEmpty(t, rdb.payload)
}

func TestNewWithoutRedisLogsOnly(t *testing.T) {
	p, closeFn, err := New(context.Background(), Config{})
	require.NoError(t, err)
	assert.IsType(t, LogPublisher{}, p)
	assert.NoError(t, closeFn())
}
