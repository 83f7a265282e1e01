package controller

import (
	"context"
	"testing"

	"autotrader/src/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExceptions struct {
	created []*model.Exception
}

func (r *recordingExceptions) Create(ctx context.Context, exc *model.Exception) error {
	r.created = append(r.created, exc)
	return nil
}

func TestFloorToStep(t *testing.T) {
	tests := []struct {
		qty, step, expected string
	}{
		{"0.123456", "0.00001", "0.12345"},
		{"1.999", "0.01", "1.99"},
		{"5", "1", "5"},
		{"0.5", "0", "0.5"},
	}

	for _, tt := range tests {
		if got := floorToStep(d(tt.qty), d(tt.step)); !got.Equal(d(tt.expected)) {
			t.Fatalf("expected %s floored to %s to be %s, got %s", tt.qty, tt.step, tt.expected, got)
		}
	}
}

func TestCaptureStoresScopeColumns(t *testing.T) {
	repo := &recordingExceptions{}

	Capture(context.Background(), repo, serviceName, "sell_path", "orders.CreateOrder", "error", assert.AnError,
		map[string]interface{}{"api_key_id": uint(4), "order_id": uint(9), "symbol": "ETHUSDT"})

	require.Len(t, repo.created, 1)
	exc := repo.created[0]
	assert.Equal(t, "AutoTrader", exc.Service)
	assert.Equal(t, "sell_path", exc.Component)
	assert.Equal(t, uint(4), *exc.APIKeyID)
	assert.Equal(t, uint(9), *exc.OrderID)
	assert.Equal(t, "ETHUSDT", exc.Symbol)
	assert.Contains(t, exc.Context, `"symbol":"ETHUSDT"`)
	assert.NotEmpty(t, exc.Stack)
}

func TestCaptureIgnoresNilError(t *testing.T) {
	repo := &recordingExceptions{}
	Capture(context.Background(), repo, serviceName, "buy_path", "noop", "error", nil, nil)
	assert.Empty(t, repo.created)
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "unknown failure", failureReason(nil))
	assert.Equal(t, assert.AnError.Error(), failureReason(assert.AnError))
}
