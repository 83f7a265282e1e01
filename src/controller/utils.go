package controller

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"strings"
	"time"

	"autotrader/src/model"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// Step sizes used when exchangeInfo cannot be read.
var fallbackStepSizes = map[string]decimal.Decimal{
	"BTC": decimal.RequireFromString("0.00001"),
	"ETH": decimal.RequireFromString("0.0001"),
	"BNB": decimal.RequireFromString("0.01"),
	"SOL": decimal.RequireFromString("0.01"),
}

var defaultStepSize = decimal.RequireFromString("0.00001")

func fallbackStepSize(asset string) decimal.Decimal {
	if step, ok := fallbackStepSizes[strings.ToUpper(asset)]; ok {
		return step
	}
	return defaultStepSize
}

// floorToStep rounds qty down to a multiple of step.
func floorToStep(qty, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}

func ptr[T any](v T) *T { return &v }

// Capture records a system exception, logs it locally, and optionally
// persists it in the database. api_key_id, order_id and symbol in
// contextData are also stored in their own columns.
func Capture(
	ctx context.Context,
	repo ExceptionRecorder,
	service string,
	component string,
	operation string,
	level string,
	err error,
	contextData map[string]interface{},
) {

	if err == nil {
		return
	}

	exc := &model.Exception{
		Service:   service,
		Component: component,
		Operation: operation,
		Message:   err.Error(),
		Stack:     string(debug.Stack()),
		Level:     level,
		CreatedAt: time.Now(),
	}

	if contextData != nil {
		if b, e := json.Marshal(contextData); e == nil {
			exc.Context = string(b)
		}
		if v, ok := contextData["api_key_id"].(uint); ok && v > 0 {
			exc.APIKeyID = ptr(v)
		}
		if v, ok := contextData["order_id"].(uint); ok && v > 0 {
			exc.OrderID = ptr(v)
		}
		if v, ok := contextData["symbol"].(string); ok {
			exc.Symbol = v
		}
	}

	// Local log
	logger.WithFields(map[string]interface{}{
		"service":   service,
		"component": component,
		"operation": operation,
		"level":     level,
	}).WithError(err).Error("System exception captured")

	// Persist in database
	if repo != nil {
		if e := repo.Create(ctx, exc); e != nil {
			logger.WithError(e).Error("Failed to persist exception")
		}
	}
}
