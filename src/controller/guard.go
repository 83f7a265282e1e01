package controller

import (
	"context"
	"errors"
	"fmt"

	"autotrader/src/model"

	logger "github.com/sirupsen/logrus"
)

var errNoResult = errors.New("order attempt ended without an exchange result")

// completion owns the terminal write of one persisted PENDING order. Once an
// order row exists, finish must be deferred: it writes FILLED when a fill was
// recorded and REJECTED otherwise, panics included. The write ignores the
// caller's cancellation.
type completion struct {
	trader *AutoTrader
	ctx    context.Context
	order  *model.TradingOrder
	out    *Outcome

	exec *model.OrderExecution
	err  error
}

func (t *AutoTrader) guard(ctx context.Context, order *model.TradingOrder, out *Outcome) *completion {
	out.OrderID = order.ID
	return &completion{trader: t, ctx: ctx, order: order, out: out}
}

func (c *completion) filled(exec *model.OrderExecution) { c.exec = exec }

func (c *completion) rejected(err error) { c.err = err }

func (c *completion) finish() {
	if r := recover(); r != nil {
		c.err = fmt.Errorf("panic: %v", r)
		c.trader.capture(c.ctx, "completion_guard", "panic", c.err, c.fields())
	}

	status := model.OrderStatusFilled
	exec := c.exec
	if exec == nil {
		status = model.OrderStatusRejected
		if c.err == nil {
			c.err = errNoResult
		}
		exec = &model.OrderExecution{FailureReason: failureReason(c.err)}
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.trader.cfg.StoreTimeout)
	defer cancel()

	fields := c.fields()
	fields["status"] = status

	if err := c.trader.orders.UpdateOrderStatus(writeCtx, c.order.ID, status, exec); err != nil {
		logger.WithFields(fields).WithError(err).Error("Failed to write terminal order status")
		c.trader.capture(c.ctx, "completion_guard", "orders.UpdateOrderStatus", err, c.fields())
	}

	c.order.Status = status
	applyExecution(c.order, exec)

	c.out.Status = status
	c.out.Reason = exec.FailureReason
	c.trader.metrics.OrderFinished(c.order.Side, status)

	if status == model.OrderStatusRejected {
		logger.WithFields(fields).WithError(c.err).Warn("Order rejected")
		return
	}
	logger.WithFields(fields).Info("Order filled")
}

func (c *completion) fields() map[string]interface{} {
	return map[string]interface{}{
		"order_id":   c.order.ID,
		"api_key_id": c.order.APIKeyID,
		"symbol":     c.order.Symbol,
		"side":       c.order.Side,
	}
}

// applyExecution mirrors the stored execution fields on the in-memory order.
func applyExecution(o *model.TradingOrder, exec *model.OrderExecution) {
	if exec.ExchangeOrderID != "" {
		o.ExchangeOrderID = exec.ExchangeOrderID
	}
	if exec.ClientOrderID != "" {
		o.ClientOrderID = exec.ClientOrderID
	}
	if exec.ExecutedPrice != nil {
		o.ExecutedPrice = exec.ExecutedPrice
	}
	if exec.ExecutedQuantity != nil {
		o.ExecutedQuantity = exec.ExecutedQuantity
	}
	if exec.Commission != nil {
		o.Commission = exec.Commission
	}
	if exec.CommissionAsset != "" {
		o.CommissionAsset = exec.CommissionAsset
	}
	if exec.ExecutedAt != nil {
		o.ExecutedAt = exec.ExecutedAt
	}
	o.FailureReason = exec.FailureReason
}
