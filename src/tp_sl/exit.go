package tp_sl

import (
	"strings"
	"time"

	"autotrader/src/model"
)

type Action string

const (
	ActionHold  Action = "HOLD"
	ActionClose Action = "CLOSE"
)

// Decision is the outcome of evaluating one open position at one price.
type Decision struct {
	Action Action
	// Reason is one of the model.CloseReason* values when Action is CLOSE.
	Reason string

	PnlUSDT float64
	// ProfitPct is a fraction: 0.08 means +8%.
	ProfitPct   float64
	HoursHeld   float64
	SellableQty float64
}

func (d Decision) ShouldClose() bool { return d.Action == ActionClose }

// SellableQuantity is the entry quantity minus the buy commission when the
// commission was charged in the base asset.
func SellableQuantity(pos model.Position) float64 {
	qty := pos.EntryQuantity
	if pos.Commission > 0 && strings.EqualFold(pos.CommissionAsset, pos.BaseAsset()) {
		qty -= pos.Commission
	}
	if qty < 0 {
		return 0
	}
	return qty
}

// Evaluate applies the exit rules in order: take profit, stop loss, max hold.
// A threshold <= 0 is treated as disabled. It has no side effects.
func Evaluate(pos model.Position, price float64, th model.Thresholds, now time.Time) Decision {
	sellable := SellableQuantity(pos)
	cost := pos.EntryQuantity * pos.EntryPrice

	dec := Decision{
		Action:      ActionHold,
		SellableQty: sellable,
		PnlUSDT:     sellable*price - cost,
	}
	if cost > 0 {
		dec.ProfitPct = dec.PnlUSDT / cost
	}
	if !pos.OpenedAt.IsZero() {
		dec.HoursHeld = now.Sub(pos.OpenedAt).Hours()
	}

	switch {
	case cost > 0 && th.ProfitTarget > 0 && dec.ProfitPct >= th.ProfitTarget:
		dec.Action, dec.Reason = ActionClose, model.CloseReasonTakeProfit
	case cost > 0 && th.StopLoss > 0 && dec.ProfitPct <= -th.StopLoss:
		dec.Action, dec.Reason = ActionClose, model.CloseReasonStopLoss
	case th.MaxHoldHours > 0 && !pos.OpenedAt.IsZero() && dec.HoursHeld >= th.MaxHoldHours:
		dec.Action, dec.Reason = ActionClose, model.CloseReasonMaxHold
	}
	return dec
}
