package risk

import (
	"context"
	"fmt"

	"autotrader/src/model"
)

// PositionReader derives open positions from the order store.
type PositionReader interface {
	GetOpenPosition(ctx context.Context, apiKeyID uint, symbol string) (*model.TradingOrder, error)
	ListActivePositions(ctx context.Context, apiKeyID uint) ([]model.TradingOrder, error)
}

// Decision reasons, used as metric labels.
const (
	ReasonEligible        = "eligible"
	ReasonAssetDisabled   = "asset_disabled"
	ReasonInactive        = "account_inactive"
	ReasonNetworkMismatch = "network_mismatch"
	ReasonPositionOpen    = "position_open"
	ReasonConcurrencyCap  = "concurrency_cap"
	ReasonLookupFailed    = "lookup_failed"
)

type Decision struct {
	Allowed bool
	Reason  string
}

func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// Eligibility decides whether an account may open a new position.
type Eligibility struct {
	positions PositionReader
}

func NewEligibility(positions PositionReader) *Eligibility {
	return &Eligibility{positions: positions}
}

// CanOpen checks, in order: asset enabled, account active, network mode,
// no open position on the symbol, concurrency cap. A store failure denies.
func (e *Eligibility) CanOpen(ctx context.Context, account *model.TradingAPIKey, symbol string, testnet bool) (Decision, error) {
	if account == nil {
		return deny(ReasonInactive), nil
	}
	if !account.AssetEnabled(model.BaseAssetOf(symbol)) {
		return deny(ReasonAssetDisabled), nil
	}
	if !account.IsActive {
		return deny(ReasonInactive), nil
	}
	if account.IsTestnet != testnet {
		return deny(ReasonNetworkMismatch), nil
	}

	open, err := e.positions.GetOpenPosition(ctx, account.ID, symbol)
	if err != nil {
		return deny(ReasonLookupFailed), fmt.Errorf("open position lookup: %w", err)
	}
	if open != nil {
		return deny(ReasonPositionOpen), nil
	}

	active, err := e.positions.ListActivePositions(ctx, account.ID)
	if err != nil {
		return deny(ReasonLookupFailed), fmt.Errorf("active positions lookup: %w", err)
	}
	limit := account.MaxConcurrentPositions
	if limit <= 0 {
		limit = 1
	}
	if len(active) >= limit {
		return deny(ReasonConcurrencyCap), nil
	}

	return Decision{Allowed: true, Reason: ReasonEligible}, nil
}
