package keys

import (
	"context"
	"errors"
	"strings"

	"autotrader/src/model"
	"autotrader/src/security"

	logger "github.com/sirupsen/logrus"
)

type keyStore interface {
	Upsert(ctx context.Context, key *model.TradingAPIKey) error
	SetAssetAllocation(ctx context.Context, apiKeyID uint, asset string, enabled bool, allocatedUSDT *float64) error
}

// SetKeyOptions describe one exchange credential to store.
type SetKeyOptions struct {
	UserID  uint
	Name    string
	Key     string
	Secret  string
	Testnet bool
	Spot    bool
	// Assets are enabled for the key with the key-level allocation.
	Assets []string
}

// SetKey encrypts the credentials and creates or refreshes the API key.
func SetKey(ctx context.Context, store keyStore, cfg Config, opts SetKeyOptions) (*model.TradingAPIKey, error) {
	if opts.UserID == 0 || strings.TrimSpace(opts.Name) == "" {
		return nil, errors.New("user and name are required")
	}
	if opts.Key == "" || opts.Secret == "" {
		return nil, errors.New("key and secret are required")
	}

	encryptKey, err := security.EncryptString(opts.Key)
	if err != nil {
		logger.WithError(err).Error("Failed to encrypt key")
		return nil, err
	}
	encryptSecret, err := security.EncryptString(opts.Secret)
	if err != nil {
		logger.WithError(err).Error("Failed to encrypt secret")
		return nil, err
	}

	key := &model.TradingAPIKey{
		UserID:                 opts.UserID,
		Name:                   strings.TrimSpace(opts.Name),
		APIKeyHash:             encryptKey,
		SecretKeyHash:          encryptSecret,
		IsTestnet:              opts.Testnet,
		IsActive:               true,
		FuturesEnabled:         !opts.Spot,
		Leverage:               cfg.Leverage,
		MarginType:             model.MarginTypeIsolated,
		MaxPositionSizeUSDT:    cfg.MaxPositionSizeUSDT,
		ProfitTarget:           0.08,
		StopLoss:               0.03,
		MaxHoldHours:           24,
		MaxConcurrentPositions: cfg.MaxConcurrentPositions,
	}
	if err := store.Upsert(ctx, key); err != nil {
		logger.WithError(err).Error("Failed to upsert api key")
		return nil, err
	}

	for _, asset := range opts.Assets {
		if asset = strings.TrimSpace(asset); asset == "" {
			continue
		}
		if err := store.SetAssetAllocation(ctx, key.ID, asset, true, nil); err != nil {
			logger.WithField("asset", asset).WithError(err).Error("Failed to enable asset")
			return nil, err
		}
	}

	logger.WithFields(map[string]interface{}{
		"api_key_id": key.ID,
		"user_id":    key.UserID,
		"name":       key.Name,
		"testnet":    key.IsTestnet,
		"futures":    key.FuturesEnabled,
		"assets":     opts.Assets,
	}).Info("API key stored")
	return key, nil
}
