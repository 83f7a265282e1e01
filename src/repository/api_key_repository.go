package repository

import (
	"context"
	"errors"
	"strings"

	"autotrader/src/database"
	"autotrader/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// APIKeyRepository reads account trading configuration.
type APIKeyRepository struct {
	db *gorm.DB
}

func NewAPIKeyRepository() *APIKeyRepository {
	logger.WithField("component", "APIKeyRepository").
		Info("Creating new APIKeyRepository with MainDB")

	return &APIKeyRepository{
		db: database.MainDB,
	}
}

func (r *APIKeyRepository) WithDB(db *gorm.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// GetAccountConfig loads an API key with its per-asset settings.
// Returns (nil, nil) when the key does not exist.
func (r *APIKeyRepository) GetAccountConfig(ctx context.Context, apiKeyID uint) (*model.TradingAPIKey, error) {
	var key model.TradingAPIKey
	err := r.db.WithContext(ctx).
		Preload("Assets").
		First(&key, apiKeyID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &key, nil
}

// ListEnabledForAsset returns every API key that switched auto trading on for
// the asset. Activity and network mode are left to the eligibility check.
func (r *APIKeyRepository) ListEnabledForAsset(ctx context.Context, asset string) ([]model.TradingAPIKey, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))

	enabled := r.db.Model(&model.TradingAPIKeyAsset{}).
		Select("api_key_id").
		Where("asset = ? AND enabled = ?", asset, true)

	var keys []model.TradingAPIKey
	err := r.db.WithContext(ctx).
		Preload("Assets").
		Where("id IN (?)", enabled).
		Order("id ASC").
		Find(&keys).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "APIKeyRepository",
			"op":    "ListEnabledForAsset",
			"asset": asset,
		}).WithError(err).Error("Failed to list api keys for asset")
		return nil, err
	}
	return keys, nil
}

// Upsert creates an API key or refreshes its credentials and mode flags when
// (user_id, name) already exists.
func (r *APIKeyRepository) Upsert(ctx context.Context, key *model.TradingAPIKey) error {
	return r.db.WithContext(ctx).
		Omit("Assets").
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "user_id"},
				{Name: "name"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"api_key",
				"secret_key",
				"is_testnet",
				"futures_enabled",
				"updated_at",
			}),
		}).
		Create(key).Error
}

// SetAssetAllocation enables or disables an asset for the key and stores its
// optional USDT allocation override.
func (r *APIKeyRepository) SetAssetAllocation(
	ctx context.Context,
	apiKeyID uint,
	asset string,
	enabled bool,
	allocatedUSDT *float64,
) error {
	rec := model.TradingAPIKeyAsset{
		APIKeyID:      apiKeyID,
		Asset:         strings.ToUpper(strings.TrimSpace(asset)),
		Enabled:       enabled,
		AllocatedUSDT: allocatedUSDT,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "api_key_id"}, {Name: "asset"}},
			DoUpdates: clause.AssignmentColumns([]string{"enabled", "allocated_usdt", "updated_at"}),
		}).
		Create(&rec).Error
}
