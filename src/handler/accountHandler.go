package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"autotrader/src/auth"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"
)

type allocationSetter interface {
	SetAssetAllocation(ctx context.Context, apiKeyID uint, asset string, enabled bool, allocatedUSDT *float64) error
}

type assetAllocationPayload struct {
	Enabled       *bool    `json:"enabled"`
	AllocatedUSDT *float64 `json:"allocated_usdt"`
}

// SetAssetAllocationHandler enables or disables an asset for an API key and
// stores its optional USDT allocation. A null allocation falls back to the
// key's max position size.
func SetAssetAllocationHandler(repo allocationSetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := auth.GetCallerFromContext(r.Context())
		if !ok || caller == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id == 0 {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}
		asset := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "asset")))
		if !cryptoPattern.MatchString(strings.ToLower(asset)) {
			http.Error(w, "invalid asset", http.StatusBadRequest)
			return
		}

		var payload assetAllocationPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			logger.WithError(err).Warn("invalid asset allocation payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}
		if payload.Enabled == nil {
			http.Error(w, "enabled is required", http.StatusBadRequest)
			return
		}
		if payload.AllocatedUSDT != nil && *payload.AllocatedUSDT < 0 {
			http.Error(w, "allocated_usdt must not be negative", http.StatusBadRequest)
			return
		}

		if err := repo.SetAssetAllocation(r.Context(), uint(id), asset, *payload.Enabled, payload.AllocatedUSDT); err != nil {
			logger.WithFields(map[string]interface{}{
				"api_key_id": id,
				"asset":      asset,
			}).WithError(err).Error("failed to update asset allocation")
			http.Error(w, "Unable to update allocation", http.StatusInternalServerError)
			return
		}

		logger.WithFields(map[string]interface{}{
			"api_key_id":     id,
			"asset":          asset,
			"enabled":        *payload.Enabled,
			"allocated_usdt": payload.AllocatedUSDT,
			"caller":         caller.Name,
		}).Info("Asset allocation updated")

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"api_key_id":     id,
			"asset":          asset,
			"enabled":        *payload.Enabled,
			"allocated_usdt": payload.AllocatedUSDT,
		})
	}
}
