package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"autotrader/src/auth"
	"autotrader/src/model"
	"autotrader/src/repository"

	logger "github.com/sirupsen/logrus"
)

type orderSearcher interface {
	Search(ctx context.Context, options repository.OrderSearchOptions) ([]model.TradingOrder, error)
}

// SearchOrdersHandler lists trading orders, newest first.
// Supports pagination and filters (apiKeyId, symbol, side, status, createdFrom, createdTo).
func SearchOrdersHandler(repo orderSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if caller, ok := auth.GetCallerFromContext(r.Context()); !ok || caller == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		query := r.URL.Query()

		var apiKeyID *uint
		if keyParam := query.Get("apiKeyId"); keyParam != "" {
			id, err := strconv.ParseUint(keyParam, 10, 64)
			if err != nil {
				http.Error(w, "invalid apiKeyId", http.StatusBadRequest)
				return
			}
			key := uint(id)
			apiKeyID = &key
		}

		var symbol *string
		if symbolParam := query.Get("symbol"); symbolParam != "" {
			upper := strings.ToUpper(symbolParam)
			symbol = &upper
		}

		var side *string
		if sideParam := query.Get("side"); sideParam != "" {
			upper := strings.ToUpper(sideParam)
			if upper != model.SideBuy && upper != model.SideSell {
				http.Error(w, "invalid side", http.StatusBadRequest)
				return
			}
			side = &upper
		}

		var status *string
		if statusParam := query.Get("status"); statusParam != "" {
			upper := strings.ToUpper(statusParam)
			status = &upper
		}

		var createdFrom, createdTo *time.Time
		if createdFromParam := query.Get("createdFrom"); createdFromParam != "" {
			parsed, err := time.Parse(time.RFC3339, createdFromParam)
			if err != nil {
				http.Error(w, "invalid createdFrom", http.StatusBadRequest)
				return
			}
			createdFrom = &parsed
		}

		if createdToParam := query.Get("createdTo"); createdToParam != "" {
			parsed, err := time.Parse(time.RFC3339, createdToParam)
			if err != nil {
				http.Error(w, "invalid createdTo", http.StatusBadRequest)
				return
			}
			createdTo = &parsed
		}

		page := 1
		if pageParam := query.Get("page"); pageParam != "" {
			parsedPage, err := strconv.Atoi(pageParam)
			if err != nil || parsedPage <= 0 {
				http.Error(w, "invalid page", http.StatusBadRequest)
				return
			}
			page = parsedPage
		}

		pageSize := 20
		if sizeParam := query.Get("pageSize"); sizeParam != "" {
			parsedSize, err := strconv.Atoi(sizeParam)
			if err != nil || parsedSize <= 0 || parsedSize > 500 {
				http.Error(w, "invalid pageSize", http.StatusBadRequest)
				return
			}
			pageSize = parsedSize
		}

		orders, err := repo.Search(r.Context(), repository.OrderSearchOptions{
			APIKeyID:      apiKeyID,
			Symbol:        symbol,
			Side:          side,
			Status:        status,
			CreatedAfter:  createdFrom,
			CreatedBefore: createdTo,
			Limit:         pageSize,
			Offset:        (page - 1) * pageSize,
		})
		if err != nil {
			logger.WithError(err).Error("failed to search orders")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, orders)
	}
}

// DefaultSearchOrdersHandler wires the handler to the read-only order repository.
func DefaultSearchOrdersHandler() http.HandlerFunc {
	return SearchOrdersHandler(repository.NewReadOnlyOrderRepository())
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}
