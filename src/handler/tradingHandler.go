package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"autotrader/src/controller"
	"autotrader/src/model"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"
)

type Trader interface {
	ExecuteBuySignal(ctx context.Context, crypto string, sig controller.Signal) (controller.BuyReport, error)
	CheckExitConditions(ctx context.Context, crypto string, price float64) (controller.ExitReport, error)
	ClosePositionManually(ctx context.Context, buyOrderID uint, price float64) (controller.Outcome, error)
}

var cryptoPattern = regexp.MustCompile(`^[a-z0-9]{2,15}$`)

func cryptoParam(r *http.Request) (string, bool) {
	crypto := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "crypto")))
	return crypto, cryptoPattern.MatchString(crypto)
}

// decodeBody decodes an optional JSON body. An empty body leaves dst as is.
func decodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

// BuySignalHandler runs one buy sweep for the crypto in the path.
// Body: {"entry_price": 65000, "alert_id": 12, "pattern": "TRIANGLE"}.
func BuySignalHandler(trader Trader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		crypto, ok := cryptoParam(r)
		if !ok {
			http.Error(w, "invalid crypto", http.StatusBadRequest)
			return
		}

		var sig controller.Signal
		if err := decodeBody(r, &sig); err != nil {
			logger.WithError(err).Warn("invalid signal payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}
		if sig.EntryPrice < 0 {
			http.Error(w, "invalid entry_price", http.StatusBadRequest)
			return
		}
		if sig.Source == "" {
			sig.Source = "http"
		}

		report, err := trader.ExecuteBuySignal(r.Context(), crypto, sig)
		if err != nil {
			logger.WithField("crypto", crypto).WithError(err).Error("buy sweep failed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

type exitRequest struct {
	Price float64 `json:"price"`
}

// ExitCheckHandler runs one exit sweep. Without a price each account reads
// the live price.
func ExitCheckHandler(trader Trader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		crypto, ok := cryptoParam(r)
		if !ok {
			http.Error(w, "invalid crypto", http.StatusBadRequest)
			return
		}

		var req exitRequest
		if err := decodeBody(r, &req); err != nil || req.Price < 0 {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		report, err := trader.CheckExitConditions(r.Context(), crypto, req.Price)
		if err != nil {
			logger.WithField("crypto", crypto).WithError(err).Error("exit sweep failed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// ClosePositionHandler sells an open position with reason MANUAL.
func ClosePositionHandler(trader Trader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id == 0 {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}

		var req exitRequest
		if err := decodeBody(r, &req); err != nil || req.Price < 0 {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		out, err := trader.ClosePositionManually(r.Context(), uint(id), req.Price)
		switch {
		case errors.Is(err, controller.ErrPositionNotFound):
			http.Error(w, "position not found", http.StatusNotFound)
			return
		case errors.Is(err, controller.ErrPositionNotOpen):
			http.Error(w, "position is not open", http.StatusConflict)
			return
		case err != nil:
			logger.WithField("buy_order_id", id).WithError(err).Error("manual close failed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		status := http.StatusOK
		if out.Status != model.OrderStatusFilled {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, out)
	}
}
