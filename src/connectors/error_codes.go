package connectors

import (
	"errors"
	"fmt"
)

// BinanceErrorCodes maps Binance error codes to their short names.
var BinanceErrorCodes = map[int]string{
	-1000: "UNKNOWN",                    // Unknown error while processing the request
	-1001: "DISCONNECTED",               // Internal error; unable to process your request
	-1003: "TOO_MANY_REQUESTS",          // Request weight exceeded
	-1007: "TIMEOUT",                    // Timeout waiting for response from backend server
	-1013: "INVALID_MESSAGE",            // Filter failure (LOT_SIZE, MIN_NOTIONAL ...)
	-1021: "INVALID_TIMESTAMP",          // Timestamp outside of recvWindow
	-1022: "INVALID_SIGNATURE",          // Signature for this request is not valid
	-1100: "ILLEGAL_CHARS",              // Illegal characters found in a parameter
	-1102: "MANDATORY_PARAM_EMPTY",      // A mandatory parameter was not sent
	-1111: "BAD_PRECISION",              // Precision is over the maximum defined for this asset
	-1121: "BAD_SYMBOL",                 // Invalid symbol
	-2010: "NEW_ORDER_REJECTED",         // Spot: insufficient balance and other rejections
	-2014: "BAD_API_KEY_FMT",            // API-key format invalid
	-2015: "REJECTED_MBX_KEY",           // Invalid API-key, IP, or permissions
	-2019: "MARGIN_NOT_SUFFICIENT",      // Futures: margin is insufficient
	-4003: "QTY_LESS_THAN_ZERO",         // Quantity less than or equal to zero
	-4028: "INVALID_LEVERAGE",           // Leverage is not valid
	-4046: "NO_NEED_TO_CHANGE_MARGIN",   // Margin type already set
	-4059: "NO_NEED_TO_CHANGE_POS_SIDE", // Position side already set
	-4061: "POSITION_SIDE_NOT_MATCH",    // Order position side does not match the account setting
	-4164: "MIN_NOTIONAL",               // Order notional below the minimum
}

// noChangeCodes are configuration answers meaning the desired state is
// already in place.
var noChangeCodes = map[int]bool{
	-4046: true,
	-4059: true,
}

// GetErrorMsg returns the short name for a Binance error code.
func GetErrorMsg(code int) string {
	if msg, ok := BinanceErrorCodes[code]; ok {
		return msg
	}
	return fmt.Sprintf("UNKNOWN_BINANCE_ERROR_%d", code)
}

// ExchangeError is a request the exchange answered with an error payload.
// Msg is kept verbatim so it can be stored as the order's failure reason.
type ExchangeError struct {
	HTTPStatus int
	Code       int
	Msg        string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("binance error %d: %s", e.Code, e.Msg)
}

// Reason is the machine-readable name of the error code.
func (e *ExchangeError) Reason() string {
	return GetErrorMsg(e.Code)
}

// TransportError is a request that never got an exchange answer: timeouts,
// connection failures, unreadable bodies.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsNoChange reports whether err says the requested configuration is already applied.
func IsNoChange(err error) bool {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return noChangeCodes[exErr.Code]
	}
	return false
}
