package connectors

import (
	"errors"
	"fmt"

	"autotrader/src/model"
	"autotrader/src/security"
)

var ErrMissingCredentials = errors.New("api key has no stored credentials")

// Factory builds per-account gateways. The rules cache and public ticker are
// shared across accounts; credentials are decrypted per call.
type Factory struct {
	cfg     Config
	rules   *RulesCache
	ticker  PublicTicker
	decrypt func(string) (string, error)
}

func NewFactory(cfg Config, ticker PublicTicker) *Factory {
	return &Factory{
		cfg:     cfg,
		rules:   NewRulesCache(cfg.RulesTTL),
		ticker:  ticker,
		decrypt: security.DecryptString,
	}
}

// ForAccount returns a gateway for the account's market and network.
func (f *Factory) ForAccount(account *model.TradingAPIKey) (Gateway, error) {
	if account == nil {
		return nil, errors.New("nil account")
	}
	if account.APIKeyHash == "" || account.SecretKeyHash == "" {
		return nil, fmt.Errorf("api key %d: %w", account.ID, ErrMissingCredentials)
	}

	apiKey, err := f.decrypt(account.APIKeyHash)
	if err != nil {
		return nil, fmt.Errorf("decrypt api key %d: %w", account.ID, err)
	}
	apiSecret, err := f.decrypt(account.SecretKeyHash)
	if err != nil {
		return nil, fmt.Errorf("decrypt api secret %d: %w", account.ID, err)
	}

	return NewBinanceClient(apiKey, apiSecret, account.FuturesEnabled, account.IsTestnet, f.cfg, f.rules, f.ticker), nil
}
