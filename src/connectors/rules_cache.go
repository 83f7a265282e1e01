package connectors

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// SymbolRules are the exchangeInfo filters needed to size a market order.
type SymbolRules struct {
	Symbol            string
	StepSize          decimal.Decimal
	MinQty            decimal.Decimal
	MinNotional       decimal.Decimal
	PricePrecision    int
	QuantityPrecision int
	// HasQuantityPrecision is false for markets that do not publish it (spot).
	HasQuantityPrecision bool
}

type cachedRules struct {
	rules     SymbolRules
	fetchedAt time.Time
}

// RulesCache keeps exchangeInfo filters per market and symbol for a TTL.
// It holds exchange metadata only, never account state.
type RulesCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cachedRules
	now     func() time.Time
}

func NewRulesCache(ttl time.Duration) *RulesCache {
	return &RulesCache{
		ttl:     ttl,
		entries: make(map[string]cachedRules),
		now:     time.Now,
	}
}

func rulesKey(futures bool, symbol string) string {
	if futures {
		return "futures:" + symbol
	}
	return "spot:" + symbol
}

// Get returns fresh rules for the key.
func (c *RulesCache) Get(key string) (SymbolRules, bool) {
	if c == nil {
		return SymbolRules{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || c.now().Sub(entry.fetchedAt) >= c.ttl {
		return SymbolRules{}, false
	}
	return entry.rules, true
}

func (c *RulesCache) Put(key string, rules SymbolRules) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedRules{rules: rules, fetchedAt: c.now()}
}
