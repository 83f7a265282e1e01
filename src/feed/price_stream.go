// Package feed streams live prices from the Binance miniTicker websocket.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"
)

// PriceHandler is called with the latest close price of a symbol. Calls for
// one symbol are at least Throttle apart.
type PriceHandler func(ctx context.Context, symbol string, price float64)

// Observer receives stream health signals. It may be nil.
type Observer interface {
	StreamReconnected()
	PriceSeen(symbol string, price float64)
}

type PriceStream struct {
	cfg      Config
	observer Observer
	now      func() time.Time

	mu       sync.Mutex
	lastCall map[string]time.Time
}

func NewPriceStream(cfg Config, observer Observer) *PriceStream {
	if cfg.Throttle <= 0 {
		cfg.Throttle = 15 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &PriceStream{
		cfg:      cfg,
		observer: observer,
		now:      time.Now,
		lastCall: map[string]time.Time{},
	}
}

// StreamURL builds the combined stream URL: <url>?streams=btcusdt@miniTicker/...
func (s *PriceStream) StreamURL(symbols []string) string {
	streams := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		streams = append(streams, strings.ToLower(strings.TrimSpace(sym))+"@miniTicker")
	}
	return s.cfg.URL + "?streams=" + strings.Join(streams, "/")
}

// Run connects, reads and reconnects with exponential backoff until ctx is
// done. It returns ctx.Err().
func (s *PriceStream) Run(ctx context.Context, symbols []string, onPrice PriceHandler) error {
	if len(symbols) == 0 {
		return fmt.Errorf("price stream: no symbols")
	}
	wsURL := s.StreamURL(symbols)
	backoff := min(time.Second, s.cfg.MaxBackoff)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, err := s.dial(ctx, wsURL)
		if err == nil {
			logger.WithFields(map[string]interface{}{
				"component": "PriceStream",
				"symbols":   symbols,
			}).Info("Price stream connected")
			backoff = min(time.Second, s.cfg.MaxBackoff)

			err = s.readLoop(ctx, conn, onPrice)
			_ = conn.Close()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger.WithField("component", "PriceStream").WithError(err).
			WithField("retry_in", backoff.String()).Warn("Price stream disconnected")
		if s.observer != nil {
			s.observer.StreamReconnected()
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > s.cfg.MaxBackoff {
			backoff = s.cfg.MaxBackoff
		}
	}
}

func (s *PriceStream) dial(ctx context.Context, wsURL string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	return conn, err
}

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type miniTicker struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
}

func (s *PriceStream) readLoop(ctx context.Context, conn *websocket.Conn, onPrice PriceHandler) error {
	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env streamEnvelope
		if err := json.Unmarshal(msg, &env); err != nil || len(env.Data) == 0 {
			continue
		}
		var tick miniTicker
		if err := json.Unmarshal(env.Data, &tick); err != nil || tick.EventType != "24hrMiniTicker" {
			continue
		}
		price, err := strconv.ParseFloat(tick.Close, 64)
		if err != nil || price <= 0 {
			continue
		}

		symbol := strings.ToUpper(tick.Symbol)
		if s.observer != nil {
			s.observer.PriceSeen(symbol, price)
		}
		if s.due(symbol) {
			onPrice(ctx, symbol, price)
		}
	}
}

// due reports whether the symbol's throttle window has passed, and starts a
// new window if so.
func (s *PriceStream) due(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if last, ok := s.lastCall[symbol]; ok && now.Sub(last) < s.cfg.Throttle {
		return false
	}
	s.lastCall[symbol] = now
	return true
}
