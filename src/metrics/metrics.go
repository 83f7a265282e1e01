// Package metrics exposes trading counters for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's collectors on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	OrdersTotal      *prometheus.CounterVec // labels: side, status
	ExitsTotal       *prometheus.CounterVec // labels: reason
	SkipsTotal       *prometheus.CounterVec // labels: reason
	PnlGains         prometheus.Counter
	PnlLosses        prometheus.Counter
	ExitSweepSeconds *prometheus.HistogramVec // labels: symbol
	StreamReconnects prometheus.Counter
	LastPrice        *prometheus.GaugeVec // labels: symbol
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_orders_total",
			Help: "Orders that reached a terminal status",
		}, []string{"side", "status"}),
		ExitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_exits_total",
			Help: "Exit rules that fired, by reason",
		}, []string{"reason"}),
		SkipsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_eligibility_skips_total",
			Help: "Accounts skipped by a buy sweep, by reason",
		}, []string{"reason"}),
		PnlGains: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autotrader_realized_pnl_usdt_total",
			Help: "Sum of positive realized PnL in USDT",
		}),
		PnlLosses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autotrader_realized_loss_usdt_total",
			Help: "Sum of realized losses in USDT, as a positive number",
		}),
		ExitSweepSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autotrader_exit_sweep_seconds",
			Help:    "Duration of one exit sweep",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"symbol"}),
		StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autotrader_price_stream_reconnects_total",
			Help: "Price stream reconnection attempts",
		}),
		LastPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "autotrader_last_price",
			Help: "Last price seen on the price stream",
		}, []string{"symbol"}),
	}

	m.registry.MustRegister(
		m.OrdersTotal,
		m.ExitsTotal,
		m.SkipsTotal,
		m.PnlGains,
		m.PnlLosses,
		m.ExitSweepSeconds,
		m.StreamReconnects,
		m.LastPrice,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) OrderFinished(side, status string) {
	m.OrdersTotal.WithLabelValues(side, status).Inc()
}

func (m *Metrics) ExitTriggered(reason string) {
	m.ExitsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) EligibilitySkipped(reason string) {
	m.SkipsTotal.WithLabelValues(reason).Inc()
}

// RealizedPnl splits gains and losses; counters cannot go down.
func (m *Metrics) RealizedPnl(pnlUSDT float64) {
	if pnlUSDT >= 0 {
		m.PnlGains.Add(pnlUSDT)
		return
	}
	m.PnlLosses.Add(-pnlUSDT)
}

func (m *Metrics) ExitSweepObserved(symbol string, d time.Duration) {
	m.ExitSweepSeconds.WithLabelValues(symbol).Observe(d.Seconds())
}

func (m *Metrics) StreamReconnected() {
	m.StreamReconnects.Inc()
}

func (m *Metrics) PriceSeen(symbol string, price float64) {
	m.LastPrice.WithLabelValues(symbol).Set(price)
}
