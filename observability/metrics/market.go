package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"jobmarket/core/events"
	"jobmarket/native/market"
)

// MarketMetrics tracks ledger activity derived from committed events.
type MarketMetrics struct {
	events   *prometheus.CounterVec
	rejected *prometheus.CounterVec
	custody  prometheus.Gauge
	payouts  prometheus.Counter
	refunds  prometheus.Counter
}

var (
	marketOnce     sync.Once
	marketRegistry *MarketMetrics
)

// Market returns the process-wide ledger metrics registry.
func Market() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_ledger_events_total",
				Help: "Count of committed ledger events by type.",
			}, []string{"type"}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_ledger_rejections_total",
				Help: "Count of rejected ledger operations by operation and error code.",
			}, []string{"operation", "code"}),
			custody: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "market_vault_custody",
				Help: "Value currently escrowed in the vault, in the smallest unit.",
			}),
			payouts: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_payouts_total",
				Help: "Cumulative value paid to winners, in the smallest unit.",
			}),
			refunds: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_refunds_total",
				Help: "Cumulative value refunded to employers, in the smallest unit.",
			}),
		}
		prometheus.MustRegister(
			marketRegistry.events,
			marketRegistry.rejected,
			marketRegistry.custody,
			marketRegistry.payouts,
			marketRegistry.refunds,
		)
	})
	return marketRegistry
}

func toFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

// SetCustody seeds the custody gauge, typically from VaultBalance at startup.
func (m *MarketMetrics) SetCustody(v *big.Int) {
	if m == nil || v == nil {
		return
	}
	m.custody.Set(toFloat(v))
}

// RecordRejection counts a failed ledger operation.
func (m *MarketMetrics) RecordRejection(operation string, err error) {
	if m == nil || err == nil {
		return
	}
	m.rejected.WithLabelValues(operation, market.ErrorCode(err)).Inc()
}

// Emit implements events.Emitter.
func (m *MarketMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	m.events.WithLabelValues(payload.Type).Inc()
	switch payload.Type {
	case market.EventTypeJobPosted:
		m.custody.Add(toFloat(market.AmountAttribute(payload, "budget")))
	case market.EventTypeJobCompleted:
		payout := market.AmountAttribute(payload, "payout")
		refund := market.AmountAttribute(payload, "refund")
		m.payouts.Add(toFloat(payout))
		m.refunds.Add(toFloat(refund))
		m.custody.Sub(toFloat(new(big.Int).Add(payout, refund)))
	}
}
