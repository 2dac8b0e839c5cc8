// Package metrics provides Prometheus collectors of the disbursement service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "disburser"

// Leg statuses.
const (
	LegSucceeded = "succeeded"
	LegFailed    = "failed"
)

// Fee payment decisions.
const (
	FeeAccepted    = "accepted"
	FeeRejected    = "rejected"
	FeeQuoteFailed = "quote_failed"
	FeeInvalid     = "invalid_quote"
)

// Metrics groups service collectors. Nil *Metrics is valid and records
// nothing.
type Metrics struct {
	orchestrations *prometheus.CounterVec
	legs           *prometheus.CounterVec
	refunds        *prometheus.CounterVec
	fees           *prometheus.CounterVec
	pending        prometheus.Gauge
}

// New creates collectors and registers them in reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		orchestrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orchestrations_total",
			Help:      "Number of dispatched batches",
		}, []string{"kind"}),
		legs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "legs_total",
			Help:      "Number of settled batch legs",
		}, []string{"kind", "status"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunds_total",
			Help:      "Number of emitted refunds",
		}, []string{"kind"}),
		fees: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fee_payments_total",
			Help:      "Number of evaluated service fee payments",
		}, []string{"decision"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_orchestrations",
			Help:      "Number of batches waiting for reconciliation",
		}),
	}

	reg.MustRegister(m.orchestrations, m.legs, m.refunds, m.fees, m.pending)

	return m
}

// Dispatched records a started batch.
func (m *Metrics) Dispatched(kind string) {
	if m == nil {
		return
	}
	m.orchestrations.WithLabelValues(kind).Inc()
	m.pending.Inc()
}

// Reconciled records settled legs of a batch.
func (m *Metrics) Reconciled(kind string, succeeded, failed int) {
	if m == nil {
		return
	}
	m.pending.Dec()
	m.legs.WithLabelValues(kind, LegSucceeded).Add(float64(succeeded))
	m.legs.WithLabelValues(kind, LegFailed).Add(float64(failed))
}

// Refunded records a refund.
func (m *Metrics) Refunded(kind string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(kind).Inc()
}

// FeeDecision records fee payment outcome.
func (m *Metrics) FeeDecision(decision string) {
	if m == nil {
		return
	}
	m.fees.WithLabelValues(decision).Inc()
}
