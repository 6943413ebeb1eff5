// Package metrics holds the engine's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "margin"

type Margin struct {
	SweepDuration  *prometheus.HistogramVec
	SweepErrors    *prometheus.CounterVec
	MarginCalls    prometheus.Counter
	Liquidations   *prometheus.CounterVec
	FundingApplied *prometheus.CounterVec
	Settlements    *prometheus.CounterVec
	Accounts       *prometheus.GaugeVec
	OpenPositions  prometheus.Gauge
}

// New registers the collectors with reg. Passing nil uses a private registry.
func New(reg prometheus.Registerer) *Margin {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Margin{
		SweepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of risk and liquidation sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"sweep"}),
		SweepErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_errors_total",
			Help:      "Per-account failures during sweeps.",
		}, []string{"sweep", "stage"}),
		MarginCalls: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "margin_calls_total",
			Help:      "Accounts that entered margin call.",
		}),
		Liquidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidations_total",
			Help:      "Liquidation attempts by outcome and reason.",
		}, []string{"status", "reason"}),
		FundingApplied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "funding_applied_total",
			Help:      "Funding and interest charges applied to positions.",
		}, []string{"kind"}),
		Settlements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Asynchronous custody postings by result.",
		}, []string{"result"}),
		Accounts: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "accounts",
			Help:      "Accounts by status after the last sweep.",
		}, []string{"status"}),
		OpenPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Open positions after the last sweep.",
		}),
	}
}

// ObserveSweep records the time since start under the named sweep.
func (m *Margin) ObserveSweep(sweep string, start time.Time) {
	m.SweepDuration.WithLabelValues(sweep).Observe(time.Since(start).Seconds())
}

func (m *Margin) Settled(err error) {
	if err != nil {
		m.Settlements.WithLabelValues("failed").Inc()
		return
	}
	m.Settlements.WithLabelValues("ok").Inc()
}
