// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

const namespace = "accountantbot"

// Approval results.
const (
	ApprovalAccepted  = "accepted"
	ApprovalDuplicate = "duplicate"
	ApprovalRejected  = "rejected"
)

// Settlement results.
const (
	SettlementConfirmed             = "confirmed"
	SettlementAlreadySettled        = "already_settled"
	SettlementInsufficientAllowance = "insufficient_allowance"
	SettlementFailed                = "failed"
	SettlementReverted              = "reverted"
	SettlementTimedOut              = "timed_out"
)

// Metrics groups the coordinator's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	splitsCreated      prometheus.Counter
	approvals          *prometheus.CounterVec
	settlements        *prometheus.CounterVec
	settlementDuration prometheus.Histogram
	breakerState       prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		splitsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "splits_created_total",
			Help:      "Splits created.",
		}),
		approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "split_approvals_total",
			Help:      "Approval submissions by result.",
		}, []string{"result"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlement triggers by result.",
		}, []string{"result"}),
		settlementDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_duration_seconds",
			Help:      "Time from submission to confirmation of settlement transactions.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_breaker_state",
			Help:      "Chain client circuit breaker state (0 closed, 1 half-open, 2 open).",
		}),
	}

	for _, c := range []prometheus.Collector{m.splitsCreated, m.approvals, m.settlements, m.settlementDuration, m.breakerState} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) SplitCreated() {
	if m == nil {
		return
	}
	m.splitsCreated.Inc()
}

func (m *Metrics) Approval(result string) {
	if m == nil {
		return
	}
	m.approvals.WithLabelValues(result).Inc()
}

func (m *Metrics) Settlement(result string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(result).Inc()
}

// SettlementConfirmedAfter records a confirmed settlement and its latency.
func (m *Metrics) SettlementConfirmedAfter(d time.Duration) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(SettlementConfirmed).Inc()
	m.settlementDuration.Observe(d.Seconds())
}

// BreakerStateChanged is shaped to plug into chain.BreakerSettings.OnStateChange.
func (m *Metrics) BreakerStateChanged(_, to gobreaker.State) {
	if m == nil {
		return
	}
	m.breakerState.Set(float64(to))
}
