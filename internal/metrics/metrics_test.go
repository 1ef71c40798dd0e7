package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.SplitCreated()
	m.SplitCreated()
	m.Approval(ApprovalAccepted)
	m.Approval(ApprovalRejected)
	m.Approval(ApprovalAccepted)
	m.Settlement(SettlementAlreadySettled)
	m.SettlementConfirmedAfter(3 * time.Second)
	m.BreakerStateChanged(gobreaker.StateClosed, gobreaker.StateOpen)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.splitsCreated))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.approvals.WithLabelValues(ApprovalAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.approvals.WithLabelValues(ApprovalRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.settlements.WithLabelValues(SettlementConfirmed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.settlements.WithLabelValues(SettlementAlreadySettled)))
	assert.Equal(t, float64(gobreaker.StateOpen), testutil.ToFloat64(m.breakerState))
	assert.Equal(t, 1, testutil.CollectAndCount(m.settlementDuration))
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SplitCreated()
		m.Approval(ApprovalAccepted)
		m.Settlement(SettlementFailed)
		m.SettlementConfirmedAfter(time.Second)
		m.BreakerStateChanged(gobreaker.StateOpen, gobreaker.StateHalfOpen)
	})
}
