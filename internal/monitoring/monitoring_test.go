package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg).(*prometheusMetrics)

	m.RecordReconciliation("success", 10*time.Millisecond)
	m.RecordReconciliation("success", 20*time.Millisecond)
	m.RecordReconciliation("unavailable", time.Millisecond)
	m.IncrementClamped("reconcile")
	m.RecordCredit("live", 0.25)
	m.RecordCredit("live", 0.75)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.reconciliationsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconciliationsTotal.WithLabelValues("unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.clampedTotal.WithLabelValues("reconcile")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.creditedTotal.WithLabelValues("live")))
}

func TestPrometheusMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewPrometheusMetrics(prometheus.NewRegistry())
		NewPrometheusMetrics(prometheus.NewRegistry())
	})
}

func TestHealthChecker_CheckHealth(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }
	down := func(ctx context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name     string
		checks   []func(ctx context.Context) error
		expected string
	}{
		{"all healthy", []func(ctx context.Context) error{ok, ok}, "healthy"},
		{"one down", []func(ctx context.Context) error{ok, down}, "degraded"},
		{"all down", []func(ctx context.Context) error{down, down}, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker("test")
			for i, check := range tt.checks {
				h.RegisterCheck(NewPingChecker(string(rune('a'+i)), time.Second, check))
			}

			status := h.CheckHealth(context.Background())
			require.NotNil(t, status)
			assert.Equal(t, tt.expected, status.Status)
			assert.Len(t, status.Components, len(tt.checks))
		})
	}
}
