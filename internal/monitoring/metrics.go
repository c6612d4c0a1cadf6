package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type MetricsService interface {
	// HTTP metrics
	RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration)

	// Reconciliation metrics
	RecordReconciliation(status string, duration time.Duration)
	RecordCredit(source string, amount float64)
	IncrementClamped(path string)
	IncrementConflictRetries(path string)
	IncrementAuditErrors(stage string)

	// Accrual metrics
	RecordOfflineReward(amount float64, capped bool)
	RecordTickReward(amount float64)

	// Referral metrics
	RecordReferral(outcome string)

	// Scheduler metrics
	RecordSweep(users, failures int, duration time.Duration)
}

type prometheusMetrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	reconciliationsTotal   *prometheus.CounterVec
	reconciliationDuration prometheus.Histogram
	creditedTotal          *prometheus.CounterVec
	clampedTotal           *prometheus.CounterVec
	conflictRetriesTotal   *prometheus.CounterVec
	auditErrorsTotal       *prometheus.CounterVec

	offlineRewardsTotal *prometheus.CounterVec
	offlineRewardAmount prometheus.Histogram
	tickRewardTotal     prometheus.Counter

	referralsTotal *prometheus.CounterVec

	sweepUsers    prometheus.Gauge
	sweepFailures prometheus.Counter
	sweepDuration prometheus.Histogram
}

// NewPrometheusMetrics registers the mining metrics on reg
func NewPrometheusMetrics(reg prometheus.Registerer) MetricsService {
	factory := promauto.With(reg)

	return &prometheusMetrics{
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mining_api_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mining_api_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		reconciliationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mining_api_reconciliations_total",
				Help: "Total number of reconciliation attempts by outcome",
			},
			[]string{"status"},
		),
		reconciliationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mining_api_reconciliation_duration_seconds",
				Help:    "Reconciliation duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5},
			},
		),
		creditedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mining_api_credited_amount_total",
				Help: "Total amount credited to balances by source",
			},
			[]string{"source"},
		),
		clampedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mining_api_clamped_credits_total",
				Help: "Credits truncated by the balance ceiling",
			},
			[]string{"path"},
		),
		conflictRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mining_api_conflict_retries_total",
				Help: "Conditional balance updates retried after a concurrent write",
			},
			[]string{"path"},
		),
		auditErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mining_api_audit_errors_total",
				Help: "Failures writing transaction log or daily aggregate after a confirmed credit",
			},
			[]string{"stage"},
		),

		offlineRewardsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mining_api_offline_rewards_total",
				Help: "Offline catch-up rewards staged",
			},
			[]string{"capped"},
		),
		offlineRewardAmount: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mining_api_offline_reward_amount",
				Help:    "Offline catch-up reward amounts",
				Buckets: []float64{0.05, 0.5, 1, 2.5, 5, 10, 19.2},
			},
		),
		tickRewardTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mining_api_tick_reward_total",
				Help: "Total live reward staged by ticks",
			},
		),

		referralsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mining_api_referrals_total",
				Help: "Referral attributions by outcome",
			},
			[]string{"outcome"},
		),

		sweepUsers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mining_api_sweep_users",
				Help: "Users with pending earnings in the last scheduled sweep",
			},
		),
		sweepFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mining_api_sweep_failures_total",
				Help: "Users whose reconciliation failed during a scheduled sweep",
			},
		),
		sweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mining_api_sweep_duration_seconds",
				Help:    "Scheduled sweep duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

func (m *prometheusMetrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

func (m *prometheusMetrics) RecordReconciliation(status string, duration time.Duration) {
	m.reconciliationsTotal.WithLabelValues(status).Inc()
	m.reconciliationDuration.Observe(duration.Seconds())
}

func (m *prometheusMetrics) RecordCredit(source string, amount float64) {
	m.creditedTotal.WithLabelValues(source).Add(amount)
}

func (m *prometheusMetrics) IncrementClamped(path string) {
	m.clampedTotal.WithLabelValues(path).Inc()
}

func (m *prometheusMetrics) IncrementConflictRetries(path string) {
	m.conflictRetriesTotal.WithLabelValues(path).Inc()
}

func (m *prometheusMetrics) IncrementAuditErrors(stage string) {
	m.auditErrorsTotal.WithLabelValues(stage).Inc()
}

func (m *prometheusMetrics) RecordOfflineReward(amount float64, capped bool) {
	m.offlineRewardsTotal.WithLabelValues(strconv.FormatBool(capped)).Inc()
	m.offlineRewardAmount.Observe(amount)
}

func (m *prometheusMetrics) RecordTickReward(amount float64) {
	m.tickRewardTotal.Add(amount)
}

func (m *prometheusMetrics) RecordReferral(outcome string) {
	m.referralsTotal.WithLabelValues(outcome).Inc()
}

func (m *prometheusMetrics) RecordSweep(users, failures int, duration time.Duration) {
	m.sweepUsers.Set(float64(users))
	m.sweepFailures.Add(float64(failures))
	m.sweepDuration.Observe(duration.Seconds())
}

type noopMetrics struct{}

// NewNoopMetrics returns a MetricsService that records nothing
func NewNoopMetrics() MetricsService {
	return noopMetrics{}
}

func (noopMetrics) RecordHTTPRequest(string, string, int, time.Duration) {}
func (noopMetrics) RecordReconciliation(string, time.Duration)          {}
func (noopMetrics) RecordCredit(string, float64)                        {}
func (noopMetrics) IncrementClamped(string)                             {}
func (noopMetrics) IncrementConflictRetries(string)                     {}
func (noopMetrics) IncrementAuditErrors(string)                         {}
func (noopMetrics) RecordOfflineReward(float64, bool)                   {}
func (noopMetrics) RecordTickReward(float64)                            {}
func (noopMetrics) RecordReferral(string)                               {}
func (noopMetrics) RecordSweep(int, int, time.Duration)                 {}
