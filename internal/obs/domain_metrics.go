package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// ActionTotal counts named operation outcomes.
	ActionTotal *prometheus.CounterVec
	// ActionDuration records named operation latency in milliseconds.
	ActionDuration *prometheus.HistogramVec
	// ERPRequestDuration records ERP REST latency by endpoint kind.
	ERPRequestDuration *prometheus.HistogramVec
	// SyncRecordsTotal counts ERCOM rows processed by entity and result.
	SyncRecordsTotal *prometheus.CounterVec
	// DiscountRecomputeTotal counts discount field rewrites by trigger.
	DiscountRecomputeTotal *prometheus.CounterVec
	// SheetRowsTotal counts workbook rows ingested by file category.
	SheetRowsTotal *prometheus.CounterVec
	// WebhookDeliveriesTotal tracks notice webhook outcomes.
	WebhookDeliveriesTotal *prometheus.CounterVec
	// WebhookAttemptLatency records delivery attempt latency in milliseconds.
	WebhookAttemptLatency *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
// The helpers below are no-ops until it has run.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		ActionTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_total",
			Help:      "Count of named operation outcomes.",
		}, []string{"operation", "result"}))
		ActionDuration = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_ms",
			Help:      "Latency of named operations in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 15000, 60000, 300000},
		}, []string{"operation"}))
		ERPRequestDuration = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "erp_request_duration_ms",
			Help:      "Latency of ERP REST calls in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 15000},
		}, []string{"kind", "status"}))
		SyncRecordsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ercom_sync_records_total",
			Help:      "ERCOM rows processed by entity and result.",
		}, []string{"entity", "result"}))
		DiscountRecomputeTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_recompute_total",
			Help:      "Discount field rewrites by trigger.",
		}, []string{"trigger"}))
		SheetRowsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sheet_rows_total",
			Help:      "Workbook rows ingested by file category.",
		}, []string{"category"}))
		WebhookDeliveriesTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Count of notice webhook delivery outcomes.",
		}, []string{"result"}))
		WebhookAttemptLatency = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_attempt_duration_ms",
			Help:      "Latency for webhook delivery attempts in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"result"}))
	})
}

// IncCounter increments vec with labels when metrics are registered.
func IncCounter(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}

// AddCounter adds n to vec with labels when metrics are registered.
func AddCounter(vec *prometheus.CounterVec, n int, labels ...string) {
	if vec == nil || n <= 0 {
		return
	}
	vec.WithLabelValues(labels...).Add(float64(n))
}

// Observe records v on vec with labels when metrics are registered.
func Observe(vec *prometheus.HistogramVec, v float64, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Observe(v)
}
