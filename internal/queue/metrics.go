package queue

import "github.com/prometheus/client_golang/prometheus"

// Queue metrics, labelled by task kind.
var (
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ercom_queue_depth",
		Help: "Ready tasks per kind, sampled on enqueue and by the admin stats endpoint",
	}, []string{"kind"})
	QueueProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ercom_queue_processed_total",
		Help: "Task deliveries by outcome: ok, failed or dead",
	}, []string{"kind", "status"})
	QueueDLQSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ercom_queue_dlq_size",
		Help: "Dead-lettered tasks per kind",
	}, []string{"kind"})
	QueueTaskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ercom_queue_task_duration_seconds",
		Help:    "Handler run time per delivery",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(QueueDepth, QueueProcessedTotal, QueueDLQSize, QueueTaskDuration)
}
