package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RetryQueueDepth 当前持久化队列中的待重试条目数
	RetryQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_retry_queue_depth",
			Help: "Number of operations waiting in the retry queue.",
		},
	)

	RetryEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_retry_enqueued_total",
			Help: "Operations captured into the retry queue, by operation type.",
		},
		[]string{"operation"},
	)

	RetryProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_retry_processed_total",
			Help: "Processor invocations, by operation type and result.",
		},
		[]string{"operation", "result"},
	)

	ReceiptFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_read_receipt_batch_fallbacks_total",
			Help: "Batched read-receipt items that switched to per-message updates.",
		},
	)

	StoreFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_store_failures_total",
			Help: "Classified document store failures, by class.",
		},
		[]string{"class"},
	)
)

func init() {
	prometheus.MustRegister(RetryQueueDepth)
	prometheus.MustRegister(RetryEnqueued)
	prometheus.MustRegister(RetryProcessed)
	prometheus.MustRegister(ReceiptFallbacks)
	prometheus.MustRegister(StoreFailures)
}
