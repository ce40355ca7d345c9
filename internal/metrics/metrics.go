package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Record intake metrics
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurostream_ingest_records_total",
			Help: "Total number of records processed per device and status",
		},
		[]string{"device", "status"},
	)

	RecordBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "neurostream_ingest_record_bytes_total",
			Help: "Total estimated bytes of accepted record data",
		},
	)

	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurostream_ingest_rejections_total",
			Help: "Total rejected records by reason class",
		},
		[]string{"reason"},
	)

	// Dispatcher queue metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "neurostream_ingest_queue_depth",
			Help: "Current depth of the dispatch buffer",
		},
	)

	QueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "neurostream_ingest_queue_capacity",
			Help: "Configured capacity of the dispatch buffer",
		},
	)

	BackpressureTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "neurostream_ingest_backpressure_total",
			Help: "Total enqueue attempts rejected because the buffer was full",
		},
	)

	// Publish boundary metrics
	PublishAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "neurostream_ingest_publish_attempts_total",
			Help: "Total publish attempts against the messaging boundary",
		},
	)

	PublishFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "neurostream_ingest_publish_failures_total",
			Help: "Total failed publish attempts",
		},
	)

	DeadLettersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "neurostream_ingest_dead_letters_total",
			Help: "Total envelopes moved to the dead-letter sink",
		},
	)

	PublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "neurostream_ingest_publish_duration_seconds",
			Help:    "Duration of publish calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Worker metrics
	WorkersRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "neurostream_ingest_workers_running",
			Help: "Number of workers currently in the RUNNING state",
		},
	)

	WorkerReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurostream_ingest_worker_reconnects_total",
			Help: "Total reconnect attempts per device",
		},
		[]string{"device"},
	)
)
