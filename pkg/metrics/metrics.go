package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_received_total",
			Help: "Total number of event candidates received at the gateway (count)",
		},
		[]string{"event_type"},
	)

	EventsAdmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "events_admitted_total",
			Help: "Total number of events admitted onto the queue (count)",
		},
	)

	EventsDuplicateTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "events_duplicate_total",
			Help: "Total number of events classified duplicate at admission (count)",
		},
	)

	EventsInvalidTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_invalid_total",
			Help: "Total number of events rejected as invalid at admission (count)",
		},
		[]string{"reason"},
	)

	IngestionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingestion_batch_duration_ms",
			Help:    "Gateway batch admission duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
	)

	EventsStoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_stored_total",
			Help: "Total number of events durably written by the worker (count)",
		},
		[]string{"event_type"},
	)

	EventsAlreadyStoredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "events_already_stored_total",
			Help: "Total number of worker writes resolved as already-present duplicates (count)",
		},
	)

	StoreWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_write_duration_ms",
			Help:    "Event store insert duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"status"},
	)

	DedupCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dedup_check_duration_ms",
			Help:    "Deduplication cache check duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"status"},
	)

	DedupCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dedup_cache_size",
			Help: "Approximate number of live deduplication cache entries (count)",
		},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analytics_query_duration_ms",
			Help:    "Aggregation query duration in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"query", "source"},
	)

	RollupRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollup_refresh_total",
			Help: "Total number of rollup refresh cycles (count)",
		},
		[]string{"status"},
	)

	RollupLastRefresh = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rollup_last_refresh_timestamp_seconds",
			Help: "Unix timestamp of the last successful rollup refresh",
		},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of message processing retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to the dead-letter topic (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	DeadLettersArchivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dead_letters_archived_total",
			Help: "Total number of dead letters archived for inspection (count)",
		},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"service", "strategy", "reason"},
	)
)

func RegisterGatewayMetrics() {
	prometheus.MustRegister(
		EventsReceivedTotal,
		EventsAdmittedTotal,
		EventsDuplicateTotal,
		EventsInvalidTotal,
		IngestionDuration,
		DedupCheckDuration,
		DedupCacheSize,
		RateLimitRequestsTotal,
		FallbackUsageTotal,
	)
}

func RegisterWorkerMetrics() {
	prometheus.MustRegister(
		EventsStoredTotal,
		EventsAlreadyStoredTotal,
		StoreWriteDuration,
	)
}

func RegisterAnalyticsMetrics() {
	prometheus.MustRegister(
		QueryDuration,
		RollupRefreshTotal,
		RollupLastRefresh,
	)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(
		RetryAttemptsTotal,
		DLQMessagesTotal,
		KafkaMessagesReadTotal,
		KafkaMessagesWrittenTotal,
	)
}

func RegisterArchiverMetrics() {
	prometheus.MustRegister(DeadLettersArchivedTotal)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(
		CircuitBreakerState,
		CircuitBreakerRequests,
		CircuitBreakerFailures,
	)
}

func ObserveDedupCheck(d time.Duration, status string) {
	DedupCheckDuration.WithLabelValues(status).Observe(float64(d.Milliseconds()))
}

func ObserveStoreWrite(d time.Duration, status string) {
	StoreWriteDuration.WithLabelValues(status).Observe(float64(d.Milliseconds()))
}

func ObserveQuery(query, source string, d time.Duration) {
	QueryDuration.WithLabelValues(query, source).Observe(float64(d.Milliseconds()))
}

func SetDedupCacheSize(size int) {
	DedupCacheSize.Set(float64(size))
}
