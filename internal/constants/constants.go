package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixDedup = "dedup:"
)

const (
	DefaultEventsTopic = "events.raw"
	DefaultDLQTopic    = "events.dlq"
	DefaultGroupID     = "ingestion-workers"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultMaxBatchSize       = 1000
	DefaultMaxPropertiesBytes = 32768
	MaxUserIDLen              = 255
	MaxEventTypeLen           = 100
)

const (
	// DefaultDedupTTLSeconds keeps cache hints alive well past the worst-case
	// redelivery window. Expiry only degrades to extra store-level conflicts.
	DefaultDedupTTLSeconds = 86400
)

const (
	DefaultTopEventsLimit = 10
	MaxTopEventsLimit     = 100
	MaxDailyWindows       = 90
	MaxWeeklyWindows      = 52
	DefaultWindows        = 3
)

const (
	DefaultRollupIntervalSeconds = 300
	DefaultRollupLookbackDays    = 2
)

const (
	DefaultStoreWriteTimeout = 5 * time.Second
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
)

const (
	DeadLetterCollection       = "dead_letters"
	DefaultDeadLetterListLimit = 50
	MaxDeadLetterListLimit     = 500
)
