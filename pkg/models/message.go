package models

import "time"

// QueueMessage wraps exactly one admitted Event for transport between the
// gateway and the worker pool. Delivery is at-least-once; the worker's store
// write must stay idempotent against redelivery.
type QueueMessage struct {
	ID         string       `json:"id"` // event_id, doubles as the partition key
	EnqueuedAt time.Time    `json:"enqueued_at"`
	Event      Event        `json:"event"`
	Delivery   DeliveryInfo `json:"delivery"`
}

// DeliveryInfo tracks redelivery state across processing attempts.
type DeliveryInfo struct {
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// DeadLetter is published to the DLQ topic when a message is terminated,
// either explicitly by the handler or after exhausting delivery attempts.
type DeadLetter struct {
	Message     QueueMessage `json:"message"`
	RawPayload  []byte       `json:"raw_payload,omitempty"` // set when the envelope itself failed to decode
	Reason      string       `json:"reason"`
	SourceTopic string       `json:"source_topic"`
	FailedAt    time.Time    `json:"failed_at"`
}
