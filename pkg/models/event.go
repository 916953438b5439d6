package models

import (
	"time"

	"github.com/google/uuid"
)

// Event is the unit of ingestion. EventID is the idempotency key: the event
// store enforces at most one persisted row per EventID for the lifetime of
// the system.
type Event struct {
	EventID    uuid.UUID              `json:"event_id"`
	UserID     string                 `json:"user_id"`
	EventType  string                 `json:"event_type"`
	OccurredAt time.Time              `json:"occurred_at"`
	Properties map[string]interface{} `json:"properties,omitempty"`

	// ReceivedAt is assigned by the event store on durable write. Audit only,
	// never used for aggregation.
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// EventCandidate is a loosely typed event as it arrives at the ingestion
// boundary. Fields stay strings so one malformed candidate cannot fail
// decoding of the whole batch; the gateway validator turns candidates into
// Events and classifies the rest as invalid.
type EventCandidate struct {
	EventID    string                 `json:"event_id"`
	UserID     string                 `json:"user_id"`
	EventType  string                 `json:"event_type"`
	OccurredAt string                 `json:"occurred_at"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// IngestionBatch is the request-scoped collection of candidates. It is never
// persisted; it exists only for the duration of gateway processing.
type IngestionBatch struct {
	Events []EventCandidate `json:"events"`
}

// Disposition values returned per event by the gateway.
const (
	DispositionAdmitted  = "admitted"
	DispositionDuplicate = "duplicate"
	DispositionInvalid   = "invalid"
)

// IngestionResult is the gateway's synchronous answer. It reflects admission,
// not confirmed persistence.
type IngestionResult struct {
	Dispositions map[string]string `json:"dispositions"`
	Admitted     int               `json:"admitted"`
	Duplicates   int               `json:"duplicates"`
	Invalid      int               `json:"invalid"`
}

// Total returns the number of classified events, which must equal batch size.
func (r *IngestionResult) Total() int {
	return r.Admitted + r.Duplicates + r.Invalid
}
