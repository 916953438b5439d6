package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pulse/internal/constants"
	"pulse/pkg/models"
)

// futureSkew is how far ahead of the gateway clock occurred_at may sit before
// the event is rejected. Producer clocks drift.
const futureSkew = 5 * time.Minute

// InvalidEventError classifies a candidate as unprocessable. Reason is a
// stable label suitable for metrics.
type InvalidEventError struct {
	Reason string
	Detail string
}

func (e *InvalidEventError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("invalid event (%s): %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("invalid event (%s)", e.Reason)
}

type Validator struct {
	maxPropertiesBytes int
	now                func() time.Time
}

func NewValidator(maxPropertiesBytes int) *Validator {
	if maxPropertiesBytes <= 0 {
		maxPropertiesBytes = constants.DefaultMaxPropertiesBytes
	}
	return &Validator{
		maxPropertiesBytes: maxPropertiesBytes,
		now:                time.Now,
	}
}

// Validate turns a loosely typed candidate into an Event, or reports why it
// cannot be one. Validation never consults any dependency; a candidate is
// judged on its own fields alone.
func (v *Validator) Validate(candidate models.EventCandidate) (*models.Event, *InvalidEventError) {
	if candidate.EventID == "" {
		return nil, &InvalidEventError{Reason: "missing_event_id"}
	}

	eventID, err := uuid.Parse(candidate.EventID)
	if err != nil {
		return nil, &InvalidEventError{
			Reason: "malformed_event_id",
			Detail: fmt.Sprintf("%q is not a valid UUID", candidate.EventID),
		}
	}

	if candidate.UserID == "" {
		return nil, &InvalidEventError{Reason: "missing_user_id"}
	}
	if len(candidate.UserID) > constants.MaxUserIDLen {
		return nil, &InvalidEventError{
			Reason: "user_id_too_long",
			Detail: fmt.Sprintf("user_id exceeds %d bytes", constants.MaxUserIDLen),
		}
	}

	if candidate.EventType == "" {
		return nil, &InvalidEventError{Reason: "missing_event_type"}
	}
	if len(candidate.EventType) > constants.MaxEventTypeLen {
		return nil, &InvalidEventError{
			Reason: "event_type_too_long",
			Detail: fmt.Sprintf("event_type exceeds %d bytes", constants.MaxEventTypeLen),
		}
	}

	if candidate.OccurredAt == "" {
		return nil, &InvalidEventError{Reason: "missing_occurred_at"}
	}
	occurredAt, err := time.Parse(time.RFC3339, candidate.OccurredAt)
	if err != nil {
		return nil, &InvalidEventError{
			Reason: "malformed_occurred_at",
			Detail: fmt.Sprintf("%q is not RFC3339", candidate.OccurredAt),
		}
	}
	if occurredAt.After(v.now().Add(futureSkew)) {
		return nil, &InvalidEventError{
			Reason: "occurred_at_in_future",
			Detail: fmt.Sprintf("occurred_at %s is in the future", candidate.OccurredAt),
		}
	}

	if candidate.Properties != nil {
		encoded, err := json.Marshal(candidate.Properties)
		if err != nil {
			return nil, &InvalidEventError{Reason: "unencodable_properties"}
		}
		if len(encoded) > v.maxPropertiesBytes {
			return nil, &InvalidEventError{
				Reason: "properties_too_large",
				Detail: fmt.Sprintf("properties exceed %d bytes", v.maxPropertiesBytes),
			}
		}
	}

	return &models.Event{
		EventID:    eventID,
		UserID:     candidate.UserID,
		EventType:  candidate.EventType,
		OccurredAt: occurredAt,
		Properties: candidate.Properties,
	}, nil
}
