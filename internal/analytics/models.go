package analytics

// Query sources reported back to the caller. Rollup answers are eventually
// consistent within the refresh interval; raw answers read the event store
// directly.
const (
	SourceRaw    = "raw"
	SourceRollup = "rollup"
)

// Window granularities for retention.
const (
	WindowTypeDaily  = "daily"
	WindowTypeWeekly = "weekly"
)

type DAUPoint struct {
	Day           string `json:"day"`
	DistinctUsers int64  `json:"distinct_users"`
}

type DAUResponse struct {
	From   string     `json:"from"`
	To     string     `json:"to"`
	Days   []DAUPoint `json:"days"`
	Source string     `json:"source"`
}

type TopEvent struct {
	EventType string `json:"event_type"`
	Count     int64  `json:"count"`
}

type TopEventsResponse struct {
	From   string     `json:"from"`
	To     string     `json:"to"`
	Limit  int        `json:"limit"`
	Events []TopEvent `json:"events"`
	Source string     `json:"source"`
}

type RetentionWindow struct {
	Window        int     `json:"window"`
	RetainedUsers int64   `json:"retained_users"`
	Rate          float64 `json:"rate"`
}

type RetentionResponse struct {
	StartDate  string            `json:"start_date"`
	WindowType string            `json:"window_type"`
	CohortSize int64             `json:"cohort_size"`
	Windows    []RetentionWindow `json:"windows"`
}
