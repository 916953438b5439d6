package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/analytics"
	"pulse/pkg/models"
)

const (
	gatewayServiceURL   = "http://localhost:8080"
	analyticsServiceURL = "http://localhost:8082"
	kafkaBroker         = "localhost:29092"
	eventsTopic         = "events.raw"
	persistWaitTimeout  = 30 * time.Second
)

func TestGatewayHealth(t *testing.T) {
	url := fmt.Sprintf("%s/health", gatewayServiceURL)
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]interface{}
	err = json.NewDecoder(resp.Body).Decode(&health)
	require.NoError(t, err)
	assert.NotNil(t, health["status"])
}

func TestAnalyticsHealth(t *testing.T) {
	url := fmt.Sprintf("%s/health", analyticsServiceURL)
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPipelineEndToEnd(t *testing.T) {
	baseline := getEventCount(t)

	batch := models.IngestionBatch{Events: []models.EventCandidate{
		newCandidate("e2e-user-1", "signup"),
		newCandidate("e2e-user-2", "signup"),
		newCandidate("e2e-user-1", "page_view"),
	}}

	result := ingestBatch(t, batch, http.StatusAccepted)
	assert.Equal(t, 3, result.Admitted)
	assert.Equal(t, 0, result.Duplicates)
	assert.Equal(t, 0, result.Invalid)

	waitForEventCount(t, baseline+3)
}

func TestPipelineDuplicateSubmission(t *testing.T) {
	baseline := getEventCount(t)

	batch := models.IngestionBatch{Events: []models.EventCandidate{
		newCandidate("e2e-dup-user", "purchase"),
	}}

	first := ingestBatch(t, batch, http.StatusAccepted)
	assert.Equal(t, 1, first.Admitted)

	second := ingestBatch(t, batch, http.StatusAccepted)
	assert.Equal(t, 0, second.Admitted)
	assert.Equal(t, 1, second.Duplicates)

	// Exactly one row lands regardless of how often the batch is submitted.
	waitForEventCount(t, baseline+1)

	time.Sleep(3 * time.Second)
	assert.Equal(t, baseline+1, getEventCount(t))
}

func TestPipelineInvalidEventsRejectedAtTheEdge(t *testing.T) {
	baseline := getEventCount(t)

	batch := models.IngestionBatch{Events: []models.EventCandidate{
		{
			EventID:   "not-a-uuid",
			UserID:    "e2e-invalid-user",
			EventType: "signup",
		},
		{
			EventID:    uuid.New().String(),
			UserID:     "e2e-invalid-user",
			EventType:  "signup",
			OccurredAt: time.Now().UTC().Add(2 * time.Hour).Format(time.RFC3339),
		},
	}}

	result := ingestBatch(t, batch, http.StatusAccepted)
	assert.Equal(t, 0, result.Admitted)
	assert.Equal(t, 2, result.Invalid)

	time.Sleep(3 * time.Second)
	assert.Equal(t, baseline, getEventCount(t), "invalid events must never reach the store")
}

func TestPipelineRedeliveryViaKafka(t *testing.T) {
	baseline := getEventCount(t)

	event := models.Event{
		EventID:    uuid.New(),
		UserID:     "e2e-kafka-user",
		EventType:  "signup",
		OccurredAt: time.Now().UTC().Add(-time.Hour),
	}
	msg := models.QueueMessage{
		ID:         event.EventID.String(),
		EnqueuedAt: time.Now().UTC(),
		Event:      event,
	}

	// Publish the same message twice, simulating broker redelivery past the
	// gateway's dedup cache. The store keeps one row.
	require.NoError(t, sendMessageToKafka(t, eventsTopic, msg))
	require.NoError(t, sendMessageToKafka(t, eventsTopic, msg))

	waitForEventCount(t, baseline+1)

	time.Sleep(3 * time.Second)
	assert.Equal(t, baseline+1, getEventCount(t))
}

func TestAnalyticsQueries(t *testing.T) {
	batch := models.IngestionBatch{Events: []models.EventCandidate{
		newCandidate("e2e-stats-1", "stats_view"),
		newCandidate("e2e-stats-2", "stats_view"),
		newCandidate("e2e-stats-1", "stats_click"),
	}}

	baseline := getEventCount(t)
	result := ingestBatch(t, batch, http.StatusAccepted)
	require.Equal(t, 3, result.Admitted)
	waitForEventCount(t, baseline+3)

	today := time.Now().UTC().Format("2006-01-02")

	var dau analytics.DAUResponse
	getJSON(t, fmt.Sprintf("%s/api/v1/stats/dau?from=%s&to=%s", analyticsServiceURL, today, today), &dau)
	require.Len(t, dau.Days, 1)
	assert.GreaterOrEqual(t, dau.Days[0].DistinctUsers, int64(2))

	var top analytics.TopEventsResponse
	getJSON(t, fmt.Sprintf("%s/api/v1/stats/top-events?from=%s&to=%s&limit=10", analyticsServiceURL, today, today), &top)
	assert.NotEmpty(t, top.Events)

	var retention analytics.RetentionResponse
	getJSON(t, fmt.Sprintf("%s/api/v1/stats/retention?start_date=%s&windows=1&window_type=daily", analyticsServiceURL, today), &retention)
	require.NotEmpty(t, retention.Windows)
	assert.Equal(t, 0, retention.Windows[0].Window)
	if retention.CohortSize > 0 {
		assert.Equal(t, 1.0, retention.Windows[0].Rate)
	}
}

func newCandidate(userID, eventType string) models.EventCandidate {
	return models.EventCandidate{
		EventID:    uuid.New().String(),
		UserID:     userID,
		EventType:  eventType,
		OccurredAt: time.Now().UTC().Add(-time.Minute).Format(time.RFC3339),
	}
}

func ingestBatch(t *testing.T, batch models.IngestionBatch, wantStatus int) *models.IngestionResult {
	t.Helper()

	body, err := json.Marshal(batch)
	require.NoError(t, err)

	url := fmt.Sprintf("%s/api/v1/events", gatewayServiceURL)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, wantStatus, resp.StatusCode)

	var result models.IngestionResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return &result
}

func getEventCount(t *testing.T) int64 {
	t.Helper()

	var payload struct {
		Count int64 `json:"count"`
	}
	getJSON(t, fmt.Sprintf("%s/api/v1/events/count", gatewayServiceURL), &payload)
	return payload.Count
}

func waitForEventCount(t *testing.T, want int64) {
	t.Helper()

	require.Eventually(t, func() bool {
		return getEventCount(t) >= want
	}, persistWaitTimeout, 500*time.Millisecond, "expected at least %d stored events", want)
}

func getJSON(t *testing.T, url string, out interface{}) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode, "GET %s", url)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func sendMessageToKafka(t *testing.T, topic string, message models.QueueMessage) error {
	t.Helper()

	writer := &kafka.Writer{
		Addr:         kafka.TCP(kafkaBroker),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}
	defer writer.Close()

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = writer.WriteMessages(ctx,
		kafka.Message{
			Key:   []byte(message.ID),
			Value: body,
			Time:  time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}
