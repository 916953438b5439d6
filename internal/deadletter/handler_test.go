package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/constants"
	"pulse/internal/logger"
	"pulse/pkg/models"
)

type fakeRepository struct {
	docs      []Document
	lastLimit int64
	err       error
}

func (f *fakeRepository) Archive(ctx context.Context, dl models.DeadLetter) error {
	return f.err
}

func (f *fakeRepository) List(ctx context.Context, limit int64) ([]Document, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

func newTestHandler(repo *fakeRepository) *Handler {
	return NewHandler(NewService(repo, logger.NopLogger()), logger.NopLogger())
}

func listRequest(t *testing.T, h *Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ListDeadLetters(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestListDeadLetters_ReturnsArchivedEntries(t *testing.T) {
	repo := &fakeRepository{docs: []Document{
		{EventID: "event-2", Reason: "max_attempts_exceeded: store unavailable", FailedAt: time.Now().UTC()},
		{EventID: "event-1", Reason: "terminated: user_id exceeds column width", FailedAt: time.Now().UTC().Add(-time.Hour)},
	}}

	w := listRequest(t, newTestHandler(repo), "/api/v1/dead-letters")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Count       int        `json:"count"`
		DeadLetters []Document `json:"dead_letters"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.DeadLetters, 2)
	assert.Equal(t, "event-2", body.DeadLetters[0].EventID)
	assert.Equal(t, "event-1", body.DeadLetters[1].EventID)
}

func TestListDeadLetters_DefaultLimit(t *testing.T) {
	repo := &fakeRepository{}

	w := listRequest(t, newTestHandler(repo), "/api/v1/dead-letters")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(constants.DefaultDeadLetterListLimit), repo.lastLimit)
}

func TestListDeadLetters_LimitClamped(t *testing.T) {
	repo := &fakeRepository{}

	w := listRequest(t, newTestHandler(repo), "/api/v1/dead-letters?limit=100000")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(constants.MaxDeadLetterListLimit), repo.lastLimit)
}

func TestListDeadLetters_RejectsBadLimit(t *testing.T) {
	repo := &fakeRepository{}
	h := newTestHandler(repo)

	for _, limit := range []string{"abc", "0", "-5"} {
		w := listRequest(t, h, "/api/v1/dead-letters?limit="+limit)
		assert.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", limit)
	}
	assert.Zero(t, repo.lastLimit)
}

func TestListDeadLetters_ArchiveUnavailable(t *testing.T) {
	repo := &fakeRepository{err: errors.New("mongo down")}

	w := listRequest(t, newTestHandler(repo), "/api/v1/dead-letters")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListDeadLetters_MethodNotAllowed(t *testing.T) {
	w := httptest.NewRecorder()
	newTestHandler(&fakeRepository{}).ListDeadLetters(w, httptest.NewRequest(http.MethodDelete, "/api/v1/dead-letters", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
