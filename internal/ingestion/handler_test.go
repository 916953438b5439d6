package ingestion

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"pulse/internal/config"
	"pulse/internal/logger"
)

func newTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(svc, logger.NopLogger()).RegisterRoutes(router)
	return router
}

func TestCountRoute_ServesStoredTotal(t *testing.T) {
	svc := newTestService(newFakeRepository(), &fakeProducer{}, config.IngestionConfig{})
	router := newTestRouter(svc)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/events/count", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":42}`, w.Body.String())
}

// A gateway without an event store does not register the count route at all,
// so the request 404s instead of dereferencing a missing repository.
func TestCountRoute_AbsentWithoutEventStore(t *testing.T) {
	svc := NewService(newFakeRepository(), &fakeProducer{}, nil, config.IngestionConfig{}, "events.test", logger.NopLogger())
	svc.StopCacheMetricsUpdater()
	router := newTestRouter(svc)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/events/count", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}
