package ingestion

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pulse/internal/logger"
	"pulse/pkg/errors"
	"pulse/pkg/models"
)

type Handler struct {
	service *Service
	logger  logger.Logger
}

func NewHandler(service *Service, log logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine, extra ...gin.HandlerFunc) {
	v1 := router.Group("/api/v1")
	{
		events := v1.Group("/events")
		events.Use(extra...)
		{
			events.POST("", h.IngestEvents)
			if h.service.store != nil {
				events.GET("/count", h.CountEvents)
			}
		}
	}
}

func (h *Handler) IngestEvents(c *gin.Context) {
	var batch models.IngestionBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	result, err := h.service.IngestBatch(c.Request.Context(), batch)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, result)
}

func (h *Handler) CountEvents(c *gin.Context) {
	count, err := h.service.CountEvents(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error",
		"error", err,
		"path", c.Request.URL.Path,
	)

	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}
