package analytics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"pulse/internal/constants"
	"pulse/internal/logger"
	"pulse/pkg/errors"
)

const dateLayout = "2006-01-02"

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

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		stats := v1.Group("/stats")
		{
			stats.GET("/dau", h.GetDAU)
			stats.GET("/top-events", h.GetTopEvents)
			stats.GET("/retention", h.GetRetention)
		}
	}
}

func (h *Handler) GetDAU(c *gin.Context) {
	from, to, err := parseDateRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(err))
		return
	}

	result, err := h.service.DAU(c.Request.Context(), from, to)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) GetTopEvents(c *gin.Context) {
	from, to, err := parseDateRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(err))
		return
	}

	limit := constants.DefaultTopEventsLimit
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > constants.MaxTopEventsLimit {
			c.JSON(http.StatusBadRequest, errors.ToErrorResponse(
				errors.ErrValidation.WithDetail("message",
					fmt.Sprintf("limit must be an integer between 1 and %d", constants.MaxTopEventsLimit))))
			return
		}
	}

	result, err := h.service.TopEvents(c.Request.Context(), from, to, limit)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) GetRetention(c *gin.Context) {
	startDate, err := parseDate(c.Query("start_date"), "start_date")
	if err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(err))
		return
	}

	windowType := c.DefaultQuery("window_type", WindowTypeDaily)
	if windowType != WindowTypeDaily && windowType != WindowTypeWeekly {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(
			errors.ErrValidation.WithDetail("message", "window_type must be 'daily' or 'weekly'")))
		return
	}

	maxWindows := constants.MaxDailyWindows
	if windowType == WindowTypeWeekly {
		maxWindows = constants.MaxWeeklyWindows
	}

	windows := constants.DefaultWindows
	if raw := c.Query("windows"); raw != "" {
		windows, err = strconv.Atoi(raw)
		if err != nil || windows < 1 || windows > maxWindows {
			c.JSON(http.StatusBadRequest, errors.ToErrorResponse(
				errors.ErrValidation.WithDetail("message",
					fmt.Sprintf("windows must be an integer between 1 and %d", maxWindows))))
			return
		}
	}

	result, err := h.service.Retention(c.Request.Context(), startDate, windows, windowType)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error",
		"error", err,
		"path", c.Request.URL.Path,
	)

	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

func parseDateRange(c *gin.Context) (time.Time, time.Time, error) {
	from, err := parseDate(c.Query("from"), "from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	to, err := parseDate(c.Query("to"), "to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	if from.After(to) {
		return time.Time{}, time.Time{}, errors.ErrValidation.
			WithDetail("message", "'from' must not be after 'to'")
	}

	return from, to, nil
}

func parseDate(value, name string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.ErrValidation.
			WithDetail("message", fmt.Sprintf("'%s' is required (format %s)", name, dateLayout))
	}

	parsed, err := time.ParseInLocation(dateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, errors.ErrValidation.
			WithCause(err).
			WithDetail("message", fmt.Sprintf("'%s' must be a date in %s format", name, dateLayout))
	}

	return parsed, nil
}
