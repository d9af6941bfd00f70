package events

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

const defaultInspectLimit = 50

// HTTPHandler exposes the event log for operational inspection.
type HTTPHandler struct {
	log *StreamLog
}

func NewHTTPHandler(log *StreamLog) *HTTPHandler {
	return &HTTPHandler{log: log}
}

// RegisterRoutes mounts the event inspection endpoints on the given group.
func (h *HTTPHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/events/:aggregate_type", h.recentEvents)
}

func (h *HTTPHandler) recentEvents(c echo.Context) error {
	aggregateType := c.Param("aggregate_type")

	limit := int64(defaultInspectLimit)
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	evts, err := h.log.RecentEvents(c.Request().Context(), aggregateType, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read event log")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"aggregate_type": aggregateType,
		"count":          len(evts),
		"events":         evts,
	})
}
