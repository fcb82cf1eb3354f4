// handlers_history.go - Historical backfill and archive query handlers
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/machine-telemetry/backend/internal/history"
)

// HistoryHandlerImpl implements the HistoryHandler interface
type HistoryHandlerImpl struct {
	backfiller   *history.Backfiller
	archive      *history.ArchiveStore
	defaultLimit int
}

// NewHistoryHandler creates a new history handler. archive may be nil when
// the backfill source is a remote HTTP endpoint.
func NewHistoryHandler(backfiller *history.Backfiller, archive *history.ArchiveStore, defaultLimit int) HistoryHandler {
	if defaultLimit <= 0 {
		defaultLimit = 1000
	}
	return &HistoryHandlerImpl{
		backfiller:   backfiller,
		archive:      archive,
		defaultLimit: defaultLimit,
	}
}

// HandleBackfill loads historical data for a machine into the series buffer.
// Concurrent requests for the same machine and range share one fetch.
func (h *HistoryHandlerImpl) HandleBackfill(c echo.Context) error {
	machineID := c.Param("machineId")
	if machineID == "" {
		return NewValidationError("machineId")
	}

	timeRange := c.QueryParam("range")
	if timeRange == "" {
		timeRange = "-1h"
	}

	limit := h.defaultLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return NewValidationError("limit")
		}
		limit = n
	}

	count, err := h.backfiller.Backfill(c.Request().Context(), machineID, timeRange, limit)
	if err != nil {
		return NewInternalError("backfill failed", err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"machineId": machineID,
		"range":     timeRange,
		"loaded":    count,
	})
}

// HandleQueryArchive queries the local archive directly without touching the
// in-memory series buffer. from/to are unix milliseconds.
func (h *HistoryHandlerImpl) HandleQueryArchive(c echo.Context) error {
	if h.archive == nil {
		return NewServiceUnavailableError("local archive not configured")
	}

	machineID := c.Param("machineId")
	if machineID == "" {
		return NewValidationError("machineId")
	}

	from, err := strconv.ParseInt(c.QueryParam("from"), 10, 64)
	if err != nil {
		return NewValidationError("from")
	}
	to, err := strconv.ParseInt(c.QueryParam("to"), 10, 64)
	if err != nil {
		return NewValidationError("to")
	}

	limit := h.defaultLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n <= 0 {
			return NewValidationError("limit")
		}
		limit = n
	}

	samples, err := h.archive.QueryRange(c.Request().Context(), machineID, from, to, limit)
	if err != nil {
		return NewInternalError("archive query failed", err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"machineId": machineID,
		"samples":   samples,
		"count":     len(samples),
	})
}
