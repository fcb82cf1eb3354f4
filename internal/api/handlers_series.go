// handlers_series.go - Time-series query handlers
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/machine-telemetry/backend/internal/timeseries"
)

// SeriesHandlerImpl implements the SeriesHandler interface
type SeriesHandlerImpl struct {
	series *timeseries.Manager
}

// NewSeriesHandler creates a new series handler
func NewSeriesHandler(series *timeseries.Manager) SeriesHandler {
	return &SeriesHandlerImpl{series: series}
}

// HandleGetSeries returns the merged realtime+historical series for a machine.
func (h *SeriesHandlerImpl) HandleGetSeries(c echo.Context) error {
	machineID := c.Param("machineId")
	if machineID == "" {
		return NewValidationError("machineId")
	}

	points := h.series.GetCombinedTimeSeries(machineID)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"machineId": machineID,
		"points":    points,
		"count":     len(points),
	})
}

// HandleGetSeriesMsgpack returns the merged series in MessagePack format.
// Charts polling at refresh rate use this to cut decode overhead.
func (h *SeriesHandlerImpl) HandleGetSeriesMsgpack(c echo.Context) error {
	machineID := c.Param("machineId")
	if machineID == "" {
		return NewValidationError("machineId")
	}

	points := h.series.GetCombinedTimeSeries(machineID)
	data, err := msgpack.Marshal(map[string]interface{}{
		"machineId": machineID,
		"points":    points,
		"count":     len(points),
	})
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}

	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleGetSPCSeries returns the cycle-quality series for a machine.
func (h *SeriesHandlerImpl) HandleGetSPCSeries(c echo.Context) error {
	machineID := c.Param("machineId")
	if machineID == "" {
		return NewValidationError("machineId")
	}

	points := h.series.GetSPCSeries(machineID)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"machineId": machineID,
		"points":    points,
		"count":     len(points),
	})
}

// HandleGetRange returns merged points within [start, end], both inclusive,
// given as unix milliseconds.
func (h *SeriesHandlerImpl) HandleGetRange(c echo.Context) error {
	machineID := c.Param("machineId")
	if machineID == "" {
		return NewValidationError("machineId")
	}

	startMs, err := strconv.ParseInt(c.QueryParam("start"), 10, 64)
	if err != nil {
		return NewValidationError("start")
	}
	endMs, err := strconv.ParseInt(c.QueryParam("end"), 10, 64)
	if err != nil {
		return NewValidationError("end")
	}
	if endMs < startMs {
		return NewBadRequestError("end must not precede start", nil)
	}

	points := h.series.GetDataInRange(machineID,
		time.UnixMilli(startMs), time.UnixMilli(endMs))
	return c.JSON(http.StatusOK, map[string]interface{}{
		"machineId": machineID,
		"points":    points,
		"count":     len(points),
	})
}

// HandleGetLatest returns the most recent point for a machine, preferring
// live data over backfill.
func (h *SeriesHandlerImpl) HandleGetLatest(c echo.Context) error {
	machineID := c.Param("machineId")
	if machineID == "" {
		return NewValidationError("machineId")
	}

	point := h.series.GetLatestData(machineID)
	if point == nil {
		return NewNotFoundError("data", machineID)
	}
	return c.JSON(http.StatusOK, point)
}

// HandleGetSummary returns per-source counts and the covered time range.
func (h *SeriesHandlerImpl) HandleGetSummary(c echo.Context) error {
	machineID := c.Param("machineId")
	if machineID == "" {
		return NewValidationError("machineId")
	}

	summary := h.series.GetDataSummary(machineID)
	if summary == nil {
		return NewNotFoundError("data", machineID)
	}
	return c.JSON(http.StatusOK, summary)
}

// HandleClearSeries drops all buffered data for a machine.
func (h *SeriesHandlerImpl) HandleClearSeries(c echo.Context) error {
	machineID := c.Param("machineId")
	if machineID == "" {
		return NewValidationError("machineId")
	}

	h.series.ClearMachineData(machineID)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"machineId": machineID,
		"cleared":   true,
	})
}
