// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"github.com/labstack/echo/v4"
)

// MachineHandler handles subscription and status operations
type MachineHandler interface {
	HandleListMachines(c echo.Context) error
	HandleSubscribe(c echo.Context) error
	HandleUnsubscribe(c echo.Context) error
	HandleGetStatus(c echo.Context) error
	HandleConnectionState(c echo.Context) error
}

// SeriesHandler handles time-series query operations
type SeriesHandler interface {
	HandleGetSeries(c echo.Context) error
	HandleGetSeriesMsgpack(c echo.Context) error
	HandleGetSPCSeries(c echo.Context) error
	HandleGetRange(c echo.Context) error
	HandleGetLatest(c echo.Context) error
	HandleGetSummary(c echo.Context) error
	HandleClearSeries(c echo.Context) error
}

// HistoryHandler handles backfill and archive operations
type HistoryHandler interface {
	HandleBackfill(c echo.Context) error
	HandleQueryArchive(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}
