// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"github.com/labstack/echo/v4"

	"github.com/machine-telemetry/backend/internal/distributor"
	"github.com/machine-telemetry/backend/internal/history"
	"github.com/machine-telemetry/backend/internal/timeseries"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Distributor  *distributor.Distributor
	Series       *timeseries.Manager
	Backfiller   *history.Backfiller
	Archive      *history.ArchiveStore
	HistoryLimit int
	Version      string
}

// Handlers holds all handler instances
type Handlers struct {
	Health  HealthHandler
	Machine MachineHandler
	Series  SeriesHandler
	History HistoryHandler
	Stream  *StreamHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:  NewHealthHandler(deps.Version, deps.Distributor.Manager()),
		Machine: NewMachineHandler(deps.Distributor, deps.Series),
		Series:  NewSeriesHandler(deps.Series),
		History: NewHistoryHandler(deps.Backfiller, deps.Archive, deps.HistoryLimit),
		Stream:  NewStreamHandler(deps.Distributor),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	// Health check
	e.GET("/health", handlers.Health.HandleHealth)

	// Machine subscription routes
	machineGroup := e.Group("/api/machines")
	machineGroup.GET("", handlers.Machine.HandleListMachines)
	machineGroup.GET("/connection", handlers.Machine.HandleConnectionState)
	machineGroup.POST("/:machineId/subscribe", handlers.Machine.HandleSubscribe)
	machineGroup.POST("/:machineId/unsubscribe", handlers.Machine.HandleUnsubscribe)
	machineGroup.GET("/:machineId/status", handlers.Machine.HandleGetStatus)

	// Time-series query routes
	machineGroup.GET("/:machineId/series", handlers.Series.HandleGetSeries)
	machineGroup.GET("/:machineId/series/msgpack", handlers.Series.HandleGetSeriesMsgpack)
	machineGroup.GET("/:machineId/spc", handlers.Series.HandleGetSPCSeries)
	machineGroup.GET("/:machineId/range", handlers.Series.HandleGetRange)
	machineGroup.GET("/:machineId/latest", handlers.Series.HandleGetLatest)
	machineGroup.GET("/:machineId/summary", handlers.Series.HandleGetSummary)
	machineGroup.DELETE("/:machineId/series", handlers.Series.HandleClearSeries)

	// Historical backfill routes
	machineGroup.POST("/:machineId/backfill", handlers.History.HandleBackfill)
	machineGroup.GET("/:machineId/archive", handlers.History.HandleQueryArchive)
}

// RegisterWebSocketRoutes registers WebSocket routes
func RegisterWebSocketRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/api/ws/stream", handlers.Stream.HandleStream)
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo) {
	// Use custom error handler
	e.HTTPErrorHandler = ErrorHandler
}
