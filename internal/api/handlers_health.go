// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/machine-telemetry/backend/internal/connection"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	manager *connection.Manager
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, manager *connection.Manager) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		manager: manager,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"version":   h.version,
		"connected": h.manager.IsConnected(),
	})
}
