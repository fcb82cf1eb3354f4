// handlers_machines.go - Machine subscription and status handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/machine-telemetry/backend/internal/distributor"
	"github.com/machine-telemetry/backend/internal/timeseries"
)

// MachineHandlerImpl implements the MachineHandler interface
type MachineHandlerImpl struct {
	dist   *distributor.Distributor
	series *timeseries.Manager
}

// NewMachineHandler creates a new machine handler
func NewMachineHandler(dist *distributor.Distributor, series *timeseries.Manager) MachineHandler {
	return &MachineHandlerImpl{dist: dist, series: series}
}

type machineListResponse struct {
	Machines   []string `json:"machines"`
	Subscribed []string `json:"subscribed"`
}

// HandleListMachines returns machines with buffered data plus the
// current subscription set.
func (h *MachineHandlerImpl) HandleListMachines(c echo.Context) error {
	return c.JSON(http.StatusOK, machineListResponse{
		Machines:   h.series.GetAvailableMachines(),
		Subscribed: h.dist.SubscribedMachines(),
	})
}

// HandleSubscribe registers interest in a machine's event stream.
func (h *MachineHandlerImpl) HandleSubscribe(c echo.Context) error {
	machineID := c.Param("machineId")
	if machineID == "" {
		return NewValidationError("machineId")
	}

	if err := h.dist.EnsureConnected(c.Request().Context()); err != nil {
		return NewServiceUnavailableError("telemetry source unreachable")
	}

	h.dist.SubscribeToMachine(machineID)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"machineId":  machineID,
		"subscribed": true,
	})
}

// HandleUnsubscribe removes interest in a machine's event stream.
func (h *MachineHandlerImpl) HandleUnsubscribe(c echo.Context) error {
	machineID := c.Param("machineId")
	if machineID == "" {
		return NewValidationError("machineId")
	}

	h.dist.UnsubscribeFromMachine(machineID)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"machineId":  machineID,
		"subscribed": false,
	})
}

// HandleGetStatus returns the cached status for a machine and triggers a
// fresh status request upstream.
func (h *MachineHandlerImpl) HandleGetStatus(c echo.Context) error {
	machineID := c.Param("machineId")
	if machineID == "" {
		return NewValidationError("machineId")
	}

	h.dist.Manager().RequestMachineStatus(machineID)

	status, ok := h.dist.LatestStatus(machineID)
	if !ok {
		return NewNotFoundError("status", machineID)
	}
	return c.JSON(http.StatusOK, status)
}

// HandleConnectionState reports the upstream connection state and
// per-stream update counters.
func (h *MachineHandlerImpl) HandleConnectionState(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"connected":  h.dist.Manager().IsConnected(),
		"subscribed": h.dist.SubscribedMachines(),
		"counters": map[string]uint64{
			"realtime": h.dist.Counter(distributor.StreamRealtime),
			"spc":      h.dist.Counter(distributor.StreamSPC),
			"status":   h.dist.Counter(distributor.StreamStatus),
			"history":  h.dist.Counter(distributor.StreamHistory),
			"alert":    h.dist.Counter(distributor.StreamAlert),
		},
	})
}
