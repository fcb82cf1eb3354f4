package timeseries

import (
	"github.com/machine-telemetry/backend/internal/distributor"
	"github.com/machine-telemetry/backend/internal/models"
)

// BindDistributor subscribes the manager to a distributor's realtime, SPC,
// and history streams so ingestion happens automatically as events arrive.
// The returned func detaches all three listeners.
func (m *Manager) BindDistributor(d *distributor.Distributor) func() {
	mgr := d.Manager()
	removes := []func(){
		mgr.OnRealtime(func(ev models.RealtimeEvent) {
			m.AddRealtimeData(ev)
		}),
		mgr.OnSPC(func(ev models.SPCEvent) {
			m.AddSPCData(ev)
		}),
		mgr.OnHistory(func(ev models.HistoryEvent) {
			m.AddHistoricalData(ev)
		}),
	}
	return func() {
		for _, remove := range removes {
			remove()
		}
	}
}
