package timeseries

import (
	"context"
	"fmt"
	"time"

	"github.com/machine-telemetry/backend/internal/models"
)

// Sweep removes realtime and SPC points older than the retention window from
// every tracked device. Historical arrays are exempt: each backfill replaces
// them wholesale, so age-based eviction would fight the snapshot semantics.
// Returns the number of evicted points.
func (m *Manager) Sweep() int {
	cutoff := time.Now().Add(-m.cfg.MaxAge)
	evicted := 0

	m.mu.Lock()
	for id, s := range m.machines {
		before := len(s.realtime) + len(s.spc)
		s.realtime = dropOlderThan(s.realtime, cutoff)
		s.spc = dropOlderThan(s.spc, cutoff)
		removed := before - len(s.realtime) - len(s.spc)
		if removed > 0 {
			evicted += removed
			fmt.Printf("[TimeSeries] Swept %d aged points for %s\n", removed, id)
		}
	}
	m.mu.Unlock()

	if evicted > 0 {
		m.updateGauges()
	}
	return evicted
}

func dropOlderThan(points []models.TimeSeriesPoint, cutoff time.Time) []models.TimeSeriesPoint {
	kept := points[:0]
	for _, p := range points {
		if p.Timestamp.Before(cutoff) {
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

// StartSweep runs the retention sweep on its configured interval until the
// context is cancelled.
func (m *Manager) StartSweep(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}
