// Package timeseries converts raw inbound events into stored points, keyed by
// device, and answers merge/range/summary queries while bounding memory.
package timeseries

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/machine-telemetry/backend/internal/metrics"
	"github.com/machine-telemetry/backend/internal/models"
)

// Config holds the tuning values for storage and reconciliation. These are
// deployment configuration, not hidden constants.
type Config struct {
	// MaxPoints caps the realtime and SPC arrays per device; the oldest
	// points are evicted first.
	MaxPoints int

	// MaxAge is the retention window for realtime and SPC points. Historical
	// data is exempt: backfills replace it wholesale instead.
	MaxAge time.Duration

	// DedupTolerance is the time distance below which a realtime and a
	// historical point are considered the same physical observation.
	DedupTolerance time.Duration

	// SweepInterval is how often the retention sweep runs.
	SweepInterval time.Duration
}

// DefaultConfig returns the deployment defaults.
func DefaultConfig() Config {
	return Config{
		MaxPoints:      1000,
		MaxAge:         4 * time.Hour,
		DedupTolerance: 5 * time.Second,
		SweepInterval:  5 * time.Minute,
	}
}

// machineSeries is the per-device aggregate: three point arrays plus the last
// ingestion time. Created lazily on first ingestion, cleared only explicitly.
type machineSeries struct {
	realtime   []models.TimeSeriesPoint
	historical []models.TimeSeriesPoint
	spc        []models.TimeSeriesPoint
	lastUpdate time.Time
}

// Manager owns the per-device series. Only its ingestion methods and the
// retention sweep mutate the arrays; everything else reads through queries.
type Manager struct {
	cfg     Config
	metrics *metrics.Telemetry

	mu       sync.RWMutex
	machines map[string]*machineSeries
}

// Option customizes a Manager.
type Option func(*Manager)

// WithMetrics attaches storage gauges to the manager.
func WithMetrics(t *metrics.Telemetry) Option {
	return func(m *Manager) { m.metrics = t }
}

// NewManager creates a time-series manager. Zero config fields fall back to
// the defaults.
func NewManager(cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.MaxPoints <= 0 {
		cfg.MaxPoints = def.MaxPoints
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.DedupTolerance <= 0 {
		cfg.DedupTolerance = def.DedupTolerance
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}

	m := &Manager{
		cfg:      cfg,
		machines: make(map[string]*machineSeries),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) seriesLocked(deviceID string) *machineSeries {
	s, ok := m.machines[deviceID]
	if !ok {
		s = &machineSeries{}
		m.machines[deviceID] = s
	}
	return s
}

// AddRealtimeData appends one realtime point for the event's device. Events
// without a status field do not match the realtime shape and are dropped with
// a warning, returning nil.
func (m *Manager) AddRealtimeData(ev models.RealtimeEvent) *models.TimeSeriesPoint {
	if ev.DeviceID == "" || ev.Data.StatusCode == nil {
		fmt.Printf("[TimeSeries] Dropping realtime event with invalid shape (device=%q)\n", ev.DeviceID)
		m.metrics.MalformedDropped()
		return nil
	}

	point := models.PointFromTelemetry(&ev.Data, ev.Raw)

	m.mu.Lock()
	s := m.seriesLocked(ev.DeviceID)
	s.realtime = append(s.realtime, point)
	if excess := len(s.realtime) - m.cfg.MaxPoints; excess > 0 {
		s.realtime = s.realtime[excess:]
	}
	s.lastUpdate = time.Now()
	m.mu.Unlock()

	m.updateGauges()
	return &point
}

// AddHistoricalData replaces the device's historical array with the backfill
// snapshot. A backfill supersedes any prior historical data for that device;
// it is not an incremental append. Returns the number of stored points.
func (m *Manager) AddHistoricalData(ev models.HistoryEvent) int {
	if ev.DeviceID == "" {
		fmt.Printf("[TimeSeries] Dropping history event with invalid shape\n")
		m.metrics.MalformedDropped()
		return 0
	}

	points := make([]models.TimeSeriesPoint, 0, len(ev.Data))
	for i := range ev.Data {
		sample := ev.Data[i]
		if sample.DeviceID == "" {
			sample.DeviceID = ev.DeviceID
		}
		points = append(points, models.PointFromHistorical(&sample))
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})

	m.mu.Lock()
	s := m.seriesLocked(ev.DeviceID)
	s.historical = points
	s.lastUpdate = time.Now()
	m.mu.Unlock()

	m.updateGauges()
	return len(points)
}

// AddSPCData appends one cycle point, with the same capacity bound as the
// realtime array.
func (m *Manager) AddSPCData(ev models.SPCEvent) *models.TimeSeriesPoint {
	if ev.DeviceID == "" || ev.Data.Timestamp == 0 {
		fmt.Printf("[TimeSeries] Dropping spc event with invalid shape (device=%q)\n", ev.DeviceID)
		m.metrics.MalformedDropped()
		return nil
	}

	point := models.PointFromCycle(&ev.Data, ev.Raw)

	m.mu.Lock()
	s := m.seriesLocked(ev.DeviceID)
	s.spc = append(s.spc, point)
	if excess := len(s.spc) - m.cfg.MaxPoints; excess > 0 {
		s.spc = s.spc[excess:]
	}
	s.lastUpdate = time.Now()
	m.mu.Unlock()

	m.updateGauges()
	return &point
}

// GetCombinedTimeSeries merges the historical and realtime arrays into one
// sequence sorted by timestamp, then collapses cross-source points closer
// than the dedup tolerance: the realtime point is authoritative when both
// describe the same moment. SPC points are not part of this view.
func (m *Manager) GetCombinedTimeSeries(deviceID string) []models.TimeSeriesPoint {
	m.mu.RLock()
	s, ok := m.machines[deviceID]
	if !ok {
		m.mu.RUnlock()
		return nil
	}
	combined := make([]models.TimeSeriesPoint, 0, len(s.historical)+len(s.realtime))
	combined = append(combined, s.historical...)
	combined = append(combined, s.realtime...)
	m.mu.RUnlock()

	sort.SliceStable(combined, func(i, j int) bool {
		return combined[i].Timestamp.Before(combined[j].Timestamp)
	})

	result := make([]models.TimeSeriesPoint, 0, len(combined))
	for _, p := range combined {
		if len(result) > 0 {
			prev := &result[len(result)-1]
			if p.Timestamp.Sub(prev.Timestamp) < m.cfg.DedupTolerance && prev.Source != p.Source {
				if p.Source == models.SourceRealtime {
					*prev = p
				}
				continue
			}
		}
		result = append(result, p)
	}
	return result
}

// GetSPCSeries returns the device's cycle points in timestamp order.
func (m *Manager) GetSPCSeries(deviceID string) []models.TimeSeriesPoint {
	m.mu.RLock()
	s, ok := m.machines[deviceID]
	if !ok {
		m.mu.RUnlock()
		return nil
	}
	points := make([]models.TimeSeriesPoint, len(s.spc))
	copy(points, s.spc)
	m.mu.RUnlock()

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	return points
}

// GetLatestData returns the most recent realtime point if any exist, else the
// most recent historical point, else nil.
func (m *Manager) GetLatestData(deviceID string) *models.TimeSeriesPoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.machines[deviceID]
	if !ok {
		return nil
	}
	if p := latestOf(s.realtime); p != nil {
		return p
	}
	return latestOf(s.historical)
}

func latestOf(points []models.TimeSeriesPoint) *models.TimeSeriesPoint {
	if len(points) == 0 {
		return nil
	}
	latest := points[0]
	for _, p := range points[1:] {
		if p.Timestamp.After(latest.Timestamp) {
			latest = p
		}
	}
	return &latest
}

// GetDataInRange returns the combined series filtered to [start, end],
// inclusive on both ends.
func (m *Manager) GetDataInRange(deviceID string, start, end time.Time) []models.TimeSeriesPoint {
	combined := m.GetCombinedTimeSeries(deviceID)
	result := make([]models.TimeSeriesPoint, 0, len(combined))
	for _, p := range combined {
		if p.Timestamp.Before(start) || p.Timestamp.After(end) {
			continue
		}
		result = append(result, p)
	}
	return result
}

// GetDataSummary reports per-source counts, the stored time span, and the
// last ingestion time for a device. Nil if the device is unknown.
func (m *Manager) GetDataSummary(deviceID string) *models.SeriesSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.machines[deviceID]
	if !ok {
		return nil
	}

	summary := &models.SeriesSummary{
		DeviceID:        deviceID,
		RealtimeCount:   len(s.realtime),
		HistoricalCount: len(s.historical),
		SPCCount:        len(s.spc),
		TotalCount:      len(s.realtime) + len(s.historical) + len(s.spc),
		LastUpdate:      s.lastUpdate,
	}

	var first, last time.Time
	for _, arr := range [][]models.TimeSeriesPoint{s.realtime, s.historical, s.spc} {
		for _, p := range arr {
			if first.IsZero() || p.Timestamp.Before(first) {
				first = p.Timestamp
			}
			if last.IsZero() || p.Timestamp.After(last) {
				last = p.Timestamp
			}
		}
	}
	if !first.IsZero() {
		summary.TimeRange = &models.TimeRange{Start: first, End: last}
	}
	return summary
}

// GetAvailableMachines returns the ids of all devices with stored data, sorted.
func (m *Manager) GetAvailableMachines() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.machines))
	for id, s := range m.machines {
		if len(s.realtime)+len(s.historical)+len(s.spc) == 0 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ClearMachineData drops all stored points for one device.
func (m *Manager) ClearMachineData(deviceID string) {
	m.mu.Lock()
	delete(m.machines, deviceID)
	m.mu.Unlock()
	m.updateGauges()
}

// ClearAllData drops every stored series.
func (m *Manager) ClearAllData() {
	m.mu.Lock()
	m.machines = make(map[string]*machineSeries)
	m.mu.Unlock()
	m.updateGauges()
}

func (m *Manager) updateGauges() {
	if m.metrics == nil {
		return
	}
	m.mu.RLock()
	devices := len(m.machines)
	points := 0
	for _, s := range m.machines {
		points += len(s.realtime) + len(s.historical) + len(s.spc)
	}
	m.mu.RUnlock()
	m.metrics.SetSeriesSize(devices, points)
}
