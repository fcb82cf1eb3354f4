// Package distributor shares one connection manager between any number of
// independent consumers. It keeps a last-value cache per device per stream
// and a monotonically increasing update counter per stream, so consumers can
// detect change by comparing counters instead of deep-comparing events.
package distributor

import (
	"context"
	"sort"
	"sync"

	"github.com/machine-telemetry/backend/internal/connection"
	"github.com/machine-telemetry/backend/internal/models"
)

// Stream identifies one of the fanned-out event categories.
type Stream string

const (
	StreamRealtime Stream = "realtime"
	StreamSPC      Stream = "spc"
	StreamStatus   Stream = "status"
	StreamHistory  Stream = "history"
	StreamAlert    Stream = "alert"
)

// Distributor wraps the process-wide connection manager. It is an explicitly
// constructed service: the composition root creates exactly one and injects
// it wherever a consumer needs telemetry, so tests can build a fresh instance
// per case instead of sharing package state.
type Distributor struct {
	manager *connection.Manager

	mu             sync.RWMutex
	realtimeLatest map[string]models.RealtimeEvent
	spcLatest      map[string]models.SPCEvent
	statusLatest   map[string]models.StatusEvent
	historyLatest  map[string]models.HistoryEvent
	alertLatest    map[string]models.AlertEvent
	counters       map[Stream]uint64
	subscribed     map[string]struct{}

	removeFns []func()
}

// New creates a distributor over the given manager and registers the cache
// listeners.
func New(m *connection.Manager) *Distributor {
	d := &Distributor{
		manager:        m,
		realtimeLatest: make(map[string]models.RealtimeEvent),
		spcLatest:      make(map[string]models.SPCEvent),
		statusLatest:   make(map[string]models.StatusEvent),
		historyLatest:  make(map[string]models.HistoryEvent),
		alertLatest:    make(map[string]models.AlertEvent),
		counters:       make(map[Stream]uint64),
		subscribed:     make(map[string]struct{}),
	}

	d.removeFns = append(d.removeFns,
		m.OnRealtime(func(ev models.RealtimeEvent) {
			d.mu.Lock()
			d.realtimeLatest[ev.DeviceID] = ev
			d.counters[StreamRealtime]++
			d.mu.Unlock()
		}),
		m.OnSPC(func(ev models.SPCEvent) {
			d.mu.Lock()
			d.spcLatest[ev.DeviceID] = ev
			d.counters[StreamSPC]++
			d.mu.Unlock()
		}),
		m.OnStatus(func(ev models.StatusEvent) {
			d.mu.Lock()
			d.statusLatest[ev.DeviceID] = ev
			d.counters[StreamStatus]++
			d.mu.Unlock()
		}),
		m.OnHistory(func(ev models.HistoryEvent) {
			d.mu.Lock()
			d.historyLatest[ev.DeviceID] = ev
			d.counters[StreamHistory]++
			d.mu.Unlock()
		}),
		m.OnAlert(func(ev models.AlertEvent) {
			d.mu.Lock()
			d.alertLatest[ev.DeviceID] = ev
			d.counters[StreamAlert]++
			d.mu.Unlock()
		}),
	)

	return d
}

// Manager exposes the wrapped connection manager for direct listener
// registration.
func (d *Distributor) Manager() *connection.Manager {
	return d.manager
}

// EnsureConnected performs the auto-connect-on-first-use step. The wrapped
// manager coalesces concurrent attempts, so two consumers mounting at the
// same time still produce exactly one connect.
func (d *Distributor) EnsureConnected(ctx context.Context) error {
	return d.manager.Connect(ctx)
}

// SubscribeToMachine delegates to the manager and records the device in the
// locally visible subscription list.
func (d *Distributor) SubscribeToMachine(deviceID string) {
	d.mu.Lock()
	d.subscribed[deviceID] = struct{}{}
	d.mu.Unlock()
	d.manager.SubscribeToMachine(deviceID)
}

// UnsubscribeFromMachine delegates to the manager and removes the device from
// the local list.
func (d *Distributor) UnsubscribeFromMachine(deviceID string) {
	d.mu.Lock()
	delete(d.subscribed, deviceID)
	d.mu.Unlock()
	d.manager.UnsubscribeFromMachine(deviceID)
}

// SubscribedMachines returns the locally tracked subscription list, sorted.
// Unlike the manager's registry this survives a disconnect, reflecting UI
// intent rather than live server-side state.
func (d *Distributor) SubscribedMachines() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.subscribed))
	for id := range d.subscribed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Counter returns the update counter for a stream. It increases by one for
// every event received in that category.
func (d *Distributor) Counter(s Stream) uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.counters[s]
}

// LatestRealtime returns the most recent realtime event for a device.
func (d *Distributor) LatestRealtime(deviceID string) (models.RealtimeEvent, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ev, ok := d.realtimeLatest[deviceID]
	return ev, ok
}

// LatestSPC returns the most recent SPC event for a device.
func (d *Distributor) LatestSPC(deviceID string) (models.SPCEvent, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ev, ok := d.spcLatest[deviceID]
	return ev, ok
}

// LatestStatus returns the most recent status snapshot for a device.
func (d *Distributor) LatestStatus(deviceID string) (models.StatusEvent, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ev, ok := d.statusLatest[deviceID]
	return ev, ok
}

// LatestHistory returns the most recent backfill snapshot for a device.
func (d *Distributor) LatestHistory(deviceID string) (models.HistoryEvent, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ev, ok := d.historyLatest[deviceID]
	return ev, ok
}

// LatestAlert returns the most recent alert for a device.
func (d *Distributor) LatestAlert(deviceID string) (models.AlertEvent, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ev, ok := d.alertLatest[deviceID]
	return ev, ok
}

// Close detaches the cache listeners from the manager. The manager itself is
// left to its owner.
func (d *Distributor) Close() {
	for _, remove := range d.removeFns {
		remove()
	}
	d.removeFns = nil
}
