// Package connection owns the single live transport connection shared by the
// whole process: the subscription registry, connect coalescing, and the typed
// fan-out of inbound wire events to registered listeners.
package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/machine-telemetry/backend/internal/metrics"
	"github.com/machine-telemetry/backend/internal/models"
	"github.com/machine-telemetry/backend/internal/transport"
)

// Manager translates high-level intents (subscribe, unsubscribe, status,
// history, heartbeat) into wire messages and fans inbound events out to
// listeners. Exactly one Manager should exist per process; the composition
// root owns it and hands it to the distributor.
type Manager struct {
	transport transport.EventTransport
	metrics   *metrics.Telemetry

	mu            sync.Mutex
	connected     bool
	connecting    bool
	connectDone   chan struct{}
	connectErr    error
	stopped       bool
	subscriptions map[string]struct{}

	realtime   *listenerList[models.RealtimeEvent]
	spc        *listenerList[models.SPCEvent]
	status     *listenerList[models.StatusEvent]
	history    *listenerList[models.HistoryEvent]
	alerts     *listenerList[models.AlertEvent]
	errors     *listenerList[models.ErrorEvent]
	connChange *listenerList[bool]

	done chan struct{}
}

// Option customizes a Manager.
type Option func(*Manager)

// WithMetrics attaches pipeline metrics to the manager.
func WithMetrics(t *metrics.Telemetry) Option {
	return func(m *Manager) { m.metrics = t }
}

// NewManager creates a connection manager over the given transport and starts
// its dispatch loop. The manager is not connected until Connect is called.
func NewManager(t transport.EventTransport, opts ...Option) *Manager {
	m := &Manager{
		transport:     t,
		subscriptions: make(map[string]struct{}),
		realtime:      newListenerList[models.RealtimeEvent](),
		spc:           newListenerList[models.SPCEvent](),
		status:        newListenerList[models.StatusEvent](),
		history:       newListenerList[models.HistoryEvent](),
		alerts:        newListenerList[models.AlertEvent](),
		errors:        newListenerList[models.ErrorEvent](),
		connChange:    newListenerList[bool](),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.dispatchLoop()
	go m.watchErrors()
	return m
}

// Connect establishes the upstream connection. It is idempotent: if already
// connected it returns immediately, and concurrent calls while an attempt is
// in flight share that attempt's outcome instead of dialing again.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return fmt.Errorf("connection manager is closed")
	}
	if m.connected {
		m.mu.Unlock()
		return nil
	}
	if m.connecting {
		done := m.connectDone
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		}
		m.mu.Lock()
		err := m.connectErr
		m.mu.Unlock()
		return err
	}
	m.connecting = true
	done := make(chan struct{})
	m.connectDone = done
	m.mu.Unlock()

	err := m.transport.Connect(ctx)

	m.mu.Lock()
	m.connecting = false
	m.connectErr = err
	var replay []string
	if err == nil {
		m.connected = true
		for id := range m.subscriptions {
			replay = append(replay, id)
		}
	}
	close(done)
	m.mu.Unlock()

	if err != nil {
		m.errors.Notify(models.ErrorEvent{Code: "CONNECT_FAILED", Message: err.Error()})
		return err
	}

	m.metrics.SetConnected(true)
	m.connChange.Notify(true)

	// Replay registered subscriptions so the server-side state matches the
	// registry again after a reconnect.
	sort.Strings(replay)
	for _, id := range replay {
		m.sendSubscribe(id)
	}
	return nil
}

// Disconnect tears the connection down permanently. Server-side subscriptions
// are implicitly dropped with the connection, so the registry is cleared.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	wasConnected := m.connected
	m.connected = false
	m.subscriptions = make(map[string]struct{})
	m.mu.Unlock()

	close(m.done)
	m.transport.Close()
	m.metrics.SetConnected(false)
	if wasConnected {
		m.connChange.Notify(false)
	}
}

// IsConnected reports whether the upstream connection is live.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// SubscribedMachines returns the devices currently in the registry, sorted.
func (m *Manager) SubscribedMachines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.subscriptions))
	for id := range m.subscriptions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SubscribeToMachine registers a device and emits the wire subscribe. A
// second call for an already-registered device is a local no-op that sends
// nothing. Dropped with a warning when disconnected.
func (m *Manager) SubscribeToMachine(deviceID string) {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		fmt.Printf("[Connection] Ignoring subscribe for %s: not connected\n", deviceID)
		return
	}
	if _, ok := m.subscriptions[deviceID]; ok {
		m.mu.Unlock()
		return
	}
	m.subscriptions[deviceID] = struct{}{}
	m.mu.Unlock()

	m.sendSubscribe(deviceID)
}

func (m *Manager) sendSubscribe(deviceID string) {
	msg := transport.NewMessage(transport.MsgTypeSubscribe, transport.SubscribePayload{DeviceID: deviceID})
	if err := m.transport.Send(msg); err != nil {
		// Back the registry entry out so a retry can re-send; stale entries
		// would silently diverge from the server.
		m.mu.Lock()
		delete(m.subscriptions, deviceID)
		m.mu.Unlock()
		fmt.Printf("[Connection] Failed to send subscribe for %s: %v\n", deviceID, err)
		return
	}
	m.metrics.WireSubscribe()
}

// UnsubscribeFromMachine removes a device from the registry and emits the
// wire unsubscribe. A no-op without a prior subscribe.
func (m *Manager) UnsubscribeFromMachine(deviceID string) {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		fmt.Printf("[Connection] Ignoring unsubscribe for %s: not connected\n", deviceID)
		return
	}
	if _, ok := m.subscriptions[deviceID]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.subscriptions, deviceID)
	m.mu.Unlock()

	msg := transport.NewMessage(transport.MsgTypeUnsubscribe, transport.SubscribePayload{DeviceID: deviceID})
	if err := m.transport.Send(msg); err != nil {
		fmt.Printf("[Connection] Failed to send unsubscribe for %s: %v\n", deviceID, err)
	}
}

// RequestMachineStatus asks the server for a status snapshot. The response
// arrives asynchronously as a machine-status event. Dropped with a warning
// when disconnected; stale requests are not queued for replay.
func (m *Manager) RequestMachineStatus(deviceID string) {
	if !m.IsConnected() {
		fmt.Printf("[Connection] Ignoring status request for %s: not connected\n", deviceID)
		return
	}
	msg := transport.NewMessage(transport.MsgTypeGetStatus, transport.SubscribePayload{DeviceID: deviceID})
	if err := m.transport.Send(msg); err != nil {
		fmt.Printf("[Connection] Failed to send status request for %s: %v\n", deviceID, err)
	}
}

// RequestMachineHistory asks the server for a backfill snapshot covering the
// relative range, e.g. "-1h". The response arrives as a machine-history event.
func (m *Manager) RequestMachineHistory(deviceID, timeRange string) {
	if !m.IsConnected() {
		fmt.Printf("[Connection] Ignoring history request for %s: not connected\n", deviceID)
		return
	}
	msg := transport.NewMessage(transport.MsgTypeGetHistory, transport.HistoryRequestPayload{
		DeviceID:  deviceID,
		TimeRange: timeRange,
	})
	if err := m.transport.Send(msg); err != nil {
		fmt.Printf("[Connection] Failed to send history request for %s: %v\n", deviceID, err)
	}
}

// Ping sends a heartbeat. The pong is consumed by the dispatch loop.
func (m *Manager) Ping() {
	if !m.IsConnected() {
		return
	}
	if err := m.transport.Send(transport.NewMessage(transport.MsgTypePing, nil)); err != nil {
		fmt.Printf("[Connection] Failed to send ping: %v\n", err)
	}
}

// Listener registration. Each returns the func that removes the listener.

func (m *Manager) OnRealtime(fn func(models.RealtimeEvent)) func()  { return m.realtime.Add(fn) }
func (m *Manager) OnSPC(fn func(models.SPCEvent)) func()            { return m.spc.Add(fn) }
func (m *Manager) OnStatus(fn func(models.StatusEvent)) func()      { return m.status.Add(fn) }
func (m *Manager) OnHistory(fn func(models.HistoryEvent)) func()    { return m.history.Add(fn) }
func (m *Manager) OnAlert(fn func(models.AlertEvent)) func()        { return m.alerts.Add(fn) }
func (m *Manager) OnError(fn func(models.ErrorEvent)) func()        { return m.errors.Add(fn) }
func (m *Manager) OnConnectionChange(fn func(bool)) func()          { return m.connChange.Add(fn) }

func (m *Manager) dispatchLoop() {
	for {
		select {
		case <-m.done:
			return
		case msg := <-m.transport.Messages():
			m.dispatch(msg)
		}
	}
}

// watchErrors reacts to transport failures after a successful connect:
// listeners are told the connection is down, then a reconnect is attempted
// with the transport's bounded retry budget.
func (m *Manager) watchErrors() {
	for {
		select {
		case <-m.done:
			return
		case err := <-m.transport.Errors():
			m.handleDrop(err)
		}
	}
}

func (m *Manager) handleDrop(cause error) {
	m.mu.Lock()
	if m.stopped || !m.connected {
		m.mu.Unlock()
		return
	}
	m.connected = false
	m.mu.Unlock()

	fmt.Printf("[Connection] Connection dropped: %v\n", cause)
	m.metrics.SetConnected(false)
	m.connChange.Notify(false)
	m.errors.Notify(models.ErrorEvent{Code: "CONNECTION_LOST", Message: cause.Error()})

	go func() {
		if err := m.Connect(context.Background()); err != nil {
			fmt.Printf("[Connection] Reconnect failed: %v\n", err)
			return
		}
		m.metrics.Reconnected()
		fmt.Printf("[Connection] Reconnected\n")
	}()
}

// isRouted reports whether events for the device should still be fanned out.
// Unsubscribing stops routing even if in-flight events are still arriving.
func (m *Manager) isRouted(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subscriptions[deviceID]
	return ok
}

func (m *Manager) dispatch(msg transport.Message) {
	switch msg.Type {
	case transport.MsgTypeRealtime:
		var ev models.RealtimeEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil || ev.DeviceID == "" {
			fmt.Printf("[Connection] Dropping malformed realtime event: %v\n", err)
			m.metrics.MalformedDropped()
			return
		}
		if !m.isRouted(ev.DeviceID) {
			return
		}
		if ev.Data.DeviceID == "" {
			ev.Data.DeviceID = ev.DeviceID
		}
		if ev.Data.SentAt == 0 {
			ev.Data.SentAt = ev.Timestamp
		}
		ev.Raw = msg.Payload
		m.metrics.EventReceived("realtime")
		m.realtime.Notify(ev)

	case transport.MsgTypeSPC:
		var ev models.SPCEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil || ev.DeviceID == "" {
			fmt.Printf("[Connection] Dropping malformed spc event: %v\n", err)
			m.metrics.MalformedDropped()
			return
		}
		if !m.isRouted(ev.DeviceID) {
			return
		}
		if ev.Data.DeviceID == "" {
			ev.Data.DeviceID = ev.DeviceID
		}
		if ev.Data.Timestamp == 0 {
			ev.Data.Timestamp = ev.Timestamp
		}
		ev.Raw = msg.Payload
		m.metrics.EventReceived("spc")
		m.spc.Notify(ev)

	case transport.MsgTypeStatus:
		var ev models.StatusEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil || ev.DeviceID == "" {
			fmt.Printf("[Connection] Dropping malformed status event: %v\n", err)
			m.metrics.MalformedDropped()
			return
		}
		m.metrics.EventReceived("status")
		m.status.Notify(ev)

	case transport.MsgTypeHistory:
		var ev models.HistoryEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil || ev.DeviceID == "" {
			fmt.Printf("[Connection] Dropping malformed history event: %v\n", err)
			m.metrics.MalformedDropped()
			return
		}
		m.metrics.EventReceived("history")
		m.history.Notify(ev)

	case transport.MsgTypeAlert:
		var ev models.AlertEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil || ev.DeviceID == "" {
			fmt.Printf("[Connection] Dropping malformed alert event: %v\n", err)
			m.metrics.MalformedDropped()
			return
		}
		m.metrics.EventReceived("alert")
		m.alerts.Notify(ev)

	case transport.MsgTypeError:
		var ev models.ErrorEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			// Some servers send a bare string.
			ev = models.ErrorEvent{Message: string(msg.Payload)}
		}
		m.metrics.EventReceived("error")
		m.errors.Notify(ev)

	case transport.MsgTypeSubConfirmed, transport.MsgTypeUnsubConfirmed:
		var p transport.SubscribePayload
		if err := json.Unmarshal(msg.Payload, &p); err == nil {
			fmt.Printf("[Connection] %s: %s\n", msg.Type, p.DeviceID)
		}

	case transport.MsgTypePong, transport.MsgTypeConnection:
		// Heartbeat reply / duplicate connectivity confirmation.

	default:
		fmt.Printf("[Connection] Unknown message type: %s\n", msg.Type)
	}
}
