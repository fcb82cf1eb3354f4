// Package metrics exposes Prometheus collectors for the telemetry pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Telemetry holds the pipeline collectors. A nil *Telemetry is valid and
// turns every record call into a no-op, so components can run unmetered in
// tests.
type Telemetry struct {
	eventsReceived   *prometheus.CounterVec
	malformedDropped prometheus.Counter
	wireSubscribes   prometheus.Counter
	reconnects       prometheus.Counter
	connectionUp     prometheus.Gauge
	trackedDevices   prometheus.Gauge
	storedPoints     prometheus.Gauge
}

// New registers the pipeline collectors with reg and returns the handle.
func New(reg prometheus.Registerer) *Telemetry {
	t := &Telemetry{
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_events_received_total",
			Help: "Inbound wire events by category.",
		}, []string{"category"}),
		malformedDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_malformed_dropped_total",
			Help: "Inbound payloads dropped by shape validation.",
		}),
		wireSubscribes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_wire_subscribes_total",
			Help: "subscribe-machine messages actually sent on the wire.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_reconnects_total",
			Help: "Successful reconnects after an unplanned connection drop.",
		}),
		connectionUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telemetry_connection_up",
			Help: "1 while the upstream telemetry connection is live.",
		}),
		trackedDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telemetry_tracked_devices",
			Help: "Devices with stored time-series data.",
		}),
		storedPoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telemetry_stored_points",
			Help: "Total points held across all per-device series.",
		}),
	}

	reg.MustRegister(
		t.eventsReceived,
		t.malformedDropped,
		t.wireSubscribes,
		t.reconnects,
		t.connectionUp,
		t.trackedDevices,
		t.storedPoints,
	)
	return t
}

// EventReceived counts one inbound event of the given category.
func (t *Telemetry) EventReceived(category string) {
	if t == nil {
		return
	}
	t.eventsReceived.WithLabelValues(category).Inc()
}

// MalformedDropped counts one payload rejected by shape validation.
func (t *Telemetry) MalformedDropped() {
	if t == nil {
		return
	}
	t.malformedDropped.Inc()
}

// WireSubscribe counts one subscribe-machine message sent on the wire.
func (t *Telemetry) WireSubscribe() {
	if t == nil {
		return
	}
	t.wireSubscribes.Inc()
}

// Reconnected counts one successful reconnect.
func (t *Telemetry) Reconnected() {
	if t == nil {
		return
	}
	t.reconnects.Inc()
}

// SetConnected records the connection state gauge.
func (t *Telemetry) SetConnected(up bool) {
	if t == nil {
		return
	}
	if up {
		t.connectionUp.Set(1)
	} else {
		t.connectionUp.Set(0)
	}
}

// SetSeriesSize records the time-series storage gauges.
func (t *Telemetry) SetSeriesSize(devices, points int) {
	if t == nil {
		return
	}
	t.trackedDevices.Set(float64(devices))
	t.storedPoints.Set(float64(points))
}
