package models

import "encoding/json"

// RealtimeEvent is a decoded realtime-update wire event.
type RealtimeEvent struct {
	DeviceID  string          `json:"deviceId"`
	Data      TelemetrySample `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Raw       json.RawMessage `json:"-"`
}

// SPCEvent is a decoded spc-update wire event.
type SPCEvent struct {
	DeviceID  string          `json:"deviceId"`
	Data      CycleSample     `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Raw       json.RawMessage `json:"-"`
}

// StatusSource tells whether a status snapshot was served from the server
// cache or freshly requested from the machine.
type StatusSource string

const (
	StatusSourceCache     StatusSource = "cache"
	StatusSourceRequested StatusSource = "requested"
)

// StatusEvent is a decoded machine-status wire event. The status body is
// deployment-specific and passed through opaquely.
type StatusEvent struct {
	DeviceID  string          `json:"deviceId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Source    StatusSource    `json:"source"`
}

// HistoryEvent is a decoded machine-history wire event: a full backfill
// snapshot for one device and time range.
type HistoryEvent struct {
	DeviceID  string             `json:"deviceId"`
	Data      []HistoricalSample `json:"data"`
	TimeRange string             `json:"timeRange"`
	Timestamp int64              `json:"timestamp"`
}

// AlertEvent is a decoded machine-alert wire event.
type AlertEvent struct {
	DeviceID  string          `json:"deviceId"`
	Data      json.RawMessage `json:"data"`
	Alert     Alert           `json:"alert"`
	Timestamp int64           `json:"timestamp"`
}

// ErrorEvent is a decoded server error payload, or a locally raised
// connection error surfaced through the same channel.
type ErrorEvent struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
