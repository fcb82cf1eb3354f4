package models

import "time"

// TimeRange is the span covered by a set of points.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// SeriesSummary describes the stored data for one machine.
type SeriesSummary struct {
	DeviceID        string     `json:"deviceId"`
	RealtimeCount   int        `json:"realtimeCount"`
	HistoricalCount int        `json:"historicalCount"`
	SPCCount        int        `json:"spcCount"`
	TotalCount      int        `json:"totalCount"`
	TimeRange       *TimeRange `json:"timeRange,omitempty"`
	LastUpdate      time.Time  `json:"lastUpdate"`
}

// AlertSeverity grades machine alerts for UI display.
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

// Alert is the alert descriptor attached to a machine-alert event.
type Alert struct {
	Type     string        `json:"type"`
	Message  string        `json:"message"`
	Severity AlertSeverity `json:"severity"`
}
