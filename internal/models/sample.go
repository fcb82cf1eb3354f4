// Package models contains domain types for the machine telemetry backend.
package models

import (
	"encoding/json"
	"time"
)

// TemperatureZones is the number of barrel temperature zones reported per machine.
const TemperatureZones = 7

// SourceType identifies which feed a time-series point came from.
type SourceType string

const (
	SourceRealtime   SourceType = "realtime"
	SourceHistorical SourceType = "historical"
	SourceSPC        SourceType = "spc"
)

// TelemetrySample is one push-delivered realtime event for a machine.
type TelemetrySample struct {
	DeviceID       string    `json:"deviceId"`
	SentAt         int64     `json:"sentAt"` // Unix ms
	Seq            uint64    `json:"seq"`    // monotonic send sequence
	Temperatures   []float64 `json:"temperatures"`
	OilTemp        float64   `json:"oilTemp"`
	StatusCode     *int      `json:"status"` // pointer: absence marks a malformed sample
	OperationMode  int       `json:"operationMode"`
	AutoTestStatus int       `json:"autoTestStatus"`
}

// CycleSample is one push-delivered SPC event describing a completed production cycle.
type CycleSample struct {
	DeviceID     string  `json:"deviceId"`
	Timestamp    int64   `json:"timestamp"` // Unix ms
	CycleCount   int64   `json:"cycleCount"`
	CycleTimeSec float64 `json:"cycleTimeSec"`
	PeakPressure float64 `json:"peakPressure"`
	PeakVelocity float64 `json:"peakVelocity"`
}

// HistoricalSample is one element of a pull-based backfill snapshot. It carries
// the same semantic fields as TelemetrySample but is sourced from durable storage.
type HistoricalSample struct {
	DeviceID       string    `json:"deviceId"`
	Timestamp      int64     `json:"timestamp"` // Unix ms
	Temperatures   []float64 `json:"temperatures"`
	OilTemp        float64   `json:"oilTemp"`
	StatusCode     int       `json:"status"`
	OperationMode  int       `json:"operationMode"`
	AutoTestStatus int       `json:"autoTestStatus"`
}

// TimeSeriesPoint is the canonical internal representation all three sample
// kinds are normalized into before storage.
type TimeSeriesPoint struct {
	Timestamp      time.Time               `json:"timestamp" msgpack:"ts"`
	DeviceID       string                  `json:"deviceId" msgpack:"dev"`
	Temperatures   [TemperatureZones]float64 `json:"temperatures" msgpack:"temps"`
	OilTemp        float64                 `json:"oilTemp" msgpack:"oil"`
	StatusCode     int                     `json:"statusCode" msgpack:"st"`
	OperationMode  int                     `json:"operationMode" msgpack:"op"`
	AutoTestStatus int                     `json:"autoTestStatus" msgpack:"at"`
	Source         SourceType              `json:"source" msgpack:"src"`
	Raw            json.RawMessage         `json:"-" msgpack:"-"`
}

// zoneVector normalizes a variable-length temperature slice into the fixed
// zone vector, ignoring extra zones and zero-filling missing ones.
func zoneVector(temps []float64) [TemperatureZones]float64 {
	var v [TemperatureZones]float64
	copy(v[:], temps)
	return v
}

// PointFromTelemetry converts a realtime sample into a stored point.
func PointFromTelemetry(s *TelemetrySample, raw json.RawMessage) TimeSeriesPoint {
	status := 0
	if s.StatusCode != nil {
		status = *s.StatusCode
	}
	return TimeSeriesPoint{
		Timestamp:      time.UnixMilli(s.SentAt),
		DeviceID:       s.DeviceID,
		Temperatures:   zoneVector(s.Temperatures),
		OilTemp:        s.OilTemp,
		StatusCode:     status,
		OperationMode:  s.OperationMode,
		AutoTestStatus: s.AutoTestStatus,
		Source:         SourceRealtime,
		Raw:            raw,
	}
}

// PointFromHistorical converts a backfill sample into a stored point.
func PointFromHistorical(s *HistoricalSample) TimeSeriesPoint {
	return TimeSeriesPoint{
		Timestamp:      time.UnixMilli(s.Timestamp),
		DeviceID:       s.DeviceID,
		Temperatures:   zoneVector(s.Temperatures),
		OilTemp:        s.OilTemp,
		StatusCode:     s.StatusCode,
		OperationMode:  s.OperationMode,
		AutoTestStatus: s.AutoTestStatus,
		Source:         SourceHistorical,
	}
}

// PointFromCycle converts an SPC cycle sample into a stored point. Cycle
// metrics ride along in Raw; the scalar fields shared with the other feeds
// stay zero.
func PointFromCycle(s *CycleSample, raw json.RawMessage) TimeSeriesPoint {
	return TimeSeriesPoint{
		Timestamp: time.UnixMilli(s.Timestamp),
		DeviceID:  s.DeviceID,
		Source:    SourceSPC,
		Raw:       raw,
	}
}
