// Package transport wraps the full-duplex connection to the telemetry server.
// The wire protocol is a typed JSON envelope; implementations own the
// connect/disconnect lifecycle and their read loop.
package transport

import (
	"context"
	"encoding/json"
	"time"
)

// Wire message types for the telemetry protocol
const (
	// Client -> Server messages
	MsgTypeSubscribe   = "subscribe-machine"
	MsgTypeUnsubscribe = "unsubscribe-machine"
	MsgTypeGetStatus   = "get-machine-status"
	MsgTypeGetHistory  = "get-machine-history"
	MsgTypePing        = "ping"

	// Server -> Client messages
	MsgTypeRealtime       = "realtime-update"
	MsgTypeSPC            = "spc-update"
	MsgTypeStatus         = "machine-status"
	MsgTypeHistory        = "machine-history"
	MsgTypeAlert          = "machine-alert"
	MsgTypeSubConfirmed   = "subscription-confirmed"
	MsgTypeUnsubConfirmed = "unsubscription-confirmed"
	MsgTypeError          = "error"
	MsgTypePong           = "pong"
	MsgTypeConnection     = "connection"
)

// Message is the wire envelope shared by every transport implementation.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// NewMessage builds an envelope around a JSON-marshalable payload.
func NewMessage(msgType string, payload interface{}) Message {
	msg := Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err == nil {
			msg.Payload = data
		}
	}
	return msg
}

// SubscribePayload is the body of subscribe/unsubscribe/status requests.
type SubscribePayload struct {
	DeviceID string `json:"deviceId"`
}

// HistoryRequestPayload is the body of a get-machine-history request.
// TimeRange is a relative-duration string, e.g. "-1h" or "-24h".
type HistoryRequestPayload struct {
	DeviceID  string `json:"deviceId"`
	TimeRange string `json:"timeRange"`
}

// RetryPolicy bounds connection attempts. Zero values fall back to the
// defaults used by NewWSTransport.
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

// DefaultRetryPolicy matches the deployment default of 5 attempts at 1s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Interval: time.Second}
}

// EventTransport is one full-duplex connection to a telemetry server.
// Connect blocks until the connection is established or the retry budget is
// exhausted. Inbound traffic is delivered on Messages; transport failures
// after a successful connect are reported on Errors.
type EventTransport interface {
	Connect(ctx context.Context) error
	Close() error
	Send(msg Message) error
	Messages() <-chan Message
	Errors() <-chan error
}
