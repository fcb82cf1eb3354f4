package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer upgrades connections and echoes every envelope back.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestNewMessage(t *testing.T) {
	msg := NewMessage(MsgTypeSubscribe, SubscribePayload{DeviceID: "M1"})

	assert.Equal(t, MsgTypeSubscribe, msg.Type)
	assert.NotZero(t, msg.Timestamp)

	var p SubscribePayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, "M1", p.DeviceID)

	// Nil payload stays absent from the envelope
	empty := NewMessage(MsgTypePing, nil)
	assert.Nil(t, empty.Payload)
}

func TestWSTransportRoundtrip(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	tr := NewWSTransport(WSConfig{URL: wsURL(srv)})
	defer tr.Close()

	require.NoError(t, tr.Connect(context.Background()))
	require.NoError(t, tr.Send(NewMessage(MsgTypeGetStatus, SubscribePayload{DeviceID: "M1"})))

	select {
	case msg := <-tr.Messages():
		assert.Equal(t, MsgTypeGetStatus, msg.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("echoed message never arrived")
	}
}

func TestWSTransportRetryBudget(t *testing.T) {
	tr := NewWSTransport(WSConfig{
		URL:   "ws://127.0.0.1:1", // nothing listens here
		Retry: RetryPolicy{MaxAttempts: 3, Interval: 10 * time.Millisecond},
	})
	defer tr.Close()

	start := time.Now()
	err := tr.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond, "attempts must be spaced by the interval")
}

func TestWSTransportSendBeforeConnect(t *testing.T) {
	tr := NewWSTransport(WSConfig{URL: "ws://example.invalid"})
	assert.Error(t, tr.Send(NewMessage(MsgTypePing, nil)))
}

func TestWSTransportCloseIsTerminal(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	tr := NewWSTransport(WSConfig{URL: wsURL(srv)})
	require.NoError(t, tr.Connect(context.Background()))
	require.NoError(t, tr.Close())

	assert.Error(t, tr.Connect(context.Background()))
	assert.Error(t, tr.Send(NewMessage(MsgTypePing, nil)))
}

func TestWSTransportSurfacesDrop(t *testing.T) {
	srv := echoServer(t)

	tr := NewWSTransport(WSConfig{URL: wsURL(srv)})
	defer tr.Close()
	require.NoError(t, tr.Connect(context.Background()))

	// Kill the server side; the read loop must surface the failure
	srv.CloseClientConnections()
	srv.Close()

	select {
	case err := <-tr.Errors():
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("drop was not surfaced on the error channel")
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, time.Second, p.Interval)
}
