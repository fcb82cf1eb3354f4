package connection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machine-telemetry/backend/internal/models"
	"github.com/machine-telemetry/backend/internal/testutil"
	"github.com/machine-telemetry/backend/internal/transport"
)

func mustConnect(t *testing.T, m *Manager) {
	t.Helper()
	require.NoError(t, m.Connect(context.Background()))
}

func wireEvent(t *testing.T, msgType string, payload interface{}) transport.Message {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return transport.Message{Type: msgType, Payload: data, Timestamp: time.Now().UnixMilli()}
}

func TestConnectIdempotent(t *testing.T) {
	ft := testutil.NewFakeTransport()
	m := NewManager(ft)
	defer m.Disconnect()

	mustConnect(t, m)
	mustConnect(t, m)
	mustConnect(t, m)

	assert.Equal(t, 1, ft.ConnectCalls())
	assert.True(t, m.IsConnected())
}

func TestConnectCoalescing(t *testing.T) {
	ft := testutil.NewFakeTransport()
	release := ft.BlockConnects()
	m := NewManager(ft)
	defer m.Disconnect()

	// Five concurrent callers while one attempt is held in flight
	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Connect(context.Background())
		}(i)
	}

	// Wait for the leading attempt to reach the transport
	require.Eventually(t, func() bool {
		return ft.ConnectCalls() == 1
	}, time.Second, 5*time.Millisecond)

	release()
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, ft.ConnectCalls(), "followers must share the attempt, not dial again")
}

func TestConnectFailurePropagatesToFollowers(t *testing.T) {
	ft := testutil.NewFakeTransport()
	ft.FailConnects(errors.New("dial refused"))
	m := NewManager(ft)
	defer m.Disconnect()

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, m.IsConnected())

	// A later call retries from scratch
	mustConnect(t, m)
	assert.True(t, m.IsConnected())
}

func TestSubscribeIdempotent(t *testing.T) {
	ft := testutil.NewFakeTransport()
	m := NewManager(ft)
	defer m.Disconnect()
	mustConnect(t, m)

	m.SubscribeToMachine("M1")
	m.SubscribeToMachine("M1")
	m.SubscribeToMachine("M1")

	assert.Len(t, ft.SentOfType(transport.MsgTypeSubscribe), 1)
	assert.Equal(t, []string{"M1"}, m.SubscribedMachines())
}

func TestSubscribeWhileDisconnected(t *testing.T) {
	ft := testutil.NewFakeTransport()
	m := NewManager(ft)
	defer m.Disconnect()

	m.SubscribeToMachine("M1")

	assert.Empty(t, ft.Sent())
	assert.Empty(t, m.SubscribedMachines())
}

func TestUnsubscribeWithoutSubscribe(t *testing.T) {
	ft := testutil.NewFakeTransport()
	m := NewManager(ft)
	defer m.Disconnect()
	mustConnect(t, m)

	m.UnsubscribeFromMachine("M1")

	assert.Empty(t, ft.SentOfType(transport.MsgTypeUnsubscribe))
}

func TestUnsubscribeRemovesRegistration(t *testing.T) {
	ft := testutil.NewFakeTransport()
	m := NewManager(ft)
	defer m.Disconnect()
	mustConnect(t, m)

	m.SubscribeToMachine("M1")
	m.UnsubscribeFromMachine("M1")

	assert.Len(t, ft.SentOfType(transport.MsgTypeUnsubscribe), 1)
	assert.Empty(t, m.SubscribedMachines())

	// The registration is gone, so subscribing again emits a new wire message
	m.SubscribeToMachine("M1")
	assert.Len(t, ft.SentOfType(transport.MsgTypeSubscribe), 2)
}

func TestReconnectReplaysSubscriptions(t *testing.T) {
	ft := testutil.NewFakeTransport()
	m := NewManager(ft)
	defer m.Disconnect()
	mustConnect(t, m)

	m.SubscribeToMachine("M2")
	m.SubscribeToMachine("M1")

	var mu sync.Mutex
	var changes []bool
	m.OnConnectionChange(func(up bool) {
		mu.Lock()
		changes = append(changes, up)
		mu.Unlock()
	})

	ft.Fail(errors.New("wire broke"))

	require.Eventually(t, m.IsConnected, time.Second, 5*time.Millisecond)

	// Registry survived the unplanned drop
	assert.Equal(t, []string{"M1", "M2"}, m.SubscribedMachines())

	// Both devices were re-subscribed on the wire, in deterministic order
	require.Eventually(t, func() bool {
		return len(ft.SentOfType(transport.MsgTypeSubscribe)) == 4
	}, time.Second, 5*time.Millisecond)

	replay := ft.SentOfType(transport.MsgTypeSubscribe)[2:]
	var p transport.SubscribePayload
	require.NoError(t, json.Unmarshal(replay[0].Payload, &p))
	assert.Equal(t, "M1", p.DeviceID)
	require.NoError(t, json.Unmarshal(replay[1].Payload, &p))
	assert.Equal(t, "M2", p.DeviceID)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changes) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false, true}, changes)
}

func TestDisconnectIsTerminal(t *testing.T) {
	ft := testutil.NewFakeTransport()
	m := NewManager(ft)
	mustConnect(t, m)
	m.SubscribeToMachine("M1")

	m.Disconnect()

	assert.False(t, m.IsConnected())
	assert.Empty(t, m.SubscribedMachines())
	assert.Error(t, m.Connect(context.Background()))
}

func TestRequestsDroppedWhileDisconnected(t *testing.T) {
	ft := testutil.NewFakeTransport()
	m := NewManager(ft)
	defer m.Disconnect()

	m.RequestMachineStatus("M1")
	m.RequestMachineHistory("M1", "-1h")
	m.Ping()

	assert.Empty(t, ft.Sent(), "requests must be dropped, not queued")
}

func TestDispatchRealtimeEvent(t *testing.T) {
	ft := testutil.NewFakeTransport()
	m := NewManager(ft)
	defer m.Disconnect()
	mustConnect(t, m)
	m.SubscribeToMachine("M1")

	got := make(chan models.RealtimeEvent, 1)
	m.OnRealtime(func(ev models.RealtimeEvent) { got <- ev })

	status := 1
	ft.Deliver(wireEvent(t, transport.MsgTypeRealtime, models.RealtimeEvent{
		DeviceID:  "M1",
		Data:      models.TelemetrySample{OilTemp: 42.0, StatusCode: &status},
		Timestamp: 100300,
	}))

	select {
	case ev := <-got:
		assert.Equal(t, "M1", ev.DeviceID)
		assert.Equal(t, "M1", ev.Data.DeviceID, "device id is filled from the envelope")
		assert.Equal(t, int64(100300), ev.Data.SentAt, "send time falls back to the event timestamp")
		assert.Equal(t, 42.0, ev.Data.OilTemp)
		assert.NotEmpty(t, ev.Raw)
	case <-time.After(time.Second):
		t.Fatal("realtime event was not dispatched")
	}
}

func TestDispatchDropsUnsubscribedDevices(t *testing.T) {
	ft := testutil.NewFakeTransport()
	m := NewManager(ft)
	defer m.Disconnect()
	mustConnect(t, m)
	m.SubscribeToMachine("M1")

	got := make(chan models.RealtimeEvent, 2)
	m.OnRealtime(func(ev models.RealtimeEvent) { got <- ev })

	status := 1
	// M2 was never subscribed; its event must not be fanned out
	ft.Deliver(wireEvent(t, transport.MsgTypeRealtime, models.RealtimeEvent{
		DeviceID: "M2",
		Data:     models.TelemetrySample{StatusCode: &status},
	}))
	ft.Deliver(wireEvent(t, transport.MsgTypeRealtime, models.RealtimeEvent{
		DeviceID: "M1",
		Data:     models.TelemetrySample{StatusCode: &status},
	}))

	select {
	case ev := <-got:
		assert.Equal(t, "M1", ev.DeviceID)
	case <-time.After(time.Second):
		t.Fatal("routed event was not dispatched")
	}
	select {
	case ev := <-got:
		t.Fatalf("unexpected event for %s", ev.DeviceID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatchMalformedEventDropped(t *testing.T) {
	ft := testutil.NewFakeTransport()
	m := NewManager(ft)
	defer m.Disconnect()
	mustConnect(t, m)
	m.SubscribeToMachine("M1")

	got := make(chan models.RealtimeEvent, 1)
	m.OnRealtime(func(ev models.RealtimeEvent) { got <- ev })

	// Missing deviceId does not match the event shape
	ft.Deliver(transport.Message{
		Type:    transport.MsgTypeRealtime,
		Payload: json.RawMessage(`{"data":{"oilTemp":42}}`),
	})

	select {
	case <-got:
		t.Fatal("malformed event must not be dispatched")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatchErrorPayloadFallback(t *testing.T) {
	ft := testutil.NewFakeTransport()
	m := NewManager(ft)
	defer m.Disconnect()
	mustConnect(t, m)

	got := make(chan models.ErrorEvent, 1)
	m.OnError(func(ev models.ErrorEvent) { got <- ev })

	// Some servers send a bare string instead of the structured payload
	ft.Deliver(transport.Message{
		Type:    transport.MsgTypeError,
		Payload: json.RawMessage(`device unreachable`),
	})

	select {
	case ev := <-got:
		assert.Equal(t, "device unreachable", ev.Message)
	case <-time.After(time.Second):
		t.Fatal("error event was not dispatched")
	}
}

func TestListenerRemoval(t *testing.T) {
	ft := testutil.NewFakeTransport()
	m := NewManager(ft)
	defer m.Disconnect()
	mustConnect(t, m)
	m.SubscribeToMachine("M1")

	first := make(chan models.RealtimeEvent, 2)
	second := make(chan models.RealtimeEvent, 2)
	remove := m.OnRealtime(func(ev models.RealtimeEvent) { first <- ev })
	m.OnRealtime(func(ev models.RealtimeEvent) { second <- ev })

	remove()

	status := 1
	ft.Deliver(wireEvent(t, transport.MsgTypeRealtime, models.RealtimeEvent{
		DeviceID: "M1",
		Data:     models.TelemetrySample{StatusCode: &status},
	}))

	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("remaining listener was not notified")
	}
	select {
	case <-first:
		t.Fatal("removed listener must not be notified")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestListenerPanicIsolation(t *testing.T) {
	ft := testutil.NewFakeTransport()
	m := NewManager(ft)
	defer m.Disconnect()
	mustConnect(t, m)
	m.SubscribeToMachine("M1")

	got := make(chan models.RealtimeEvent, 1)
	m.OnRealtime(func(models.RealtimeEvent) { panic("broken consumer") })
	m.OnRealtime(func(ev models.RealtimeEvent) { got <- ev })

	status := 1
	ft.Deliver(wireEvent(t, transport.MsgTypeRealtime, models.RealtimeEvent{
		DeviceID: "M1",
		Data:     models.TelemetrySample{StatusCode: &status},
	}))

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("a panicking listener must not block the others")
	}
}
