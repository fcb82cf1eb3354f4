package distributor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machine-telemetry/backend/internal/connection"
	"github.com/machine-telemetry/backend/internal/models"
	"github.com/machine-telemetry/backend/internal/testutil"
	"github.com/machine-telemetry/backend/internal/transport"
)

func newDistributor(t *testing.T) (*Distributor, *testutil.FakeTransport) {
	t.Helper()
	ft := testutil.NewFakeTransport()
	m := connection.NewManager(ft)
	d := New(m)
	t.Cleanup(func() {
		d.Close()
		m.Disconnect()
	})
	require.NoError(t, d.EnsureConnected(context.Background()))
	return d, ft
}

func deliver(t *testing.T, ft *testutil.FakeTransport, msgType string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	ft.Deliver(transport.Message{Type: msgType, Payload: data, Timestamp: time.Now().UnixMilli()})
}

func TestLastValueCacheAndCounters(t *testing.T) {
	d, ft := newDistributor(t)
	d.SubscribeToMachine("M1")

	assert.Equal(t, uint64(0), d.Counter(StreamRealtime))
	_, ok := d.LatestRealtime("M1")
	assert.False(t, ok)

	status := 1
	deliver(t, ft, transport.MsgTypeRealtime, models.RealtimeEvent{
		DeviceID: "M1",
		Data:     models.TelemetrySample{SentAt: 100000, OilTemp: 41.0, StatusCode: &status},
	})
	deliver(t, ft, transport.MsgTypeRealtime, models.RealtimeEvent{
		DeviceID: "M1",
		Data:     models.TelemetrySample{SentAt: 101000, OilTemp: 42.0, StatusCode: &status},
	})

	require.Eventually(t, func() bool {
		return d.Counter(StreamRealtime) == 2
	}, time.Second, 5*time.Millisecond)

	// The cache keeps only the newest event
	ev, ok := d.LatestRealtime("M1")
	require.True(t, ok)
	assert.Equal(t, 42.0, ev.Data.OilTemp)

	// Other streams were untouched
	assert.Equal(t, uint64(0), d.Counter(StreamSPC))
	assert.Equal(t, uint64(0), d.Counter(StreamStatus))
}

func TestStatusCacheIsPerDevice(t *testing.T) {
	d, ft := newDistributor(t)

	deliver(t, ft, transport.MsgTypeStatus, models.StatusEvent{
		DeviceID: "M1",
		Data:     json.RawMessage(`{"state":"running"}`),
		Source:   models.StatusSourceCache,
	})
	deliver(t, ft, transport.MsgTypeStatus, models.StatusEvent{
		DeviceID: "M2",
		Data:     json.RawMessage(`{"state":"idle"}`),
		Source:   models.StatusSourceRequested,
	})

	require.Eventually(t, func() bool {
		return d.Counter(StreamStatus) == 2
	}, time.Second, 5*time.Millisecond)

	ev, ok := d.LatestStatus("M1")
	require.True(t, ok)
	assert.Equal(t, models.StatusSourceCache, ev.Source)

	ev, ok = d.LatestStatus("M2")
	require.True(t, ok)
	assert.Equal(t, models.StatusSourceRequested, ev.Source)
}

func TestSubscribedMachinesSurvivesDrop(t *testing.T) {
	d, ft := newDistributor(t)

	d.SubscribeToMachine("M1")
	d.SubscribeToMachine("M2")
	d.UnsubscribeFromMachine("M2")

	assert.Equal(t, []string{"M1"}, d.SubscribedMachines())

	ft.Fail(errors.New("wire broke"))

	// The intent list is stable across the drop and reconnect
	require.Eventually(t, d.Manager().IsConnected, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"M1"}, d.SubscribedMachines())
}

func TestCloseDetachesListeners(t *testing.T) {
	ft := testutil.NewFakeTransport()
	m := connection.NewManager(ft)
	defer m.Disconnect()
	d := New(m)
	require.NoError(t, d.EnsureConnected(context.Background()))
	d.SubscribeToMachine("M1")

	d.Close()

	status := 1
	deliver(t, ft, transport.MsgTypeRealtime, models.RealtimeEvent{
		DeviceID: "M1",
		Data:     models.TelemetrySample{SentAt: 100000, StatusCode: &status},
	})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, uint64(0), d.Counter(StreamRealtime))
	_, ok := d.LatestRealtime("M1")
	assert.False(t, ok)
}
