package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machine-telemetry/backend/internal/models"
)

func archivePoint(deviceID string, ts int64, oilTemp float64) models.TimeSeriesPoint {
	return models.TimeSeriesPoint{
		Timestamp:    time.UnixMilli(ts),
		DeviceID:     deviceID,
		Temperatures: [models.TemperatureZones]float64{180, 181, 182, 183, 184, 185, 186},
		OilTemp:      oilTemp,
		StatusCode:   1,
		Source:       models.SourceRealtime,
	}
}

func TestArchiveStoreQueryRange(t *testing.T) {
	store, err := NewArchiveStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Archive(archivePoint("M1", 100000, 41.0)))
	require.NoError(t, store.Archive(archivePoint("M1", 200000, 42.0)))
	require.NoError(t, store.Archive(archivePoint("M1", 300000, 43.0)))
	require.NoError(t, store.Archive(archivePoint("M2", 200000, 50.0)))

	// Bounds are inclusive; other devices are excluded
	samples, err := store.QueryRange(context.Background(), "M1", 100000, 200000, 0)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, int64(100000), samples[0].Timestamp)
	assert.Equal(t, 41.0, samples[0].OilTemp)
	assert.Equal(t, "M1", samples[0].DeviceID)
	assert.Len(t, samples[0].Temperatures, models.TemperatureZones)

	// Limit caps the result, keeping the oldest rows
	samples, err = store.QueryRange(context.Background(), "M1", 0, 400000, 2)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, int64(100000), samples[0].Timestamp)
	assert.Equal(t, int64(200000), samples[1].Timestamp)
}

func TestArchiveStoreFetch(t *testing.T) {
	store, err := NewArchiveStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Archive(archivePoint("M1", time.Now().Add(-30*time.Minute).UnixMilli(), 42.0)))
	require.NoError(t, store.Archive(archivePoint("M1", time.Now().Add(-3*time.Hour).UnixMilli(), 41.0)))

	samples, err := store.Fetch(context.Background(), "M1", "-1h", 100)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 42.0, samples[0].OilTemp)

	// Ranges must be negative relative durations
	_, err = store.Fetch(context.Background(), "M1", "1h", 100)
	assert.Error(t, err)
	_, err = store.Fetch(context.Background(), "M1", "yesterday", 100)
	assert.Error(t, err)
}

func TestArchiveStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewArchiveStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Archive(archivePoint("M1", 100000, 42.0)))
	require.NoError(t, store.Close())

	reopened, err := NewArchiveStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	samples, err := reopened.QueryRange(context.Background(), "M1", 0, 200000, 0)
	require.NoError(t, err)
	require.Len(t, samples, 1)
}
