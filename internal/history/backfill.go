package history

import (
	"context"
	"fmt"
	"sync"

	"github.com/machine-telemetry/backend/internal/models"
	"github.com/machine-telemetry/backend/internal/timeseries"
)

// Backfiller drives backfill requests from a Loader into the time-series
// manager. Concurrent requests for the same device and range share one
// in-flight fetch instead of hitting the loader twice.
type Backfiller struct {
	loader Loader
	series *timeseries.Manager

	mu       sync.Mutex
	inflight map[string]*pendingFetch
}

type pendingFetch struct {
	done  chan struct{}
	count int
	err   error
}

// NewBackfiller creates a backfiller feeding the given series manager.
func NewBackfiller(loader Loader, series *timeseries.Manager) *Backfiller {
	return &Backfiller{
		loader:   loader,
		series:   series,
		inflight: make(map[string]*pendingFetch),
	}
}

// Backfill fetches a snapshot for the device and range and stores it as the
// device's historical array. Returns the number of stored points. Callers
// that arrive while an identical fetch is pending wait for and share its
// outcome.
func (b *Backfiller) Backfill(ctx context.Context, deviceID, timeRange string, limit int) (int, error) {
	key := deviceID + "|" + timeRange

	b.mu.Lock()
	if p, ok := b.inflight[key]; ok {
		b.mu.Unlock()
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-p.done:
			return p.count, p.err
		}
	}
	p := &pendingFetch{done: make(chan struct{})}
	b.inflight[key] = p
	b.mu.Unlock()

	samples, err := b.loader.Fetch(ctx, deviceID, timeRange, limit)
	count := 0
	if err == nil {
		count = b.series.AddHistoricalData(models.HistoryEvent{
			DeviceID:  deviceID,
			Data:      samples,
			TimeRange: timeRange,
		})
	} else {
		fmt.Printf("[Backfill] Fetch failed for %s %s: %v\n", deviceID, timeRange, err)
	}

	b.mu.Lock()
	p.count = count
	p.err = err
	delete(b.inflight, key)
	b.mu.Unlock()
	close(p.done)

	return count, err
}
