// Package history provides the backfill data sources: an HTTP loader for an
// external history service and a DuckDB-backed local archive.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/machine-telemetry/backend/internal/models"
)

// Loader is a request/response backfill source. TimeRange is a relative
// duration string such as "-1h" or "-24h"; the result is a full snapshot for
// that range, ordered oldest first.
type Loader interface {
	Fetch(ctx context.Context, deviceID, timeRange string, limit int) ([]models.HistoricalSample, error)
}

// HTTPLoader fetches backfills from an external history REST service.
type HTTPLoader struct {
	baseURL string
	client  *http.Client
}

// NewHTTPLoader creates a loader against the given base URL, e.g.
// http://history-svc:8080. Requests go to <base>/history.
func NewHTTPLoader(baseURL string, timeout time.Duration) *HTTPLoader {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPLoader{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Fetch requests a backfill snapshot for one device and relative range.
func (l *HTTPLoader) Fetch(ctx context.Context, deviceID, timeRange string, limit int) ([]models.HistoricalSample, error) {
	q := url.Values{}
	q.Set("deviceId", deviceID)
	q.Set("timeRange", timeRange)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/history?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building history request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching history for %s: %w", deviceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history service returned %d for %s", resp.StatusCode, deviceID)
	}

	var samples []models.HistoricalSample
	if err := json.NewDecoder(resp.Body).Decode(&samples); err != nil {
		return nil, fmt.Errorf("decoding history response for %s: %w", deviceID, err)
	}
	return samples, nil
}
