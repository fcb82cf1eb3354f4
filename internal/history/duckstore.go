package history

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb"

	"github.com/machine-telemetry/backend/internal/connection"
	"github.com/machine-telemetry/backend/internal/models"
)

const archiveBatchSize = 500

// ArchiveStore persists ingested telemetry points in an embedded DuckDB file
// and serves range queries over them. It backs the server's own history
// endpoint and doubles as a local Loader for deployments without an external
// history service.
type ArchiveStore struct {
	db   *sql.DB
	path string

	mu    sync.Mutex
	batch []models.TimeSeriesPoint
}

// NewArchiveStore opens (or creates) the archive database in dataDir.
func NewArchiveStore(dataDir string) (*ArchiveStore, error) {
	dbPath := filepath.Join(dataDir, "telemetry_archive.duckdb")

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA memory_limit='512MB'",
			"PRAGMA threads=2",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS points (
			ts        BIGINT NOT NULL,
			device_id VARCHAR NOT NULL,
			t1 DOUBLE, t2 DOUBLE, t3 DOUBLE, t4 DOUBLE, t5 DOUBLE, t6 DOUBLE, t7 DOUBLE,
			oil_temp  DOUBLE,
			status    INTEGER,
			op_mode   INTEGER,
			auto_test INTEGER
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create points table: %w", err)
	}

	fmt.Printf("[Archive] DuckDB archive ready at %s\n", dbPath)
	return &ArchiveStore{
		db:    db,
		path:  dbPath,
		batch: make([]models.TimeSeriesPoint, 0, archiveBatchSize),
	}, nil
}

// Archive buffers one point for insertion; full batches are flushed inline.
func (a *ArchiveStore) Archive(p models.TimeSeriesPoint) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.batch = append(a.batch, p)
	if len(a.batch) < archiveBatchSize {
		return nil
	}
	return a.flushLocked()
}

// Flush writes any buffered points immediately.
func (a *ArchiveStore) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushLocked()
}

func (a *ArchiveStore) flushLocked() error {
	if len(a.batch) == 0 {
		return nil
	}

	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin archive batch: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO points (ts, device_id, t1, t2, t3, t4, t5, t6, t7, oil_temp, status, op_mode, auto_test)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare archive insert: %w", err)
	}

	for _, p := range a.batch {
		t := p.Temperatures
		if _, err := stmt.Exec(
			p.Timestamp.UnixMilli(), p.DeviceID,
			t[0], t[1], t[2], t[3], t[4], t[5], t[6],
			p.OilTemp, p.StatusCode, p.OperationMode, p.AutoTestStatus,
		); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("failed to insert archive point: %w", err)
		}
	}
	stmt.Close()

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive batch: %w", err)
	}
	a.batch = a.batch[:0]
	return nil
}

// QueryRange returns archived samples for a device between from and to
// (inclusive, Unix ms), oldest first, capped at limit.
func (a *ArchiveStore) QueryRange(ctx context.Context, deviceID string, from, to int64, limit int) ([]models.HistoricalSample, error) {
	if err := a.Flush(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1000
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT ts, t1, t2, t3, t4, t5, t6, t7, oil_temp, status, op_mode, auto_test
		FROM points
		WHERE device_id = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
		LIMIT ?
	`, deviceID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query archive: %w", err)
	}
	defer rows.Close()

	var samples []models.HistoricalSample
	for rows.Next() {
		var (
			s     models.HistoricalSample
			temps [models.TemperatureZones]float64
		)
		if err := rows.Scan(
			&s.Timestamp,
			&temps[0], &temps[1], &temps[2], &temps[3], &temps[4], &temps[5], &temps[6],
			&s.OilTemp, &s.StatusCode, &s.OperationMode, &s.AutoTestStatus,
		); err != nil {
			return nil, fmt.Errorf("failed to scan archive row: %w", err)
		}
		s.DeviceID = deviceID
		s.Temperatures = temps[:]
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// Fetch implements Loader over the local archive. timeRange is a relative
// duration string such as "-1h".
func (a *ArchiveStore) Fetch(ctx context.Context, deviceID, timeRange string, limit int) ([]models.HistoricalSample, error) {
	d, err := time.ParseDuration(timeRange)
	if err != nil || d >= 0 {
		return nil, fmt.Errorf("invalid time range %q", timeRange)
	}
	now := time.Now()
	return a.QueryRange(ctx, deviceID, now.Add(d).UnixMilli(), now.UnixMilli(), limit)
}

// BindConnection archives every realtime event flowing through the manager.
// The returned func detaches the listener.
func (a *ArchiveStore) BindConnection(m *connection.Manager) func() {
	return m.OnRealtime(func(ev models.RealtimeEvent) {
		if ev.Data.StatusCode == nil {
			return
		}
		if err := a.Archive(models.PointFromTelemetry(&ev.Data, nil)); err != nil {
			fmt.Printf("[Archive] Failed to archive point for %s: %v\n", ev.DeviceID, err)
		}
	})
}

// Close flushes buffered points and closes the database.
func (a *ArchiveStore) Close() error {
	if err := a.Flush(); err != nil {
		fmt.Printf("[Archive] Flush on close failed: %v\n", err)
	}
	return a.db.Close()
}
