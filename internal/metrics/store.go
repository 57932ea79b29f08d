// Package metrics stores and serves host resource samples.
package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Sample is one timestamped resource-usage observation for a host.
// Nil fields were not reported by the agent. Samples are immutable once
// written; the natural key is (timestamp, host).
type Sample struct {
	Timestamp     time.Time `json:"timestamp"`
	Host          string    `json:"host"`
	CPUPercent    *float64  `json:"cpu_percent"`
	CPUMin        *float64  `json:"cpu_min"`
	CPUMax        *float64  `json:"cpu_max"`
	MemoryPercent *float64  `json:"memory_percent"`
	MemoryMin     *float64  `json:"memory_min"`
	MemoryMax     *float64  `json:"memory_max"`
	DiskPercent   *float64  `json:"disk_percent"`
	DiskMin       *float64  `json:"disk_min"`
	DiskMax       *float64  `json:"disk_max"`
	NetworkIn     *int64    `json:"network_in"`
	NetworkOut    *int64    `json:"network_out"`
}

// Store provides database access for host resource samples.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const sampleColumns = `timestamp, host, cpu_percent, cpu_min, cpu_max,
	memory_percent, memory_min, memory_max, disk_percent, disk_min, disk_max,
	network_in, network_out`

// Insert writes a new sample. The timestamp is normalized to UTC so that
// range comparisons in SQLite stay consistent.
func (s *Store) Insert(ctx context.Context, m *Sample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metrics (`+sampleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Timestamp.UTC(), m.Host,
		nullFloat(m.CPUPercent), nullFloat(m.CPUMin), nullFloat(m.CPUMax),
		nullFloat(m.MemoryPercent), nullFloat(m.MemoryMin), nullFloat(m.MemoryMax),
		nullFloat(m.DiskPercent), nullFloat(m.DiskMin), nullFloat(m.DiskMax),
		nullInt(m.NetworkIn), nullInt(m.NetworkOut),
	)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// Get returns the sample written at exactly (host, timestamp).
// Returns nil, nil if no such sample is visible yet.
func (s *Store) Get(ctx context.Context, host string, ts time.Time) (*Sample, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sampleColumns+` FROM metrics WHERE host = ? AND timestamp = ?`,
		host, ts.UTC(),
	)
	m, err := scanSample(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get sample: %w", err)
	}
	return m, nil
}

// ListWindow returns all samples for a host newer than or equal to since,
// newest first. Used to build anomaly training windows.
func (s *Store) ListWindow(ctx context.Context, host string, since time.Time) ([]Sample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sampleColumns+` FROM metrics
		WHERE host = ? AND timestamp >= ? ORDER BY timestamp DESC`,
		host, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list window: %w", err)
	}
	return collectSamples(rows)
}

// ListNewerThan returns samples strictly newer than after, oldest first.
// If host is empty, samples for all hosts are returned. Used by the
// stream poll loop; ascending order preserves per-host write order.
func (s *Store) ListNewerThan(ctx context.Context, host string, after time.Time) ([]Sample, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if host == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+sampleColumns+` FROM metrics
			WHERE timestamp > ? ORDER BY timestamp ASC`,
			after.UTC(),
		)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+sampleColumns+` FROM metrics
			WHERE host = ? AND timestamp > ? ORDER BY timestamp ASC`,
			host, after.UTC(),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list newer than: %w", err)
	}
	return collectSamples(rows)
}

// ListRecent returns the most recent samples, newest first, optionally
// filtered by host. If limit <= 0, defaults to 100.
func (s *Store) ListRecent(ctx context.Context, host string, limit int) ([]Sample, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if host == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+sampleColumns+` FROM metrics
			ORDER BY timestamp DESC LIMIT ?`,
			limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+sampleColumns+` FROM metrics
			WHERE host = ? ORDER BY timestamp DESC LIMIT ?`,
			host, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list recent: %w", err)
	}
	return collectSamples(rows)
}

// DeleteOlderThan deletes samples older than the given time.
// Returns the number of rows deleted.
func (s *Store) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM metrics WHERE timestamp < ?`,
		before.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete old samples: %w", err)
	}
	return result.RowsAffected()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSample(r rowScanner) (*Sample, error) {
	var (
		m                  Sample
		cpu, cpuMin, cpuMax sql.NullFloat64
		mem, memMin, memMax sql.NullFloat64
		dsk, dskMin, dskMax sql.NullFloat64
		netIn, netOut       sql.NullInt64
	)
	if err := r.Scan(
		&m.Timestamp, &m.Host, &cpu, &cpuMin, &cpuMax,
		&mem, &memMin, &memMax, &dsk, &dskMin, &dskMax,
		&netIn, &netOut,
	); err != nil {
		return nil, err
	}
	m.Timestamp = m.Timestamp.UTC()
	m.CPUPercent = floatPtr(cpu)
	m.CPUMin = floatPtr(cpuMin)
	m.CPUMax = floatPtr(cpuMax)
	m.MemoryPercent = floatPtr(mem)
	m.MemoryMin = floatPtr(memMin)
	m.MemoryMax = floatPtr(memMax)
	m.DiskPercent = floatPtr(dsk)
	m.DiskMin = floatPtr(dskMin)
	m.DiskMax = floatPtr(dskMax)
	m.NetworkIn = intPtr(netIn)
	m.NetworkOut = intPtr(netOut)
	return &m, nil
}

func collectSamples(rows *sql.Rows) ([]Sample, error) {
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		m, err := scanSample(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sample row: %w", err)
		}
		samples = append(samples, *m)
	}
	return samples, rows.Err()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}
