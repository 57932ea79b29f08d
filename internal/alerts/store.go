// Package alerts maintains the append-only alert ledger and its operator API.
package alerts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when an alert id does not exist.
var ErrNotFound = errors.New("alert not found")

// Metric types an alert can be raised for.
const (
	MetricCPU       = "cpu_percent"
	MetricMemory    = "memory_percent"
	MetricDisk      = "disk_percent"
	MetricMLAnomaly = "ml_anomaly"
)

// Severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Statuses. New alerts start pending; operators move them onward.
const (
	StatusPending      = "pending"
	StatusAcknowledged = "acknowledged"
	StatusResolved     = "resolved"
)

// Alert is one detection event recorded in the ledger. Rows are never
// deleted; only status changes after insert.
type Alert struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Host       string    `json:"host"`
	MetricType string    `json:"metric_type"`
	Severity   string    `json:"severity"`
	Message    string    `json:"message"`
	Status     string    `json:"status"`
}

// Store provides database access to the alert ledger.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const alertColumns = `id, timestamp, host, metric_type, severity, message, status`

// Insert records a new alert and returns its assigned id. Status defaults
// to pending when unset. The ledger itself never deduplicates; callers that
// want at most one pending alert per (host, metric_type) check ListPending
// first.
func (s *Store) Insert(ctx context.Context, a *Alert) (int64, error) {
	if a.Status == "" {
		a.Status = StatusPending
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (timestamp, host, metric_type, severity, message, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.Timestamp.UTC(), a.Host, a.MetricType, a.Severity, a.Message, a.Status,
	)
	if err != nil {
		return 0, fmt.Errorf("insert alert: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("alert id: %w", err)
	}
	a.ID = id
	return id, nil
}

// ListPending returns pending alerts, optionally narrowed by host and
// metric type. The detectors use this for dedup lookups.
func (s *Store) ListPending(ctx context.Context, host, metricType string) ([]Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE status = ?`
	args := []any{StatusPending}
	if host != "" {
		query += ` AND host = ?`
		args = append(args, host)
	}
	if metricType != "" {
		query += ` AND metric_type = ?`
		args = append(args, metricType)
	}
	query += ` ORDER BY timestamp DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending alerts: %w", err)
	}
	return collectAlerts(rows)
}

// List returns alerts newest first, optionally filtered by host and status.
// If limit <= 0, defaults to 100.
func (s *Store) List(ctx context.Context, host, status string, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`
	var args []any
	if host != "" {
		query += ` AND host = ?`
		args = append(args, host)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return collectAlerts(rows)
}

// Get returns the alert with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

// UpdateStatus sets the status of an alert and returns the updated row.
// Any status value is accepted; there is no transition state machine.
// Returns ErrNotFound if the id does not exist.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status string) (*Alert, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return nil, fmt.Errorf("update alert status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update alert status: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(r rowScanner) (*Alert, error) {
	var a Alert
	if err := r.Scan(&a.ID, &a.Timestamp, &a.Host, &a.MetricType,
		&a.Severity, &a.Message, &a.Status); err != nil {
		return nil, err
	}
	a.Timestamp = a.Timestamp.UTC()
	return &a, nil
}

func collectAlerts(rows *sql.Rows) ([]Alert, error) {
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}
