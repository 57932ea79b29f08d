// Package detect runs the detection pipeline: it consumes ingestion
// notices, evaluates threshold and anomaly detectors, and dispatches
// notifications for the alerts they raise.
package detect

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"hostwatch/internal/alerts"
	"hostwatch/internal/metrics"
)

// band defines the warning and critical levels for one metric. A value at
// or above a level triggers that level.
type band struct {
	metricType string
	value      func(*metrics.Sample) *float64
	warning    float64
	critical   float64
}

var bands = []band{
	{alerts.MetricCPU, func(s *metrics.Sample) *float64 { return s.CPUPercent }, 70, 90},
	{alerts.MetricMemory, func(s *metrics.Sample) *float64 { return s.MemoryPercent }, 75, 90},
	{alerts.MetricDisk, func(s *metrics.Sample) *float64 { return s.DiskPercent }, 80, 95},
}

// Threshold evaluates samples against fixed per-metric bands.
type Threshold struct {
	ledger *alerts.Store
	logger *zap.Logger
}

// NewThreshold creates a threshold detector writing to the given ledger.
func NewThreshold(ledger *alerts.Store, logger *zap.Logger) *Threshold {
	return &Threshold{ledger: ledger, logger: logger}
}

// Detect evaluates one sample, persists any raised alerts, and returns
// them. Missing metric values are skipped. A breach is suppressed while a
// pending alert for the same (host, metric) exists, even when the new
// breach is more severe. The pending-check and insert are not atomic, so
// concurrent workers can rarely double-raise; redeliveries make the check
// idempotent in the common case.
func (t *Threshold) Detect(ctx context.Context, sample *metrics.Sample) ([]*alerts.Alert, error) {
	var raised []*alerts.Alert

	for _, b := range bands {
		v := b.value(sample)
		if v == nil {
			continue
		}

		var severity string
		switch {
		case *v >= b.critical:
			severity = alerts.SeverityCritical
		case *v >= b.warning:
			severity = alerts.SeverityWarning
		default:
			continue
		}

		pending, err := t.ledger.ListPending(ctx, sample.Host, b.metricType)
		if err != nil {
			return raised, fmt.Errorf("dedup lookup for %s/%s: %w", sample.Host, b.metricType, err)
		}
		if len(pending) > 0 {
			t.logger.Debug("breach suppressed by pending alert",
				zap.String("host", sample.Host),
				zap.String("metric_type", b.metricType),
			)
			continue
		}

		alert := &alerts.Alert{
			Timestamp:  sample.Timestamp,
			Host:       sample.Host,
			MetricType: b.metricType,
			Severity:   severity,
			Message:    fmt.Sprintf("%s is %.1f%% on %s", b.metricType, *v, sample.Host),
			Status:     alerts.StatusPending,
		}
		if _, err := t.ledger.Insert(ctx, alert); err != nil {
			return raised, fmt.Errorf("record %s alert: %w", b.metricType, err)
		}

		t.logger.Info("threshold alert raised",
			zap.String("host", sample.Host),
			zap.String("metric_type", b.metricType),
			zap.String("severity", severity),
			zap.Float64("value", *v),
		)
		raised = append(raised, alert)
	}

	return raised, nil
}
