package detect

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hostwatch/internal/alerts"
	"hostwatch/internal/anomaly"
	"hostwatch/internal/metrics"
	"hostwatch/internal/notify"
	"hostwatch/internal/queue"
)

var (
	noticesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hostwatch_worker_notices_processed_total",
		Help: "Ingestion notices consumed from the queue.",
	})
	alertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hostwatch_worker_alerts_raised_total",
		Help: "Alerts raised by the detection pipeline.",
	}, []string{"metric_type", "severity"})
	softMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hostwatch_worker_soft_misses_total",
		Help: "Notices whose sample row was not yet visible.",
	})
	notifyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hostwatch_worker_notify_failures_total",
		Help: "Notification deliveries that failed and were dropped.",
	})
)

// NoticeSource yields batches of notices to process. Implemented by
// queue.Consumer; an empty batch means nothing was ready.
type NoticeSource interface {
	Fetch(ctx context.Context, batch int) ([]queue.Delivery, error)
}

// Config controls the worker pool.
type Config struct {
	Count               int           // consumer goroutines
	Batch               int           // notices fetched per pull
	RetentionPeriod     time.Duration // samples older than this are swept
	MaintenanceInterval time.Duration // sweep cadence
}

// Worker drives the detection pipeline: fetch notices, look up samples,
// run both detectors, dispatch notifications, acknowledge.
type Worker struct {
	source    NoticeSource
	samples   *metrics.Store
	threshold *Threshold
	anomaly   *anomaly.Detector
	notifier  notify.Notifier
	cfg       Config
	logger    *zap.Logger
}

// NewWorker creates a detection worker pool.
func NewWorker(source NoticeSource, samples *metrics.Store, threshold *Threshold,
	anomalyDet *anomaly.Detector, notifier notify.Notifier, cfg Config, logger *zap.Logger) *Worker {
	if cfg.Count <= 0 {
		cfg.Count = 4
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 10
	}
	return &Worker{
		source:    source,
		samples:   samples,
		threshold: threshold,
		anomaly:   anomalyDet,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run starts the consumer goroutines and the maintenance sweeper, blocking
// until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < w.cfg.Count; i++ {
		id := i
		g.Go(func() error { return w.consumeLoop(ctx, id) })
	}
	if w.cfg.RetentionPeriod > 0 && w.cfg.MaintenanceInterval > 0 {
		g.Go(func() error { return w.maintenanceLoop(ctx) })
	}

	return g.Wait()
}

// consumeLoop pulls and processes notices until ctx is cancelled. Fetch
// errors (queue outage) are logged and retried; the loop never exits on
// a per-notice failure.
func (w *Worker) consumeLoop(ctx context.Context, id int) error {
	logger := w.logger.With(zap.Int("consumer", id))
	logger.Info("consumer started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("consumer stopping")
			return ctx.Err()
		default:
		}

		deliveries, err := w.source.Fetch(ctx, w.cfg.Batch)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("fetch failed, retrying", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for i := range deliveries {
			w.handle(ctx, &deliveries[i])
		}
	}
}

// handle processes one delivery and acknowledges it unconditionally.
// Acking on failure trades redelivery-driven retries for poison-message
// buildup; transport redelivery still covers worker crashes mid-notice.
func (w *Worker) handle(ctx context.Context, d *queue.Delivery) {
	w.process(ctx, d.Notice)
	if err := d.Ack(); err != nil {
		w.logger.Warn("ack failed",
			zap.String("host", d.Notice.Host),
			zap.Error(err),
		)
	}
}

// process looks up the sample behind a notice and runs both detectors.
// Every raised alert is already persisted by its detector; this layer owns
// notification dispatch only.
func (w *Worker) process(ctx context.Context, n queue.Notice) {
	noticesProcessed.Inc()

	sample, err := w.samples.Get(ctx, n.Host, n.Timestamp)
	if err != nil {
		w.logger.Error("sample lookup failed",
			zap.String("host", n.Host),
			zap.Time("timestamp", n.Timestamp),
			zap.Error(err),
		)
		return
	}
	if sample == nil {
		// Notice outran the row (or retention already swept it).
		softMisses.Inc()
		w.logger.Debug("sample not visible yet, skipping",
			zap.String("host", n.Host),
			zap.Time("timestamp", n.Timestamp),
		)
		return
	}

	var raised []*alerts.Alert

	thresholdAlerts, err := w.threshold.Detect(ctx, sample)
	if err != nil {
		w.logger.Error("threshold detection failed",
			zap.String("host", n.Host),
			zap.Error(err),
		)
	}
	raised = append(raised, thresholdAlerts...)

	anomalyAlert, err := w.anomaly.Detect(ctx, sample)
	if err != nil {
		w.logger.Error("anomaly detection failed",
			zap.String("host", n.Host),
			zap.Error(err),
		)
	}
	if anomalyAlert != nil {
		raised = append(raised, anomalyAlert)
	}

	for _, a := range raised {
		alertsRaised.WithLabelValues(a.MetricType, a.Severity).Inc()
		if err := w.notifier.Notify(ctx, a.Severity, a.Message); err != nil {
			notifyFailures.Inc()
			w.logger.Warn("notification failed",
				zap.String("host", a.Host),
				zap.String("metric_type", a.MetricType),
				zap.Error(err),
			)
		}
	}
}

// maintenanceLoop sweeps samples past the retention period. Alerts are
// never deleted.
func (w *Worker) maintenanceLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-w.cfg.RetentionPeriod)
			n, err := w.samples.DeleteOlderThan(ctx, cutoff)
			if err != nil {
				w.logger.Error("retention sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				w.logger.Info("retention sweep",
					zap.Int64("deleted", n),
					zap.Time("cutoff", cutoff),
				)
			}
		}
	}
}
