package anomaly

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"hostwatch/internal/alerts"
	"hostwatch/internal/metrics"
)

// Config controls the anomaly detector.
type Config struct {
	Window          time.Duration // trailing training window
	RetrainInterval time.Duration // minimum age before a model is retrained
	MinSamples      int           // qualifying rows required to train
	Trees           int
	Subsample       int
	Contamination   float64
	CacheSize       int // max hosts with a cached model
	Seed            int64
}

// DefaultConfig returns the detector defaults.
func DefaultConfig() Config {
	return Config{
		Window:          24 * time.Hour,
		RetrainInterval: time.Hour,
		MinSamples:      50,
		Trees:           100,
		Subsample:       256,
		Contamination:   0.05,
		CacheSize:       1024,
		Seed:            42,
	}
}

// model is one trained per-host forest plus its training time.
type model struct {
	host      string
	forest    *Forest
	trainedAt time.Time
}

// Detector scores samples against per-host isolation forests. Models live
// in a bounded LRU cache; evicted hosts simply retrain on their next sample.
type Detector struct {
	samples *metrics.Store
	ledger  *alerts.Store
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]*list.Element // host -> *model element
	order *list.List               // front = most recently used
}

// NewDetector creates an anomaly detector.
func NewDetector(samples *metrics.Store, ledger *alerts.Store, cfg Config, logger *zap.Logger) *Detector {
	return &Detector{
		samples: samples,
		ledger:  ledger,
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		cache:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Detect scores one sample. Returns the raised alert if the sample is an
// outlier, nil otherwise. A host with no usable model (cold start, not
// enough history) yields no verdict and no error. Anomaly alerts are not
// deduplicated: consecutive anomalous samples each raise their own alert.
func (d *Detector) Detect(ctx context.Context, sample *metrics.Sample) (*alerts.Alert, error) {
	m, err := d.readyModel(ctx, sample.Host)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, nil
	}

	fv, ok := featureVector(sample)
	if !ok {
		d.logger.Debug("sample missing features, skipping anomaly scoring",
			zap.String("host", sample.Host))
		return nil, nil
	}

	score := m.forest.Score(fv)
	if score >= m.forest.Offset() {
		return nil, nil
	}

	alert := &alerts.Alert{
		Timestamp:  sample.Timestamp,
		Host:       sample.Host,
		MetricType: alerts.MetricMLAnomaly,
		Severity:   alerts.SeverityWarning,
		Message: fmt.Sprintf(
			"ML anomaly detected on %s: cpu=%.1f%%, mem=%.1f%%, disk=%.1f%% (score: %.3f)",
			sample.Host, fv[0], fv[1], fv[2], score),
		Status: alerts.StatusPending,
	}
	if _, err := d.ledger.Insert(ctx, alert); err != nil {
		return nil, fmt.Errorf("record anomaly alert: %w", err)
	}

	d.logger.Info("anomaly detected",
		zap.String("host", sample.Host),
		zap.Float64("score", score),
	)
	return alert, nil
}

// readyModel returns a model fresh enough to score with, retraining first
// when the cached one is missing or older than the retrain interval. When a
// due retrain cannot produce a model (not enough history), nil is returned
// even if a stale model exists: a model past its retrain age is never used.
func (d *Detector) readyModel(ctx context.Context, host string) (*model, error) {
	now := d.now()

	m := d.lookup(host)
	if m != nil && now.Sub(m.trainedAt) < d.cfg.RetrainInterval {
		return m, nil
	}

	trained, err := d.train(ctx, host, now)
	if err != nil {
		return nil, err
	}
	if trained == nil {
		return nil, nil
	}
	d.insert(trained)
	return trained, nil
}

// train builds a fresh forest from the host's trailing window. Returns
// nil, nil when there are fewer qualifying rows than the training floor.
func (d *Detector) train(ctx context.Context, host string, now time.Time) (*model, error) {
	window, err := d.samples.ListWindow(ctx, host, now.Add(-d.cfg.Window))
	if err != nil {
		return nil, fmt.Errorf("load training window: %w", err)
	}

	var data [][]float64
	for i := range window {
		if fv, ok := featureVector(&window[i]); ok {
			data = append(data, fv)
		}
	}
	if len(data) < d.cfg.MinSamples {
		d.logger.Debug("not enough history to train anomaly model",
			zap.String("host", host),
			zap.Int("have", len(data)),
			zap.Int("need", d.cfg.MinSamples),
		)
		return nil, nil
	}

	forest, err := Fit(data, FitConfig{
		Trees:         d.cfg.Trees,
		Subsample:     d.cfg.Subsample,
		Contamination: d.cfg.Contamination,
		Seed:          d.cfg.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("train anomaly model for %s: %w", host, err)
	}

	d.logger.Info("trained anomaly model",
		zap.String("host", host),
		zap.Int("samples", len(data)),
	)
	return &model{host: host, forest: forest, trainedAt: now}, nil
}

// lookup returns the cached model for host, promoting it to most recently
// used. Returns nil on a cache miss.
func (d *Detector) lookup(host string) *model {
	d.mu.Lock()
	defer d.mu.Unlock()

	el, ok := d.cache[host]
	if !ok {
		return nil
	}
	d.order.MoveToFront(el)
	return el.Value.(*model)
}

// insert stores a model, evicting the least recently used host at capacity.
func (d *Detector) insert(m *model) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.cache[m.host]; ok {
		el.Value = m
		d.order.MoveToFront(el)
		return
	}

	if d.order.Len() >= d.cfg.CacheSize {
		oldest := d.order.Back()
		if oldest != nil {
			evicted := oldest.Value.(*model)
			d.order.Remove(oldest)
			delete(d.cache, evicted.host)
			d.logger.Debug("evicted anomaly model", zap.String("host", evicted.host))
		}
	}
	d.cache[m.host] = d.order.PushFront(m)
}

// featureVector extracts [cpu, mem, disk] from a sample. A sample missing
// any of the three is excluded from both training and scoring.
func featureVector(s *metrics.Sample) ([]float64, bool) {
	if s.CPUPercent == nil || s.MemoryPercent == nil || s.DiskPercent == nil {
		return nil, false
	}
	return []float64{*s.CPUPercent, *s.MemoryPercent, *s.DiskPercent}, true
}
