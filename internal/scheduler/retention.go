package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/samijaber1/aegis-perf/internal/metrics"
	"github.com/samijaber1/aegis-perf/internal/slo"
)

// Pruner deletes documents older than a cutoff
type Pruner interface {
	Prune(ctx context.Context, collection string, before time.Time) (int64, error)
}

// Retention periodically prunes old documents from one collection
type Retention struct {
	store      Pruner
	collection string
	maxAge     time.Duration
	interval   time.Duration
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewRetention creates a retention loop keeping maxAge worth of documents
func NewRetention(store Pruner, collection string, maxAge, interval time.Duration, logger *zap.Logger, m *metrics.Metrics) *Retention {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Retention{
		store:      store,
		collection: collection,
		maxAge:     maxAge,
		interval:   interval,
		logger:     logger.Named("retention"),
		metrics:    m,
		now:        time.Now,
	}
}

// PruneOnce deletes documents older than maxAge
func (r *Retention) PruneOnce(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.maxAge)
	n, err := r.store.Prune(ctx, r.collection, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.metrics.PrunedDocuments.WithLabelValues(r.collection).Add(float64(n))
		r.logger.Info("pruned documents",
			zap.String("collection", r.collection),
			zap.Int64("count", n),
			zap.String("max_age", slo.FormatDuration(r.maxAge)),
			zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// Run prunes immediately and then every interval until ctx is done
func (r *Retention) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.PruneOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("prune failed", zap.String("collection", r.collection), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
