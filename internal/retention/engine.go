// Package retention implements the retention/GC engine: a stateless periodic
// sweep that deletes expired, unpinned month buckets and evicts the assets
// that no surviving ledger row references anymore.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/yueye109/chatvault/internal/assets"
	"github.com/yueye109/chatvault/internal/database"
)

var (
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatvault_retention_sweeps_total",
		Help: "Number of retention sweeps executed",
	})

	bucketsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatvault_retention_buckets_deleted_total",
		Help: "Number of month buckets deleted by retention",
	})

	rowsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatvault_retention_rows_deleted_total",
		Help: "Number of ledger rows deleted by retention",
	})

	assetsDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatvault_retention_assets_deleted_total",
		Help: "Number of unreferenced assets deleted by retention",
	}, []string{"kind"})

	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatvault_retention_sweep_duration_seconds",
		Help:    "Duration of retention sweeps in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})
)

// Result summarizes one sweep.
type Result struct {
	Cutoff         string
	BucketsDeleted int
	RowsDeleted    int64
	AssetsDeleted  int
	BucketErrors   int
	Duration       time.Duration
}

// Engine runs retention sweeps. It keeps no state between cycles: every run
// recomputes the cutoff and eligible buckets from current data, so a missed
// or crashed sweep self-corrects on the next one.
type Engine struct {
	store    database.Store
	assets   *assets.Store
	keepDays int
	logger   *slog.Logger

	now func() time.Time
}

// NewEngine creates a retention engine keeping keepDays of history.
func NewEngine(store database.Store, assetStore *assets.Store, keepDays int, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		assets:   assetStore,
		keepDays: keepDays,
		logger:   logger.With("component", "retention"),
		now:      time.Now,
	}
}

// RunOnce performs one full sweep. Failures in one bucket are logged and do
// not abort processing of the others. Each step acquires storage access
// incrementally so ingestion is never starved for a whole bucket's duration.
func (e *Engine) RunOnce(ctx context.Context) (*Result, error) {
	startTime := e.now()
	sweepRunsTotal.Inc()

	cutoff := startTime.AddDate(0, 0, -e.keepDays).Format(database.MonthFormat)
	res := &Result{Cutoff: cutoff}

	months, err := e.store.ExpiredMonths(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("failed to enumerate expired buckets: %w", err)
	}

	for _, month := range months {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := e.sweepBucket(ctx, month, res); err != nil {
			res.BucketErrors++
			e.logger.ErrorContext(ctx, "Bucket sweep failed, continuing",
				"month", month, "error", err)
		}
	}

	res.Duration = e.now().Sub(startTime)
	sweepDurationSeconds.Observe(res.Duration.Seconds())

	e.logger.InfoContext(ctx, "Retention sweep finished",
		"cutoff", cutoff,
		"buckets_deleted", res.BucketsDeleted,
		"rows_deleted", res.RowsDeleted,
		"assets_deleted", res.AssetsDeleted,
		"bucket_errors", res.BucketErrors,
		"duration", res.Duration)
	return res, nil
}

// sweepBucket deletes one expired bucket: first evict assets that no row
// anywhere in the ledger still references, then remove the bucket's rows.
// Doing assets first keeps the sweep idempotent: a crash in between leaves
// rows whose references protect the remaining assets until the next run.
func (e *Engine) sweepBucket(ctx context.Context, month string, res *Result) error {
	for _, kind := range []database.AssetKind{database.AssetImage, database.AssetVideo} {
		hashes, err := e.store.MonthAssetHashes(ctx, kind, month)
		if err != nil {
			return err
		}
		for _, hash := range hashes {
			deleted, err := e.evictIfUnreferencedElsewhere(ctx, kind, hash, month)
			if err != nil {
				e.logger.WarnContext(ctx, "Asset eviction failed",
					"kind", kind, "hash", hash, "error", err)
				continue
			}
			if deleted {
				res.AssetsDeleted++
				assetsDeletedTotal.WithLabelValues(string(kind)).Inc()
			}
		}
	}

	rows, err := e.store.DeleteMonth(ctx, month)
	if err != nil {
		return err
	}
	res.RowsDeleted += rows
	res.BucketsDeleted++
	rowsDeletedTotal.Add(float64(rows))
	bucketsDeletedTotal.Inc()

	e.logger.InfoContext(ctx, "Expired bucket deleted", "month", month, "rows", rows)
	return nil
}

// evictIfUnreferencedElsewhere deletes an asset only when no ledger row that
// survives this bucket's deletion still references its hash. The check scans
// the entire ledger outside the expiring bucket, pinned or not, recent or
// expired: an asset reused by a pinned or recent message survives even if
// first introduced here, and an asset shared with another still-expiring
// bucket is picked up when that bucket is processed.
func (e *Engine) evictIfUnreferencedElsewhere(ctx context.Context, kind database.AssetKind, hash, month string) (bool, error) {
	surviving, err := e.store.CountAssetReferencesExcludingMonth(ctx, kind, hash, month)
	if err != nil {
		return false, err
	}
	if surviving > 0 {
		return false, nil
	}

	if err := e.assets.Delete(ctx, kind, hash); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			// Row already gone; a previous partial sweep got here first.
			return false, nil
		}
		return false, err
	}
	return true, nil
}
