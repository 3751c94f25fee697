// Package reaper periodically reconciles running jobs against their
// heartbeat, failing any whose worker has gone silent. Grounded on
// original_source/training/cleanup_orphaned_jobs.py's shape —
// "fetch all running jobs, check liveness, fail the orphans" — but
// trading that script's external RQ/Redis liveness check for the
// heartbeat column internal/jobstore.Store.Heartbeat already
// maintains, since this system has no separate job queue broker to
// cross-reference.
package reaper

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/atlas-desktop/paramtrader/internal/telemetry"
	"github.com/atlas-desktop/paramtrader/pkg/domain"
	"go.uber.org/zap"
)

// Store is the Job Store surface the reaper needs.
type Store interface {
	ListByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]domain.TrainingJob, error)
	Fail(ctx context.Context, id int64, message string) error
	AppendLog(ctx context.Context, jobID string, event domain.TrainingLogEvent, message string, progress float64)
}

// DefaultInterval is how often the reaper sweeps running jobs.
const DefaultInterval = 30 * time.Second

// DefaultStaleFactor is the recommended multiple of the heartbeat
// interval past which a job is declared orphaned.
const DefaultStaleFactor = 3

// Reaper periodically fails running jobs whose heartbeat has gone
// stale.
type Reaper struct {
	store             Store
	logger            *zap.Logger
	interval          time.Duration
	staleThreshold    time.Duration
	parseID           func(string) (int64, error)
	metrics           *telemetry.Metrics
}

// WithMetrics attaches a telemetry.Metrics collector set; nil leaves
// metrics reporting a no-op.
func (r *Reaper) WithMetrics(m *telemetry.Metrics) *Reaper {
	r.metrics = m
	return r
}

// New constructs a Reaper. staleThreshold should be
// DefaultStaleFactor times the worker's heartbeat interval, per
// spec.md §4.9's recommendation.
func New(store Store, logger *zap.Logger, interval, staleThreshold time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reaper{store: store, logger: logger, interval: interval, staleThreshold: staleThreshold, parseID: parseJobID}
}

// Run blocks, sweeping on every tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(ctx)
		}
	}
}

// sweepOnce fails every running job whose heartbeat is older than
// staleThreshold. Returns the number of jobs reaped, mainly for tests.
func (r *Reaper) sweepOnce(ctx context.Context) int {
	running, err := r.store.ListByStatus(ctx, domain.JobRunning)
	if err != nil {
		r.logger.Warn("reaper: list running jobs failed", zap.Error(err))
		return 0
	}

	reaped := 0
	now := time.Now()
	for _, job := range running {
		if job.HeartbeatAt == nil {
			continue
		}
		if now.Sub(*job.HeartbeatAt) < r.staleThreshold {
			continue
		}
		id, err := r.parseID(job.ID)
		if err != nil {
			r.logger.Error("reaper: malformed job id, skipping", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		message := fmt.Sprintf("orphaned: no heartbeat for %s (last seen %s)", r.staleThreshold, job.HeartbeatAt.Format(time.RFC3339))
		r.store.AppendLog(ctx, job.ID, domain.LogEventOrphaned, message, 1.0)
		if err := r.store.Fail(ctx, id, message); err != nil {
			r.logger.Error("reaper: failed to mark job orphaned", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		r.logger.Warn("reaper: reaped orphaned job", zap.String("job_id", job.ID))
		r.metrics.IncOrphaned()
		reaped++
	}
	return reaped
}

func parseJobID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("reaper: invalid job id %q: %w", s, err)
	}
	return id, nil
}
