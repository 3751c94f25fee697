// Package queue polls the Job Store for pending work in FIFO order
// and hands claimed jobs to a worker pool. The durable ordering lives
// in Postgres (training_jobs.submitted_at, id); this package only
// owns the poll loop and the claim race, grounded on
// internal/workers/pool.go's producer/consumer shape generalized from
// an in-memory channel to a polled database table.
package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/atlas-desktop/paramtrader/internal/telemetry"
	"github.com/atlas-desktop/paramtrader/pkg/domain"
	"go.uber.org/zap"
)

// Store is the subset of the Job Store the queue needs, kept as an
// interface so this package never imports internal/jobstore directly.
type Store interface {
	ListByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]domain.TrainingJob, error)
	ClaimForRun(ctx context.Context, id int64, workerHandle string) error
}

// Poller periodically lists pending jobs and dispatches newly claimed
// ones to a handler. One Poller runs per worker process.
type Poller struct {
	store        Store
	logger       *zap.Logger
	interval     time.Duration
	workerHandle string
	handle       func(context.Context, domain.TrainingJob)
	metrics      *telemetry.Metrics
}

// WithMetrics attaches a telemetry.Metrics collector set; nil leaves
// metrics reporting a no-op.
func (p *Poller) WithMetrics(m *telemetry.Metrics) *Poller {
	p.metrics = m
	return p
}

// NewPoller constructs a Poller. handle is invoked once per
// successfully claimed job; it is expected to return quickly (e.g. by
// handing the job to a worker pool's Submit) since the poll loop is
// single-threaded.
func NewPoller(store Store, logger *zap.Logger, interval time.Duration, workerHandle string, handle func(context.Context, domain.TrainingJob)) *Poller {
	return &Poller{store: store, logger: logger, interval: interval, workerHandle: workerHandle, handle: handle}
}

// Run blocks, polling until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	jobs, err := p.store.ListByStatus(ctx, domain.JobPending)
	if err != nil {
		p.logger.Warn("queue: list pending failed", zap.Error(err))
		return
	}
	p.metrics.SetQueueDepth(len(jobs))

	for _, job := range jobs {
		id, err := strconv.ParseInt(job.ID, 10, 64)
		if err != nil {
			p.logger.Error("queue: malformed job id, skipping", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		if err := p.store.ClaimForRun(ctx, id, p.workerHandle); err != nil {
			// Another worker won the race; not an error condition.
			continue
		}
		job.Status = domain.JobRunning
		job.WorkerHandle = p.workerHandle
		p.handle(ctx, job)
	}
}
