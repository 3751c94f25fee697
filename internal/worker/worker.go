// Package worker runs one claimed TrainingJob to completion: load
// bars, resolve the strategy and search driver, loop
// Suggester.Next/Evaluate/Observe until the iteration budget is spent
// or the job is cancelled, and report through the Job Store and
// Progress Channel along the way.
//
// Grounded on internal/workers/pool.go's goroutine-pool shape, but
// replacing its generic Task/taskQueue plumbing with
// github.com/sourcegraph/conc's WaitGroup — each worker goroutine
// survives a panicking job by recovering it (via conc's panics.Catcher
// in runWithRecovery) as a failed job rather than taking the whole
// pool down.
package worker

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/atlas-desktop/paramtrader/internal/barstore"
	"github.com/atlas-desktop/paramtrader/internal/evaluator"
	"github.com/atlas-desktop/paramtrader/internal/jobstore"
	"github.com/atlas-desktop/paramtrader/internal/progress"
	"github.com/atlas-desktop/paramtrader/internal/search"
	"github.com/atlas-desktop/paramtrader/internal/strategy"
	"github.com/atlas-desktop/paramtrader/internal/telemetry"
	"github.com/atlas-desktop/paramtrader/pkg/domain"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

// DefaultWallClockTimeout bounds a single job's total run time, per
// spec.md §5's "job-level wall-clock timeout, default 30 minutes".
const DefaultWallClockTimeout = 30 * time.Minute

// DefaultHeartbeatInterval is how often Run touches the job row to
// prove liveness to the Orphan Reaper.
const DefaultHeartbeatInterval = 15 * time.Second

// DefaultPanicThreshold and DefaultPanicWindow bound the "repeated
// panics" exit policy of spec.md §6: this many recovered job panics
// within this window is treated as a systemic failure, not isolated
// bad input, and escalates to process exit code 2.
const (
	DefaultPanicThreshold = 5
	DefaultPanicWindow    = 5 * time.Minute
)

// Store is the Job Store surface the worker needs.
type Store interface {
	Complete(ctx context.Context, id int64, result jobstore.Result) error
	Fail(ctx context.Context, id int64, message string) error
	Heartbeat(ctx context.Context, id int64) error
	IsCancelled(ctx context.Context, id int64) (bool, error)
	UpdateProgress(ctx context.Context, jobID string, progress, reward, loss float64, iteration, total int, stage string) error
	AppendLog(ctx context.Context, jobID string, event domain.TrainingLogEvent, message string, progress float64)
}

// Pool runs claimed jobs concurrently, one goroutine per job, bounded
// by NumWorkers in flight at a time via a buffered semaphore channel.
type Pool struct {
	logger      *zap.Logger
	store       Store
	bars        *barstore.Store
	hub         *progress.Hub
	numWorkers  int
	wallClock   time.Duration
	heartbeat   time.Duration
	sem         chan struct{}
	wg          conc.WaitGroup
	metrics     *telemetry.Metrics

	panicMu        sync.Mutex
	panicTimes     []time.Time
	panicThreshold int
	panicWindow    time.Duration
	onFatalPanics  func()
}

// NewPool constructs a worker Pool. numWorkers bounds concurrent job
// executions; it is independent of any strategy's internal
// computation cost.
func NewPool(logger *zap.Logger, store Store, bars *barstore.Store, hub *progress.Hub, numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &Pool{
		logger:         logger,
		store:          store,
		bars:           bars,
		hub:            hub,
		numWorkers:     numWorkers,
		wallClock:      DefaultWallClockTimeout,
		heartbeat:      DefaultHeartbeatInterval,
		sem:            make(chan struct{}, numWorkers),
		panicThreshold: DefaultPanicThreshold,
		panicWindow:    DefaultPanicWindow,
	}
}

// WithPanicPolicy overrides the default "repeated panics" exit policy
// (spec.md §6: worker process exits 2 "on repeated panics during job
// execution after a bounded retry window"). onFatal is invoked from
// the goroutine that recorded the panic, on every panic for which at
// least threshold panics land within window; it must therefore tolerate
// repeated calls (cmd/worker signals a channel and exits 2 after drain).
func (p *Pool) WithPanicPolicy(threshold int, window time.Duration, onFatal func()) *Pool {
	if threshold > 0 {
		p.panicThreshold = threshold
	}
	if window > 0 {
		p.panicWindow = window
	}
	p.onFatalPanics = onFatal
	return p
}

// WithMetrics attaches a telemetry.Metrics collector set; nil leaves
// metrics reporting a no-op, which is the default and is what every
// package-local test relies on.
func (p *Pool) WithMetrics(m *telemetry.Metrics) *Pool {
	p.metrics = m
	return p
}

// WithTimeouts overrides the default wall-clock and heartbeat
// intervals; used by cmd/worker to wire config-driven values.
func (p *Pool) WithTimeouts(wallClock, heartbeat time.Duration) *Pool {
	if wallClock > 0 {
		p.wallClock = wallClock
	}
	if heartbeat > 0 {
		p.heartbeat = heartbeat
	}
	return p
}

// Submit runs job asynchronously, blocking only until a worker slot is
// free. Intended as the handler passed to internal/queue.NewPoller.
func (p *Pool) Submit(ctx context.Context, job domain.TrainingJob) {
	p.sem <- struct{}{}
	p.wg.Go(func() {
		defer func() { <-p.sem }()
		p.runWithRecovery(ctx, job)
	})
}

// Wait blocks until every in-flight job finishes. Used during
// graceful shutdown.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) runWithRecovery(ctx context.Context, job domain.TrainingJob) {
	var pc panics.Catcher
	pc.Try(func() { p.run(ctx, job) })
	if recovered := pc.Recovered(); recovered != nil {
		p.logger.Error("worker: recovered panic running job",
			zap.String("job_id", job.ID), zap.Any("panic", recovered.Value))
		p.fail(ctx, mustParseID(job.ID), job, fmt.Sprintf("internal error: %v", recovered.Value))
		p.recordPanic()
	}
}

func (p *Pool) run(parent context.Context, job domain.TrainingJob) {
	ctx, cancel := context.WithTimeout(parent, p.wallClock)
	defer cancel()

	id := mustParseID(job.ID)
	logger := p.logger.With(zap.String("job_id", job.ID), zap.String("strategy", string(job.Strategy)))

	strat, ok := strategy.Get(job.Strategy)
	if !ok {
		p.fail(ctx, id, job, fmt.Sprintf("unknown strategy %q", job.Strategy))
		return
	}

	series, err := p.bars.Load(ctx, job.Symbol, job.Exchange, job.Timeframe, job.LookbackBars, strat.MinBarsRequired())
	if err != nil {
		p.fail(ctx, id, job, fmt.Sprintf("bar load failed: %v", err))
		return
	}

	space := strat.Schema()
	var seed *int64
	if job.Seed != 0 {
		s := job.Seed
		seed = &s
	}
	suggester, err := newSuggester(job.Optimizer, space, job.NIterations, seed)
	if err != nil {
		p.fail(ctx, id, job, err.Error())
		return
	}

	channel := progress.NewChannel(job.ID, p.store, p.store, publisherOrNil(p.hub), progress.DefaultThrottle)
	friction := evaluator.DefaultFrictionModel()
	objective := evaluator.DefaultObjective(friction.TargetTrades)
	total := suggester.TotalIterations()

	stopHeartbeat := p.startHeartbeat(ctx, id)
	defer stopHeartbeat()

	p.metrics.IncRunningJobs()
	defer p.metrics.DecRunningJobs()

	var best domain.ParameterVector
	bestScore := negInf

	for iteration := 0; ; iteration++ {
		select {
		case <-ctx.Done():
			p.fail(ctx, id, job, "timeout")
			return
		default:
		}

		cancelled, err := p.store.IsCancelled(ctx, id)
		if err != nil {
			logger.Warn("worker: cancellation check failed, continuing", zap.Error(err))
		} else if cancelled {
			channel.ReportTerminal(ctx, domain.JobCancelled, "")
			p.metrics.IncTerminal(string(domain.JobCancelled))
			return
		}

		params, ok := suggester.Next()
		if !ok {
			break
		}
		evalStart := time.Now()
		result := evaluator.Evaluate(series, generateSignalsOrNil(strat, series, params), friction, strat.MinTrades(), objective)
		p.metrics.ObserveCandidateLatency(time.Since(evalStart).Seconds())
		suggester.Observe(params, result.ObjectiveScore)

		if result.ObjectiveScore > bestScore {
			bestScore = result.ObjectiveScore
			best = params.Clone()
		}
		channel.Report(ctx, iteration+1, total, bestScore, best, string(job.Optimizer))
	}

	// n_iterations = 0 (or every candidate starved) leaves best nil: per
	// spec.md §8's boundary law this still completes, with no result and
	// objective -Inf, not a job failure.
	var finalResult evaluator.Result
	if best != nil {
		finalResult = evaluator.Evaluate(series, generateSignalsOrNil(strat, series, best), friction, strat.MinTrades(), objective)
	} else {
		finalResult.ObjectiveScore = negInf
	}
	channel.ReportTerminal(ctx, domain.JobCompleted, "")
	if err := p.store.Complete(ctx, id, jobstore.Result{Params: best, Metrics: finalResult.Metrics}); err != nil {
		logger.Error("worker: failed to persist completion", zap.Error(err))
	}
	p.metrics.IncTerminal(string(domain.JobCompleted))
}

// recordPanic appends now to the panic timeline, drops entries older
// than panicWindow, and fires onFatalPanics once the threshold is met
// within the window.
func (p *Pool) recordPanic() {
	if p.onFatalPanics == nil {
		return
	}
	now := time.Now()
	p.panicMu.Lock()
	p.panicTimes = append(p.panicTimes, now)
	cutoff := now.Add(-p.panicWindow)
	kept := p.panicTimes[:0]
	for _, t := range p.panicTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	p.panicTimes = kept
	breached := len(p.panicTimes) >= p.panicThreshold
	p.panicMu.Unlock()

	if breached {
		p.onFatalPanics()
	}
}

func generateSignalsOrNil(strat strategy.Strategy, series domain.BarSeries, params domain.ParameterVector) []strategy.Signal {
	signals, err := strat.GenerateSignals(series, params, nil)
	if err != nil {
		return make([]strategy.Signal, len(series.Bars))
	}
	return signals
}

// fail is the terminal 'failed' transition. It writes the log row and
// publishes the SSE error event before the store transition itself, the
// same order the 'completed'/'cancelled' paths use via
// progress.Channel.ReportTerminal, so that every job reaching a
// terminal state carries a log row whose stage encodes it (spec.md §8
// "log totality") and so that a live /jobs/{id}/stream subscriber sees
// a terminal event rather than the connection hanging open.
func (p *Pool) fail(ctx context.Context, id int64, job domain.TrainingJob, message string) {
	if id == 0 {
		return
	}
	p.logger.Warn("worker: job failed", zap.String("job_id", job.ID), zap.String("reason", message))
	p.store.AppendLog(ctx, job.ID, domain.LogEventFailed, message, 1.0)
	if pub := publisherOrNil(p.hub); pub != nil {
		pub.Publish(job.ID, progress.Event{Type: progress.EventError, JobID: job.ID, Status: domain.JobFailed, ErrorMessage: message})
	}
	if err := p.store.Fail(ctx, id, message); err != nil {
		p.logger.Error("worker: failed to persist failure", zap.Error(err))
	}
	p.metrics.IncTerminal(string(domain.JobFailed))
}

func (p *Pool) startHeartbeat(ctx context.Context, id int64) func() {
	ticker := time.NewTicker(p.heartbeat)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = p.store.Heartbeat(ctx, id)
			}
		}
	}()
	return func() { close(done) }
}

func newSuggester(optimizer domain.Optimizer, space domain.SearchSpace, nIterations int, seed *int64) (search.Suggester, error) {
	s := int64(0)
	if seed != nil {
		s = *seed
	}
	switch optimizer {
	case domain.OptimizerGrid:
		return search.NewGridSearch(space, nIterations), nil
	case domain.OptimizerRandom:
		return search.NewRandomSearch(space, nIterations, s), nil
	case domain.OptimizerBayesian:
		warmup := nIterations / 4
		if warmup < 1 {
			warmup = 1
		}
		return search.NewBayesianSurrogate(space, nIterations, warmup, s), nil
	default:
		return nil, fmt.Errorf("worker: unknown optimizer %q", optimizer)
	}
}

// publisherOrNil avoids the classic typed-nil-in-interface trap: a nil
// *progress.Hub boxed directly into the Publisher interface would
// compare non-nil and panic on first use.
func publisherOrNil(hub *progress.Hub) progress.Publisher {
	if hub == nil {
		return nil
	}
	return hub
}

func mustParseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

var negInf = math.Inf(-1)
