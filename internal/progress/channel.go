// Package progress fuses the three roles spec.md §4.6 requires to stay
// consistent: throttled job-row mutation, log append on the same throttle, and
// a coalescing event broadcast consumed by the SSE/websocket boundary.
// Grounded on internal/api/websocket.go's hub/broadcast/drop-on-full
// pattern, generalized from a topic-keyed pub/sub to a job-keyed one,
// and on internal/backtester/engine.go's periodic sendProgress
// throttle.
package progress

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/atlas-desktop/paramtrader/pkg/domain"
)

// DefaultThrottle is spec.md §4.6's recommended 500ms write interval.
const DefaultThrottle = 500 * time.Millisecond

// EventType is the closed set of SSE event kinds spec.md §6 names.
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event mirrors the fields mutated on the job row, published for every
// subscriber on the job-keyed stream.
type Event struct {
	Type        EventType
	JobID       string
	Iteration   int
	Total       int
	Progress    float64
	BestScore   float64
	BestParams  domain.ParameterVector
	Stage       string
	Status      domain.JobStatus
	ErrorMessage string
}

// Mutator is the subset of the Job Store's write surface the channel
// needs; kept as an interface so this package never imports
// internal/jobstore (no cyclic dependency between the store and its
// progress fan-in).
type Mutator interface {
	UpdateProgress(ctx context.Context, jobID string, progress, reward, loss float64, iteration, total int, stage string) error
}

// LogAppender is the Job Store's append_log operation; per spec.md
// §4.7 it never fails the caller — implementations swallow their own
// errors. The jobstore implementation does not log them.
type LogAppender interface {
	AppendLog(ctx context.Context, jobID string, event domain.TrainingLogEvent, message string, progress float64)
}

// Publisher fans an Event out to a job-keyed subscriber set. Real
// implementations (see Hub) coalesce under backpressure; the durable
// row and logs are always the source of truth, never the event stream.
type Publisher interface {
	Publish(jobID string, ev Event)
}

// Channel is the per-job fusion of the three roles. One Channel is
// constructed per running job by the worker and discarded at terminal
// state.
type Channel struct {
	jobID     string
	mutator   Mutator
	logs      LogAppender
	publisher Publisher
	throttle  time.Duration

	mu         sync.Mutex
	lastWrite  time.Time
	bestScore  float64
	haveBest   bool
	wroteOnce  bool
}

// NewChannel constructs a Channel for one job. throttle <= 0 uses
// DefaultThrottle.
func NewChannel(jobID string, mutator Mutator, logs LogAppender, publisher Publisher, throttle time.Duration) *Channel {
	if throttle <= 0 {
		throttle = DefaultThrottle
	}
	return &Channel{jobID: jobID, mutator: mutator, logs: logs, publisher: publisher, throttle: throttle, bestScore: math.Inf(-1)}
}

// Report is called by the search driver after each candidate. It
// throttles the durable write and log append, but always writes on the
// first call and on a best-score improvement. The event is published on
// every call.
func (c *Channel) Report(ctx context.Context, iteration, total int, score float64, bestParams domain.ParameterVector, stage string) {
	c.mu.Lock()
	improved := !c.haveBest || score > c.bestScore
	if improved {
		c.bestScore = score
		c.haveBest = true
	}
	due := !c.wroteOnce || improved || time.Since(c.lastWrite) >= c.throttle
	if due {
		c.lastWrite = time.Now()
		c.wroteOnce = true
	}
	bestScore := c.bestScore
	c.mu.Unlock()

	progressFrac := 0.0
	if total > 0 {
		progressFrac = float64(iteration) / float64(total)
	}

	if due && c.mutator != nil {
		_ = c.mutator.UpdateProgress(ctx, c.jobID, progressFrac, bestScore, 0, iteration, total, stage)
	}
	if due && c.logs != nil {
		c.logs.AppendLog(ctx, c.jobID, domain.LogEventProgress, stage, progressFrac)
	}
	if c.publisher != nil {
		c.publisher.Publish(c.jobID, Event{
			Type: EventProgress, JobID: c.jobID, Iteration: iteration, Total: total,
			Progress: progressFrac, BestScore: bestScore, BestParams: bestParams, Stage: stage,
		})
	}
}

// ReportTerminal always appends the terminal log row and publishes the
// terminal event, bypassing the throttle. It does not touch the job row;
// the caller writes the terminal state through the Job Store
// (spec.md §4.6: "a mandatory write on every terminal-state transition").
func (c *Channel) ReportTerminal(ctx context.Context, status domain.JobStatus, errMsg string) {
	logEvent := domain.LogEventCompleted
	switch status {
	case domain.JobFailed:
		logEvent = domain.LogEventFailed
	case domain.JobCancelled:
		logEvent = domain.LogEventCancelled
	}
	if c.logs != nil {
		c.logs.AppendLog(ctx, c.jobID, logEvent, errMsg, 1.0)
	}
	if c.publisher == nil {
		return
	}
	evType := EventComplete
	if status == domain.JobFailed {
		evType = EventError
	}
	c.publisher.Publish(c.jobID, Event{Type: evType, JobID: c.jobID, Status: status, ErrorMessage: errMsg})
}
