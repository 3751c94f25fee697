package progress

import (
	"sync"

	"go.uber.org/zap"
)

// Hub is a job-keyed pub/sub, generalizing internal/api/websocket.go's
// Hub from a global connection registry to a per-job subscriber set.
// Each subscriber has a buffered channel of size 1; a publish that
// finds the channel full drains the stale event and replaces it with
// the new one, so a slow consumer only ever sees the latest state —
// spec.md §4.6's "coalesce to latest" backpressure policy. If a job
// has no subscribers, the publish is simply dropped; the job row and
// logs remain the source of truth.
type Hub struct {
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{logger: logger, subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers a new listener for jobID and returns the channel
// to read from plus an unsubscribe func the caller must defer.
func (h *Hub) Subscribe(jobID string) (<-chan Event, func()) {
	ch := make(chan Event, 1)
	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[chan Event]struct{})
	}
	h.subs[jobID][ch] = struct{}{}
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		delete(h.subs[jobID], ch)
		if len(h.subs[jobID]) == 0 {
			delete(h.subs, jobID)
		}
		h.mu.Unlock()
		close(ch)
	}
	return ch, unsubscribe
}

// Publish fans ev out to every current subscriber of ev.JobID,
// coalescing to the latest event when a subscriber's buffer is full.
func (h *Hub) Publish(jobID string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[jobID] {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
				if h.logger != nil {
					h.logger.Debug("progress event dropped under backpressure", zap.String("job_id", jobID))
				}
			}
		}
	}
}
