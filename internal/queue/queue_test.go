package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/atlas-desktop/paramtrader/pkg/domain"
	"go.uber.org/zap"
)

type fakeStore struct {
	mu      sync.Mutex
	pending []domain.TrainingJob
	claimed map[string]string
}

func (f *fakeStore) ListByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]domain.TrainingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.TrainingJob, len(f.pending))
	copy(out, f.pending)
	return out, nil
}

func (f *fakeStore) ClaimForRun(ctx context.Context, id int64, workerHandle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	idStr := idToString(id)
	for i, j := range f.pending {
		if j.ID == idStr {
			if _, already := f.claimed[idStr]; already {
				return errAlreadyClaimed
			}
			f.claimed[idStr] = workerHandle
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			return nil
		}
	}
	return errAlreadyClaimed
}

var errAlreadyClaimed = &claimError{}

type claimError struct{}

func (*claimError) Error() string { return "already claimed" }

func idToString(id int64) string {
	return string(rune('0' + id))
}

func TestPollerClaimsAndDispatchesOncePerJob(t *testing.T) {
	store := &fakeStore{
		pending: []domain.TrainingJob{{ID: idToString(1), Status: domain.JobPending}},
		claimed: make(map[string]string),
	}

	var mu sync.Mutex
	var dispatched []string
	handle := func(ctx context.Context, job domain.TrainingJob) {
		mu.Lock()
		dispatched = append(dispatched, job.ID)
		mu.Unlock()
	}

	poller := NewPoller(store, zap.NewNop(), 10*time.Millisecond, "worker-1", handle)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	poller.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(dispatched) != 1 {
		t.Fatalf("expected exactly 1 dispatch, got %d: %v", len(dispatched), dispatched)
	}
	if store.claimed[idToString(1)] != "worker-1" {
		t.Fatalf("expected job claimed by worker-1, got %v", store.claimed)
	}
}
