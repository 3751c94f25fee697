package progress

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/paramtrader/pkg/domain"
)

type recordingMutator struct {
	calls []float64
}

func (m *recordingMutator) UpdateProgress(_ context.Context, _ string, progress, reward, _ float64, _, _ int, _ string) error {
	m.calls = append(m.calls, reward)
	return nil
}

type recordingLogs struct{ n int }

func (l *recordingLogs) AppendLog(context.Context, string, domain.TrainingLogEvent, string, float64) {
	l.n++
}

func TestReportWritesOnFirstCallAndImprovement(t *testing.T) {
	mut := &recordingMutator{}
	logs := &recordingLogs{}
	ch := NewChannel("job-1", mut, logs, nil, time.Hour)

	ch.Report(context.Background(), 1, 10, 0.5, nil, "grid")
	ch.Report(context.Background(), 2, 10, 0.3, nil, "grid") // not an improvement, throttled
	ch.Report(context.Background(), 3, 10, 0.9, nil, "grid") // improvement, always written

	if len(mut.calls) != 2 {
		t.Fatalf("expected 2 writes (first call + improvement), got %d: %v", len(mut.calls), mut.calls)
	}
	if mut.calls[1] != 0.9 {
		t.Fatalf("expected best score to track the improvement, got %v", mut.calls[1])
	}
}

func TestHubCoalescesToLatest(t *testing.T) {
	hub := NewHub(nil)
	ch, unsubscribe := hub.Subscribe("job-1")
	defer unsubscribe()

	hub.Publish("job-1", Event{Iteration: 1})
	hub.Publish("job-1", Event{Iteration: 2})
	hub.Publish("job-1", Event{Iteration: 3})

	ev := <-ch
	if ev.Iteration != 3 {
		t.Fatalf("expected coalesced event to carry the latest iteration, got %d", ev.Iteration)
	}
	select {
	case <-ch:
		t.Fatal("expected no further buffered events")
	default:
	}
}

func TestHubDropsWithoutSubscribers(t *testing.T) {
	hub := NewHub(nil)
	hub.Publish("no-subscribers", Event{Iteration: 1}) // must not panic or block
}
