package jobstore

import (
	"context"
	"os"
	"testing"

	"github.com/atlas-desktop/paramtrader/pkg/domain"
)

// openTestStore connects to a scratch database and applies the init
// migration. Skipped unless JOBSTORE_TEST_DATABASE_URL is set —
// exercising the atomic WHERE-status transitions needs a real
// Postgres instance, not a mock (pgx has no DB-DOG-style mock driver
// in the dependency set).
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("JOBSTORE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("JOBSTORE_TEST_DATABASE_URL not set, skipping jobstore integration test")
	}
	store, err := Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(store.Close)

	schema, err := os.ReadFile("migrations/0001_init.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	if err := store.Migrate(context.Background(), string(schema)); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func testParams() InsertPendingParams {
	return InsertPendingParams{
		StrategyID:      domain.StrategyLiquiditySweep,
		Symbol:          "BTC-USD",
		Exchange:        "coinbase",
		Timeframe:       domain.Timeframe1h,
		Optimizer:       domain.OptimizerGrid,
		LookbackCandles: 500,
		NIterations:     10,
	}
}

func TestInsertPendingAndClaimForRun(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := store.InsertPending(ctx, testParams())
	if err != nil {
		t.Fatalf("InsertPending: %v", err)
	}

	job, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != domain.JobPending {
		t.Fatalf("expected pending, got %s", job.Status)
	}

	if err := store.ClaimForRun(ctx, id, "worker-1"); err != nil {
		t.Fatalf("ClaimForRun: %v", err)
	}
	if err := store.ClaimForRun(ctx, id, "worker-2"); err != ErrAlreadyClaimed {
		t.Fatalf("expected ErrAlreadyClaimed on second claim, got %v", err)
	}

	job, err = store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get after claim: %v", err)
	}
	if job.Status != domain.JobRunning || job.WorkerHandle != "worker-1" {
		t.Fatalf("unexpected job state after claim: %+v", job)
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := store.InsertPending(ctx, testParams())
	if err != nil {
		t.Fatalf("InsertPending: %v", err)
	}
	if err := store.ClaimForRun(ctx, id, "worker-1"); err != nil {
		t.Fatalf("ClaimForRun: %v", err)
	}

	result := Result{Params: domain.ParameterVector{"rr": 2.0}, Metrics: domain.Metrics{WinRate: 0.55}}
	if err := store.Complete(ctx, id, result); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := store.Complete(ctx, id, result); err != nil {
		t.Fatalf("second Complete should be a silent no-op, got: %v", err)
	}

	job, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != domain.JobCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}

	if err := store.Fail(ctx, id, "late failure"); err != nil {
		t.Fatalf("Fail after completion should be a silent no-op, got: %v", err)
	}
	job, err = store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != domain.JobCompleted {
		t.Fatalf("a completed job must stay completed, got %s", job.Status)
	}
}

func TestCancelPendingDeletesRow(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := store.InsertPending(ctx, testParams())
	if err != nil {
		t.Fatalf("InsertPending: %v", err)
	}
	if err := store.Cancel(ctx, id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := store.Get(ctx, id); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after cancelling a pending job, got %v", err)
	}
}

func TestAppendLogAssignsMonotonicSequence(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := store.InsertPending(ctx, testParams())
	if err != nil {
		t.Fatalf("InsertPending: %v", err)
	}
	jobID := job(t, store, ctx, id).ID

	store.AppendLog(ctx, jobID, domain.LogEventSubmitted, "submitted", 0)
	store.AppendLog(ctx, jobID, domain.LogEventStarted, "started", 0)

	logs, err := store.ListLogs(ctx, id, 10)
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 log rows, got %d", len(logs))
	}
	if logs[0].Sequence != 1 || logs[1].Sequence != 2 {
		t.Fatalf("expected monotonic sequence 1,2, got %d,%d", logs[0].Sequence, logs[1].Sequence)
	}
}

func job(t *testing.T, store *Store, ctx context.Context, id int64) domain.TrainingJob {
	t.Helper()
	j, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return j
}
