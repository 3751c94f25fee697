// Package api_test provides tests for the Submission API server.
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/atlas-desktop/paramtrader/internal/api"
	"github.com/atlas-desktop/paramtrader/internal/barstore"
	"github.com/atlas-desktop/paramtrader/internal/jobstore"
	"github.com/atlas-desktop/paramtrader/internal/progress"
	"github.com/atlas-desktop/paramtrader/pkg/domain"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// fakeStore is an in-memory stand-in for *jobstore.Store, following
// the same minimal-fake pattern internal/queue/queue_test.go and
// internal/reaper/reaper_test.go use against their own narrow Store
// interfaces.
type fakeStore struct {
	mu      sync.Mutex
	nextID  int64
	jobs    map[int64]domain.TrainingJob
	logs    map[int64][]domain.TrainingLog
	insertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[int64]domain.TrainingJob), logs: make(map[int64][]domain.TrainingLog)}
}

func (f *fakeStore) InsertPending(ctx context.Context, p jobstore.InsertPendingParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.nextID++
	id := f.nextID
	f.jobs[id] = domain.TrainingJob{
		ID:           fmt.Sprintf("%d", id),
		Strategy:     p.StrategyID,
		Exchange:     p.Exchange,
		Symbol:       p.Symbol,
		Timeframe:    p.Timeframe,
		LookbackBars: p.LookbackCandles,
		Optimizer:    p.Optimizer,
		NIterations:  p.NIterations,
		Status:       domain.JobPending,
		SubmittedAt:  time.Now(),
	}
	return id, nil
}

func (f *fakeStore) Get(ctx context.Context, id int64) (domain.TrainingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return domain.TrainingJob{}, jobstore.ErrNotFound
	}
	return job, nil
}

func (f *fakeStore) ListByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]domain.TrainingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[domain.JobStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []domain.TrainingJob
	for _, j := range f.jobs {
		if want[j.Status] {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeStore) Cancel(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return jobstore.ErrNotFound
	}
	job.Status = domain.JobCancelled
	f.jobs[id] = job
	return nil
}

func (f *fakeStore) ListLogs(ctx context.Context, jobID int64, limit int) ([]domain.TrainingLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	logs := f.logs[jobID]
	if len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

func (f *fakeStore) AppendLog(ctx context.Context, jobID string, event domain.TrainingLogEvent, message string, progress float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var id int64
	fmt.Sscanf(jobID, "%d", &id)
	f.logs[id] = append(f.logs[id], domain.TrainingLog{JobID: jobID, Event: event, Message: message})
}

type fakeBars struct{ unavailable bool }

func (b *fakeBars) Load(ctx context.Context, symbol, exchange string, timeframe domain.Timeframe, lookback, minRequired int) (domain.BarSeries, error) {
	if b.unavailable {
		return domain.BarSeries{}, &barstore.DataError{Symbol: symbol, Exchange: exchange, Timeframe: timeframe, Available: 0, Required: minRequired}
	}
	return domain.BarSeries{Symbol: symbol, Exchange: exchange, Timeframe: timeframe}, nil
}

func setupTestServer(t *testing.T) (*fakeStore, *httptest.Server) {
	t.Helper()
	store := newFakeStore()
	hub := progress.NewHub(zap.NewNop())
	server := api.NewServer(zap.NewNop(), store, &fakeBars{}, hub, "")
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return store, ts
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestSubmitJobHappyPath(t *testing.T) {
	_, ts := setupTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"strategy_id":      "liquidity_sweep",
		"symbol":            "BTC-USD",
		"exchange":          "coinbase",
		"timeframe":         "1h",
		"optimizer":         "grid",
		"lookback_candles":  2000,
		"n_iterations":      10,
	})

	resp, err := http.Post(ts.URL+"/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("submit request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := result["id"]; !ok {
		t.Fatal("response missing id")
	}
}

func TestSubmitJobRejectsUnknownStrategy(t *testing.T) {
	_, ts := setupTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"strategy_id":      "not_a_real_strategy",
		"symbol":            "BTC-USD",
		"exchange":          "coinbase",
		"timeframe":         "1h",
		"optimizer":         "grid",
		"lookback_candles":  2000,
	})

	resp, err := http.Post(ts.URL+"/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("submit request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSubmitJobRejectsInsufficientBars(t *testing.T) {
	store := newFakeStore()
	hub := progress.NewHub(zap.NewNop())
	server := api.NewServer(zap.NewNop(), store, &fakeBars{unavailable: true}, hub, "")
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	body, _ := json.Marshal(map[string]any{
		"strategy_id":      "liquidity_sweep",
		"symbol":            "BTC-USD",
		"exchange":          "coinbase",
		"timeframe":         "1h",
		"optimizer":         "grid",
		"lookback_candles":  2000,
	})

	resp, err := http.Post(ts.URL+"/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("submit request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestListAndCancelJob(t *testing.T) {
	store, ts := setupTestServer(t)
	id, _ := store.InsertPending(context.Background(), jobstore.InsertPendingParams{
		StrategyID: domain.StrategyLiquiditySweep, Symbol: "BTC-USD", Exchange: "coinbase",
		Timeframe: domain.Timeframe1h, Optimizer: domain.OptimizerGrid, LookbackCandles: 2000,
	})

	resp, err := http.Get(ts.URL + "/jobs")
	if err != nil {
		t.Fatalf("list request failed: %v", err)
	}
	defer resp.Body.Close()
	var listResult map[string]any
	json.NewDecoder(resp.Body).Decode(&listResult)
	jobs, _ := listResult["jobs"].([]any)
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}

	req, _ := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/jobs/%d", ts.URL, id), nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("cancel request failed: %v", err)
	}
	defer delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", delResp.StatusCode)
	}

	job, _ := store.Get(context.Background(), id)
	if job.Status != domain.JobCancelled {
		t.Fatalf("expected cancelled status, got %s", job.Status)
	}
}

func TestStreamClosesImmediatelyForTerminalJob(t *testing.T) {
	store, ts := setupTestServer(t)
	id, _ := store.InsertPending(context.Background(), jobstore.InsertPendingParams{
		StrategyID: domain.StrategyLiquiditySweep, Symbol: "BTC-USD", Exchange: "coinbase",
		Timeframe: domain.Timeframe1h, Optimizer: domain.OptimizerGrid, LookbackCandles: 2000,
	})
	store.mu.Lock()
	job := store.jobs[id]
	job.Status = domain.JobCompleted
	store.jobs[id] = job
	store.mu.Unlock()

	resp, err := http.Get(fmt.Sprintf("%s/jobs/%d/stream", ts.URL, id))
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", ct)
	}
}

func TestWebSocketUpgradesForPendingJob(t *testing.T) {
	store, ts := setupTestServer(t)
	id, _ := store.InsertPending(context.Background(), jobstore.InsertPendingParams{
		StrategyID: domain.StrategyLiquiditySweep, Symbol: "BTC-USD", Exchange: "coinbase",
		Timeframe: domain.Timeframe1h, Optimizer: domain.OptimizerGrid, LookbackCandles: 2000,
	})

	wsURL := "ws" + ts.URL[len("http"):] + fmt.Sprintf("/jobs/%d/ws", id)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	defer conn.Close()

	// With nothing publishing to the job's hub channel, the read
	// should simply time out rather than error on the handshake
	// itself; this test only asserts the upgrade succeeds and the
	// connection stays open against a non-terminal job.
	conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Log("received unexpected early message")
	}
}
