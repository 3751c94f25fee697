// Package api is the Submission API boundary (spec.md §4.10, §6):
// thin request validation plus enqueue, nothing else. It owns no
// state of its own — every mutation goes through the Job Store, every
// live update is read off the Progress Channel's per-job Hub.
//
// Grounded on internal/api/server.go's mux.Router/CORS/graceful-
// shutdown wiring, narrowed from the teacher's multi-channel
// WebSocket-first design to eight routes (spec.md §6) fronting a
// single job-keyed event source: the teacher's websocket.go Hub is
// generalized (in internal/progress) from a global connection
// registry to a per-job one, read by both the SSE /stream handler
// here and the websocket /ws handler in websocket.go.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/atlas-desktop/paramtrader/internal/barstore"
	"github.com/atlas-desktop/paramtrader/internal/jobstore"
	"github.com/atlas-desktop/paramtrader/internal/progress"
	"github.com/atlas-desktop/paramtrader/internal/strategy"
	"github.com/atlas-desktop/paramtrader/pkg/domain"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Store is the Job Store surface the Submission API needs. Unlike
// internal/queue, internal/worker, and internal/reaper's narrower
// interfaces, this one imports internal/jobstore directly for
// InsertPendingParams and Result, the same way internal/worker already
// does for jobstore.Result — there is exactly one Job Store
// implementation in this system, and duplicating its request/response
// shapes here would only invite the two to drift.
type Store interface {
	InsertPending(ctx context.Context, p jobstore.InsertPendingParams) (int64, error)
	Get(ctx context.Context, id int64) (domain.TrainingJob, error)
	ListByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]domain.TrainingJob, error)
	Cancel(ctx context.Context, id int64) error
	ListLogs(ctx context.Context, jobID int64, limit int) ([]domain.TrainingLog, error)
	AppendLog(ctx context.Context, jobID string, event domain.TrainingLogEvent, message string, progress float64)
}

// BarAvailabilityChecker is the Bar Store surface used to reject a
// submission at 503 before a job row is ever created, per spec.md
// §4.10 ("validates against ... bar availability").
type BarAvailabilityChecker interface {
	Load(ctx context.Context, symbol, exchange string, timeframe domain.Timeframe, lookback, minRequired int) (domain.BarSeries, error)
}

// Server is the HTTP boundary over the six routes spec.md §6 names,
// plus /jobs/{id}/ws and /healthz.
type Server struct {
	logger     *zap.Logger
	store      Store
	bars       BarAvailabilityChecker
	hub        *progress.Hub
	router     *mux.Router
	httpServer *http.Server
}

// NewServer wires the router. addr is used only by Start/Stop; routes
// are registered eagerly so tests can exercise the handler via
// httptest without starting a listener.
func NewServer(logger *zap.Logger, store Store, bars BarAvailabilityChecker, hub *progress.Hub, addr string) *Server {
	s := &Server{logger: logger, store: store, bars: bars, hub: hub, router: mux.NewRouter()}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.corsHandler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // the SSE stream handler manages its own lifetime
	}
	return s
}

// Router exposes the underlying mux.Router for tests.
func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/jobs", s.handleListJobs).Methods("GET")
	s.router.HandleFunc("/jobs", s.handleSubmitJob).Methods("POST")
	s.router.HandleFunc("/jobs/{id}", s.handleDeleteJob).Methods("DELETE")
	s.router.HandleFunc("/jobs/{id}/stream", s.handleStream).Methods("GET")
	s.router.HandleFunc("/jobs/{id}/ws", s.handleWS).Methods("GET")
	s.router.HandleFunc("/jobs/{id}/logs", s.handleListLogs).Methods("GET")
	s.router.HandleFunc("/jobs/{id}/logs", s.handlePostLog).Methods("POST")
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
}

func (s *Server) corsHandler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)
}

// Start runs the HTTP server until Stop is called or it fails.
func (s *Server) Start() error {
	s.logger.Info("api: starting submission API", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server, letting in-flight SSE
// streams drain within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// submitJobRequest is the request body for POST /jobs (spec.md §4.10).
type submitJobRequest struct {
	StrategyID      domain.StrategyID `json:"strategy_id"`
	Symbol          string            `json:"symbol"`
	Exchange        string            `json:"exchange"`
	Timeframe       domain.Timeframe  `json:"timeframe"`
	Regime          string            `json:"regime"`
	Optimizer       domain.Optimizer  `json:"optimizer"`
	LookbackCandles int               `json:"lookback_candles"`
	NIterations     int               `json:"n_iterations"`
	Seed            *int64            `json:"seed,omitempty"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	strat, ok := strategy.Get(req.StrategyID)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown strategy_id %q", req.StrategyID))
		return
	}
	if req.Symbol == "" || req.Exchange == "" || req.Timeframe == "" {
		writeError(w, http.StatusBadRequest, "symbol, exchange, and timeframe are required")
		return
	}
	switch req.Optimizer {
	case domain.OptimizerGrid, domain.OptimizerRandom, domain.OptimizerBayesian:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown optimizer %q", req.Optimizer))
		return
	}
	if req.LookbackCandles < strat.MinBarsRequired() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf(
			"lookback_candles %d below strategy minimum %d", req.LookbackCandles, strat.MinBarsRequired()))
		return
	}
	if req.NIterations < 0 {
		writeError(w, http.StatusBadRequest, "n_iterations must be non-negative")
		return
	}

	if s.bars != nil {
		if _, err := s.bars.Load(r.Context(), req.Symbol, req.Exchange, req.Timeframe, req.LookbackCandles, strat.MinBarsRequired()); err != nil {
			var dataErr *barstore.DataError
			if errors.As(err, &dataErr) || errors.Is(err, barstore.ErrDataUnavailable) {
				writeError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
			writeError(w, http.StatusServiceUnavailable, "bar data unavailable")
			return
		}
	}

	id, err := s.store.InsertPending(r.Context(), jobstore.InsertPendingParams{
		StrategyID:      req.StrategyID,
		Symbol:          req.Symbol,
		Exchange:        req.Exchange,
		Timeframe:       req.Timeframe,
		Regime:          req.Regime,
		Optimizer:       req.Optimizer,
		LookbackCandles: req.LookbackCandles,
		NIterations:     req.NIterations,
		Seed:            req.Seed,
	})
	if err != nil {
		s.logger.Error("api: insert_pending failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	jobID := strconv.FormatInt(id, 10)
	s.store.AppendLog(r.Context(), jobID, domain.LogEventSubmitted, "job submitted", 0)
	writeJSON(w, http.StatusOK, map[string]any{"id": id})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	statusParam := r.URL.Query().Get("status")
	var statuses []domain.JobStatus
	if statusParam == "" {
		statuses = []domain.JobStatus{domain.JobPending, domain.JobRunning}
	} else {
		for _, tok := range strings.Split(statusParam, ",") {
			tok = strings.TrimSpace(tok)
			if tok != "" {
				statuses = append(statuses, domain.JobStatus(tok))
			}
		}
	}

	jobs, err := s.store.ListByStatus(r.Context(), statuses...)
	if err != nil {
		s.logger.Error("api: list_by_status failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDFromVars(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.Cancel(r.Context(), id); err != nil {
		s.logger.Error("api: cancel failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleStream implements GET /jobs/{id}/stream: server-sent events
// carrying "progress", "complete", and "error" payloads (spec.md §6),
// closing the connection as soon as a terminal event is published or
// the job is already terminal at subscribe time.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed job id")
		return
	}

	job, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if job.Status.Terminal() {
		writeSSEEvent(w, "complete", map[string]any{"job_id": idStr, "status": job.Status})
		flusher.Flush()
		return
	}

	events, unsubscribe := s.hub.Subscribe(idStr)
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeSSEEvent(w, string(ev.Type), ev)
			flusher.Flush()
			if ev.Type == progress.EventComplete || ev.Type == progress.EventError {
				return
			}
		}
	}
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDFromVars(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	logs, err := s.store.ListLogs(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("api: list_logs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// postLogRequest is the body for POST /jobs/{id}/logs, used by
// workers inside the same deployment (spec.md §6).
type postLogRequest struct {
	Event    domain.TrainingLogEvent `json:"event"`
	Message  string                  `json:"message"`
	Progress float64                 `json:"progress"`
}

func (s *Server) handlePostLog(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	if _, err := strconv.ParseInt(idStr, 10, 64); err != nil {
		writeError(w, http.StatusBadRequest, "malformed job id")
		return
	}
	var req postLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	// append_log never fails the caller (spec.md §4.7); it always
	// reports success back to the poster.
	s.store.AppendLog(r.Context(), idStr, req.Event, req.Message, req.Progress)
	writeJSON(w, http.StatusOK, map[string]string{"id": idStr})
}

func jobIDFromVars(r *http.Request) (int64, error) {
	return parseJobID(mux.Vars(r)["id"])
}

func parseJobID(idStr string) (int64, error) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed job id")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeSSEEvent(w http.ResponseWriter, event string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", body)
}
