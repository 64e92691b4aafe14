// Package service exposes suite runs over HTTP. Runs execute in the
// background one at a time; their status is kept in a RunStore.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/signalnine/cloudeval/internal/log"
	"github.com/signalnine/cloudeval/internal/report"
	"github.com/signalnine/cloudeval/internal/store"
)

const (
	ServiceName = "cloud-eval-suite"

	defaultQueueSize = 64
)

var (
	// ErrQueueFull is reported when too many runs are waiting.
	ErrQueueFull = errors.New("evaluation queue is full")
	ErrClosed    = errors.New("service is shutting down")
)

// RunStore persists run records.
type RunStore interface {
	Create(ctx context.Context, run *store.Run) error
	Get(ctx context.Context, id string) (*store.Run, error)
	List(ctx context.Context) ([]store.Run, error)
	MarkRunning(ctx context.Context, id string, at time.Time) error
	MarkCompleted(ctx context.Context, id, reportPath string, at time.Time) error
	MarkFailed(ctx context.Context, id string, cause error, at time.Time) error
}

// SuiteFunc runs the whole suite for agentName, writing reports to reportDir.
// An empty agentName selects the configured default.
type SuiteFunc func(ctx context.Context, reportDir, agentName string) error

type Options struct {
	ReportDir   string
	CORSOrigins []string
	Store       RunStore
	Suite       SuiteFunc
	// Workers bounds concurrent suite runs; 1 when unset.
	Workers   int
	QueueSize int
}

type job struct {
	id        string
	agentName string
}

type Server struct {
	router    *mux.Router
	handler   http.Handler
	store     RunStore
	suite     SuiteFunc
	reportDir string

	pool       *ants.Pool
	mu         sync.Mutex
	closed     bool
	queue      chan job
	dispatched sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
}

func New(opts Options) (*Server, error) {
	if opts.Store == nil || opts.Suite == nil {
		return nil, errors.New("service: store and suite are required")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(p any) {
		log.Errorf("evaluation worker panicked: %v", p)
	}))
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		router:    mux.NewRouter(),
		store:     opts.Store,
		suite:     opts.Suite,
		reportDir: opts.ReportDir,
		pool:      pool,
		queue:     make(chan job, queueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	s.registerRoutes()
	s.handler = otelhttp.NewHandler(c.Handler(s.router), ServiceName)

	s.dispatched.Add(1)
	go s.dispatch()
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/evaluate", s.handleEvaluate).Methods(http.MethodPost)
	s.router.HandleFunc("/api/status/{run_id}", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/runs", s.handleRuns).Methods(http.MethodGet)
	s.router.HandleFunc("/api/reports", s.handleReports).Methods(http.MethodGet)
	s.router.HandleFunc("/api/summary", s.handleSummary).Methods(http.MethodGet)
}

// ListenAndServe serves on addr until ctx is done, then shuts down and
// waits for the running evaluation.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Infof("service listening on %s", addr)

	select {
	case err := <-errc:
		s.Close(0)
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close(time.Minute)
	return err
}

// Close stops accepting runs, cancels the one in progress and waits up to
// timeout for the worker to return.
func (s *Server) Close(timeout time.Duration) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
		s.cancel()
		s.dispatched.Wait()
		if timeout <= 0 {
			s.pool.Release()
			return
		}
		if err := s.pool.ReleaseTimeout(timeout); err != nil {
			log.Warnf("worker pool did not drain: %v", err)
		}
	})
}

func (s *Server) dispatch() {
	defer s.dispatched.Done()
	for j := range s.queue {
		if err := s.pool.Submit(func() { s.execute(j) }); err != nil {
			log.Errorf("run %s could not be scheduled: %v", j.id, err)
			s.store.MarkFailed(context.Background(), j.id, err, time.Now().UTC())
		}
	}
}

func (s *Server) execute(j job) {
	ctx := context.Background()
	if err := s.store.MarkRunning(ctx, j.id, time.Now().UTC()); err != nil {
		log.Errorf("run %s: %v", j.id, err)
	}
	reportDir := filepath.Join(s.reportDir, j.id)
	err := s.suite(s.ctx, reportDir, j.agentName)
	if err != nil {
		log.Errorf("evaluation %s failed: %v", j.id, err)
		err = s.store.MarkFailed(ctx, j.id, err, time.Now().UTC())
	} else {
		log.Infof("evaluation %s completed", j.id)
		err = s.store.MarkCompleted(ctx, j.id, reportDir, time.Now().UTC())
	}
	if err != nil {
		log.Errorf("run %s: recording outcome: %v", j.id, err)
	}
}

type evaluateRequest struct {
	AgentName string `json:"agent_name"`
}

type evaluateResponse struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": ServiceName})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	run := &store.Run{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Status:    store.StatusQueued,
		AgentName: req.AgentName,
	}
	if err := s.store.Create(r.Context(), run); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.enqueue(job{id: run.ID, agentName: req.AgentName}); err != nil {
		s.store.MarkFailed(r.Context(), run.ID, err, time.Now().UTC())
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	log.Infof("queued evaluation run %s", run.ID)
	writeJSON(w, http.StatusOK, evaluateResponse{
		RunID:   run.ID,
		Status:  store.StatusQueued,
		Message: fmt.Sprintf("Evaluation %s queued for execution", run.ID),
	})
}

func (s *Server) enqueue(j job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.queue <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["run_id"]
	run, err := s.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Run %s not found", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	files, err := report.List(s.reportDir)
	if err != nil {
		log.Warnf("failed to list reports: %v", err)
		files = []report.FileInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": files})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := report.Aggregate(s.reportDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
