// Package jobapi wraps the collection engine with a small job-management
// API: create a run, watch its progress, cancel it. The engine itself has
// no network surface; this wrapper is the only HTTP-facing piece.
package jobapi

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/EslamSad3/cves/collector"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Job is one engine run owned by the API.
type Job struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`

	engine *collector.Engine
	cancel context.CancelFunc
}

type jobView struct {
	Job
	Progress collector.EngineStatus `json:"progress"`
}

// Server holds the in-memory job registry. Jobs are not persisted: the
// engine's own checkpoints carry the durable state.
type Server struct {
	cfg  collector.Config
	mu   sync.Mutex
	jobs map[string]*Job
}

func NewServer(cfg collector.Config) *Server {
	return &Server{
		cfg:  cfg,
		jobs: make(map[string]*Job),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/jobs", s.createJob)
	r.Get("/jobs", s.listJobs)
	r.Get("/jobs/{id}", s.getJob)
	r.Delete("/jobs/{id}", s.cancelJob)

	return r
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Resume bool `json:"resume"`
	}
	if r.ContentLength > 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "invalid json"})
			return
		}
	}

	s.mu.Lock()
	for _, j := range s.jobs {
		if j.Status == StatusRunning {
			s.mu.Unlock()
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, map[string]string{"error": "a collection job is already running"})
			return
		}
	}

	engine, err := collector.NewEngine(s.cfg)
	if err != nil {
		s.mu.Unlock()
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:        uuid.New().String(),
		Status:    StatusRunning,
		CreatedAt: time.Now().UTC(),
		engine:    engine,
		cancel:    cancel,
	}
	s.jobs[job.ID] = job
	v := s.view(job)
	s.mu.Unlock()

	go s.runJob(ctx, job, req.Resume)

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, v)
}

func (s *Server) runJob(ctx context.Context, job *Job, resume bool) {
	err := job.engine.Run(ctx, resume)

	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	job.FinishedAt = &now
	switch {
	case job.Status == StatusCancelled:
		// cancellation already recorded; the engine exported what it had
	case err != nil:
		job.Status = StatusFailed
		job.Error = err.Error()
	default:
		job.Status = StatusCompleted
	}
	slog.Info("job finished", "id", job.ID, "status", job.Status)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	views := make([]jobView, 0, len(s.jobs))
	for _, j := range s.jobs {
		views = append(views, s.view(j))
	}
	s.mu.Unlock()

	render.JSON(w, r, views)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	job, ok := s.jobs[id]
	var v jobView
	if ok {
		v = s.view(job)
	}
	s.mu.Unlock()

	if !ok {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, map[string]string{"error": "job not found"})
		return
	}
	render.JSON(w, r, v)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	job, ok := s.jobs[id]
	if ok && job.Status == StatusRunning {
		job.Status = StatusCancelled
		job.cancel()
	}
	var v jobView
	if ok {
		v = s.view(job)
	}
	s.mu.Unlock()

	if !ok {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, map[string]string{"error": "job not found"})
		return
	}
	render.JSON(w, r, v)
}

// view must be called with s.mu held.
func (s *Server) view(job *Job) jobView {
	return jobView{Job: *job, Progress: job.engine.Status()}
}

// Serve runs the job API until interrupted, then cancels any running job so
// its shutdown checkpoint fires before the process exits.
func Serve(addr string) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := collector.LoadConfig()
	srv := NewServer(cfg)

	httpSrv := &http.Server{
		Addr:    addr,
		Handler: srv.Router(),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()

		srv.mu.Lock()
		for _, j := range srv.jobs {
			if j.Status == StatusRunning {
				j.Status = StatusCancelled
				j.cancel()
			}
		}
		srv.mu.Unlock()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	slog.Info("job API listening", "addr", addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("job API failed", "err", err)
		os.Exit(1)
	}
}
