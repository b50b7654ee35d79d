package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// Engine owns one collection run: the shared store, the sweep scheduler,
// the progress counters, and the checkpoint manager. Everything that needs
// run state gets it from this handle; there is no package-global job.
type Engine struct {
	cfg         Config
	client      *SearchClient
	enricher    *Enricher
	store       *Store
	stats       *Stats
	checkpoints *CheckpointManager
}

// EngineStatus is the progress view surfaced to callers (the job wrapper's
// status endpoint, the monitor log line).
type EngineStatus struct {
	Processed       int64 `json:"processed"`
	Collected       int   `json:"collected"`
	Inserted        int64 `json:"inserted"`
	Dropped         int64 `json:"dropped"`
	PageErrors      int64 `json:"page_errors"`
	EnrichErrors    int64 `json:"enrich_errors"`
	SweepsCompleted int64 `json:"sweeps_completed"`
	SweepsFailed    int64 `json:"sweeps_failed"`
}

func NewEngine(cfg Config) (*Engine, error) {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	e := &Engine{
		cfg:    cfg,
		client: NewSearchClient(cfg.SearchURL),
		store:  NewStore(cfg.MaxRecords),
		stats:  &Stats{},
	}
	e.enricher = NewEnricher(cfg.SearchURL, e.stats)

	if cfg.CheckpointsEnabled {
		cm, err := NewCheckpointManager(cfg.CheckpointDir)
		if err != nil {
			return nil, err
		}
		e.checkpoints = cm
	}
	return e, nil
}

func (e *Engine) Status() EngineStatus {
	return EngineStatus{
		Processed:       e.store.Processed(),
		Collected:       e.store.Size(),
		Inserted:        e.stats.Inserted.Load(),
		Dropped:         e.stats.Dropped.Load(),
		PageErrors:      e.stats.PageErrors.Load(),
		EnrichErrors:    e.stats.EnrichErrors.Load(),
		SweepsCompleted: e.stats.SweepsCompleted.Load(),
		SweepsFailed:    e.stats.SweepsFailed.Load(),
	}
}

// Run executes the full collection: optional resume, all sweeps, periodic
// checkpoints, and the final exports. It always exports whatever was
// collected, even when ctx was cancelled mid-run.
func (e *Engine) Run(ctx context.Context, resume bool) error {
	if resume && e.checkpoints != nil {
		cp, err := e.checkpoints.LoadLatest()
		if err != nil {
			slog.Error("checkpoint listing failed, starting fresh", "err", err)
		} else if cp != nil {
			e.store.Preload(cp.Records, cp.ProcessedCount)
			slog.Info("resumed from checkpoint",
				"records", len(cp.Records),
				"processed", cp.ProcessedCount,
				"taken_at", cp.Timestamp,
			)
		} else {
			slog.Info("no checkpoint found, starting fresh")
		}
	}

	loopCtx, stopLoops := context.WithCancel(ctx)
	var loops sync.WaitGroup

	loops.Add(1)
	go func() {
		defer loops.Done()
		e.checkpointLoop(loopCtx)
	}()

	loops.Add(1)
	go func() {
		defer loops.Done()
		e.monitor(loopCtx)
	}()

	sched := NewScheduler(e.cfg, e.client, e.enricher, e.store, e.stats)
	runErr := sched.Run(ctx)

	stopLoops()
	loops.Wait()

	// Shutdown path: one synchronous checkpoint of whatever the store holds
	// now, then the result export. Both happen whether the run completed or
	// was interrupted.
	e.saveCheckpoint()
	if err := e.exportResults(); err != nil {
		slog.Error("result export failed", "err", err)
	}

	sum := Summarize(e.store.Snapshot())
	slog.Info("collection summary",
		"total", sum.Total,
		"critical", sum.BySeverity[SeverityCritical],
		"high", sum.BySeverity[SeverityHigh],
		"medium", sum.BySeverity[SeverityMedium],
		"low", sum.BySeverity[SeverityLow],
		"known_exploited", sum.KnownExploited,
		"with_references", sum.WithReferences,
		"invalid_ids", sum.InvalidIDs,
	)

	e.archive()

	return runErr
}

// monitor logs the progress counters until the run winds down.
func (e *Engine) monitor(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			st := e.Status()
			slog.Info("collection progress",
				"processed", st.Processed,
				"collected", st.Collected,
				"inserted", st.Inserted,
				"dropped", st.Dropped,
				"page_errors", st.PageErrors,
				"enrich_errors", st.EnrichErrors,
				"sweeps_completed", st.SweepsCompleted,
				"sweeps_failed", st.SweepsFailed,
			)
		case <-ctx.Done():
			return
		}
	}
}

// checkpointLoop saves a snapshot every time the processed counter advances
// past the configured interval.
func (e *Engine) checkpointLoop(ctx context.Context) {
	if e.checkpoints == nil || e.cfg.CheckpointEvery <= 0 {
		return
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var lastSaved int64
	for {
		select {
		case <-ticker.C:
			processed := e.store.Processed()
			if processed-lastSaved < e.cfg.CheckpointEvery {
				continue
			}
			path, err := e.checkpoints.Save(e.store.Snapshot(), processed)
			if err != nil {
				slog.Error("checkpoint write failed", "err", err)
				continue
			}
			lastSaved = processed
			slog.Info("checkpoint saved", "path", path, "processed", processed)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) saveCheckpoint() {
	if e.checkpoints == nil {
		return
	}
	path, err := e.checkpoints.Save(e.store.Snapshot(), e.store.Processed())
	if err != nil {
		slog.Error("final checkpoint write failed", "err", err)
		return
	}
	slog.Info("final checkpoint saved", "path", path)
}

func (e *Engine) exportResults() error {
	records := e.store.Snapshot()
	out := ResultSet{
		CollectedAt:  time.Now().UTC(),
		TotalRecords: len(records),
		Records:      records,
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}

	path := filepath.Join(e.cfg.OutputDir, fmt.Sprintf("results-%d.json", out.CollectedAt.Unix()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	slog.Info("results exported", "path", path, "records", len(records))
	return nil
}

// archive pushes the final set into Postgres when a DSN is configured. The
// run's context may already be cancelled, so the sink gets its own deadline.
func (e *Engine) archive() {
	if e.cfg.PostgresDSN == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := OpenArchive(ctx, e.cfg.PostgresDSN)
	if err != nil {
		slog.Error("archive unavailable", "err", err)
		return
	}
	defer pool.Close()

	records := e.store.Snapshot()
	if err := ArchiveRecords(ctx, pool, records); err != nil {
		slog.Error("archive failed", "err", err)
		return
	}
	slog.Info("records archived", "count", len(records))
}

// Run is the process entrypoint: logging, config, signal handling, one
// engine run.
func Run(resume bool) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := LoadConfig()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	engine, err := NewEngine(cfg)
	if err != nil {
		slog.Error("engine init failed", "err", err)
		os.Exit(1)
	}

	slog.Info("collection started",
		"search_url", cfg.SearchURL,
		"facets", len(cfg.Facets),
		"page_size", cfg.PageSize,
		"concurrency", cfg.SweepConcurrency,
		"max_records", cfg.MaxRecords,
		"resume", resume,
	)

	if err := engine.Run(ctx, resume); err != nil {
		slog.Error("collection failed", "err", err)
		os.Exit(1)
	}
	slog.Info("collection finished")
}
