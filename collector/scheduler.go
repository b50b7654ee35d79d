package collector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ErrUpstreamUnreachable is returned when every sweep's count probe failed,
// which means the search backend was never reachable during the run.
var ErrUpstreamUnreachable = errors.New("all sweep probes failed: upstream unreachable")

// Sweep is one full paginated traversal of the corpus under a fixed filter
// set. An empty token list is the unfiltered universe.
type Sweep struct {
	Label  string
	Tokens []string

	mu    sync.Mutex
	state SweepState
}

func (s *Sweep) setState(st SweepState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Sweep) State() SweepState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Scheduler drives one unfiltered sweep plus one sweep per facet filter
// through the fetch → transform → enrich → collect pipeline, with at most
// K facet sweeps in flight at once.
type Scheduler struct {
	cfg      Config
	client   *SearchClient
	enricher *Enricher
	store    *Store
	stats    *Stats
}

func NewScheduler(cfg Config, client *SearchClient, enricher *Enricher, store *Store, stats *Stats) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		client:   client,
		enricher: enricher,
		store:    store,
		stats:    stats,
	}
}

// Run executes every sweep and blocks until all of them have finished.
// Individual sweep failures never fail the run; only total upstream
// unreachability does.
func (s *Scheduler) Run(ctx context.Context) error {
	sweeps := s.buildSweeps()

	var (
		wg          sync.WaitGroup
		probeFailed atomic.Int64
	)

	launch := func(sw *Sweep) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.runSweep(ctx, sw); err != nil {
				probeFailed.Add(1)
			}
		}()
	}

	// The unfiltered sweep starts immediately and is not part of any group.
	launch(sweeps[0])

	facets := sweeps[1:]
	k := s.cfg.SweepConcurrency
	if k < 1 {
		k = 1
	}
	for start := 0; start < len(facets); start += k {
		if ctx.Err() != nil {
			break
		}
		end := start + k
		if end > len(facets) {
			end = len(facets)
		}

		var groupWG sync.WaitGroup
		for _, sw := range facets[start:end] {
			sw := sw
			groupWG.Add(1)
			wg.Add(1)
			go func() {
				defer groupWG.Done()
				defer wg.Done()
				if err := s.runSweep(ctx, sw); err != nil {
					probeFailed.Add(1)
				}
			}()
		}
		groupWG.Wait()

		if end < len(facets) {
			sleepCtx(ctx, s.cfg.GroupDelay)
		}
	}

	wg.Wait()

	slog.Info("all sweeps finished",
		"completed", s.stats.SweepsCompleted.Load(),
		"failed", s.stats.SweepsFailed.Load(),
		"collected", s.store.Size(),
	)

	// A cancelled run is not an unreachable upstream, even if the probes
	// that were still pending all errored out.
	if ctx.Err() == nil && int(probeFailed.Load()) == len(sweeps) {
		return ErrUpstreamUnreachable
	}
	return nil
}

func (s *Scheduler) buildSweeps() []*Sweep {
	sweeps := make([]*Sweep, 0, len(s.cfg.Facets)+1)
	sweeps = append(sweeps, &Sweep{Label: "unfiltered", state: SweepPending})
	for _, f := range s.cfg.Facets {
		sweeps = append(sweeps, &Sweep{
			Label:  f.Label,
			Tokens: []string{f.Token},
			state:  SweepPending,
		})
	}
	return sweeps
}

// runSweep pages through one filter set, transforming and enriching every
// hit into a local map, then merges the local map into the shared store.
// The returned error is non-nil only for a probe failure; page-level errors
// skip the page and keep the sweep alive.
func (s *Scheduler) runSweep(ctx context.Context, sw *Sweep) error {
	sw.setState(SweepProbing)

	total, err := s.client.ProbeTotal(ctx, sw.Tokens)
	if err != nil {
		sw.setState(SweepFailed)
		s.stats.SweepsFailed.Add(1)
		slog.Error("sweep probe failed", "sweep", sw.Label, "err", err)
		return err
	}

	perSweepCap := s.cfg.MaxRecords
	capped := total
	if capped > perSweepCap {
		capped = perSweepCap
	}
	pagesNeeded := (capped + s.cfg.PageSize - 1) / s.cfg.PageSize

	slog.Info("sweep probed", "sweep", sw.Label, "total_hits", total, "pages", pagesNeeded)

	sw.setState(SweepPaging)

	local := make(map[string]Record)
	pageLimiter := rate.NewLimiter(rate.Every(s.cfg.PageDelay), 1)
	enrichLimiter := rate.NewLimiter(rate.Every(s.cfg.EnrichDelay), 1)

paging:
	for page := 0; page < pagesNeeded; page++ {
		// Cancellation is observed between page iterations: stop issuing
		// requests and flush whatever the sweep already holds.
		if ctx.Err() != nil {
			break
		}
		_ = pageLimiter.Wait(ctx)

		_, hits, err := s.client.FetchPage(ctx, page, s.cfg.PageSize, sw.Tokens)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.stats.PageErrors.Add(1)
			slog.Warn("page fetch failed, skipping", "sweep", sw.Label, "page", page, "err", err)
			continue
		}

		for _, hit := range hits {
			if ctx.Err() != nil {
				break paging
			}

			rec, ok := TransformHit(hit)
			if !ok {
				s.stats.Dropped.Add(1)
				continue
			}
			if err := ValidateRecord(rec); err != nil {
				slog.Warn("record failed validation, keeping anyway", "sweep", sw.Label, "err", err)
			}

			_ = enrichLimiter.Wait(ctx)
			rec.References = s.enricher.Enrich(ctx, rec.ID)

			local[rec.ID] = rec
			if len(local) >= perSweepCap {
				break paging
			}
		}
	}

	sw.setState(SweepMerging)
	accepted := s.store.MergeLocal(local)
	s.stats.Inserted.Add(int64(accepted))
	sw.setState(SweepCompleted)
	s.stats.SweepsCompleted.Add(1)

	slog.Info("sweep merged",
		"sweep", sw.Label,
		"local", len(local),
		"accepted", accepted,
		"store_size", s.store.Size(),
	)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
