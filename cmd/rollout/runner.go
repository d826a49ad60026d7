package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brensch/rolloutiw/config"
	"github.com/brensch/rolloutiw/episode"
	"github.com/brensch/rolloutiw/features"
	"github.com/brensch/rolloutiw/game"
	"github.com/brensch/rolloutiw/metrics"
	"github.com/brensch/rolloutiw/planner"
	"github.com/brensch/rolloutiw/store"
	"github.com/brensch/rolloutiw/stream"
)

// EpisodeUpdate is sent to the dashboard after every episode.
type EpisodeUpdate struct {
	WorkerID int
	Result   episode.Result
	Err      error
}

// StepUpdate is sent to the dashboard for every live step of worker 0.
type StepUpdate struct {
	EpisodeID string
	Step      episode.Step
	Board     string
	Decision  string
}

type runner struct {
	cfg    config.Config
	runID  string
	logger *slog.Logger

	rec *metrics.Recorder
	hub *stream.Hub

	decisions *store.BatchWriter[store.DecisionRow]
	ledger    *store.Ledger

	// episodeUpdates and stepUpdates feed the dashboard; sends never block.
	episodeUpdates chan EpisodeUpdate
	stepUpdates    chan StepUpdate

	mu      sync.Mutex
	results []store.EpisodeRow

	steps     atomic.Int64
	finished  atomic.Int64
	decided   atomic.Int64
	lastStats atomic.Value // string
}

func newRunner(cfg config.Config, runID string, logger *slog.Logger, rec *metrics.Recorder, hub *stream.Hub) (*runner, error) {
	r := &runner{
		cfg:            cfg,
		runID:          runID,
		logger:         logger,
		rec:            rec,
		hub:            hub,
		episodeUpdates: make(chan EpisodeUpdate, cfg.Workers*2),
		stepUpdates:    make(chan StepUpdate, 64),
	}
	r.lastStats.Store("")
	if cfg.OutDir != "" {
		bw, err := store.NewBatchWriter[store.DecisionRow](cfg.OutDir, "decisions", store.DecisionSchema)
		if err != nil {
			return nil, err
		}
		r.decisions = bw
		ledger, err := store.OpenLedger(filepath.Join(cfg.OutDir, "episodes.log"))
		if err != nil {
			return nil, err
		}
		r.ledger = ledger
	}
	return r, nil
}

func episodeID(seed int64, i int) string {
	return fmt.Sprintf("s%d-e%04d", seed, i)
}

// plannerName is the label used in metrics and rows.
func (r *runner) plannerName() string { return r.cfg.Planner }

// newPlanner builds the configured planner over its own lookahead arena.
func newPlanner(cfg config.Config, look planner.Simulator, seed int64, logger *slog.Logger) (planner.Planner, error) {
	switch cfg.Planner {
	case config.PlannerFixed:
		fixed, err := planner.NewFixedSequence(cfg.Actions(), look.LegalActions(), seed)
		if err != nil {
			return planner.Planner{}, err
		}
		return planner.FromFixed(fixed), nil
	default:
		fx, err := features.New(cfg.FeatureMode())
		if err != nil {
			return planner.Planner{}, err
		}
		pc := cfg.PlannerConfig()
		pc.Seed = seed
		iw, err := planner.New(look, fx, pc, logger)
		if err != nil {
			return planner.Planner{}, err
		}
		return planner.FromRolloutIW(iw), nil
	}
}

// Run plays every configured episode on up to Workers goroutines. A failed
// episode is logged and counted; only cancellation stops the run early.
func (r *runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)

	var slots sync.Map
	for i := 0; i < r.cfg.Episodes; i++ {
		id := episodeID(r.cfg.Seed, i)
		if r.cfg.Resume && r.ledger != nil && r.ledger.Has(id) {
			r.logger.Info("skipping finished episode", "episode", id)
			continue
		}
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			worker := takeSlot(&slots, r.cfg.Workers)
			defer slots.Delete(worker)
			res, err := r.playEpisode(gctx, worker, i, id)
			select {
			case r.episodeUpdates <- EpisodeUpdate{WorkerID: worker, Result: res, Err: err}:
			default:
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if err != nil {
				r.logger.Error("episode failed", "episode", id, "error", err)
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if errors.Is(err, context.Canceled) {
		r.logger.Info("run cancelled", "finished", r.finished.Load())
	}
	return err
}

// takeSlot returns the lowest free worker number.
func takeSlot(slots *sync.Map, n int) int {
	for {
		for w := 0; w < n; w++ {
			if _, loaded := slots.LoadOrStore(w, struct{}{}); !loaded {
				return w
			}
		}
		time.Sleep(time.Millisecond)
	}
}

func (r *runner) playEpisode(ctx context.Context, worker, index int, id string) (episode.Result, error) {
	logger := r.logger.With("worker", worker)
	opts := r.cfg.GameOptions()
	opts.Seed += uint64(index)
	seed := r.cfg.Seed + int64(index)

	live, err := game.NewEnv(opts)
	if err != nil {
		return episode.Result{ID: id}, err
	}
	look, err := game.NewEnv(opts)
	if err != nil {
		return episode.Result{ID: id}, err
	}
	p, err := newPlanner(r.cfg, look, seed, logger)
	if err != nil {
		return episode.Result{ID: id}, err
	}
	logger.Info("starting episode", "episode", id, "planner", p.Name())

	name := r.plannerName()
	var rows []store.DecisionRow
	var lastSummary string
	onDecision := func(d episode.Decision) {
		r.decided.Add(1)
		lastSummary = d.Stats.String()
		r.lastStats.Store(lastSummary)
		if r.rec != nil {
			r.rec.ObserveDecision(name, d)
		}
		if r.hub != nil {
			r.hub.Publish(stream.DecisionEventOf(r.runID, d))
		}
		if r.decisions != nil {
			rows = append(rows, store.NewDecisionRow(r.runID, name, d))
		}
		if r.cfg.Debug && r.cfg.OutDir != "" && p.Kind() == planner.KindRolloutIW {
			tree := store.DumpTree(p.RolloutIW().Tree(), d.Root, d.EpisodeID, d.Index)
			if _, err := store.WriteTreeParquet(r.cfg.OutDir, tree); err != nil {
				logger.Warn("tree dump failed", "error", err)
			}
		}
	}
	onStep := func(s episode.Step) {
		r.steps.Add(1)
		if r.rec != nil {
			r.rec.ObserveStep(name, s)
		}
		board := ""
		if worker == 0 && (r.cfg.TUI || r.hub != nil) {
			board = game.Render(live.State())
		}
		if r.hub != nil {
			r.hub.Publish(stream.StepEventOf(r.runID, s, board))
		}
		if worker == 0 && r.cfg.TUI {
			select {
			case r.stepUpdates <- StepUpdate{EpisodeID: id, Step: s, Board: board, Decision: lastSummary}:
			default:
			}
		}
	}

	if r.rec != nil {
		r.rec.EpisodeStarted()
	}
	res, err := episode.Run(ctx, live, p, episode.Options{
		ID:           id,
		MaxLength:    r.cfg.MaxLength,
		SingleAction: r.cfg.SingleAction,
		OnDecision:   onDecision,
		OnStep:       onStep,
	}, logger)
	if r.rec != nil {
		r.rec.EpisodeFinished(name, res, err)
	}
	if err != nil {
		return res, err
	}
	r.finished.Add(1)
	if r.hub != nil {
		r.hub.Publish(stream.EpisodeEventOf(r.runID, res))
	}

	if r.decisions != nil {
		if err := r.decisions.WriteRows(rows); err != nil {
			return res, fmt.Errorf("decision rows: %w", err)
		}
		r.decisions.NoteEpisodeWritten()
	}
	if r.cfg.TraceDir != "" {
		path, err := store.WriteTrace(r.cfg.TraceDir, store.NewTrace(r.runID, p.Name(), opts, res))
		if err != nil {
			return res, fmt.Errorf("trace: %w", err)
		}
		logger.Debug("trace written", "path", path)
	}
	r.mu.Lock()
	r.results = append(r.results, store.NewEpisodeRow(r.runID, name, seed, res))
	r.mu.Unlock()
	if r.ledger != nil {
		if err := r.ledger.Add(id); err != nil {
			return res, fmt.Errorf("ledger: %w", err)
		}
	}
	return res, nil
}

// Close flushes the parquet outputs and returns the episode summaries.
func (r *runner) Close() ([]store.EpisodeRow, error) {
	var errs []error
	if r.decisions != nil {
		path, rows, episodes, err := r.decisions.Finalize()
		if err != nil {
			errs = append(errs, err)
		} else if path != "" {
			r.logger.Info("decision log written", "path", path, "rows", rows, "episodes", episodes)
		}
	}
	r.mu.Lock()
	results := append([]store.EpisodeRow(nil), r.results...)
	r.mu.Unlock()
	if r.cfg.OutDir != "" && len(results) > 0 {
		path := filepath.Join(r.cfg.OutDir, fmt.Sprintf("episodes_%s.parquet", r.runID))
		if err := store.WriteEpisodesParquet(path, results); err != nil {
			errs = append(errs, err)
		} else {
			r.logger.Info("episode summary written", "path", path, "episodes", len(results))
		}
	}
	if r.ledger != nil {
		if err := r.ledger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}
