package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/brensch/rolloutiw/config"
	"github.com/brensch/rolloutiw/logging"
	"github.com/brensch/rolloutiw/metrics"
	"github.com/brensch/rolloutiw/store"
	"github.com/brensch/rolloutiw/stream"
)

func main() {
	cfg, err := config.Parse("rollout", os.Args[1:], os.LookupEnv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	level, _ := logging.ParseLevel(cfg.LogLevel)
	var logOut io.Writer = os.Stderr
	if cfg.TUI {
		// Log to a file so the dashboard owns the terminal.
		path := "rollout.log"
		if cfg.OutDir != "" {
			if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
				return err
			}
			path = filepath.Join(cfg.OutDir, "rollout.log")
		}
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("error opening log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	runID := store.NewRunID()
	logger := logging.New(logOut, logging.Options{Level: level, Pretty: cfg.LogPretty}).With("run", runID)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	rec := metrics.New(prometheus.NewRegistry())
	var hub *stream.Hub
	if cfg.Listen != "" {
		hub = stream.NewHub(logger)
		defer hub.Close()
		srv, err := serve(cfg.Listen, rec, hub, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	r, err := newRunner(cfg, runID, logger, rec, hub)
	if err != nil {
		return err
	}
	logger.Info("starting run",
		"planner", cfg.Planner,
		"episodes", cfg.Episodes,
		"workers", cfg.Workers,
		"frameskip", cfg.Frameskip,
		"budget", cfg.Budget,
		"features", cfg.FeatureMode().String(),
	)

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(ctx) }()

	var loopErr error
	if cfg.TUI {
		loopErr = runTUI(ctx, cancel, r, runErr)
	} else {
		loopErr = runPlain(ctx, r, runErr, logger)
	}

	results, closeErr := r.Close()
	var total float64
	for _, res := range results {
		total += res.Score
	}
	if len(results) > 0 {
		logger.Info("run finished", "episodes", len(results), "avg_score", total/float64(len(results)), "steps", r.steps.Load())
	}
	if errors.Is(loopErr, context.Canceled) {
		loopErr = nil
	}
	return errors.Join(loopErr, closeErr)
}

func serve(addr string, rec *metrics.Recorder, hub *stream.Hub, logger *slog.Logger) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	mux.Handle("/ws", hub)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics and stream", "addr", ln.Addr().String())
	return srv, nil
}

// runTUI drives the dashboard until the run ends or the user quits.
func runTUI(ctx context.Context, cancel context.CancelFunc, r *runner, runErr <-chan error) error {
	p := tea.NewProgram(initialModel(r), tea.WithAltScreen(), tea.WithContext(ctx))
	result := make(chan error, 1)
	go func() {
		err := <-runErr
		result <- err
		p.Send(runDoneMsg{})
	}()
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		cancel()
		<-result
		return err
	}
	cancel()
	return <-result
}

// runPlain logs finished episodes and periodic throughput until the run ends.
func runPlain(ctx context.Context, r *runner, runErr <-chan error, logger *slog.Logger) error {
	start := time.Now()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case err := <-runErr:
			return err
		case <-ctx.Done():
			logger.Info("shutdown requested; waiting for workers")
			return <-runErr
		case u := <-r.episodeUpdates:
			if u.Err != nil {
				continue
			}
			logger.Info("episode finished",
				"worker", u.WorkerID,
				"episode", u.Result.ID,
				"score", u.Result.Score,
				"steps", u.Result.Steps,
				"decisions", u.Result.Decisions,
				"avg_time", u.Result.AvgTime(),
				"terminal", u.Result.Terminal,
			)
		case <-ticker.C:
			elapsed := time.Since(start)
			logger.Info("progress",
				"episodes", r.finished.Load(),
				"steps", r.steps.Load(),
				"steps_per_sec", float64(r.steps.Load())/elapsed.Seconds(),
				"last", r.lastStats.Load(),
			)
		}
	}
}
