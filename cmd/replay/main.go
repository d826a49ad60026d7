package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/brensch/rolloutiw/logging"
	"github.com/brensch/rolloutiw/store"
)

func main() {
	path := flag.String("traces", "traces", "Trace file or directory of traces to verify")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn or error")
	flag.Parse()

	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := logging.New(os.Stderr, logging.Options{Level: level})

	failed, err := verify(*path, os.Stdout)
	if err != nil {
		logger.Error("replay failed", "path", *path, "error", err)
		os.Exit(1)
	}
	if failed > 0 {
		logger.Error("traces did not reproduce", "failed", failed)
		os.Exit(1)
	}
}

// verify replays every trace under path and prints one line per trace. It
// returns the number that did not reproduce.
func verify(path string, out io.Writer) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	paths := []string{path}
	if info.IsDir() {
		paths, err = store.ListTraces(path)
		if err != nil {
			return 0, err
		}
		if len(paths) == 0 {
			return 0, fmt.Errorf("no traces in %s", path)
		}
	}

	failed := 0
	for _, p := range paths {
		tr, err := store.ReadTrace(p)
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", p, err)
			continue
		}
		res, err := store.Replay(tr)
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", tr.Header.EpisodeID, err)
			continue
		}
		fmt.Fprintf(out, "ok   %s  %s  score %.0f  steps %d  terminal %t\n",
			tr.Header.EpisodeID, tr.Header.Planner, res.Score, res.Steps, res.Terminal)
	}
	return failed, nil
}
