package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brensch/rolloutiw/game"
	"github.com/brensch/rolloutiw/planner"
	"github.com/brensch/rolloutiw/store"
)

func recordTrace(t *testing.T, id string, moves []int) store.Trace {
	t.Helper()
	opts := game.DefaultOptions()
	opts.Width, opts.Height = 7, 7
	env, err := game.NewEnv(opts)
	require.NoError(t, err)

	tr := store.Trace{Header: store.TraceHeader{
		Version:   store.TraceVersion,
		EpisodeID: id,
		Planner:   "fixed",
		Env:       opts,
		Frameskip: opts.Frameskip,
	}}
	for i, m := range moves {
		if env.IsTerminal() {
			break
		}
		r := env.Step(planner.Action(m))
		tr.Steps = append(tr.Steps, store.TraceStep{Index: i, Action: m, Reward: r})
		tr.Header.Score += r
	}
	tr.Header.Steps = len(tr.Steps)
	tr.Header.Terminal = env.IsTerminal()
	return tr
}

func TestVerifyDirectory(t *testing.T) {
	dir := t.TempDir()
	_, err := store.WriteTrace(dir, recordTrace(t, "a", []int{game.MoveLeft, game.MoveUp, game.MoveRight}))
	require.NoError(t, err)
	_, err = store.WriteTrace(dir, recordTrace(t, "b", []int{game.MoveUp, game.MoveUp}))
	require.NoError(t, err)

	var out bytes.Buffer
	failed, err := verify(dir, &out)
	require.NoError(t, err)
	require.Zero(t, failed)
	require.Contains(t, out.String(), "ok   a")
	require.Contains(t, out.String(), "ok   b")
}

func TestVerifyReportsMismatch(t *testing.T) {
	dir := t.TempDir()
	tr := recordTrace(t, "bad", []int{game.MoveDown, game.MoveDown})
	tr.Header.Score += 5
	path, err := store.WriteTrace(dir, tr)
	require.NoError(t, err)

	var out bytes.Buffer
	failed, err := verify(path, &out)
	require.NoError(t, err)
	require.Equal(t, 1, failed)
	require.Contains(t, out.String(), "score mismatch")
}

func TestVerifyMissingOrEmpty(t *testing.T) {
	_, err := verify(filepath.Join(t.TempDir(), "nope"), &bytes.Buffer{})
	require.Error(t, err)

	empty := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(empty, "notes.txt"), []byte("x"), 0o644))
	_, err = verify(empty, &bytes.Buffer{})
	require.ErrorContains(t, err, "no traces")
}
