package store

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brensch/rolloutiw/episode"
	"github.com/brensch/rolloutiw/features"
	"github.com/brensch/rolloutiw/game"
	"github.com/brensch/rolloutiw/planner"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testOptions() game.Options {
	opts := game.DefaultOptions()
	opts.Width, opts.Height = 7, 7
	opts.Lives = 2
	opts.Seed = 11
	opts.Frameskip = 2
	return opts
}

// playEpisode runs a short rollout episode and collects its decisions.
func playEpisode(t *testing.T) (episode.Result, []episode.Decision) {
	t.Helper()
	live, err := game.NewEnv(testOptions())
	require.NoError(t, err)
	look, err := game.NewEnv(testOptions())
	require.NoError(t, err)
	fx, err := features.New(features.RAM)
	require.NoError(t, err)
	iw, err := planner.New(look, fx, planner.Config{Frameskip: 2, MaxDepth: 4, MaxRep: 6, Discount: 1, Alpha: 100, Seed: 3}, quiet())
	require.NoError(t, err)

	var decisions []episode.Decision
	res, err := episode.Run(context.Background(), live, planner.FromRolloutIW(iw), episode.Options{
		ID:         "ep-0001",
		MaxLength:  12,
		OnDecision: func(d episode.Decision) { decisions = append(decisions, d) },
	}, quiet())
	require.NoError(t, err)
	return res, decisions
}

func TestDecisionRowsRoundTripThroughBatchWriter(t *testing.T) {
	res, decisions := playEpisode(t)
	require.NotEmpty(t, decisions)

	dir := t.TempDir()
	bw, err := NewBatchWriter[DecisionRow](dir, "decisions", DecisionSchema)
	require.NoError(t, err)

	rows := make([]DecisionRow, 0, len(decisions))
	for _, d := range decisions {
		rows = append(rows, NewDecisionRow("run-1", "rollout", d))
	}
	require.NoError(t, bw.WriteRows(rows))
	bw.NoteEpisodeWritten()
	require.Equal(t, len(rows), bw.BufferedRows())

	// Nothing is visible in outDir until Finalize.
	_, err = os.Stat(bw.OutPath())
	require.True(t, os.IsNotExist(err))

	path, n, episodes, err := bw.Finalize()
	require.NoError(t, err)
	require.Equal(t, len(rows), n)
	require.Equal(t, 1, episodes)
	require.Equal(t, filepath.Dir(path), mustAbs(t, dir))

	got, err := ReadRows[DecisionRow](path)
	require.NoError(t, err)
	require.Len(t, got, len(rows))
	for i := range rows {
		require.Equal(t, rows[i].EpisodeID, got[i].EpisodeID)
		require.Equal(t, rows[i].Branch, got[i].Branch)
		require.Equal(t, rows[i].Rollouts, got[i].Rollouts)
		require.Equal(t, rows[i].RootHeights, got[i].RootHeights)
	}
	require.Equal(t, res.Decisions, len(got))

	require.Error(t, bw.WriteRows(rows[:1]), "closed writer must refuse rows")
}

func mustAbs(t *testing.T, p string) string {
	t.Helper()
	abs, err := filepath.Abs(p)
	require.NoError(t, err)
	return abs
}

func TestEmptyBatchLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	bw, err := NewBatchWriter[EpisodeRow](dir, "episodes", EpisodeSchema)
	require.NoError(t, err)
	path, n, _, err := bw.Finalize()
	require.NoError(t, err)
	require.Empty(t, path)
	require.Zero(t, n)
	_, err = os.Stat(bw.TmpPath())
	require.True(t, os.IsNotExist(err))
}

func TestEpisodeParquet(t *testing.T) {
	res, _ := playEpisode(t)
	path := filepath.Join(t.TempDir(), "episodes.parquet")
	row := NewEpisodeRow("run-1", "rollout", 3, res)
	require.NoError(t, WriteEpisodesParquet(path, []EpisodeRow{row}))

	got, err := ReadRows[EpisodeRow](path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, res.Score, got[0].Score)
	require.Equal(t, int32(res.Steps), got[0].Steps)
	require.Equal(t, "ep-0001", got[0].EpisodeID)
}

func TestTreeDump(t *testing.T) {
	tree := planner.NewTree()
	root := tree.NewRoot(1, 0)
	tree.Expand(root, []planner.Action{0, 1})
	tree.SetReward(tree.Child(root, 0), 2)
	tree.Expand(tree.Child(root, 1), []planner.Action{0, 1})
	tree.RemoveChildren(tree.Child(root, 1))
	tree.SetReward(tree.Child(root, 1), -1)

	rows := DumpTree(tree, root, "ep", 4)
	require.Len(t, rows, 3)
	require.Equal(t, int32(-1), rows[0].Parent)
	require.Equal(t, int32(0), rows[1].Parent)
	require.Equal(t, 2.0, rows[1].Reward)
	require.Equal(t, int32(1), rows[2].Action)

	path, err := WriteTreeParquet(t.TempDir(), rows)
	require.NoError(t, err)
	got, err := ReadRows[TreeNodeRow](path)
	require.NoError(t, err)
	require.Equal(t, rows, got)

	require.Nil(t, DumpTree(tree, planner.Nil, "ep", 0))
}

func TestTreeDumpMarksPruned(t *testing.T) {
	tree := planner.NewTree()
	root := tree.NewRoot(0, 0)
	tree.Expand(root, []planner.Action{0})
	tree.SetReward(tree.Child(root, 0), math.Inf(-1))

	rows := DumpTree(tree, root, "ep", 0)
	require.True(t, rows[1].Pruned)
	require.Zero(t, rows[1].Reward)
}

func TestTraceRoundTripAndReplay(t *testing.T) {
	res, _ := playEpisode(t)
	runID := NewRunID()
	tr := NewTrace(runID, "rollout", testOptions(), res)

	dir := t.TempDir()
	path, err := WriteTrace(dir, tr)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "ep-0001"+TraceSuffix), path)

	listed, err := ListTraces(dir)
	require.NoError(t, err)
	require.Equal(t, []string{path}, listed)

	got, err := ReadTrace(path)
	require.NoError(t, err)
	require.Equal(t, tr.Header, got.Header)
	require.Equal(t, tr.Steps, got.Steps)

	rep, err := Replay(got)
	require.NoError(t, err)
	require.Equal(t, res.Score, rep.Score)
	require.Equal(t, len(res.Prefix), rep.Steps)
}

func TestReplayDetectsTampering(t *testing.T) {
	res, _ := playEpisode(t)
	tr := NewTrace("run", "rollout", testOptions(), res)
	tr.Header.Score += 1
	_, err := Replay(tr)
	require.ErrorContains(t, err, "score mismatch")

	tr = NewTrace("run", "rollout", testOptions(), res)
	tr.Steps[0].Reward = 42
	_, err = Replay(tr)
	require.ErrorContains(t, err, "reward mismatch")
}

func TestReadTraceRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad"+TraceSuffix)
	require.NoError(t, os.WriteFile(path, []byte("not zstd"), 0o644))
	_, err := ReadTrace(path)
	require.Error(t, err)
}

func TestLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "episodes.log")
	l, err := OpenLedger(path)
	require.NoError(t, err)
	require.NoError(t, l.Add("a"))
	require.NoError(t, l.Add("b"))
	require.NoError(t, l.Add("a"))
	require.Error(t, l.Add(""))
	require.Equal(t, 2, l.Count())
	require.NoError(t, l.Close())
	require.Error(t, l.Add("c"))

	// Partial trailing lines are tolerated.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("\n  \nc")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	l, err = OpenLedger(path)
	require.NoError(t, err)
	defer l.Close()
	require.True(t, l.Has("a"))
	require.True(t, l.Has("b"))
	require.True(t, l.Has("c"))
	require.False(t, l.Has("d"))
}

func TestWriteTraceCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "traces")
	tr := Trace{Header: TraceHeader{Version: TraceVersion, EpisodeID: "x", Env: testOptions(), Frameskip: 2}}
	path, err := WriteTrace(dir, tr)
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), info.ModTime(), time.Minute)
}
