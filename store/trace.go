package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/brensch/rolloutiw/episode"
	"github.com/brensch/rolloutiw/game"
	"github.com/brensch/rolloutiw/planner"
)

const (
	TraceVersion = 1
	TraceSuffix  = ".trace.jsonl.zst"
)

// TraceHeader is the first line of a trace file.
type TraceHeader struct {
	Version   int          `json:"version"`
	RunID     string       `json:"run_id"`
	EpisodeID string       `json:"episode_id"`
	Planner   string       `json:"planner"`
	Env       game.Options `json:"env"`
	Frameskip int          `json:"frameskip"`
	Score     float64      `json:"score"`
	Steps     int          `json:"steps"`
	Terminal  bool         `json:"terminal"`
}

// TraceStep is one executed action. Index 0 is the random opening action.
type TraceStep struct {
	Index  int     `json:"i"`
	Action int     `json:"a"`
	Reward float64 `json:"r"`
}

// Trace is a recorded episode that can be re-executed.
type Trace struct {
	Header TraceHeader
	Steps  []TraceStep
}

// NewRunID returns a fresh identifier for a batch of episodes.
func NewRunID() string { return uuid.NewString() }

// NewTrace records a finished episode played on an arena built from opts.
func NewTrace(runID, plannerName string, opts game.Options, r episode.Result) Trace {
	t := Trace{
		Header: TraceHeader{
			Version:   TraceVersion,
			RunID:     runID,
			EpisodeID: r.ID,
			Planner:   plannerName,
			Env:       opts,
			Frameskip: opts.Frameskip,
			Score:     r.Score,
			Steps:     len(r.Prefix),
			Terminal:  r.Terminal,
		},
		Steps: make([]TraceStep, len(r.Prefix)),
	}
	for i, a := range r.Prefix {
		t.Steps[i] = TraceStep{Index: i, Action: int(a), Reward: r.Rewards[i]}
	}
	return t
}

// WriteTrace stores t as zstd-compressed JSON lines under dir and returns the
// file path. The file appears atomically.
func WriteTrace(dir string, t Trace) (path string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create trace dir: %w", err)
	}
	name := t.Header.EpisodeID
	if name == "" {
		name = uuid.NewString()
	}
	path = filepath.Join(dir, name+TraceSuffix)
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("open trace: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = f.Close()
		return "", fmt.Errorf("zstd writer: %w", err)
	}
	bw := bufio.NewWriterSize(enc, 64*1024)
	je := json.NewEncoder(bw)

	writeErr := je.Encode(t.Header)
	for i := 0; writeErr == nil && i < len(t.Steps); i++ {
		writeErr = je.Encode(t.Steps[i])
	}
	if writeErr == nil {
		writeErr = bw.Flush()
	}
	closeErr := errors.Join(enc.Close(), f.Close())
	if writeErr != nil {
		return "", fmt.Errorf("write trace: %w", writeErr)
	}
	if closeErr != nil {
		return "", fmt.Errorf("close trace: %w", closeErr)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("rename trace: %w", err)
	}
	return path, nil
}

func ReadTrace(path string) (Trace, error) {
	var t Trace
	f, err := os.Open(path)
	if err != nil {
		return t, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return t, err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return t, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		return t, fmt.Errorf("%s: empty trace", filepath.Base(path))
	}
	if err := json.Unmarshal(sc.Bytes(), &t.Header); err != nil {
		return t, fmt.Errorf("%s: header: %w", filepath.Base(path), err)
	}
	if t.Header.Version != TraceVersion {
		return t, fmt.Errorf("%s: unsupported trace version %d", filepath.Base(path), t.Header.Version)
	}
	for sc.Scan() {
		var s TraceStep
		if err := json.Unmarshal(sc.Bytes(), &s); err != nil {
			return t, fmt.Errorf("%s: step %d: %w", filepath.Base(path), len(t.Steps), err)
		}
		t.Steps = append(t.Steps, s)
	}
	if err := sc.Err(); err != nil {
		return t, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return t, nil
}

// ListTraces returns the trace files in dir in name order.
func ListTraces(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+TraceSuffix))
	if err != nil {
		return nil, err
	}
	out := matches[:0]
	for _, m := range matches {
		if !strings.HasSuffix(m, ".tmp") {
			out = append(out, m)
		}
	}
	return out, nil
}

// ReplayResult compares a re-execution with its trace.
type ReplayResult struct {
	Score    float64
	Steps    int
	Terminal bool
}

// Replay re-executes t on a fresh arena and checks every reward and the final
// score against the recording.
func Replay(t Trace) (ReplayResult, error) {
	opts := t.Header.Env
	opts.Frameskip = t.Header.Frameskip
	env, err := game.NewEnv(opts)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("env: %w", err)
	}
	env.Reset()

	var res ReplayResult
	for i, s := range t.Steps {
		if s.Index != i {
			return res, fmt.Errorf("step index mismatch: want=%d got=%d", i, s.Index)
		}
		if env.IsTerminal() {
			return res, fmt.Errorf("arena ended before step %d", i)
		}
		r := env.Step(planner.Action(s.Action))
		res.Steps++
		res.Score += r
		if r != s.Reward {
			return res, fmt.Errorf("reward mismatch at step %d: got=%g want=%g", i, r, s.Reward)
		}
	}
	res.Terminal = env.IsTerminal()
	if res.Score != t.Header.Score {
		return res, fmt.Errorf("score mismatch: got=%g want=%g", res.Score, t.Header.Score)
	}
	if res.Terminal != t.Header.Terminal {
		return res, fmt.Errorf("terminal mismatch: got=%t want=%t", res.Terminal, t.Header.Terminal)
	}
	return res, nil
}
