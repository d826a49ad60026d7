package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"

	"github.com/brensch/rolloutiw/episode"
)

const (
	DecisionSchema = "decision_row_v1"
	EpisodeSchema  = "episode_row_v1"
)

// DecisionRow is one planner call.
//
// Branch holds the returned actions in order. Durations are microseconds.
type DecisionRow struct {
	RunID      string  `parquet:"run_id,dict"`
	EpisodeID  string  `parquet:"episode_id,dict"`
	Planner    string  `parquet:"planner,dict"`
	Index      int32   `parquet:"index"`
	Step       int32   `parquet:"step"`
	PrefixLen  int32   `parquet:"prefix_len"`
	LastReward float64 `parquet:"last_reward"`
	Branch     []int32 `parquet:"branch"`

	Rollouts   int32 `parquet:"rollouts"`
	Expansions int32 `parquet:"expansions"`
	SimCalls   int32 `parquet:"sim_calls"`

	CaseNovel    int32 `parquet:"case_novel"`
	CasePruned   int32 `parquet:"case_pruned"`
	CaseStale    int32 `parquet:"case_stale"`
	CaseOptimal  int32 `parquet:"case_optimal"`
	CaseTerminal int32 `parquet:"case_terminal"`
	CaseMaxDepth int32 `parquet:"case_max_depth"`
	CaseMaxRep   int32 `parquet:"case_max_rep"`

	NoveltyEntries int32   `parquet:"novelty_entries"`
	Nodes          int32   `parquet:"nodes"`
	Tips           int32   `parquet:"tips"`
	Height         int32   `parquet:"height"`
	RootHeights    []int32 `parquet:"root_heights"`
	RootValue      float64 `parquet:"root_value"`
	RootSolved     bool    `parquet:"root_solved"`
	Reused         bool    `parquet:"reused"`
	SeenPositive   int32   `parquet:"seen_positive"`
	SeenNegative   int32   `parquet:"seen_negative"`

	TotalMicros int64 `parquet:"total_us"`
	SimMicros   int64 `parquet:"sim_us"`
	AtomsMicros int64 `parquet:"atoms_us"`
}

// EpisodeRow summarises one episode.
type EpisodeRow struct {
	RunID     string  `parquet:"run_id,dict"`
	EpisodeID string  `parquet:"episode_id,dict"`
	Planner   string  `parquet:"planner,dict"`
	Seed      int64   `parquet:"seed"`
	Score     float64 `parquet:"score"`
	Steps     int32   `parquet:"steps"`
	Decisions int32   `parquet:"decisions"`
	Terminal  bool    `parquet:"terminal"`
	Aborted   bool    `parquet:"aborted"`
	// ElapsedMicros and AvgMicros are wall time for the episode and per step.
	ElapsedMicros int64 `parquet:"elapsed_us"`
	AvgMicros     int64 `parquet:"avg_us"`
	FinishedNs    int64 `parquet:"finished_ns"`
}

func NewDecisionRow(runID, plannerName string, d episode.Decision) DecisionRow {
	s := d.Stats
	return DecisionRow{
		RunID:      runID,
		EpisodeID:  d.EpisodeID,
		Planner:    plannerName,
		Index:      int32(d.Index),
		Step:       int32(d.Step),
		PrefixLen:  int32(d.PrefixLen),
		LastReward: d.LastReward,
		Branch:     toInt32s(d.Branch),

		Rollouts:   int32(s.Rollouts),
		Expansions: int32(s.Expansions),
		SimCalls:   int32(s.SimCalls),

		CaseNovel:    int32(s.CaseNovel),
		CasePruned:   int32(s.CasePruned),
		CaseStale:    int32(s.CaseStale),
		CaseOptimal:  int32(s.CaseOptimal),
		CaseTerminal: int32(s.CaseTerminal),
		CaseMaxDepth: int32(s.CaseMaxDepth),
		CaseMaxRep:   int32(s.CaseMaxRep),

		NoveltyEntries: int32(s.NoveltyEntries),
		Nodes:          int32(s.Nodes),
		Tips:           int32(s.Tips),
		Height:         int32(s.Height),
		RootHeights:    toInt32s(s.RootHeights),
		RootValue:      s.RootValue,
		RootSolved:     s.RootSolved,
		Reused:         s.Reused,
		SeenPositive:   int32(s.SeenPositive),
		SeenNegative:   int32(s.SeenNegative),

		TotalMicros: s.Total.Microseconds(),
		SimMicros:   s.SimTime.Microseconds(),
		AtomsMicros: s.AtomsTime.Microseconds(),
	}
}

func NewEpisodeRow(runID, plannerName string, seed int64, r episode.Result) EpisodeRow {
	return EpisodeRow{
		RunID:         runID,
		EpisodeID:     r.ID,
		Planner:       plannerName,
		Seed:          seed,
		Score:         r.Score,
		Steps:         int32(r.Steps),
		Decisions:     int32(r.Decisions),
		Terminal:      r.Terminal,
		Aborted:       r.Aborted,
		ElapsedMicros: r.Elapsed.Microseconds(),
		AvgMicros:     r.AvgTime().Microseconds(),
		FinishedNs:    time.Now().UnixNano(),
	}
}

func toInt32s[T ~int](xs []T) []int32 {
	out := make([]int32, len(xs))
	for i, x := range xs {
		out[i] = int32(x)
	}
	return out
}

// WriteEpisodesParquet writes rows to outPath through a temp file so readers
// never see a partial file.
func WriteEpisodesParquet(outPath string, rows []EpisodeRow) error {
	return writeParquetAtomic(outPath, rows, EpisodeSchema)
}

func writeParquetAtomic[T any](outPath string, rows []T, schema string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmpPath := outPath + ".tmp"
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", schema),
	); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename parquet: %w", err)
	}
	return nil
}

// ReadRows loads every row of a parquet file written by this package.
func ReadRows[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return rows, nil
}
