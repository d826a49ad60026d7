package store

import (
	"fmt"
	"path/filepath"

	"github.com/brensch/rolloutiw/planner"
)

const TreeSchema = "search_tree_v1"

// TreeNodeRow is one node of a search tree dumped after a decision. Nodes are
// numbered in depth-first order from the root; Parent is -1 for the root.
type TreeNodeRow struct {
	EpisodeID string  `parquet:"episode_id,dict"`
	Decision  int32   `parquet:"decision"`
	Node      int32   `parquet:"node"`
	Parent    int32   `parquet:"parent"`
	Action    int32   `parquet:"action"`
	Depth     int32   `parquet:"depth"`
	Height    int32   `parquet:"height"`
	Reward    float64 `parquet:"reward"`
	Value     float64 `parquet:"value"`
	Visited   bool    `parquet:"visited"`
	Solved    bool    `parquet:"solved"`
	Terminal  bool    `parquet:"terminal"`
	Pruned    bool    `parquet:"pruned"`
	FrameRep  int32   `parquet:"frame_rep"`
	NumAtoms  int32   `parquet:"num_atoms"`
}

// DumpTree flattens the subtree under root.
func DumpTree(t *planner.Tree, root planner.NodeID, episodeID string, decision int) []TreeNodeRow {
	if root.IsNil() || !t.Valid(root) {
		return nil
	}
	var rows []TreeNodeRow
	var walk func(id planner.NodeID, parent int32)
	walk = func(id planner.NodeID, parent int32) {
		idx := int32(len(rows))
		reward := t.Reward(id)
		pruned := t.Pruned(id)
		if pruned {
			// Pruned carries the -Inf marker.
			reward = 0
		}
		rows = append(rows, TreeNodeRow{
			EpisodeID: episodeID,
			Decision:  int32(decision),
			Node:      idx,
			Parent:    parent,
			Action:    int32(t.Action(id)),
			Depth:     int32(t.Depth(id)),
			Height:    int32(t.Height(id)),
			Reward:    reward,
			Value:     t.Value(id),
			Visited:   t.Visited(id),
			Solved:    t.Solved(id),
			Terminal:  t.Terminal(id),
			Pruned:    pruned,
			FrameRep:  int32(t.FrameRep(id)),
			NumAtoms:  int32(len(t.Atoms(id))),
		})
		for _, c := range t.Children(id) {
			walk(c, idx)
		}
	}
	walk(root, -1)
	return rows
}

// WriteTreeParquet writes one decision's tree under outDir/trees.
func WriteTreeParquet(outDir string, rows []TreeNodeRow) (string, error) {
	if len(rows) == 0 {
		return "", nil
	}
	name := fmt.Sprintf("tree_%s_%05d.parquet", rows[0].EpisodeID, rows[0].Decision)
	path := filepath.Join(outDir, "trees", name)
	if err := writeParquetAtomic(path, rows, TreeSchema); err != nil {
		return "", err
	}
	return path, nil
}
