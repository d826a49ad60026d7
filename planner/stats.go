package planner

import (
	"fmt"
	"strings"
	"time"
)

// Stats describes one decision. It is returned by value from GetBranch.
type Stats struct {
	Rollouts   int
	Expansions int
	SimCalls   int

	// Classification outcomes.
	CaseNovel    int
	CasePruned   int
	CaseStale    int
	CaseOptimal  int
	CaseTerminal int
	CaseMaxDepth int
	CaseMaxRep   int

	NoveltyEntries int
	TrackedAtoms   int
	Nodes          int
	Tips           int
	Height         int
	RootHeights    []int
	RootValue      float64
	RootSolved     bool
	Reused         bool

	// SeenPositive and SeenNegative count rollouts that reached a node with a
	// positive (negative) immediate reward.
	SeenPositive int
	SeenNegative int

	Total         time.Duration
	SimTime       time.Duration
	ResetTime     time.Duration
	StateTime     time.Duration
	ExpandTime    time.Duration
	UpdateTime    time.Duration
	AtomsTime     time.Duration
	NovelAtomTime time.Duration
}

func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "#rollouts=%d #expansions=%d #sim=%d", s.Rollouts, s.Expansions, s.SimCalls)
	fmt.Fprintf(&b, " #entries=%d/%d", s.NoveltyEntries, s.TrackedAtoms)
	fmt.Fprintf(&b, " #nodes=%d #tips=%d height=[%d:", s.Nodes, s.Tips, s.Height)
	for _, h := range s.RootHeights {
		fmt.Fprintf(&b, "%d:", h)
	}
	b.WriteString("]")
	fmt.Fprintf(&b, " cases=novel:%d,pruned:%d,stale:%d,optimal:%d,terminal:%d,maxdepth:%d,maxrep:%d",
		s.CaseNovel, s.CasePruned, s.CaseStale, s.CaseOptimal, s.CaseTerminal, s.CaseMaxDepth, s.CaseMaxRep)
	fmt.Fprintf(&b, " %%time=[sim=%.1f reset=%.1f state=%.1f expand=%.1f update=%.1f atoms=%.1f novel=%.1f]",
		s.share(s.SimTime), s.share(s.ResetTime), s.share(s.StateTime), s.share(s.ExpandTime),
		s.share(s.UpdateTime), s.share(s.AtomsTime), s.share(s.NovelAtomTime))
	fmt.Fprintf(&b, " total=%s", s.Total.Round(time.Microsecond))
	return b.String()
}

func (s Stats) share(d time.Duration) float64 {
	if s.Total <= 0 {
		return 0
	}
	return 100 * float64(d) / float64(s.Total)
}
