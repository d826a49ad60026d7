// Package metrics exports planner and episode counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brensch/rolloutiw/episode"
)

const namespace = "rolloutiw"

// Recorder holds every collector. All methods are safe for concurrent use.
type Recorder struct {
	reg prometheus.Gatherer

	Decisions        *prometheus.CounterVec
	Rollouts         *prometheus.CounterVec
	Expansions       *prometheus.CounterVec
	SimCalls         *prometheus.CounterVec
	Cases            *prometheus.CounterVec
	ReusedRoots      *prometheus.CounterVec
	DecisionDuration *prometheus.HistogramVec
	TreeNodes        *prometheus.HistogramVec
	BranchLength     *prometheus.HistogramVec

	Steps           *prometheus.CounterVec
	Episodes        *prometheus.CounterVec
	EpisodeScore    *prometheus.HistogramVec
	ActiveEpisodes  prometheus.Gauge
	LastRootValue   *prometheus.GaugeVec
	NoveltyCoverage *prometheus.GaugeVec
}

// New registers the collectors on reg. Passing a fresh prometheus.NewRegistry
// keeps tests isolated from the default registry.
func New(reg *prometheus.Registry) *Recorder {
	f := promauto.With(reg)
	byPlanner := []string{"planner"}
	return &Recorder{
		reg: reg,
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "planner", Name: "decisions_total",
			Help: "Planner calls.",
		}, byPlanner),
		Rollouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "planner", Name: "rollouts_total",
			Help: "Rollouts performed across decisions.",
		}, byPlanner),
		Expansions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "planner", Name: "expansions_total",
			Help: "Tree nodes expanded.",
		}, byPlanner),
		SimCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "planner", Name: "simulator_calls_total",
			Help: "Simulator steps taken while planning.",
		}, byPlanner),
		Cases: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "planner", Name: "node_cases_total",
			Help: "Node classification outcomes by case.",
		}, []string{"planner", "case"}),
		ReusedRoots: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "planner", Name: "reused_roots_total",
			Help: "Decisions that continued from the previous tree.",
		}, byPlanner),
		DecisionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "planner", Name: "decision_duration_seconds",
			Help:    "Wall time per planner call.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, byPlanner),
		TreeNodes: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "planner", Name: "tree_nodes",
			Help:    "Tree size after each decision.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}, byPlanner),
		BranchLength: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "planner", Name: "branch_length",
			Help:    "Actions returned per decision.",
			Buckets: prometheus.LinearBuckets(1, 5, 10),
		}, byPlanner),

		Steps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "episode", Name: "steps_total",
			Help: "Actions executed in the live arena.",
		}, byPlanner),
		Episodes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "episode", Name: "finished_total",
			Help: "Finished episodes by outcome.",
		}, []string{"planner", "outcome"}),
		EpisodeScore: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "episode", Name: "score",
			Help:    "Final episode scores.",
			Buckets: prometheus.LinearBuckets(0, 2, 16),
		}, byPlanner),
		ActiveEpisodes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "episode", Name: "active",
			Help: "Episodes currently running.",
		}),
		LastRootValue: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "planner", Name: "root_value",
			Help: "Backed-up value of the last decision's root.",
		}, byPlanner),
		NoveltyCoverage: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "planner", Name: "novelty_coverage_ratio",
			Help: "Fraction of the atom space recorded in the last decision's novelty table.",
		}, byPlanner),
	}
}

// ObserveDecision records one planner call.
func (r *Recorder) ObserveDecision(plannerName string, d episode.Decision) {
	s := d.Stats
	r.Decisions.WithLabelValues(plannerName).Inc()
	r.Rollouts.WithLabelValues(plannerName).Add(float64(s.Rollouts))
	r.Expansions.WithLabelValues(plannerName).Add(float64(s.Expansions))
	r.SimCalls.WithLabelValues(plannerName).Add(float64(s.SimCalls))
	for name, n := range map[string]int{
		"novel":     s.CaseNovel,
		"pruned":    s.CasePruned,
		"stale":     s.CaseStale,
		"optimal":   s.CaseOptimal,
		"terminal":  s.CaseTerminal,
		"max_depth": s.CaseMaxDepth,
		"max_rep":   s.CaseMaxRep,
	} {
		if n > 0 {
			r.Cases.WithLabelValues(plannerName, name).Add(float64(n))
		}
	}
	if s.Reused {
		r.ReusedRoots.WithLabelValues(plannerName).Inc()
	}
	r.DecisionDuration.WithLabelValues(plannerName).Observe(s.Total.Seconds())
	r.TreeNodes.WithLabelValues(plannerName).Observe(float64(s.Nodes))
	r.BranchLength.WithLabelValues(plannerName).Observe(float64(len(d.Branch)))
	r.LastRootValue.WithLabelValues(plannerName).Set(s.RootValue)
	if s.TrackedAtoms > 0 {
		r.NoveltyCoverage.WithLabelValues(plannerName).Set(float64(s.NoveltyEntries) / float64(s.TrackedAtoms))
	}
}

func (r *Recorder) ObserveStep(plannerName string, _ episode.Step) {
	r.Steps.WithLabelValues(plannerName).Inc()
}

func (r *Recorder) EpisodeStarted() { r.ActiveEpisodes.Inc() }

// EpisodeFinished records a result. Outcome is one of game_over, max_length,
// aborted or error.
func (r *Recorder) EpisodeFinished(plannerName string, res episode.Result, err error) {
	r.ActiveEpisodes.Dec()
	outcome := "max_length"
	switch {
	case err != nil:
		outcome = "error"
	case res.Aborted:
		outcome = "aborted"
	case res.Terminal:
		outcome = "game_over"
	}
	r.Episodes.WithLabelValues(plannerName, outcome).Inc()
	if err == nil {
		r.EpisodeScore.WithLabelValues(plannerName).Observe(res.Score)
	}
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
