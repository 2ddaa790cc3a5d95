package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	trackedRoots = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "lineage",
		Name:      "tracked_roots",
		Help:      "Number of process trees currently held in the registry.",
	})

	trackedProcesses = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lineage",
		Name:      "tracked_processes",
		Help:      "Number of processes per tree by liveness state.",
	}, []string{"tree", "state"})

	stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lineage",
		Name:      "state_transitions_total",
		Help:      "Total number of observed process state transitions.",
	}, []string{"state"})

	launches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lineage",
		Name:      "launches_total",
		Help:      "Launch attempts by strategy and result.",
	}, []string{"strategy", "result"})

	killOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lineage",
		Name:      "kill_outcomes_total",
		Help:      "Per-process termination outcomes.",
	}, []string{"outcome"})

	refreshLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "lineage",
		Name:      "refresh_duration_seconds",
		Help:      "Duration of rescan plus liveness refresh passes over one tree.",
	})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lineage",
		Name:      "build_info",
		Help:      "Build metadata for the running lineage binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(trackedRoots, trackedProcesses, stateTransitions, launches, killOutcomes, refreshLatency, buildInfo)
}

// Registry returns the Prometheus registry containing all lineage metrics.
func Registry() *prometheus.Registry {
	return registry
}

// SetTrackedRoots records the current registry size.
func SetTrackedRoots(n int) {
	if n < 0 {
		n = 0
	}
	trackedRoots.Set(float64(n))
}

// SetTreeProcesses records alive and dead process counts for a tree.
func SetTreeProcesses(tree string, alive, dead int) {
	if tree == "" {
		return
	}
	trackedProcesses.WithLabelValues(tree, "alive").Set(float64(alive))
	trackedProcesses.WithLabelValues(tree, "dead").Set(float64(dead))
}

// IncrementTransition counts a transition into state.
func IncrementTransition(state string) {
	if state == "" {
		return
	}
	stateTransitions.WithLabelValues(state).Inc()
}

// ObserveLaunch counts a launch attempt.
func ObserveLaunch(strategy, result string) {
	if strategy == "" {
		strategy = "unknown"
	}
	launches.WithLabelValues(strategy, result).Inc()
}

// AddKillOutcome counts n termination outcomes of the given kind.
func AddKillOutcome(outcome string, n int) {
	if outcome == "" || n <= 0 {
		return
	}
	killOutcomes.WithLabelValues(outcome).Add(float64(n))
}

// ObserveRefresh records the latency of a refresh pass.
func ObserveRefresh(d time.Duration) {
	refreshLatency.Observe(d.Seconds())
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}

// ResetTree clears per-tree series once a tree is forgotten.
func ResetTree(tree string) {
	if tree == "" {
		return
	}
	trackedProcesses.DeleteLabelValues(tree, "alive")
	trackedProcesses.DeleteLabelValues(tree, "dead")
}
