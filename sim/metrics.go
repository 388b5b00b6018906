// Aggregates per-agent reports into run-wide decision statistics.

package sim

import (
	"fmt"
	"io"
	"os"
	"sort"
)

// Metrics aggregates statistics about a run across agents
// for final reporting.
type Metrics struct {
	Agents          int   // Number of agents reported
	HaltedAgents    int   // Agents stopped by a fatal error
	Ticks           int64 // Control cycles summed over agents
	RootCompletions int   // Root instances that finished
	RootAborts      int   // Root instances that were abandoned

	Tasks map[string]*TaskMetrics // task name -> totals over agents
}

// TaskMetrics sums one task type over every agent.
type TaskMetrics struct {
	Started             int
	Completed           int
	Aborted             int
	Partitioned         int
	InterfacesCompleted int

	execEstimateSum float64
	estimated       int // agents with a non-zero exec estimate
}

// MeanExecEstimate averages the exec-time estimate over agents that have one.
func (t *TaskMetrics) MeanExecEstimate() float64 {
	if t.estimated == 0 {
		return 0
	}
	return t.execEstimateSum / float64(t.estimated)
}

// NewMetrics returns an empty Metrics.
func NewMetrics() *Metrics {
	return &Metrics{Tasks: make(map[string]*TaskMetrics)}
}

// Add folds one agent report into the totals.
func (m *Metrics) Add(r AgentReport) {
	m.Agents++
	if r.Halted {
		m.HaltedAgents++
	}
	m.Ticks += r.Ticks
	m.RootCompletions += r.RootCompletions
	m.RootAborts += r.RootAborts
	for _, t := range r.Tasks {
		tm, ok := m.Tasks[t.Name]
		if !ok {
			tm = &TaskMetrics{}
			m.Tasks[t.Name] = tm
		}
		tm.Started += t.Stats.Started
		tm.Completed += t.Stats.Completed
		tm.Aborted += t.Stats.Aborted
		tm.Partitioned += t.Stats.Partitioned
		tm.InterfacesCompleted += t.Stats.InterfacesCompleted
		if t.ExecEstimate > 0 {
			tm.execEstimateSum += t.ExecEstimate
			tm.estimated++
		}
	}
}

// Print displays aggregated metrics at the end of the run.
func (m *Metrics) Print() {
	m.Fprint(os.Stdout)
}

// Fprint writes the aggregated metrics to w.
func (m *Metrics) Fprint(w io.Writer) {
	fmt.Fprintln(w, "=== Simulation Metrics ===")
	fmt.Fprintf(w, "Agents               : %d (%d halted)\n", m.Agents, m.HaltedAgents)
	fmt.Fprintf(w, "Control Cycles       : %d\n", m.Ticks)
	fmt.Fprintf(w, "Root Completions     : %d\n", m.RootCompletions)
	fmt.Fprintf(w, "Root Aborts          : %d\n", m.RootAborts)
	if finished := m.RootCompletions + m.RootAborts; finished > 0 {
		fmt.Fprintf(w, "Root Abort Rate      : %.3f\n", float64(m.RootAborts)/float64(finished))
	}

	names := make([]string, 0, len(m.Tasks))
	for name := range m.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := m.Tasks[name]
		fmt.Fprintf(w, "--- task %s ---\n", name)
		fmt.Fprintf(w, "  Started            : %d\n", t.Started)
		fmt.Fprintf(w, "  Completed          : %d\n", t.Completed)
		fmt.Fprintf(w, "  Aborted            : %d\n", t.Aborted)
		fmt.Fprintf(w, "  Partitioned        : %d\n", t.Partitioned)
		fmt.Fprintf(w, "  Interfaces         : %d\n", t.InterfacesCompleted)
		fmt.Fprintf(w, "  Mean Exec Estimate : %.2fs\n", t.MeanExecEstimate())
	}
}
