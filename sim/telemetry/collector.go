// Package telemetry exports agent reports as Prometheus metrics.
package telemetry

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inference-sim/taskalloc-sim/sim"
)

const namespace = "taskalloc"

// Collector turns the cumulative counters of successive agent reports into
// Prometheus counter increments and keeps per-task estimate gauges current.
// It implements sim.Observer and is safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry

	cycles        prometheus.Counter
	rootInstances *prometheus.CounterVec
	taskInstances *prometheus.CounterVec
	partitions    *prometheus.CounterVec
	interfaces    *prometheus.CounterVec
	haltedAgents  prometheus.Counter
	execEstimate  *prometheus.GaugeVec
	abortProb     *prometheus.GaugeVec
	partitionProb *prometheus.GaugeVec

	mu   sync.Mutex
	last map[int]sim.AgentReport
}

var _ sim.Observer = (*Collector)(nil)

// NewCollector registers every metric on a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cycles_total",
			Help: "Control cycles run, summed over agents.",
		}),
		rootInstances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "root_instances_total",
			Help: "Root task instances that ended, by outcome.",
		}, []string{"outcome"}),
		taskInstances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "task_instances_total",
			Help: "Task instances that ended, by task and outcome.",
		}, []string{"task", "outcome"}),
		partitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "task_partitions_total",
			Help: "Instances that committed to their subtasks.",
		}, []string{"task"}),
		interfaces: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "task_interfaces_total",
			Help: "Completed interface phases.",
		}, []string{"task"}),
		haltedAgents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "agents_halted_total",
			Help: "Agents stopped by a fatal error.",
		}),
		execEstimate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "task_exec_estimate_seconds",
			Help: "Current execution-time estimate.",
		}, []string{"agent", "task"}),
		abortProb: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "task_abort_probability",
			Help: "Abort probability computed in the last cycle.",
		}, []string{"agent", "task"}),
		partitionProb: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "task_partition_probability",
			Help: "Partition probability computed in the last cycle.",
		}, []string{"agent", "task"}),
		last: make(map[int]sim.AgentReport),
	}
	c.registry.MustRegister(
		c.cycles, c.rootInstances, c.taskInstances, c.partitions, c.interfaces,
		c.haltedAgents, c.execEstimate, c.abortProb, c.partitionProb,
	)
	return c
}

// Registry returns the registry the metrics live on.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Observe implements sim.Observer.
func (c *Collector) Observe(r sim.AgentReport) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.last[r.AgentID]
	addDelta(c.cycles, int(r.Ticks-prev.Ticks))
	addDelta(c.rootInstances.WithLabelValues("finished"), r.RootCompletions-prev.RootCompletions)
	addDelta(c.rootInstances.WithLabelValues("aborted"), r.RootAborts-prev.RootAborts)
	if r.Halted && !prev.Halted {
		c.haltedAgents.Inc()
	}

	before := make(map[string]sim.TaskReport, len(prev.Tasks))
	for _, t := range prev.Tasks {
		before[t.Name] = t
	}
	agent := strconv.Itoa(r.AgentID)
	for _, t := range r.Tasks {
		p := before[t.Name].Stats
		addDelta(c.taskInstances.WithLabelValues(t.Name, "finished"), t.Stats.Completed-p.Completed)
		addDelta(c.taskInstances.WithLabelValues(t.Name, "aborted"), t.Stats.Aborted-p.Aborted)
		addDelta(c.partitions.WithLabelValues(t.Name), t.Stats.Partitioned-p.Partitioned)
		addDelta(c.interfaces.WithLabelValues(t.Name), t.Stats.InterfacesCompleted-p.InterfacesCompleted)
		c.execEstimate.WithLabelValues(agent, t.Name).Set(t.ExecEstimate)
		c.abortProb.WithLabelValues(agent, t.Name).Set(t.AbortProbability)
		c.partitionProb.WithLabelValues(agent, t.Name).Set(t.PartitionProbability)
	}
	c.last[r.AgentID] = r
}

// addDelta adds only forward progress; counters cannot go down.
func addDelta(c prometheus.Counter, delta int) {
	if delta > 0 {
		c.Add(float64(delta))
	}
}
