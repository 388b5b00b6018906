package sim

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/taskalloc-sim/sim/taskalloc"
	"github.com/inference-sim/taskalloc-sim/sim/workload"
)

// ScenarioConfig describes the task tree every agent of a run executes.
// Tasks form a tree through their subtasks lists; Root names the top task.
type ScenarioConfig struct {
	Name           string       `yaml:"name"`
	TickSeconds    float64      `yaml:"tick_seconds"`
	MaxTransitions int          `yaml:"max_transitions,omitempty"` // per control cycle; 0 uses the dispatcher default
	Root           string       `yaml:"root"`
	Tasks          []TaskConfig `yaml:"tasks"`
}

// TaskConfig configures one task type.
type TaskConfig struct {
	Name         string               `yaml:"name"`
	Params       taskalloc.TaskParams `yaml:"params"`
	Work         workload.DistSpec    `yaml:"work"`
	HandoffTicks int                  `yaml:"handoff_ticks,omitempty"` // interface phase length; 0 skips it
	Subtasks     []string             `yaml:"subtasks,omitempty"`      // empty, or exactly two children
}

// LoadScenario reads and parses a YAML scenario file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadScenario(path string) (*ScenarioConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return ParseScenario(bytes.NewReader(data))
}

// ParseScenario decodes a scenario from r without validating it.
func ParseScenario(r io.Reader) (*ScenarioConfig, error) {
	var cfg ScenarioConfig
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	return &cfg, nil
}

// Task returns the configuration of the named task, or nil.
func (s *ScenarioConfig) Task(name string) *TaskConfig {
	for i := range s.Tasks {
		if s.Tasks[i].Name == name {
			return &s.Tasks[i]
		}
	}
	return nil
}

// Validate checks parameter ranges and the shape of the task tree.
func (s *ScenarioConfig) Validate() error {
	if math.IsNaN(s.TickSeconds) || math.IsInf(s.TickSeconds, 0) || s.TickSeconds <= 0 {
		return fmt.Errorf("tick_seconds must be positive and finite, got %v", s.TickSeconds)
	}
	if s.MaxTransitions < 0 {
		return fmt.Errorf("max_transitions must be non-negative, got %d", s.MaxTransitions)
	}
	if len(s.Tasks) == 0 {
		return fmt.Errorf("scenario has no tasks")
	}

	seen := make(map[string]bool, len(s.Tasks))
	for i, t := range s.Tasks {
		if t.Name == "" {
			return fmt.Errorf("task[%d]: name is required", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("task[%d]: duplicate name %q", i, t.Name)
		}
		seen[t.Name] = true
		if err := t.Params.Validate(); err != nil {
			return fmt.Errorf("task %q: %w", t.Name, err)
		}
		if err := t.Work.Validate(); err != nil {
			return fmt.Errorf("task %q: work: %w", t.Name, err)
		}
		if t.HandoffTicks < 0 {
			return fmt.Errorf("task %q: handoff_ticks must be non-negative, got %d", t.Name, t.HandoffTicks)
		}
		if n := len(t.Subtasks); n != 0 && n != 2 {
			return fmt.Errorf("task %q: a partitionable task needs exactly 2 subtasks, got %d", t.Name, n)
		}
	}

	if !seen[s.Root] {
		return fmt.Errorf("root task %q is not defined", s.Root)
	}
	parentOf := make(map[string]string, len(s.Tasks))
	for _, t := range s.Tasks {
		if len(t.Subtasks) == 2 && t.Subtasks[0] == t.Subtasks[1] {
			return fmt.Errorf("task %q: subtasks must differ", t.Name)
		}
		for _, sub := range t.Subtasks {
			switch {
			case !seen[sub]:
				return fmt.Errorf("task %q: unknown subtask %q", t.Name, sub)
			case sub == s.Root:
				return fmt.Errorf("task %q: root task %q cannot be a subtask", t.Name, sub)
			case parentOf[sub] != "":
				return fmt.Errorf("task %q: subtask %q already belongs to %q", t.Name, sub, parentOf[sub])
			}
			parentOf[sub] = t.Name
		}
	}

	// every task must hang off the root
	reached := 0
	queue := []string{s.Root}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		reached++
		queue = append(queue, s.Task(name).Subtasks...)
	}
	if reached != len(s.Tasks) {
		return fmt.Errorf("%d task(s) are not reachable from root %q", len(s.Tasks)-reached, s.Root)
	}
	return nil
}
