// Package trace provides decision-trace recording for per-agent task allocation analysis.
// This package has no dependencies on sim/ or its other sub-packages; it stores pure data types.
package trace

// Phase names a timed portion of a task instance.
type Phase string

const (
	PhaseExec      Phase = "exec"
	PhaseInterface Phase = "interface"
)

// PartitionRecord captures one partition draw for an unpartitioned task instance.
type PartitionRecord struct {
	Task        string
	InstanceID  string
	Clock       float64 // seconds
	Probability float64
	Draw        float64
	Committed   bool // draw < probability
}

// AbortRecord captures one abort draw.
type AbortRecord struct {
	Task        string
	InstanceID  string
	Clock       float64
	ExecTime    float64
	Probability float64
	Draw        float64
	Partitioned bool // partitioned form of the abort curve was used
	Aborted     bool
}

// PhaseRecord captures a completed phase and the estimate after folding it in.
type PhaseRecord struct {
	Task       string
	InstanceID string
	Phase      Phase
	Clock      float64
	Duration   float64
	Estimate   float64
}

// FatalRecord captures a dispatcher error that halted an agent's engine.
type FatalRecord struct {
	Task  string
	Clock float64
	Error string
}
