package trace

import (
	"io"

	"github.com/google/uuid"
)

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions keeps committed partitions, aborts, phase completions and fatals.
	TraceLevelDecisions TraceLevel = "decisions"
	// TraceLevelAll additionally keeps every draw that did not change anything.
	TraceLevelAll TraceLevel = "all"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	TraceLevelAll:       true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// DecisionTrace collects the decision records of one agent. Like the agent it
// belongs to, it is owned by a single goroutine.
type DecisionTrace struct {
	Config     TraceConfig
	RunID      string
	AgentID    string
	Partitions []PartitionRecord
	Aborts     []AbortRecord
	Phases     []PhaseRecord
	Fatals     []FatalRecord
}

// NewID returns a random UUID drawn from ids. A nil reader, or one that
// fails, falls back to crypto randomness.
func NewID(ids io.Reader) string {
	if ids != nil {
		if id, err := uuid.NewRandomFromReader(ids); err == nil {
			return id.String()
		}
	}
	return uuid.NewString()
}

// NewDecisionTrace creates a DecisionTrace ready for recording. The run ID is
// drawn from ids, so a seeded reader gives reproducible traces; nil uses
// crypto randomness.
func NewDecisionTrace(config TraceConfig, agentID string, ids io.Reader) *DecisionTrace {
	return &DecisionTrace{
		Config:     config,
		RunID:      NewID(ids),
		AgentID:    agentID,
		Partitions: make([]PartitionRecord, 0),
		Aborts:     make([]AbortRecord, 0),
		Phases:     make([]PhaseRecord, 0),
		Fatals:     make([]FatalRecord, 0),
	}
}

// Enabled reports whether anything is recorded at all.
func (dt *DecisionTrace) Enabled() bool {
	return dt.Config.Level != TraceLevelNone && dt.Config.Level != ""
}

func (dt *DecisionTrace) keep(decisive bool) bool {
	switch dt.Config.Level {
	case TraceLevelAll:
		return true
	case TraceLevelDecisions:
		return decisive
	default:
		return false
	}
}

// RecordPartition appends a partition draw; uncommitted draws are kept only at TraceLevelAll.
func (dt *DecisionTrace) RecordPartition(record PartitionRecord) {
	if dt.keep(record.Committed) {
		dt.Partitions = append(dt.Partitions, record)
	}
}

// RecordAbort appends an abort draw; draws that did not abort are kept only at TraceLevelAll.
func (dt *DecisionTrace) RecordAbort(record AbortRecord) {
	if dt.keep(record.Aborted) {
		dt.Aborts = append(dt.Aborts, record)
	}
}

// RecordPhase appends a completed phase.
func (dt *DecisionTrace) RecordPhase(record PhaseRecord) {
	if dt.keep(true) {
		dt.Phases = append(dt.Phases, record)
	}
}

// RecordFatal appends a fatal halt.
func (dt *DecisionTrace) RecordFatal(record FatalRecord) {
	if dt.keep(true) {
		dt.Fatals = append(dt.Fatals, record)
	}
}
