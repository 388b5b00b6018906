package taskalloc

import "math"

// UnknownPartitionProb is returned when the estimates cannot be compared.
const UnknownPartitionProb = 0.5

// PartitionProbability computes the probability of executing a task as its
// two subtasks instead of as a whole. It is 0.5 when the whole-task estimate
// equals the sum of the subtask estimates, rises above 0.5 when the whole task
// is slower than its parts, and falls below 0.5 otherwise.
type PartitionProbability struct {
	reactivity float64
	lastResult float64
}

// NewPartitionProbability validates reactivity (> 0).
func NewPartitionProbability(reactivity float64) (*PartitionProbability, error) {
	if err := validateReactivity(reactivity); err != nil {
		return nil, err
	}
	return &PartitionProbability{reactivity: reactivity}, nil
}

// Compute evaluates the curve for the given estimates.
func (p *PartitionProbability) Compute(taskEstimate, subtask1Estimate, subtask2Estimate float64) float64 {
	sum := subtask1Estimate + subtask2Estimate
	if taskEstimate <= 0 || sum <= 0 {
		return p.set(UnknownPartitionProb)
	}
	var x float64
	if taskEstimate > sum {
		x = taskEstimate/sum - 1
	} else {
		x = 1 - sum/taskEstimate
	}
	res := 1 / (1 + math.Exp(-p.reactivity*x))
	if math.IsNaN(res) || math.IsInf(res, 0) {
		return p.set(UnknownPartitionProb)
	}
	return p.set(res)
}

// LastResult returns the most recently computed probability.
func (p *PartitionProbability) LastResult() float64 { return p.lastResult }

// Reactivity returns the configured reactivity.
func (p *PartitionProbability) Reactivity() float64 { return p.reactivity }

func (p *PartitionProbability) set(v float64) float64 {
	p.lastResult = v
	return v
}
