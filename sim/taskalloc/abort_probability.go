package taskalloc

import "math"

// NoEstimateAbortProb is returned when there is no usable estimate to compare
// the elapsed time against.
const NoEstimateAbortProb = 0.001

// AbortProbability computes the probability that an agent abandons the task
// it is working on. The curve is a logistic over the relative overrun:
//
//	omega = reactivity * (ratio + offset)
//	p     = 1 / (1 + exp(omega))
//
// Reactivity controls how sharply p responds to changes in the ratio; offset
// shifts how far the ratio may move before p changes quickly.
type AbortProbability struct {
	reactivity float64
	offset     float64
	lastResult float64
}

// NewAbortProbability validates reactivity (> 0) and offset (>= 0).
func NewAbortProbability(reactivity, offset float64) (*AbortProbability, error) {
	if err := validateReactivity(reactivity); err != nil {
		return nil, err
	}
	if err := validateOffset(offset); err != nil {
		return nil, err
	}
	return &AbortProbability{reactivity: reactivity, offset: offset}, nil
}

// Compute is the unpartitioned form: the ratio is the overrun relative to the
// task's own estimate.
func (a *AbortProbability) Compute(execTime float64, estimate *TimeEstimate) float64 {
	if estimate == nil || !estimate.Initialized() || estimate.LastResult() == 0 {
		return a.set(NoEstimateAbortProb)
	}
	ratio := (execTime - estimate.LastResult()) / estimate.LastResult()
	return a.set(a.eval(ratio))
}

// ComputePartitioned is used once a task has been split: the overrun against
// the whole-task estimate is measured relative to the summed subtask estimates.
func (a *AbortProbability) ComputePartitioned(execTime float64, whole, subtask1, subtask2 *TimeEstimate) float64 {
	if whole == nil || subtask1 == nil || subtask2 == nil || !whole.Initialized() {
		return a.set(NoEstimateAbortProb)
	}
	denom := subtask1.LastResult() + subtask2.LastResult()
	if denom <= 0 {
		return a.set(NoEstimateAbortProb)
	}
	ratio := (execTime - whole.LastResult()) / denom
	return a.set(a.eval(ratio))
}

// LastResult returns the most recently computed probability.
func (a *AbortProbability) LastResult() float64 { return a.lastResult }

// Reactivity returns the configured reactivity.
func (a *AbortProbability) Reactivity() float64 { return a.reactivity }

// Offset returns the configured offset.
func (a *AbortProbability) Offset() float64 { return a.offset }

func (a *AbortProbability) eval(ratio float64) float64 {
	omega := a.reactivity * (ratio + a.offset)
	p := 1 / (1 + math.Exp(omega))
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return NoEstimateAbortProb
	}
	// keep p strictly inside (0,1) when exp saturates
	return math.Min(math.Max(p, math.SmallestNonzeroFloat64), math.Nextafter(1, 0))
}

func (a *AbortProbability) set(p float64) float64 {
	a.lastResult = p
	return p
}
