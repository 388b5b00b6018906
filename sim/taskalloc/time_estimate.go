package taskalloc

// TimeEstimate is an exponentially weighted running estimate of how long a
// task phase takes. The first sample seeds the estimate; later samples are
// blended in with weight alpha.
type TimeEstimate struct {
	alpha       float64
	lastResult  float64
	initialized bool
}

// NewTimeEstimate returns an empty estimate. alpha must be in (0,1].
func NewTimeEstimate(alpha float64) (*TimeEstimate, error) {
	if err := validateAlpha(alpha); err != nil {
		return nil, err
	}
	return &TimeEstimate{alpha: alpha}, nil
}

// Update folds a completed-phase duration into the estimate and returns it.
func (e *TimeEstimate) Update(sample float64) float64 {
	if !e.initialized {
		e.lastResult = sample
		e.initialized = true
		return e.lastResult
	}
	e.lastResult = e.alpha*sample + (1-e.alpha)*e.lastResult
	return e.lastResult
}

// LastResult returns the current estimate (0 before the first Update).
func (e *TimeEstimate) LastResult() float64 { return e.lastResult }

// Initialized reports whether at least one sample has been folded in.
func (e *TimeEstimate) Initialized() bool { return e.initialized }

// Alpha returns the weight given to new samples.
func (e *TimeEstimate) Alpha() float64 { return e.alpha }
