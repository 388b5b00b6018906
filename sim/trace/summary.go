package trace

// TaskSummary aggregates the records of one task.
type TaskSummary struct {
	Completions      int
	Aborts           int
	Partitions       int
	MeanExecTime     float64 // mean duration of completed exec phases
	LastExecEstimate float64
}

// TraceSummary aggregates statistics from a DecisionTrace.
type TraceSummary struct {
	AbortDraws        int
	AbortCount        int
	PartitionDraws    int
	PartitionCount    int
	PhaseCount        int
	FatalCount        int
	MeanAbortProb     float64
	MaxAbortProb      float64
	MeanPartitionProb float64
	Tasks             map[string]*TaskSummary
}

// Summarize computes aggregate statistics from a DecisionTrace.
// Safe for nil or empty traces (returns zero-value fields).
// Draw counts only include the draws the trace level retained.
func Summarize(dt *DecisionTrace) *TraceSummary {
	summary := &TraceSummary{
		Tasks: make(map[string]*TaskSummary),
	}
	if dt == nil {
		return summary
	}
	task := func(name string) *TaskSummary {
		ts, ok := summary.Tasks[name]
		if !ok {
			ts = &TaskSummary{}
			summary.Tasks[name] = ts
		}
		return ts
	}

	summary.AbortDraws = len(dt.Aborts)
	if len(dt.Aborts) > 0 {
		total := 0.0
		for _, a := range dt.Aborts {
			total += a.Probability
			if a.Probability > summary.MaxAbortProb {
				summary.MaxAbortProb = a.Probability
			}
			if a.Aborted {
				summary.AbortCount++
				task(a.Task).Aborts++
			}
		}
		summary.MeanAbortProb = total / float64(len(dt.Aborts))
	}

	summary.PartitionDraws = len(dt.Partitions)
	if len(dt.Partitions) > 0 {
		total := 0.0
		for _, p := range dt.Partitions {
			total += p.Probability
			if p.Committed {
				summary.PartitionCount++
				task(p.Task).Partitions++
			}
		}
		summary.MeanPartitionProb = total / float64(len(dt.Partitions))
	}

	summary.PhaseCount = len(dt.Phases)
	execTotals := make(map[string]float64)
	for _, ph := range dt.Phases {
		if ph.Phase != PhaseExec {
			continue
		}
		ts := task(ph.Task)
		ts.Completions++
		ts.LastExecEstimate = ph.Estimate
		execTotals[ph.Task] += ph.Duration
	}
	for name, total := range execTotals {
		ts := summary.Tasks[name]
		ts.MeanExecTime = total / float64(ts.Completions)
	}

	summary.FatalCount = len(dt.Fatals)
	return summary
}
