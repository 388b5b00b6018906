// Package workload samples the amount of work a task instance needs.
//
// Samplers return whole control cycles (ticks). Every task instance of the
// demo work FSM draws its size once, on entry, from the agent's work stream.
package workload

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
)

// WorkSampler generates work sizes in ticks.
type WorkSampler interface {
	// Sample returns a positive tick count (>= 1).
	Sample(rng *rand.Rand) int
}

// DistSpec parameterizes a work-size distribution.
type DistSpec struct {
	Type   string             `yaml:"type"`
	Params map[string]float64 `yaml:"params,omitempty"`
}

var validDistTypes = map[string]bool{
	"constant": true, "gaussian": true, "exponential": true, "empirical": true,
}

// Validate checks the distribution type and its parameters without building a sampler.
func (d DistSpec) Validate() error {
	if !validDistTypes[d.Type] {
		return fmt.Errorf("unknown distribution type %q; valid: constant, gaussian, exponential, empirical", d.Type)
	}
	_, err := NewWorkSampler(d)
	return err
}

// GaussianSampler produces clamped Gaussian work sizes.
type GaussianSampler struct {
	mean, stdDev float64
	min, max     int
}

func (s *GaussianSampler) Sample(rng *rand.Rand) int {
	if s.min == s.max {
		return s.min
	}
	val := rng.NormFloat64()*s.stdDev + s.mean
	clamped := math.Min(float64(s.max), math.Max(float64(s.min), val))
	result := int(math.Round(clamped))
	if result < 1 {
		return 1
	}
	return result
}

// ExponentialSampler produces exponentially-distributed work sizes.
type ExponentialSampler struct {
	mean float64
}

func (s *ExponentialSampler) Sample(rng *rand.Rand) int {
	val := rng.ExpFloat64() * s.mean
	if math.IsInf(val, 0) || math.IsNaN(val) {
		return 1
	}
	result := int(math.Round(val))
	if result < 1 {
		return 1
	}
	return result
}

// EmpiricalSampler samples from an empirical tick-count distribution using
// the inverse CDF.
type EmpiricalSampler struct {
	values []int
	cdf    []float64
}

// NewEmpiricalSampler builds a sampler from a tick count -> weight map.
// Weights are normalized; non-positive weights are skipped.
func NewEmpiricalSampler(pdf map[int]float64) *EmpiricalSampler {
	keys := make([]int, 0, len(pdf))
	total := 0.0
	for k, p := range pdf {
		if p <= 0 {
			continue
		}
		keys = append(keys, k)
		total += p
	}
	sort.Ints(keys)

	values := make([]int, 0, len(keys))
	cdf := make([]float64, 0, len(keys))
	cumulative := 0.0
	for _, k := range keys {
		cumulative += pdf[k] / total
		values = append(values, k)
		cdf = append(cdf, cumulative)
	}
	if len(cdf) > 0 {
		cdf[len(cdf)-1] = 1.0
	}
	return &EmpiricalSampler{values: values, cdf: cdf}
}

func (s *EmpiricalSampler) Sample(rng *rand.Rand) int {
	if len(s.values) == 0 {
		return 1
	}
	if len(s.values) == 1 {
		return max(s.values[0], 1)
	}
	idx := sort.SearchFloat64s(s.cdf, rng.Float64())
	if idx >= len(s.values) {
		idx = len(s.values) - 1
	}
	return max(s.values[idx], 1)
}

// ConstantSampler always returns the same size.
type ConstantSampler struct {
	value int
}

func (s *ConstantSampler) Sample(_ *rand.Rand) int {
	if s.value < 1 {
		return 1
	}
	return s.value
}

func requireParam(params map[string]float64, keys ...string) error {
	for _, k := range keys {
		v, ok := params[k]
		if !ok {
			return fmt.Errorf("distribution requires parameter %q", k)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("distribution parameter %q must be finite, got %f", k, v)
		}
	}
	return nil
}

// NewWorkSampler creates a WorkSampler from a DistSpec.
func NewWorkSampler(spec DistSpec) (WorkSampler, error) {
	switch spec.Type {
	case "constant":
		if err := requireParam(spec.Params, "value"); err != nil {
			return nil, err
		}
		if spec.Params["value"] < 1 {
			return nil, fmt.Errorf("constant value must be >= 1, got %f", spec.Params["value"])
		}
		return &ConstantSampler{value: int(spec.Params["value"])}, nil

	case "gaussian":
		if err := requireParam(spec.Params, "mean", "std_dev", "min", "max"); err != nil {
			return nil, err
		}
		lo, hi := int(spec.Params["min"]), int(spec.Params["max"])
		if lo < 1 || hi < lo {
			return nil, fmt.Errorf("gaussian bounds must satisfy 1 <= min <= max, got [%d, %d]", lo, hi)
		}
		if spec.Params["std_dev"] < 0 {
			return nil, fmt.Errorf("gaussian std_dev must be non-negative, got %f", spec.Params["std_dev"])
		}
		return &GaussianSampler{
			mean:   spec.Params["mean"],
			stdDev: spec.Params["std_dev"],
			min:    lo,
			max:    hi,
		}, nil

	case "exponential":
		if err := requireParam(spec.Params, "mean"); err != nil {
			return nil, err
		}
		if spec.Params["mean"] <= 0 {
			return nil, fmt.Errorf("exponential mean must be positive, got %f", spec.Params["mean"])
		}
		return &ExponentialSampler{mean: spec.Params["mean"]}, nil

	case "empirical":
		pdf := make(map[int]float64, len(spec.Params))
		for k, v := range spec.Params {
			ticks, err := strconv.Atoi(k)
			if err != nil {
				return nil, fmt.Errorf("empirical key %q is not an integer: %w", k, err)
			}
			if ticks < 1 {
				return nil, fmt.Errorf("empirical key %d must be >= 1", ticks)
			}
			if err := requireParam(spec.Params, k); err != nil {
				return nil, err
			}
			pdf[ticks] = v
		}
		s := NewEmpiricalSampler(pdf)
		if len(s.values) == 0 {
			return nil, fmt.Errorf("empirical distribution has no positive bins")
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown distribution type %q", spec.Type)
	}
}
