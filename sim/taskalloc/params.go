package taskalloc

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is wrapped by every constructor that rejects its parameters.
// Parameters are never clamped into range.
var ErrInvalidConfig = errors.New("invalid task allocation config")

// TaskParams holds the per-task-type values supplied by the configuration
// loader: the EWMA weight shared by both phase estimates, and the shape of the
// abort/partition curves.
type TaskParams struct {
	EstimationAlpha float64 `yaml:"estimation_alpha"`
	Reactivity      float64 `yaml:"reactivity"`
	Offset          float64 `yaml:"offset"`
}

// Validate checks every parameter range.
func (p TaskParams) Validate() error {
	if err := validateAlpha(p.EstimationAlpha); err != nil {
		return err
	}
	if err := validateReactivity(p.Reactivity); err != nil {
		return err
	}
	return validateOffset(p.Offset)
}

func validateAlpha(alpha float64) error {
	if math.IsNaN(alpha) || alpha <= 0 || alpha > 1 {
		return fmt.Errorf("%w: estimation_alpha must be in (0,1], got %v", ErrInvalidConfig, alpha)
	}
	return nil
}

func validateReactivity(reactivity float64) error {
	if math.IsNaN(reactivity) || math.IsInf(reactivity, 0) || reactivity <= 0 {
		return fmt.Errorf("%w: reactivity must be positive and finite, got %v", ErrInvalidConfig, reactivity)
	}
	return nil
}

// validateOffset accepts zero: an offset of zero means no overrun is tolerated
// before the abort curve starts to rise.
func validateOffset(offset float64) error {
	if math.IsNaN(offset) || math.IsInf(offset, 0) || offset < 0 {
		return fmt.Errorf("%w: offset must be non-negative and finite, got %v", ErrInvalidConfig, offset)
	}
	return nil
}
