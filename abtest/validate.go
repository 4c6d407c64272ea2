package abtest

import "fmt"

const (
	maxSubjectRefLen = 512
	maxValueLen      = 4096

	// MaxVariants caps the arena size of one experiment.
	MaxVariants = 10
)

// DefaultKinds is the built-in set of valid test_kind values. The exact set
// belongs to the surrounding product; services override it with WithKinds.
var DefaultKinds = map[string]bool{
	"title":            true,
	"meta_description": true,
	"cta":              true,
}

// validateCreateInput validates experiment creation input. The variant set
// is immutable after creation, so everything is checked up front.
func validateCreateInput(in *CreateInput, kinds map[string]bool) error {
	if in.SubjectRef == "" {
		return fmt.Errorf("%w: subject_ref is required", ErrInvalidInput)
	}
	if len(in.SubjectRef) > maxSubjectRefLen {
		return fmt.Errorf("%w: subject_ref exceeds %d characters", ErrInvalidInput, maxSubjectRefLen)
	}
	if !kinds[in.TestKind] {
		return fmt.Errorf("%w: unknown test_kind %q", ErrInvalidInput, in.TestKind)
	}
	if len(in.VariantValues) < 2 {
		return fmt.Errorf("%w: need at least 2 variant values, got %d", ErrInvalidInput, len(in.VariantValues))
	}
	if len(in.VariantValues) > MaxVariants {
		return fmt.Errorf("%w: at most %d variants allowed", ErrInvalidInput, MaxVariants)
	}
	for i, val := range in.VariantValues {
		if val == "" {
			return fmt.Errorf("%w: variant value %d is empty", ErrInvalidInput, i)
		}
		if len(val) > maxValueLen {
			return fmt.Errorf("%w: variant value %d exceeds %d characters", ErrInvalidInput, i, maxValueLen)
		}
	}
	if len(in.Allocations) > 0 {
		if len(in.Allocations) != len(in.VariantValues) {
			return fmt.Errorf("%w: got %d allocations for %d variants", ErrInvalidInput, len(in.Allocations), len(in.VariantValues))
		}
		var sum float64
		for i, pct := range in.Allocations {
			if pct < 0 || pct > 100 {
				return fmt.Errorf("%w: allocation %d out of range: %g", ErrInvalidInput, i, pct)
			}
			sum += pct
		}
		if sum < 100-allocationTolerance || sum > 100+allocationTolerance {
			return fmt.Errorf("%w: allocations must sum to 100, got %g", ErrInvalidInput, sum)
		}
	}
	return nil
}
