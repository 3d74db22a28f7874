package plan

import (
	"fmt"
	"strings"
)

// ValidationError describes one structural defect in a plan.
type ValidationError struct {
	StepIndex int // index value of the offending step, -1 for plan-level errors
	Message   string
}

func (e ValidationError) Error() string {
	return e.Message
}

// Validate checks the structural invariants of a plan and accumulates all
// violations; it never short-circuits. An empty result means the plan is
// structurally sound.
//
// Checks, in order:
//  1. the step list is non-empty
//  2. step indices form a contiguous 0-based or 1-based sequence
//  3. every backend is a known value
//  4. every dependency references a strictly earlier step
func Validate(p *Plan) []ValidationError {
	var errs []ValidationError

	if len(p.Steps) == 0 {
		errs = append(errs, ValidationError{
			StepIndex: -1,
			Message:   "plan has no steps",
		})
		return errs
	}

	indices := make([]int, len(p.Steps))
	for i, s := range p.Steps {
		indices[i] = s.Index
	}
	if !contiguousFrom(indices, 0) && !contiguousFrom(indices, 1) {
		errs = append(errs, ValidationError{
			StepIndex: -1,
			Message:   fmt.Sprintf("step indices are not a contiguous sequence: %v", indices),
		})
	}

	for _, s := range p.Steps {
		if !s.Backend.Valid() {
			errs = append(errs, ValidationError{
				StepIndex: s.Index,
				Message:   fmt.Sprintf("step %d has unknown backend %q", s.Index, s.Backend),
			})
		}
	}

	for _, s := range p.Steps {
		if s.DependsOn != nil && *s.DependsOn >= s.Index {
			errs = append(errs, ValidationError{
				StepIndex: s.Index,
				Message:   fmt.Sprintf("step %d depends on step %d, which is not earlier", s.Index, *s.DependsOn),
			})
		}
	}

	return errs
}

// JoinErrors renders validation errors as a single human-readable message.
func JoinErrors(errs []ValidationError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Message
	}
	return strings.Join(parts, "; ")
}

// contiguousFrom reports whether indices equal start, start+1, ... in order.
func contiguousFrom(indices []int, start int) bool {
	for i, v := range indices {
		if v != start+i {
			return false
		}
	}
	return true
}
