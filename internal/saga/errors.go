package saga

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStepFailed matches every Failure returned by Run
	ErrStepFailed = errors.New("saga step failed")
	// ErrCompensationFailed matches a Failure whose rollback left residue
	ErrCompensationFailed = errors.New("saga compensation failed")
	// ErrInvalidDefinition is returned for malformed step lists
	ErrInvalidDefinition = errors.New("invalid saga definition")
	// ErrMissingValue is returned when a step reads state no earlier step wrote
	ErrMissingValue = errors.New("saga state value missing")
)

// CompensationError records a completed step that could not be undone
type CompensationError struct {
	Step string
	Err  error
}

func (e CompensationError) Error() string {
	return fmt.Sprintf("compensate %s: %v", e.Step, e.Err)
}

// Failure is the single aggregated error of a failed run.
type Failure struct {
	Workflow string
	// Step is the step that failed. For a concurrent stage it is the first
	// failing branch in declaration order.
	Step  string
	Cause error
	// RolledBack lists completed steps that were undone, in undo order.
	RolledBack []string
	// Unresolved lists completed steps whose undo failed. They need manual
	// remediation.
	Unresolved []CompensationError
}

// Clean reports whether every completed step was undone
func (f *Failure) Clean() bool {
	return len(f.Unresolved) == 0
}

func (f *Failure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: step %q failed: %v", f.Workflow, f.Step, f.Cause)
	if len(f.RolledBack) > 0 {
		fmt.Fprintf(&b, "; rolled back: %s", strings.Join(f.RolledBack, ", "))
	}
	if len(f.Unresolved) > 0 {
		parts := make([]string, len(f.Unresolved))
		for i, u := range f.Unresolved {
			parts[i] = u.Error()
		}
		fmt.Fprintf(&b, "; not rolled back: %s", strings.Join(parts, "; "))
	}
	return b.String()
}

// Unwrap exposes the cause alongside the ErrStepFailed and
// ErrCompensationFailed markers.
func (f *Failure) Unwrap() []error {
	errs := []error{ErrStepFailed, f.Cause}
	if !f.Clean() {
		errs = append(errs, ErrCompensationFailed)
	}
	return errs
}
