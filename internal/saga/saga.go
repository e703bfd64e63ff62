// Package saga runs ordered steps against a shared state and undoes the
// completed ones, newest first, when a later step fails.
package saga

import (
	"context"
	"fmt"
	"maps"
)

// State maps symbolic names to values produced by completed steps. A run owns
// its state exclusively; concurrent branches each work on a copy.
type State map[string]any

// Clone returns a shallow copy of the state
func (s State) Clone() State {
	out := make(State, len(s))
	maps.Copy(out, s)
	return out
}

// Value reads a typed value written by an earlier step. A missing or
// mistyped key means the workflow was declared out of order.
func Value[T any](s State, key string) (T, error) {
	var zero T
	v, ok := s[key]
	if !ok {
		return zero, fmt.Errorf("%w: %q not set by an earlier step", ErrMissingValue, key)
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %q holds %T", ErrMissingValue, key, v)
	}
	return typed, nil
}

// Step is one unit of work and its undo.
type Step struct {
	Name string
	// Execute performs the step and records its outputs in state.
	Execute func(ctx context.Context, state State) error
	// Compensate undoes Execute. It receives the state as it stood right
	// after Execute succeeded. Nil means there is nothing to undo.
	Compensate func(ctx context.Context, state State) error

	branches []Step
}

// Concurrent groups independent steps into a single stage. The branches run
// at the same time from a copy of the current state, the engine waits for
// all of them, and each successful branch is compensated on its own.
func Concurrent(name string, branches ...Step) Step {
	return Step{Name: name, branches: append([]Step{}, branches...)}
}

// Branches returns the steps of a concurrent stage, or nil for a plain step
func (s Step) Branches() []Step {
	return s.branches
}

// Validate checks a workflow definition: every step is named, names are
// unique, plain steps have an Execute function and concurrent stages are
// flat and non-empty.
func Validate(steps []Step) error {
	if len(steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidDefinition)
	}

	seen := make(map[string]bool)
	check := func(s Step) error {
		if s.Name == "" {
			return fmt.Errorf("%w: unnamed step", ErrInvalidDefinition)
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: duplicate step %q", ErrInvalidDefinition, s.Name)
		}
		seen[s.Name] = true
		return nil
	}

	for _, step := range steps {
		if err := check(step); err != nil {
			return err
		}
		if step.branches == nil {
			if step.Execute == nil {
				return fmt.Errorf("%w: step %q has no Execute", ErrInvalidDefinition, step.Name)
			}
			continue
		}
		if len(step.branches) == 0 {
			return fmt.Errorf("%w: concurrent stage %q is empty", ErrInvalidDefinition, step.Name)
		}
		for _, branch := range step.branches {
			if err := check(branch); err != nil {
				return err
			}
			if branch.branches != nil {
				return fmt.Errorf("%w: nested concurrent stage %q", ErrInvalidDefinition, branch.Name)
			}
			if branch.Execute == nil {
				return fmt.Errorf("%w: step %q has no Execute", ErrInvalidDefinition, branch.Name)
			}
		}
	}
	return nil
}
