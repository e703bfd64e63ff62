package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Domain errors
var (
	ErrNotFound                  = errors.New("resource not found")
	ErrConflict                  = errors.New("resource already exists")
	ErrInvalidInput              = errors.New("invalid input")
	ErrUnauthorized              = errors.New("unauthorized")
	ErrForbidden                 = errors.New("forbidden")
	ErrUserNotFound              = errors.New("user not found")
	ErrWorkspaceNotFound         = errors.New("workspace not found")
	ErrInviteNotFound            = fmt.Errorf("invite %w", ErrNotFound)
	ErrNameRequired              = fmt.Errorf("%w: name is required", ErrInvalidInput)
	ErrNameTooLong               = fmt.Errorf("%w: name exceeds maximum length", ErrInvalidInput)
	ErrOwnerRequired             = fmt.Errorf("%w: owner is required", ErrInvalidInput)
	ErrInvalidRole               = fmt.Errorf("%w: invalid role", ErrInvalidInput)
	ErrInvalidEmail              = fmt.Errorf("%w: invalid email", ErrInvalidInput)
	ErrProvisioningFailed        = errors.New("workspace could not be created, nothing was kept")
	ErrProvisioningFailedUnclean = errors.New("workspace could not be created and manual cleanup is required")
	ErrWorkspaceIncomplete       = errors.New("workspace was left incomplete by an earlier request")
	ErrInvitationFailed          = errors.New("invitation could not be resolved, nothing was changed")
	ErrInvitationFailedUnclean   = errors.New("invitation could not be resolved and manual cleanup is required")
)

// Validation constants
const (
	MaxWorkspaceNameLength = 255
)

// ProvisioningError reports a provisioning run that failed after at least one
// remote write was attempted.
type ProvisioningError struct {
	WorkspaceID string
	Step        string
	Cause       error
	RolledBack  []string
	// Unresolved lists steps whose compensation failed, with the reason.
	Unresolved map[string]error
}

// Clean reports whether every completed step was rolled back.
func (e *ProvisioningError) Clean() bool {
	return len(e.Unresolved) == 0
}

func (e *ProvisioningError) Error() string {
	if e.Clean() {
		return fmt.Sprintf("%s: step %q failed: %v", ErrProvisioningFailed, e.Step, e.Cause)
	}
	return fmt.Sprintf("%s: step %q failed: %v; not rolled back: %s",
		ErrProvisioningFailedUnclean, e.Step, e.Cause, strings.Join(UnresolvedSteps(e.Unresolved), ", "))
}

// Is matches ErrProvisioningFailed for clean rollbacks and
// ErrProvisioningFailedUnclean otherwise.
func (e *ProvisioningError) Is(target error) bool {
	if e.Clean() {
		return target == ErrProvisioningFailed
	}
	return target == ErrProvisioningFailedUnclean
}

func (e *ProvisioningError) Unwrap() error {
	return e.Cause
}

// InvitationError reports an accept or reject that failed after at least one
// remote write was attempted.
type InvitationError struct {
	InviteID    string
	WorkspaceID string
	Step        string
	Cause       error
	RolledBack  []string
	Unresolved  map[string]error
}

func (e *InvitationError) Clean() bool {
	return len(e.Unresolved) == 0
}

func (e *InvitationError) Error() string {
	if e.Clean() {
		return fmt.Sprintf("%s: step %q failed: %v", ErrInvitationFailed, e.Step, e.Cause)
	}
	return fmt.Sprintf("%s: step %q failed: %v; not rolled back: %s",
		ErrInvitationFailedUnclean, e.Step, e.Cause, strings.Join(UnresolvedSteps(e.Unresolved), ", "))
}

// Is matches ErrInvitationFailed for clean rollbacks and
// ErrInvitationFailedUnclean otherwise.
func (e *InvitationError) Is(target error) bool {
	if e.Clean() {
		return target == ErrInvitationFailed
	}
	return target == ErrInvitationFailedUnclean
}

func (e *InvitationError) Unwrap() error {
	return e.Cause
}

// UnresolvedSteps returns the step names of unresolved in sorted order
func UnresolvedSteps(unresolved map[string]error) []string {
	steps := make([]string, 0, len(unresolved))
	for step := range unresolved {
		steps = append(steps, step)
	}
	sort.Strings(steps)
	return steps
}
