package workflow

import (
	"fmt"
	"strings"

	"clearline/internal/perm"
)

// NotFoundError reports an absent shipment, step, or document.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// AuthorizationError carries the machine-readable denial reason.
type AuthorizationError struct {
	Reason     perm.DenyReason
	Capability perm.Capability
}

func (e AuthorizationError) Error() string {
	return fmt.Sprintf("not authorized for %s: %s", e.Capability, e.Reason)
}

// DependencyNotSatisfiedError lists every incomplete dependency, not just
// the first, so callers can render a complete message.
type DependencyNotSatisfiedError struct {
	StepNumber string
	Missing    []string
}

func (e DependencyNotSatisfiedError) Error() string {
	return fmt.Sprintf("step %s requires steps %s to be completed first",
		e.StepNumber, strings.Join(e.Missing, ", "))
}
