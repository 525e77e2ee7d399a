// Package perm evaluates capability requests against the tiered access
// model. Every function here is pure; callers in any goroutine may share the
// package freely.
package perm

import (
	"clearline/internal/catalog"
	"clearline/internal/domain"
)

// Capability is a closed enumeration of the actions the engine can gate.
type Capability string

const (
	CapView           Capability = "view"
	CapExport         Capability = "export"
	CapCreate         Capability = "create"
	CapUpdate         Capability = "update"
	CapCompleteStep   Capability = "complete_step"
	CapUploadDocument Capability = "upload_document"
	CapApprovePayment Capability = "approve_payment"
	CapBulkUpdate     Capability = "bulk_update"
	CapDelete         Capability = "delete"
	CapDeleteDocument Capability = "delete_document"
	CapBulkDelete     Capability = "bulk_delete"
)

// DenyReason is the machine-readable cause attached to every denial.
type DenyReason string

const (
	ReasonInsufficientLevel DenyReason = "InsufficientLevel"
	ReasonWrongDepartment   DenyReason = "WrongDepartment"
	ReasonMissingCapability DenyReason = "MissingCapability"
)

// Decision is the tagged result of an authorization check.
type Decision struct {
	Allowed bool
	Reason  DenyReason
}

func allow() Decision            { return Decision{Allowed: true} }
func deny(r DenyReason) Decision { return Decision{Reason: r} }

// viewClass capabilities are readable at every permission level.
func viewClass(c Capability) bool {
	return c == CapView || c == CapExport
}

// deleteClass capabilities require full access and flag their audit entries
// for mandatory review.
func deleteClass(c Capability) bool {
	return c == CapDelete || c == CapDeleteDocument || c == CapBulkDelete
}

// OverrideToken is the permission string that grants a level-2 user a
// capability outside the normal department rules.
func OverrideToken(c Capability) string {
	return "override:" + string(c)
}

// StepOverrideToken grants access to one specific step regardless of
// department.
func StepOverrideToken(stepNumber string) string {
	return "step:" + stepNumber
}

// Authorize maps (user, capability, scope department) to a tagged
// Allow/Deny. An empty scope means the action is not department-scoped.
func Authorize(u domain.User, c Capability, scope domain.Department) Decision {
	if viewClass(c) {
		return allow()
	}
	switch u.Level {
	case domain.LevelReadOnly:
		return deny(ReasonInsufficientLevel)
	case domain.LevelEdit:
		if deleteClass(c) {
			if u.HasPermission(OverrideToken(c)) {
				return allow()
			}
			return deny(ReasonInsufficientLevel)
		}
		if scope == "" || scope == u.Department {
			return allow()
		}
		if u.HasPermission(OverrideToken(c)) {
			return allow()
		}
		return deny(ReasonWrongDepartment)
	case domain.LevelFull:
		return allow()
	}
	return deny(ReasonMissingCapability)
}

// RequiresReview reports whether an action must be flagged for compliance
// review on its audit entry. Delete-class actions are level-3 operations and
// always carry the flag, regardless of caller intent.
func RequiresReview(c Capability) bool {
	return deleteClass(c)
}

// CanAccessStep reports whether a user may act on a given catalog step:
// same department, cross-department oversight roles, or a step-specific
// override token.
func CanAccessStep(u domain.User, step catalog.StepDefinition) bool {
	if u.Department == step.Department {
		return true
	}
	if u.Role == domain.RoleManagement || u.Role == domain.RoleAdmin {
		return true
	}
	return u.HasPermission(StepOverrideToken(step.StepNumber))
}
