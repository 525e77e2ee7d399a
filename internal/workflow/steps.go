package workflow

import (
	"context"
	"errors"
	"time"

	"clearline/internal/audit"
	"clearline/internal/catalog"
	"clearline/internal/domain"
	"clearline/internal/perm"
	"clearline/internal/repo"
)

// CompleteStepOptions are the caller-supplied inputs for step completion.
type CompleteStepOptions struct {
	ActualDate string         // YYYY-MM-DD; engine clock's date when empty
	Notes      string
	Data       map[string]any // validated against the step's field rules
}

// CompleteResult is the success response: the updated instance plus the
// recomputed shipment snapshot.
type CompleteResult struct {
	Step     domain.StepInstance `json:"step"`
	Shipment domain.Shipment     `json:"shipment"`
}

// CompleteStep marks a step completed for a shipment. The sequence is
// authorize, dependency check (collecting every missing step), field
// validation, idempotence, apply, recompute, audit. Completion is idempotent
// per (shipment, step); repeating it returns the stored state without a
// second ledger entry.
func (e *Engine) CompleteStep(ctx context.Context, u domain.User, shipmentID, stepNumber string, opts CompleteStepOptions) (CompleteResult, error) {
	def, err := e.Catalog.ByNumber(stepNumber)
	if err != nil {
		return CompleteResult{}, NotFoundError{Kind: "step", ID: stepNumber}
	}

	unlock := e.lockShipment(shipmentID)

	res, changed, riskFrom, err := func() (CompleteResult, bool, domain.RiskLevel, error) {
		defer unlock()

		s, err := e.Store.LoadShipment(ctx, shipmentID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return CompleteResult{}, false, "", NotFoundError{Kind: "shipment", ID: shipmentID}
			}
			return CompleteResult{}, false, "", err
		}
		steps, err := e.Store.LoadStepInstances(ctx, shipmentID)
		if err != nil {
			return CompleteResult{}, false, "", err
		}
		idx := -1
		for i, st := range steps {
			if st.StepNumber == stepNumber {
				idx = i
				break
			}
		}
		if idx < 0 {
			return CompleteResult{}, false, "", NotFoundError{Kind: "step", ID: stepNumber}
		}

		if err := e.authorize(u, perm.CapCompleteStep, def.Department); err != nil {
			return CompleteResult{}, false, "", err
		}
		if !perm.CanAccessStep(u, def) {
			return CompleteResult{}, false, "", AuthorizationError{Reason: perm.ReasonWrongDepartment, Capability: perm.CapCompleteStep}
		}

		var missing []string
		for _, dep := range def.Dependencies {
			done := false
			for _, st := range steps {
				if st.StepNumber == dep && st.Status == domain.StepCompleted {
					done = true
					break
				}
			}
			if !done {
				missing = append(missing, dep)
			}
		}
		if len(missing) > 0 {
			return CompleteResult{}, false, "", DependencyNotSatisfiedError{StepNumber: stepNumber, Missing: missing}
		}

		if err := e.Catalog.ValidateFields(stepNumber, opts.Data); err != nil {
			return CompleteResult{}, false, "", err
		}

		now := e.now().UTC()
		actual := opts.ActualDate
		if actual == "" {
			actual = now.Format("2006-01-02")
		}
		actualT, ok := parseDate(actual)
		if !ok {
			return CompleteResult{}, false, "", catalog.ValidationError{Field: "actual_date", Rule: "must be a date in YYYY-MM-DD form"}
		}
		if actualT.After(now) {
			return CompleteResult{}, false, "", catalog.ValidationError{Field: "actual_date", Rule: "must not be in the future"}
		}

		st := steps[idx]
		if st.Status == domain.StepCompleted {
			e.recompute(&s, steps, now)
			st.DerivedStatus = domain.StepCompleted
			return CompleteResult{Step: st, Shipment: s}, false, s.RiskLevel, nil
		}

		riskFrom := s.RiskLevel
		oldStatus := st.Status
		oldActual := ""
		if st.ActualDate != nil {
			oldActual = *st.ActualDate
		}

		st.Status = domain.StepCompleted
		st.DerivedStatus = domain.StepCompleted
		st.ActualDate = &actual
		if opts.Notes != "" {
			st.Notes = opts.Notes
		}
		st.BlockedReason = ""
		st.UpdatedAt = now.Format(time.RFC3339)
		steps[idx] = st

		e.recompute(&s, steps, now)
		s.UpdatedAt = st.UpdatedAt

		if err := e.Store.SaveStepInstance(ctx, st); err != nil {
			return CompleteResult{}, false, "", err
		}
		if err := e.Store.SaveShipment(ctx, s); err != nil {
			return CompleteResult{}, false, "", err
		}

		e.record(u, audit.ActionCompleteStep, perm.CapCompleteStep, "workflow_step", shipmentID+"/"+stepNumber, []audit.FieldChange{
			{Field: "status", Old: string(oldStatus), New: string(st.Status)},
			{Field: "actual_date", Old: oldActual, New: actual},
		})
		return CompleteResult{Step: st, Shipment: s}, true, riskFrom, nil
	}()
	if err != nil {
		return CompleteResult{}, err
	}
	if changed {
		e.notifyEscalation(ctx, res.Shipment, riskFrom, res.Shipment.RiskLevel)
	}
	return res, nil
}

// StartStep moves a pending step to in-progress and assigns the caller.
func (e *Engine) StartStep(ctx context.Context, u domain.User, shipmentID, stepNumber string) (domain.StepInstance, error) {
	def, err := e.Catalog.ByNumber(stepNumber)
	if err != nil {
		return domain.StepInstance{}, NotFoundError{Kind: "step", ID: stepNumber}
	}
	unlock := e.lockShipment(shipmentID)
	defer unlock()

	if err := e.authorize(u, perm.CapUpdate, def.Department); err != nil {
		return domain.StepInstance{}, err
	}
	if !perm.CanAccessStep(u, def) {
		return domain.StepInstance{}, AuthorizationError{Reason: perm.ReasonWrongDepartment, Capability: perm.CapUpdate}
	}
	st, err := e.loadStep(ctx, shipmentID, stepNumber)
	if err != nil {
		return domain.StepInstance{}, err
	}
	if st.Status != domain.StepPending {
		return st, nil
	}
	old := st.Status
	st.Status = domain.StepInProgress
	st.DerivedStatus = domain.StepInProgress
	if !contains(st.AssignedUsers, u.ID) {
		st.AssignedUsers = append(st.AssignedUsers, u.ID)
	}
	st.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Store.SaveStepInstance(ctx, st); err != nil {
		return domain.StepInstance{}, err
	}
	e.record(u, audit.ActionUpdate, perm.CapUpdate, "workflow_step", shipmentID+"/"+stepNumber, []audit.FieldChange{
		{Field: "status", Old: string(old), New: string(st.Status)},
	})
	return st, nil
}

// BlockStep flags a step as irrecoverably failed; the blocked state then
// propagates to dependents on read. The stored lifecycle status is kept.
func (e *Engine) BlockStep(ctx context.Context, u domain.User, shipmentID, stepNumber, reason string) (domain.StepInstance, error) {
	def, err := e.Catalog.ByNumber(stepNumber)
	if err != nil {
		return domain.StepInstance{}, NotFoundError{Kind: "step", ID: stepNumber}
	}
	if reason == "" {
		return domain.StepInstance{}, catalog.ValidationError{Field: "reason", Rule: "required"}
	}
	unlock := e.lockShipment(shipmentID)
	defer unlock()

	if err := e.authorize(u, perm.CapUpdate, def.Department); err != nil {
		return domain.StepInstance{}, err
	}
	if !perm.CanAccessStep(u, def) {
		return domain.StepInstance{}, AuthorizationError{Reason: perm.ReasonWrongDepartment, Capability: perm.CapUpdate}
	}
	st, err := e.loadStep(ctx, shipmentID, stepNumber)
	if err != nil {
		return domain.StepInstance{}, err
	}
	if st.Status == domain.StepCompleted {
		return domain.StepInstance{}, catalog.ValidationError{Field: "step", Rule: "completed steps cannot be blocked"}
	}
	old := st.BlockedReason
	st.BlockedReason = reason
	st.DerivedStatus = domain.StepBlocked
	st.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Store.SaveStepInstance(ctx, st); err != nil {
		return domain.StepInstance{}, err
	}
	e.record(u, audit.ActionUpdate, perm.CapUpdate, "workflow_step", shipmentID+"/"+stepNumber, []audit.FieldChange{
		{Field: "blocked_reason", Old: old, New: reason},
	})
	return st, nil
}

// GetWorkflowSteps returns the shipment's ordered steps with derived
// statuses recomputed on read. Lock-free against committed state.
func (e *Engine) GetWorkflowSteps(ctx context.Context, shipmentID string) ([]domain.StepInstance, error) {
	if _, err := e.Store.LoadShipment(ctx, shipmentID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, NotFoundError{Kind: "shipment", ID: shipmentID}
		}
		return nil, err
	}
	steps, err := e.Store.LoadStepInstances(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	return e.deriveSteps(steps, e.now().UTC()), nil
}

// CanAccessStep answers the step-level access question without mutating
// anything.
func (e *Engine) CanAccessStep(u domain.User, stepNumber string) bool {
	def, err := e.Catalog.ByNumber(stepNumber)
	if err != nil {
		return false
	}
	return perm.CanAccessStep(u, def)
}

// Tick recomputes derived state for every non-terminal shipment, persisting
// changes and emitting escalation events. Driven by an external scheduler.
// The listing is only a work list; each shipment is re-read under its lock
// so a write committed after the listing is never clobbered.
func (e *Engine) Tick(ctx context.Context) error {
	listed, err := e.Store.ListShipments(ctx)
	if err != nil {
		return err
	}
	now := e.now().UTC()
	for _, stale := range listed {
		unlock := e.lockShipment(stale.ID)
		s, err := e.Store.LoadShipment(ctx, stale.ID)
		if err != nil {
			unlock()
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			return err
		}
		if s.Status == domain.ShipmentCompleted || s.Status == domain.ShipmentCancelled {
			unlock()
			continue
		}
		steps, err := e.Store.LoadStepInstances(ctx, s.ID)
		if err != nil {
			unlock()
			return err
		}
		before := s
		e.recompute(&s, steps, now)
		changed := s.RiskLevel != before.RiskLevel || s.Status != before.Status || s.DaysPostEta != before.DaysPostEta
		if changed {
			s.UpdatedAt = now.Format(time.RFC3339)
			if err := e.Store.SaveShipment(ctx, s); err != nil {
				unlock()
				return err
			}
		}
		unlock()
		if changed {
			e.notifyEscalation(ctx, s, before.RiskLevel, s.RiskLevel)
		}
	}
	return nil
}

func (e *Engine) loadStep(ctx context.Context, shipmentID, stepNumber string) (domain.StepInstance, error) {
	steps, err := e.Store.LoadStepInstances(ctx, shipmentID)
	if err != nil {
		return domain.StepInstance{}, err
	}
	if len(steps) == 0 {
		if _, err := e.Store.LoadShipment(ctx, shipmentID); errors.Is(err, repo.ErrNotFound) {
			return domain.StepInstance{}, NotFoundError{Kind: "shipment", ID: shipmentID}
		}
	}
	for _, st := range steps {
		if st.StepNumber == stepNumber {
			return st, nil
		}
	}
	return domain.StepInstance{}, NotFoundError{Kind: "step", ID: stepNumber}
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
