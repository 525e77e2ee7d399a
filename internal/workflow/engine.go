// Package workflow drives the per-shipment clearance state machine. Every
// mutating operation runs authorize, dependency and field checks, applies
// the transition, recomputes derived risk, and appends to the audit ledger.
package workflow

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"clearline/internal/audit"
	"clearline/internal/catalog"
	"clearline/internal/domain"
	"clearline/internal/perm"
	"clearline/internal/risk"
)

// StepsComplete is the terminal CurrentStepNumber marker once every
// non-optional catalog step is completed.
const StepsComplete = "complete"

type Engine struct {
	Store    Store
	Catalog  *catalog.Catalog
	Ledger   *audit.Ledger
	Notifier Notifier
	Logger   *log.Logger
	Now      func() time.Time

	locks sync.Map // shipment id -> *sync.Mutex
}

func New(store Store, cat *catalog.Catalog, ledger *audit.Ledger) *Engine {
	return &Engine{
		Store:    store,
		Catalog:  cat,
		Ledger:   ledger,
		Notifier: NopNotifier{},
		Logger:   log.Default(),
		Now:      time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// lockShipment serializes mutations per shipment. Callers must release
// before invoking slow collaborators.
func (e *Engine) lockShipment(id string) func() {
	v, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (e *Engine) authorize(u domain.User, c perm.Capability, scope domain.Department) error {
	d := perm.Authorize(u, c, scope)
	if !d.Allowed {
		return AuthorizationError{Reason: d.Reason, Capability: c}
	}
	return nil
}

func (e *Engine) userSnapshot(u domain.User) audit.Entry {
	return audit.Entry{
		UserID:    u.ID,
		UserName:  u.Name,
		UserEmail: u.Email,
		UserLevel: u.Level,
	}
}

// record appends one ledger entry stamped with the engine clock.
func (e *Engine) record(u domain.User, action audit.Action, c perm.Capability, resource, resourceID string, details []audit.FieldChange) int64 {
	entry := e.userSnapshot(u)
	entry.Timestamp = e.now().UTC().Format(time.RFC3339)
	entry.Action = action
	entry.Resource = resource
	entry.ResourceID = resourceID
	entry.Details = details
	entry.RequiresReview = perm.RequiresReview(c)
	return e.Ledger.Append(entry)
}

func parseDate(s string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// deriveSteps computes the presentational Overdue/Blocked statuses for each
// instance without touching the stored status. Blockage propagates from a
// flagged step to every dependent.
func (e *Engine) deriveSteps(steps []domain.StepInstance, now time.Time) []domain.StepInstance {
	sort.Slice(steps, func(i, j int) bool { return steps[i].Sequence < steps[j].Sequence })

	blocked := make(map[string]bool, len(steps))
	byNum := make(map[string]domain.StepInstance, len(steps))
	for _, st := range steps {
		byNum[st.StepNumber] = st
	}
	var isBlocked func(st domain.StepInstance) bool
	isBlocked = func(st domain.StepInstance) bool {
		if b, ok := blocked[st.StepNumber]; ok {
			return b
		}
		blocked[st.StepNumber] = false // cut lookup cycles; catalog forbids real ones
		b := st.BlockedReason != ""
		if !b {
			if deps, err := e.Catalog.DependenciesOf(st.StepNumber); err == nil {
				for _, d := range deps {
					if dep, ok := byNum[d]; ok && isBlocked(dep) {
						b = true
						break
					}
				}
			}
		}
		blocked[st.StepNumber] = b
		return b
	}

	for i := range steps {
		st := &steps[i]
		st.DerivedStatus = st.Status
		if st.Status == domain.StepCompleted {
			continue
		}
		if isBlocked(*st) {
			st.DerivedStatus = domain.StepBlocked
			continue
		}
		if target, ok := parseDate(st.TargetDate); ok && !now.Before(target.AddDate(0, 0, 1)) {
			st.DerivedStatus = domain.StepOverdue
		}
	}
	return steps
}

// recompute refreshes every derived shipment field from the step instances
// and the clock. It never hand-sets what it derives.
func (e *Engine) recompute(s *domain.Shipment, steps []domain.StepInstance, now time.Time) {
	steps = e.deriveSteps(steps, now)

	eta, _ := parseDate(s.ETA)
	s.DaysPostEta = risk.DaysPostEta(now, eta)
	s.DemurrageOMR = risk.DemurrageOMR(s.DaysPostEta)

	var overdueCritical, overdueOther int
	blocked := false
	allDone := true
	s.CurrentStepNumber = StepsComplete
	for _, st := range steps {
		switch st.DerivedStatus {
		case domain.StepOverdue:
			if st.IsCritical {
				overdueCritical++
			} else {
				overdueOther++
			}
		case domain.StepBlocked:
			if !st.IsOptional {
				blocked = true
			}
		}
		if st.Status != domain.StepCompleted && !st.IsOptional {
			allDone = false
		}
		if st.Status != domain.StepCompleted && !st.IsOptional && s.CurrentStepNumber == StepsComplete {
			s.CurrentStepNumber = st.StepNumber
		}
	}

	s.RiskLevel = risk.Classify(risk.Input{
		DaysPostEta:        s.DaysPostEta,
		OverdueNonCritical: overdueOther,
		OverdueCritical:    overdueCritical,
		Blocked:            blocked,
	})

	if s.Status == domain.ShipmentCancelled {
		return
	}
	switch {
	case allDone:
		s.Status = domain.ShipmentCompleted
	case s.RiskLevel.AtLeast(domain.RiskHigh):
		s.Status = domain.ShipmentAtRisk
	case s.DaysPostEta > 0:
		s.Status = domain.ShipmentDelayed
	default:
		s.Status = domain.ShipmentActive
	}
}

// notifyEscalation emits a notification event when risk moved up a tier.
// Called after the shipment lock is released.
func (e *Engine) notifyEscalation(ctx context.Context, s domain.Shipment, from, to domain.RiskLevel) {
	if from == to || !to.AtLeast(from) {
		return
	}
	e.Notifier.RiskEscalated(ctx, s, from, to)
}
