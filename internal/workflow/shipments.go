package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clearline/internal/audit"
	"clearline/internal/catalog"
	"clearline/internal/domain"
	"clearline/internal/perm"
	"clearline/internal/repo"
)

// MaxETAEdits caps how often the arrival estimate may be revised.
const MaxETAEdits = 3

// CreateShipmentOptions are the caller-supplied fields of a new shipment.
type CreateShipmentOptions struct {
	ShipmentNumber   string
	Principal        string
	Brand            string
	LCNumber         string
	InvoiceAmountOMR float64
	ETA              string // YYYY-MM-DD
}

// CreateShipment registers a shipment and instantiates one step per catalog
// entry, each with target date ETA + offset.
func (e *Engine) CreateShipment(ctx context.Context, u domain.User, opts CreateShipmentOptions) (domain.Shipment, error) {
	if err := e.authorize(u, perm.CapCreate, ""); err != nil {
		return domain.Shipment{}, err
	}
	if opts.ShipmentNumber == "" {
		return domain.Shipment{}, catalog.ValidationError{Field: "shipment_number", Rule: "required"}
	}
	eta, ok := parseDate(opts.ETA)
	if !ok {
		return domain.Shipment{}, catalog.ValidationError{Field: "eta", Rule: "must be a date in YYYY-MM-DD form"}
	}

	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	s := domain.Shipment{
		ID:               uuid.New().String(),
		ShipmentNumber:   opts.ShipmentNumber,
		Principal:        opts.Principal,
		Brand:            opts.Brand,
		LCNumber:         opts.LCNumber,
		InvoiceAmountOMR: opts.InvoiceAmountOMR,
		ETA:              opts.ETA,
		Status:           domain.ShipmentActive,
		CreatedBy:        u.ID,
		CreatedAt:        nowStr,
		UpdatedAt:        nowStr,
	}

	steps := make([]domain.StepInstance, 0, e.Catalog.Len())
	for _, def := range e.Catalog.Steps() {
		steps = append(steps, domain.StepInstance{
			ShipmentID: s.ID,
			StepNumber: def.StepNumber,
			Sequence:   def.Sequence,
			Name:       def.Name,
			Department: def.Department,
			TargetDate: eta.AddDate(0, 0, def.EtaOffsetDays).Format("2006-01-02"),
			Status:     domain.StepPending,
			IsCritical: def.IsCritical,
			IsOptional: def.IsOptional,
			UpdatedAt:  nowStr,
		})
	}
	e.recompute(&s, steps, now)

	if err := e.Store.InsertShipment(ctx, s, steps); err != nil {
		return domain.Shipment{}, err
	}
	e.record(u, audit.ActionCreate, perm.CapCreate, "shipment", s.ID, []audit.FieldChange{
		{Field: "shipment_number", New: s.ShipmentNumber},
		{Field: "eta", New: s.ETA},
	})
	return s, nil
}

// GetShipment returns a snapshot with derived fields recomputed on read.
func (e *Engine) GetShipment(ctx context.Context, id string) (domain.Shipment, error) {
	s, err := e.Store.LoadShipment(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Shipment{}, NotFoundError{Kind: "shipment", ID: id}
		}
		return domain.Shipment{}, err
	}
	steps, err := e.Store.LoadStepInstances(ctx, id)
	if err != nil {
		return domain.Shipment{}, err
	}
	e.recompute(&s, steps, e.now().UTC())
	return s, nil
}

// ListShipments returns all shipments with derived fields as last committed.
func (e *Engine) ListShipments(ctx context.Context) ([]domain.Shipment, error) {
	return e.Store.ListShipments(ctx)
}

// UpdateShipmentOptions carries the mutable shipment fields. Nil means keep.
type UpdateShipmentOptions struct {
	ETA       *string // BusinessUnit only; recalculates every target date
	Principal *string
	Brand     *string
	LCNumber  *string
	Cancel    bool
}

// UpdateShipment applies field updates. An ETA change is restricted to the
// Business Unit, capped at MaxETAEdits, and shifts every step's target date.
func (e *Engine) UpdateShipment(ctx context.Context, u domain.User, id string, opts UpdateShipmentOptions) (domain.Shipment, error) {
	unlock := e.lockShipment(id)

	s, riskFrom, err := func() (domain.Shipment, domain.RiskLevel, error) {
		defer unlock()

		s, err := e.Store.LoadShipment(ctx, id)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Shipment{}, "", NotFoundError{Kind: "shipment", ID: id}
			}
			return domain.Shipment{}, "", err
		}
		scope := domain.Department("")
		if opts.ETA != nil {
			scope = domain.DeptBusinessUnit
		}
		if err := e.authorize(u, perm.CapUpdate, scope); err != nil {
			return domain.Shipment{}, "", err
		}

		riskFrom := s.RiskLevel
		var changes []audit.FieldChange
		set := func(field string, dst *string, v *string) {
			if v != nil && *v != *dst {
				changes = append(changes, audit.FieldChange{Field: field, Old: *dst, New: *v})
				*dst = *v
			}
		}
		set("principal", &s.Principal, opts.Principal)
		set("brand", &s.Brand, opts.Brand)
		set("lc_number", &s.LCNumber, opts.LCNumber)

		steps, err := e.Store.LoadStepInstances(ctx, id)
		if err != nil {
			return domain.Shipment{}, "", err
		}
		now := e.now().UTC()

		if opts.ETA != nil && *opts.ETA != s.ETA {
			if s.ETAEditCount >= MaxETAEdits {
				return domain.Shipment{}, "", catalog.ValidationError{Field: "eta", Rule: fmt.Sprintf("edit limit of %d reached", MaxETAEdits)}
			}
			eta, ok := parseDate(*opts.ETA)
			if !ok {
				return domain.Shipment{}, "", catalog.ValidationError{Field: "eta", Rule: "must be a date in YYYY-MM-DD form"}
			}
			changes = append(changes, audit.FieldChange{Field: "eta", Old: s.ETA, New: *opts.ETA})
			s.ETA = *opts.ETA
			s.ETAEditCount++
			for i := range steps {
				def, err := e.Catalog.ByNumber(steps[i].StepNumber)
				if err != nil {
					continue
				}
				steps[i].TargetDate = eta.AddDate(0, 0, def.EtaOffsetDays).Format("2006-01-02")
				steps[i].UpdatedAt = now.Format(time.RFC3339)
				if err := e.Store.SaveStepInstance(ctx, steps[i]); err != nil {
					return domain.Shipment{}, "", err
				}
			}
		}
		if opts.Cancel && s.Status != domain.ShipmentCancelled {
			changes = append(changes, audit.FieldChange{Field: "status", Old: string(s.Status), New: string(domain.ShipmentCancelled)})
			s.Status = domain.ShipmentCancelled
		}
		if len(changes) == 0 {
			return s, riskFrom, nil
		}

		e.recompute(&s, steps, now)
		s.UpdatedAt = now.Format(time.RFC3339)
		if err := e.Store.SaveShipment(ctx, s); err != nil {
			return domain.Shipment{}, "", err
		}
		e.record(u, audit.ActionUpdate, perm.CapUpdate, "shipment", s.ID, changes)
		return s, riskFrom, nil
	}()
	if err != nil {
		return domain.Shipment{}, err
	}
	e.notifyEscalation(ctx, s, riskFrom, s.RiskLevel)
	return s, nil
}

// DeleteShipment removes a shipment and its steps. Full access only; the
// audit entry is always flagged for review.
func (e *Engine) DeleteShipment(ctx context.Context, u domain.User, id string) error {
	unlock := e.lockShipment(id)
	defer unlock()

	if err := e.authorize(u, perm.CapDelete, ""); err != nil {
		return err
	}
	s, err := e.Store.LoadShipment(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return NotFoundError{Kind: "shipment", ID: id}
		}
		return err
	}
	if err := e.Store.DeleteShipment(ctx, id); err != nil {
		return err
	}
	e.record(u, audit.ActionDelete, perm.CapDelete, "shipment", id, []audit.FieldChange{
		{Field: "shipment_number", Old: s.ShipmentNumber},
	})
	return nil
}

// BulkCancelShipments cancels several shipments in one authorized action.
func (e *Engine) BulkCancelShipments(ctx context.Context, u domain.User, ids []string) error {
	if err := e.authorize(u, perm.CapBulkUpdate, ""); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := e.UpdateShipment(ctx, u, id, UpdateShipmentOptions{Cancel: true}); err != nil {
			return err
		}
	}
	e.record(u, audit.ActionBulkUpdate, perm.CapBulkUpdate, "shipment", fmt.Sprintf("%d shipments", len(ids)), nil)
	return nil
}

// BulkDeleteShipments removes several shipments; each delete is still
// individually authorized and audited.
func (e *Engine) BulkDeleteShipments(ctx context.Context, u domain.User, ids []string) error {
	if err := e.authorize(u, perm.CapBulkDelete, ""); err != nil {
		return err
	}
	for _, id := range ids {
		if err := e.DeleteShipment(ctx, u, id); err != nil {
			return err
		}
	}
	e.record(u, audit.ActionBulkDelete, perm.CapBulkDelete, "shipment", fmt.Sprintf("%d shipments", len(ids)), nil)
	return nil
}

// UploadDocument attaches a document reference to a shipment, optionally
// scoped to a step.
func (e *Engine) UploadDocument(ctx context.Context, u domain.User, shipmentID, stepNumber, filename string) (domain.Document, error) {
	scope := domain.Department("")
	var def catalog.StepDefinition
	if stepNumber != "" {
		var err error
		def, err = e.Catalog.ByNumber(stepNumber)
		if err != nil {
			return domain.Document{}, NotFoundError{Kind: "step", ID: stepNumber}
		}
		scope = def.Department
	}
	if err := e.authorize(u, perm.CapUploadDocument, scope); err != nil {
		return domain.Document{}, err
	}
	if stepNumber != "" && !perm.CanAccessStep(u, def) {
		return domain.Document{}, AuthorizationError{Reason: perm.ReasonWrongDepartment, Capability: perm.CapUploadDocument}
	}
	if filename == "" {
		return domain.Document{}, catalog.ValidationError{Field: "filename", Rule: "required"}
	}
	if _, err := e.Store.LoadShipment(ctx, shipmentID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Document{}, NotFoundError{Kind: "shipment", ID: shipmentID}
		}
		return domain.Document{}, err
	}
	d := domain.Document{
		ID:         uuid.New().String(),
		ShipmentID: shipmentID,
		StepNumber: stepNumber,
		Filename:   filename,
		UploadedBy: u.ID,
		UploadedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Store.InsertDocument(ctx, d); err != nil {
		return domain.Document{}, err
	}
	e.record(u, audit.ActionUploadDocument, perm.CapUploadDocument, "document", d.ID, []audit.FieldChange{
		{Field: "filename", New: d.Filename},
	})
	return d, nil
}

// DeleteDocument removes a document reference. Level-3 operation.
func (e *Engine) DeleteDocument(ctx context.Context, u domain.User, docID string) error {
	if err := e.authorize(u, perm.CapDeleteDocument, ""); err != nil {
		return err
	}
	d, err := e.Store.LoadDocument(ctx, docID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return NotFoundError{Kind: "document", ID: docID}
		}
		return err
	}
	if err := e.Store.DeleteDocument(ctx, docID); err != nil {
		return err
	}
	e.record(u, audit.ActionDeleteDocument, perm.CapDeleteDocument, "document", docID, []audit.FieldChange{
		{Field: "filename", Old: d.Filename},
	})
	return nil
}

// ListDocuments returns a shipment's document references.
func (e *Engine) ListDocuments(ctx context.Context, shipmentID string) ([]domain.Document, error) {
	return e.Store.ListDocuments(ctx, shipmentID)
}
