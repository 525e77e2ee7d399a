package workflow

import (
	"context"

	"clearline/internal/domain"
)

// Store is the shipment persistence collaborator. Implementations report
// missing rows with repo.ErrNotFound. No method is called while holding a
// different shipment's lock.
type Store interface {
	InsertShipment(ctx context.Context, s domain.Shipment, steps []domain.StepInstance) error
	LoadShipment(ctx context.Context, id string) (domain.Shipment, error)
	SaveShipment(ctx context.Context, s domain.Shipment) error
	DeleteShipment(ctx context.Context, id string) error
	ListShipments(ctx context.Context) ([]domain.Shipment, error)

	LoadStepInstances(ctx context.Context, shipmentID string) ([]domain.StepInstance, error)
	SaveStepInstance(ctx context.Context, st domain.StepInstance) error

	InsertDocument(ctx context.Context, d domain.Document) error
	LoadDocument(ctx context.Context, id string) (domain.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, shipmentID string) ([]domain.Document, error)
}

// Notifier receives risk escalation events. Delivery is the collaborator's
// problem; the engine only emits.
type Notifier interface {
	RiskEscalated(ctx context.Context, s domain.Shipment, from, to domain.RiskLevel)
}

// NopNotifier discards events.
type NopNotifier struct{}

func (NopNotifier) RiskEscalated(context.Context, domain.Shipment, domain.RiskLevel, domain.RiskLevel) {
}
