// Package prescription stores prescriptions and their line items. The
// visit workflow writes them and the pharmacy workflow dispenses them.
package prescription

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/hospital/internal/domain/model"
)

// LineChange is a validated pharmacy update to one line item.
type LineChange struct {
	ID               uuid.UUID
	Status           model.LineItemStatus
	SubstitutionInfo *string
}

// QueueEntry is a prescription awaiting the pharmacy.
type QueueEntry struct {
	model.Prescription
	Patient    model.PatientSummary `json:"patient"`
	DoctorName string               `json:"doctor_name"`
}

type Stats struct {
	NewPrescriptions int `json:"new_prescriptions"`
	InProgress       int `json:"in_progress"`
	CompletedToday   int `json:"completed_today"`
	TotalPending     int `json:"total_pending"`
}

// Repository loads prescriptions together with their line items ordered by
// position. The ForUpdate variants lock the prescription row for the rest
// of the enclosing transaction.
type Repository interface {
	Create(ctx context.Context, p *model.Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Prescription, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Prescription, error)
	GetByVisit(ctx context.Context, visitID uuid.UUID) (*model.Prescription, error)
	GetByVisitForUpdate(ctx context.Context, visitID uuid.UUID) (*model.Prescription, error)
	SetStatus(ctx context.Context, id uuid.UUID, status model.PrescriptionStatus) error
	// ReplaceLineItems makes items the complete item list. Items with an ID
	// are kept and repositioned; the rest are inserted and given an ID.
	ReplaceLineItems(ctx context.Context, id uuid.UUID, items []model.LineItem) error
	// UpdateLineItem reports false when the item is not on the prescription.
	UpdateLineItem(ctx context.Context, id uuid.UUID, change LineChange) (bool, error)
	Queue(ctx context.Context, hospitalID uuid.UUID, limit, offset int) ([]*QueueEntry, int, error)
	Stats(ctx context.Context, hospitalID uuid.UUID, dayStart time.Time) (*Stats, error)
}
