package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/hospital/internal/domain/model"
)

// Record is an appointment joined with its patient and doctor. The doctor's
// hospital is the appointment's tenant.
type Record struct {
	model.Appointment
	Patient model.PatientSummary `json:"patient"`
	Doctor  model.StaffSummary   `json:"doctor"`
}

// HospitalID returns the tenant the appointment belongs to.
func (r *Record) HospitalID() uuid.UUID {
	if r.Doctor.HospitalID == nil {
		return uuid.Nil
	}
	return *r.Doctor.HospitalID
}

type ListFilter struct {
	HospitalID uuid.UUID
	DoctorID   *uuid.UUID
	PatientID  *uuid.UUID
	Date       *time.Time
	PatientSex *string
	Status     *model.AppointmentStatus
	Descending bool
}

type Repository interface {
	Create(ctx context.Context, a *model.Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	// GetForUpdate locks the appointment row until the transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Record, error)
	SetStatus(ctx context.Context, id uuid.UUID, status model.AppointmentStatus) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Record, int, error)
}

type VisitRepository interface {
	Create(ctx context.Context, v *model.Visit) error
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*model.Visit, error)
	Update(ctx context.Context, v *model.Visit) error
	// UpsertNote keeps one note per visit and author.
	UpsertNote(ctx context.Context, n *model.ClinicalNote) error
	Notes(ctx context.Context, visitID uuid.UUID) ([]model.ClinicalNote, error)
}

// PrescriptionStore is the part of the prescription repository the visit
// workflow writes through.
type PrescriptionStore interface {
	Create(ctx context.Context, p *model.Prescription) error
	GetByVisit(ctx context.Context, visitID uuid.UUID) (*model.Prescription, error)
	GetByVisitForUpdate(ctx context.Context, visitID uuid.UUID) (*model.Prescription, error)
	SetStatus(ctx context.Context, id uuid.UUID, status model.PrescriptionStatus) error
	ReplaceLineItems(ctx context.Context, id uuid.UUID, items []model.LineItem) error
}
