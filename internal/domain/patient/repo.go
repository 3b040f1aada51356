package patient

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/hospital/internal/domain/model"
)

// ListFilter narrows a patient listing to one hospital.
type ListFilter struct {
	HospitalID uuid.UUID
	// Search matches name or phone number, case-insensitively.
	Search string
	// AppointmentDate keeps patients with an appointment on that day.
	AppointmentDate *time.Time
}

type Repository interface {
	Create(ctx context.Context, p *model.Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Patient, error)
	GetByPhone(ctx context.Context, hospitalID uuid.UUID, phone string) (*model.Patient, error)
	Update(ctx context.Context, p *model.Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*model.Patient, int, error)
}
