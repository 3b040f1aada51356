package tenancy

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/hospital/internal/domain/model"
)

type HospitalRepository interface {
	Create(ctx context.Context, h *model.Hospital) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Hospital, error)
	GetByName(ctx context.Context, name string) (*model.Hospital, error)
	Update(ctx context.Context, h *model.Hospital) error
	// Delete removes the hospital and everything it owns, children first.
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*model.Hospital, int, error)
}

// UserFilter narrows a staff listing. Zero values mean no constraint.
type UserFilter struct {
	HospitalID uuid.UUID
	Roles      []model.Role
	IsActive   *bool
	ExcludeID  uuid.UUID
}

type UserRepository interface {
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByEmail matches case-insensitively.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	Update(ctx context.Context, u *model.User) error
	SetPassword(ctx context.Context, id uuid.UUID, hashed string) error
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	List(ctx context.Context, f UserFilter, limit, offset int) ([]*model.User, int, error)
}
