// Package tenancy manages hospitals, their staff and sign-in.
package tenancy

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/hospital/internal/domain/model"
	"github.com/ehr/hospital/internal/platform/apperr"
	"github.com/ehr/hospital/internal/platform/audit"
	"github.com/ehr/hospital/internal/platform/auth"
	"github.com/ehr/hospital/internal/platform/db"
)

// TokenIssuer signs access tokens for authenticated users.
type TokenIssuer interface {
	Issue(u *model.User) (string, error)
}

// Revoker invalidates the access tokens a user already holds.
type Revoker interface {
	RevokeUser(ctx context.Context, userID uuid.UUID, at time.Time) error
}

type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type Service struct {
	hospitals HospitalRepository
	users     UserRepository
	tx        db.TxRunner
	hasher    auth.PasswordHasher
	tokens    TokenIssuer
	audit     audit.Recorder
	revoker   Revoker
	now       func() time.Time
}

func NewService(hospitals HospitalRepository, users UserRepository, tx db.TxRunner,
	hasher auth.PasswordHasher, tokens TokenIssuer, rec audit.Recorder, revoker Revoker) *Service {
	return &Service{
		hospitals: hospitals,
		users:     users,
		tx:        tx,
		hasher:    hasher,
		tokens:    tokens,
		audit:     rec,
		revoker:   revoker,
		now:       time.Now,
	}
}

// revoke ends the sessions u already holds.
func (s *Service) revoke(ctx context.Context, u *model.User) error {
	if err := s.revoker.RevokeUser(ctx, u.ID, s.now()); err != nil {
		return apperr.Internal(err, "revoke tokens")
	}
	return nil
}

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func isNotFound(err error) bool { return apperr.KindOf(apperr.FromDB(err, "")) == apperr.KindNotFound }

// -- Authentication --

// Login exchanges credentials for an access token. Unknown email, wrong
// password and inactive accounts are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*Token, error) {
	u, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.Unauthenticated("incorrect email or password")
		}
		return nil, apperr.FromDB(err, "user")
	}
	if !s.hasher.Verify(u.HashedPassword, password) || !u.IsActive {
		return nil, apperr.Unauthenticated("incorrect email or password")
	}

	signed, err := s.tokens.Issue(u)
	if err != nil {
		return nil, apperr.Internal(err, "issue token")
	}
	if err := s.users.TouchLastLogin(ctx, u.ID, s.now().UTC()); err != nil {
		return nil, apperr.FromDB(err, "user")
	}
	return &Token{AccessToken: signed, TokenType: "bearer"}, nil
}

// Me returns the caller's own account.
func (s *Service) Me(ctx context.Context, actor auth.Identity) (*model.User, error) {
	if actor.UserID == uuid.Nil {
		return nil, apperr.Unauthenticated("authentication required")
	}
	u, err := s.users.GetByID(ctx, actor.UserID)
	if err != nil {
		return nil, apperr.FromDB(err, "user")
	}
	return u, nil
}

// CreateSuperUser provisions a platform administrator. Used by the CLI only.
func (s *Service) CreateSuperUser(ctx context.Context, in StaffInput) (*model.User, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	u := &model.User{FullName: strings.TrimSpace(in.FullName), Email: normalizeEmail(in.Email), Role: model.RoleSuperAdmin, IsActive: true}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.createUser(ctx, u, in.Password)
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// -- Hospitals --

type HospitalInput struct {
	Name         string                 `json:"name"`
	Address      *string                `json:"address,omitempty"`
	ContactEmail *string                `json:"contact_email,omitempty"`
	ContactPhone *string                `json:"contact_phone,omitempty"`
	Settings     map[string]interface{} `json:"settings,omitempty"`
	Admin        StaffInput             `json:"admin"`
}

type HospitalUpdate struct {
	Name         *string                `json:"name,omitempty"`
	Address      *string                `json:"address,omitempty"`
	ContactEmail *string                `json:"contact_email,omitempty"`
	ContactPhone *string                `json:"contact_phone,omitempty"`
	Settings     map[string]interface{} `json:"settings,omitempty"`
}

// CreateHospital creates a hospital together with its first ADMIN.
func (s *Service) CreateHospital(ctx context.Context, actor auth.Identity, in HospitalInput) (*model.Hospital, *model.User, error) {
	if err := auth.Authorize(actor, model.RoleSuperAdmin); err != nil {
		return nil, nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, nil, apperr.Validation("name is required")
	}
	if err := in.Admin.validate(); err != nil {
		return nil, nil, err
	}

	h := &model.Hospital{
		Name:         name,
		Address:      in.Address,
		ContactEmail: in.ContactEmail,
		ContactPhone: in.ContactPhone,
		Settings:     in.Settings,
	}
	admin := &model.User{
		FullName: strings.TrimSpace(in.Admin.FullName),
		Email:    normalizeEmail(in.Admin.Email),
		Role:     model.RoleAdmin,
		IsActive: true,
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.hospitals.GetByName(ctx, name); err == nil {
			return apperr.Conflict("hospital %q already exists", name)
		} else if !isNotFound(err) {
			return apperr.FromDB(err, "hospital")
		}
		if err := s.hospitals.Create(ctx, h); err != nil {
			return apperr.FromDB(err, "hospital")
		}
		admin.HospitalID = &h.ID
		return s.createUser(ctx, admin, in.Admin.Password)
	})
	if err != nil {
		return nil, nil, err
	}
	if h.Settings == nil {
		h.Settings = map[string]interface{}{}
	}
	return h, admin, nil
}

// ListHospitals returns every hospital to a SUPER_ADMIN and only the
// caller's own to an ADMIN.
func (s *Service) ListHospitals(ctx context.Context, actor auth.Identity, limit, offset int) ([]*model.Hospital, int, error) {
	if err := auth.Authorize(actor, model.RoleSuperAdmin, model.RoleAdmin); err != nil {
		return nil, 0, err
	}
	if actor.IsSuperAdmin() {
		items, total, err := s.hospitals.List(ctx, limit, offset)
		if err != nil {
			return nil, 0, apperr.FromDB(err, "hospital")
		}
		return items, total, nil
	}
	hid, err := auth.RequireHospital(actor)
	if err != nil {
		return nil, 0, err
	}
	h, err := s.hospitals.GetByID(ctx, hid)
	if err != nil {
		return nil, 0, apperr.FromDB(err, "hospital")
	}
	if offset > 0 {
		return []*model.Hospital{}, 1, nil
	}
	return []*model.Hospital{h}, 1, nil
}

func (s *Service) GetHospital(ctx context.Context, actor auth.Identity, id uuid.UUID) (*model.Hospital, error) {
	if err := auth.Authorize(actor, model.RoleSuperAdmin, model.RoleAdmin); err != nil {
		return nil, err
	}
	if err := auth.ScopeCheck(actor, id, "hospital"); err != nil {
		return nil, err
	}
	h, err := s.hospitals.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.FromDB(err, "hospital")
	}
	return h, nil
}

// UpdateHospital applies the present fields. An ADMIN may only update the
// hospital they belong to.
func (s *Service) UpdateHospital(ctx context.Context, actor auth.Identity, id uuid.UUID, in HospitalUpdate) (*model.Hospital, error) {
	if err := auth.Authorize(actor, model.RoleSuperAdmin, model.RoleAdmin); err != nil {
		return nil, err
	}
	if err := auth.ScopeCheckForbidden(actor, id); err != nil {
		return nil, err
	}

	var h *model.Hospital
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		h, err = s.hospitals.GetByID(ctx, id)
		if err != nil {
			return apperr.FromDB(err, "hospital")
		}
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return apperr.Validation("name must not be empty")
			}
			h.Name = name
		}
		if in.Address != nil {
			h.Address = in.Address
		}
		if in.ContactEmail != nil {
			h.ContactEmail = in.ContactEmail
		}
		if in.ContactPhone != nil {
			h.ContactPhone = in.ContactPhone
		}
		if in.Settings != nil {
			h.Settings = in.Settings
		}
		return apperr.FromDB(s.hospitals.Update(ctx, h), "hospital")
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// DeleteHospital removes a hospital with all of its staff, patients and
// clinical records in one transaction.
func (s *Service) DeleteHospital(ctx context.Context, actor auth.Identity, id uuid.UUID) error {
	if err := auth.Authorize(actor, model.RoleSuperAdmin); err != nil {
		return err
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		h, err := s.hospitals.GetByID(ctx, id)
		if err != nil {
			return apperr.FromDB(err, "hospital")
		}
		if err := s.hospitals.Delete(ctx, id); err != nil {
			return apperr.FromDB(err, "hospital")
		}
		entry := audit.Entry(actor.UserID, nil, audit.ActionHospitalDeleted, audit.EntityHospital, id,
			map[string]interface{}{"name": h.Name})
		if err := s.audit.Record(ctx, entry); err != nil {
			return apperr.Internal(err, "record audit entry")
		}
		return nil
	})
}

// -- Staff --

type StaffInput struct {
	FullName   string  `json:"full_name"`
	Email      string  `json:"email"`
	Password   string  `json:"password"`
	Role       string  `json:"role,omitempty"`
	Speciality *string `json:"speciality,omitempty"`
}

func (in StaffInput) validate() error {
	if strings.TrimSpace(in.FullName) == "" {
		return apperr.Validation("full_name is required")
	}
	email := normalizeEmail(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return apperr.Validation("a valid email is required")
	}
	if len(in.Password) < auth.MinPasswordLen {
		return apperr.Validation("password must be at least %d characters", auth.MinPasswordLen)
	}
	return nil
}

type StaffUpdate struct {
	FullName   *string `json:"full_name,omitempty"`
	Speciality *string `json:"speciality,omitempty"`
	IsActive   *bool   `json:"is_active,omitempty"`
}

// StaffQuery holds the optional staff list filters as received.
type StaffQuery struct {
	Role     string
	IsActive *bool
}

// createUser checks global email uniqueness, hashes the password and
// inserts u. The unique index backs up the pre-check.
func (s *Service) createUser(ctx context.Context, u *model.User, password string) error {
	if _, err := s.users.GetByEmail(ctx, u.Email); err == nil {
		return apperr.Conflict("email %s is already registered", u.Email)
	} else if !isNotFound(err) {
		return apperr.FromDB(err, "user")
	}
	hashed, err := s.hasher.Hash(password)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return err
		}
		return apperr.Internal(err, "hash password")
	}
	u.HashedPassword = hashed
	if err := s.users.Create(ctx, u); err != nil {
		return apperr.FromDB(err, "user")
	}
	return nil
}

// ListStaff lists the caller's colleagues. The caller is never included.
func (s *Service) ListStaff(ctx context.Context, actor auth.Identity, q StaffQuery, limit, offset int) ([]*model.User, int, error) {
	if err := auth.Authorize(actor, model.RoleAdmin, model.RoleNurse); err != nil {
		return nil, 0, err
	}
	hid, err := auth.RequireHospital(actor)
	if err != nil {
		return nil, 0, err
	}
	f := UserFilter{HospitalID: hid, IsActive: q.IsActive, ExcludeID: actor.UserID}
	if q.Role != "" {
		role, err := model.ParseRole(q.Role)
		if err != nil {
			return nil, 0, err
		}
		f.Roles = []model.Role{role}
	}
	items, total, err := s.users.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromDB(err, "user")
	}
	return items, total, nil
}

// MyStaff lists the nurses or pharmacy operators a doctor works with.
func (s *Service) MyStaff(ctx context.Context, actor auth.Identity, role string, limit, offset int) ([]*model.User, int, error) {
	if err := auth.Authorize(actor, model.RoleDoctor); err != nil {
		return nil, 0, err
	}
	hid, err := auth.RequireHospital(actor)
	if err != nil {
		return nil, 0, err
	}
	r, err := model.ParseRole(role)
	if err != nil {
		return nil, 0, err
	}
	if r != model.RoleNurse && r != model.RoleMedicalShop {
		return nil, 0, apperr.Validation("role must be nurse or medical_shop")
	}
	items, total, err := s.users.List(ctx, UserFilter{HospitalID: hid, Roles: []model.Role{r}, ExcludeID: actor.UserID}, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromDB(err, "user")
	}
	return items, total, nil
}

// GetStaff returns a user to themself or to clinical and admin staff of the
// same hospital.
func (s *Service) GetStaff(ctx context.Context, actor auth.Identity, id uuid.UUID) (*model.User, error) {
	if actor.UserID != uuid.Nil && actor.UserID == id {
		return s.Me(ctx, actor)
	}
	if err := auth.Authorize(actor, model.RoleAdmin, model.RoleDoctor, model.RoleNurse); err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.FromDB(err, "user")
	}
	if u.HospitalID == nil {
		return nil, apperr.NotFound("user not found")
	}
	if err := auth.ScopeCheck(actor, *u.HospitalID, "user"); err != nil {
		return nil, err
	}
	return u, nil
}

// CreateStaff provisions a staff member in the caller's hospital. ADMINs
// create clinical and pharmacy staff, DOCTORs create nurses and pharmacy
// operators.
func (s *Service) CreateStaff(ctx context.Context, actor auth.Identity, in StaffInput) (*model.User, error) {
	if err := auth.Authorize(actor, model.RoleAdmin, model.RoleDoctor); err != nil {
		return nil, err
	}
	hid, err := auth.RequireHospital(actor)
	if err != nil {
		return nil, err
	}
	role, err := model.ParseRole(in.Role)
	if err != nil {
		return nil, err
	}
	if !auth.CanManageRole(actor.Role, role) {
		return nil, apperr.Forbidden("%s may not create %s accounts", actor.Role, role)
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	u := &model.User{
		FullName:   strings.TrimSpace(in.FullName),
		Email:      normalizeEmail(in.Email),
		Role:       role,
		HospitalID: &hid,
		IsActive:   true,
		Speciality: in.Speciality,
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.createUser(ctx, u, in.Password)
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// managedUser loads a user the caller intends to modify and applies the
// creation allow-list to the target's role.
func (s *Service) managedUser(ctx context.Context, actor auth.Identity, id uuid.UUID) (*model.User, error) {
	if err := auth.Authorize(actor, model.RoleAdmin, model.RoleDoctor); err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.FromDB(err, "user")
	}
	if u.HospitalID == nil {
		return nil, apperr.NotFound("user not found")
	}
	if err := auth.ScopeCheck(actor, *u.HospitalID, "user"); err != nil {
		return nil, err
	}
	if !auth.CanManageRole(actor.Role, u.Role) {
		return nil, apperr.Forbidden("%s may not manage %s accounts", actor.Role, u.Role)
	}
	return u, nil
}

func (s *Service) UpdateStaff(ctx context.Context, actor auth.Identity, id uuid.UUID, in StaffUpdate) (*model.User, error) {
	var u *model.User
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		u, err = s.managedUser(ctx, actor, id)
		if err != nil {
			return err
		}
		if in.FullName != nil {
			name := strings.TrimSpace(*in.FullName)
			if name == "" {
				return apperr.Validation("full_name must not be empty")
			}
			u.FullName = name
		}
		if in.Speciality != nil {
			u.Speciality = in.Speciality
		}
		deactivated := false
		if in.IsActive != nil {
			deactivated = u.IsActive && !*in.IsActive
			u.IsActive = *in.IsActive
		}
		if err := s.users.Update(ctx, u); err != nil {
			return apperr.FromDB(err, "user")
		}
		if deactivated {
			return s.revoke(ctx, u)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) ResetPassword(ctx context.Context, actor auth.Identity, id uuid.UUID, password string) error {
	if len(password) < auth.MinPasswordLen {
		return apperr.Validation("password must be at least %d characters", auth.MinPasswordLen)
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		u, err := s.managedUser(ctx, actor, id)
		if err != nil {
			return err
		}
		hashed, err := s.hasher.Hash(password)
		if err != nil {
			return apperr.Internal(err, "hash password")
		}
		if err := s.users.SetPassword(ctx, u.ID, hashed); err != nil {
			return apperr.FromDB(err, "user")
		}
		if err := s.revoke(ctx, u); err != nil {
			return err
		}
		entry := audit.Entry(actor.UserID, u.HospitalID, audit.ActionPasswordReset, audit.EntityUser, u.ID, nil)
		if err := s.audit.Record(ctx, entry); err != nil {
			return apperr.Internal(err, "record audit entry")
		}
		return nil
	})
}
