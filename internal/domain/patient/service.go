// Package patient registers patients within a hospital.
package patient

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/hospital/internal/domain/model"
	"github.com/ehr/hospital/internal/platform/apperr"
	"github.com/ehr/hospital/internal/platform/audit"
	"github.com/ehr/hospital/internal/platform/auth"
	"github.com/ehr/hospital/internal/platform/db"
)

const dateLayout = "2006-01-02"

var sexes = map[string]bool{"male": true, "female": true, "other": true}

type Input struct {
	FullName    string  `json:"full_name"`
	PhoneNumber string  `json:"phone_number"`
	DateOfBirth *string `json:"date_of_birth,omitempty"`
	Sex         *string `json:"sex,omitempty"`
}

type Update struct {
	FullName    *string `json:"full_name,omitempty"`
	PhoneNumber *string `json:"phone_number,omitempty"`
	DateOfBirth *string `json:"date_of_birth,omitempty"`
	Sex         *string `json:"sex,omitempty"`
}

type Service struct {
	repo  Repository
	tx    db.TxRunner
	audit audit.Recorder
}

func NewService(repo Repository, tx db.TxRunner, rec audit.Recorder) *Service {
	return &Service{repo: repo, tx: tx, audit: rec}
}

func parseDate(field string, raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, strings.TrimSpace(*raw))
	if err != nil {
		return nil, apperr.Validation("%s must be YYYY-MM-DD", field)
	}
	return &t, nil
}

func normalizeSex(raw *string) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	s := strings.ToLower(strings.TrimSpace(*raw))
	if s == "" {
		return nil, nil
	}
	if !sexes[s] {
		return nil, apperr.Validation("sex must be male, female or other")
	}
	return &s, nil
}

func (s *Service) Create(ctx context.Context, actor auth.Identity, in Input) (*model.Patient, error) {
	if err := auth.Authorize(actor, model.RoleNurse, model.RoleDoctor); err != nil {
		return nil, err
	}
	hid, err := auth.RequireHospital(actor)
	if err != nil {
		return nil, err
	}

	p := &model.Patient{
		FullName:    strings.TrimSpace(in.FullName),
		PhoneNumber: strings.TrimSpace(in.PhoneNumber),
		HospitalID:  hid,
	}
	if p.FullName == "" {
		return nil, apperr.Validation("full_name is required")
	}
	if p.PhoneNumber == "" {
		return nil, apperr.Validation("phone_number is required")
	}
	if p.DateOfBirth, err = parseDate("date_of_birth", in.DateOfBirth); err != nil {
		return nil, err
	}
	if p.Sex, err = normalizeSex(in.Sex); err != nil {
		return nil, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.ensurePhoneFree(ctx, hid, p.PhoneNumber, uuid.Nil); err != nil {
			return err
		}
		return apperr.FromDB(s.repo.Create(ctx, p), "patient")
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ensurePhoneFree rejects a phone number already used by another patient of
// the hospital. The unique constraint backs this up under races.
func (s *Service) ensurePhoneFree(ctx context.Context, hid uuid.UUID, phone string, self uuid.UUID) error {
	existing, err := s.repo.GetByPhone(ctx, hid, phone)
	if err != nil {
		if apperr.KindOf(apperr.FromDB(err, "patient")) == apperr.KindNotFound {
			return nil
		}
		return apperr.FromDB(err, "patient")
	}
	if existing.ID != self {
		return apperr.Conflict("a patient with phone number %s already exists", phone)
	}
	return nil
}

func (s *Service) List(ctx context.Context, actor auth.Identity, search, appointmentDate string, limit, offset int) ([]*model.Patient, int, error) {
	if err := auth.Authorize(actor, model.RoleDoctor, model.RoleNurse, model.RoleAdmin); err != nil {
		return nil, 0, err
	}
	hid, err := auth.RequireHospital(actor)
	if err != nil {
		return nil, 0, err
	}
	f := ListFilter{HospitalID: hid, Search: search}
	if appointmentDate != "" {
		if f.AppointmentDate, err = parseDate("appointment_date", &appointmentDate); err != nil {
			return nil, 0, err
		}
	}
	items, total, err := s.repo.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromDB(err, "patient")
	}
	return items, total, nil
}

// SearchByPhone finds the patient with exactly phone in the caller's hospital.
func (s *Service) SearchByPhone(ctx context.Context, actor auth.Identity, phone string) (*model.Patient, error) {
	if err := auth.Authorize(actor, model.RoleDoctor, model.RoleNurse, model.RoleAdmin); err != nil {
		return nil, err
	}
	hid, err := auth.RequireHospital(actor)
	if err != nil {
		return nil, err
	}
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, apperr.Validation("phone is required")
	}
	p, err := s.repo.GetByPhone(ctx, hid, phone)
	if err != nil {
		return nil, apperr.FromDB(err, "patient")
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, actor auth.Identity, id uuid.UUID) (*model.Patient, error) {
	if err := auth.Authorize(actor, model.RoleDoctor, model.RoleNurse, model.RoleAdmin); err != nil {
		return nil, err
	}
	return s.scoped(ctx, actor, id)
}

func (s *Service) scoped(ctx context.Context, actor auth.Identity, id uuid.UUID) (*model.Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.FromDB(err, "patient")
	}
	if err := auth.ScopeCheck(actor, p.HospitalID, "patient"); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Update(ctx context.Context, actor auth.Identity, id uuid.UUID, in Update) (*model.Patient, error) {
	if err := auth.Authorize(actor, model.RoleNurse, model.RoleDoctor); err != nil {
		return nil, err
	}
	var p *model.Patient
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if p, err = s.scoped(ctx, actor, id); err != nil {
			return err
		}
		if in.FullName != nil {
			name := strings.TrimSpace(*in.FullName)
			if name == "" {
				return apperr.Validation("full_name must not be empty")
			}
			p.FullName = name
		}
		if in.PhoneNumber != nil {
			phone := strings.TrimSpace(*in.PhoneNumber)
			if phone == "" {
				return apperr.Validation("phone_number must not be empty")
			}
			if phone != p.PhoneNumber {
				if err := s.ensurePhoneFree(ctx, p.HospitalID, phone, p.ID); err != nil {
					return err
				}
			}
			p.PhoneNumber = phone
		}
		if in.DateOfBirth != nil {
			if p.DateOfBirth, err = parseDate("date_of_birth", in.DateOfBirth); err != nil {
				return err
			}
		}
		if in.Sex != nil {
			if p.Sex, err = normalizeSex(in.Sex); err != nil {
				return err
			}
		}
		return apperr.FromDB(s.repo.Update(ctx, p), "patient")
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Delete removes a patient together with their appointments, visits, notes
// and prescriptions.
func (s *Service) Delete(ctx context.Context, actor auth.Identity, id uuid.UUID) error {
	if err := auth.Authorize(actor, model.RoleAdmin, model.RoleDoctor); err != nil {
		return err
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.scoped(ctx, actor, id)
		if err != nil {
			return err
		}
		if err := s.repo.Delete(ctx, id); err != nil {
			return apperr.FromDB(err, "patient")
		}
		hid := p.HospitalID
		entry := audit.Entry(actor.UserID, &hid, audit.ActionPatientDeleted, audit.EntityPatient, id,
			map[string]interface{}{"full_name": p.FullName})
		if err := s.audit.Record(ctx, entry); err != nil {
			return apperr.Internal(err, "record audit entry")
		}
		return nil
	})
}
