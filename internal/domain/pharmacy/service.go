// Package pharmacy is the dispensing side of the prescription workflow:
// the hospital queue, dispense updates and pharmacy statistics.
package pharmacy

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/hospital/internal/domain/model"
	"github.com/ehr/hospital/internal/domain/prescription"
	"github.com/ehr/hospital/internal/platform/apperr"
	"github.com/ehr/hospital/internal/platform/audit"
	"github.com/ehr/hospital/internal/platform/auth"
	"github.com/ehr/hospital/internal/platform/db"
	"github.com/ehr/hospital/internal/platform/notification"
	"github.com/ehr/hospital/internal/platform/telemetry"
)

// Store is the part of the prescription repository the pharmacy uses.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Prescription, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Prescription, error)
	SetStatus(ctx context.Context, id uuid.UUID, status model.PrescriptionStatus) error
	UpdateLineItem(ctx context.Context, id uuid.UUID, change prescription.LineChange) (bool, error)
	Queue(ctx context.Context, hospitalID uuid.UUID, limit, offset int) ([]*prescription.QueueEntry, int, error)
	Stats(ctx context.Context, hospitalID uuid.UUID, dayStart time.Time) (*prescription.Stats, error)
}

type Service struct {
	store    Store
	tx       db.TxRunner
	audit    audit.Recorder
	notifier notification.Notifier
	metrics  *telemetry.Metrics
	now      func() time.Time
}

func NewService(store Store, tx db.TxRunner, rec audit.Recorder, notifier notification.Notifier, metrics *telemetry.Metrics) *Service {
	return &Service{store: store, tx: tx, audit: rec, notifier: notifier, metrics: metrics, now: time.Now}
}

func parseChanges(updates []model.LineUpdate) ([]prescription.LineChange, error) {
	changes := make([]prescription.LineChange, 0, len(updates))
	for i, u := range updates {
		status, err := model.ParseLineItemStatus(u.Status)
		if err != nil {
			return nil, apperr.Validation("updates[%d]: unknown status %q", i, u.Status)
		}
		ch := prescription.LineChange{ID: u.ID, Status: status}
		if u.SubstitutionInfo != nil {
			if info := strings.TrimSpace(*u.SubstitutionInfo); info != "" {
				ch.SubstitutionInfo = &info
			}
		}
		changes = append(changes, ch)
	}
	return changes, nil
}

// locked loads and locks a prescription of the caller's hospital.
func (s *Service) locked(ctx context.Context, actor auth.Identity, id uuid.UUID) (*model.Prescription, error) {
	p, err := s.store.GetForUpdate(ctx, id)
	if err != nil {
		return nil, apperr.FromDB(err, "prescription")
	}
	if err := auth.ScopeCheck(actor, p.HospitalID, "prescription"); err != nil {
		return nil, err
	}
	return p, nil
}

// Dispense records pharmacy progress on line items and re-derives the
// prescription status from the items as stored after the update. Updates
// naming items of other prescriptions are ignored.
func (s *Service) Dispense(ctx context.Context, actor auth.Identity, id uuid.UUID, updates []model.LineUpdate) (*model.Prescription, error) {
	if err := auth.Authorize(actor, model.RoleMedicalShop); err != nil {
		return nil, err
	}
	changes, err := parseChanges(updates)
	if err != nil {
		return nil, err
	}

	var out *model.Prescription
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.locked(ctx, actor, id)
		if err != nil {
			return err
		}
		applied := 0
		for _, ch := range changes {
			ok, err := s.store.UpdateLineItem(ctx, id, ch)
			if err != nil {
				return apperr.FromDB(err, "line item")
			}
			if ok {
				applied++
			}
		}

		if out, err = s.store.GetByID(ctx, id); err != nil {
			return apperr.FromDB(err, "prescription")
		}
		status := model.AggregateStatus(p.Status, model.Statuses(out.LineItems))
		if status != p.Status {
			if err := s.store.SetStatus(ctx, id, status); err != nil {
				return apperr.FromDB(err, "prescription")
			}
			out.Status = status
		}

		hid := p.HospitalID
		entry := audit.Entry(actor.UserID, &hid, audit.ActionPrescriptionDispense, audit.EntityPrescription, id,
			map[string]interface{}{"status": string(status), "updated_items": applied})
		if err := s.audit.Record(ctx, entry); err != nil {
			return apperr.Internal(err, "record audit entry")
		}
		return nil
	})
	s.metrics.Observe("dispense", err)
	if err != nil {
		return nil, err
	}

	s.notifyDoctor(ctx, out)
	return out, nil
}

// MarkUnavailable tells the prescribing doctor the pharmacy cannot fill a
// prescription. It is refused once any item has been dispensed.
func (s *Service) MarkUnavailable(ctx context.Context, actor auth.Identity, id uuid.UUID) (*model.Prescription, error) {
	if err := auth.Authorize(actor, model.RoleMedicalShop); err != nil {
		return nil, err
	}
	var p *model.Prescription
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if p, err = s.locked(ctx, actor, id); err != nil {
			return err
		}
		for _, it := range p.LineItems {
			if it.Status.Dispensed() {
				return apperr.Conflict("prescription has dispensed items and cannot be marked unavailable")
			}
		}
		if err := s.store.SetStatus(ctx, id, model.PrescriptionNotAvailable); err != nil {
			return apperr.FromDB(err, "prescription")
		}
		hid := p.HospitalID
		entry := audit.Entry(actor.UserID, &hid, audit.ActionPrescriptionNA, audit.EntityPrescription, id,
			map[string]interface{}{"from": string(p.Status)})
		if err := s.audit.Record(ctx, entry); err != nil {
			return apperr.Internal(err, "record audit entry")
		}
		p.Status = model.PrescriptionNotAvailable
		return nil
	})
	s.metrics.Observe("mark_unavailable", err)
	if err != nil {
		return nil, err
	}

	s.notifyDoctor(ctx, p)
	return p, nil
}

func (s *Service) notifyDoctor(ctx context.Context, p *model.Prescription) {
	s.notifier.Notify(ctx, notification.Notification{
		Target: notification.User(p.DoctorID),
		Event:  notification.EventDispenseUpdate,
		Payload: map[string]interface{}{
			"prescription_id": p.ID.String(),
			"status":          string(p.Status),
		},
	})
}

// Queue lists the hospital's prescriptions still waiting on the pharmacy,
// newest first.
func (s *Service) Queue(ctx context.Context, actor auth.Identity, limit, offset int) ([]*prescription.QueueEntry, int, error) {
	if err := auth.Authorize(actor, model.RoleMedicalShop, model.RoleAdmin); err != nil {
		return nil, 0, err
	}
	hid, err := auth.RequireHospital(actor)
	if err != nil {
		return nil, 0, err
	}
	items, total, err := s.store.Queue(ctx, hid, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromDB(err, "prescription")
	}
	return items, total, nil
}

func (s *Service) Stats(ctx context.Context, actor auth.Identity) (*prescription.Stats, error) {
	if err := auth.Authorize(actor, model.RoleMedicalShop); err != nil {
		return nil, err
	}
	hid, err := auth.RequireHospital(actor)
	if err != nil {
		return nil, err
	}
	now := s.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	st, err := s.store.Stats(ctx, hid, dayStart)
	if err != nil {
		return nil, apperr.FromDB(err, "prescription")
	}
	return st, nil
}

func (s *Service) Get(ctx context.Context, actor auth.Identity, id uuid.UUID) (*model.Prescription, error) {
	if err := auth.Authorize(actor, model.RoleSuperAdmin, model.RoleAdmin, model.RoleDoctor,
		model.RoleNurse, model.RoleMedicalShop); err != nil {
		return nil, err
	}
	p, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.FromDB(err, "prescription")
	}
	if err := auth.ScopeCheck(actor, p.HospitalID, "prescription"); err != nil {
		return nil, err
	}
	return p, nil
}
