// Package appointment runs the appointment lifecycle and the visit workflow
// that writes the visit summary, private notes and prescription.
package appointment

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
	"github.com/ehr/hospital/internal/platform/notification"
	"github.com/ehr/hospital/internal/platform/telemetry"
)

const dateLayout = "2006-01-02"

type CreateInput struct {
	PatientID       uuid.UUID `json:"patient_id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	AppointmentTime time.Time `json:"appointment_time"`
	VisitPurpose    *string   `json:"visit_purpose,omitempty"`
}

// CompleteInput is the doctor's visit submission. A nil Prescription, or
// one with no line items, leaves only the already dispensed items in place.
type CompleteInput struct {
	Visit        model.VisitEdits         `json:"visit_details"`
	Prescription *model.PrescriptionEdits `json:"prescription_details,omitempty"`
}

// Query holds the raw list filters of a request.
type Query struct {
	DoctorID  string
	PatientID string
	Date      string
	Sex       string
}

// Detail is an appointment with everything recorded during its visit. Notes
// contains only what the reader may see.
type Detail struct {
	*Record
	Visit        *model.Visit         `json:"visit,omitempty"`
	Prescription *model.Prescription  `json:"prescription,omitempty"`
	Notes        []model.ClinicalNote `json:"notes"`
}

// PatientReader resolves the patient of a history request.
type PatientReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Patient, error)
}

type Service struct {
	appts    Repository
	visits   VisitRepository
	rx       PrescriptionStore
	patients PatientReader
	tx       db.TxRunner
	audit    audit.Recorder
	notifier notification.Notifier
	metrics  *telemetry.Metrics
}

func NewService(appts Repository, visits VisitRepository, rx PrescriptionStore, patients PatientReader,
	tx db.TxRunner, rec audit.Recorder, notifier notification.Notifier, metrics *telemetry.Metrics) *Service {
	return &Service{
		appts:    appts,
		visits:   visits,
		rx:       rx,
		patients: patients,
		tx:       tx,
		audit:    rec,
		notifier: notifier,
		metrics:  metrics,
	}
}

func isNotFound(err error) bool {
	return apperr.KindOf(apperr.FromDB(err, "record")) == apperr.KindNotFound
}

// Create books an appointment with a doctor of the caller's hospital.
func (s *Service) Create(ctx context.Context, actor auth.Identity, in CreateInput) (*Detail, error) {
	if err := auth.Authorize(actor, model.RoleNurse, model.RoleDoctor); err != nil {
		return nil, err
	}
	hid, err := auth.RequireHospital(actor)
	if err != nil {
		return nil, err
	}
	if in.PatientID == uuid.Nil || in.DoctorID == uuid.Nil {
		return nil, apperr.Validation("patient_id and doctor_id are required")
	}
	if in.AppointmentTime.IsZero() {
		return nil, apperr.Validation("appointment_time is required")
	}

	creator := actor.UserID
	a := &model.Appointment{
		PatientID:       in.PatientID,
		DoctorID:        in.DoctorID,
		CreatedByID:     &creator,
		AppointmentTime: in.AppointmentTime,
		Status:          model.AppointmentScheduled,
		VisitPurpose:    in.VisitPurpose,
	}

	var rec *Record
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.appts.Create(ctx, a); err != nil {
			return apperr.FromDB(err, "appointment")
		}
		var err error
		if rec, err = s.appts.GetByID(ctx, a.ID); err != nil {
			return apperr.FromDB(err, "appointment")
		}
		if rec.Patient.HospitalID != hid {
			return apperr.NotFound("patient not found")
		}
		if rec.HospitalID() != hid {
			return apperr.NotFound("doctor not found")
		}
		if rec.Doctor.Role != model.RoleDoctor {
			return apperr.Validation("appointments can only be booked with a doctor")
		}
		return nil
	})
	s.metrics.Observe("create_appointment", err)
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, notification.Notification{
		Target: notification.User(rec.DoctorID),
		Event:  notification.EventNewAppointment,
		Payload: map[string]interface{}{
			"appointment_id": rec.ID.String(),
			"patient_name":   rec.Patient.FullName,
		},
	})
	return &Detail{Record: rec, Notes: []model.ClinicalNote{}}, nil
}

// lock loads and locks an appointment the caller may see.
func (s *Service) lock(ctx context.Context, actor auth.Identity, id uuid.UUID) (*Record, error) {
	rec, err := s.appts.GetForUpdate(ctx, id)
	if err != nil {
		return nil, apperr.FromDB(err, "appointment")
	}
	if err := auth.ScopeCheck(actor, rec.HospitalID(), "appointment"); err != nil {
		return nil, err
	}
	return rec, nil
}

// Start opens the consultation and creates its visit.
func (s *Service) Start(ctx context.Context, actor auth.Identity, id uuid.UUID) (*Detail, error) {
	if err := auth.Authorize(actor, model.RoleDoctor); err != nil {
		return nil, err
	}
	var rec *Record
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if rec, err = s.lock(ctx, actor, id); err != nil {
			return err
		}
		if rec.DoctorID != actor.UserID {
			return apperr.Forbidden("only the assigned doctor can start this consultation")
		}
		if _, err := s.visits.GetByAppointment(ctx, id); err == nil {
			return apperr.Conflict("consultation has already been started")
		} else if !isNotFound(err) {
			return apperr.FromDB(err, "visit")
		}
		next, err := model.NextAppointmentStatus(rec.Status, model.TransitionStart)
		if err != nil {
			return err
		}
		if err := s.visits.Create(ctx, &model.Visit{AppointmentID: id}); err != nil {
			return apperr.FromDB(err, "visit")
		}
		if err := s.appts.SetStatus(ctx, id, next); err != nil {
			return apperr.FromDB(err, "appointment")
		}
		rec.Status = next
		return nil
	})
	s.metrics.Observe("start_consultation", err)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, actor, rec)
}

// Complete saves the visit summary, the doctor's private note and the
// prescription, then marks the appointment completed. Re-saving a
// completed visit is allowed until its prescription is fully dispensed.
func (s *Service) Complete(ctx context.Context, actor auth.Identity, id uuid.UUID, in CompleteInput) (*Detail, error) {
	if err := auth.Authorize(actor, model.RoleDoctor); err != nil {
		return nil, err
	}
	var incoming []model.LineItemInput
	if in.Prescription != nil {
		for _, it := range in.Prescription.LineItems {
			it.MedicineName = strings.TrimSpace(it.MedicineName)
			incoming = append(incoming, it)
		}
	}
	if err := model.ValidateLineItems(incoming); err != nil {
		return nil, err
	}

	var (
		rec     *Record
		created *model.Prescription
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if rec, err = s.lock(ctx, actor, id); err != nil {
			return err
		}
		visit, err := s.visits.GetByAppointment(ctx, id)
		if err != nil {
			if isNotFound(err) {
				return apperr.NotFound("consultation not found or was not started")
			}
			return apperr.FromDB(err, "visit")
		}
		if rec.DoctorID != actor.UserID {
			return apperr.Forbidden("only the assigned doctor can complete this visit")
		}
		next, err := model.NextAppointmentStatus(rec.Status, model.TransitionComplete)
		if err != nil {
			return err
		}

		rx, err := s.rx.GetByVisitForUpdate(ctx, visit.ID)
		if err != nil {
			if !isNotFound(err) {
				return apperr.FromDB(err, "prescription")
			}
			rx = nil
		}
		if rx != nil && rx.Frozen() {
			return apperr.Conflict("prescription is fully dispensed and can no longer be edited")
		}

		if in.Visit.Apply(visit) {
			if err := s.visits.Update(ctx, visit); err != nil {
				return apperr.FromDB(err, "visit")
			}
		}
		if n := in.Visit.PrivateNote; n != nil && strings.TrimSpace(*n) != "" {
			note := &model.ClinicalNote{VisitID: visit.ID, AuthorDoctorID: actor.UserID, Content: *n}
			if err := s.visits.UpsertNote(ctx, note); err != nil {
				return apperr.FromDB(err, "clinical note")
			}
		}

		switch {
		case rx == nil && len(incoming) > 0:
			created = &model.Prescription{
				Status:     model.PrescriptionCreated,
				VisitID:    visit.ID,
				PatientID:  rec.PatientID,
				DoctorID:   rec.DoctorID,
				HospitalID: rec.HospitalID(),
				LineItems:  model.MergeLineItems(nil, incoming),
			}
			if err := s.rx.Create(ctx, created); err != nil {
				return apperr.FromDB(err, "prescription")
			}
		case rx != nil:
			if err := s.revise(ctx, rx, incoming); err != nil {
				return err
			}
		}

		if next != rec.Status {
			if err := s.appts.SetStatus(ctx, id, next); err != nil {
				return apperr.FromDB(err, "appointment")
			}
			rec.Status = next
		}
		return nil
	})
	s.metrics.Observe("complete_visit", err)
	if err != nil {
		return nil, err
	}

	if created != nil {
		s.notifier.Notify(ctx, notification.Notification{
			Target: notification.Pharmacy(created.HospitalID),
			Event:  notification.EventNewPrescription,
			Payload: map[string]interface{}{
				"prescription_id": created.ID.String(),
				"patient_name":    rec.Patient.FullName,
			},
		})
	}
	return s.detail(ctx, actor, rec)
}

// revise merges a resubmission into an existing, locked prescription. The
// aggregate status is left to the pharmacy; only a Not Available
// prescription that receives new items goes back to Created.
func (s *Service) revise(ctx context.Context, rx *model.Prescription, incoming []model.LineItemInput) error {
	merged := model.MergeLineItems(rx.LineItems, incoming)
	if err := s.rx.ReplaceLineItems(ctx, rx.ID, merged); err != nil {
		return apperr.FromDB(err, "prescription")
	}
	if rx.Status != model.PrescriptionNotAvailable || len(incoming) == 0 {
		return nil
	}
	if err := s.rx.SetStatus(ctx, rx.ID, model.PrescriptionCreated); err != nil {
		return apperr.FromDB(err, "prescription")
	}
	return nil
}

func (s *Service) Cancel(ctx context.Context, actor auth.Identity, id uuid.UUID) (*Detail, error) {
	return s.close(ctx, actor, id, model.TransitionCancel, audit.ActionAppointmentCancelled, "cancel_appointment")
}

func (s *Service) NoShow(ctx context.Context, actor auth.Identity, id uuid.UUID) (*Detail, error) {
	return s.close(ctx, actor, id, model.TransitionNoShow, audit.ActionAppointmentNoShow, "no_show_appointment")
}

// close applies a terminal transition requested by a nurse or by the
// appointment's own doctor, and audits it.
func (s *Service) close(ctx context.Context, actor auth.Identity, id uuid.UUID, t model.Transition, action, op string) (*Detail, error) {
	if err := auth.Authorize(actor, model.RoleDoctor, model.RoleNurse); err != nil {
		return nil, err
	}
	var rec *Record
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if rec, err = s.lock(ctx, actor, id); err != nil {
			return err
		}
		if actor.Role == model.RoleDoctor && rec.DoctorID != actor.UserID {
			return apperr.Forbidden("only the assigned doctor or a nurse can change this appointment")
		}
		next, err := model.NextAppointmentStatus(rec.Status, t)
		if err != nil {
			return err
		}
		if err := s.appts.SetStatus(ctx, id, next); err != nil {
			return apperr.FromDB(err, "appointment")
		}
		hid := rec.HospitalID()
		entry := audit.Entry(actor.UserID, &hid, action, audit.EntityAppointment, id,
			map[string]interface{}{"from": string(rec.Status), "to": string(next)})
		if err := s.audit.Record(ctx, entry); err != nil {
			return apperr.Internal(err, "record audit entry")
		}
		rec.Status = next
		return nil
	})
	s.metrics.Observe(op, err)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, actor, rec)
}

func parseOptionalID(field, raw string) (*uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperr.Validation("%s must be a uuid", field)
	}
	return &id, nil
}

func parseOptionalDate(field, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, apperr.Validation("%s must be YYYY-MM-DD", field)
	}
	return &t, nil
}

func (q Query) filter(hid uuid.UUID) (ListFilter, error) {
	f := ListFilter{HospitalID: hid}
	var err error
	if f.DoctorID, err = parseOptionalID("doctor_id", q.DoctorID); err != nil {
		return f, err
	}
	if f.PatientID, err = parseOptionalID("patient_id", q.PatientID); err != nil {
		return f, err
	}
	if f.Date, err = parseOptionalDate("date", q.Date); err != nil {
		return f, err
	}
	if sex := strings.ToLower(strings.TrimSpace(q.Sex)); sex != "" {
		f.PatientSex = &sex
	}
	return f, nil
}

// List returns the hospital's appointments in time order. Doctors see their
// own unless they ask for another doctor.
func (s *Service) List(ctx context.Context, actor auth.Identity, q Query, limit, offset int) ([]*Record, int, error) {
	if err := auth.Authorize(actor, model.RoleDoctor, model.RoleNurse, model.RoleAdmin); err != nil {
		return nil, 0, err
	}
	hid, err := auth.RequireHospital(actor)
	if err != nil {
		return nil, 0, err
	}
	q.Sex = ""
	f, err := q.filter(hid)
	if err != nil {
		return nil, 0, err
	}
	if actor.Role == model.RoleDoctor && f.DoctorID == nil {
		self := actor.UserID
		f.DoctorID = &self
	}
	items, total, err := s.appts.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromDB(err, "appointment")
	}
	return items, total, nil
}

// ListAll is the nurse's desk view of the hospital, newest first.
func (s *Service) ListAll(ctx context.Context, actor auth.Identity, q Query, limit, offset int) ([]*Record, int, error) {
	if err := auth.Authorize(actor, model.RoleNurse); err != nil {
		return nil, 0, err
	}
	hid, err := auth.RequireHospital(actor)
	if err != nil {
		return nil, 0, err
	}
	q.PatientID = ""
	f, err := q.filter(hid)
	if err != nil {
		return nil, 0, err
	}
	f.Descending = true
	items, total, err := s.appts.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromDB(err, "appointment")
	}
	return items, total, nil
}

func (s *Service) Get(ctx context.Context, actor auth.Identity, id uuid.UUID) (*Detail, error) {
	if err := auth.Authorize(actor, model.RoleSuperAdmin, model.RoleAdmin, model.RoleDoctor,
		model.RoleNurse, model.RoleMedicalShop); err != nil {
		return nil, err
	}
	rec, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.FromDB(err, "appointment")
	}
	if err := auth.ScopeCheck(actor, rec.HospitalID(), "appointment"); err != nil {
		return nil, err
	}
	return s.detail(ctx, actor, rec)
}

// History returns a patient's completed appointments, newest first.
func (s *Service) History(ctx context.Context, actor auth.Identity, patientID uuid.UUID, limit, offset int) ([]*Detail, int, error) {
	if err := auth.Authorize(actor, model.RoleDoctor, model.RoleNurse); err != nil {
		return nil, 0, err
	}
	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, 0, apperr.FromDB(err, "patient")
	}
	if err := auth.ScopeCheck(actor, p.HospitalID, "patient"); err != nil {
		return nil, 0, err
	}

	completed := model.AppointmentCompleted
	recs, total, err := s.appts.List(ctx, ListFilter{
		HospitalID: p.HospitalID,
		PatientID:  &patientID,
		Status:     &completed,
		Descending: true,
	}, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromDB(err, "appointment")
	}

	out := make([]*Detail, 0, len(recs))
	for _, rec := range recs {
		d, err := s.detail(ctx, actor, rec)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, nil
}

// detail loads the visit records of rec as reader may see them.
func (s *Service) detail(ctx context.Context, reader auth.Identity, rec *Record) (*Detail, error) {
	d := &Detail{Record: rec, Notes: []model.ClinicalNote{}}

	visit, err := s.visits.GetByAppointment(ctx, rec.ID)
	if err != nil {
		if isNotFound(err) {
			return d, nil
		}
		return nil, apperr.FromDB(err, "visit")
	}
	d.Visit = visit

	rx, err := s.rx.GetByVisit(ctx, visit.ID)
	switch {
	case err == nil:
		d.Prescription = rx
	case !isNotFound(err):
		return nil, apperr.FromDB(err, "prescription")
	}

	notes, err := s.visits.Notes(ctx, visit.ID)
	if err != nil {
		return nil, apperr.FromDB(err, "clinical note")
	}
	for _, n := range notes {
		if model.CanReadNote(n, reader.UserID, reader.Role) {
			d.Notes = append(d.Notes, n)
		}
	}
	return d, nil
}
