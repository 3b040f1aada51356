package appointment

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehr/hospital/internal/domain/model"
	"github.com/ehr/hospital/internal/platform/apperr"
	"github.com/ehr/hospital/internal/platform/notification"
)

// memDB backs the in-memory repositories of this package's tests.
type memDB struct {
	patients map[uuid.UUID]*model.Patient
	staff    map[uuid.UUID]model.StaffSummary
	appts    map[uuid.UUID]*model.Appointment
	visits   map[uuid.UUID]*model.Visit
	notes    []model.ClinicalNote
	rx       map[uuid.UUID]*model.Prescription
}

func newMemDB() *memDB {
	return &memDB{
		patients: make(map[uuid.UUID]*model.Patient),
		staff:    make(map[uuid.UUID]model.StaffSummary),
		appts:    make(map[uuid.UUID]*model.Appointment),
		visits:   make(map[uuid.UUID]*model.Visit),
		rx:       make(map[uuid.UUID]*model.Prescription),
	}
}

type apptStore struct{ *memDB }

func (m apptStore) Create(_ context.Context, a *model.Appointment) error {
	if _, ok := m.patients[a.PatientID]; !ok {
		return &pgconn.PgError{Code: "23503"}
	}
	if _, ok := m.staff[a.DoctorID]; !ok {
		return &pgconn.PgError{Code: "23503"}
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m apptStore) GetByID(_ context.Context, id uuid.UUID) (*Record, error) {
	a, ok := m.appts[id]
	if !ok {
		return nil, apperr.NotFound("appointment not found")
	}
	p := m.patients[a.PatientID]
	return &Record{
		Appointment: *a,
		Patient: model.PatientSummary{
			ID: p.ID, FullName: p.FullName, PhoneNumber: p.PhoneNumber, Sex: p.Sex, HospitalID: p.HospitalID,
		},
		Doctor: m.staff[a.DoctorID],
	}, nil
}

func (m apptStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*Record, error) {
	return m.GetByID(ctx, id)
}

func (m apptStore) SetStatus(_ context.Context, id uuid.UUID, status model.AppointmentStatus) error {
	a, ok := m.appts[id]
	if !ok {
		return apperr.NotFound("appointment not found")
	}
	a.Status = status
	return nil
}

func (m apptStore) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Record, int, error) {
	var out []*Record
	for id := range m.appts {
		rec, _ := m.GetByID(ctx, id)
		switch {
		case rec.HospitalID() != f.HospitalID:
			continue
		case f.DoctorID != nil && rec.DoctorID != *f.DoctorID:
			continue
		case f.PatientID != nil && rec.PatientID != *f.PatientID:
			continue
		case f.Status != nil && rec.Status != *f.Status:
			continue
		case f.PatientSex != nil && (rec.Patient.Sex == nil || *rec.Patient.Sex != *f.PatientSex):
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if f.Descending {
			return out[i].AppointmentTime.After(out[j].AppointmentTime)
		}
		return out[i].AppointmentTime.Before(out[j].AppointmentTime)
	})
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

type visitStore struct{ *memDB }

func (m visitStore) Create(_ context.Context, v *model.Visit) error {
	for _, existing := range m.visits {
		if existing.AppointmentID == v.AppointmentID {
			return &pgconn.PgError{Code: "23505"}
		}
	}
	v.ID = uuid.New()
	v.CreatedAt, v.UpdatedAt = time.Now(), time.Now()
	cp := *v
	m.visits[v.ID] = &cp
	return nil
}

func (m visitStore) GetByAppointment(_ context.Context, appointmentID uuid.UUID) (*model.Visit, error) {
	for _, v := range m.visits {
		if v.AppointmentID == appointmentID {
			cp := *v
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("visit not found")
}

func (m visitStore) Update(_ context.Context, v *model.Visit) error {
	cp := *v
	m.visits[v.ID] = &cp
	return nil
}

func (m visitStore) UpsertNote(_ context.Context, n *model.ClinicalNote) error {
	for i, existing := range m.notes {
		if existing.VisitID == n.VisitID && existing.AuthorDoctorID == n.AuthorDoctorID {
			m.notes[i].Content = n.Content
			*n = m.notes[i]
			return nil
		}
	}
	n.ID = uuid.New()
	m.notes = append(m.notes, *n)
	return nil
}

func (m visitStore) Notes(_ context.Context, visitID uuid.UUID) ([]model.ClinicalNote, error) {
	var out []model.ClinicalNote
	for _, n := range m.notes {
		if n.VisitID == visitID {
			out = append(out, n)
		}
	}
	return out, nil
}

type rxStore struct{ *memDB }

func copyRx(p *model.Prescription) *model.Prescription {
	cp := *p
	cp.LineItems = append([]model.LineItem{}, p.LineItems...)
	return &cp
}

func (m rxStore) Create(_ context.Context, p *model.Prescription) error {
	for _, existing := range m.rx {
		if existing.VisitID == p.VisitID {
			return &pgconn.PgError{Code: "23505"}
		}
	}
	p.ID = uuid.New()
	for i := range p.LineItems {
		p.LineItems[i].ID = uuid.New()
		p.LineItems[i].PrescriptionID = p.ID
	}
	m.rx[p.ID] = copyRx(p)
	return nil
}

func (m rxStore) GetByVisit(_ context.Context, visitID uuid.UUID) (*model.Prescription, error) {
	for _, p := range m.rx {
		if p.VisitID == visitID {
			return copyRx(p), nil
		}
	}
	return nil, apperr.NotFound("prescription not found")
}

func (m rxStore) GetByVisitForUpdate(ctx context.Context, visitID uuid.UUID) (*model.Prescription, error) {
	return m.GetByVisit(ctx, visitID)
}

func (m rxStore) SetStatus(_ context.Context, id uuid.UUID, status model.PrescriptionStatus) error {
	m.rx[id].Status = status
	return nil
}

func (m rxStore) ReplaceLineItems(_ context.Context, id uuid.UUID, items []model.LineItem) error {
	for i := range items {
		if items[i].ID == uuid.Nil {
			items[i].ID = uuid.New()
			items[i].PrescriptionID = id
		}
	}
	m.rx[id].LineItems = append([]model.LineItem{}, items...)
	return nil
}

type patientStore struct{ *memDB }

func (m patientStore) GetByID(_ context.Context, id uuid.UUID) (*model.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient not found")
	}
	cp := *p
	return &cp, nil
}

type passthroughTx struct{}

func (passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type recordingAudit struct{ entries []*model.AuditLog }

func (r *recordingAudit) Record(_ context.Context, e *model.AuditLog) error {
	r.entries = append(r.entries, e)
	return nil
}

type recordingNotifier struct{ sent []notification.Notification }

func (r *recordingNotifier) Notify(_ context.Context, n notification.Notification) {
	r.sent = append(r.sent, n)
}
