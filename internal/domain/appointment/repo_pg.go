package appointment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/hospital/internal/domain/model"
	"github.com/ehr/hospital/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const recordSelect = `
	SELECT a.id, a.patient_id, a.doctor_id, a.created_by_id, a.appointment_time, a.status, a.visit_purpose, a.created_at,
		pt.id, pt.full_name, pt.phone_number, pt.sex, pt.hospital_id,
		d.id, d.full_name, d.role, d.speciality, d.hospital_id
	FROM appointments a
	JOIN patients pt ON pt.id = a.patient_id
	JOIN users d ON d.id = a.doctor_id`

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	a, p, d := &rec.Appointment, &rec.Patient, &rec.Doctor
	err := row.Scan(
		&a.ID, &a.PatientID, &a.DoctorID, &a.CreatedByID, &a.AppointmentTime, &a.Status, &a.VisitPurpose, &a.CreatedAt,
		&p.ID, &p.FullName, &p.PhoneNumber, &p.Sex, &p.HospitalID,
		&d.ID, &d.FullName, &d.Role, &d.Speciality, &d.HospitalID,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *repoPG) Create(ctx context.Context, a *model.Appointment) error {
	a.ID = uuid.New()
	if a.Status == "" {
		a.Status = model.AppointmentScheduled
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, created_by_id, appointment_time, status, visit_purpose)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		a.ID, a.PatientID, a.DoctorID, a.CreatedByID, a.AppointmentTime, a.Status, a.VisitPurpose,
	).Scan(&a.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	return scanRecord(r.conn(ctx).QueryRow(ctx, recordSelect+` WHERE a.id = $1`, id))
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Record, error) {
	return scanRecord(r.conn(ctx).QueryRow(ctx, recordSelect+` WHERE a.id = $1 FOR UPDATE OF a`, id))
}

func (r *repoPG) SetStatus(ctx context.Context, id uuid.UUID, status model.AppointmentStatus) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE appointments SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Record, int, error) {
	clauses := []string{"d.hospital_id = $1"}
	args := []interface{}{f.HospitalID}
	idx := 2

	add := func(clause string, v interface{}) {
		clauses = append(clauses, fmt.Sprintf(clause, idx))
		args = append(args, v)
		idx++
	}
	if f.DoctorID != nil {
		add("a.doctor_id = $%d", *f.DoctorID)
	}
	if f.PatientID != nil {
		add("a.patient_id = $%d", *f.PatientID)
	}
	if f.Date != nil {
		add("a.appointment_time::date = $%d::date", *f.Date)
	}
	if f.PatientSex != nil {
		add("lower(pt.sex) = $%d", *f.PatientSex)
	}
	if f.Status != nil {
		add("a.status = $%d", *f.Status)
	}
	where := " WHERE " + strings.Join(clauses, " AND ")

	var total int
	countQ := `SELECT COUNT(*) FROM appointments a
		JOIN patients pt ON pt.id = a.patient_id
		JOIN users d ON d.id = a.doctor_id` + where
	if err := r.conn(ctx).QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := "ASC"
	if f.Descending {
		order = "DESC"
	}
	q := fmt.Sprintf(`%s%s ORDER BY a.appointment_time %s, a.id LIMIT $%d OFFSET $%d`, recordSelect, where, order, idx, idx+1)
	rows, err := r.conn(ctx).Query(ctx, q, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, rows.Err()
}

type visitRepoPG struct {
	pool *pgxpool.Pool
}

func NewVisitRepoPG(pool *pgxpool.Pool) VisitRepository {
	return &visitRepoPG{pool: pool}
}

func (r *visitRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const visitCols = `id, appointment_id, diagnosis_summary, subjective, objective, assessment, plan, created_at, updated_at`

func scanVisit(row pgx.Row) (*model.Visit, error) {
	var v model.Visit
	if err := row.Scan(&v.ID, &v.AppointmentID, &v.DiagnosisSummary, &v.Subjective, &v.Objective,
		&v.Assessment, &v.Plan, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *visitRepoPG) Create(ctx context.Context, v *model.Visit) error {
	v.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO visits (id, appointment_id, diagnosis_summary, subjective, objective, assessment, plan)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		v.ID, v.AppointmentID, v.DiagnosisSummary, v.Subjective, v.Objective, v.Assessment, v.Plan,
	).Scan(&v.CreatedAt, &v.UpdatedAt)
}

func (r *visitRepoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*model.Visit, error) {
	return scanVisit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+visitCols+` FROM visits WHERE appointment_id = $1`, appointmentID))
}

func (r *visitRepoPG) Update(ctx context.Context, v *model.Visit) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE visits SET diagnosis_summary = $2, subjective = $3, objective = $4, assessment = $5, plan = $6,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		v.ID, v.DiagnosisSummary, v.Subjective, v.Objective, v.Assessment, v.Plan,
	).Scan(&v.UpdatedAt)
	return err
}

func (r *visitRepoPG) UpsertNote(ctx context.Context, n *model.ClinicalNote) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO clinical_notes (id, visit_id, author_doctor_id, content)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (visit_id, author_doctor_id)
		DO UPDATE SET content = EXCLUDED.content, updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		uuid.New(), n.VisitID, n.AuthorDoctorID, n.Content,
	).Scan(&n.ID, &n.CreatedAt, &n.UpdatedAt)
}

func (r *visitRepoPG) Notes(ctx context.Context, visitID uuid.UUID) ([]model.ClinicalNote, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, visit_id, author_doctor_id, content, created_at, updated_at
		FROM clinical_notes WHERE visit_id = $1 ORDER BY created_at`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []model.ClinicalNote
	for rows.Next() {
		var n model.ClinicalNote
		if err := rows.Scan(&n.ID, &n.VisitID, &n.AuthorDoctorID, &n.Content, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}
