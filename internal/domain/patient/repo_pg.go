package patient

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

const patientCols = `id, full_name, phone_number, date_of_birth, sex, hospital_id, created_at`

func scanPatient(row pgx.Row) (*model.Patient, error) {
	var p model.Patient
	if err := row.Scan(&p.ID, &p.FullName, &p.PhoneNumber, &p.DateOfBirth, &p.Sex, &p.HospitalID, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) Create(ctx context.Context, p *model.Patient) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (id, full_name, phone_number, date_of_birth, sex, hospital_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		p.ID, p.FullName, p.PhoneNumber, p.DateOfBirth, p.Sex, p.HospitalID,
	).Scan(&p.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
}

func (r *repoPG) GetByPhone(ctx context.Context, hospitalID uuid.UUID, phone string) (*model.Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE hospital_id = $1 AND phone_number = $2`, hospitalID, phone))
}

func (r *repoPG) Update(ctx context.Context, p *model.Patient) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patients SET full_name = $2, phone_number = $3, date_of_birth = $4, sex = $5
		WHERE id = $1`,
		p.ID, p.FullName, p.PhoneNumber, p.DateOfBirth, p.Sex)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Delete relies on ON DELETE CASCADE for appointments and their records.
func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*model.Patient, int, error) {
	clauses := []string{"p.hospital_id = $1"}
	args := []interface{}{f.HospitalID}
	idx := 2

	if s := strings.TrimSpace(f.Search); s != "" {
		clauses = append(clauses, fmt.Sprintf("(p.full_name ILIKE $%d OR p.phone_number ILIKE $%d)", idx, idx))
		args = append(args, "%"+s+"%")
		idx++
	}
	if f.AppointmentDate != nil {
		clauses = append(clauses, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM appointments a WHERE a.patient_id = p.id AND a.appointment_time::date = $%d::date)", idx))
		args = append(args, *f.AppointmentDate)
		idx++
	}
	where := " WHERE " + strings.Join(clauses, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients p`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf(`SELECT %s FROM patients p%s ORDER BY p.full_name LIMIT $%d OFFSET $%d`,
		prefixed("p", patientCols), where, idx, idx+1)
	rows, err := r.conn(ctx).Query(ctx, q, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*model.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func prefixed(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, c := range parts {
		parts[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}
