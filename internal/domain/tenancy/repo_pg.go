package tenancy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/hospital/internal/domain/model"
	"github.com/ehr/hospital/internal/platform/db"
)

// -- Hospital Repository --

type hospitalRepoPG struct {
	pool *pgxpool.Pool
}

func NewHospitalRepoPG(pool *pgxpool.Pool) HospitalRepository {
	return &hospitalRepoPG{pool: pool}
}

func (r *hospitalRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const hospitalCols = `id, name, address, contact_email, contact_phone, settings, created_at`

func scanHospital(row pgx.Row) (*model.Hospital, error) {
	var h model.Hospital
	var settings []byte
	if err := row.Scan(&h.ID, &h.Name, &h.Address, &h.ContactEmail, &h.ContactPhone, &settings, &h.CreatedAt); err != nil {
		return nil, err
	}
	h.Settings = map[string]interface{}{}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &h.Settings); err != nil {
			return nil, fmt.Errorf("decode hospital settings: %w", err)
		}
	}
	return &h, nil
}

func encodeSettings(s map[string]interface{}) ([]byte, error) {
	if s == nil {
		s = map[string]interface{}{}
	}
	return json.Marshal(s)
}

func (r *hospitalRepoPG) Create(ctx context.Context, h *model.Hospital) error {
	h.ID = uuid.New()
	settings, err := encodeSettings(h.Settings)
	if err != nil {
		return err
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO hospitals (id, name, address, contact_email, contact_phone, settings)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		h.ID, h.Name, h.Address, h.ContactEmail, h.ContactPhone, settings,
	).Scan(&h.CreatedAt)
}

func (r *hospitalRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*model.Hospital, error) {
	return scanHospital(r.conn(ctx).QueryRow(ctx, `SELECT `+hospitalCols+` FROM hospitals WHERE id = $1`, id))
}

func (r *hospitalRepoPG) GetByName(ctx context.Context, name string) (*model.Hospital, error) {
	return scanHospital(r.conn(ctx).QueryRow(ctx, `SELECT `+hospitalCols+` FROM hospitals WHERE name = $1`, name))
}

func (r *hospitalRepoPG) Update(ctx context.Context, h *model.Hospital) error {
	settings, err := encodeSettings(h.Settings)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE hospitals SET name = $2, address = $3, contact_email = $4, contact_phone = $5, settings = $6
		WHERE id = $1`,
		h.ID, h.Name, h.Address, h.ContactEmail, h.ContactPhone, settings)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Delete removes dependents explicitly so the order does not rely on the
// ON DELETE CASCADE chain. Must run inside a transaction.
func (r *hospitalRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	q := r.conn(ctx)
	steps := []string{
		`DELETE FROM prescription_line_items WHERE prescription_id IN (SELECT id FROM prescriptions WHERE hospital_id = $1)`,
		`DELETE FROM prescriptions WHERE hospital_id = $1`,
		`DELETE FROM clinical_notes WHERE visit_id IN (
			SELECT v.id FROM visits v JOIN appointments a ON a.id = v.appointment_id
			JOIN patients p ON p.id = a.patient_id WHERE p.hospital_id = $1)`,
		`DELETE FROM visits WHERE appointment_id IN (
			SELECT a.id FROM appointments a JOIN patients p ON p.id = a.patient_id WHERE p.hospital_id = $1)`,
		`DELETE FROM appointments WHERE patient_id IN (SELECT id FROM patients WHERE hospital_id = $1)
			OR doctor_id IN (SELECT id FROM users WHERE hospital_id = $1)`,
		`DELETE FROM patients WHERE hospital_id = $1`,
		`DELETE FROM users WHERE hospital_id = $1`,
	}
	for _, stmt := range steps {
		if _, err := q.Exec(ctx, stmt, id); err != nil {
			return fmt.Errorf("cascade hospital delete: %w", err)
		}
	}
	tag, err := q.Exec(ctx, `DELETE FROM hospitals WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *hospitalRepoPG) List(ctx context.Context, limit, offset int) ([]*model.Hospital, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM hospitals`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+hospitalCols+` FROM hospitals ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*model.Hospital
	for rows.Next() {
		h, err := scanHospital(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, h)
	}
	return items, total, rows.Err()
}

// -- User Repository --

type userRepoPG struct {
	pool *pgxpool.Pool
}

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const userCols = `id, full_name, email, hashed_password, role, hospital_id, is_active, speciality, last_login, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var role string
	if err := row.Scan(&u.ID, &u.FullName, &u.Email, &u.HashedPassword, &role, &u.HospitalID,
		&u.IsActive, &u.Speciality, &u.LastLogin, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *model.User) error {
	u.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (id, full_name, email, hashed_password, role, hospital_id, is_active, speciality)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		u.ID, u.FullName, u.Email, u.HashedPassword, string(u.Role), u.HospitalID, u.IsActive, u.Speciality,
	).Scan(&u.CreatedAt)
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (r *userRepoPG) Update(ctx context.Context, u *model.User) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE users SET full_name = $2, speciality = $3, is_active = $4 WHERE id = $1`,
		u.ID, u.FullName, u.Speciality, u.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *userRepoPG) SetPassword(ctx context.Context, id uuid.UUID, hashed string) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE users SET hashed_password = $2 WHERE id = $1`, id, hashed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *userRepoPG) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at)
	return err
}

func (r *userRepoPG) List(ctx context.Context, f UserFilter, limit, offset int) ([]*model.User, int, error) {
	var clauses []string
	var args []interface{}
	idx := 1

	if f.HospitalID != uuid.Nil {
		clauses = append(clauses, fmt.Sprintf("hospital_id = $%d", idx))
		args = append(args, f.HospitalID)
		idx++
	}
	if len(f.Roles) > 0 {
		roles := make([]string, len(f.Roles))
		for i, role := range f.Roles {
			roles[i] = string(role)
		}
		clauses = append(clauses, fmt.Sprintf("role = ANY($%d)", idx))
		args = append(args, roles)
		idx++
	}
	if f.IsActive != nil {
		clauses = append(clauses, fmt.Sprintf("is_active = $%d", idx))
		args = append(args, *f.IsActive)
		idx++
	}
	if f.ExcludeID != uuid.Nil {
		clauses = append(clauses, fmt.Sprintf("id <> $%d", idx))
		args = append(args, f.ExcludeID)
		idx++
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf(`SELECT %s FROM users%s ORDER BY full_name LIMIT $%d OFFSET $%d`, userCols, where, idx, idx+1)
	rows, err := r.conn(ctx).Query(ctx, q, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	return items, total, rows.Err()
}
