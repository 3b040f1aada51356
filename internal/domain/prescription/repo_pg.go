package prescription

import (
	"context"
	"fmt"
	"time"

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

const prescriptionCols = `p.id, p.status, p.visit_id, p.patient_id, p.doctor_id, p.hospital_id, p.created_at, p.updated_at`

const lineItemCols = `id, prescription_id, position, medicine_name, dose, frequency, duration_days, instructions, status, substitution_info`

func scanPrescription(row pgx.Row, extra ...interface{}) (*model.Prescription, error) {
	var p model.Prescription
	dest := append([]interface{}{&p.ID, &p.Status, &p.VisitID, &p.PatientID, &p.DoctorID, &p.HospitalID, &p.CreatedAt, &p.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	p.LineItems = []model.LineItem{}
	return &p, nil
}

func scanLineItem(row pgx.Row) (model.LineItem, error) {
	var it model.LineItem
	err := row.Scan(&it.ID, &it.PrescriptionID, &it.Position, &it.MedicineName, &it.Dose,
		&it.Frequency, &it.DurationDays, &it.Instructions, &it.Status, &it.SubstitutionInfo)
	return it, err
}

func (r *repoPG) Create(ctx context.Context, p *model.Prescription) error {
	p.ID = uuid.New()
	if p.Status == "" {
		p.Status = model.PrescriptionCreated
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescriptions (id, status, visit_id, patient_id, doctor_id, hospital_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		p.ID, p.Status, p.VisitID, p.PatientID, p.DoctorID, p.HospitalID,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return err
	}
	for i := range p.LineItems {
		if err := r.insertItem(ctx, p.ID, &p.LineItems[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) insertItem(ctx context.Context, prescriptionID uuid.UUID, it *model.LineItem) error {
	it.ID = uuid.New()
	it.PrescriptionID = prescriptionID
	if it.Status == "" {
		it.Status = model.LineNotGiven
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO prescription_line_items (`+lineItemCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		it.ID, it.PrescriptionID, it.Position, it.MedicineName, it.Dose,
		it.Frequency, it.DurationDays, it.Instructions, it.Status, it.SubstitutionInfo)
	return err
}

func (r *repoPG) get(ctx context.Context, where, suffix string, arg uuid.UUID) (*model.Prescription, error) {
	p, err := scanPrescription(r.conn(ctx).QueryRow(ctx,
		`SELECT `+prescriptionCols+` FROM prescriptions p WHERE `+where+` = $1`+suffix, arg))
	if err != nil {
		return nil, err
	}
	if p.LineItems, err = r.items(ctx, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*model.Prescription, error) {
	return r.get(ctx, "p.id", "", id)
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Prescription, error) {
	return r.get(ctx, "p.id", " FOR UPDATE", id)
}

func (r *repoPG) GetByVisit(ctx context.Context, visitID uuid.UUID) (*model.Prescription, error) {
	return r.get(ctx, "p.visit_id", "", visitID)
}

func (r *repoPG) GetByVisitForUpdate(ctx context.Context, visitID uuid.UUID) (*model.Prescription, error) {
	return r.get(ctx, "p.visit_id", " FOR UPDATE", visitID)
}

func (r *repoPG) items(ctx context.Context, prescriptionID uuid.UUID) ([]model.LineItem, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+lineItemCols+` FROM prescription_line_items WHERE prescription_id = $1 ORDER BY position, id`,
		prescriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []model.LineItem{}
	for rows.Next() {
		it, err := scanLineItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *repoPG) SetStatus(ctx context.Context, id uuid.UUID, status model.PrescriptionStatus) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE prescriptions SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) ReplaceLineItems(ctx context.Context, id uuid.UUID, items []model.LineItem) error {
	keep := make([]string, 0, len(items))
	for _, it := range items {
		if it.ID != uuid.Nil {
			keep = append(keep, it.ID.String())
		}
	}
	if _, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM prescription_line_items WHERE prescription_id = $1 AND NOT (id = ANY($2::uuid[]))`,
		id, keep); err != nil {
		return fmt.Errorf("delete replaced line items: %w", err)
	}

	for i := range items {
		it := &items[i]
		if it.ID == uuid.Nil {
			if err := r.insertItem(ctx, id, it); err != nil {
				return fmt.Errorf("insert line item: %w", err)
			}
			continue
		}
		if _, err := r.conn(ctx).Exec(ctx,
			`UPDATE prescription_line_items SET position = $3 WHERE id = $1 AND prescription_id = $2`,
			it.ID, id, it.Position); err != nil {
			return fmt.Errorf("reposition line item: %w", err)
		}
	}
	_, err := r.conn(ctx).Exec(ctx, `UPDATE prescriptions SET updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *repoPG) UpdateLineItem(ctx context.Context, id uuid.UUID, ch LineChange) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescription_line_items SET status = $3, substitution_info = $4
		WHERE id = $1 AND prescription_id = $2`,
		ch.ID, id, ch.Status, ch.SubstitutionInfo)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// hasItems keeps prescriptions whose items were all withdrawn out of the
// pharmacy views.
const hasItems = `EXISTS (SELECT 1 FROM prescription_line_items li WHERE li.prescription_id = p.id)`

func (r *repoPG) Queue(ctx context.Context, hospitalID uuid.UUID, limit, offset int) ([]*QueueEntry, int, error) {
	pending := []string{string(model.PrescriptionCreated), string(model.PrescriptionPartiallyDispensed)}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM prescriptions p WHERE p.hospital_id = $1 AND p.status = ANY($2) AND `+hasItems,
		hospitalID, pending).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+prescriptionCols+`, pt.id, pt.full_name, pt.phone_number, pt.sex, pt.hospital_id, d.full_name
		FROM prescriptions p
		JOIN patients pt ON pt.id = p.patient_id
		JOIN users d ON d.id = p.doctor_id
		WHERE p.hospital_id = $1 AND p.status = ANY($2) AND `+hasItems+`
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT $3 OFFSET $4`,
		hospitalID, pending, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []*QueueEntry
	byID := make(map[uuid.UUID]*QueueEntry)
	ids := []string{}
	for rows.Next() {
		var e QueueEntry
		p, err := scanPrescription(rows, &e.Patient.ID, &e.Patient.FullName, &e.Patient.PhoneNumber,
			&e.Patient.Sex, &e.Patient.HospitalID, &e.DoctorName)
		if err != nil {
			return nil, 0, err
		}
		e.Prescription = *p
		entries = append(entries, &e)
		byID[p.ID] = &e
		ids = append(ids, p.ID.String())
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(ids) == 0 {
		return entries, total, nil
	}

	itemRows, err := r.conn(ctx).Query(ctx,
		`SELECT `+lineItemCols+` FROM prescription_line_items
		WHERE prescription_id = ANY($1::uuid[]) ORDER BY position, id`, ids)
	if err != nil {
		return nil, 0, err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		it, err := scanLineItem(itemRows)
		if err != nil {
			return nil, 0, err
		}
		if e, ok := byID[it.PrescriptionID]; ok {
			e.LineItems = append(e.LineItems, it)
		}
	}
	return entries, total, itemRows.Err()
}

// Stats counts prescriptions completed in [dayStart, dayStart+24h) by the
// time of their last change.
func (r *repoPG) Stats(ctx context.Context, hospitalID uuid.UUID, dayStart time.Time) (*Stats, error) {
	var s Stats
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE p.status = $2 AND `+hasItems+`),
			COUNT(*) FILTER (WHERE p.status = $3 AND `+hasItems+`),
			COUNT(*) FILTER (WHERE p.status = $4 AND p.updated_at >= $5 AND p.updated_at < $6)
		FROM prescriptions p WHERE p.hospital_id = $1`,
		hospitalID, model.PrescriptionCreated, model.PrescriptionPartiallyDispensed,
		model.PrescriptionFullyDispensed, dayStart, dayStart.Add(24*time.Hour),
	).Scan(&s.NewPrescriptions, &s.InProgress, &s.CompletedToday)
	if err != nil {
		return nil, err
	}
	s.TotalPending = s.NewPrescriptions + s.InProgress
	return &s, nil
}
