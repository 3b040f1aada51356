package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/hospital/internal/domain/model"
	"github.com/ehr/hospital/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const auditCols = `id, timestamp, user_id, hospital_id, action, entity, entity_id, details`

func scanAudit(row pgx.Row) (*model.AuditLog, error) {
	var a model.AuditLog
	var details []byte
	if err := row.Scan(&a.ID, &a.Timestamp, &a.UserID, &a.HospitalID, &a.Action, &a.Entity, &a.EntityID, &details); err != nil {
		return nil, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &a.Details); err != nil {
			return nil, fmt.Errorf("decode audit details: %w", err)
		}
	}
	return &a, nil
}

func (r *repoPG) Record(ctx context.Context, a *model.AuditLog) error {
	a.ID = uuid.New()
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	details := a.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO audit_logs (id, timestamp, user_id, hospital_id, action, entity, entity_id, details)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		a.ID, a.Timestamp, a.UserID, a.HospitalID, a.Action, a.Entity, a.EntityID, raw)
	return err
}

func (r *repoPG) List(ctx context.Context, hospitalID *uuid.UUID, limit, offset int) ([]*model.AuditLog, int, error) {
	where := ``
	var args []interface{}
	if hospitalID != nil {
		where = ` WHERE hospital_id = $1`
		args = append(args, *hospitalID)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf(`SELECT %s FROM audit_logs%s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`,
		auditCols, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, q, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*model.AuditLog
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}
