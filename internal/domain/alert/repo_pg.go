package alert

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/safety/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const alertCols = `id, tenant_id, patient_id, kind, subject_key, message, priority,
	acknowledged, acknowledged_by, acknowledged_at, created_at, expires_at`

func scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	var priority string
	err := row.Scan(&a.ID, &a.TenantID, &a.PatientID, &a.Kind, &a.SubjectKey, &a.Message, &priority,
		&a.Acknowledged, &a.AcknowledgedBy, &a.AcknowledgedAt, &a.CreatedAt, &a.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if a.Priority, err = ParsePriority(priority); err != nil {
		return nil, fmt.Errorf("alert %s: %w", a.ID, err)
	}
	return &a, nil
}

func buildWhere(f Filter) (string, []interface{}) {
	var where []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if len(f.IDs) > 0 {
		add("id = ANY($%d)", f.IDs)
	}
	if f.TenantID != "" {
		add("tenant_id = $%d", f.TenantID)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.Kind != "" {
		add("kind = $%d", string(f.Kind))
	}
	if f.SubjectKey != "" {
		add("(subject_key = $%d OR subject_key = '')", f.SubjectKey)
	}
	if f.Acknowledged != nil {
		add("acknowledged = $%d", *f.Acknowledged)
	}
	if f.CreatedAfter != nil {
		add("created_at >= $%d", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		add("created_at < $%d", *f.CreatedBefore)
	}
	if f.ExpiredBy != nil {
		add("expires_at <= $%d", *f.ExpiredBy)
	}
	if f.ActiveAt != nil {
		add("(expires_at IS NULL OR expires_at > $%d)", *f.ActiveAt)
	}

	if len(where) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func (r *repoPG) Find(ctx context.Context, f Filter) ([]*Alert, error) {
	where, args := buildWhere(f)
	query := `SELECT ` + alertCols + ` FROM safety_alerts` + where + ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var items []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *repoPG) Insert(ctx context.Context, a *Alert) (*Alert, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO safety_alerts (id, tenant_id, patient_id, kind, subject_key, message, priority,
			acknowledged, acknowledged_by, acknowledged_at, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at`,
		a.ID, a.TenantID, a.PatientID, string(a.Kind), a.SubjectKey, a.Message, a.Priority.String(),
		a.Acknowledged, a.AcknowledgedBy, a.AcknowledgedAt, a.CreatedAt, a.ExpiresAt,
	).Scan(&a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert alert: %w", err)
	}
	return a, nil
}

func (r *repoPG) Update(ctx context.Context, id uuid.UUID, u Update) error {
	if err := u.Validate(); err != nil {
		return err
	}
	var sets []string
	args := []interface{}{id}
	if u.Acknowledged != nil {
		args = append(args, *u.Acknowledged)
		sets = append(sets, fmt.Sprintf("acknowledged = $%d", len(args)))
	}
	if u.AcknowledgedBy != nil {
		args = append(args, *u.AcknowledgedBy, *u.AcknowledgedAt)
		sets = append(sets, fmt.Sprintf("acknowledged_by = $%d, acknowledged_at = $%d", len(args)-1, len(args)))
	}
	if len(sets) == 0 {
		return nil
	}

	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE safety_alerts SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("update alert %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM safety_alerts WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete alerts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
