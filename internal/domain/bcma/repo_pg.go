package bcma

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/safety/internal/platform/db"
)

type administrationRepoPG struct{ pool *pgxpool.Pool }

func NewAdministrationRepoPG(pool *pgxpool.Pool) AdministrationRepository {
	return &administrationRepoPG{pool: pool}
}

const adminCols = `id, tenant_id, medication_id, patient_id, administered_by, administered_at, dosage, route,
	check_patient, check_medication, check_dose, check_route, check_timing, overrides, notes`

func scanAdministration(row pgx.Row) (*AdministrationRecord, error) {
	var r AdministrationRecord
	err := row.Scan(&r.ID, &r.TenantID, &r.MedicationID, &r.PatientID, &r.AdministeredBy, &r.Timestamp,
		&r.Dosage, &r.Route,
		&r.Checks.Patient, &r.Checks.Medication, &r.Checks.Dose, &r.Checks.Route, &r.Checks.Timing,
		&r.Overrides, &r.Notes)
	return &r, err
}

func (r *administrationRepoPG) Create(ctx context.Context, rec *AdministrationRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Overrides == nil {
		rec.Overrides = []string{}
	}
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO medication_administrations (`+adminCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		rec.ID, rec.TenantID, rec.MedicationID, rec.PatientID, rec.AdministeredBy, rec.Timestamp,
		rec.Dosage, rec.Route,
		rec.Checks.Patient, rec.Checks.Medication, rec.Checks.Dose, rec.Checks.Route, rec.Checks.Timing,
		rec.Overrides, rec.Notes)
	if err != nil {
		return fmt.Errorf("insert administration: %w", err)
	}
	return nil
}

func (r *administrationRepoPG) ListByMedication(ctx context.Context, tenantID string, medicationID uuid.UUID, limit int) ([]*AdministrationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+adminCols+` FROM medication_administrations
		WHERE medication_id = $1 AND ($2 = '' OR tenant_id = $2)
		ORDER BY administered_at DESC LIMIT $3`, medicationID, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("query administrations: %w", err)
	}
	defer rows.Close()

	var items []*AdministrationRecord
	for rows.Next() {
		rec, err := scanAdministration(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, rows.Err()
}
