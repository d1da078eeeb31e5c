package clinical

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/safety/internal/platform/db"
)

var ErrNotFound = errors.New("not found")

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

const patientCols = `id, tenant_id, identifier, first_name, last_name, condition, discharged`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.TenantID, &p.Identifier, &p.FirstName, &p.LastName, &p.Condition, &p.Discharged)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *patientRepoPG) Find(ctx context.Context, f PatientFilter) ([]*Patient, error) {
	var where []string
	var args []interface{}
	if f.TenantID != "" {
		args = append(args, f.TenantID)
		where = append(where, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	if !f.IncludeDischarged {
		where = append(where, "discharged = FALSE")
	}
	if f.Identifier != "" {
		args = append(args, f.Identifier)
		where = append(where, fmt.Sprintf("identifier = $%d", len(args)))
	}

	query := `SELECT ` + patientCols + ` FROM patients`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY last_name, first_name`

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query patients: %w", err)
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *patientRepoPG) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*Patient, error) {
	return scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE id = $1 AND ($2 = '' OR tenant_id = $2)`, id, tenantID))
}

// =========== Medication Repository ===========

type medicationRepoPG struct{ pool *pgxpool.Pool }

func NewMedicationRepoPG(pool *pgxpool.Pool) MedicationRepository {
	return &medicationRepoPG{pool: pool}
}

const medCols = `id, tenant_id, patient_id, name, dosage, route, frequency, status, category,
	last_administered, next_due`

func scanMedication(row pgx.Row) (*MedicationEntry, error) {
	var m MedicationEntry
	err := row.Scan(&m.ID, &m.TenantID, &m.PatientID, &m.Name, &m.Dosage, &m.Route, &m.Frequency,
		&m.Status, &m.Category, &m.LastAdministered, &m.NextDue)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &m, err
}

func (r *medicationRepoPG) Find(ctx context.Context, f MedicationFilter) ([]*MedicationEntry, error) {
	var where []string
	var args []interface{}
	if f.TenantID != "" {
		args = append(args, f.TenantID)
		where = append(where, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + medCols + ` FROM patient_medications`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY next_due NULLS LAST`

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query medications: %w", err)
	}
	defer rows.Close()

	var items []*MedicationEntry
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *medicationRepoPG) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*MedicationEntry, error) {
	return scanMedication(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+medCols+` FROM patient_medications WHERE id = $1 AND ($2 = '' OR tenant_id = $2)`, id, tenantID))
}

func (r *medicationRepoPG) UpdateSchedule(ctx context.Context, id uuid.UUID, lastAdministered time.Time, nextDue *time.Time) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE patient_medications SET last_administered = $2, next_due = $3, updated_at = NOW()
		WHERE id = $1`, id, lastAdministered, nextDue)
	if err != nil {
		return fmt.Errorf("update medication schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =========== Vitals Repository ===========

type vitalsRepoPG struct{ pool *pgxpool.Pool }

func NewVitalsRepoPG(pool *pgxpool.Pool) VitalsRepository {
	return &vitalsRepoPG{pool: pool}
}

func (r *vitalsRepoPG) Latest(ctx context.Context, f VitalsFilter) ([]*VitalsSnapshot, error) {
	var where []string
	var args []interface{}
	if f.TenantID != "" {
		args = append(args, f.TenantID)
		where = append(where, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	if len(f.PatientIDs) > 0 {
		args = append(args, f.PatientIDs)
		where = append(where, fmt.Sprintf("patient_id = ANY($%d)", len(args)))
	}

	query := `SELECT DISTINCT ON (patient_id) patient_id, tenant_id, temperature, systolic, diastolic,
		heart_rate, respiratory_rate, oxygen_saturation, recorded_at
		FROM patient_vitals`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY patient_id, recorded_at DESC`

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query vitals: %w", err)
	}
	defer rows.Close()

	var items []*VitalsSnapshot
	for rows.Next() {
		var v VitalsSnapshot
		if err := rows.Scan(&v.PatientID, &v.TenantID, &v.Temperature, &v.Systolic, &v.Diastolic,
			&v.HeartRate, &v.RespiratoryRate, &v.OxygenSaturation, &v.RecordedAt); err != nil {
			return nil, err
		}
		items = append(items, &v)
	}
	return items, rows.Err()
}
