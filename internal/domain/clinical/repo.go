package clinical

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// An empty TenantID in any filter leaves the query unscoped.

type PatientFilter struct {
	TenantID          string
	IncludeDischarged bool
	Identifier        string
}

type MedicationFilter struct {
	TenantID  string
	PatientID *uuid.UUID
	Status    string
}

type VitalsFilter struct {
	TenantID   string
	PatientIDs []uuid.UUID
}

type PatientRepository interface {
	Find(ctx context.Context, f PatientFilter) ([]*Patient, error)
	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*Patient, error)
}

type MedicationRepository interface {
	Find(ctx context.Context, f MedicationFilter) ([]*MedicationEntry, error)
	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*MedicationEntry, error)
	UpdateSchedule(ctx context.Context, id uuid.UUID, lastAdministered time.Time, nextDue *time.Time) error
}

// VitalsRepository returns the latest snapshot per patient, without any
// lookback limit.
type VitalsRepository interface {
	Latest(ctx context.Context, f VitalsFilter) ([]*VitalsSnapshot, error)
}
