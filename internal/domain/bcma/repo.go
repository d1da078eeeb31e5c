package bcma

import (
	"context"

	"github.com/google/uuid"
)

type AdministrationRepository interface {
	Create(ctx context.Context, rec *AdministrationRecord) error
	ListByMedication(ctx context.Context, tenantID string, medicationID uuid.UUID, limit int) ([]*AdministrationRecord, error)
}
