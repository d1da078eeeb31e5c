package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrAcknowledgerRequired = errors.New("acknowledged_by is required")

// Service covers the caregiver-facing lifecycle: listing active alerts and
// acknowledging them.
type Service struct {
	repo     Repository
	notifier *Notifier
	logger   zerolog.Logger
	Now      func() time.Time
}

func NewService(repo Repository, notifier *Notifier, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		logger:   logger.With().Str("component", "alert-service").Logger(),
		Now:      time.Now,
	}
}

func (s *Service) ListActive(ctx context.Context, tenantID string, patientID *uuid.UUID) ([]*Alert, error) {
	now := s.Now()
	return s.repo.Find(ctx, Filter{
		TenantID:     tenantID,
		PatientID:    patientID,
		Acknowledged: boolPtr(false),
		ActiveAt:     &now,
	})
}

func (s *Service) Get(ctx context.Context, tenantID string, id uuid.UUID) (*Alert, error) {
	items, err := s.repo.Find(ctx, Filter{IDs: []uuid.UUID{id}, TenantID: tenantID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}

// Acknowledge records a caregiver acknowledgement. acknowledged_by and
// acknowledged_at are always written together.
func (s *Service) Acknowledge(ctx context.Context, tenantID string, id uuid.UUID, by string) (*Alert, error) {
	by = strings.TrimSpace(by)
	if by == "" {
		return nil, ErrAcknowledgerRequired
	}

	a, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if a.Acknowledged {
		return nil, ErrAlreadyAcknowledged
	}

	now := s.Now()
	if err := s.repo.Update(ctx, id, Acknowledgement(by, now)); err != nil {
		return nil, fmt.Errorf("acknowledge alert: %w", err)
	}
	a.Acknowledged, a.AcknowledgedBy, a.AcknowledgedAt = true, &by, &now

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, a.TenantID); err != nil {
			s.logger.Warn().Err(err).Msg("alert change notification failed")
		}
	}
	return a, nil
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
