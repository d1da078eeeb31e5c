package bcma

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/safety/internal/domain/clinical"
	"github.com/ehr/safety/internal/domain/dosing"
	"github.com/ehr/safety/internal/platform/db"
	"github.com/ehr/safety/internal/platform/lock"
	"github.com/ehr/safety/internal/platform/metrics"
)

var (
	ErrIdentityMismatch      = errors.New("patient or medication identity mismatch")
	ErrTimingViolation       = errors.New("minimum interval since last dose not elapsed")
	ErrRecordWrite           = errors.New("administration could not be recorded")
	ErrInvalidOverride       = errors.New("only the timing check can be overridden")
	ErrAdministratorRequired = errors.New("administered_by is required")
)

var shortMedicationBarcode = regexp.MustCompile(`^[Mm][0-9A-Fa-f]{8}$`)

type VerifyRequest struct {
	PatientToken    string    `json:"patient_barcode"`
	MedicationToken string    `json:"medication_barcode"`
	PatientID       uuid.UUID `json:"patient_id"`
	MedicationID    uuid.UUID `json:"medication_id"`
}

type AdministerRequest struct {
	VerifyRequest
	AdministeredBy string   `json:"administered_by"`
	Notes          string   `json:"notes"`
	Overrides      []string `json:"overrides"`
}

func (r AdministerRequest) overrides(check string) bool {
	for _, o := range r.Overrides {
		if strings.EqualFold(o, check) {
			return true
		}
	}
	return false
}

// LookupResult is the feedback shown after a free-form scan.
type LookupResult struct {
	Found      bool                      `json:"found"`
	Type       string                    `json:"type,omitempty"`
	Message    string                    `json:"message"`
	Patient    *clinical.Patient         `json:"patient,omitempty"`
	Medication *clinical.MedicationEntry `json:"medication,omitempty"`
}

type Service struct {
	patients    clinical.PatientRepository
	medications clinical.MedicationRepository
	admins      AdministrationRepository
	locker      lock.Locker
	logger      zerolog.Logger

	// InTx wraps the record insert and the schedule update. Nil runs them
	// without a transaction.
	InTx db.TxFunc
	Now  func() time.Time
}

func NewService(patients clinical.PatientRepository, medications clinical.MedicationRepository,
	admins AdministrationRepository, locker lock.Locker, logger zerolog.Logger) *Service {
	return &Service{
		patients:    patients,
		medications: medications,
		admins:      admins,
		locker:      locker,
		logger:      logger.With().Str("component", "bcma").Logger(),
		Now:         time.Now,
	}
}

// Verify checks a scan without recording anything.
func (s *Service) Verify(ctx context.Context, tenantID string, req VerifyRequest) (*Result, error) {
	p, m, err := s.load(ctx, tenantID, req.PatientID, req.MedicationID)
	if err != nil {
		return nil, err
	}
	res := s.verify(req, p, m, s.Now())
	metrics.BCMAVerifications.WithLabelValues(verificationLabel(res)).Inc()
	return res, nil
}

// Administer records a confirmed administration and advances the
// medication's schedule. Administrations of the same medication are
// serialized so two concurrent scans cannot both pass the timing check.
func (s *Service) Administer(ctx context.Context, tenantID string, req AdministerRequest) (*AdministrationRecord, *Result, error) {
	if strings.TrimSpace(req.AdministeredBy) == "" {
		return nil, nil, ErrAdministratorRequired
	}
	for _, o := range req.Overrides {
		if !strings.EqualFold(o, OverrideTiming) {
			return nil, nil, fmt.Errorf("%w: %q", ErrInvalidOverride, o)
		}
	}

	unlock, err := s.locker.Lock(ctx, "medication:"+req.MedicationID.String())
	if err != nil {
		return nil, nil, fmt.Errorf("lock medication %s: %w", req.MedicationID, err)
	}
	defer unlock()

	p, m, err := s.load(ctx, tenantID, req.PatientID, req.MedicationID)
	if err != nil {
		return nil, nil, err
	}

	now := s.Now()
	res := s.verify(req.VerifyRequest, p, m, now)
	metrics.BCMAVerifications.WithLabelValues(verificationLabel(res)).Inc()

	if res.IdentityMismatch() {
		metrics.BCMAAdministrations.WithLabelValues("identity_mismatch").Inc()
		s.logger.Warn().Str("medication_id", m.ID.String()).Str("patient_id", p.ID.String()).
			Strs("errors", res.Errors).Msg("administration blocked")
		return nil, res, ErrIdentityMismatch
	}

	var overrides []string
	if res.TooSoon() {
		if !req.overrides(OverrideTiming) {
			metrics.BCMAAdministrations.WithLabelValues("timing_violation").Inc()
			return nil, res, ErrTimingViolation
		}
		overrides = []string{OverrideTiming}
		s.logger.Warn().Str("medication_id", m.ID.String()).Str("administered_by", req.AdministeredBy).
			Msg("timing check overridden")
	}

	rec := &AdministrationRecord{
		ID:             uuid.New(),
		TenantID:       m.TenantID,
		MedicationID:   m.ID,
		PatientID:      p.ID,
		AdministeredBy: req.AdministeredBy,
		Timestamp:      now,
		Dosage:         m.Dosage,
		Route:          m.Route,
		Checks:         res.Checks,
		Overrides:      overrides,
	}
	if n := strings.TrimSpace(req.Notes); n != "" {
		rec.Notes = &n
	}

	var nextDue *time.Time
	if !m.IsPRN() && !dosing.IsPRN(m.Frequency) {
		next := dosing.NextDue(m.Frequency, now)
		nextDue = &next
	}

	if err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.admins.Create(ctx, rec); err != nil {
			return err
		}
		return s.medications.UpdateSchedule(ctx, m.ID, now, nextDue)
	}); err != nil {
		metrics.BCMAAdministrations.WithLabelValues("write_failed").Inc()
		s.logger.Error().Err(err).Str("medication_id", m.ID.String()).Msg("administration write failed")
		return nil, res, fmt.Errorf("%w: %v", ErrRecordWrite, err)
	}

	metrics.BCMAAdministrations.WithLabelValues("recorded").Inc()
	s.logger.Info().
		Str("medication_id", m.ID.String()).
		Str("patient_id", p.ID.String()).
		Str("administered_by", req.AdministeredBy).
		Strs("overrides", overrides).
		Msg("medication administered")
	return rec, res, nil
}

const maxHistory = 100

// History lists the most recent administrations of a medication, newest
// first. The medication must belong to tenantID.
func (s *Service) History(ctx context.Context, tenantID string, medicationID uuid.UUID, limit int) ([]*AdministrationRecord, error) {
	if _, err := s.medications.GetByID(ctx, tenantID, medicationID); err != nil {
		return nil, fmt.Errorf("get medication %s: %w", medicationID, err)
	}
	if limit <= 0 || limit > maxHistory {
		limit = maxHistory
	}
	items, err := s.admins.ListByMedication(ctx, tenantID, medicationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list administrations: %w", err)
	}
	return items, nil
}

// Lookup resolves a free-form scanned token to a medication or a patient.
func (s *Service) Lookup(ctx context.Context, tenantID, token string) (*LookupResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return &LookupResult{Message: "Empty barcode"}, nil
	}

	m, err := s.lookupMedication(ctx, tenantID, token)
	if err != nil {
		return nil, err
	}
	if m != nil {
		return &LookupResult{
			Found:      true,
			Type:       "medication",
			Medication: m,
			Message:    strings.TrimSpace(fmt.Sprintf("Medication found: %s %s", m.Name, m.Dosage)),
		}, nil
	}

	p, err := s.lookupPatient(ctx, tenantID, token)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return &LookupResult{
			Found:   true,
			Type:    "patient",
			Patient: p,
			Message: "Patient found: " + p.FullName(),
		}, nil
	}
	return &LookupResult{Message: "No patient or medication matches barcode " + token}, nil
}

func (s *Service) lookupMedication(ctx context.Context, tenantID, token string) (*clinical.MedicationEntry, error) {
	raw := token
	if len(raw) > 4 && strings.EqualFold(raw[:4], "MED-") {
		raw = raw[4:]
	}
	if id, err := uuid.Parse(raw); err == nil {
		m, err := s.medications.GetByID(ctx, tenantID, id)
		if errors.Is(err, clinical.ErrNotFound) {
			return nil, nil
		}
		return m, err
	}

	if !shortMedicationBarcode.MatchString(token) {
		return nil, nil
	}
	meds, err := s.medications.Find(ctx, clinical.MedicationFilter{TenantID: tenantID, Status: clinical.MedicationActive})
	if err != nil {
		return nil, fmt.Errorf("find medications: %w", err)
	}
	for _, m := range meds {
		if strings.EqualFold(MedicationBarcode(m.ID), token) {
			return m, nil
		}
	}
	return nil, nil
}

func (s *Service) lookupPatient(ctx context.Context, tenantID, token string) (*clinical.Patient, error) {
	if id, err := uuid.Parse(token); err == nil {
		p, err := s.patients.GetByID(ctx, tenantID, id)
		if errors.Is(err, clinical.ErrNotFound) {
			return nil, nil
		}
		return p, err
	}

	for _, identifier := range []string{token, patientIdentifierFromToken(token)} {
		items, err := s.patients.Find(ctx, clinical.PatientFilter{TenantID: tenantID, Identifier: identifier})
		if err != nil {
			return nil, fmt.Errorf("find patients: %w", err)
		}
		if len(items) > 0 {
			return items[0], nil
		}
	}
	return nil, nil
}

func (s *Service) load(ctx context.Context, tenantID string, patientID, medicationID uuid.UUID) (*clinical.Patient, *clinical.MedicationEntry, error) {
	p, err := s.patients.GetByID(ctx, tenantID, patientID)
	if err != nil {
		return nil, nil, fmt.Errorf("get patient %s: %w", patientID, err)
	}
	m, err := s.medications.GetByID(ctx, tenantID, medicationID)
	if err != nil {
		return nil, nil, fmt.Errorf("get medication %s: %w", medicationID, err)
	}
	return p, m, nil
}

func (s *Service) verify(req VerifyRequest, p *clinical.Patient, m *clinical.MedicationEntry, now time.Time) *Result {
	if !m.IsPRN() && !dosing.Known(m.Frequency) {
		s.logger.Warn().Str("medication_id", m.ID.String()).Str("frequency", m.Frequency).
			Msg("unknown medication frequency, using default intervals")
	}
	return Verify(VerifyInput{
		PatientToken:    req.PatientToken,
		MedicationToken: req.MedicationToken,
		Patient:         p,
		Medication:      m,
		Now:             now,
	})
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.InTx == nil {
		return fn(ctx)
	}
	return s.InTx(ctx, fn)
}

func verificationLabel(r *Result) string {
	switch {
	case len(r.Errors) > 0:
		return "rejected"
	case len(r.Warnings) > 0:
		return "warning"
	default:
		return "valid"
	}
}
