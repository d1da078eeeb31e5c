package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/safety/internal/domain/alert"
	"github.com/ehr/safety/internal/domain/clinical"
	"github.com/ehr/safety/internal/platform/metrics"
)

// CycleResult reports one evaluation cycle. Store failures degrade the cycle
// and are listed in Errors rather than returned.
type CycleResult struct {
	TenantID        string        `json:"tenant_id"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration_ns"`
	Candidates      int           `json:"candidates"`
	AlertsCreated   int           `json:"alerts_created"`
	AlertsSkipped   int           `json:"alerts_skipped"`
	AlertsEscalated int           `json:"alerts_escalated"`
	Errors          []string      `json:"errors"`

	mu      sync.Mutex
	tenants map[string]bool
}

func (r *CycleResult) Degraded() bool { return len(r.Errors) > 0 }

func (r *CycleResult) warn(format string, args ...interface{}) {
	r.mu.Lock()
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *CycleResult) add(n int, s *alert.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Candidates += n
	r.AlertsCreated += s.Created
	r.AlertsSkipped += s.Skipped
	r.AlertsEscalated += s.Escalated
	for _, t := range s.Tenants {
		r.tenants[t] = true
	}
	if s.Err != nil {
		r.Errors = append(r.Errors, s.Err.Error())
	}
}

// ChangedTenants lists tenants whose active alert set changed this cycle.
func (r *CycleResult) ChangedTenants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.tenants))
	for t := range r.tenants {
		out = append(out, t)
	}
	return out
}

// Evaluator turns medication schedules and vitals into deduplicated alerts.
type Evaluator struct {
	patients    clinical.PatientRepository
	medications clinical.MedicationRepository
	vitals      clinical.VitalsRepository
	dedup       *alert.Deduplicator
	notifier    *alert.Notifier
	logger      zerolog.Logger

	DueWindow      time.Duration
	VitalsLookback time.Duration
	Now            func() time.Time
}

func NewEvaluator(
	patients clinical.PatientRepository,
	medications clinical.MedicationRepository,
	vitals clinical.VitalsRepository,
	dedup *alert.Deduplicator,
	notifier *alert.Notifier,
	logger zerolog.Logger,
) *Evaluator {
	return &Evaluator{
		patients:       patients,
		medications:    medications,
		vitals:         vitals,
		dedup:          dedup,
		notifier:       notifier,
		logger:         logger.With().Str("component", "rule-evaluator").Logger(),
		DueWindow:      defaultDueWindow,
		VitalsLookback: defaultVitalsLookback,
		Now:            time.Now,
	}
}

// Run evaluates every rule once for tenantID ("" for all tenants). The
// medication pass finishes before the vitals range and missing-vitals passes,
// which run concurrently.
func (e *Evaluator) Run(ctx context.Context, tenantID string) *CycleResult {
	now := e.Now()
	res := &CycleResult{TenantID: tenantID, StartedAt: now, Errors: []string{}, tenants: make(map[string]bool)}
	log := e.logger.With().Str("tenant_id", tenantID).Logger()

	e.medicationPass(ctx, tenantID, now, res)

	patients, err := e.patients.Find(ctx, clinical.PatientFilter{TenantID: tenantID})
	if err != nil {
		log.Warn().Err(err).Msg("patient read failed, skipping vitals passes")
		res.warn("read patients: %v", err)
		return e.finish(ctx, res, log)
	}
	if len(patients) == 0 {
		return e.finish(ctx, res, log)
	}

	ids := make([]uuid.UUID, len(patients))
	for i, p := range patients {
		ids[i] = p.ID
	}
	snapshots, err := e.vitals.Latest(ctx, clinical.VitalsFilter{TenantID: tenantID, PatientIDs: ids})
	if err != nil {
		log.Warn().Err(err).Msg("vitals read failed, skipping vitals passes")
		res.warn("read vitals: %v", err)
		return e.finish(ctx, res, log)
	}
	latest := make(map[uuid.UUID]*clinical.VitalsSnapshot, len(snapshots))
	for _, v := range snapshots {
		if cur, ok := latest[v.PatientID]; !ok || v.RecordedAt.After(cur.RecordedAt) {
			latest[v.PatientID] = v
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var cands []*alert.Candidate
		for _, p := range patients {
			cands = append(cands, VitalRangeCandidates(latest[p.ID], now, e.VitalsLookback)...)
		}
		res.add(len(cands), e.dedup.ProcessAll(gctx, cands))
		return nil
	})
	g.Go(func() error {
		var cands []*alert.Candidate
		for _, p := range patients {
			if c, ok := MissingVitalsCandidate(p, latest[p.ID], now); ok {
				cands = append(cands, c)
			}
		}
		res.add(len(cands), e.dedup.ProcessAll(gctx, cands))
		return nil
	})
	_ = g.Wait()

	return e.finish(ctx, res, log)
}

func (e *Evaluator) medicationPass(ctx context.Context, tenantID string, now time.Time, res *CycleResult) {
	meds, err := e.medications.Find(ctx, clinical.MedicationFilter{TenantID: tenantID, Status: clinical.MedicationActive})
	if err != nil {
		e.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("medication read failed, skipping medication pass")
		res.warn("read medications: %v", err)
		return
	}

	var cands []*alert.Candidate
	for _, m := range meds {
		if c, ok := MedicationCandidate(m, now, e.DueWindow); ok {
			cands = append(cands, c)
		}
	}
	res.add(len(cands), e.dedup.ProcessAll(ctx, cands))
}

func (e *Evaluator) finish(ctx context.Context, res *CycleResult, log zerolog.Logger) *CycleResult {
	res.Duration = e.Now().Sub(res.StartedAt)

	outcome := "ok"
	if res.Degraded() {
		outcome = "degraded"
	}
	metrics.EvaluationCycles.WithLabelValues(outcome).Inc()
	metrics.EvaluationDuration.Observe(res.Duration.Seconds())

	if tenants := res.ChangedTenants(); len(tenants) > 0 && e.notifier != nil {
		if err := e.notifier.Notify(ctx, tenants...); err != nil {
			log.Warn().Err(err).Msg("alert change notification failed")
		}
	}

	ev := log.Info()
	if res.Degraded() {
		ev = log.Warn().Strs("errors", res.Errors)
	}
	ev.Int("candidates", res.Candidates).
		Int("created", res.AlertsCreated).
		Int("skipped", res.AlertsSkipped).
		Int("escalated", res.AlertsEscalated).
		Dur("duration", res.Duration).
		Msg("evaluation cycle complete")
	return res
}
