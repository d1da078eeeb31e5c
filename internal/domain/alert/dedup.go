package alert

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/ehr/safety/internal/platform/lock"
	"github.com/ehr/safety/internal/platform/metrics"
)

type Decision string

const (
	DecisionInserted  Decision = "inserted"
	DecisionSkipped   Decision = "skipped"
	DecisionEscalated Decision = "escalated"
)

// Outcome records what happened to one candidate.
type Outcome struct {
	Decision   Decision `json:"decision"`
	Alert      *Alert   `json:"alert"`
	Superseded []*Alert `json:"superseded,omitempty"`
}

// Deduplicator decides whether a candidate becomes a new alert, is dropped as
// a repeat, or supersedes an existing alert whose status or priority changed.
// The find/acknowledge/insert sequence for one key runs under a lock so two
// passes cannot both escalate the same subject.
type Deduplicator struct {
	repo   Repository
	locker lock.Locker
	logger zerolog.Logger

	MedicationLookback time.Duration
	VitalsLookback     time.Duration
	// WriteRetries bounds retries of a failed store call per candidate.
	WriteRetries uint64
	Now          func() time.Time
}

func NewDeduplicator(repo Repository, locker lock.Locker, logger zerolog.Logger) *Deduplicator {
	return &Deduplicator{
		repo:               repo,
		locker:             locker,
		logger:             logger.With().Str("component", "alert-dedup").Logger(),
		MedicationLookback: 2 * time.Hour,
		VitalsLookback:     4 * time.Hour,
		WriteRetries:       2,
		Now:                time.Now,
	}
}

// Lookback returns how far back existing alerts are searched for c. Zero
// means all unacknowledged alerts are considered.
func (d *Deduplicator) Lookback(c *Candidate) time.Duration {
	switch {
	case c.Kind == KindMedicationDue:
		return d.MedicationLookback
	case c.Kind == KindVitalSigns && c.SubjectKey != SubjectVitalsOverdue:
		return d.VitalsLookback
	}
	return 0
}

func (d *Deduplicator) Process(ctx context.Context, c *Candidate) (*Outcome, error) {
	key := c.Key()
	unlock, err := d.locker.Lock(ctx, key.String())
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	defer unlock()

	now := d.Now()
	f := Filter{
		TenantID:     c.TenantID,
		PatientID:    &c.PatientID,
		Kind:         c.Kind,
		SubjectKey:   c.SubjectKey,
		Acknowledged: boolPtr(false),
	}
	if lb := d.Lookback(c); lb > 0 {
		after := now.Add(-lb)
		f.CreatedAfter = &after
	}

	var existing []*Alert
	if err := d.retry(ctx, func() error {
		var err error
		existing, err = d.repo.Find(ctx, f)
		return err
	}); err != nil {
		return nil, fmt.Errorf("find existing alerts for %s: %w", key, err)
	}

	matches := existing[:0]
	for _, a := range existing {
		if a.Subject() == c.SubjectKey {
			matches = append(matches, a)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	out := &Outcome{Decision: DecisionInserted}
	if len(matches) > 0 {
		latest := matches[0]
		if latest.Priority == c.Priority && latest.Overdue() == c.Overdue {
			metrics.AlertDecisions.WithLabelValues(string(c.Kind), string(DecisionSkipped)).Inc()
			return &Outcome{Decision: DecisionSkipped, Alert: latest}, nil
		}

		for _, a := range matches {
			if err := d.retry(ctx, func() error {
				err := d.repo.Update(ctx, a.ID, Acknowledgement(EscalationActor, now))
				if errors.Is(err, ErrNotFound) {
					// removed by cleanup in the meantime
					return nil
				}
				return err
			}); err != nil {
				return nil, fmt.Errorf("acknowledge superseded alert %s: %w", a.ID, err)
			}
			by, at := EscalationActor, now
			a.Acknowledged, a.AcknowledgedBy, a.AcknowledgedAt = true, &by, &at
			out.Superseded = append(out.Superseded, a)
		}
		out.Decision = DecisionEscalated
	}

	var inserted *Alert
	if err := d.retry(ctx, func() error {
		var err error
		inserted, err = d.repo.Insert(ctx, c.newAlert(now))
		return err
	}); err != nil {
		return nil, fmt.Errorf("insert alert for %s: %w", key, err)
	}
	out.Alert = inserted

	metrics.AlertDecisions.WithLabelValues(string(c.Kind), string(out.Decision)).Inc()
	if out.Decision == DecisionEscalated {
		d.logger.Info().
			Str("patient_id", c.PatientID.String()).
			Str("kind", string(c.Kind)).
			Str("subject", c.SubjectKey).
			Str("priority", c.Priority.String()).
			Int("superseded", len(out.Superseded)).
			Msg("alert escalated")
	}
	return out, nil
}

// Summary aggregates the decisions of one batch of candidates.
type Summary struct {
	Created   int
	Skipped   int
	Escalated int
	// Tenants lists every tenant whose active alert set changed.
	Tenants []string
	Err     error
}

func (s *Summary) Changed() bool { return s.Created > 0 }

// ProcessAll runs every candidate through Process. A failed candidate is
// recorded on Summary.Err and does not stop the batch.
func (d *Deduplicator) ProcessAll(ctx context.Context, candidates []*Candidate) *Summary {
	s := &Summary{}
	seen := make(map[string]bool)
	var errs *multierror.Error

	for _, c := range candidates {
		if ctx.Err() != nil {
			errs = multierror.Append(errs, ctx.Err())
			break
		}
		out, err := d.Process(ctx, c)
		if err != nil {
			d.logger.Warn().Err(err).Str("patient_id", c.PatientID.String()).Str("subject", c.SubjectKey).Msg("candidate not persisted")
			errs = multierror.Append(errs, err)
			continue
		}
		switch out.Decision {
		case DecisionSkipped:
			s.Skipped++
			continue
		case DecisionEscalated:
			s.Escalated++
		}
		s.Created++
		if !seen[c.TenantID] {
			seen[c.TenantID] = true
			s.Tenants = append(s.Tenants, c.TenantID)
		}
	}
	s.Err = errs.ErrorOrNil()
	return s
}

func (d *Deduplicator) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, d.WriteRetries), ctx))
}
