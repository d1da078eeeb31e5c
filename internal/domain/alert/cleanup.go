package alert

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/ehr/safety/internal/platform/metrics"
)

// ErrCleanupCapExceeded aborts a run that would touch more alerts than the
// configured safety cap.
var ErrCleanupCapExceeded = errors.New("cleanup safety cap exceeded")

type CleanupResult struct {
	ExpiredDeleted   int      `json:"expired_deleted"`
	DuplicateDeleted int      `json:"duplicate_deleted"`
	Matched          int      `json:"matched"`
	Aborted          bool     `json:"aborted"`
	Warnings         []string `json:"warnings,omitempty"`
	// Tenants whose active alert set changed.
	Tenants []string `json:"-"`
}

func (r *CleanupResult) Deleted() int { return r.ExpiredDeleted + r.DuplicateDeleted }

// Cleaner removes alerts past the retention window or their expiry, then
// collapses duplicate unacknowledged alerts down to the newest per key.
type Cleaner struct {
	repo   Repository
	logger zerolog.Logger

	Retention time.Duration
	BatchSize int
	MaxPerRun int
	Now       func() time.Time
}

func NewCleaner(repo Repository, logger zerolog.Logger) *Cleaner {
	return &Cleaner{
		repo:      repo,
		logger:    logger.With().Str("component", "alert-cleanup").Logger(),
		Retention: 24 * time.Hour,
		BatchSize: 50,
		MaxPerRun: 10000,
		Now:       time.Now,
	}
}

// Run performs both passes. Each pass checks its own selection against the
// safety cap before deleting, so an oversized duplicate pass never holds back
// retention. Batches are committed independently, so a cancelled run leaves
// the remaining alerts for the next one.
func (c *Cleaner) Run(ctx context.Context) (*CleanupResult, error) {
	res := &CleanupResult{}
	now := c.Now()
	tenants := make(map[string]bool)

	expired, err := c.expired(ctx, now)
	if err != nil {
		return res, err
	}
	if len(expired) > c.MaxPerRun {
		return c.abort(res, "expired", len(expired))
	}

	n, err := c.deleteBatches(ctx, expired, res, tenants)
	res.ExpiredDeleted = n
	res.Matched = len(expired)
	metrics.CleanupDeleted.WithLabelValues("expired").Add(float64(n))
	if err != nil {
		res.Tenants = keys(tenants)
		return res, err
	}

	active, err := c.repo.Find(ctx, Filter{Acknowledged: boolPtr(false), Limit: c.MaxPerRun + 1})
	if err != nil {
		res.Tenants = keys(tenants)
		return res, fmt.Errorf("find unacknowledged alerts: %w", err)
	}
	if len(active) > c.MaxPerRun {
		res.Tenants = keys(tenants)
		c.logDeleted(res)
		return c.abort(res, "duplicate", len(active))
	}

	gone := make(map[uuid.UUID]bool, len(expired))
	for _, a := range expired {
		gone[a.ID] = true
	}
	dupes := duplicates(active, gone)
	res.Matched += len(dupes)

	n, err = c.deleteBatches(ctx, dupes, res, tenants)
	res.DuplicateDeleted = n
	metrics.CleanupDeleted.WithLabelValues("duplicate").Add(float64(n))
	res.Tenants = keys(tenants)

	c.logDeleted(res)
	return res, err
}

func (c *Cleaner) logDeleted(res *CleanupResult) {
	if res.Deleted() > 0 {
		c.logger.Info().
			Int("expired", res.ExpiredDeleted).
			Int("duplicates", res.DuplicateDeleted).
			Msg("cleanup completed")
	}
}

func (c *Cleaner) abort(res *CleanupResult, pass string, count int) (*CleanupResult, error) {
	res.Aborted = true
	res.Matched += count
	res.Warnings = append(res.Warnings, fmt.Sprintf("%s pass matched more than %d alerts, run aborted", pass, c.MaxPerRun))
	metrics.CleanupAborted.Inc()
	c.logger.Warn().Str("pass", pass).Int("count", count).Int("cap", c.MaxPerRun).Msg("cleanup safety cap exceeded")
	return res, fmt.Errorf("%w: %s pass matched at least %d alerts", ErrCleanupCapExceeded, pass, count)
}

// expired returns alerts older than the retention window together with
// alerts whose expiry has passed, without duplicates.
func (c *Cleaner) expired(ctx context.Context, now time.Time) ([]*Alert, error) {
	cutoff := now.Add(-c.Retention)
	limit := c.MaxPerRun + 1

	old, err := c.repo.Find(ctx, Filter{CreatedBefore: &cutoff, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("find alerts past retention: %w", err)
	}
	past, err := c.repo.Find(ctx, Filter{ExpiredBy: &now, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("find expired alerts: %w", err)
	}

	seen := make(map[uuid.UUID]bool, len(old)+len(past))
	out := make([]*Alert, 0, len(old)+len(past))
	for _, a := range append(old, past...) {
		if !seen[a.ID] {
			seen[a.ID] = true
			out = append(out, a)
		}
	}
	return out, nil
}

// duplicates returns every unacknowledged alert that is not the newest for
// its key, ignoring alerts already removed.
func duplicates(active []*Alert, gone map[uuid.UUID]bool) []*Alert {
	groups := make(map[Key][]*Alert)
	for _, a := range active {
		if gone[a.ID] {
			continue
		}
		k := a.Key()
		groups[k] = append(groups[k], a)
	}

	var out []*Alert
	for _, g := range groups {
		if len(g) < 2 {
			continue
		}
		sort.SliceStable(g, func(i, j int) bool { return g[i].CreatedAt.After(g[j].CreatedAt) })
		out = append(out, g[1:]...)
	}
	return out
}

func (c *Cleaner) deleteBatches(ctx context.Context, alerts []*Alert, res *CleanupResult, tenants map[string]bool) (int, error) {
	size := c.BatchSize
	if size <= 0 {
		size = 50
	}

	deleted := 0
	var errs *multierror.Error
	for start := 0; start < len(alerts); start += size {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		end := start + size
		if end > len(alerts) {
			end = len(alerts)
		}

		batch := alerts[start:end]
		ids := make([]uuid.UUID, len(batch))
		for i, a := range batch {
			ids[i] = a.ID
		}

		n, err := c.repo.Delete(ctx, ids)
		if err != nil {
			errs = multierror.Append(errs, err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("delete batch of %d alerts failed: %v", len(ids), err))
			continue
		}
		deleted += n
		for _, a := range batch {
			if !a.Acknowledged {
				tenants[a.TenantID] = true
			}
		}
	}
	if errs != nil {
		c.logger.Warn().Err(errs).Msg("some cleanup batches failed")
	}
	return deleted, nil
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
