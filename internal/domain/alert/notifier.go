package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ChangeEvent carries the full active alert list of a tenant after any change.
type ChangeEvent struct {
	TenantID string    `json:"tenant_id"`
	Alerts   []*Alert  `json:"alerts"`
	At       time.Time `json:"at"`
}

// Sink forwards change events to a transport (websocket, queue, ...).
type Sink interface {
	AlertsChanged(ctx context.Context, ev ChangeEvent) error
}

// Notifier publishes "alert set changed" events to in-process subscribers and
// registered sinks. Slow subscribers miss events rather than block
// publishers; every event carries the complete list so the next one catches
// them up.
type Notifier struct {
	repo   Repository
	logger zerolog.Logger

	mu     sync.RWMutex
	subs   map[int]chan ChangeEvent
	nextID int
	sinks  []Sink

	Now func() time.Time
}

func NewNotifier(repo Repository, logger zerolog.Logger) *Notifier {
	return &Notifier{
		repo:   repo,
		logger: logger.With().Str("component", "alert-notifier").Logger(),
		subs:   make(map[int]chan ChangeEvent),
		Now:    time.Now,
	}
}

func (n *Notifier) AddSink(s Sink) {
	n.mu.Lock()
	n.sinks = append(n.sinks, s)
	n.mu.Unlock()
}

// Subscribe returns a channel of change events and a function that removes
// the subscription and closes the channel.
func (n *Notifier) Subscribe(buffer int) (<-chan ChangeEvent, func()) {
	ch := make(chan ChangeEvent, buffer)
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = ch
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			close(ch)
		})
	}
}

// Active lists the unacknowledged, unexpired alerts of a tenant.
func (n *Notifier) Active(ctx context.Context, tenantID string) ([]*Alert, error) {
	now := n.Now()
	return n.repo.Find(ctx, Filter{TenantID: tenantID, Acknowledged: boolPtr(false), ActiveAt: &now})
}

// Notify publishes the current active list of every given tenant.
func (n *Notifier) Notify(ctx context.Context, tenantIDs ...string) error {
	for _, tid := range tenantIDs {
		alerts, err := n.Active(ctx, tid)
		if err != nil {
			return fmt.Errorf("load active alerts for tenant %q: %w", tid, err)
		}
		n.publish(ctx, ChangeEvent{TenantID: tid, Alerts: alerts, At: n.Now()})
	}
	return nil
}

func (n *Notifier) publish(ctx context.Context, ev ChangeEvent) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for id, ch := range n.subs {
		select {
		case ch <- ev:
		default:
			n.logger.Warn().Int("subscriber", id).Str("tenant_id", ev.TenantID).Msg("subscriber full, dropping alert event")
		}
	}
	for _, s := range n.sinks {
		if err := s.AlertsChanged(ctx, ev); err != nil {
			n.logger.Warn().Err(err).Str("tenant_id", ev.TenantID).Msg("alert sink failed")
		}
	}
}
