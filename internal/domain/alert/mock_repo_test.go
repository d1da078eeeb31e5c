package alert

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type mockRepo struct {
	mu          sync.Mutex
	alerts      map[uuid.UUID]*Alert
	deleteCalls []int
	findErr     error
	insertErr   error
	insertFails int
}

func newMockRepo() *mockRepo {
	return &mockRepo{alerts: make(map[uuid.UUID]*Alert)}
}

func (m *mockRepo) put(a *Alert) *Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	m.alerts[a.ID] = a
	return a
}

func (m *mockRepo) matches(a *Alert, f Filter) bool {
	if len(f.IDs) > 0 {
		found := false
		for _, id := range f.IDs {
			if id == a.ID {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	if f.TenantID != "" && a.TenantID != f.TenantID {
		return false
	}
	if f.PatientID != nil && a.PatientID != *f.PatientID {
		return false
	}
	if f.Kind != "" && a.Kind != f.Kind {
		return false
	}
	if f.SubjectKey != "" && a.SubjectKey != f.SubjectKey && a.SubjectKey != "" {
		return false
	}
	if f.Acknowledged != nil && a.Acknowledged != *f.Acknowledged {
		return false
	}
	if f.CreatedAfter != nil && a.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && !a.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	if f.ExpiredBy != nil && (a.ExpiresAt == nil || a.ExpiresAt.After(*f.ExpiredBy)) {
		return false
	}
	if f.ActiveAt != nil && a.ExpiresAt != nil && !a.ExpiresAt.After(*f.ActiveAt) {
		return false
	}
	return true
}

func (m *mockRepo) Find(_ context.Context, f Filter) ([]*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []*Alert
	for _, a := range m.alerts {
		if m.matches(a, f) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *mockRepo) Insert(_ context.Context, a *Alert) (*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	if m.insertFails > 0 {
		m.insertFails--
		return nil, errors.New("connection reset")
	}
	cp := *a
	m.alerts[a.ID] = &cp
	return a, nil
}

func (m *mockRepo) Update(_ context.Context, id uuid.UUID, u Update) error {
	if err := u.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return ErrNotFound
	}
	if u.Acknowledged != nil {
		a.Acknowledged = *u.Acknowledged
	}
	if u.AcknowledgedBy != nil {
		by, at := *u.AcknowledgedBy, *u.AcknowledgedAt
		a.AcknowledgedBy, a.AcknowledgedAt = &by, &at
	}
	return nil
}

func (m *mockRepo) Delete(_ context.Context, ids []uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls = append(m.deleteCalls, len(ids))
	n := 0
	for _, id := range ids {
		if _, ok := m.alerts[id]; ok {
			delete(m.alerts, id)
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) unacknowledged(key Key) []*Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Alert
	for _, a := range m.alerts {
		if !a.Acknowledged && a.Key() == key {
			out = append(out, a)
		}
	}
	return out
}

func (m *mockRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}
