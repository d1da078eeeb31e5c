package alert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newTestCleaner(repo Repository) *Cleaner {
	c := NewCleaner(repo, zerolog.Nop())
	c.Now = func() time.Time { return testNow }
	return c
}

func seedAlert(repo *mockRepo, patient uuid.UUID, subject string, age time.Duration, acked bool) *Alert {
	return repo.put(&Alert{
		TenantID:     "general",
		PatientID:    patient,
		Kind:         KindVitalSigns,
		SubjectKey:   subject,
		Message:      subject + " out of range",
		Priority:     PriorityHigh,
		Acknowledged: acked,
		CreatedAt:    testNow.Add(-age),
	})
}

func TestCleaner_RemovesAlertsPastRetention(t *testing.T) {
	repo := newMockRepo()
	p := uuid.New()
	seedAlert(repo, p, VitalTemperature, 25*time.Hour, false)
	seedAlert(repo, p, VitalHeartRate, 30*time.Hour, true)
	keep := seedAlert(repo, p, VitalBloodPressure, time.Hour, false)

	res, err := newTestCleaner(repo).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExpiredDeleted != 2 {
		t.Errorf("expected 2 expired deletions, got %d", res.ExpiredDeleted)
	}
	if _, ok := repo.alerts[keep.ID]; !ok || repo.count() != 1 {
		t.Error("expected only the recent alert to remain")
	}
	if len(res.Tenants) != 1 || res.Tenants[0] != "general" {
		t.Errorf("expected general tenant changed, got %v", res.Tenants)
	}
}

func TestCleaner_RemovesAlertsPastExpiry(t *testing.T) {
	repo := newMockRepo()
	a := seedAlert(repo, uuid.New(), VitalTemperature, time.Hour, false)
	past := testNow.Add(-time.Minute)
	a.ExpiresAt = &past

	res, err := newTestCleaner(repo).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.ExpiredDeleted != 1 || repo.count() != 0 {
		t.Errorf("expected expired alert removed, got %+v", res)
	}
}

func TestCleaner_DeletesInBatches(t *testing.T) {
	repo := newMockRepo()
	p := uuid.New()
	for i := 0; i < 120; i++ {
		seedAlert(repo, p, VitalTemperature, 48*time.Hour, true)
	}

	c := newTestCleaner(repo)
	c.BatchSize = 50
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.ExpiredDeleted != 120 {
		t.Errorf("expected 120 deletions, got %d", res.ExpiredDeleted)
	}
	want := []int{50, 50, 20}
	if len(repo.deleteCalls) != len(want) {
		t.Fatalf("expected %d delete calls, got %v", len(want), repo.deleteCalls)
	}
	for i, n := range want {
		if repo.deleteCalls[i] != n {
			t.Errorf("batch %d: expected %d ids, got %d", i, n, repo.deleteCalls[i])
		}
	}
}

func TestCleaner_AbortsOverSafetyCap(t *testing.T) {
	repo := newMockRepo()
	p := uuid.New()
	for i := 0; i < 11; i++ {
		seedAlert(repo, p, VitalTemperature, 48*time.Hour, true)
	}

	c := newTestCleaner(repo)
	c.MaxPerRun = 10
	res, err := c.Run(context.Background())
	if !errors.Is(err, ErrCleanupCapExceeded) {
		t.Fatalf("expected ErrCleanupCapExceeded, got %v", err)
	}
	if !res.Aborted || res.Matched != 11 {
		t.Errorf("expected aborted run reporting 11, got %+v", res)
	}
	if len(repo.deleteCalls) != 0 || repo.count() != 11 {
		t.Error("expected nothing deleted when the cap is exceeded")
	}
}

func TestCleaner_OversizedDuplicatePassKeepsRetention(t *testing.T) {
	repo := newMockRepo()
	old := seedAlert(repo, uuid.New(), VitalTemperature, 48*time.Hour, false)
	for i := 0; i < 11; i++ {
		seedAlert(repo, uuid.New(), VitalHeartRate, time.Hour, false)
	}

	c := newTestCleaner(repo)
	c.MaxPerRun = 10
	res, err := c.Run(context.Background())
	if !errors.Is(err, ErrCleanupCapExceeded) {
		t.Fatalf("expected ErrCleanupCapExceeded for the duplicate pass, got %v", err)
	}
	if res.ExpiredDeleted != 1 || res.DuplicateDeleted != 0 || !res.Aborted {
		t.Errorf("expected expired pass done and duplicate pass skipped, got %+v", res)
	}
	if _, ok := repo.alerts[old.ID]; ok {
		t.Error("expected expired alert removed")
	}
	if repo.count() != 11 {
		t.Errorf("expected 11 live alerts kept, got %d", repo.count())
	}
	if len(res.Tenants) != 1 || res.Tenants[0] != "general" {
		t.Errorf("expected changed tenant reported, got %v", res.Tenants)
	}
}

func TestCleaner_CollapsesDuplicates(t *testing.T) {
	repo := newMockRepo()
	p := uuid.New()
	seedAlert(repo, p, VitalTemperature, 3*time.Hour, false)
	seedAlert(repo, p, VitalTemperature, 2*time.Hour, false)
	newest := seedAlert(repo, p, VitalTemperature, time.Hour, false)
	other := seedAlert(repo, p, VitalHeartRate, 2*time.Hour, false)
	acked := seedAlert(repo, p, VitalTemperature, 30*time.Minute, true)

	res, err := newTestCleaner(repo).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.DuplicateDeleted != 2 {
		t.Errorf("expected 2 duplicates removed, got %d", res.DuplicateDeleted)
	}
	for _, a := range []*Alert{newest, other, acked} {
		if _, ok := repo.alerts[a.ID]; !ok {
			t.Errorf("expected alert %s (%s) kept", a.ID, a.SubjectKey)
		}
	}
}

func TestCleaner_Idempotent(t *testing.T) {
	repo := newMockRepo()
	p := uuid.New()
	seedAlert(repo, p, VitalTemperature, 30*time.Hour, false)
	seedAlert(repo, p, VitalHeartRate, 2*time.Hour, false)
	seedAlert(repo, p, VitalHeartRate, time.Hour, false)

	c := newTestCleaner(repo)
	first, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first.Deleted() != 2 {
		t.Fatalf("expected 2 deletions on first run, got %d", first.Deleted())
	}

	second, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if second.Deleted() != 0 {
		t.Errorf("expected no deletions on second run, got %d", second.Deleted())
	}
}

func TestCleaner_CancelledRunLeavesRemainder(t *testing.T) {
	repo := newMockRepo()
	p := uuid.New()
	for i := 0; i < 10; i++ {
		seedAlert(repo, p, VitalTemperature, 48*time.Hour, true)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newTestCleaner(repo)
	c.BatchSize = 5
	res, err := c.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.ExpiredDeleted != 0 || repo.count() != 10 {
		t.Errorf("expected cancelled run to leave alerts untouched, got %+v", res)
	}

	res, err = c.Run(context.Background())
	if err != nil || res.ExpiredDeleted != 10 {
		t.Errorf("expected next run to finish the work, got %+v %v", res, err)
	}
}

func TestCleaner_StoreFailure(t *testing.T) {
	repo := newMockRepo()
	repo.findErr = errors.New("timeout")
	if _, err := newTestCleaner(repo).Run(context.Background()); err == nil {
		t.Error("expected error when the store is unavailable")
	}
}
