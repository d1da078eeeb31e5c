package alert

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound               = errors.New("alert not found")
	ErrAlreadyAcknowledged    = errors.New("alert already acknowledged")
	ErrPartialAcknowledgement = errors.New("acknowledged_by and acknowledged_at must be set together")
)

// Filter selects alerts. Zero-valued fields are ignored; an empty TenantID
// leaves the query unscoped. Results are ordered newest first.
type Filter struct {
	IDs       []uuid.UUID
	TenantID  string
	PatientID *uuid.UUID
	Kind      Kind
	// SubjectKey matches rows stored with that key and rows stored without
	// one; callers compare Alert.Subject() for the latter.
	SubjectKey    string
	Acknowledged  *bool
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	// ExpiredBy selects alerts whose expires_at is at or before the time.
	ExpiredBy *time.Time
	// ActiveAt excludes alerts already expired at the time.
	ActiveAt *time.Time
	Limit    int
}

// Update is a partial change to an alert. Acknowledgement fields must be
// supplied together; use Acknowledgement to build one.
type Update struct {
	Acknowledged   *bool
	AcknowledgedBy *string
	AcknowledgedAt *time.Time
}

func Acknowledgement(by string, at time.Time) Update {
	ack := true
	return Update{Acknowledged: &ack, AcknowledgedBy: &by, AcknowledgedAt: &at}
}

func (u Update) Validate() error {
	if (u.AcknowledgedBy == nil) != (u.AcknowledgedAt == nil) {
		return ErrPartialAcknowledgement
	}
	if u.AcknowledgedBy != nil && (u.Acknowledged == nil || !*u.Acknowledged) {
		return ErrPartialAcknowledgement
	}
	return nil
}

// Repository is the store adapter for alert CRUD.
type Repository interface {
	Find(ctx context.Context, f Filter) ([]*Alert, error)
	Insert(ctx context.Context, a *Alert) (*Alert, error)
	Update(ctx context.Context, id uuid.UUID, u Update) error
	// Delete removes the given ids and returns how many rows went away.
	Delete(ctx context.Context, ids []uuid.UUID) (int, error)
}

func boolPtr(b bool) *bool { return &b }
