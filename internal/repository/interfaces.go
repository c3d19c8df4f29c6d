package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-campaign-core/internal/domain"
	apperrors "github.com/acme/voice-campaign-core/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation or a lost conditional update.
	ErrConflict = apperrors.ErrConflict
)

// CampaignRepository manages campaign persistence.
type CampaignRepository interface {
	Create(ctx context.Context, campaign *domain.Campaign) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	Update(ctx context.Context, campaign *domain.Campaign) error
	// TransitionStatus moves a campaign into t.To only when its current status is one of
	// t.From. ErrConflict is returned when no row matched.
	TransitionStatus(ctx context.Context, t StatusTransition) error
	// CompleteIfDrained marks an active campaign completed when no recipient is pending
	// or calling. It reports whether the row changed.
	CompleteIfDrained(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	ApplyCounters(ctx context.Context, id uuid.UUID, delta CounterDelta) error
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
	List(ctx context.Context, filter CampaignFilter) ([]*domain.Campaign, error)
	ListByStatus(ctx context.Context, statuses []domain.CampaignStatus, limit int) ([]*domain.Campaign, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Campaign, error)
	ListExpiredDrafts(ctx context.Context, now time.Time, limit int) ([]*domain.Campaign, error)
	ListAbandonedDrafts(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Campaign, error)
}

// RecipientRepository stores campaign recipients. Every mutation that changes the set of
// recipients or their call status adjusts the owning campaign's counters in the same
// transaction.
type RecipientRepository interface {
	// InsertBatch inserts recipients, skipping phone numbers already stored for the
	// campaign, and returns how many rows were written.
	InsertBatch(ctx context.Context, campaignID uuid.UUID, recipients []*domain.Recipient) (int64, error)
	Insert(ctx context.Context, recipient *domain.Recipient) error
	Get(ctx context.Context, campaignID, id uuid.UUID) (*domain.Recipient, error)
	Delete(ctx context.Context, campaignID, id uuid.UUID) error
	DeleteAll(ctx context.Context, campaignID uuid.UUID) (int64, error)
	List(ctx context.Context, campaignID uuid.UUID, filter RecipientFilter) ([]*domain.Recipient, error)
	ListPending(ctx context.Context, campaignID uuid.UUID, limit int) ([]*domain.Recipient, error)
	CountByStatus(ctx context.Context, campaignID uuid.UUID, statuses ...domain.RecipientStatus) (int64, error)
	ListStuckCalling(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Recipient, error)
	// ApplyStatus moves a recipient forward. Updates that would move status backwards are
	// ignored and reported through StatusChange.Applied. A pending to calling move is the
	// claim taken before a call is placed; a later calling update carrying the vendor call
	// id attaches it to the claimed row.
	ApplyStatus(ctx context.Context, update RecipientStatusUpdate) (StatusChange, error)
}

// AgentDirectory reads collaborator data owned outside the campaign core.
type AgentDirectory interface {
	GetAgent(ctx context.Context, id uuid.UUID) (*domain.Agent, error)
	GetPhoneNumber(ctx context.Context, id uuid.UUID) (*domain.PhoneNumber, error)
	GetIntegration(ctx context.Context, workspaceID uuid.UUID, provider domain.Provider) (*domain.Integration, error)
}

// AttemptLog persists the per-campaign dispatch attempt history.
type AttemptLog interface {
	Append(ctx context.Context, attempt domain.DispatchAttempt) error
	List(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.DispatchAttempt, []byte, error)
}

// StatusTransition describes a guarded campaign status change.
type StatusTransition struct {
	ID               uuid.UUID
	From             []domain.CampaignStatus
	To               domain.CampaignStatus
	At               time.Time
	ScheduledStartAt *time.Time
}

// CounterDelta captures atomic counter increments.
type CounterDelta struct {
	TotalRecipients int64
	PendingCalls    int64
	CompletedCalls  int64
	SuccessfulCalls int64
	FailedCalls     int64
}

// IsZero reports whether applying the delta would be a no-op.
func (d CounterDelta) IsZero() bool {
	return d == CounterDelta{}
}

// Add sums two deltas.
func (d CounterDelta) Add(o CounterDelta) CounterDelta {
	return CounterDelta{
		TotalRecipients: d.TotalRecipients + o.TotalRecipients,
		PendingCalls:    d.PendingCalls + o.PendingCalls,
		CompletedCalls:  d.CompletedCalls + o.CompletedCalls,
		SuccessfulCalls: d.SuccessfulCalls + o.SuccessfulCalls,
		FailedCalls:     d.FailedCalls + o.FailedCalls,
	}
}

// RemovalDelta is the counter change for physically removing one recipient.
func RemovalDelta(status domain.RecipientStatus, successful bool) CounterDelta {
	d := CounterDelta{TotalRecipients: -1}
	switch status {
	case domain.RecipientStatusPending:
		d.PendingCalls = -1
	case domain.RecipientStatusCompleted:
		d.CompletedCalls = -1
		if successful {
			d.SuccessfulCalls = -1
		}
	case domain.RecipientStatusFailed:
		d.FailedCalls = -1
	}
	return d
}

// TransitionDelta is the counter change for a recipient moving from one call status to another.
func TransitionDelta(from, to domain.RecipientStatus, successful bool) CounterDelta {
	var d CounterDelta
	if from == domain.RecipientStatusPending {
		d.PendingCalls = -1
	}
	switch to {
	case domain.RecipientStatusCompleted:
		d.CompletedCalls = 1
		if successful {
			d.SuccessfulCalls = 1
		}
	case domain.RecipientStatusFailed:
		d.FailedCalls = 1
	}
	return d
}

// CampaignFilter narrows campaign listings.
type CampaignFilter struct {
	WorkspaceID *uuid.UUID
	Status      domain.CampaignStatus
	Limit       int
	Offset      int
}

// RecipientFilter narrows recipient listings.
type RecipientFilter struct {
	Status domain.RecipientStatus
	Limit  int
	Offset int
}

// RecipientStatusUpdate is a requested forward move of one recipient.
type RecipientStatusUpdate struct {
	CampaignID   uuid.UUID
	RecipientID  uuid.UUID
	Status       domain.RecipientStatus
	Successful   bool
	VendorCallID string
	Error        string
	At           time.Time
}

// StatusChange reports the outcome of ApplyStatus.
type StatusChange struct {
	Applied bool
	From    domain.RecipientStatus
	To      domain.RecipientStatus
	Delta   CounterDelta
}
