package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/voice-campaign-core/internal/domain"
)

const attemptsTable = `CREATE TABLE IF NOT EXISTS dispatch_attempts_by_campaign (
	campaign_id text,
	created_at timestamp,
	attempt_id text,
	recipient_id text,
	phone_number text,
	provider text,
	outcome text,
	vendor_call_id text,
	error text,
	attempt_number int,
	PRIMARY KEY ((campaign_id), created_at, attempt_id)
) WITH CLUSTERING ORDER BY (created_at DESC, attempt_id ASC)`

// AttemptStore persists the dispatch attempt log in Scylla, one partition per campaign.
type AttemptStore struct {
	session *gocql.Session
}

// NewAttemptStore creates a new attempt store.
func NewAttemptStore(session *gocql.Session) *AttemptStore {
	return &AttemptStore{session: session}
}

// EnsureSchema creates the attempt table when it does not exist yet.
func (s *AttemptStore) EnsureSchema(ctx context.Context) error {
	if err := s.session.Query(attemptsTable).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("attempt store: ensure schema: %w", err)
	}
	return nil
}

// Append writes one attempt.
func (s *AttemptStore) Append(ctx context.Context, attempt domain.DispatchAttempt) error {
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}

	if err := s.session.Query(`INSERT INTO dispatch_attempts_by_campaign (
		campaign_id, created_at, attempt_id, recipient_id, phone_number, provider, outcome, vendor_call_id, error, attempt_number
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.CampaignID.String(), attempt.CreatedAt, attempt.ID.String(), attempt.RecipientID.String(),
		attempt.PhoneNumber, string(attempt.Provider), attempt.Outcome, attempt.VendorCallID, attempt.Error, attempt.AttemptNum,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("attempt store: insert: %w", err)
	}
	return nil
}

// List pages through a campaign's attempts, newest first.
func (s *AttemptStore) List(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.DispatchAttempt, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.session.Query(`SELECT created_at, attempt_id, recipient_id, phone_number, provider, outcome, vendor_call_id, error, attempt_number
		FROM dispatch_attempts_by_campaign WHERE campaign_id = ?`, campaignID.String()).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	attempts := make([]domain.DispatchAttempt, 0, limit)

	var (
		created      time.Time
		attemptIDStr string
		recipientStr string
		phone        string
		provider     string
		outcome      string
		vendorCallID string
		errText      string
		attemptNum   int
	)

	for iter.Scan(&created, &attemptIDStr, &recipientStr, &phone, &provider, &outcome, &vendorCallID, &errText, &attemptNum) {
		attemptID, err := uuid.Parse(attemptIDStr)
		if err != nil {
			continue
		}
		recipientID, _ := uuid.Parse(recipientStr)

		attempts = append(attempts, domain.DispatchAttempt{
			ID:           attemptID,
			CampaignID:   campaignID,
			RecipientID:  recipientID,
			PhoneNumber:  phone,
			Provider:     domain.Provider(provider),
			Outcome:      outcome,
			VendorCallID: vendorCallID,
			Error:        errText,
			AttemptNum:   attemptNum,
			CreatedAt:    created,
		})
		if len(attempts) == limit {
			break
		}
	}

	nextState := iter.PageState()
	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("attempt store: iter close: %w", err)
	}

	return attempts, nextState, nil
}
