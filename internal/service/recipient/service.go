// Package recipient manages the call targets of a campaign and applies their call status.
package recipient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/voice-campaign-core/internal/domain"
	"github.com/acme/voice-campaign-core/internal/realtime"
	"github.com/acme/voice-campaign-core/internal/repository"
	apperrors "github.com/acme/voice-campaign-core/pkg/errors"
)

// DefaultMaxImportBatch caps the rows accepted by one import.
const DefaultMaxImportBatch = 10000

// ChangePublisher announces applied status changes to live observers.
type ChangePublisher interface {
	Publish(ctx context.Context, change realtime.Change) error
}

// Options tunes the service.
type Options struct {
	MaxImportBatch int
	DefaultRegion  string
	Logger         *zap.Logger
	Now            func() time.Time
}

// Service owns recipient imports, edits and status application.
type Service struct {
	campaigns  repository.CampaignRepository
	recipients repository.RecipientRepository
	attempts   repository.AttemptLog
	changes    ChangePublisher
	opts       Options
}

// NewService constructs a recipient service. attempts and changes may be nil.
func NewService(
	campaigns repository.CampaignRepository,
	recipients repository.RecipientRepository,
	attempts repository.AttemptLog,
	changes ChangePublisher,
	opts Options,
) *Service {
	if opts.MaxImportBatch <= 0 {
		opts.MaxImportBatch = DefaultMaxImportBatch
	}
	if opts.DefaultRegion == "" {
		opts.DefaultRegion = "US"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		campaigns:  campaigns,
		recipients: recipients,
		attempts:   attempts,
		changes:    changes,
		opts:       opts,
	}
}

// ImportResult summarizes a bulk import. Total is the campaign's recipient count afterwards.
type ImportResult struct {
	Imported   int   `json:"imported"`
	Duplicates int   `json:"duplicates"`
	Invalid    int   `json:"invalid"`
	Total      int64 `json:"total"`
}

// Import bulk-loads rows into a campaign. Blank phones are skipped silently, repeated
// numbers are counted as duplicates and unparseable numbers as invalid.
func (s *Service) Import(ctx context.Context, campaignID uuid.UUID, rows []map[string]string) (ImportResult, error) {
	if len(rows) > s.opts.MaxImportBatch {
		return ImportResult{}, fmt.Errorf("%w: import exceeds the maximum of %d rows", apperrors.ErrValidation, s.opts.MaxImportBatch)
	}
	if _, err := s.editableCampaign(ctx, campaignID); err != nil {
		return ImportResult{}, err
	}

	var result ImportResult
	now := s.opts.Now()
	seen := make(map[string]struct{}, len(rows))
	batch := make([]*domain.Recipient, 0, len(rows))

	for _, raw := range rows {
		row := MapRow(raw)
		if row.Phone == "" {
			continue
		}
		phone, err := NormalizePhone(row.Phone, s.opts.DefaultRegion)
		if err != nil {
			result.Invalid++
			continue
		}
		if _, dup := seen[phone]; dup {
			result.Duplicates++
			continue
		}
		seen[phone] = struct{}{}
		batch = append(batch, newRecipient(campaignID, phone, row, now))
	}

	if len(batch) > 0 {
		inserted, err := s.recipients.InsertBatch(ctx, campaignID, batch)
		if err != nil {
			return ImportResult{}, fmt.Errorf("recipient service: import: %w", err)
		}
		result.Imported = int(inserted)
		// numbers already stored on the campaign
		result.Duplicates += len(batch) - int(inserted)
	}

	campaign, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return ImportResult{}, err
	}
	result.Total = campaign.Counters.TotalRecipients

	s.opts.Logger.Info("recipients imported",
		zap.String("campaign_id", campaignID.String()),
		zap.Int("imported", result.Imported),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("invalid", result.Invalid),
	)
	return result, nil
}

// Input describes a single recipient.
type Input struct {
	PhoneNumber string
	Name        string
	Email       string
	Company     string
	Variables   map[string]string
}

// Add inserts one recipient.
func (s *Service) Add(ctx context.Context, campaignID uuid.UUID, in Input) (*domain.Recipient, error) {
	if strings.TrimSpace(in.PhoneNumber) == "" {
		return nil, fmt.Errorf("%w: phone number is required", apperrors.ErrValidation)
	}
	phone, err := NormalizePhone(strings.TrimSpace(in.PhoneNumber), s.opts.DefaultRegion)
	if err != nil {
		return nil, err
	}
	if _, err := s.editableCampaign(ctx, campaignID); err != nil {
		return nil, err
	}

	row := Row{Name: in.Name, Email: in.Email, Company: in.Company, Variables: in.Variables}
	r := newRecipient(campaignID, phone, row, s.opts.Now())
	if err := s.recipients.Insert(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Remove deletes one recipient. A call already in flight is not cancelled.
func (s *Service) Remove(ctx context.Context, campaignID, recipientID uuid.UUID) error {
	if _, err := s.campaigns.Get(ctx, campaignID); err != nil {
		return err
	}
	return s.recipients.Delete(ctx, campaignID, recipientID)
}

// RemoveAll deletes every recipient of the campaign and returns how many were removed.
func (s *Service) RemoveAll(ctx context.Context, campaignID uuid.UUID) (int64, error) {
	if _, err := s.campaigns.Get(ctx, campaignID); err != nil {
		return 0, err
	}
	return s.recipients.DeleteAll(ctx, campaignID)
}

// List pages through a campaign's recipients.
func (s *Service) List(ctx context.Context, campaignID uuid.UUID, status domain.RecipientStatus, limit, offset int) ([]*domain.Recipient, error) {
	if status != "" && !validRecipientStatus(status) {
		return nil, fmt.Errorf("%w: unknown recipient status %q", apperrors.ErrValidation, status)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	if _, err := s.campaigns.Get(ctx, campaignID); err != nil {
		return nil, err
	}
	return s.recipients.List(ctx, campaignID, repository.RecipientFilter{Status: status, Limit: limit, Offset: offset})
}

// StatusReport is an observed call status for one recipient.
type StatusReport struct {
	CampaignID   uuid.UUID
	RecipientID  uuid.UUID
	PhoneNumber  string
	Status       domain.RecipientStatus
	Successful   bool
	VendorCallID string
	Error        string
	Provider     domain.Provider
	Attempt      int
	At           time.Time
}

// ApplyStatus moves a recipient forward, rolls the change into the campaign counters,
// records the attempt, notifies live observers and completes the campaign once drained.
// Stale reports that would move the status backwards are ignored.
func (s *Service) ApplyStatus(ctx context.Context, report StatusReport) (repository.StatusChange, error) {
	if report.At.IsZero() {
		report.At = s.opts.Now()
	}
	log := s.opts.Logger.With(
		zap.String("campaign_id", report.CampaignID.String()),
		zap.String("recipient_id", report.RecipientID.String()),
	)

	change, err := s.recipients.ApplyStatus(ctx, repository.RecipientStatusUpdate{
		CampaignID:   report.CampaignID,
		RecipientID:  report.RecipientID,
		Status:       report.Status,
		Successful:   report.Successful,
		VendorCallID: report.VendorCallID,
		Error:        report.Error,
		At:           report.At,
	})
	if err != nil {
		return repository.StatusChange{}, err
	}
	if !change.Applied {
		log.Debug("recipient status ignored",
			zap.String("current", string(change.From)),
			zap.String("reported", string(report.Status)),
		)
		return change, nil
	}

	if s.attempts != nil && (report.Status == domain.RecipientStatusCalling || report.Status.Terminal()) {
		attempt := domain.DispatchAttempt{
			ID:           uuid.New(),
			CampaignID:   report.CampaignID,
			RecipientID:  report.RecipientID,
			PhoneNumber:  report.PhoneNumber,
			Provider:     report.Provider,
			Outcome:      attemptOutcome(report),
			VendorCallID: report.VendorCallID,
			Error:        report.Error,
			AttemptNum:   report.Attempt,
			CreatedAt:    report.At,
		}
		if err := s.attempts.Append(ctx, attempt); err != nil {
			log.Warn("append dispatch attempt failed", zap.Error(err))
		}
	}

	if s.changes != nil {
		if err := s.changes.Publish(ctx, realtime.Change{
			CampaignID:  report.CampaignID,
			RecipientID: report.RecipientID,
			From:        change.From,
			To:          change.To,
			At:          report.At,
		}); err != nil {
			log.Warn("publish recipient change failed", zap.Error(err))
		}
	}

	if report.Status.Terminal() {
		completed, err := s.campaigns.CompleteIfDrained(ctx, report.CampaignID, report.At)
		if err != nil {
			log.Warn("auto-complete check failed", zap.Error(err))
		} else if completed {
			log.Info("campaign completed")
		}
	}
	return change, nil
}

func (s *Service) editableCampaign(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error) {
	campaign, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status.Terminal() {
		return nil, fmt.Errorf("%w: campaign is %s", apperrors.ErrConflict, campaign.Status)
	}
	return campaign, nil
}

func newRecipient(campaignID uuid.UUID, phone string, row Row, now time.Time) *domain.Recipient {
	vars := row.Variables
	if vars == nil {
		vars = map[string]string{}
	}
	return &domain.Recipient{
		ID:          uuid.New(),
		CampaignID:  campaignID,
		PhoneNumber: phone,
		Name:        row.Name,
		Email:       row.Email,
		Company:     row.Company,
		Variables:   vars,
		Status:      domain.RecipientStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func attemptOutcome(r StatusReport) string {
	switch {
	case r.Status == domain.RecipientStatusCompleted && r.Successful:
		return "completed_successful"
	case r.Status == domain.RecipientStatusCompleted:
		return "completed_unsuccessful"
	default:
		return string(r.Status)
	}
}

func validRecipientStatus(s domain.RecipientStatus) bool {
	switch s {
	case domain.RecipientStatusPending, domain.RecipientStatusCalling,
		domain.RecipientStatusCompleted, domain.RecipientStatusFailed:
		return true
	}
	return false
}
