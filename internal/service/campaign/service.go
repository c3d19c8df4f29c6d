// Package campaign implements the campaign lifecycle: creation, start, pause, resume,
// cancel, completion and deletion.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/voice-campaign-core/internal/businesshours"
	"github.com/acme/voice-campaign-core/internal/dispatch"
	"github.com/acme/voice-campaign-core/internal/domain"
	"github.com/acme/voice-campaign-core/internal/progress"
	"github.com/acme/voice-campaign-core/internal/repository"
	apperrors "github.com/acme/voice-campaign-core/pkg/errors"
)

// Options tunes the service.
type Options struct {
	// APIKeys are deployment-wide vendor keys used when a workspace has no integration row.
	APIKeys              map[domain.Provider]string
	DefaultCallerID      string
	DefaultPhoneNumberID string
	// SubmitLimit bounds the recipients loaded into one vendor batch.
	SubmitLimit        int
	DefaultConcurrency int
	Now                func() time.Time
	Logger             *zap.Logger
}

// Service orchestrates campaign lifecycle operations.
type Service struct {
	repo       repository.CampaignRepository
	recipients repository.RecipientRepository
	directory  repository.AgentDirectory
	registry   *dispatch.Registry
	hours      *businesshours.Evaluator
	opts       Options
}

// NewService constructs a campaign service.
func NewService(
	repo repository.CampaignRepository,
	recipients repository.RecipientRepository,
	directory repository.AgentDirectory,
	registry *dispatch.Registry,
	hours *businesshours.Evaluator,
	opts Options,
) *Service {
	if hours == nil {
		hours = businesshours.Default
	}
	if opts.SubmitLimit <= 0 {
		opts.SubmitLimit = 100000
	}
	if opts.DefaultConcurrency <= 0 {
		opts.DefaultConcurrency = 10
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		repo:       repo,
		recipients: recipients,
		directory:  directory,
		registry:   registry,
		hours:      hours,
		opts:       opts,
	}
}

// CreateCampaignInput captures campaign creation parameters.
type CreateCampaignInput struct {
	Name               string
	WorkspaceID        uuid.UUID
	AgentID            uuid.UUID
	ScheduleType       domain.ScheduleType
	ScheduledStartAt   *time.Time
	ScheduledExpiresAt *time.Time
	TimeZone           string
	BusinessHours      *domain.BusinessHours
	MaxConcurrentCalls int
	RetryPolicy        domain.RetryPolicy
}

// UpdateCampaignInput captures updatable properties.
type UpdateCampaignInput struct {
	ID                 uuid.UUID
	Name               *string
	AgentID            *uuid.UUID
	ScheduleType       *domain.ScheduleType
	ScheduledStartAt   *time.Time
	ScheduledExpiresAt *time.Time
	TimeZone           *string
	BusinessHours      *domain.BusinessHours
	ClearBusinessHours bool
	MaxConcurrentCalls *int
	RetryPolicy        *domain.RetryPolicy
}

// StartOptions modify how Start treats the schedule and business hours.
type StartOptions struct {
	// StartNow ignores a future scheduled start.
	StartNow bool
	// IgnoreBusinessHours dials immediately even outside the calling window.
	IgnoreBusinessHours bool
}

// PauseResult reports what the pause actually stops.
type PauseResult struct {
	Campaign  *domain.Campaign
	Guarantee dispatch.PauseGuarantee
}

// Create provisions a new draft campaign.
func (s *Service) Create(ctx context.Context, input CreateCampaignInput) (*domain.Campaign, error) {
	if input.ScheduleType == "" {
		input.ScheduleType = domain.ScheduleImmediate
	}
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	agent, err := s.directory.GetAgent(ctx, input.AgentID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: agent %s not found", apperrors.ErrValidation, input.AgentID)
		}
		return nil, fmt.Errorf("campaign service: load agent: %w", err)
	}
	if agent.WorkspaceID != input.WorkspaceID {
		return nil, fmt.Errorf("%w: agent does not belong to the workspace", apperrors.ErrValidation)
	}

	now := s.opts.Now()
	campaign := &domain.Campaign{
		ID:                 uuid.New(),
		Name:               strings.TrimSpace(input.Name),
		WorkspaceID:        input.WorkspaceID,
		AgentID:            input.AgentID,
		Status:             domain.CampaignStatusDraft,
		ScheduleType:       input.ScheduleType,
		ScheduledStartAt:   input.ScheduledStartAt,
		ScheduledExpiresAt: input.ScheduledExpiresAt,
		TimeZone:           input.TimeZone,
		BusinessHours:      input.BusinessHours,
		MaxConcurrentCalls: s.resolveConcurrency(input.MaxConcurrentCalls),
		RetryPolicy:        normalizeRetry(input.RetryPolicy),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.repo.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("campaign service: create campaign: %w", err)
	}
	return campaign, nil
}

// Get retrieves a campaign by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// List returns campaigns, newest first.
func (s *Service) List(ctx context.Context, filter repository.CampaignFilter) ([]*domain.Campaign, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", apperrors.ErrValidation, filter.Status)
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.repo.List(ctx, filter)
}

// Snapshot implements progress.SnapshotSource with the same read Get serves.
func (s *Service) Snapshot(ctx context.Context, id uuid.UUID) (progress.Snapshot, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return progress.Snapshot{}, err
	}
	return progress.SnapshotOf(c, s.opts.Now()), nil
}

// Update modifies campaign settings. Only draft and ready campaigns are editable.
func (s *Service) Update(ctx context.Context, input UpdateCampaignInput) (*domain.Campaign, error) {
	campaign, err := s.repo.Get(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != domain.CampaignStatusDraft && campaign.Status != domain.CampaignStatusReady {
		return nil, fmt.Errorf("%w: a %s campaign cannot be edited", apperrors.ErrPrecondition, campaign.Status)
	}

	if input.Name != nil {
		campaign.Name = strings.TrimSpace(*input.Name)
	}
	if input.AgentID != nil {
		agent, err := s.directory.GetAgent(ctx, *input.AgentID)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrNotFound) {
				return nil, fmt.Errorf("%w: agent %s not found", apperrors.ErrValidation, *input.AgentID)
			}
			return nil, fmt.Errorf("campaign service: load agent: %w", err)
		}
		if agent.WorkspaceID != campaign.WorkspaceID {
			return nil, fmt.Errorf("%w: agent does not belong to the workspace", apperrors.ErrValidation)
		}
		campaign.AgentID = agent.ID
	}
	if input.ScheduleType != nil {
		campaign.ScheduleType = *input.ScheduleType
	}
	if input.ScheduledStartAt != nil {
		campaign.ScheduledStartAt = input.ScheduledStartAt
	}
	if input.ScheduledExpiresAt != nil {
		campaign.ScheduledExpiresAt = input.ScheduledExpiresAt
	}
	if input.TimeZone != nil {
		campaign.TimeZone = *input.TimeZone
	}
	if input.ClearBusinessHours {
		campaign.BusinessHours = nil
	} else if input.BusinessHours != nil {
		campaign.BusinessHours = input.BusinessHours
	}
	if input.MaxConcurrentCalls != nil {
		campaign.MaxConcurrentCalls = s.resolveConcurrency(*input.MaxConcurrentCalls)
	}
	if input.RetryPolicy != nil {
		campaign.RetryPolicy = normalizeRetry(*input.RetryPolicy)
	}

	if err := validateCampaign(campaign); err != nil {
		return nil, err
	}

	campaign.UpdatedAt = s.opts.Now()
	if err := s.repo.Update(ctx, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

// Start validates a campaign and hands it to its dispatcher. Depending on schedule and
// business hours the campaign ends up active, scheduled or ready. Preconditions are
// checked before any state change.
func (s *Service) Start(ctx context.Context, id uuid.UUID, opts StartOptions) (*domain.Campaign, error) {
	campaign, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch campaign.Status {
	case domain.CampaignStatusDraft, domain.CampaignStatusReady, domain.CampaignStatusPaused:
	case domain.CampaignStatusScheduled:
		if !opts.StartNow {
			return nil, fmt.Errorf("%w: campaign is already scheduled", apperrors.ErrPrecondition)
		}
	default:
		return nil, fmt.Errorf("%w: a %s campaign cannot be started", apperrors.ErrPrecondition, campaign.Status)
	}

	plan, err := s.prepare(ctx, campaign)
	if err != nil {
		return nil, err
	}

	now := s.opts.Now()
	log := s.opts.Logger.With(zap.String("campaign_id", id.String()), zap.String("provider", string(plan.dispatcher.Provider())))

	if campaign.Status != domain.CampaignStatusPaused && !opts.StartNow && scheduledInFuture(campaign, now) {
		if err := s.schedule(ctx, campaign, plan); err != nil {
			return nil, err
		}
		log.Info("campaign scheduled", zap.Time("scheduled_start_at", *campaign.ScheduledStartAt))
		return s.repo.Get(ctx, id)
	}

	if campaign.Status != domain.CampaignStatusPaused && !plan.dispatcher.VendorPaced() && !opts.IgnoreBusinessHours &&
		!s.hours.IsWithinWindow(campaign.BusinessHours, campaign.TimeZone, now) {
		if err := s.deferToWindow(ctx, campaign, now); err != nil {
			return nil, err
		}
		log.Info("campaign deferred to next business-hours window", zap.Timep("scheduled_start_at", campaign.ScheduledStartAt))
		return s.repo.Get(ctx, id)
	}

	if err := s.launch(ctx, campaign, plan, opts.StartNow || campaign.Status == domain.CampaignStatusPaused); err != nil {
		return nil, err
	}
	log.Info("campaign started", zap.String("from", string(campaign.Status)))
	return s.repo.Get(ctx, id)
}

// Activate is the scheduler trigger for scheduled or ready campaigns whose start time has
// passed. Vendor-paced batches are already at the vendor; only the status flips.
func (s *Service) Activate(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	campaign, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign.Status != domain.CampaignStatusScheduled && campaign.Status != domain.CampaignStatusReady {
		return nil, fmt.Errorf("%w: a %s campaign cannot be activated", apperrors.ErrPrecondition, campaign.Status)
	}

	plan, err := s.prepare(ctx, campaign)
	if err != nil {
		return nil, err
	}
	now := s.opts.Now()

	if plan.dispatcher.VendorPaced() && campaign.Status == domain.CampaignStatusScheduled {
		if err := s.repo.TransitionStatus(ctx, repository.StatusTransition{
			ID:   id,
			From: []domain.CampaignStatus{domain.CampaignStatusScheduled},
			To:   domain.CampaignStatusActive,
			At:   now,
		}); err != nil {
			return nil, err
		}
		return s.repo.Get(ctx, id)
	}

	if !plan.dispatcher.VendorPaced() && !s.hours.IsWithinWindow(campaign.BusinessHours, campaign.TimeZone, now) {
		if err := s.deferToWindow(ctx, campaign, now); err != nil {
			return nil, err
		}
		return s.repo.Get(ctx, id)
	}

	if err := s.launch(ctx, campaign, plan, true); err != nil {
		return nil, err
	}
	s.opts.Logger.Info("campaign activated", zap.String("campaign_id", id.String()))
	return s.repo.Get(ctx, id)
}

// Pause stops an active campaign. The result states whether in-flight calls also stop.
func (s *Service) Pause(ctx context.Context, id uuid.UUID) (PauseResult, error) {
	campaign, err := s.repo.Get(ctx, id)
	if err != nil {
		return PauseResult{}, err
	}
	if campaign.Status != domain.CampaignStatusActive {
		return PauseResult{}, fmt.Errorf("%w: only active campaigns can be paused, campaign is %s", apperrors.ErrPrecondition, campaign.Status)
	}

	d, batch, err := s.controlBatch(ctx, campaign)
	if err != nil {
		return PauseResult{}, err
	}
	if err := d.PauseBatch(ctx, batch); err != nil {
		return PauseResult{}, err
	}

	if err := s.repo.TransitionStatus(ctx, repository.StatusTransition{
		ID:   id,
		From: []domain.CampaignStatus{domain.CampaignStatusActive},
		To:   domain.CampaignStatusPaused,
		At:   s.opts.Now(),
	}); err != nil {
		if !apperrors.Is(err, apperrors.ErrConflict) {
			return PauseResult{}, err
		}
		return s.pauseLostRace(ctx, id, d)
	}

	updated, err := s.repo.Get(ctx, id)
	if err != nil {
		return PauseResult{}, err
	}
	s.opts.Logger.Info("campaign paused",
		zap.String("campaign_id", id.String()),
		zap.String("guarantee", string(d.PauseGuarantee())),
	)
	return PauseResult{Campaign: updated, Guarantee: d.PauseGuarantee()}, nil
}

// pauseLostRace settles a pause whose vendor batch was already paused when the campaign
// left active on another path. A concurrent pause counts as success.
func (s *Service) pauseLostRace(ctx context.Context, id uuid.UUID, d dispatch.Dispatcher) (PauseResult, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return PauseResult{}, err
	}
	if current.Status == domain.CampaignStatusPaused {
		return PauseResult{Campaign: current, Guarantee: d.PauseGuarantee()}, nil
	}
	s.opts.Logger.Warn("pause: campaign left active while its vendor batch was paused",
		zap.String("campaign_id", id.String()),
		zap.String("status", string(current.Status)),
	)
	return PauseResult{}, fmt.Errorf("%w: only active campaigns can be paused, campaign is %s", apperrors.ErrPrecondition, current.Status)
}

// Resume restarts a paused campaign immediately.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	campaign, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign.Status != domain.CampaignStatusPaused {
		return nil, fmt.Errorf("%w: only paused campaigns can be resumed, campaign is %s", apperrors.ErrPrecondition, campaign.Status)
	}
	return s.Start(ctx, id, StartOptions{StartNow: true})
}

// Cancel ends a campaign from any non-terminal status. Batches already handed to a vendor
// are cancelled there first; a vendor failure leaves the status unchanged.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	campaign, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign.Status.Terminal() {
		return nil, fmt.Errorf("%w: campaign is already %s", apperrors.ErrPrecondition, campaign.Status)
	}

	if submitted(campaign.Status) {
		d, batch, err := s.controlBatch(ctx, campaign)
		switch {
		case err == nil:
			if err := d.CancelBatch(ctx, batch); err != nil {
				return nil, err
			}
		case apperrors.Is(err, apperrors.ErrNotFound):
			s.opts.Logger.Warn("cancel: agent no longer exists, skipping vendor cancel",
				zap.String("campaign_id", id.String()), zap.Error(err))
		default:
			return nil, err
		}
	}

	if err := s.repo.TransitionStatus(ctx, repository.StatusTransition{
		ID:   id,
		From: []domain.CampaignStatus{campaign.Status},
		To:   domain.CampaignStatusCancelled,
		At:   s.opts.Now(),
	}); err != nil {
		return nil, err
	}
	s.opts.Logger.Info("campaign cancelled", zap.String("campaign_id", id.String()), zap.String("from", string(campaign.Status)))
	return s.repo.Get(ctx, id)
}

// Complete marks an active campaign completed once no recipient is pending or calling.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	done, err := s.repo.CompleteIfDrained(ctx, id, s.opts.Now())
	if err != nil {
		return nil, err
	}
	campaign, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !done && campaign.Status != domain.CampaignStatusCompleted {
		if campaign.Status != domain.CampaignStatusActive {
			return nil, fmt.Errorf("%w: a %s campaign cannot be completed", apperrors.ErrPrecondition, campaign.Status)
		}
		return nil, fmt.Errorf("%w: campaign still has pending or calling recipients", apperrors.ErrPrecondition)
	}
	return campaign, nil
}

// Delete soft-deletes a campaign. Active campaigns must be paused or cancelled first;
// scheduled and paused campaigns are cancelled on the way out.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	campaign, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if campaign.Status == domain.CampaignStatusActive {
		return fmt.Errorf("%w: an active campaign cannot be deleted", apperrors.ErrConflict)
	}
	if campaign.Status == domain.CampaignStatusScheduled || campaign.Status == domain.CampaignStatusPaused {
		if _, err := s.Cancel(ctx, id); err != nil {
			return err
		}
	}
	return s.repo.SoftDelete(ctx, id, s.opts.Now())
}

// DialPlan resolves the batch a dialer worker needs to place the calls of an active
// campaign. Recipients are not loaded.
func (s *Service) DialPlan(ctx context.Context, id uuid.UUID) (dispatch.Batch, error) {
	campaign, err := s.repo.Get(ctx, id)
	if err != nil {
		return dispatch.Batch{}, err
	}
	if campaign.Status != domain.CampaignStatusActive {
		return dispatch.Batch{}, fmt.Errorf("%w: campaign is %s", apperrors.ErrPrecondition, campaign.Status)
	}
	p, err := s.prepare(ctx, campaign)
	if err != nil {
		return dispatch.Batch{}, err
	}
	return p.batch, nil
}

// VendorBatch resolves the agent and vendor credentials of a campaign in any status.
func (s *Service) VendorBatch(ctx context.Context, id uuid.UUID) (dispatch.Batch, error) {
	campaign, err := s.repo.Get(ctx, id)
	if err != nil {
		return dispatch.Batch{}, err
	}
	_, batch, err := s.controlBatch(ctx, campaign)
	return batch, err
}

// WithinWindow reports whether the campaign may place calls at now.
func (s *Service) WithinWindow(campaign *domain.Campaign, now time.Time) bool {
	return s.hours.IsWithinWindow(campaign.BusinessHours, campaign.TimeZone, now)
}

type plan struct {
	dispatcher dispatch.Dispatcher
	batch      dispatch.Batch
}

// prepare checks every start precondition and resolves the dispatcher and batch identity.
func (s *Service) prepare(ctx context.Context, campaign *domain.Campaign) (plan, error) {
	agent, err := s.directory.GetAgent(ctx, campaign.AgentID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return plan{}, fmt.Errorf("%w: Agent not found", apperrors.ErrPrecondition)
		}
		return plan{}, fmt.Errorf("campaign service: load agent: %w", err)
	}
	if !agent.IsActive {
		return plan{}, fmt.Errorf("%w: Agent is not active", apperrors.ErrPrecondition)
	}
	if agent.ExternalID == "" {
		return plan{}, fmt.Errorf("%w: Agent is not synced with the voice provider", apperrors.ErrPrecondition)
	}

	d, err := s.registry.For(agent.Provider)
	if err != nil {
		return plan{}, err
	}
	integration, err := s.integration(ctx, campaign.WorkspaceID, agent.Provider)
	if err != nil {
		return plan{}, err
	}
	caller, err := s.resolveCaller(ctx, agent, integration)
	if err != nil {
		return plan{}, err
	}

	pending, err := s.recipients.CountByStatus(ctx, campaign.ID, domain.RecipientStatusPending)
	if err != nil {
		return plan{}, fmt.Errorf("campaign service: count pending: %w", err)
	}
	if pending == 0 {
		return plan{}, fmt.Errorf("%w: Campaign has no pending recipients", apperrors.ErrPrecondition)
	}

	batch := dispatch.Batch{
		Campaign:  campaign,
		Agent:     agent,
		Caller:    caller,
		APIKey:    s.apiKey(agent.Provider, integration),
		ExpiresAt: campaign.ScheduledExpiresAt,
	}
	if err := d.Validate(batch); err != nil {
		return plan{}, err
	}
	return plan{dispatcher: d, batch: batch}, nil
}

// controlBatch resolves what pause and cancel need: the dispatcher and batch identity.
func (s *Service) controlBatch(ctx context.Context, campaign *domain.Campaign) (dispatch.Dispatcher, dispatch.Batch, error) {
	agent, err := s.directory.GetAgent(ctx, campaign.AgentID)
	if err != nil {
		return nil, dispatch.Batch{}, err
	}
	d, err := s.registry.For(agent.Provider)
	if err != nil {
		return nil, dispatch.Batch{}, err
	}
	integration, err := s.integration(ctx, campaign.WorkspaceID, agent.Provider)
	if err != nil {
		return nil, dispatch.Batch{}, err
	}
	return d, dispatch.Batch{Campaign: campaign, Agent: agent, APIKey: s.apiKey(agent.Provider, integration)}, nil
}

// launch moves a campaign to active. Vendor-paced batches are submitted first so the
// status flips only after the vendor accepted them. Local dispatchers flip first and the
// flip is reverted when the hand-off fails.
func (s *Service) launch(ctx context.Context, campaign *domain.Campaign, p plan, startNow bool) error {
	now := s.opts.Now()
	transition := repository.StatusTransition{
		ID:   campaign.ID,
		From: []domain.CampaignStatus{campaign.Status},
		To:   domain.CampaignStatusActive,
		At:   now,
	}

	batch := p.batch
	batch.StartNow = startNow
	batch.NotBefore = now

	if p.dispatcher.VendorPaced() {
		pending, err := s.recipients.ListPending(ctx, campaign.ID, s.opts.SubmitLimit)
		if err != nil {
			return fmt.Errorf("campaign service: load pending: %w", err)
		}
		batch.Recipients = pending
		if _, err := p.dispatcher.SubmitBatch(ctx, batch); err != nil {
			return err
		}
		return s.repo.TransitionStatus(ctx, transition)
	}

	if err := s.repo.TransitionStatus(ctx, transition); err != nil {
		return err
	}
	if _, err := p.dispatcher.SubmitBatch(ctx, batch); err != nil {
		revert := repository.StatusTransition{
			ID:   campaign.ID,
			From: []domain.CampaignStatus{domain.CampaignStatusActive},
			To:   campaign.Status,
			At:   s.opts.Now(),
		}
		if rerr := s.repo.TransitionStatus(ctx, revert); rerr != nil {
			s.opts.Logger.Error("campaign service: revert status after failed hand-off",
				zap.String("campaign_id", campaign.ID.String()), zap.Error(rerr))
		}
		return err
	}
	return nil
}

// schedule parks a campaign until its scheduled start. Vendor-paced batches are submitted
// now with the scheduled start as not-before.
func (s *Service) schedule(ctx context.Context, campaign *domain.Campaign, p plan) error {
	if p.dispatcher.VendorPaced() {
		pending, err := s.recipients.ListPending(ctx, campaign.ID, s.opts.SubmitLimit)
		if err != nil {
			return fmt.Errorf("campaign service: load pending: %w", err)
		}
		batch := p.batch
		batch.Recipients = pending
		batch.NotBefore = *campaign.ScheduledStartAt
		if _, err := p.dispatcher.SubmitBatch(ctx, batch); err != nil {
			return err
		}
	}
	return s.repo.TransitionStatus(ctx, repository.StatusTransition{
		ID:   campaign.ID,
		From: []domain.CampaignStatus{campaign.Status},
		To:   domain.CampaignStatusScheduled,
		At:   s.opts.Now(),
	})
}

// deferToWindow parks a locally dialed campaign in ready until the next calling window.
func (s *Service) deferToWindow(ctx context.Context, campaign *domain.Campaign, now time.Time) error {
	next := s.hours.NextWindowStart(campaign.BusinessHours, campaign.TimeZone, now)
	if next == nil {
		return fmt.Errorf("%w: outside business hours and no calling window in the next 7 days", apperrors.ErrPolicy)
	}
	start := next.UTC()

	if campaign.Status == domain.CampaignStatusDraft {
		if err := s.repo.TransitionStatus(ctx, repository.StatusTransition{
			ID:               campaign.ID,
			From:             []domain.CampaignStatus{domain.CampaignStatusDraft},
			To:               domain.CampaignStatusReady,
			At:               now,
			ScheduledStartAt: &start,
		}); err != nil {
			return err
		}
		campaign.ScheduledStartAt = &start
		return nil
	}

	// ready and scheduled keep their status and only move the start time
	campaign.ScheduledStartAt = &start
	campaign.UpdatedAt = now
	return s.repo.Update(ctx, campaign)
}

func (s *Service) integration(ctx context.Context, workspaceID uuid.UUID, provider domain.Provider) (*domain.Integration, error) {
	integration, err := s.directory.GetIntegration(ctx, workspaceID, provider)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("campaign service: load integration: %w", err)
	}
	return integration, nil
}

// resolveCaller walks agent number, the agent's phone-number record, the workspace
// integration defaults and finally the deployment defaults.
func (s *Service) resolveCaller(ctx context.Context, agent *domain.Agent, integration *domain.Integration) (dispatch.Caller, error) {
	var caller dispatch.Caller
	caller.Number = agent.OutboundNumber

	if agent.PhoneNumberID != nil {
		record, err := s.directory.GetPhoneNumber(ctx, *agent.PhoneNumberID)
		switch {
		case err == nil:
			caller.Number = firstNonEmpty(caller.Number, record.Number)
			caller.PhoneNumberID = record.VendorPhoneID
		case !apperrors.Is(err, apperrors.ErrNotFound):
			return dispatch.Caller{}, fmt.Errorf("campaign service: load phone number: %w", err)
		}
	}

	if integration != nil {
		caller.Number = firstNonEmpty(caller.Number, integration.DefaultCallerID)
		caller.PhoneNumberID = firstNonEmpty(caller.PhoneNumberID, integration.DefaultPhoneNumberID)
	}
	caller.Number = firstNonEmpty(caller.Number, s.opts.DefaultCallerID)
	caller.PhoneNumberID = firstNonEmpty(caller.PhoneNumberID, s.opts.DefaultPhoneNumberID)

	if caller.Number == "" && caller.PhoneNumberID == "" {
		return dispatch.Caller{}, fmt.Errorf("%w: No outbound phone number configured for the agent", apperrors.ErrPrecondition)
	}
	return caller, nil
}

func (s *Service) apiKey(provider domain.Provider, integration *domain.Integration) string {
	if integration != nil && integration.APIKey != "" {
		return integration.APIKey
	}
	return s.opts.APIKeys[provider]
}

func (s *Service) resolveConcurrency(value int) int {
	if value <= 0 {
		return s.opts.DefaultConcurrency
	}
	return value
}

func scheduledInFuture(c *domain.Campaign, now time.Time) bool {
	return c.ScheduleType == domain.ScheduleScheduled && c.ScheduledStartAt != nil && c.ScheduledStartAt.After(now)
}

// submitted reports whether a batch may already be with a vendor.
func submitted(status domain.CampaignStatus) bool {
	switch status {
	case domain.CampaignStatusScheduled, domain.CampaignStatusActive, domain.CampaignStatusPaused:
		return true
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func normalizeRetry(policy domain.RetryPolicy) domain.RetryPolicy {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.Delay <= 0 {
		policy.Delay = 5 * time.Minute
	}
	return policy
}

func validateCreateInput(input CreateCampaignInput) error {
	if input.WorkspaceID == uuid.Nil {
		return fmt.Errorf("%w: workspace id is required", apperrors.ErrValidation)
	}
	if input.AgentID == uuid.Nil {
		return fmt.Errorf("%w: agent id is required", apperrors.ErrValidation)
	}
	return validateCampaign(&domain.Campaign{
		Name:               strings.TrimSpace(input.Name),
		ScheduleType:       input.ScheduleType,
		ScheduledStartAt:   input.ScheduledStartAt,
		ScheduledExpiresAt: input.ScheduledExpiresAt,
		TimeZone:           input.TimeZone,
		BusinessHours:      input.BusinessHours,
	})
}

func validateCampaign(c *domain.Campaign) error {
	if c.Name == "" {
		return fmt.Errorf("%w: campaign name is required", apperrors.ErrValidation)
	}
	if c.TimeZone == "" {
		return fmt.Errorf("%w: time zone is required", apperrors.ErrValidation)
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("%w: invalid time zone %s: %v", apperrors.ErrValidation, c.TimeZone, err)
	}
	switch c.ScheduleType {
	case domain.ScheduleImmediate:
	case domain.ScheduleScheduled:
		if c.ScheduledStartAt == nil {
			return fmt.Errorf("%w: scheduled campaigns need a scheduled start", apperrors.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown schedule type %q", apperrors.ErrValidation, c.ScheduleType)
	}
	if c.ScheduledStartAt != nil && c.ScheduledExpiresAt != nil && !c.ScheduledExpiresAt.After(*c.ScheduledStartAt) {
		return fmt.Errorf("%w: expiry must be after the scheduled start", apperrors.ErrValidation)
	}
	if err := businesshours.Validate(c.BusinessHours, c.TimeZone); err != nil {
		return fmt.Errorf("%w: business hours: %v", apperrors.ErrValidation, err)
	}
	return nil
}
