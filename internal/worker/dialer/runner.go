// Package dialer runs sequential dialing passes for direct-dial campaigns.
package dialer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/voice-campaign-core/internal/dispatch"
	"github.com/acme/voice-campaign-core/internal/dispatch/sequential"
	"github.com/acme/voice-campaign-core/internal/domain"
	"github.com/acme/voice-campaign-core/internal/queue"
	"github.com/acme/voice-campaign-core/internal/repository"
	apperrors "github.com/acme/voice-campaign-core/pkg/errors"
)

// Planner resolves campaign state for a dialing pass.
type Planner interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	DialPlan(ctx context.Context, id uuid.UUID) (dispatch.Batch, error)
	WithinWindow(campaign *domain.Campaign, now time.Time) bool
}

// Recipients lists the recipients that still need a call and claims each one before it is
// dialed, so a later pass never sees it as pending again.
type Recipients interface {
	ListPending(ctx context.Context, campaignID uuid.UUID, limit int) ([]*domain.Recipient, error)
	ApplyStatus(ctx context.Context, update repository.RecipientStatusUpdate) (repository.StatusChange, error)
}

// StatusSink receives the recipient status events produced by a pass.
type StatusSink interface {
	PublishStatus(ctx context.Context, evt queue.RecipientStatusEvent) error
}

// Locker grants exclusive ownership of a campaign's dialing loop. lost is closed when
// ownership can no longer be guaranteed.
type Locker interface {
	Lock(ctx context.Context, campaignID uuid.UUID) (unlock func(), lost <-chan struct{}, ok bool, err error)
}

// Runner executes one dial job.
type Runner struct {
	planner    Planner
	recipients Recipients
	sink     StatusSink
	locker   Locker
	dialer   *sequential.Dialer
	maxBatch int
	logger   *zap.Logger
}

// NewRunner constructs a runner. maxBatch bounds the recipients loaded per pass.
func NewRunner(planner Planner, recipients Recipients, sink StatusSink, locker Locker, dialer *sequential.Dialer, maxBatch int, logger *zap.Logger) *Runner {
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		planner:    planner,
		recipients: recipients,
		sink:       sink,
		locker:     locker,
		dialer:     dialer,
		maxBatch:   maxBatch,
		logger:     logger,
	}
}

// Handle runs a dialing pass over the campaign named by job. Jobs for campaigns that are
// no longer dialable are dropped without error.
func (r *Runner) Handle(ctx context.Context, job queue.DialJob) (sequential.Summary, error) {
	log := r.logger.With(zap.String("campaign_id", job.CampaignID.String()), zap.String("reason", job.Reason))

	unlock, lost, ok, err := r.locker.Lock(ctx, job.CampaignID)
	if err != nil {
		return sequential.Summary{}, fmt.Errorf("dialer: lock campaign: %w", err)
	}
	if !ok {
		log.Info("dialer: campaign already owned by another worker")
		return sequential.Summary{}, nil
	}
	defer unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-lost:
			cancel()
		case <-runCtx.Done():
		}
	}()

	batch, err := r.planner.DialPlan(runCtx, job.CampaignID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrPrecondition) || apperrors.Is(err, apperrors.ErrNotFound) {
			log.Info("dialer: campaign not dialable", zap.String("reason", apperrors.Reason(err)))
			return sequential.Summary{}, nil
		}
		return sequential.Summary{}, err
	}

	pending, err := r.recipients.ListPending(runCtx, job.CampaignID, r.maxBatch)
	if err != nil {
		return sequential.Summary{}, fmt.Errorf("dialer: list pending: %w", err)
	}
	if len(pending) == 0 {
		return sequential.Summary{}, nil
	}

	campaign := batch.Campaign
	summary, err := r.dialer.Run(runCtx, sequential.RunInput{
		CampaignID:  job.CampaignID,
		Credentials: sequential.CredentialsFor(batch),
		Recipients:  pending,
		Window: func(now time.Time) bool {
			return r.planner.WithinWindow(campaign, now)
		},
		Stop: func(ctx context.Context) (bool, error) {
			current, err := r.planner.Get(ctx, job.CampaignID)
			if err != nil {
				return false, err
			}
			return current.Status != domain.CampaignStatusActive, nil
		},
		Claim: func(ctx context.Context, rc *domain.Recipient) (bool, error) {
			return r.claim(ctx, job.CampaignID, rc)
		},
		Recorder: &recorder{sink: r.sink, recipients: r.recipients, logger: log},
	})

	log.Info("dialer: pass finished",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Bool("stopped", summary.Stopped),
		zap.Bool("window_closed", summary.WindowClosed),
	)
	return summary, err
}

// claim moves a recipient from pending to calling. It fails when another pass already
// took the recipient or the recipient was removed.
func (r *Runner) claim(ctx context.Context, campaignID uuid.UUID, rc *domain.Recipient) (bool, error) {
	change, err := r.recipients.ApplyStatus(ctx, repository.RecipientStatusUpdate{
		CampaignID:  campaignID,
		RecipientID: rc.ID,
		Status:      domain.RecipientStatusCalling,
		At:          time.Now().UTC(),
	})
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return change.Applied, nil
}

// recorder turns dial results into recipient status events. Skipped recipients were never
// claimed and produce nothing. When the event cannot be queued the outcome is written to
// the store directly.
type recorder struct {
	sink       StatusSink
	recipients Recipients
	logger     *zap.Logger
}

func (rec *recorder) Record(ctx context.Context, campaignID uuid.UUID, res sequential.Result) error {
	evt := queue.RecipientStatusEvent{
		CampaignID:   campaignID,
		RecipientID:  res.RecipientID,
		PhoneNumber:  res.PhoneNumber,
		VendorCallID: res.VendorCallID,
		Provider:     domain.ProviderDirectDial,
		Attempt:      res.Attempts,
		Source:       queue.SourceDialer,
		OccurredAt:   time.Now().UTC(),
	}
	switch res.Outcome {
	case sequential.OutcomePlaced:
		evt.Status = domain.RecipientStatusCalling
	case sequential.OutcomeFailed:
		evt.Status = domain.RecipientStatusFailed
		evt.Error = res.Error
	default:
		return nil
	}

	pubErr := rec.sink.PublishStatus(ctx, evt)
	if pubErr == nil {
		return nil
	}
	rec.logger.Warn("dialer: status publish failed, writing outcome directly",
		zap.String("recipient_id", res.RecipientID.String()),
		zap.Error(pubErr),
	)
	if _, err := rec.recipients.ApplyStatus(ctx, repository.RecipientStatusUpdate{
		CampaignID:   campaignID,
		RecipientID:  res.RecipientID,
		Status:       evt.Status,
		VendorCallID: evt.VendorCallID,
		Error:        evt.Error,
		At:           evt.OccurredAt,
	}); err != nil {
		return fmt.Errorf("dialer: record %s: %w", evt.Status, errors.Join(pubErr, err))
	}
	return nil
}
