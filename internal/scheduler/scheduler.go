// Package scheduler runs the periodic campaign sweeps: starting due campaigns, expiring
// and purging drafts, completing drained campaigns, re-dialing idle direct-dial campaigns
// and reconciling calls whose final status never arrived.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/voice-campaign-core/internal/app"
	"github.com/acme/voice-campaign-core/internal/dispatch"
	"github.com/acme/voice-campaign-core/internal/domain"
	"github.com/acme/voice-campaign-core/internal/queue"
	"github.com/acme/voice-campaign-core/internal/repository"
	"github.com/acme/voice-campaign-core/internal/service/concurrency"
	"github.com/acme/voice-campaign-core/internal/telephony"
	apperrors "github.com/acme/voice-campaign-core/pkg/errors"
)

// CampaignOps is the slice of the campaign service the sweeps drive.
type CampaignOps interface {
	Activate(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	Complete(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	DialPlan(ctx context.Context, id uuid.UUID) (dispatch.Batch, error)
	VendorBatch(ctx context.Context, id uuid.UUID) (dispatch.Batch, error)
	WithinWindow(campaign *domain.Campaign, now time.Time) bool
}

// JobQueue hands campaigns to the dialer workers.
type JobQueue interface {
	EnqueueDial(ctx context.Context, campaignID uuid.UUID, reason string) error
}

// StatusSink publishes reconciled recipient statuses.
type StatusSink interface {
	PublishStatus(ctx context.Context, evt queue.RecipientStatusEvent) error
}

// CallLookup reads the vendor's view of a call.
type CallLookup interface {
	GetCall(ctx context.Context, apiKey, callID string) (telephony.CallResult, error)
}

// LeaseChecker reports whether a named lease is held.
type LeaseChecker interface {
	Held(ctx context.Context, name string) (bool, error)
}

// Elector decides whether this instance runs the current tick.
type Elector interface {
	Elect(ctx context.Context) (release func(), ok bool, err error)
}

// Deps are the collaborators of a scheduler.
type Deps struct {
	Campaigns  repository.CampaignRepository
	Recipients repository.RecipientRepository
	Ops        CampaignOps
	Jobs       JobQueue
	Statuses   StatusSink
	Calls      CallLookup
	Dialers    LeaseChecker
	Elector    Elector
	Logger     *zap.Logger
}

// Options tunes the sweeps.
type Options struct {
	Interval       time.Duration
	BatchSize      int
	AbandonedAfter time.Duration
	StuckCallAge   time.Duration
	Now            func() time.Time
}

// SweepSummary reports one sweep of one tick.
type SweepSummary struct {
	Name      string
	Processed int
	Failed    int
	Errors    []string
}

func (s *SweepSummary) fail(id uuid.UUID, err error) {
	s.Failed++
	s.Errors = append(s.Errors, fmt.Sprintf("%s: %v", id, err))
}

// Scheduler periodically advances campaigns whose state depends on the clock.
type Scheduler struct {
	deps Deps
	opts Options
}

// NewScheduler constructs a scheduler.
func NewScheduler(deps Deps, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.AbandonedAfter <= 0 {
		opts.AbandonedAfter = 24 * time.Hour
	}
	if opts.StuckCallAge <= 0 {
		opts.StuckCallAge = 15 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Scheduler{deps: deps, opts: opts}
}

// New creates a scheduler wired to the container's stores, queues and leases.
func New(container *app.Container) *Scheduler {
	cfg := container.Config
	repos := container.Repositories()
	publishers := container.Publishers()
	logger := container.Logger.Logger.Named("scheduler")
	return NewScheduler(Deps{
		Campaigns:  repos.Campaigns,
		Recipients: repos.Recipients,
		Ops:        container.Services().Campaign,
		Jobs:       publishers.Dial,
		Statuses:   publishers.Status,
		Calls:      container.Telephony(),
		Dialers:    container.Leases(),
		Elector:    NewLeaseElector(container.Leases(), cfg.Scheduler.LeaderLockTTL, logger),
		Logger:     logger,
	}, Options{
		Interval:       cfg.Scheduler.TickInterval,
		BatchSize:      cfg.Scheduler.MaxBatchSize,
		AbandonedAfter: cfg.Scheduler.AbandonedAfter,
		StuckCallAge:   cfg.Scheduler.StuckCallAge,
	})
}

// Run executes the scheduling loop until cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.deps.Logger.Error("scheduler tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs every sweep once if this instance wins the election. A failing sweep does not
// stop the others.
func (s *Scheduler) Tick(ctx context.Context) ([]SweepSummary, error) {
	if s.deps.Elector != nil {
		release, ok, err := s.deps.Elector.Elect(ctx)
		if err != nil {
			return nil, fmt.Errorf("scheduler: elect leader: %w", err)
		}
		if !ok {
			s.deps.Logger.Debug("scheduler: another instance is leading")
			return nil, nil
		}
		defer release()
	}

	tracer := otel.Tracer("campaign.scheduler")
	sctx, span := tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	now := s.opts.Now()
	sweeps := []struct {
		name string
		run  func(context.Context, time.Time, *SweepSummary) error
	}{
		{"expire", s.expireDrafts},
		{"purge", s.purgeAbandoned},
		{"complete", s.completeAndRedial},
		{"resync", s.resyncStuckCalls},
		// last, so campaigns started here are not re-enqueued by the completion sweep
		{"activate", s.activateDue},
	}

	summaries := make([]SweepSummary, 0, len(sweeps))
	var errs []error
	for _, sw := range sweeps {
		wctx, wspan := tracer.Start(sctx, "scheduler."+sw.name)
		summary := SweepSummary{Name: sw.name}
		if err := sw.run(wctx, now, &summary); err != nil {
			wspan.RecordError(err)
			errs = append(errs, fmt.Errorf("%s: %w", sw.name, err))
		}
		wspan.SetAttributes(
			attribute.Int("sweep.processed", summary.Processed),
			attribute.Int("sweep.failed", summary.Failed),
		)
		wspan.End()

		if summary.Processed > 0 || summary.Failed > 0 {
			s.deps.Logger.Info("scheduler: sweep finished",
				zap.String("sweep", sw.name),
				zap.Int("processed", summary.Processed),
				zap.Int("failed", summary.Failed),
			)
		}
		summaries = append(summaries, summary)
	}
	return summaries, errors.Join(errs...)
}

func (s *Scheduler) activateDue(ctx context.Context, now time.Time, sum *SweepSummary) error {
	due, err := s.deps.Campaigns.ListDue(ctx, now, s.opts.BatchSize)
	if err != nil {
		return err
	}
	for _, c := range due {
		if _, err := s.deps.Ops.Activate(ctx, c.ID); err != nil {
			s.deps.Logger.Warn("scheduler: activate failed", zap.String("campaign_id", c.ID.String()), zap.Error(err))
			sum.fail(c.ID, err)
			continue
		}
		sum.Processed++
	}
	return nil
}

func (s *Scheduler) expireDrafts(ctx context.Context, now time.Time, sum *SweepSummary) error {
	expired, err := s.deps.Campaigns.ListExpiredDrafts(ctx, now, s.opts.BatchSize)
	if err != nil {
		return err
	}
	for _, c := range expired {
		if _, err := s.deps.Ops.Cancel(ctx, c.ID); err != nil {
			sum.fail(c.ID, err)
			continue
		}
		sum.Processed++
	}
	return nil
}

func (s *Scheduler) purgeAbandoned(ctx context.Context, now time.Time, sum *SweepSummary) error {
	abandoned, err := s.deps.Campaigns.ListAbandonedDrafts(ctx, now.Add(-s.opts.AbandonedAfter), s.opts.BatchSize)
	if err != nil {
		return err
	}
	for _, c := range abandoned {
		if err := s.deps.Campaigns.SoftDelete(ctx, c.ID, now); err != nil {
			sum.fail(c.ID, err)
			continue
		}
		sum.Processed++
	}
	return nil
}

// completeAndRedial completes drained active campaigns and re-enqueues direct-dial
// campaigns that still have pending recipients but no dialer working on them.
func (s *Scheduler) completeAndRedial(ctx context.Context, now time.Time, sum *SweepSummary) error {
	active, err := s.deps.Campaigns.ListByStatus(ctx, []domain.CampaignStatus{domain.CampaignStatusActive}, s.opts.BatchSize)
	if err != nil {
		return err
	}
	for _, c := range active {
		_, err := s.deps.Ops.Complete(ctx, c.ID)
		if err == nil {
			sum.Processed++
			continue
		}
		if !apperrors.Is(err, apperrors.ErrPrecondition) {
			sum.fail(c.ID, err)
			continue
		}

		redialed, err := s.redial(ctx, c, now)
		if err != nil {
			sum.fail(c.ID, err)
			continue
		}
		if redialed {
			sum.Processed++
		}
	}
	return nil
}

func (s *Scheduler) redial(ctx context.Context, c *domain.Campaign, now time.Time) (bool, error) {
	if s.deps.Jobs == nil {
		return false, nil
	}
	batch, err := s.deps.Ops.DialPlan(ctx, c.ID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrPrecondition) {
			return false, nil
		}
		return false, err
	}
	if batch.Agent == nil || batch.Agent.Provider != domain.ProviderDirectDial {
		return false, nil
	}
	if !s.deps.Ops.WithinWindow(c, now) {
		return false, nil
	}
	if s.deps.Dialers != nil {
		busy, err := s.deps.Dialers.Held(ctx, concurrency.CampaignDialer(c.ID))
		if err != nil {
			return false, err
		}
		if busy {
			return false, nil
		}
	}
	if err := s.deps.Jobs.EnqueueDial(ctx, c.ID, "sweep"); err != nil {
		return false, err
	}
	return true, nil
}

// resyncStuckCalls asks the direct-dial vendor about calls that have been in flight for
// too long and publishes their final status. Claims that never received a call id are
// failed.
func (s *Scheduler) resyncStuckCalls(ctx context.Context, now time.Time, sum *SweepSummary) error {
	if s.deps.Calls == nil || s.deps.Statuses == nil {
		return nil
	}
	stuck, err := s.deps.Recipients.ListStuckCalling(ctx, now.Add(-s.opts.StuckCallAge), s.opts.BatchSize)
	if err != nil {
		return err
	}

	batches := make(map[uuid.UUID]*dispatch.Batch)
	for _, r := range stuck {
		batch, ok := batches[r.CampaignID]
		if !ok {
			b, err := s.deps.Ops.VendorBatch(ctx, r.CampaignID)
			if err != nil {
				sum.fail(r.ID, err)
				batches[r.CampaignID] = nil
				continue
			}
			batch = &b
			batches[r.CampaignID] = batch
		}
		if batch == nil || batch.Agent == nil || batch.Agent.Provider != domain.ProviderDirectDial {
			continue
		}

		evt, final, err := s.resolveCall(ctx, batch.APIKey, r)
		if err != nil {
			sum.fail(r.ID, err)
			continue
		}
		if !final {
			continue
		}
		if err := s.deps.Statuses.PublishStatus(ctx, evt); err != nil {
			sum.fail(r.ID, err)
			continue
		}
		sum.Processed++
	}
	return nil
}

func (s *Scheduler) resolveCall(ctx context.Context, apiKey string, r *domain.Recipient) (queue.RecipientStatusEvent, bool, error) {
	evt := queue.RecipientStatusEvent{
		CampaignID:   r.CampaignID,
		RecipientID:  r.ID,
		PhoneNumber:  r.PhoneNumber,
		VendorCallID: r.VendorCallID,
		Provider:     domain.ProviderDirectDial,
		Attempt:      r.Attempts,
		Source:       queue.SourceResync,
		OccurredAt:   s.opts.Now(),
	}

	if r.VendorCallID == "" {
		evt.Status = domain.RecipientStatusFailed
		evt.Error = "call was claimed but never placed"
		return evt, true, nil
	}

	call, err := s.deps.Calls.GetCall(ctx, apiKey, r.VendorCallID)
	if err != nil {
		var vendorErr *telephony.VendorError
		if errors.As(err, &vendorErr) && vendorErr.StatusCode == 404 {
			evt.Status = domain.RecipientStatusFailed
			evt.Error = "call not found at vendor"
			return evt, true, nil
		}
		return evt, false, err
	}
	if !call.Ended() {
		return evt, false, nil
	}

	connected, answered := call.Outcome()
	if !connected {
		evt.Status = domain.RecipientStatusFailed
		evt.Error = call.EndedReason
		return evt, true, nil
	}
	evt.Status = domain.RecipientStatusCompleted
	evt.Successful = answered
	return evt, true, nil
}

// LeaseElector elects the holder of the scheduler leader lease.
type LeaseElector struct {
	leases *concurrency.Leases
	ttl    time.Duration
	logger *zap.Logger
}

// NewLeaseElector constructs a Redis lease elector.
func NewLeaseElector(leases *concurrency.Leases, ttl time.Duration, logger *zap.Logger) *LeaseElector {
	if ttl <= 0 {
		ttl = 55 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LeaseElector{leases: leases, ttl: ttl, logger: logger}
}

// Elect implements Elector.
func (e *LeaseElector) Elect(ctx context.Context) (func(), bool, error) {
	lease, ok, err := e.leases.Acquire(ctx, concurrency.SchedulerLeader, e.ttl)
	if err != nil || !ok {
		return nil, ok, err
	}
	return func() {
		if err := lease.Release(context.Background()); err != nil {
			e.logger.Warn("scheduler: release leader lease", zap.Error(err))
		}
	}, true, nil
}
