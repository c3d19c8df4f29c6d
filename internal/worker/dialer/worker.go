package dialer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/voice-campaign-core/internal/app"
	"github.com/acme/voice-campaign-core/internal/queue"
	"github.com/acme/voice-campaign-core/internal/service/concurrency"
)

// Worker consumes dial jobs and runs them one at a time.
type Worker struct {
	container *app.Container
	runner    *Runner
}

// New creates a dialer worker from the container.
func New(container *app.Container) *Worker {
	services := container.Services()
	repos := container.Repositories()
	cfg := container.Config

	runner := NewRunner(
		services.Campaign,
		repos.Recipients,
		container.Publishers().Status,
		NewLeaseLocker(container.Leases(), cfg.Scheduler.DialerLeaseTTL),
		container.Dialer(),
		cfg.Scheduler.MaxBatchSize*10,
		container.Logger.Logger,
	)
	return &Worker{container: container, runner: runner}
}

// Run consumes the dial topic until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	cfg := w.container.Config
	logger := w.container.Logger
	reader := w.container.Kafka.NewReader(cfg.Kafka.DialTopic, cfg.Kafka.DialerGroupID)
	defer reader.Close()

	logger.Info("dialer worker: consuming", zap.String("topic", cfg.Kafka.DialTopic), zap.String("group", cfg.Kafka.DialerGroupID))
	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("dialer worker: fetch message", zap.Error(err))
			continue
		}

		if err := w.processMessage(ctx, reader, m); err != nil {
			logger.Error("dialer worker: process", zap.Error(err))
		}
	}
}

func (w *Worker) processMessage(ctx context.Context, reader *kafka.Reader, m kafka.Message) error {
	var job queue.DialJob
	if err := json.Unmarshal(m.Value, &job); err != nil {
		_ = reader.CommitMessages(ctx, m)
		return fmt.Errorf("unmarshal dial job: %w", err)
	}

	tracer := otel.Tracer("campaign.dialer")
	sctx, span := tracer.Start(ctx, "campaign.dial", trace.WithAttributes(
		attribute.String("campaign.id", job.CampaignID.String()),
		attribute.String("dial.reason", job.Reason),
	))
	defer span.End()

	summary, err := w.runner.Handle(sctx, job)
	span.SetAttributes(
		attribute.Int("dial.succeeded", summary.Succeeded),
		attribute.Int("dial.failed", summary.Failed),
		attribute.Int("dial.skipped", summary.Skipped),
	)
	if err != nil {
		span.RecordError(err)
		if ctx.Err() != nil {
			// leave uncommitted so the pass resumes after restart
			return err
		}
		w.container.Logger.WithContext(sctx).Error("dialer worker: pass failed", zap.String("campaign_id", job.CampaignID.String()), zap.Error(err))
	}

	if err := reader.CommitMessages(sctx, m); err != nil {
		span.RecordError(err)
		return fmt.Errorf("commit message: %w", err)
	}
	return nil
}

// LeaseLocker backs Locker with Redis leases.
type LeaseLocker struct {
	leases *concurrency.Leases
	ttl    time.Duration
}

// NewLeaseLocker constructs a lease-backed locker.
func NewLeaseLocker(leases *concurrency.Leases, ttl time.Duration) *LeaseLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &LeaseLocker{leases: leases, ttl: ttl}
}

// Lock implements Locker.
func (l *LeaseLocker) Lock(ctx context.Context, campaignID uuid.UUID) (func(), <-chan struct{}, bool, error) {
	lease, ok, err := l.leases.Acquire(ctx, concurrency.CampaignDialer(campaignID), l.ttl)
	if err != nil || !ok {
		return nil, nil, ok, err
	}
	keepCtx, stop := context.WithCancel(ctx)
	lost := lease.KeepAlive(keepCtx)
	unlock := func() {
		stop()
		_ = lease.Release(context.Background())
	}
	return unlock, lost, true, nil
}
