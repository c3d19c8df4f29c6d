// Package status applies recipient status events to the campaign store.
package status

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/voice-campaign-core/internal/app"
	"github.com/acme/voice-campaign-core/internal/queue"
	"github.com/acme/voice-campaign-core/internal/repository"
	"github.com/acme/voice-campaign-core/internal/service/recipient"
	apperrors "github.com/acme/voice-campaign-core/pkg/errors"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Applier moves a recipient forward.
type Applier interface {
	ApplyStatus(ctx context.Context, report recipient.StatusReport) (repository.StatusChange, error)
}

// Worker consumes recipient status events and applies them.
type Worker struct {
	container *app.Container
	applier   Applier
	logger    *zap.Logger
}

// New creates a new status worker.
func New(container *app.Container) *Worker {
	return &Worker{
		container: container,
		applier:   container.Services().Recipient,
		logger:    container.Logger.Logger,
	}
}

// Run processes status events until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	cfg := w.container.Config
	reader := w.container.Kafka.NewReader(cfg.Kafka.StatusTopic, cfg.Kafka.StatusGroupID)
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("status worker: fetch", zap.Error(err))
			continue
		}

		var evt queue.RecipientStatusEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			w.logger.Error("status worker: unmarshal", zap.Error(err))
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		// the offset only moves once the event is applied or dropped as unappliable
		if err := applyUntilDone(ctx, w.applier, evt, w.logger, sleepContext); err != nil {
			return err
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			w.logger.Error("status worker: commit", zap.Error(err))
		}
	}
}

// applyUntilDone retries transient failures with capped exponential backoff. It returns
// nil once the event was applied or dropped, and an error only when ctx is done.
func applyUntilDone(ctx context.Context, applier Applier, evt queue.RecipientStatusEvent, logger *zap.Logger, sleep func(context.Context, time.Duration) error) error {
	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		err := Apply(ctx, applier, evt, logger)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("status worker: retrying event",
			zap.String("recipient_id", evt.RecipientID.String()),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
		)
		if err := sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Apply applies one event under a trace span. Events for recipients or campaigns that no
// longer exist are dropped; only failures worth redelivering are returned.
func Apply(ctx context.Context, applier Applier, evt queue.RecipientStatusEvent, logger *zap.Logger) error {
	tracer := otel.Tracer("campaign.statusworker")
	sctx, span := tracer.Start(ctx, "recipient.status", trace.WithAttributes(
		attribute.String("campaign.id", evt.CampaignID.String()),
		attribute.String("recipient.id", evt.RecipientID.String()),
		attribute.String("recipient.status", string(evt.Status)),
		attribute.String("event.source", evt.Source),
	))
	defer span.End()

	change, err := applier.ApplyStatus(sctx, ReportFrom(evt))
	if err != nil {
		span.RecordError(err)
		if apperrors.Is(err, apperrors.ErrNotFound) || apperrors.Is(err, apperrors.ErrValidation) {
			logger.Warn("status worker: dropping event", zap.String("recipient_id", evt.RecipientID.String()), zap.Error(err))
			return nil
		}
		logger.Error("status worker: apply", zap.String("recipient_id", evt.RecipientID.String()), zap.Error(err))
		return err
	}
	span.SetAttributes(attribute.Bool("status.applied", change.Applied))
	return nil
}

// ReportFrom converts a queued event into a service status report.
func ReportFrom(evt queue.RecipientStatusEvent) recipient.StatusReport {
	return recipient.StatusReport{
		CampaignID:   evt.CampaignID,
		RecipientID:  evt.RecipientID,
		PhoneNumber:  evt.PhoneNumber,
		Status:       evt.Status,
		Successful:   evt.Successful,
		VendorCallID: evt.VendorCallID,
		Error:        evt.Error,
		Provider:     evt.Provider,
		Attempt:      evt.Attempt,
		At:           evt.OccurredAt,
	}
}
