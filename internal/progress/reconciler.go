package progress

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SnapshotSource reads the current campaign state, the same read GET /campaigns/:id serves.
type SnapshotSource interface {
	Snapshot(ctx context.Context, campaignID uuid.UUID) (Snapshot, error)
}

// PushSource delivers a tick for every recipient status change of a campaign. The channel
// closes when the subscription ends.
type PushSource interface {
	Subscribe(ctx context.Context, campaignID uuid.UUID) (<-chan time.Time, error)
}

// Options configures a Reconciler.
type Options struct {
	PushTimeout  time.Duration
	PollInterval time.Duration
	RateWindow   time.Duration
	ForcePolling bool
	Now          func() time.Time
	Logger       *zap.Logger
}

// Reconciler streams progress for one campaign. The push listener and the poll loop run
// as separate goroutines and coordinate only through Health.
type Reconciler struct {
	campaignID uuid.UUID
	snapshots  SnapshotSource
	pushes     PushSource
	opts       Options

	health *Health
	window *RateWindow

	emitMu sync.Mutex
}

// NewReconciler constructs a reconciler for one campaign.
func NewReconciler(campaignID uuid.UUID, snapshots SnapshotSource, pushes PushSource, opts Options) *Reconciler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	health := NewHealth(opts.PushTimeout, opts.Now())
	health.SetForcePolling(opts.ForcePolling)

	return &Reconciler{
		campaignID: campaignID,
		snapshots:  snapshots,
		pushes:     pushes,
		opts:       opts,
		health:     health,
		window:     NewRateWindow(opts.RateWindow),
	}
}

// Health exposes the shared health state.
func (r *Reconciler) Health() *Health {
	return r.health
}

// Run emits an initial progress value, then one per push while pushes are healthy and one
// per poll tick while degraded. It returns when ctx is done.
func (r *Reconciler) Run(ctx context.Context, emit func(Progress)) error {
	log := r.opts.Logger.With(zap.String("campaign_id", r.campaignID.String()))

	if err := r.refresh(ctx, emit); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		r.listen(ctx, emit, log)
	}()

	go func() {
		defer wg.Done()
		r.poll(ctx, emit, log)
	}()

	wg.Wait()
	return nil
}

func (r *Reconciler) listen(ctx context.Context, emit func(Progress), log *zap.Logger) {
	if r.pushes == nil {
		return
	}
	events, err := r.pushes.Subscribe(ctx, r.campaignID)
	if err != nil {
		log.Warn("progress: push subscription failed, relying on polling", zap.Error(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				log.Warn("progress: push channel closed")
				return
			}
			// timed on arrival; the change's own timestamp may be old
			if r.health.ObservePush(r.opts.Now()) != ModePushHealthy {
				// forced polling: the poll loop owns refreshes
				continue
			}
			if err := r.refresh(ctx, emit); err != nil && ctx.Err() == nil {
				log.Warn("progress: refresh after push failed", zap.Error(err))
			}
		}
	}
}

func (r *Reconciler) poll(ctx context.Context, emit func(Progress), log *zap.Logger) {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.health.Evaluate(r.opts.Now()) != ModeDegradedPolling {
				continue
			}
			if err := r.refresh(ctx, emit); err != nil && ctx.Err() == nil {
				log.Warn("progress: poll failed", zap.Error(err))
			}
		}
	}
}

func (r *Reconciler) refresh(ctx context.Context, emit func(Progress)) error {
	snap, err := r.snapshots.Snapshot(ctx, r.campaignID)
	if err != nil {
		return err
	}
	if snap.At.IsZero() {
		snap.At = r.opts.Now()
	}

	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	emit(Compute(snap, r.window, r.health.Mode()))
	return nil
}
