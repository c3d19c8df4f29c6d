package progress

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-campaign-core/internal/domain"
)

func TestHealthTransitions(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	h := NewHealth(30*time.Second, start)

	if got := h.Evaluate(start.Add(30 * time.Second)); got != ModePushHealthy {
		t.Fatalf("expected push-healthy at exactly the timeout, got %s", got)
	}
	if got := h.Evaluate(start.Add(31 * time.Second)); got != ModeDegradedPolling {
		t.Fatalf("expected degraded after timeout, got %s", got)
	}
	if got := h.ObservePush(start.Add(40 * time.Second)); got != ModePushHealthy {
		t.Fatalf("expected push to restore push-healthy, got %s", got)
	}
	if got := h.Evaluate(start.Add(60 * time.Second)); got != ModePushHealthy {
		t.Fatalf("expected timeout to be measured from last push, got %s", got)
	}
}

func TestHealthForcedPollingIgnoresPushes(t *testing.T) {
	start := time.Now()
	h := NewHealth(30*time.Second, start)
	h.SetForcePolling(true)

	if got := h.ObservePush(start.Add(time.Second)); got != ModeDegradedPolling {
		t.Fatalf("forced polling must survive a push, got %s", got)
	}

	h.SetForcePolling(false)
	if got := h.ObservePush(start.Add(2 * time.Second)); got != ModePushHealthy {
		t.Fatalf("expected push-healthy once forcing is lifted, got %s", got)
	}
}

func TestRateWindowRateAndETA(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	w := NewRateWindow(time.Minute)
	w.Add(t0, 10)
	w.Add(t0.Add(30*time.Second), 25)
	w.Add(t0.Add(60*time.Second), 40)

	if got := w.CallsPerMinute(); math.Abs(got-30) > 0.001 {
		t.Fatalf("expected 30 calls/min, got %f", got)
	}
	eta, ok := w.EstimatedSecondsRemaining(60)
	if !ok || math.Abs(eta-120) > 0.001 {
		t.Fatalf("expected 120s ETA, got %f (ok=%v)", eta, ok)
	}
}

func TestRateWindowDropsOldSamples(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	w := NewRateWindow(time.Minute)
	w.Add(t0, 0)
	w.Add(t0.Add(90*time.Second), 30)
	w.Add(t0.Add(120*time.Second), 45)

	samples := w.Samples()
	if len(samples) != 2 || samples[0].Completed != 30 {
		t.Fatalf("expected the first sample to be trimmed, got %+v", samples)
	}
	if got := w.CallsPerMinute(); math.Abs(got-30) > 0.001 {
		t.Fatalf("expected 30 calls/min, got %f", got)
	}
}

func TestRateWindowWithoutProgress(t *testing.T) {
	w := NewRateWindow(time.Minute)
	w.Add(time.Now(), 5)
	if w.CallsPerMinute() != 0 {
		t.Fatalf("single sample must not produce a rate")
	}
	if _, ok := w.EstimatedSecondsRemaining(10); ok {
		t.Fatalf("ETA must be unknown without a rate")
	}
}

func TestCompute(t *testing.T) {
	snap := Snapshot{
		CampaignID: uuid.New(),
		Status:     domain.CampaignStatusActive,
		Counters: domain.CampaignCounters{
			TotalRecipients: 100,
			PendingCalls:    60,
			CompletedCalls:  30,
			SuccessfulCalls: 24,
			FailedCalls:     10,
		},
		At: time.Now(),
	}

	p := Compute(snap, nil, ModePushHealthy)
	if math.Abs(p.Percent-40) > 0.001 {
		t.Fatalf("expected 40%%, got %f", p.Percent)
	}
	if math.Abs(p.SuccessRate-60) > 0.001 {
		t.Fatalf("expected 60%% success rate, got %f", p.SuccessRate)
	}
	if p.ETASeconds != nil {
		t.Fatalf("expected no ETA without a window")
	}

	empty := Compute(Snapshot{At: time.Now()}, NewRateWindow(0), ModeDegradedPolling)
	if empty.Percent != 0 || empty.SuccessRate != 0 {
		t.Fatalf("expected zero metrics for an empty campaign, got %+v", empty)
	}
}

type fakeSnapshots struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSnapshots) Snapshot(_ context.Context, id uuid.UUID) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return Snapshot{
		CampaignID: id,
		Status:     domain.CampaignStatusActive,
		Counters:   domain.CampaignCounters{TotalRecipients: 10, CompletedCalls: int64(f.calls)},
	}, nil
}

type fakePushes struct {
	ch chan time.Time
}

func (f *fakePushes) Subscribe(context.Context, uuid.UUID) (<-chan time.Time, error) {
	return f.ch, nil
}

func collect(ctx context.Context, r *Reconciler) <-chan Progress {
	out := make(chan Progress, 64)
	go func() {
		_ = r.Run(ctx, func(p Progress) {
			select {
			case out <- p:
			default:
			}
		})
	}()
	return out
}

func waitFor(t *testing.T, ch <-chan Progress, want Mode) Progress {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case p := <-ch:
			if p.Mode == want {
				return p
			}
		case <-deadline:
			t.Fatalf("timed out waiting for mode %s", want)
		}
	}
}

func TestReconcilerFallsBackToPollingAndRecovers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pushes := &fakePushes{ch: make(chan time.Time, 4)}
	r := NewReconciler(uuid.New(), &fakeSnapshots{}, pushes, Options{
		PushTimeout:  40 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	})
	out := collect(ctx, r)

	waitFor(t, out, ModePushHealthy)
	waitFor(t, out, ModeDegradedPolling)

	pushes.ch <- time.Now()
	waitFor(t, out, ModePushHealthy)
}

func TestReconcilerRecoversOnLateTimestampedPush(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pushes := &fakePushes{ch: make(chan time.Time, 4)}
	r := NewReconciler(uuid.New(), &fakeSnapshots{}, pushes, Options{
		PushTimeout:  40 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	})
	out := collect(ctx, r)

	waitFor(t, out, ModeDegradedPolling)
	pushes.ch <- time.Now().Add(-time.Hour)
	waitFor(t, out, ModePushHealthy)

	if age := time.Since(r.Health().LastPush()); age > time.Minute {
		t.Fatalf("push must be timed on arrival, last push is %s old", age)
	}
}

func TestReconcilerForcedPolling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pushes := &fakePushes{ch: make(chan time.Time, 4)}
	r := NewReconciler(uuid.New(), &fakeSnapshots{}, pushes, Options{
		PushTimeout:  time.Hour,
		PollInterval: 10 * time.Millisecond,
		ForcePolling: true,
	})
	out := collect(ctx, r)

	first := waitFor(t, out, ModeDegradedPolling)
	pushes.ch <- time.Now()
	second := waitFor(t, out, ModeDegradedPolling)
	if second.Completed <= first.Completed {
		t.Fatalf("expected polling to keep refreshing, got %d then %d", first.Completed, second.Completed)
	}
	if r.Health().Mode() != ModeDegradedPolling {
		t.Fatalf("forced polling must not be lifted by a push")
	}
}
