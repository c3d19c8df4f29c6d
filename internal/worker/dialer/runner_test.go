package dialer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-campaign-core/internal/dispatch"
	"github.com/acme/voice-campaign-core/internal/dispatch/sequential"
	"github.com/acme/voice-campaign-core/internal/domain"
	"github.com/acme/voice-campaign-core/internal/queue"
	"github.com/acme/voice-campaign-core/internal/repository"
	"github.com/acme/voice-campaign-core/internal/repository/memory"
	"github.com/acme/voice-campaign-core/internal/telephony"
	"github.com/acme/voice-campaign-core/internal/telephony/mock"
	apperrors "github.com/acme/voice-campaign-core/pkg/errors"
)

type fakePlanner struct {
	campaign *domain.Campaign
	planErr  error
	statuses []domain.CampaignStatus
	gets     int
	closed   bool
}

func (f *fakePlanner) Get(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c := *f.campaign
	if f.gets < len(f.statuses) {
		c.Status = f.statuses[f.gets]
	}
	f.gets++
	return &c, nil
}

func (f *fakePlanner) DialPlan(_ context.Context, id uuid.UUID) (dispatch.Batch, error) {
	if f.planErr != nil {
		return dispatch.Batch{}, f.planErr
	}
	return dispatch.Batch{
		Campaign: f.campaign,
		Agent:    &domain.Agent{ExternalID: "assistant-1"},
		Caller:   dispatch.Caller{PhoneNumberID: "pn-1"},
		APIKey:   "key",
	}, nil
}

func (f *fakePlanner) WithinWindow(*domain.Campaign, time.Time) bool { return !f.closed }

type fakeSink struct {
	events []queue.RecipientStatusEvent
	err    error
}

func (f *fakeSink) PublishStatus(_ context.Context, evt queue.RecipientStatusEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, evt)
	return nil
}

type countingCalls struct {
	*mock.Provider
	mu      sync.Mutex
	dialled map[string]int
}

func (c *countingCalls) CreateCall(ctx context.Context, req telephony.CallRequest) (telephony.CallResult, error) {
	c.mu.Lock()
	c.dialled[req.CustomerNumber]++
	c.mu.Unlock()
	return c.Provider.CreateCall(ctx, req)
}

type fakeLocker struct {
	deny     bool
	unlocked bool
}

func (f *fakeLocker) Lock(context.Context, uuid.UUID) (func(), <-chan struct{}, bool, error) {
	if f.deny {
		return nil, nil, false, nil
	}
	return func() { f.unlocked = true }, make(chan struct{}), true, nil
}

type runnerHarness struct {
	runner *Runner
	store  *memory.Store
	sink   *fakeSink
	locker *fakeLocker
	calls  *countingCalls
	ids    []uuid.UUID
}

func newRunner(t *testing.T, planner *fakePlanner, n int) *runnerHarness {
	t.Helper()
	store := memory.New()
	if err := store.Campaigns().Create(context.Background(), planner.campaign); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	h := &runnerHarness{
		store:  store,
		sink:   &fakeSink{},
		locker: &fakeLocker{},
		calls:  &countingCalls{Provider: mock.NewProvider(), dialled: map[string]int{}},
	}
	created := time.Now().Add(-time.Hour)
	for i := 0; i < n; i++ {
		r := &domain.Recipient{
			ID:          uuid.New(),
			CampaignID:  planner.campaign.ID,
			PhoneNumber: fmt.Sprintf("+1650253%04d", i),
			Status:      domain.RecipientStatusPending,
			CreatedAt:   created.Add(time.Duration(i) * time.Second),
		}
		if err := store.Recipients().Insert(context.Background(), r); err != nil {
			t.Fatalf("seed recipient: %v", err)
		}
		h.ids = append(h.ids, r.ID)
	}
	opts := sequential.DefaultOptions()
	opts.Sleep = func(context.Context, time.Duration) error { return nil }
	dialer := sequential.NewDialer(h.calls, opts)
	h.runner = NewRunner(planner, store.Recipients(), h.sink, h.locker, dialer, 100, nil)
	return h
}

func (h *runnerHarness) recipient(t *testing.T, campaignID, id uuid.UUID) *domain.Recipient {
	t.Helper()
	r, err := h.store.Recipients().Get(context.Background(), campaignID, id)
	if err != nil {
		t.Fatalf("get recipient: %v", err)
	}
	return r
}

func activeCampaign() *domain.Campaign {
	return &domain.Campaign{ID: uuid.New(), Status: domain.CampaignStatusActive, TimeZone: "UTC"}
}

func TestHandlePublishesCallingEvents(t *testing.T) {
	planner := &fakePlanner{campaign: activeCampaign()}
	h := newRunner(t, planner, 3)
	runner, sink, locker := h.runner, h.sink, h.locker

	summary, err := runner.Handle(context.Background(), queue.DialJob{CampaignID: planner.campaign.ID, Reason: "start"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if summary.Succeeded != 3 || len(sink.events) != 3 {
		t.Fatalf("expected 3 placed calls, got %+v with %d events", summary, len(sink.events))
	}
	for _, evt := range sink.events {
		if evt.Status != domain.RecipientStatusCalling || evt.VendorCallID == "" || evt.Source != queue.SourceDialer {
			t.Fatalf("unexpected event %+v", evt)
		}
	}
	if !locker.unlocked {
		t.Fatalf("expected lease to be released")
	}
}

func TestHandleSkipsWhenLeaseHeldElsewhere(t *testing.T) {
	planner := &fakePlanner{campaign: activeCampaign()}
	h := newRunner(t, planner, 2)
	runner, sink := h.runner, h.sink
	h.locker.deny = true

	if _, err := runner.Handle(context.Background(), queue.DialJob{CampaignID: planner.campaign.ID}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(sink.events) != 0 {
		t.Fatalf("expected no calls, got %d events", len(sink.events))
	}
}

func TestHandleDropsCampaignThatIsNoLongerActive(t *testing.T) {
	planner := &fakePlanner{
		campaign: activeCampaign(),
		planErr:  fmt.Errorf("%w: campaign is paused", apperrors.ErrPrecondition),
	}
	h := newRunner(t, planner, 2)
	runner, sink := h.runner, h.sink

	if _, err := runner.Handle(context.Background(), queue.DialJob{CampaignID: planner.campaign.ID}); err != nil {
		t.Fatalf("expected precondition to be swallowed, got %v", err)
	}
	if len(sink.events) != 0 {
		t.Fatalf("expected no calls, got %d events", len(sink.events))
	}
}

func TestHandleStopsWhenCampaignPausedMidRun(t *testing.T) {
	planner := &fakePlanner{
		campaign: activeCampaign(),
		statuses: []domain.CampaignStatus{domain.CampaignStatusActive, domain.CampaignStatusPaused},
	}
	h := newRunner(t, planner, 3)
	runner, sink := h.runner, h.sink

	summary, err := runner.Handle(context.Background(), queue.DialJob{CampaignID: planner.campaign.ID})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !summary.Stopped || summary.Succeeded != 1 || summary.Skipped != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected one event, got %d", len(sink.events))
	}
}

func TestHandleLeavesRecipientsPendingOutsideWindow(t *testing.T) {
	planner := &fakePlanner{campaign: activeCampaign(), closed: true}
	h := newRunner(t, planner, 2)
	runner, sink := h.runner, h.sink

	summary, err := runner.Handle(context.Background(), queue.DialJob{CampaignID: planner.campaign.ID})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !summary.WindowClosed || summary.Skipped != 2 || len(sink.events) != 0 {
		t.Fatalf("unexpected summary %+v with %d events", summary, len(sink.events))
	}
}

func TestHandleNeverRedialsClaimedRecipients(t *testing.T) {
	planner := &fakePlanner{campaign: activeCampaign()}
	h := newRunner(t, planner, 2)
	job := queue.DialJob{CampaignID: planner.campaign.ID, Reason: "start"}

	if _, err := h.runner.Handle(context.Background(), job); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	// the status topic is lagging: nothing has applied the calling events yet
	second, err := h.runner.Handle(context.Background(), queue.DialJob{CampaignID: planner.campaign.ID, Reason: "sweep"})
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if second.Succeeded != 0 || len(second.Results) != 0 {
		t.Fatalf("second pass must find nothing pending, got %+v", second)
	}
	for number, n := range h.calls.dialled {
		if n != 1 {
			t.Fatalf("expected %s to be dialled once, got %d", number, n)
		}
	}
	if len(h.calls.dialled) != 2 {
		t.Fatalf("expected two numbers dialled, got %v", h.calls.dialled)
	}

	for _, id := range h.ids {
		r := h.recipient(t, planner.campaign.ID, id)
		if r.Status != domain.RecipientStatusCalling || r.Attempts != 1 || r.VendorCallID != "" {
			t.Fatalf("expected claimed recipient without call id, got %+v", r)
		}
	}
	got, err := h.store.Campaigns().Get(context.Background(), planner.campaign.ID)
	if err != nil {
		t.Fatalf("get campaign: %v", err)
	}
	if got.Counters.PendingCalls != 0 {
		t.Fatalf("claims must leave the pending counter, got %+v", got.Counters)
	}

	// the lagging events arrive and attach the vendor call ids
	for _, evt := range h.sink.events {
		change, err := h.store.Recipients().ApplyStatus(context.Background(), repository.RecipientStatusUpdate{
			CampaignID: evt.CampaignID, RecipientID: evt.RecipientID, Status: evt.Status,
			VendorCallID: evt.VendorCallID, At: evt.OccurredAt,
		})
		if err != nil || !change.Applied {
			t.Fatalf("expected call id to attach, got %+v %v", change, err)
		}
	}
	for _, id := range h.ids {
		if r := h.recipient(t, planner.campaign.ID, id); r.VendorCallID == "" || r.Attempts != 1 {
			t.Fatalf("expected attached call id, got %+v", r)
		}
	}
}

func TestHandleWritesOutcomeWhenStatusQueueIsDown(t *testing.T) {
	planner := &fakePlanner{campaign: activeCampaign()}
	h := newRunner(t, planner, 1)
	h.sink.err = errors.New("broker unavailable")

	summary, err := h.runner.Handle(context.Background(), queue.DialJob{CampaignID: planner.campaign.ID})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	r := h.recipient(t, planner.campaign.ID, h.ids[0])
	if r.Status != domain.RecipientStatusCalling || r.VendorCallID == "" {
		t.Fatalf("expected call id written straight to the store, got %+v", r)
	}
}
