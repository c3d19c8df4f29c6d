package campaign

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-campaign-core/internal/businesshours"
	"github.com/acme/voice-campaign-core/internal/dispatch"
	"github.com/acme/voice-campaign-core/internal/dispatch/sequential"
	"github.com/acme/voice-campaign-core/internal/domain"
	"github.com/acme/voice-campaign-core/internal/repository"
	"github.com/acme/voice-campaign-core/internal/repository/memory"
	"github.com/acme/voice-campaign-core/internal/service/recipient"
	apperrors "github.com/acme/voice-campaign-core/pkg/errors"
)

type fakeJobs struct {
	enqueued []uuid.UUID
	err      error
}

func (f *fakeJobs) EnqueueDial(_ context.Context, id uuid.UUID, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, id)
	return nil
}

type fakeRelay struct {
	submitted []dispatch.Batch
	paused    int
	cancelled int
	submitErr error
	cancelErr error
}

func (f *fakeRelay) Provider() domain.Provider               { return domain.ProviderRelay }
func (f *fakeRelay) PauseGuarantee() dispatch.PauseGuarantee { return dispatch.PauseHard }
func (f *fakeRelay) VendorPaced() bool                       { return true }

func (f *fakeRelay) Validate(b dispatch.Batch) error {
	if b.Caller.Number == "" {
		return errors.New("precondition failed: no caller")
	}
	return nil
}

func (f *fakeRelay) SubmitBatch(_ context.Context, b dispatch.Batch) (dispatch.Submission, error) {
	if f.submitErr != nil {
		return dispatch.Submission{}, f.submitErr
	}
	f.submitted = append(f.submitted, b)
	return dispatch.Submission{Reference: b.Reference(), Accepted: len(b.Recipients), NotBefore: b.NotBefore}, nil
}

func (f *fakeRelay) PauseBatch(context.Context, dispatch.Batch) error {
	f.paused++
	return nil
}

func (f *fakeRelay) CancelBatch(context.Context, dispatch.Batch) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled++
	return nil
}

type fixture struct {
	store      *memory.Store
	service    *Service
	recipients *recipient.Service
	jobs       *fakeJobs
	relay      *fakeRelay
	workspace  uuid.UUID
	dialAgent  *domain.Agent
	relayAgent *domain.Agent
	now        time.Time
}

// 2024-03-04 is a Monday.
var mondayEvening = time.Date(2024, 3, 4, 20, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()

	store := memory.New()
	workspace := uuid.New()
	phoneRecord := &domain.PhoneNumber{ID: uuid.New(), WorkspaceID: workspace, Number: "+16502530100", VendorPhoneID: "vendor-phone-1"}
	store.PutPhoneNumber(phoneRecord)

	dialAgent := &domain.Agent{
		ID: uuid.New(), WorkspaceID: workspace, Name: "dialer", Provider: domain.ProviderDirectDial,
		ExternalID: "assistant-1", PhoneNumberID: &phoneRecord.ID, IsActive: true,
	}
	relayAgent := &domain.Agent{
		ID: uuid.New(), WorkspaceID: workspace, Name: "relay", Provider: domain.ProviderRelay,
		ExternalID: "relay-agent-1", OutboundNumber: "+16502530200", IsActive: true,
	}
	store.PutAgent(dialAgent)
	store.PutAgent(relayAgent)
	store.PutIntegration(&domain.Integration{WorkspaceID: workspace, Provider: domain.ProviderDirectDial, APIKey: "dd-key"})

	jobs := &fakeJobs{}
	relay := &fakeRelay{}
	clock := func() time.Time { return now }

	svc := NewService(
		store.Campaigns(),
		store.Recipients(),
		store.Directory(),
		dispatch.NewRegistry(sequential.NewDispatcher(jobs), relay),
		businesshours.NewEvaluator(false, nil),
		Options{Now: clock},
	)
	recipients := recipient.NewService(store.Campaigns(), store.Recipients(), store.Attempts(), nil, recipient.Options{Now: clock})

	return &fixture{
		store: store, service: svc, recipients: recipients, jobs: jobs, relay: relay,
		workspace: workspace, dialAgent: dialAgent, relayAgent: relayAgent, now: now,
	}
}

func (f *fixture) create(t *testing.T, agent *domain.Agent, mutate func(*CreateCampaignInput)) *domain.Campaign {
	t.Helper()
	input := CreateCampaignInput{
		Name:        "spring outreach",
		WorkspaceID: f.workspace,
		AgentID:     agent.ID,
		TimeZone:    "UTC",
	}
	if mutate != nil {
		mutate(&input)
	}
	c, err := f.service.Create(context.Background(), input)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return c
}

func (f *fixture) importPhones(t *testing.T, id uuid.UUID, phones ...string) recipient.ImportResult {
	t.Helper()
	rows := make([]map[string]string, 0, len(phones))
	for _, p := range phones {
		rows = append(rows, map[string]string{"Phone Number": p, "name": "Test"})
	}
	res, err := f.recipients.Import(context.Background(), id, rows)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	return res
}

func TestImportThenStartActivatesCampaign(t *testing.T) {
	f := newFixture(t, time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()
	c := f.create(t, f.dialAgent, nil)
	if c.Status != domain.CampaignStatusDraft {
		t.Fatalf("expected draft, got %s", c.Status)
	}

	res := f.importPhones(t, c.ID, "+16502530000", "+16502530001", "+1 650-253-0000")
	if res.Imported != 2 || res.Duplicates != 1 || res.Total != 2 {
		t.Fatalf("unexpected import result %+v", res)
	}

	started, err := f.service.Start(ctx, c.ID, StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != domain.CampaignStatusActive || started.Counters.PendingCalls != 2 {
		t.Fatalf("expected active with 2 pending, got %s / %d", started.Status, started.Counters.PendingCalls)
	}
	if started.StartedAt == nil {
		t.Fatalf("expected started_at to be set")
	}
	if len(f.jobs.enqueued) != 1 || f.jobs.enqueued[0] != c.ID {
		t.Fatalf("expected one dial job, got %v", f.jobs.enqueued)
	}
}

func TestPauseRequiresActive(t *testing.T) {
	f := newFixture(t, mondayEvening)
	c := f.create(t, f.dialAgent, nil)

	if _, err := f.service.Pause(context.Background(), c.ID); !errors.Is(err, apperrors.ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestStartPreconditionsLeaveStatusUnchanged(t *testing.T) {
	f := newFixture(t, mondayEvening)
	ctx := context.Background()

	unsynced := &domain.Agent{ID: uuid.New(), WorkspaceID: f.workspace, Provider: domain.ProviderDirectDial, IsActive: true}
	f.store.PutAgent(unsynced)
	c := f.create(t, unsynced, nil)
	f.importPhones(t, c.ID, "+16502530000")

	_, err := f.service.Start(ctx, c.ID, StartOptions{})
	if !errors.Is(err, apperrors.ErrPrecondition) || !strings.Contains(err.Error(), "not synced") {
		t.Fatalf("expected not-synced precondition, got %v", err)
	}

	empty := f.create(t, f.dialAgent, nil)
	_, err = f.service.Start(ctx, empty.ID, StartOptions{})
	if !errors.Is(err, apperrors.ErrPrecondition) || apperrors.Reason(err) != "Campaign has no pending recipients" {
		t.Fatalf("expected no-recipients precondition, got %v", err)
	}

	for _, id := range []uuid.UUID{c.ID, empty.ID} {
		got, _ := f.service.Get(ctx, id)
		if got.Status != domain.CampaignStatusDraft {
			t.Fatalf("expected status to stay draft, got %s", got.Status)
		}
	}
	if len(f.jobs.enqueued) != 0 {
		t.Fatalf("expected nothing enqueued")
	}
}

func TestStartWithoutCallerID(t *testing.T) {
	f := newFixture(t, mondayEvening)
	bare := &domain.Agent{ID: uuid.New(), WorkspaceID: f.workspace, Provider: domain.ProviderRelay, ExternalID: "x", IsActive: true}
	f.store.PutAgent(bare)
	c := f.create(t, bare, nil)
	f.importPhones(t, c.ID, "+16502530000")

	_, err := f.service.Start(context.Background(), c.ID, StartOptions{})
	if !errors.Is(err, apperrors.ErrPrecondition) || apperrors.Reason(err) != "No outbound phone number configured for the agent" {
		t.Fatalf("expected caller precondition, got %v", err)
	}
}

func TestResolveCallerFallsBackToPhoneRecordAndDefaults(t *testing.T) {
	f := newFixture(t, mondayEvening)
	ctx := context.Background()

	caller, err := f.service.resolveCaller(ctx, f.dialAgent, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if caller.Number != "+16502530100" || caller.PhoneNumberID != "vendor-phone-1" {
		t.Fatalf("expected phone record caller, got %+v", caller)
	}

	bare := &domain.Agent{ID: uuid.New(), WorkspaceID: f.workspace}
	caller, err = f.service.resolveCaller(ctx, bare, &domain.Integration{DefaultCallerID: "+16502530300"})
	if err != nil || caller.Number != "+16502530300" {
		t.Fatalf("expected integration default, got %+v (%v)", caller, err)
	}

	f.service.opts.DefaultCallerID = "+16502530400"
	caller, err = f.service.resolveCaller(ctx, bare, nil)
	if err != nil || caller.Number != "+16502530400" {
		t.Fatalf("expected config default, got %+v (%v)", caller, err)
	}
}

func TestRelayStartSubmitsBeforeFlipping(t *testing.T) {
	f := newFixture(t, mondayEvening)
	ctx := context.Background()
	c := f.create(t, f.relayAgent, nil)
	f.importPhones(t, c.ID, "+16502530000", "+16502530001")

	f.relay.submitErr = errors.New("vendor error: relay rejected batch")
	if _, err := f.service.Start(ctx, c.ID, StartOptions{}); err == nil {
		t.Fatalf("expected vendor error")
	}
	if got, _ := f.service.Get(ctx, c.ID); got.Status != domain.CampaignStatusDraft {
		t.Fatalf("expected draft after vendor rejection, got %s", got.Status)
	}

	f.relay.submitErr = nil
	started, err := f.service.Start(ctx, c.ID, StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != domain.CampaignStatusActive {
		t.Fatalf("expected active, got %s", started.Status)
	}
	if len(f.relay.submitted) != 1 || len(f.relay.submitted[0].Recipients) != 2 {
		t.Fatalf("expected one batch with 2 recipients, got %+v", f.relay.submitted)
	}
	if f.relay.submitted[0].Caller.Number != "+16502530200" {
		t.Fatalf("expected agent outbound number, got %q", f.relay.submitted[0].Caller.Number)
	}
}

func TestRelayScheduledStart(t *testing.T) {
	f := newFixture(t, mondayEvening)
	ctx := context.Background()
	start := mondayEvening.Add(48 * time.Hour)
	c := f.create(t, f.relayAgent, func(in *CreateCampaignInput) {
		in.ScheduleType = domain.ScheduleScheduled
		in.ScheduledStartAt = &start
	})
	f.importPhones(t, c.ID, "+16502530000")

	got, err := f.service.Start(ctx, c.ID, StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got.Status != domain.CampaignStatusScheduled {
		t.Fatalf("expected scheduled, got %s", got.Status)
	}
	if !f.relay.submitted[0].NotBefore.Equal(start) || f.relay.submitted[0].StartNow {
		t.Fatalf("expected nbf at scheduled start, got %+v", f.relay.submitted[0])
	}

	activated, err := f.service.Activate(ctx, c.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if activated.Status != domain.CampaignStatusActive || len(f.relay.submitted) != 1 {
		t.Fatalf("expected status flip without resubmission, got %s / %d", activated.Status, len(f.relay.submitted))
	}
}

func TestStartNowOverridesSchedule(t *testing.T) {
	f := newFixture(t, mondayEvening)
	start := mondayEvening.Add(48 * time.Hour)
	c := f.create(t, f.relayAgent, func(in *CreateCampaignInput) {
		in.ScheduleType = domain.ScheduleScheduled
		in.ScheduledStartAt = &start
	})
	f.importPhones(t, c.ID, "+16502530000")

	got, err := f.service.Start(context.Background(), c.ID, StartOptions{StartNow: true})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got.Status != domain.CampaignStatusActive || !f.relay.submitted[0].StartNow {
		t.Fatalf("expected immediate activation, got %s", got.Status)
	}
}

func weekdayHours() *domain.BusinessHours {
	slot := []domain.TimeSlot{{Start: "09:00", End: "17:00"}}
	return &domain.BusinessHours{
		Enabled:  true,
		Timezone: "UTC",
		Schedule: map[string][]domain.TimeSlot{
			"monday": slot, "tuesday": slot, "wednesday": slot, "thursday": slot, "friday": slot,
		},
	}
}

func TestDirectDialOutsideHoursDefersToNextWindow(t *testing.T) {
	f := newFixture(t, mondayEvening)
	ctx := context.Background()
	c := f.create(t, f.dialAgent, func(in *CreateCampaignInput) { in.BusinessHours = weekdayHours() })
	f.importPhones(t, c.ID, "+16502530000")

	got, err := f.service.Start(ctx, c.ID, StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	want := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	if got.Status != domain.CampaignStatusReady || got.ScheduledStartAt == nil || !got.ScheduledStartAt.Equal(want) {
		t.Fatalf("expected ready until %s, got %s / %v", want, got.Status, got.ScheduledStartAt)
	}
	if len(f.jobs.enqueued) != 0 {
		t.Fatalf("expected nothing enqueued outside hours")
	}

	forced, err := f.service.Start(ctx, c.ID, StartOptions{IgnoreBusinessHours: true})
	if err != nil {
		t.Fatalf("forced start: %v", err)
	}
	if forced.Status != domain.CampaignStatusActive || len(f.jobs.enqueued) != 1 {
		t.Fatalf("expected active with a dial job, got %s", forced.Status)
	}
}

func TestDirectDialWithoutAnyWindowIsPolicyError(t *testing.T) {
	f := newFixture(t, mondayEvening)
	c := f.create(t, f.dialAgent, func(in *CreateCampaignInput) {
		in.BusinessHours = &domain.BusinessHours{Enabled: true, Timezone: "UTC", Schedule: map[string][]domain.TimeSlot{}}
	})
	f.importPhones(t, c.ID, "+16502530000")

	if _, err := f.service.Start(context.Background(), c.ID, StartOptions{}); !errors.Is(err, apperrors.ErrPolicy) {
		t.Fatalf("expected policy error, got %v", err)
	}
}

func TestEnqueueFailureRevertsStatus(t *testing.T) {
	f := newFixture(t, mondayEvening)
	ctx := context.Background()
	c := f.create(t, f.dialAgent, nil)
	f.importPhones(t, c.ID, "+16502530000")

	f.jobs.err = errors.New("broker down")
	_, err := f.service.Start(ctx, c.ID, StartOptions{})
	if !errors.Is(err, apperrors.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if got, _ := f.service.Get(ctx, c.ID); got.Status != domain.CampaignStatusDraft {
		t.Fatalf("expected status reverted to draft, got %s", got.Status)
	}
}

func TestPauseResumeAndCancel(t *testing.T) {
	f := newFixture(t, mondayEvening)
	ctx := context.Background()
	c := f.create(t, f.relayAgent, nil)
	f.importPhones(t, c.ID, "+16502530000")

	if _, err := f.service.Start(ctx, c.ID, StartOptions{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	res, err := f.service.Pause(ctx, c.ID)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if res.Campaign.Status != domain.CampaignStatusPaused || res.Guarantee != dispatch.PauseHard || f.relay.paused != 1 {
		t.Fatalf("unexpected pause result %+v", res)
	}

	resumed, err := f.service.Resume(ctx, c.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Status != domain.CampaignStatusActive || len(f.relay.submitted) != 2 || !f.relay.submitted[1].StartNow {
		t.Fatalf("expected resubmission with start now, got %s", resumed.Status)
	}

	if err := f.service.Delete(ctx, c.ID); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict deleting an active campaign, got %v", err)
	}

	f.relay.cancelErr = errors.New("vendor error: relay unavailable")
	if _, err := f.service.Cancel(ctx, c.ID); err == nil {
		t.Fatalf("expected vendor cancel failure")
	}
	if got, _ := f.service.Get(ctx, c.ID); got.Status != domain.CampaignStatusActive {
		t.Fatalf("expected status unchanged after vendor failure, got %s", got.Status)
	}

	f.relay.cancelErr = nil
	cancelled, err := f.service.Cancel(ctx, c.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.CampaignStatusCancelled || cancelled.CompletedAt == nil {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if _, err := f.service.Cancel(ctx, c.ID); !errors.Is(err, apperrors.ErrPrecondition) {
		t.Fatalf("expected cancelling twice to fail, got %v", err)
	}

	if err := f.service.Delete(ctx, c.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.service.Get(ctx, c.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected deleted campaign to be hidden, got %v", err)
	}
}

// racingCampaigns lets another writer move the campaign just before a transition lands.
type racingCampaigns struct {
	*memory.Campaigns
	before func(ctx context.Context, id uuid.UUID)
}

func (r *racingCampaigns) TransitionStatus(ctx context.Context, t repository.StatusTransition) error {
	if r.before != nil {
		fn := r.before
		r.before = nil
		fn(ctx, t.ID)
	}
	return r.Campaigns.TransitionStatus(ctx, t)
}

func (f *fixture) racingService(before func(ctx context.Context, id uuid.UUID)) *Service {
	return NewService(
		&racingCampaigns{Campaigns: f.store.Campaigns(), before: before},
		f.store.Recipients(),
		f.store.Directory(),
		dispatch.NewRegistry(sequential.NewDispatcher(f.jobs), f.relay),
		businesshours.NewEvaluator(false, nil),
		Options{Now: func() time.Time { return f.now }},
	)
}

func TestPauseLosingRaceToCompletionReportsStatus(t *testing.T) {
	f := newFixture(t, mondayEvening)
	ctx := context.Background()
	c := f.create(t, f.relayAgent, nil)
	f.importPhones(t, c.ID, "+16502530000")
	if _, err := f.service.Start(ctx, c.ID, StartOptions{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	svc := f.racingService(func(ctx context.Context, id uuid.UUID) {
		if err := f.store.Campaigns().TransitionStatus(ctx, repository.StatusTransition{
			ID: id, From: []domain.CampaignStatus{domain.CampaignStatusActive}, To: domain.CampaignStatusCompleted, At: f.now,
		}); err != nil {
			t.Fatalf("complete: %v", err)
		}
	})

	_, err := svc.Pause(ctx, c.ID)
	if !errors.Is(err, apperrors.ErrPrecondition) || !strings.Contains(err.Error(), "completed") {
		t.Fatalf("expected precondition naming the completed status, got %v", err)
	}
	if f.relay.paused != 1 {
		t.Fatalf("expected vendor batch to have been paused once, got %d", f.relay.paused)
	}
	if got, _ := f.service.Get(ctx, c.ID); got.Status != domain.CampaignStatusCompleted {
		t.Fatalf("expected completed campaign, got %s", got.Status)
	}
}

func TestPauseLosingRaceToConcurrentPauseSucceeds(t *testing.T) {
	f := newFixture(t, mondayEvening)
	ctx := context.Background()
	c := f.create(t, f.relayAgent, nil)
	f.importPhones(t, c.ID, "+16502530000")
	if _, err := f.service.Start(ctx, c.ID, StartOptions{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	svc := f.racingService(func(ctx context.Context, id uuid.UUID) {
		if err := f.store.Campaigns().TransitionStatus(ctx, repository.StatusTransition{
			ID: id, From: []domain.CampaignStatus{domain.CampaignStatusActive}, To: domain.CampaignStatusPaused, At: f.now,
		}); err != nil {
			t.Fatalf("pause: %v", err)
		}
	})

	res, err := svc.Pause(ctx, c.ID)
	if err != nil {
		t.Fatalf("expected concurrent pause to count as success, got %v", err)
	}
	if res.Campaign.Status != domain.CampaignStatusPaused || res.Guarantee != dispatch.PauseHard {
		t.Fatalf("unexpected pause result %+v", res)
	}
}

func TestCompleteOnceDrained(t *testing.T) {
	f := newFixture(t, time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()
	c := f.create(t, f.dialAgent, nil)
	f.importPhones(t, c.ID, "+16502530000")
	if _, err := f.service.Start(ctx, c.ID, StartOptions{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := f.service.Complete(ctx, c.ID); !errors.Is(err, apperrors.ErrPrecondition) {
		t.Fatalf("expected pending recipients to block completion, got %v", err)
	}

	list, _ := f.recipients.List(ctx, c.ID, "", 10, 0)
	if _, err := f.recipients.ApplyStatus(ctx, recipient.StatusReport{
		CampaignID: c.ID, RecipientID: list[0].ID, Status: domain.RecipientStatusCompleted, Successful: true,
	}); err != nil {
		t.Fatalf("apply status: %v", err)
	}

	got, err := f.service.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.CampaignStatusCompleted || got.Counters.SuccessfulCalls != 1 || got.Counters.PendingCalls != 0 {
		t.Fatalf("expected auto-completion, got %s %+v", got.Status, got.Counters)
	}
}

func TestUpdateOnlyWhileEditable(t *testing.T) {
	f := newFixture(t, time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()
	c := f.create(t, f.dialAgent, nil)

	name := "renamed"
	updated, err := f.service.Update(ctx, UpdateCampaignInput{ID: c.ID, Name: &name, BusinessHours: weekdayHours()})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "renamed" || updated.BusinessHours == nil {
		t.Fatalf("unexpected update result %+v", updated)
	}

	bad := "Mars/Olympus"
	if _, err := f.service.Update(ctx, UpdateCampaignInput{ID: c.ID, TimeZone: &bad}); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	f.importPhones(t, c.ID, "+16502530000")
	if _, err := f.service.Start(ctx, c.ID, StartOptions{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.service.Update(ctx, UpdateCampaignInput{ID: c.ID, Name: &name}); !errors.Is(err, apperrors.ErrPrecondition) {
		t.Fatalf("expected active campaign to be read-only, got %v", err)
	}
}

func TestValidateCreateInputFailures(t *testing.T) {
	ws, agent := uuid.New(), uuid.New()
	cases := []CreateCampaignInput{
		{Name: "", TimeZone: "UTC", WorkspaceID: ws, AgentID: agent, ScheduleType: domain.ScheduleImmediate},
		{Name: "test", TimeZone: "", WorkspaceID: ws, AgentID: agent, ScheduleType: domain.ScheduleImmediate},
		{Name: "test", TimeZone: "invalid", WorkspaceID: ws, AgentID: agent, ScheduleType: domain.ScheduleImmediate},
		{Name: "test", TimeZone: "UTC", AgentID: agent, ScheduleType: domain.ScheduleImmediate},
		{Name: "test", TimeZone: "UTC", WorkspaceID: ws, AgentID: agent, ScheduleType: domain.ScheduleScheduled},
		{Name: "test", TimeZone: "UTC", WorkspaceID: ws, AgentID: agent, ScheduleType: "weekly"},
		{
			Name: "test", TimeZone: "UTC", WorkspaceID: ws, AgentID: agent, ScheduleType: domain.ScheduleImmediate,
			BusinessHours: &domain.BusinessHours{Enabled: true, Schedule: map[string][]domain.TimeSlot{"monday": {{Start: "17:00", End: "09:00"}}}},
		},
	}

	for _, tc := range cases {
		if err := validateCreateInput(tc); !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("expected validation error for input %+v, got %v", tc, err)
		}
	}
}

func TestValidateCreateInputSuccess(t *testing.T) {
	input := CreateCampaignInput{
		Name:          "test",
		TimeZone:      "America/New_York",
		WorkspaceID:   uuid.New(),
		AgentID:       uuid.New(),
		ScheduleType:  domain.ScheduleImmediate,
		BusinessHours: weekdayHours(),
	}

	if err := validateCreateInput(input); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
