package sequential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-campaign-core/internal/dispatch"
	"github.com/acme/voice-campaign-core/internal/domain"
	"github.com/acme/voice-campaign-core/internal/telephony"
	apperrors "github.com/acme/voice-campaign-core/pkg/errors"
)

type fakeCalls struct {
	mu       sync.Mutex
	calls    []string
	failures map[string][]error
}

func (f *fakeCalls) CreateCall(_ context.Context, req telephony.CallRequest) (telephony.CallResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.CustomerNumber)
	if queue := f.failures[req.CustomerNumber]; len(queue) > 0 {
		err := queue[0]
		f.failures[req.CustomerNumber] = queue[1:]
		return telephony.CallResult{}, err
	}
	return telephony.CallResult{ID: "call-" + req.CustomerNumber, Status: "queued"}, nil
}

func (f *fakeCalls) GetCall(context.Context, string, string) (telephony.CallResult, error) {
	return telephony.CallResult{}, nil
}

func (f *fakeCalls) attemptsFor(number string) int {
	n := 0
	for _, c := range f.calls {
		if c == number {
			n++
		}
	}
	return n
}

type sleepLog struct {
	waits []time.Duration
}

func (s *sleepLog) sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

type memoryRecorder struct {
	results []Result
}

func (m *memoryRecorder) Record(_ context.Context, _ uuid.UUID, r Result) error {
	m.results = append(m.results, r)
	return nil
}

func recipients(n int) []*domain.Recipient {
	out := make([]*domain.Recipient, n)
	for i := range out {
		out[i] = &domain.Recipient{ID: uuid.New(), PhoneNumber: number(i + 1)}
	}
	return out
}

func number(pos int) string {
	return fmt.Sprintf("+1415555%04d", pos)
}

var validCreds = Credentials{APIKey: "key", AssistantID: "assistant", PhoneNumberID: "phone-id"}

func testOptions(s *sleepLog) Options {
	return Options{
		Delay:           0,
		CheckpointEvery: 10,
		MaxRetries:      2,
		RateLimitWait:   5 * time.Second,
		ErrorWait:       2 * time.Second,
		Sleep:           s.sleep,
	}
}

func TestRunRetriesRateLimitedRecipientAndContinues(t *testing.T) {
	calls := &fakeCalls{failures: map[string][]error{
		number(10): {telephony.ErrRateLimited, telephony.ErrRateLimited},
	}}
	var sleeps sleepLog
	rec := &memoryRecorder{}

	summary, err := NewDialer(calls, testOptions(&sleeps)).Run(context.Background(), RunInput{
		CampaignID:  uuid.New(),
		Credentials: validCreds,
		Recipients:  recipients(25),
		Recorder:    rec,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := calls.attemptsFor(number(10)); got != 3 {
		t.Fatalf("expected 3 attempts for recipient #10, got %d", got)
	}
	for pos := 11; pos <= 25; pos++ {
		if calls.attemptsFor(number(pos)) != 1 {
			t.Fatalf("expected recipient #%d to be attempted", pos)
		}
	}
	if summary.Succeeded != 25 || summary.Failed != 0 || summary.Skipped != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(sleeps.waits) != 2 || sleeps.waits[0] != 5*time.Second || sleeps.waits[1] != 5*time.Second {
		t.Fatalf("expected two 5s rate-limit waits, got %v", sleeps.waits)
	}
	if len(rec.results) != 25 || rec.results[9].Attempts != 3 {
		t.Fatalf("expected 25 recorded results with 3 attempts on #10, got %d", len(rec.results))
	}
}

func TestRunRecordsTerminalFailureAfterRetries(t *testing.T) {
	calls := &fakeCalls{failures: map[string][]error{
		number(10): {telephony.ErrRateLimited, telephony.ErrRateLimited, telephony.ErrRateLimited},
	}}
	var sleeps sleepLog

	summary, err := NewDialer(calls, testOptions(&sleeps)).Run(context.Background(), RunInput{
		CampaignID:  uuid.New(),
		Credentials: validCreds,
		Recipients:  recipients(25),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := calls.attemptsFor(number(10)); got != 3 {
		t.Fatalf("expected 3 attempts for recipient #10, got %d", got)
	}
	if summary.Succeeded != 24 || summary.Failed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if r := summary.Results[9]; r.Outcome != OutcomeFailed || r.Error == "" {
		t.Fatalf("expected recipient #10 to fail with an error, got %+v", r)
	}
	if calls.attemptsFor(number(25)) != 1 {
		t.Fatalf("expected recipient #25 to be attempted after the failure")
	}
}

func TestRunGenericErrorWaitsAndNonRetryableFailsFast(t *testing.T) {
	calls := &fakeCalls{failures: map[string][]error{
		number(1): {errors.New("connection reset")},
		number(2): {&telephony.VendorError{StatusCode: 400, Message: "invalid number"}},
	}}
	var sleeps sleepLog

	summary, err := NewDialer(calls, testOptions(&sleeps)).Run(context.Background(), RunInput{
		CampaignID:  uuid.New(),
		Credentials: validCreds,
		Recipients:  recipients(3),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calls.attemptsFor(number(1)) != 2 {
		t.Fatalf("expected a retry after a generic error")
	}
	if calls.attemptsFor(number(2)) != 1 {
		t.Fatalf("expected no retry after a 4xx rejection")
	}
	if len(sleeps.waits) != 1 || sleeps.waits[0] != 2*time.Second {
		t.Fatalf("expected a single 2s wait, got %v", sleeps.waits)
	}
	if summary.Succeeded != 2 || summary.Failed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestRunRefusesWithoutCredentials(t *testing.T) {
	calls := &fakeCalls{}
	cases := []Credentials{
		{AssistantID: "a", PhoneNumberID: "p"},
		{APIKey: "k", PhoneNumberID: "p"},
		{APIKey: "k", AssistantID: "a"},
	}

	for _, creds := range cases {
		_, err := NewDialer(calls, Options{}).Run(context.Background(), RunInput{
			CampaignID:  uuid.New(),
			Credentials: creds,
			Recipients:  recipients(3),
		})
		if !errors.Is(err, apperrors.ErrPrecondition) {
			t.Fatalf("expected precondition error for %+v, got %v", creds, err)
		}
	}
	if len(calls.calls) != 0 {
		t.Fatalf("expected no calls, got %d", len(calls.calls))
	}
}

func TestRunCheckpointSkipsRemainderWhenWindowCloses(t *testing.T) {
	calls := &fakeCalls{}
	var sleeps sleepLog
	checks := 0

	summary, err := NewDialer(calls, testOptions(&sleeps)).Run(context.Background(), RunInput{
		CampaignID:  uuid.New(),
		Credentials: validCreds,
		Recipients:  recipients(25),
		Window: func(time.Time) bool {
			checks++
			return checks == 1
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if checks != 2 {
		t.Fatalf("expected checks at positions 0 and 10, got %d", checks)
	}
	if summary.Succeeded != 10 || summary.Skipped != 15 || !summary.WindowClosed {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.Failed != 0 {
		t.Fatalf("skipped recipients must not count as failed")
	}
}

func TestRunStopsWhenCampaignPaused(t *testing.T) {
	calls := &fakeCalls{}
	var sleeps sleepLog

	summary, err := NewDialer(calls, testOptions(&sleeps)).Run(context.Background(), RunInput{
		CampaignID:  uuid.New(),
		Credentials: validCreds,
		Recipients:  recipients(25),
		Stop: func(context.Context) (bool, error) {
			return len(calls.calls) >= 5, nil
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !summary.Stopped || summary.Succeeded != 5 || summary.Skipped != 20 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestRunPacesCallsWithDelay(t *testing.T) {
	calls := &fakeCalls{}
	var sleeps sleepLog
	opts := testOptions(&sleeps)
	opts.Delay = time.Second

	if _, err := NewDialer(calls, opts).Run(context.Background(), RunInput{
		CampaignID:  uuid.New(),
		Credentials: validCreds,
		Recipients:  recipients(4),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sleeps.waits) != 3 {
		t.Fatalf("expected 3 pacing sleeps between 4 calls, got %v", sleeps.waits)
	}
}

func TestRunSkipsRecipientsThatCannotBeClaimed(t *testing.T) {
	calls := &fakeCalls{}
	var sleeps sleepLog
	rec := &memoryRecorder{}
	list := recipients(4)
	taken := map[uuid.UUID]bool{list[1].ID: true}

	summary, err := NewDialer(calls, testOptions(&sleeps)).Run(context.Background(), RunInput{
		CampaignID:  uuid.New(),
		Credentials: validCreds,
		Recipients:  list,
		Claim: func(_ context.Context, r *domain.Recipient) (bool, error) {
			if r.ID == list[3].ID {
				return false, errors.New("connection reset")
			}
			return !taken[r.ID], nil
		},
		Recorder: rec,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.attemptsFor(number(2)) != 0 || calls.attemptsFor(number(4)) != 0 {
		t.Fatalf("unclaimed recipients must not be called, got %v", calls.calls)
	}
	if summary.Succeeded != 2 || summary.Skipped != 2 || len(rec.results) != 2 {
		t.Fatalf("unexpected summary %+v with %d recorded", summary, len(rec.results))
	}
}

type fakeJobs struct {
	enqueued []uuid.UUID
}

func (f *fakeJobs) EnqueueDial(_ context.Context, id uuid.UUID, _ string) error {
	f.enqueued = append(f.enqueued, id)
	return nil
}

func TestDispatcherSubmitEnqueuesJob(t *testing.T) {
	jobs := &fakeJobs{}
	d := NewDispatcher(jobs)
	campaign := &domain.Campaign{ID: uuid.New()}
	batch := dispatch.Batch{
		Campaign: campaign,
		Agent:    &domain.Agent{ExternalID: "assistant"},
		Caller:   dispatch.Caller{PhoneNumberID: "phone-id"},
		APIKey:   "key",
	}

	if _, err := d.SubmitBatch(context.Background(), batch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs.enqueued) != 1 || jobs.enqueued[0] != campaign.ID {
		t.Fatalf("expected campaign to be enqueued, got %v", jobs.enqueued)
	}

	batch.APIKey = ""
	if _, err := d.SubmitBatch(context.Background(), batch); !errors.Is(err, apperrors.ErrPrecondition) {
		t.Fatalf("expected precondition error without api key, got %v", err)
	}
	if d.PauseGuarantee() != dispatch.PauseSoft || d.VendorPaced() {
		t.Fatalf("direct dial pause must be soft and locally paced")
	}
}
