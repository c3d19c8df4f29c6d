package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/voice-campaign-core/internal/businesshours"
	"github.com/acme/voice-campaign-core/internal/dispatch"
	"github.com/acme/voice-campaign-core/internal/dispatch/sequential"
	"github.com/acme/voice-campaign-core/internal/domain"
	"github.com/acme/voice-campaign-core/internal/queue"
	"github.com/acme/voice-campaign-core/internal/repository/memory"
	campaignsvc "github.com/acme/voice-campaign-core/internal/service/campaign"
	recipientsvc "github.com/acme/voice-campaign-core/internal/service/recipient"
	"github.com/acme/voice-campaign-core/internal/webhook"
)

type jobLog struct {
	reasons []string
}

func (j *jobLog) EnqueueDial(_ context.Context, _ uuid.UUID, reason string) error {
	j.reasons = append(j.reasons, reason)
	return nil
}

type statusLog struct {
	events []queue.RecipientStatusEvent
	err    error
}

func (s *statusLog) PublishStatus(_ context.Context, evt queue.RecipientStatusEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, evt)
	return nil
}

type testServer struct {
	app       *fiber.App
	jobs      *jobLog
	statuses  *statusLog
	workspace uuid.UUID
	agent     uuid.UUID
}

func newTestServer(t *testing.T, relaySecret string) *testServer {
	t.Helper()
	store := memory.New()
	workspace := uuid.New()
	agent := &domain.Agent{
		ID: uuid.New(), WorkspaceID: workspace, Name: "dialer",
		Provider: domain.ProviderDirectDial, ExternalID: "assistant-1", IsActive: true,
	}
	store.PutAgent(agent)

	jobs := &jobLog{}
	statuses := &statusLog{}
	campaigns := campaignsvc.NewService(
		store.Campaigns(),
		store.Recipients(),
		store.Directory(),
		dispatch.NewRegistry(sequential.NewDispatcher(jobs)),
		businesshours.NewEvaluator(false, nil),
		campaignsvc.Options{
			APIKeys:              map[domain.Provider]string{domain.ProviderDirectDial: "dd-key"},
			DefaultPhoneNumberID: "vendor-phone-1",
		},
	)
	recipients := recipientsvc.NewService(store.Campaigns(), store.Recipients(), store.Attempts(), nil, recipientsvc.Options{})

	h := New(Deps{
		Campaigns:   campaigns,
		Recipients:  recipients,
		Attempts:    store.Attempts(),
		Statuses:    statuses,
		RelaySecret: relaySecret,
		Checks: map[string]func(context.Context) error{
			"postgres": func(context.Context) error { return nil },
		},
	})
	app := fiber.New(fiber.Config{ErrorHandler: h.ErrorHandler})
	h.Register(app)

	return &testServer{app: app, jobs: jobs, statuses: statuses, workspace: workspace, agent: agent.ID}
}

func (s *testServer) do(t *testing.T, method, path, contentType, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, raw, err)
		}
	}
	return resp.StatusCode, out
}

func (s *testServer) createCampaign(t *testing.T) string {
	t.Helper()
	body := `{"name":"spring renewals","workspace_id":"` + s.workspace.String() + `","agent_id":"` + s.agent.String() + `","time_zone":"UTC"}`
	code, out := s.do(t, http.MethodPost, "/api/v1/campaigns", fiber.MIMEApplicationJSON, body, nil)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %v", code, out)
	}
	if out["status"] != string(domain.CampaignStatusDraft) {
		t.Fatalf("expected draft campaign, got %v", out["status"])
	}
	return out["id"].(string)
}

func TestCampaignLifecycle(t *testing.T) {
	s := newTestServer(t, "")
	id := s.createCampaign(t)
	base := "/api/v1/campaigns/" + id

	rows := `[{"phone":"+16502530000","name":"Ada","plan":"gold"},{"phone":"+16502530001"},{"phone":""},{"phone":"+16502530000"}]`
	code, out := s.do(t, http.MethodPost, base+"/recipients", fiber.MIMEApplicationJSON, rows, nil)
	if code != http.StatusOK {
		t.Fatalf("import: expected 200, got %d %v", code, out)
	}
	if out["imported"] != float64(2) || out["duplicates"] != float64(1) || out["total"] != float64(2) {
		t.Fatalf("unexpected import result %v", out)
	}

	code, out = s.do(t, http.MethodPost, base+"/recipients", "text/csv", "Mobile,Full Name\n(650) 253-0002,Grace\n", nil)
	if code != http.StatusOK || out["imported"] != float64(1) {
		t.Fatalf("csv import: got %d %v", code, out)
	}

	code, out = s.do(t, http.MethodPost, base+"/start", "", "", nil)
	if code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d %v", code, out)
	}
	if out["status"] != string(domain.CampaignStatusActive) {
		t.Fatalf("expected active campaign, got %v", out["status"])
	}
	if len(s.jobs.reasons) != 1 || s.jobs.reasons[0] != "start" {
		t.Fatalf("expected one start job, got %v", s.jobs.reasons)
	}

	code, out = s.do(t, http.MethodPost, base+"/pause", "", "", nil)
	if code != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d %v", code, out)
	}
	if out["pause_guarantee"] != string(dispatch.PauseSoft) {
		t.Fatalf("expected soft pause guarantee, got %v", out["pause_guarantee"])
	}

	code, out = s.do(t, http.MethodGet, base+"/progress", "", "", nil)
	if code != http.StatusOK {
		t.Fatalf("progress: expected 200, got %d %v", code, out)
	}

	code, out = s.do(t, http.MethodGet, base+"/recipients?status=pending", "", "", nil)
	if code != http.StatusOK {
		t.Fatalf("list recipients: expected 200, got %d", code)
	}
	if list, _ := out["recipients"].([]any); len(list) != 3 {
		t.Fatalf("expected 3 pending recipients, got %v", out["recipients"])
	}
}

func TestErrorResponses(t *testing.T) {
	s := newTestServer(t, "")

	code, out := s.do(t, http.MethodGet, "/api/v1/campaigns/not-a-uuid", "", "", nil)
	if code != http.StatusBadRequest || out["error"] != "invalid campaign id" {
		t.Fatalf("expected 400 invalid campaign id, got %d %v", code, out)
	}

	code, out = s.do(t, http.MethodGet, "/api/v1/campaigns/"+uuid.NewString(), "", "", nil)
	if code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %v", code, out)
	}
	if _, ok := out["trace_id"]; !ok {
		t.Fatalf("error body must carry trace_id, got %v", out)
	}

	id := s.createCampaign(t)
	code, out = s.do(t, http.MethodPost, "/api/v1/campaigns/"+id+"/start", "", "", nil)
	if code != http.StatusUnprocessableEntity || out["error"] != "Campaign has no pending recipients" {
		t.Fatalf("expected 422 without recipients, got %d %v", code, out)
	}

	body := `{"name":"","workspace_id":"` + s.workspace.String() + `","agent_id":"` + s.agent.String() + `","time_zone":"UTC"}`
	code, _ = s.do(t, http.MethodPost, "/api/v1/campaigns", fiber.MIMEApplicationJSON, body, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a nameless campaign, got %d", code)
	}
}

func TestRelayWebhookSignature(t *testing.T) {
	s := newTestServer(t, "s3cret")
	payload := `{"batchRef":"campaign-` + uuid.NewString() + `","callId":"c-1","recipientId":"` + uuid.NewString() + `","number":"+16502530000","status":"busy","attempt":1}`

	code, _ := s.do(t, http.MethodPost, "/webhooks/relay", fiber.MIMEApplicationJSON, payload, nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without signature, got %d", code)
	}

	headers := map[string]string{webhook.SignatureHeader: webhook.Sign([]byte(payload), "s3cret")}
	code, out := s.do(t, http.MethodPost, "/webhooks/relay", fiber.MIMEApplicationJSON, payload, headers)
	if code != http.StatusAccepted || out["accepted"] != true {
		t.Fatalf("expected 202 accepted, got %d %v", code, out)
	}
	if len(s.statuses.events) != 1 {
		t.Fatalf("expected one queued status, got %d", len(s.statuses.events))
	}
	evt := s.statuses.events[0]
	if evt.Status != domain.RecipientStatusCompleted || evt.Successful {
		t.Fatalf("busy must map to an unsuccessful completion, got %+v", evt)
	}

	ignored := `{"batchRef":"campaign-` + uuid.NewString() + `","recipientId":"` + uuid.NewString() + `","status":"scheduled"}`
	headers[webhook.SignatureHeader] = webhook.Sign([]byte(ignored), "s3cret")
	code, out = s.do(t, http.MethodPost, "/webhooks/relay", fiber.MIMEApplicationJSON, ignored, headers)
	if code != http.StatusOK || out["accepted"] != false {
		t.Fatalf("expected 200 not accepted, got %d %v", code, out)
	}

	s.statuses.err = errors.New("broker down")
	headers[webhook.SignatureHeader] = webhook.Sign([]byte(payload), "s3cret")
	code, _ = s.do(t, http.MethodPost, "/webhooks/relay", fiber.MIMEApplicationJSON, payload, headers)
	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when the queue is down, got %d", code)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, "")
	code, out := s.do(t, http.MethodGet, "/healthz", "", "", nil)
	if code != http.StatusOK || out["status"] != "ok" {
		t.Fatalf("expected healthy, got %d %v", code, out)
	}
}
