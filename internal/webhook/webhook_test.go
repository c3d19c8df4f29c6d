package webhook

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/acme/voice-campaign-core/internal/domain"
	"github.com/acme/voice-campaign-core/internal/queue"
	apperrors "github.com/acme/voice-campaign-core/pkg/errors"
)

func TestVerify(t *testing.T) {
	payload := []byte(`{"status":"completed"}`)
	sig := Sign(payload, "s3cret")

	if !Verify(payload, "s3cret", sig) {
		t.Fatalf("expected signature to verify")
	}
	if !Verify(payload, "s3cret", "sha256="+sig) {
		t.Fatalf("expected prefixed signature to verify")
	}
	if Verify([]byte(`{"status":"failed"}`), "s3cret", sig) {
		t.Fatalf("tampered payload must not verify")
	}
	if Verify(payload, "other", sig) {
		t.Fatalf("wrong secret must not verify")
	}
	if !Verify(payload, "", "") {
		t.Fatalf("empty secret disables verification")
	}
}

func TestParseRelay(t *testing.T) {
	campaignID, recipientID := uuid.New(), uuid.New()
	body := func(status string) []byte {
		return []byte(fmt.Sprintf(`{"batchRef":"campaign-%s","callId":"c-1","recipientId":"%s","number":"+16502530000","status":%q,"attempt":1,"timestamp":1709632800}`,
			campaignID, recipientID, status))
	}

	cases := []struct {
		status     string
		want       domain.RecipientStatus
		successful bool
	}{
		{"dialing", domain.RecipientStatusCalling, false},
		{"completed", domain.RecipientStatusCompleted, true},
		{"no-answer", domain.RecipientStatusCompleted, false},
		{"failed", domain.RecipientStatusFailed, false},
	}
	for _, tc := range cases {
		evt, ok, err := ParseRelay(body(tc.status))
		if err != nil || !ok {
			t.Fatalf("%s: expected event, got ok=%v err=%v", tc.status, ok, err)
		}
		if evt.Status != tc.want || evt.Successful != tc.successful {
			t.Fatalf("%s: unexpected event %+v", tc.status, evt)
		}
		if evt.CampaignID != campaignID || evt.RecipientID != recipientID || evt.Source != queue.SourceWebhook {
			t.Fatalf("%s: identifiers lost %+v", tc.status, evt)
		}
		if evt.OccurredAt.Unix() != 1709632800 {
			t.Fatalf("%s: expected vendor timestamp, got %v", tc.status, evt.OccurredAt)
		}
	}

	if _, ok, err := ParseRelay(body("billing-update")); ok || err != nil {
		t.Fatalf("unknown statuses are ignored, got ok=%v err=%v", ok, err)
	}
	if _, _, err := ParseRelay([]byte(`{"batchRef":"nope","recipientId":"x"}`)); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseDirectDial(t *testing.T) {
	campaignID, recipientID := uuid.New(), uuid.New()
	report := func(kind, status, reason string) []byte {
		return []byte(fmt.Sprintf(`{"message":{"type":%q,"status":%q,"endedReason":%q,"call":{"id":"call-7","metadata":{"campaign_id":"%s","recipient_id":"%s"},"customer":{"number":"+16502530000"}}}}`,
			kind, status, reason, campaignID, recipientID))
	}

	evt, ok, err := ParseDirectDial(report("end-of-call-report", "ended", "customer-ended-call"))
	if err != nil || !ok || evt.Status != domain.RecipientStatusCompleted || !evt.Successful || evt.VendorCallID != "call-7" {
		t.Fatalf("unexpected answered event %+v ok=%v err=%v", evt, ok, err)
	}
	evt, ok, _ = ParseDirectDial(report("end-of-call-report", "ended", "customer-busy"))
	if !ok || evt.Status != domain.RecipientStatusCompleted || evt.Successful {
		t.Fatalf("unexpected busy event %+v", evt)
	}
	evt, ok, _ = ParseDirectDial(report("end-of-call-report", "ended", "pipeline-error-openai-llm-failed"))
	if !ok || evt.Status != domain.RecipientStatusFailed || evt.Error == "" {
		t.Fatalf("unexpected failed event %+v", evt)
	}
	evt, ok, _ = ParseDirectDial(report("status-update", "in-progress", ""))
	if !ok || evt.Status != domain.RecipientStatusCalling {
		t.Fatalf("unexpected status update %+v", evt)
	}
	if _, ok, _ := ParseDirectDial(report("transcript", "", "")); ok {
		t.Fatalf("transcripts carry no status")
	}
	if _, ok, err := ParseDirectDial([]byte(`{"message":{"type":"end-of-call-report","call":{"id":"x"}}}`)); ok || err != nil {
		t.Fatalf("calls without campaign metadata are ignored, got ok=%v err=%v", ok, err)
	}
}
