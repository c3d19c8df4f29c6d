package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-campaign-core/internal/domain"
	"github.com/acme/voice-campaign-core/internal/queue"
	"github.com/acme/voice-campaign-core/internal/telephony"
	apperrors "github.com/acme/voice-campaign-core/pkg/errors"
)

// RelayCallback is the batch-relay vendor's per-call status callback.
type RelayCallback struct {
	BatchRef    string `json:"batchRef"`
	CallID      string `json:"callId"`
	RecipientID string `json:"recipientId"`
	Number      string `json:"number"`
	Status      string `json:"status"`
	Reason      string `json:"reason"`
	Attempt     int    `json:"attempt"`
	Timestamp   int64  `json:"timestamp"`
}

// ParseRelay normalizes a relay callback. ok is false for statuses that carry no
// recipient transition.
func ParseRelay(body []byte) (evt queue.RecipientStatusEvent, ok bool, err error) {
	var cb RelayCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return evt, false, fmt.Errorf("%w: malformed relay callback: %v", apperrors.ErrValidation, err)
	}
	campaignID, err := uuid.Parse(strings.TrimPrefix(cb.BatchRef, "campaign-"))
	if err != nil {
		return evt, false, fmt.Errorf("%w: unknown batch reference %q", apperrors.ErrValidation, cb.BatchRef)
	}
	recipientID, err := uuid.Parse(cb.RecipientID)
	if err != nil {
		return evt, false, fmt.Errorf("%w: invalid recipient id %q", apperrors.ErrValidation, cb.RecipientID)
	}

	evt = queue.RecipientStatusEvent{
		CampaignID:   campaignID,
		RecipientID:  recipientID,
		PhoneNumber:  cb.Number,
		VendorCallID: cb.CallID,
		Provider:     domain.ProviderRelay,
		Attempt:      cb.Attempt,
		Source:       queue.SourceWebhook,
		OccurredAt:   time.Now().UTC(),
	}
	if cb.Timestamp > 0 {
		evt.OccurredAt = time.Unix(cb.Timestamp, 0).UTC()
	}

	switch strings.ToLower(cb.Status) {
	case "queued", "dialing", "ringing", "in-progress", "in_progress":
		evt.Status = domain.RecipientStatusCalling
	case "completed", "answered":
		evt.Status = domain.RecipientStatusCompleted
		evt.Successful = true
	case "no-answer", "no_answer", "busy", "voicemail":
		evt.Status = domain.RecipientStatusCompleted
	case "failed", "error", "rejected", "expired", "cancelled":
		evt.Status = domain.RecipientStatusFailed
		evt.Error = firstNonEmpty(cb.Reason, cb.Status)
	default:
		return evt, false, nil
	}
	return evt, true, nil
}

// DirectDialCallback is the direct-dial vendor's server message envelope.
type DirectDialCallback struct {
	Message struct {
		Type        string `json:"type"`
		Status      string `json:"status"`
		EndedReason string `json:"endedReason"`
		Call        struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
			Customer struct {
				Number string `json:"number"`
			} `json:"customer"`
		} `json:"call"`
	} `json:"message"`
}

// ParseDirectDial normalizes a direct-dial server message. Only status updates and
// end-of-call reports for calls placed by a campaign produce events.
func ParseDirectDial(body []byte) (evt queue.RecipientStatusEvent, ok bool, err error) {
	var cb DirectDialCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return evt, false, fmt.Errorf("%w: malformed direct dial callback: %v", apperrors.ErrValidation, err)
	}
	msg := cb.Message
	campaignID, cerr := uuid.Parse(msg.Call.Metadata["campaign_id"])
	recipientID, rerr := uuid.Parse(msg.Call.Metadata["recipient_id"])
	if cerr != nil || rerr != nil {
		// calls not placed by a campaign
		return evt, false, nil
	}

	evt = queue.RecipientStatusEvent{
		CampaignID:   campaignID,
		RecipientID:  recipientID,
		PhoneNumber:  msg.Call.Customer.Number,
		VendorCallID: msg.Call.ID,
		Provider:     domain.ProviderDirectDial,
		Source:       queue.SourceWebhook,
		OccurredAt:   time.Now().UTC(),
	}

	switch msg.Type {
	case "end-of-call-report":
		connected, answered := telephony.CallResult{Status: "ended", EndedReason: msg.EndedReason}.Outcome()
		if !connected {
			evt.Status = domain.RecipientStatusFailed
			evt.Error = msg.EndedReason
		} else {
			evt.Status = domain.RecipientStatusCompleted
			evt.Successful = answered
		}
		return evt, true, nil
	case "status-update":
		switch msg.Status {
		case "queued", "ringing", "in-progress":
			evt.Status = domain.RecipientStatusCalling
			return evt, true, nil
		}
	}
	return evt, false, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
