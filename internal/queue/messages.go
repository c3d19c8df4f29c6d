package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-campaign-core/internal/domain"
)

// DialJob asks a dialer worker to run a sequential pass over a campaign's pending recipients.
type DialJob struct {
	CampaignID uuid.UUID `json:"campaign_id"`
	Reason     string    `json:"reason"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// RecipientStatusEvent reports a call status change for one recipient. Webhooks and the
// sequential dialer both emit it; the status worker applies it.
type RecipientStatusEvent struct {
	CampaignID   uuid.UUID              `json:"campaign_id"`
	RecipientID  uuid.UUID              `json:"recipient_id"`
	PhoneNumber  string                 `json:"phone_number,omitempty"`
	Status       domain.RecipientStatus `json:"status"`
	Successful   bool                   `json:"successful"`
	VendorCallID string                 `json:"vendor_call_id,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Provider     domain.Provider        `json:"provider"`
	Attempt      int                    `json:"attempt"`
	Source       string                 `json:"source"`
	OccurredAt   time.Time              `json:"occurred_at"`
}

// Event sources.
const (
	SourceDialer  = "dialer"
	SourceWebhook = "webhook"
	SourceResync  = "resync"
)
