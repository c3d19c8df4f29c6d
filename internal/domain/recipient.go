package domain

import (
	"time"

	"github.com/google/uuid"
)

// RecipientStatus enumerates call stages for a single recipient.
type RecipientStatus string

const (
	RecipientStatusPending   RecipientStatus = "pending"
	RecipientStatusCalling   RecipientStatus = "calling"
	RecipientStatusCompleted RecipientStatus = "completed"
	RecipientStatusFailed    RecipientStatus = "failed"
)

// Terminal reports whether the recipient has a final outcome.
func (s RecipientStatus) Terminal() bool {
	return s == RecipientStatusCompleted || s == RecipientStatusFailed
}

// PredecessorsOf lists the statuses a recipient may move out of to reach s.
// Call status only ever moves forward.
func PredecessorsOf(s RecipientStatus) []RecipientStatus {
	switch s {
	case RecipientStatusCalling:
		return []RecipientStatus{RecipientStatusPending}
	case RecipientStatusCompleted, RecipientStatusFailed:
		return []RecipientStatus{RecipientStatusPending, RecipientStatusCalling}
	default:
		return nil
	}
}

// AttachesCall reports whether a calling report only supplies the vendor call id for a
// recipient that was claimed before its call was placed.
func AttachesCall(current RecipientStatus, currentCallID string, reported RecipientStatus, reportedCallID string) bool {
	return current == RecipientStatusCalling && reported == RecipientStatusCalling &&
		currentCallID == "" && reportedCallID != ""
}

// Recipient is a call target belonging to exactly one campaign.
type Recipient struct {
	ID           uuid.UUID
	CampaignID   uuid.UUID
	PhoneNumber  string
	Name         string
	Email        string
	Company      string
	Variables    map[string]string
	Status       RecipientStatus
	Successful   bool
	VendorCallID string
	LastError    string
	Attempts     int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DispatchAttempt is one entry of the per-campaign attempt log.
type DispatchAttempt struct {
	ID           uuid.UUID
	CampaignID   uuid.UUID
	RecipientID  uuid.UUID
	PhoneNumber  string
	Provider     Provider
	Outcome      string
	VendorCallID string
	Error        string
	AttemptNum   int
	CreatedAt    time.Time
}
