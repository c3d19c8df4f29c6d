package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus enumerates lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusReady     CampaignStatus = "ready"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusCancelled
}

// Valid reports whether s is a known status.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusReady, CampaignStatusScheduled, CampaignStatusActive,
		CampaignStatusPaused, CampaignStatusCompleted, CampaignStatusCancelled:
		return true
	}
	return false
}

// ScheduleType selects when a started campaign begins dialing.
type ScheduleType string

const (
	ScheduleImmediate ScheduleType = "immediate"
	ScheduleScheduled ScheduleType = "scheduled"
)

// Campaign models an outbound call campaign definition.
type Campaign struct {
	ID                 uuid.UUID
	Name               string
	WorkspaceID        uuid.UUID
	AgentID            uuid.UUID
	Status             CampaignStatus
	ScheduleType       ScheduleType
	ScheduledStartAt   *time.Time
	ScheduledExpiresAt *time.Time
	TimeZone           string
	BusinessHours      *BusinessHours
	MaxConcurrentCalls int
	RetryPolicy        RetryPolicy
	Counters           CampaignCounters
	CreatedAt          time.Time
	UpdatedAt          time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
	DeletedAt          *time.Time
}

// RetryPolicy defines retry rules for failed calls.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// CampaignCounters aggregates recipient outcomes on the campaign row.
type CampaignCounters struct {
	TotalRecipients int64
	PendingCalls    int64
	CompletedCalls  int64
	SuccessfulCalls int64
	FailedCalls     int64
}

// Processed is the number of recipients that reached a terminal call status.
func (c CampaignCounters) Processed() int64 {
	return c.CompletedCalls + c.FailedCalls
}

// InFlight is the number of recipients still waiting on a terminal outcome.
func (c CampaignCounters) InFlight() int64 {
	remaining := c.TotalRecipients - c.Processed()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// BusinessHours is the per-weekday calling window configuration.
type BusinessHours struct {
	Enabled  bool                  `json:"enabled"`
	Timezone string                `json:"timezone"`
	Schedule map[string][]TimeSlot `json:"schedule"`
}

// TimeSlot is an inclusive HH:MM range.
type TimeSlot struct {
	Start string `json:"start"`
	End   string `json:"end"`
}
