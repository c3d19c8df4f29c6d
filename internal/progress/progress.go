package progress

import (
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-campaign-core/internal/domain"
)

// Snapshot is a polled read of a campaign.
type Snapshot struct {
	CampaignID uuid.UUID
	Status     domain.CampaignStatus
	Counters   domain.CampaignCounters
	At         time.Time
}

// SnapshotOf builds a snapshot from a campaign row.
func SnapshotOf(c *domain.Campaign, at time.Time) Snapshot {
	return Snapshot{CampaignID: c.ID, Status: c.Status, Counters: c.Counters, At: at}
}

// Progress is the derived view sent to observers.
type Progress struct {
	CampaignID     uuid.UUID             `json:"campaign_id"`
	Status         domain.CampaignStatus `json:"status"`
	Mode           Mode                  `json:"mode"`
	Total          int64                 `json:"total"`
	Pending        int64                 `json:"pending"`
	Completed      int64                 `json:"completed"`
	Successful     int64                 `json:"successful"`
	Failed         int64                 `json:"failed"`
	Percent        float64               `json:"percent"`
	SuccessRate    float64               `json:"success_rate"`
	CallsPerMinute float64               `json:"calls_per_minute"`
	ETASeconds     *float64              `json:"eta_seconds,omitempty"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// Compute derives progress metrics from a snapshot and the rate window. The window is
// fed with the processed count (completed + failed) of the snapshot.
func Compute(s Snapshot, window *RateWindow, mode Mode) Progress {
	c := s.Counters
	processed := c.Processed()

	p := Progress{
		CampaignID: s.CampaignID,
		Status:     s.Status,
		Mode:       mode,
		Total:      c.TotalRecipients,
		Pending:    c.PendingCalls,
		Completed:  c.CompletedCalls,
		Successful: c.SuccessfulCalls,
		Failed:     c.FailedCalls,
		UpdatedAt:  s.At,
	}
	if c.TotalRecipients > 0 {
		p.Percent = float64(processed) / float64(c.TotalRecipients) * 100
		if p.Percent > 100 {
			p.Percent = 100
		}
	}
	if processed > 0 {
		p.SuccessRate = float64(c.SuccessfulCalls) / float64(processed) * 100
	}

	if window != nil {
		window.Add(s.At, processed)
		p.CallsPerMinute = window.CallsPerMinute()
		if eta, ok := window.EstimatedSecondsRemaining(c.InFlight()); ok {
			p.ETASeconds = &eta
		}
	}
	return p
}
