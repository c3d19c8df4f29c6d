// Package sequential dials a campaign one recipient at a time through the direct-dial
// vendor's real-time call API.
package sequential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/voice-campaign-core/internal/domain"
	"github.com/acme/voice-campaign-core/internal/telephony"
	apperrors "github.com/acme/voice-campaign-core/pkg/errors"
)

// Outcome of one recipient within a run.
type Outcome string

const (
	OutcomePlaced  Outcome = "placed"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Credentials are the hard preconditions of a run.
type Credentials struct {
	APIKey        string
	AssistantID   string
	PhoneNumberID string
}

// Check reports every missing credential in one error.
func (c Credentials) Check() error {
	var missing []string
	if c.APIKey == "" {
		missing = append(missing, "API key")
	}
	if c.AssistantID == "" {
		missing = append(missing, "assistant id")
	}
	if c.PhoneNumberID == "" {
		missing = append(missing, "phone number id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: direct dial is missing %s", apperrors.ErrPrecondition, strings.Join(missing, ", "))
	}
	return nil
}

// Result is the per-recipient record of a run.
type Result struct {
	RecipientID  uuid.UUID
	PhoneNumber  string
	Outcome      Outcome
	VendorCallID string
	Error        string
	Attempts     int
}

// Summary rolls up a run.
type Summary struct {
	Succeeded int
	Failed    int
	Skipped   int
	// Stopped is set when the campaign left the active status mid-run.
	Stopped bool
	// WindowClosed is set when a business-hours checkpoint ended the run.
	WindowClosed bool
	Results      []Result
}

// Recorder receives per-recipient results as they happen.
type Recorder interface {
	Record(ctx context.Context, campaignID uuid.UUID, r Result) error
}

// RunInput is one dialing pass over a campaign.
type RunInput struct {
	CampaignID  uuid.UUID
	Credentials Credentials
	Recipients  []*domain.Recipient
	// Window reports whether dialing is currently allowed. Nil means always.
	Window func(now time.Time) bool
	// Stop reports whether the campaign was paused or cancelled. Nil means never.
	Stop func(ctx context.Context) (bool, error)
	// Claim takes a recipient out of the pending set before its call is placed. A
	// recipient that is not claimed is skipped. Nil dials every recipient.
	Claim    func(ctx context.Context, r *domain.Recipient) (bool, error)
	Recorder Recorder
}

// Options tunes pacing and retries.
type Options struct {
	// Delay between successive calls. Zero disables pacing.
	Delay time.Duration
	// CheckpointEvery is how many calls pass between business-hours checks.
	CheckpointEvery int
	// MaxRetries is the number of extra attempts after the first one fails.
	MaxRetries    int
	RateLimitWait time.Duration
	ErrorWait     time.Duration
	Sleep         func(ctx context.Context, d time.Duration) error
	Now           func() time.Time
	Logger        *zap.Logger
}

// DefaultOptions mirrors the vendor's documented throughput limits.
func DefaultOptions() Options {
	return Options{
		Delay:           time.Second,
		CheckpointEvery: 10,
		MaxRetries:      2,
		RateLimitWait:   5 * time.Second,
		ErrorWait:       2 * time.Second,
	}
}

// Dialer runs sequential dialing passes.
type Dialer struct {
	calls telephony.CallCreator
	opts  Options
}

// NewDialer constructs a dialer.
func NewDialer(calls telephony.CallCreator, opts Options) *Dialer {
	if opts.CheckpointEvery <= 0 {
		opts.CheckpointEvery = 10
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Dialer{calls: calls, opts: opts}
}

// Run dials the recipients in order. Individual call failures are recorded and never
// abort the run; only missing credentials or a cancelled context end it with an error.
func (d *Dialer) Run(ctx context.Context, in RunInput) (Summary, error) {
	if err := in.Credentials.Check(); err != nil {
		return Summary{}, err
	}

	log := d.opts.Logger.With(zap.String("campaign_id", in.CampaignID.String()))
	summary := Summary{Results: make([]Result, 0, len(in.Recipients))}

	for i, r := range in.Recipients {
		if ctx.Err() != nil {
			d.skipRemaining(&summary, in.Recipients[i:])
			return summary, ctx.Err()
		}

		if i%d.opts.CheckpointEvery == 0 && in.Window != nil && !in.Window(d.opts.Now()) {
			log.Info("sequential dial: outside business hours, skipping remainder",
				zap.Int("position", i),
				zap.Int("skipped", len(in.Recipients)-i),
			)
			summary.WindowClosed = true
			d.skipRemaining(&summary, in.Recipients[i:])
			return summary, nil
		}

		if in.Stop != nil {
			stop, err := in.Stop(ctx)
			if err != nil {
				log.Warn("sequential dial: stop check failed", zap.Error(err))
			}
			if stop {
				log.Info("sequential dial: campaign no longer active", zap.Int("position", i))
				summary.Stopped = true
				d.skipRemaining(&summary, in.Recipients[i:])
				return summary, nil
			}
		}

		if in.Claim != nil {
			claimed, err := in.Claim(ctx, r)
			if err != nil {
				log.Warn("sequential dial: claim failed",
					zap.String("recipient_id", r.ID.String()),
					zap.Error(err),
				)
			}
			if !claimed {
				summary.Skipped++
				summary.Results = append(summary.Results, Result{RecipientID: r.ID, PhoneNumber: r.PhoneNumber, Outcome: OutcomeSkipped})
				continue
			}
		}

		result := d.dial(ctx, in.Credentials, r, log)
		summary.Results = append(summary.Results, result)
		switch result.Outcome {
		case OutcomePlaced:
			summary.Succeeded++
		default:
			summary.Failed++
		}

		if in.Recorder != nil {
			if err := in.Recorder.Record(ctx, in.CampaignID, result); err != nil {
				log.Error("sequential dial: record result failed",
					zap.String("recipient_id", r.ID.String()),
					zap.Error(err),
				)
			}
		}

		if i < len(in.Recipients)-1 && d.opts.Delay > 0 {
			if err := d.opts.Sleep(ctx, d.opts.Delay); err != nil {
				d.skipRemaining(&summary, in.Recipients[i+1:])
				return summary, err
			}
		}
	}

	return summary, nil
}

func (d *Dialer) dial(ctx context.Context, creds Credentials, r *domain.Recipient, log *zap.Logger) Result {
	result := Result{RecipientID: r.ID, PhoneNumber: r.PhoneNumber}
	req := telephony.CallRequest{
		APIKey:         creds.APIKey,
		AssistantID:    creds.AssistantID,
		PhoneNumberID:  creds.PhoneNumberID,
		CustomerNumber: r.PhoneNumber,
		CustomerName:   r.Name,
		Metadata:       callMetadata(r),
	}

	for {
		result.Attempts++
		call, err := d.calls.CreateCall(ctx, req)
		if err == nil {
			result.Outcome = OutcomePlaced
			result.VendorCallID = call.ID
			result.Error = ""
			return result
		}

		result.Outcome = OutcomeFailed
		result.Error = err.Error()
		if result.Attempts > d.opts.MaxRetries || !retryable(err) {
			log.Warn("sequential dial: call failed",
				zap.String("recipient_id", r.ID.String()),
				zap.Int("attempts", result.Attempts),
				zap.Error(err),
			)
			return result
		}

		wait := d.opts.ErrorWait
		if errors.Is(err, telephony.ErrRateLimited) {
			wait = d.opts.RateLimitWait
		}
		if err := d.opts.Sleep(ctx, wait); err != nil {
			result.Error = err.Error()
			return result
		}
	}
}

func (d *Dialer) skipRemaining(s *Summary, rest []*domain.Recipient) {
	for _, r := range rest {
		s.Skipped++
		s.Results = append(s.Results, Result{RecipientID: r.ID, PhoneNumber: r.PhoneNumber, Outcome: OutcomeSkipped})
	}
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var vendorErr *telephony.VendorError
	if errors.As(err, &vendorErr) {
		return vendorErr.Retryable()
	}
	return true
}

func callMetadata(r *domain.Recipient) map[string]string {
	meta := make(map[string]string, len(r.Variables)+3)
	for k, v := range r.Variables {
		meta[k] = v
	}
	meta["recipient_id"] = r.ID.String()
	meta["campaign_id"] = r.CampaignID.String()
	if r.Email != "" {
		meta["email"] = r.Email
	}
	if r.Company != "" {
		meta["company"] = r.Company
	}
	return meta
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
