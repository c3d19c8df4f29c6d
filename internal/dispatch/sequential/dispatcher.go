package sequential

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/acme/voice-campaign-core/internal/dispatch"
	"github.com/acme/voice-campaign-core/internal/domain"
	apperrors "github.com/acme/voice-campaign-core/pkg/errors"
)

// JobQueue hands a campaign to the dialer workers.
type JobQueue interface {
	EnqueueDial(ctx context.Context, campaignID uuid.UUID, reason string) error
}

// Dispatcher adapts the sequential dialer to dispatch.Dispatcher. Submitting a batch only
// enqueues a dial job; a dialer worker owns the actual loop. The vendor has no pause, so
// pause and cancel rely on the loop observing the campaign status before each call.
type Dispatcher struct {
	jobs JobQueue
}

// NewDispatcher constructs the adapter.
func NewDispatcher(jobs JobQueue) *Dispatcher {
	return &Dispatcher{jobs: jobs}
}

// Provider implements dispatch.Dispatcher.
func (d *Dispatcher) Provider() domain.Provider { return domain.ProviderDirectDial }

// PauseGuarantee implements dispatch.Dispatcher.
func (d *Dispatcher) PauseGuarantee() dispatch.PauseGuarantee { return dispatch.PauseSoft }

// VendorPaced implements dispatch.Dispatcher.
func (d *Dispatcher) VendorPaced() bool { return false }

// Validate implements dispatch.Dispatcher.
func (d *Dispatcher) Validate(b dispatch.Batch) error {
	return CredentialsFor(b).Check()
}

// SubmitBatch enqueues the campaign for the dialer workers.
func (d *Dispatcher) SubmitBatch(ctx context.Context, b dispatch.Batch) (dispatch.Submission, error) {
	if err := d.Validate(b); err != nil {
		return dispatch.Submission{}, err
	}
	if err := d.jobs.EnqueueDial(ctx, b.Campaign.ID, "start"); err != nil {
		return dispatch.Submission{}, fmt.Errorf("%w: enqueue dial job: %v", apperrors.ErrUnavailable, err)
	}
	return dispatch.Submission{
		Reference: b.Reference(),
		Accepted:  len(b.Recipients),
		NotBefore: b.NotBefore,
	}, nil
}

// PauseBatch is a no-op: the dialer loop checks the campaign status before every call.
func (d *Dispatcher) PauseBatch(context.Context, dispatch.Batch) error { return nil }

// CancelBatch is a no-op for the same reason as PauseBatch.
func (d *Dispatcher) CancelBatch(context.Context, dispatch.Batch) error { return nil }

// CredentialsFor extracts the direct-dial credentials from a batch.
func CredentialsFor(b dispatch.Batch) Credentials {
	creds := Credentials{APIKey: b.APIKey, PhoneNumberID: b.Caller.PhoneNumberID}
	if b.Agent != nil {
		creds.AssistantID = b.Agent.ExternalID
	}
	return creds
}
