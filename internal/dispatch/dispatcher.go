// Package dispatch defines the contract between the campaign state machine and the voice
// vendors that actually place calls.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/acme/voice-campaign-core/internal/domain"
	apperrors "github.com/acme/voice-campaign-core/pkg/errors"
)

// PauseGuarantee tells callers what a pause actually stops.
type PauseGuarantee string

const (
	// PauseHard means the vendor stops placing calls for the batch.
	PauseHard PauseGuarantee = "hard"
	// PauseSoft means only calls not yet started are held back; in-flight calls continue.
	PauseSoft PauseGuarantee = "soft"
)

// Caller is the resolved outbound identity for a batch.
type Caller struct {
	Number        string
	PhoneNumberID string
}

// Batch is everything a dispatcher needs to start dialing a campaign.
type Batch struct {
	Campaign   *domain.Campaign
	Agent      *domain.Agent
	Caller     Caller
	APIKey     string
	Recipients []*domain.Recipient
	NotBefore  time.Time
	ExpiresAt  *time.Time
	StartNow   bool
}

// Reference is the vendor-side batch identifier. It is derived from the campaign id so
// repeated submissions of the same campaign are recognisable.
func (b Batch) Reference() string {
	return BatchReference(b.Campaign)
}

// BatchReference derives the batch identifier for a campaign.
func BatchReference(c *domain.Campaign) string {
	return fmt.Sprintf("campaign-%s", c.ID)
}

// Submission is the vendor acknowledgement of a batch.
type Submission struct {
	Reference string
	Accepted  int
	NotBefore time.Time
}

// Dispatcher places the calls of a campaign through one vendor.
type Dispatcher interface {
	Provider() domain.Provider
	PauseGuarantee() PauseGuarantee
	// VendorPaced reports whether the vendor receives the whole batch and paces the calls
	// itself. Such batches are submitted before the campaign status changes; local
	// dispatchers are submitted after the campaign becomes active.
	VendorPaced() bool
	// Validate checks provider-specific preconditions before any state change.
	Validate(b Batch) error
	SubmitBatch(ctx context.Context, b Batch) (Submission, error)
	PauseBatch(ctx context.Context, b Batch) error
	CancelBatch(ctx context.Context, b Batch) error
}

// Registry selects a dispatcher by agent provider.
type Registry struct {
	dispatchers map[domain.Provider]Dispatcher
}

// NewRegistry indexes the given dispatchers by provider.
func NewRegistry(dispatchers ...Dispatcher) *Registry {
	r := &Registry{dispatchers: make(map[domain.Provider]Dispatcher, len(dispatchers))}
	for _, d := range dispatchers {
		r.dispatchers[d.Provider()] = d
	}
	return r
}

// For returns the dispatcher serving provider.
func (r *Registry) For(provider domain.Provider) (Dispatcher, error) {
	d, ok := r.dispatchers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: agent provider %q is not supported for outbound campaigns", apperrors.ErrPrecondition, provider)
	}
	return d, nil
}
