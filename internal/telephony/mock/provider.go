package mock

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-campaign-core/internal/telephony"
)

// Provider simulates the direct-dial vendor for local runs. Calls are accepted immediately
// and end a few seconds later with a random outcome.
type Provider struct {
	successRate float64
	callLength  time.Duration

	mu    sync.Mutex
	rng   *rand.Rand
	calls map[string]call
}

type call struct {
	createdAt time.Time
	success   bool
}

// NewProvider constructs a mock provider.
func NewProvider() *Provider {
	return &Provider{
		successRate: 0.8,
		callLength:  5 * time.Second,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		calls:       make(map[string]call),
	}
}

// CreateCall records a simulated call.
func (p *Provider) CreateCall(ctx context.Context, req telephony.CallRequest) (telephony.CallResult, error) {
	if err := ctx.Err(); err != nil {
		return telephony.CallResult{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	id := uuid.NewString()
	p.calls[id] = call{createdAt: time.Now(), success: p.rng.Float64() <= p.successRate}
	return telephony.CallResult{ID: id, Status: "queued"}, nil
}

// GetCall reports ended once the simulated call length has elapsed.
func (p *Provider) GetCall(ctx context.Context, apiKey, callID string) (telephony.CallResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.calls[callID]
	if !ok {
		return telephony.CallResult{}, &telephony.VendorError{StatusCode: 404, Message: "call not found"}
	}
	if time.Since(c.createdAt) < p.callLength {
		return telephony.CallResult{ID: callID, Status: "in-progress"}, nil
	}
	reason := "customer-ended-call"
	if !c.success {
		reason = "customer-did-not-answer"
	}
	return telephony.CallResult{ID: callID, Status: "ended", EndedReason: reason}, nil
}
