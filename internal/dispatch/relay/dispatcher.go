// Package relay submits whole campaigns to the batch-relay vendor, which paces and retries
// the individual calls itself.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/voice-campaign-core/internal/businesshours"
	"github.com/acme/voice-campaign-core/internal/dispatch"
	"github.com/acme/voice-campaign-core/internal/domain"
	apperrors "github.com/acme/voice-campaign-core/pkg/errors"
)

// Options configures the relay client.
type Options struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	// BatchTTL bounds exp when the campaign has no expiry of its own.
	BatchTTL time.Duration
	Now      func() time.Time
	Logger   *zap.Logger
}

// Dispatcher is the relay implementation of dispatch.Dispatcher.
type Dispatcher struct {
	baseURL    string
	apiKey     string
	batchTTL   time.Duration
	httpClient *http.Client
	now        func() time.Time
	logger     *zap.Logger
}

// New constructs a relay dispatcher.
func New(opts Options) *Dispatcher {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.BatchTTL <= 0 {
		opts.BatchTTL = 72 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Dispatcher{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		batchTTL:   opts.BatchTTL,
		httpClient: &http.Client{Timeout: opts.RequestTimeout},
		now:        opts.Now,
		logger:     opts.Logger,
	}
}

// Provider implements dispatch.Dispatcher.
func (d *Dispatcher) Provider() domain.Provider { return domain.ProviderRelay }

// PauseGuarantee implements dispatch.Dispatcher.
func (d *Dispatcher) PauseGuarantee() dispatch.PauseGuarantee { return dispatch.PauseHard }

// VendorPaced implements dispatch.Dispatcher.
func (d *Dispatcher) VendorPaced() bool { return true }

// Validate implements dispatch.Dispatcher.
func (d *Dispatcher) Validate(b dispatch.Batch) error {
	if b.Caller.Number == "" {
		return fmt.Errorf("%w: No outbound phone number configured for the agent", apperrors.ErrPrecondition)
	}
	if d.key(b) == "" {
		return fmt.Errorf("%w: relay API key is not configured", apperrors.ErrPrecondition)
	}
	return nil
}

// BlockRule is one blocked interval of a weekday, in the campaign timezone.
type BlockRule struct {
	Day      string `json:"day"`
	From     string `json:"from"`
	To       string `json:"to"`
	Timezone string `json:"timezone"`
}

// Payload is the load-batch request body.
type Payload struct {
	BatchRef    string              `json:"batchRef"`
	AgentID     string              `json:"agentId"`
	WorkspaceID string              `json:"workspaceId"`
	CLI         string              `json:"cli"`
	CallList    []map[string]string `json:"callList"`
	NBF         int64               `json:"nbf"`
	EXP         int64               `json:"exp"`
	BlockRules  []BlockRule         `json:"blockRules"`
}

// BuildPayload maps a batch into the vendor's request shape.
func (d *Dispatcher) BuildPayload(b dispatch.Batch) (Payload, error) {
	now := d.now()
	nbf := b.NotBefore
	if b.StartNow || nbf.IsZero() || nbf.Before(now) {
		nbf = now
	}

	exp := nbf.Add(d.batchTTL)
	if b.ExpiresAt != nil && b.ExpiresAt.After(nbf) {
		exp = *b.ExpiresAt
	}

	rules, err := blockRules(b.Campaign)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: business hours: %v", apperrors.ErrValidation, err)
	}

	calls := make([]map[string]string, 0, len(b.Recipients))
	for _, r := range b.Recipients {
		calls = append(calls, callRecord(r))
	}

	return Payload{
		BatchRef:    b.Reference(),
		AgentID:     b.Agent.ExternalID,
		WorkspaceID: b.Campaign.WorkspaceID.String(),
		CLI:         b.Caller.Number,
		CallList:    calls,
		NBF:         nbf.Unix(),
		EXP:         exp.Unix(),
		BlockRules:  rules,
	}, nil
}

// SubmitBatch loads the whole pending list into the relay in one request.
func (d *Dispatcher) SubmitBatch(ctx context.Context, b dispatch.Batch) (dispatch.Submission, error) {
	ctx, span := otel.Tracer("dispatch/relay").Start(ctx, "relay.SubmitBatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("campaign.id", b.Campaign.ID.String()),
		attribute.Int("batch.size", len(b.Recipients)),
	)

	if len(b.Recipients) == 0 {
		return dispatch.Submission{}, fmt.Errorf("%w: Campaign has no pending recipients", apperrors.ErrPrecondition)
	}

	payload, err := d.BuildPayload(b)
	if err != nil {
		return dispatch.Submission{}, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return dispatch.Submission{}, fmt.Errorf("relay: encode payload: %w", err)
	}

	if err := d.post(ctx, "/batches", d.key(b), body); err != nil {
		return dispatch.Submission{}, err
	}

	d.logger.Info("relay batch submitted",
		zap.String("batch_ref", payload.BatchRef),
		zap.Int("calls", len(payload.CallList)),
		zap.Int64("nbf", payload.NBF),
	)

	return dispatch.Submission{
		Reference: payload.BatchRef,
		Accepted:  len(payload.CallList),
		NotBefore: time.Unix(payload.NBF, 0).UTC(),
	}, nil
}

// PauseBatch asks the relay to stop placing calls for the batch.
func (d *Dispatcher) PauseBatch(ctx context.Context, b dispatch.Batch) error {
	return d.post(ctx, "/batches/"+b.Reference()+"/pause", d.key(b), nil)
}

// CancelBatch drops the batch at the relay.
func (d *Dispatcher) CancelBatch(ctx context.Context, b dispatch.Batch) error {
	return d.post(ctx, "/batches/"+b.Reference()+"/cancel", d.key(b), nil)
}

func (d *Dispatcher) key(b dispatch.Batch) string {
	if b.APIKey != "" {
		return b.APIKey
	}
	return d.apiKey
}

func (d *Dispatcher) post(ctx context.Context, path, apiKey string, body []byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("relay: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: relay request %s failed: %v", apperrors.ErrVendor, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := vendorMessage(raw)
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: relay rate limited the request: %s", apperrors.ErrVendor, msg)
	}
	return fmt.Errorf("%w: relay rejected %s (status %d): %s", apperrors.ErrVendor, path, resp.StatusCode, msg)
}

func vendorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	if msg := strings.TrimSpace(string(raw)); msg != "" {
		return msg
	}
	return "no response body"
}

func callRecord(r *domain.Recipient) map[string]string {
	rec := make(map[string]string, len(r.Variables)+5)
	for k, v := range r.Variables {
		rec[k] = v
	}
	rec["number"] = r.PhoneNumber
	rec["recipient_id"] = r.ID.String()
	if r.Name != "" {
		rec["name"] = r.Name
	}
	if r.Email != "" {
		rec["email"] = r.Email
	}
	if r.Company != "" {
		rec["company"] = r.Company
	}
	return rec
}

func blockRules(c *domain.Campaign) ([]BlockRule, error) {
	if !businesshours.Restricted(c.BusinessHours) {
		return []BlockRule{}, nil
	}

	tz := c.BusinessHours.Timezone
	if tz == "" {
		tz = c.TimeZone
	}

	var rules []BlockRule
	for day := time.Sunday; day <= time.Saturday; day++ {
		ranges, err := businesshours.BlockedRanges(c.BusinessHours, day)
		if err != nil {
			return nil, err
		}
		for _, r := range ranges {
			rules = append(rules, BlockRule{
				Day:      businesshours.WeekdayName(day),
				From:     businesshours.FormatMinute(r[0]),
				To:       businesshours.FormatMinute(r[1]),
				Timezone: tz,
			})
		}
	}
	return rules, nil
}
