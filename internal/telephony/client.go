// Package telephony talks to the direct-dial voice vendor's real-time call API.
package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/acme/voice-campaign-core/pkg/errors"
)

// ErrRateLimited is returned when the vendor answers 429.
var ErrRateLimited = errors.New("direct dial: rate limited")

// CallRequest describes one outbound call.
type CallRequest struct {
	APIKey         string
	AssistantID    string
	PhoneNumberID  string
	CustomerNumber string
	CustomerName   string
	Metadata       map[string]string
}

// CallResult is the vendor's view of a call.
type CallResult struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	EndedReason string `json:"endedReason,omitempty"`
}

// Ended reports whether the vendor considers the call finished.
func (r CallResult) Ended() bool {
	return r.Status == "ended"
}

// Outcome classifies an ended call. connected=false means the call itself failed
// (dial error, carrier rejection); answered reports whether a person took the call.
func (r CallResult) Outcome() (connected, answered bool) {
	reason := strings.ToLower(r.EndedReason)
	switch {
	case strings.Contains(reason, "error"), strings.Contains(reason, "failed"):
		return false, false
	case reason == "customer-did-not-answer", reason == "customer-busy", reason == "voicemail", reason == "no-answer":
		return true, false
	default:
		return true, true
	}
}

// CallCreator abstracts the direct-dial vendor.
type CallCreator interface {
	CreateCall(ctx context.Context, req CallRequest) (CallResult, error)
	GetCall(ctx context.Context, apiKey, callID string) (CallResult, error)
}

// VendorError is a non-2xx answer from the vendor.
type VendorError struct {
	StatusCode int
	Message    string
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("direct dial: status %d: %s", e.StatusCode, e.Message)
}

// Unwrap lets callers match vendor failures against the shared sentinel.
func (e *VendorError) Unwrap() error {
	return apperrors.ErrVendor
}

// Retryable reports whether retrying the same request may succeed.
func (e *VendorError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

// Client is the HTTP implementation of CallCreator.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client. A zero timeout falls back to 15s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type createCallBody struct {
	AssistantID   string            `json:"assistantId"`
	PhoneNumberID string            `json:"phoneNumberId"`
	Customer      customer          `json:"customer"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type customer struct {
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
}

// CreateCall places a call.
func (c *Client) CreateCall(ctx context.Context, req CallRequest) (CallResult, error) {
	body, err := json.Marshal(createCallBody{
		AssistantID:   req.AssistantID,
		PhoneNumberID: req.PhoneNumberID,
		Customer:      customer{Number: req.CustomerNumber, Name: req.CustomerName},
		Metadata:      req.Metadata,
	})
	if err != nil {
		return CallResult{}, fmt.Errorf("direct dial: encode call: %w", err)
	}

	var result CallResult
	if err := c.do(ctx, http.MethodPost, "/call", req.APIKey, body, &result); err != nil {
		return CallResult{}, err
	}
	return result, nil
}

// GetCall fetches the current state of a call.
func (c *Client) GetCall(ctx context.Context, apiKey, callID string) (CallResult, error) {
	var result CallResult
	if err := c.do(ctx, http.MethodGet, "/call/"+callID, apiKey, nil, &result); err != nil {
		return CallResult{}, err
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, path, apiKey string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("direct dial: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("direct dial: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &VendorError{StatusCode: resp.StatusCode, Message: vendorMessage(payload)}
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("direct dial: decode response: %w", err)
		}
	}
	return nil
}

func vendorMessage(payload []byte) string {
	var body struct {
		Message any    `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		switch m := body.Message.(type) {
		case string:
			if m != "" {
				return m
			}
		case []any:
			parts := make([]string, 0, len(m))
			for _, p := range m {
				parts = append(parts, fmt.Sprint(p))
			}
			return strings.Join(parts, "; ")
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(payload))
}
