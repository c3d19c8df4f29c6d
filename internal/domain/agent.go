package domain

import "github.com/google/uuid"

// Provider tags the voice vendor an agent is deployed on.
type Provider string

const (
	// ProviderRelay hands the whole call list to a batch-dialing relay.
	ProviderRelay Provider = "relay"
	// ProviderDirectDial places calls one by one through a real-time call API.
	ProviderDirectDial Provider = "direct_dial"
)

// Agent is the read-only slice of a voice agent the campaign core depends on.
type Agent struct {
	ID             uuid.UUID
	WorkspaceID    uuid.UUID
	Name           string
	Provider       Provider
	ExternalID     string
	OutboundNumber string
	PhoneNumberID  *uuid.UUID
	IsActive       bool
}

// PhoneNumber is a workspace-level outbound number record.
type PhoneNumber struct {
	ID            uuid.UUID
	WorkspaceID   uuid.UUID
	Number        string
	VendorPhoneID string
}

// Integration holds workspace-level vendor credentials and defaults.
type Integration struct {
	WorkspaceID          uuid.UUID
	Provider             Provider
	APIKey               string
	DefaultCallerID      string
	DefaultPhoneNumberID string
}
