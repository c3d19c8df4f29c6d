package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/voice-campaign-core/internal/domain"
	"github.com/acme/voice-campaign-core/internal/repository"
)

// AgentDirectory reads agents, workspace phone numbers and integrations. These rows are
// owned by the agent management surface; the campaign core only reads them.
type AgentDirectory struct {
	db *sqlx.DB
}

// NewAgentDirectory constructs the reader.
func NewAgentDirectory(db *sqlx.DB) *AgentDirectory {
	return &AgentDirectory{db: db}
}

// GetAgent loads an agent by id.
func (r *AgentDirectory) GetAgent(ctx context.Context, id uuid.UUID) (*domain.Agent, error) {
	var rec struct {
		ID             uuid.UUID      `db:"id"`
		WorkspaceID    uuid.UUID      `db:"workspace_id"`
		Name           string         `db:"name"`
		Provider       string         `db:"provider"`
		ExternalID     sql.NullString `db:"external_id"`
		OutboundNumber sql.NullString `db:"outbound_number"`
		PhoneNumberID  uuid.NullUUID  `db:"phone_number_id"`
		IsActive       bool           `db:"is_active"`
	}
	err := r.db.QueryRowxContext(ctx, `SELECT id, workspace_id, name, provider, external_id,
		outbound_number, phone_number_id, is_active
		FROM agents WHERE id = $1`, id).StructScan(&rec)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: agent %s", repository.ErrNotFound, id)
		}
		return nil, fmt.Errorf("agent directory: get agent: %w", err)
	}

	agent := &domain.Agent{
		ID:             rec.ID,
		WorkspaceID:    rec.WorkspaceID,
		Name:           rec.Name,
		Provider:       domain.Provider(rec.Provider),
		ExternalID:     rec.ExternalID.String,
		OutboundNumber: rec.OutboundNumber.String,
		IsActive:       rec.IsActive,
	}
	if rec.PhoneNumberID.Valid {
		pid := rec.PhoneNumberID.UUID
		agent.PhoneNumberID = &pid
	}
	return agent, nil
}

// GetPhoneNumber loads a workspace phone number record.
func (r *AgentDirectory) GetPhoneNumber(ctx context.Context, id uuid.UUID) (*domain.PhoneNumber, error) {
	var rec struct {
		ID            uuid.UUID      `db:"id"`
		WorkspaceID   uuid.UUID      `db:"workspace_id"`
		Number        string         `db:"number"`
		VendorPhoneID sql.NullString `db:"vendor_phone_id"`
	}
	err := r.db.QueryRowxContext(ctx, `SELECT id, workspace_id, number, vendor_phone_id
		FROM phone_numbers WHERE id = $1`, id).StructScan(&rec)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: phone number %s", repository.ErrNotFound, id)
		}
		return nil, fmt.Errorf("agent directory: get phone number: %w", err)
	}
	return &domain.PhoneNumber{
		ID:            rec.ID,
		WorkspaceID:   rec.WorkspaceID,
		Number:        rec.Number,
		VendorPhoneID: rec.VendorPhoneID.String,
	}, nil
}

// GetIntegration loads the workspace's integration for a provider.
func (r *AgentDirectory) GetIntegration(ctx context.Context, workspaceID uuid.UUID, provider domain.Provider) (*domain.Integration, error) {
	var rec struct {
		WorkspaceID          uuid.UUID      `db:"workspace_id"`
		Provider             string         `db:"provider"`
		APIKey               sql.NullString `db:"api_key"`
		DefaultCallerID      sql.NullString `db:"default_caller_id"`
		DefaultPhoneNumberID sql.NullString `db:"default_phone_number_id"`
	}
	err := r.db.QueryRowxContext(ctx, `SELECT workspace_id, provider, api_key, default_caller_id, default_phone_number_id
		FROM workspace_integrations WHERE workspace_id = $1 AND provider = $2`, workspaceID, string(provider)).StructScan(&rec)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s integration for workspace %s", repository.ErrNotFound, provider, workspaceID)
		}
		return nil, fmt.Errorf("agent directory: get integration: %w", err)
	}
	return &domain.Integration{
		WorkspaceID:          rec.WorkspaceID,
		Provider:             domain.Provider(rec.Provider),
		APIKey:               rec.APIKey.String,
		DefaultCallerID:      rec.DefaultCallerID.String,
		DefaultPhoneNumberID: rec.DefaultPhoneNumberID.String,
	}, nil
}
