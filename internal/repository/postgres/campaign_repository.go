package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/voice-campaign-core/internal/domain"
	"github.com/acme/voice-campaign-core/internal/repository"
)

const campaignColumns = `id, name, workspace_id, agent_id, status, schedule_type,
	scheduled_start_at, scheduled_expires_at, time_zone, business_hours, max_concurrent_calls,
	retry_max_attempts, retry_delay_ms,
	total_recipients, pending_calls, completed_calls, successful_calls, failed_calls,
	created_at, updated_at, started_at, completed_at, deleted_at`

// CampaignRepository implements repository.CampaignRepository using PostgreSQL.
type CampaignRepository struct {
	db *sqlx.DB
}

// NewCampaignRepository constructs a new repository.
func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create inserts a new campaign.
func (r *CampaignRepository) Create(ctx context.Context, campaign *domain.Campaign) error {
	q := `INSERT INTO campaigns (
		id, name, workspace_id, agent_id, status, schedule_type,
		scheduled_start_at, scheduled_expires_at, time_zone, business_hours, max_concurrent_calls,
		retry_max_attempts, retry_delay_ms, created_at, updated_at
	) VALUES (
		:id, :name, :workspace_id, :agent_id, :status, :schedule_type,
		:scheduled_start_at, :scheduled_expires_at, :time_zone, :business_hours, :max_concurrent_calls,
		:retry_max_attempts, :retry_delay_ms, :created_at, :updated_at
	)`

	params, err := campaignParams(campaign)
	if err != nil {
		return err
	}
	params["status"] = campaign.Status
	params["created_at"] = campaign.CreatedAt

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("campaign repo: insert: %w", err)
	}
	return nil
}

// Get fetches a live campaign by id.
func (r *CampaignRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1 AND deleted_at IS NULL`

	var record campaignRecord
	if err := r.db.QueryRowxContext(ctx, q, id).StructScan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign repo: get: %w", err)
	}
	return record.toDomain()
}

// Update writes editable metadata. Status and counters are never touched here.
func (r *CampaignRepository) Update(ctx context.Context, campaign *domain.Campaign) error {
	q := `UPDATE campaigns SET
		name = :name,
		agent_id = :agent_id,
		schedule_type = :schedule_type,
		scheduled_start_at = :scheduled_start_at,
		scheduled_expires_at = :scheduled_expires_at,
		time_zone = :time_zone,
		business_hours = :business_hours,
		max_concurrent_calls = :max_concurrent_calls,
		retry_max_attempts = :retry_max_attempts,
		retry_delay_ms = :retry_delay_ms,
		updated_at = :updated_at
	 WHERE id = :id AND deleted_at IS NULL`

	params, err := campaignParams(campaign)
	if err != nil {
		return err
	}

	res, err := r.db.NamedExecContext(ctx, q, params)
	if err != nil {
		return fmt.Errorf("campaign repo: update: %w", err)
	}
	return requireRow(res, repository.ErrNotFound)
}

// TransitionStatus performs a conditional status change.
func (r *CampaignRepository) TransitionStatus(ctx context.Context, t repository.StatusTransition) error {
	from := make([]string, 0, len(t.From))
	for _, s := range t.From {
		from = append(from, string(s))
	}

	res, err := r.db.ExecContext(ctx, `UPDATE campaigns SET
		status = $1,
		updated_at = $2,
		started_at = CASE WHEN $1 = 'active' THEN COALESCE(started_at, $2) ELSE started_at END,
		completed_at = CASE WHEN $1 IN ('completed', 'cancelled') THEN $2 ELSE completed_at END,
		scheduled_start_at = COALESCE($3, scheduled_start_at)
	WHERE id = $4 AND deleted_at IS NULL AND status = ANY($5)`,
		string(t.To), t.At, t.ScheduledStartAt, t.ID, from,
	)
	if err != nil {
		return fmt.Errorf("campaign repo: transition status: %w", err)
	}
	return requireRow(res, fmt.Errorf("%w: campaign %s is no longer in an expected status", repository.ErrConflict, t.ID))
}

// CompleteIfDrained completes an active campaign whose recipients all reached a terminal status.
func (r *CampaignRepository) CompleteIfDrained(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE campaigns c SET status = 'completed', completed_at = $2, updated_at = $2
	WHERE c.id = $1 AND c.status = 'active' AND c.deleted_at IS NULL
	  AND NOT EXISTS (
		SELECT 1 FROM recipients rc
		 WHERE rc.campaign_id = c.id AND rc.status IN ('pending', 'calling')
	  )`, id, at)
	if err != nil {
		return false, fmt.Errorf("campaign repo: complete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	return n > 0, nil
}

// ApplyCounters applies counter deltas atomically.
func (r *CampaignRepository) ApplyCounters(ctx context.Context, id uuid.UUID, delta repository.CounterDelta) error {
	return applyCounters(ctx, r.db, id, delta)
}

// SoftDelete hides a campaign that is not currently dialing.
func (r *CampaignRepository) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE campaigns SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL AND status <> 'active'`, id, at)
	if err != nil {
		return fmt.Errorf("campaign repo: soft delete: %w", err)
	}
	return requireRow(res, fmt.Errorf("%w: campaign %s cannot be deleted while active", repository.ErrConflict, id))
}

// List returns live campaigns, newest first.
func (r *CampaignRepository) List(ctx context.Context, filter repository.CampaignFilter) ([]*domain.Campaign, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE deleted_at IS NULL`
	var args []any
	if filter.WorkspaceID != nil {
		args = append(args, *filter.WorkspaceID)
		query += fmt.Sprintf(" AND workspace_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return r.query(ctx, "list", query, args...)
}

// ListByStatus returns campaigns in any of the given statuses, least recently touched first.
func (r *CampaignRepository) ListByStatus(ctx context.Context, statuses []domain.CampaignStatus, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}

	return r.query(ctx, "list by status", `SELECT `+campaignColumns+` FROM campaigns
		WHERE deleted_at IS NULL AND status = ANY($1)
		ORDER BY updated_at ASC LIMIT $2`, values, limit)
}

// ListDue returns scheduled or ready campaigns whose start time has passed.
func (r *CampaignRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.query(ctx, "list due", `SELECT `+campaignColumns+` FROM campaigns
		WHERE deleted_at IS NULL AND status IN ('scheduled', 'ready')
		  AND scheduled_start_at IS NOT NULL AND scheduled_start_at <= $1
		ORDER BY scheduled_start_at ASC LIMIT $2`, now, limit)
}

// ListExpiredDrafts returns drafts past their expiry.
func (r *CampaignRepository) ListExpiredDrafts(ctx context.Context, now time.Time, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.query(ctx, "list expired", `SELECT `+campaignColumns+` FROM campaigns
		WHERE deleted_at IS NULL AND status = 'draft'
		  AND scheduled_expires_at IS NOT NULL AND scheduled_expires_at < $1
		ORDER BY scheduled_expires_at ASC LIMIT $2`, now, limit)
}

// ListAbandonedDrafts returns drafts that never received recipients.
func (r *CampaignRepository) ListAbandonedDrafts(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.query(ctx, "list abandoned", `SELECT `+campaignColumns+` FROM campaigns
		WHERE deleted_at IS NULL AND status = 'draft' AND total_recipients = 0 AND created_at < $1
		ORDER BY created_at ASC LIMIT $2`, createdBefore, limit)
}

func (r *CampaignRepository) query(ctx context.Context, op, q string, args ...any) ([]*domain.Campaign, error) {
	rows, err := r.db.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("campaign repo: %s: %w", op, err)
	}
	defer rows.Close()

	var results []*domain.Campaign
	for rows.Next() {
		var record campaignRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("campaign repo: scan: %w", err)
		}
		campaign, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		results = append(results, campaign)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign repo: rows err: %w", err)
	}
	return results, nil
}

func applyCounters(ctx context.Context, exec sqlx.ExecerContext, id uuid.UUID, delta repository.CounterDelta) error {
	if delta.IsZero() {
		return nil
	}
	_, err := exec.ExecContext(ctx, `UPDATE campaigns SET
		total_recipients = GREATEST(total_recipients + $2, 0),
		pending_calls = GREATEST(pending_calls + $3, 0),
		completed_calls = GREATEST(completed_calls + $4, 0),
		successful_calls = GREATEST(successful_calls + $5, 0),
		failed_calls = GREATEST(failed_calls + $6, 0),
		updated_at = NOW()
	WHERE id = $1`,
		id,
		delta.TotalRecipients,
		delta.PendingCalls,
		delta.CompletedCalls,
		delta.SuccessfulCalls,
		delta.FailedCalls,
	)
	if err != nil {
		return fmt.Errorf("campaign repo: apply counters: %w", err)
	}
	return nil
}

func requireRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return missing
	}
	return nil
}

func campaignParams(c *domain.Campaign) (map[string]any, error) {
	var hours []byte
	if c.BusinessHours != nil {
		raw, err := json.Marshal(c.BusinessHours)
		if err != nil {
			return nil, fmt.Errorf("campaign repo: marshal business hours: %w", err)
		}
		hours = raw
	}

	return map[string]any{
		"id":                   c.ID,
		"name":                 c.Name,
		"workspace_id":         c.WorkspaceID,
		"agent_id":             c.AgentID,
		"schedule_type":        string(c.ScheduleType),
		"scheduled_start_at":   c.ScheduledStartAt,
		"scheduled_expires_at": c.ScheduledExpiresAt,
		"time_zone":            c.TimeZone,
		"business_hours":       hours,
		"max_concurrent_calls": c.MaxConcurrentCalls,
		"retry_max_attempts":   c.RetryPolicy.MaxAttempts,
		"retry_delay_ms":       c.RetryPolicy.Delay.Milliseconds(),
		"updated_at":           c.UpdatedAt,
	}, nil
}

type campaignRecord struct {
	ID                 uuid.UUID    `db:"id"`
	Name               string       `db:"name"`
	WorkspaceID        uuid.UUID    `db:"workspace_id"`
	AgentID            uuid.UUID    `db:"agent_id"`
	Status             string       `db:"status"`
	ScheduleType       string       `db:"schedule_type"`
	ScheduledStartAt   sql.NullTime `db:"scheduled_start_at"`
	ScheduledExpiresAt sql.NullTime `db:"scheduled_expires_at"`
	TimeZone           string       `db:"time_zone"`
	BusinessHours      []byte       `db:"business_hours"`
	MaxConcurrentCalls int          `db:"max_concurrent_calls"`
	RetryMaxAttempts   int          `db:"retry_max_attempts"`
	RetryDelayMs       int64        `db:"retry_delay_ms"`
	TotalRecipients    int64        `db:"total_recipients"`
	PendingCalls       int64        `db:"pending_calls"`
	CompletedCalls     int64        `db:"completed_calls"`
	SuccessfulCalls    int64        `db:"successful_calls"`
	FailedCalls        int64        `db:"failed_calls"`
	CreatedAt          time.Time    `db:"created_at"`
	UpdatedAt          time.Time    `db:"updated_at"`
	StartedAt          sql.NullTime `db:"started_at"`
	CompletedAt        sql.NullTime `db:"completed_at"`
	DeletedAt          sql.NullTime `db:"deleted_at"`
}

func (r campaignRecord) toDomain() (*domain.Campaign, error) {
	campaign := &domain.Campaign{
		ID:                 r.ID,
		Name:               r.Name,
		WorkspaceID:        r.WorkspaceID,
		AgentID:            r.AgentID,
		Status:             domain.CampaignStatus(r.Status),
		ScheduleType:       domain.ScheduleType(r.ScheduleType),
		ScheduledStartAt:   nullTime(r.ScheduledStartAt),
		ScheduledExpiresAt: nullTime(r.ScheduledExpiresAt),
		TimeZone:           r.TimeZone,
		MaxConcurrentCalls: r.MaxConcurrentCalls,
		RetryPolicy: domain.RetryPolicy{
			MaxAttempts: r.RetryMaxAttempts,
			Delay:       time.Duration(r.RetryDelayMs) * time.Millisecond,
		},
		Counters: domain.CampaignCounters{
			TotalRecipients: r.TotalRecipients,
			PendingCalls:    r.PendingCalls,
			CompletedCalls:  r.CompletedCalls,
			SuccessfulCalls: r.SuccessfulCalls,
			FailedCalls:     r.FailedCalls,
		},
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		StartedAt:   nullTime(r.StartedAt),
		CompletedAt: nullTime(r.CompletedAt),
		DeletedAt:   nullTime(r.DeletedAt),
	}

	if len(r.BusinessHours) > 0 {
		var hours domain.BusinessHours
		if err := json.Unmarshal(r.BusinessHours, &hours); err != nil {
			return nil, fmt.Errorf("campaign repo: decode business hours for %s: %w", r.ID, err)
		}
		campaign.BusinessHours = &hours
	}
	return campaign, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
