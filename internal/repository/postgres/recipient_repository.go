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

// insertChunk keeps bulk inserts well below the Postgres bind parameter limit.
const insertChunk = 1000

const recipientColumns = `id, campaign_id, phone_number, name, email, company, variables,
	status, successful, vendor_call_id, last_error, attempts, created_at, updated_at`

// RecipientRepository persists campaign recipients.
type RecipientRepository struct {
	db *sqlx.DB
}

// NewRecipientRepository constructs the repository.
func NewRecipientRepository(db *sqlx.DB) *RecipientRepository {
	return &RecipientRepository{db: db}
}

// InsertBatch inserts recipients and bumps the campaign counters by the number written.
func (r *RecipientRepository) InsertBatch(ctx context.Context, campaignID uuid.UUID, recipients []*domain.Recipient) (int64, error) {
	if len(recipients) == 0 {
		return 0, nil
	}

	query := `INSERT INTO recipients (` + recipientColumns + `) VALUES (
		:id, :campaign_id, :phone_number, :name, :email, :company, :variables,
		:status, :successful, :vendor_call_id, :last_error, :attempts, :created_at, :updated_at
	) ON CONFLICT (campaign_id, phone_number) DO NOTHING`

	var inserted int64
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		inserted = 0
		for start := 0; start < len(recipients); start += insertChunk {
			end := start + insertChunk
			if end > len(recipients) {
				end = len(recipients)
			}

			rows := make([]map[string]any, 0, end-start)
			for _, rc := range recipients[start:end] {
				params, err := recipientParams(campaignID, rc)
				if err != nil {
					return err
				}
				rows = append(rows, params)
			}

			res, err := tx.NamedExecContext(ctx, query, rows)
			if err != nil {
				return fmt.Errorf("recipient repo: bulk insert: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("recipient repo: rows affected: %w", err)
			}
			inserted += n
		}

		return applyCounters(ctx, tx, campaignID, repository.CounterDelta{
			TotalRecipients: inserted,
			PendingCalls:    inserted,
		})
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// Insert stores a single recipient. A phone number already present on the campaign yields ErrConflict.
func (r *RecipientRepository) Insert(ctx context.Context, recipient *domain.Recipient) error {
	query := `INSERT INTO recipients (` + recipientColumns + `) VALUES (
		:id, :campaign_id, :phone_number, :name, :email, :company, :variables,
		:status, :successful, :vendor_call_id, :last_error, :attempts, :created_at, :updated_at
	) ON CONFLICT (campaign_id, phone_number) DO NOTHING`

	params, err := recipientParams(recipient.CampaignID, recipient)
	if err != nil {
		return err
	}

	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, query, params)
		if err != nil {
			return fmt.Errorf("recipient repo: insert: %w", err)
		}
		if err := requireRow(res, fmt.Errorf("%w: phone number %s already exists on this campaign", repository.ErrConflict, recipient.PhoneNumber)); err != nil {
			return err
		}
		return applyCounters(ctx, tx, recipient.CampaignID, repository.CounterDelta{TotalRecipients: 1, PendingCalls: 1})
	})
}

// Get loads a recipient of the given campaign.
func (r *RecipientRepository) Get(ctx context.Context, campaignID, id uuid.UUID) (*domain.Recipient, error) {
	var rec recipientRecord
	err := r.db.QueryRowxContext(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE campaign_id = $1 AND id = $2`,
		campaignID, id).StructScan(&rec)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("recipient repo: get: %w", err)
	}
	return rec.toDomain()
}

// Delete removes one recipient and reverses its contribution to the counters.
func (r *RecipientRepository) Delete(ctx context.Context, campaignID, id uuid.UUID) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var gone struct {
			Status     string `db:"status"`
			Successful bool   `db:"successful"`
		}
		err := tx.QueryRowxContext(ctx, `DELETE FROM recipients WHERE campaign_id = $1 AND id = $2
			RETURNING status, successful`, campaignID, id).StructScan(&gone)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return repository.ErrNotFound
			}
			return fmt.Errorf("recipient repo: delete: %w", err)
		}
		return applyCounters(ctx, tx, campaignID, repository.RemovalDelta(domain.RecipientStatus(gone.Status), gone.Successful))
	})
}

// DeleteAll removes every recipient of a campaign.
func (r *RecipientRepository) DeleteAll(ctx context.Context, campaignID uuid.UUID) (int64, error) {
	var removed int64
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var agg struct {
			Total      int64 `db:"total"`
			Pending    int64 `db:"pending"`
			Completed  int64 `db:"completed"`
			Successful int64 `db:"successful"`
			Failed     int64 `db:"failed"`
		}
		err := tx.QueryRowxContext(ctx, `WITH gone AS (
			DELETE FROM recipients WHERE campaign_id = $1 RETURNING status, successful
		)
		SELECT COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE status = 'pending') AS pending,
		       COUNT(*) FILTER (WHERE status = 'completed') AS completed,
		       COUNT(*) FILTER (WHERE status = 'completed' AND successful) AS successful,
		       COUNT(*) FILTER (WHERE status = 'failed') AS failed
		  FROM gone`, campaignID).StructScan(&agg)
		if err != nil {
			return fmt.Errorf("recipient repo: delete all: %w", err)
		}

		removed = agg.Total
		return applyCounters(ctx, tx, campaignID, repository.CounterDelta{
			TotalRecipients: -agg.Total,
			PendingCalls:    -agg.Pending,
			CompletedCalls:  -agg.Completed,
			SuccessfulCalls: -agg.Successful,
			FailedCalls:     -agg.Failed,
		})
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// List lists recipients, optionally filtered by status, in insertion order.
func (r *RecipientRepository) List(ctx context.Context, campaignID uuid.UUID, filter repository.RecipientFilter) ([]*domain.Recipient, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE campaign_id = $1`
	args := []any{campaignID}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at ASC, id ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return r.query(ctx, "list", query, args...)
}

// ListPending returns the recipients still waiting for a first call, in list order.
func (r *RecipientRepository) ListPending(ctx context.Context, campaignID uuid.UUID, limit int) ([]*domain.Recipient, error) {
	if limit <= 0 {
		limit = 10000
	}
	return r.query(ctx, "list pending", `SELECT `+recipientColumns+` FROM recipients
		WHERE campaign_id = $1 AND status = 'pending'
		ORDER BY created_at ASC, id ASC LIMIT $2`, campaignID, limit)
}

// CountByStatus counts recipients in any of the given statuses.
func (r *RecipientRepository) CountByStatus(ctx context.Context, campaignID uuid.UUID, statuses ...domain.RecipientStatus) (int64, error) {
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}

	var n int64
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM recipients WHERE campaign_id = $1 AND status = ANY($2)`,
		campaignID, values); err != nil {
		return 0, fmt.Errorf("recipient repo: count: %w", err)
	}
	return n, nil
}

// ListStuckCalling returns recipients that have been calling since before the cutoff,
// including claims whose call id was never attached.
func (r *RecipientRepository) ListStuckCalling(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Recipient, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.query(ctx, "list stuck", `SELECT `+recipientColumns+` FROM recipients
		WHERE status = 'calling' AND updated_at < $1
		ORDER BY updated_at ASC LIMIT $2`, updatedBefore, limit)
}

// ApplyStatus moves a recipient forward and rolls the change into the campaign counters.
func (r *RecipientRepository) ApplyStatus(ctx context.Context, u repository.RecipientStatusUpdate) (repository.StatusChange, error) {
	var change repository.StatusChange
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var current struct {
			Status       string `db:"status"`
			VendorCallID string `db:"vendor_call_id"`
		}
		err := tx.GetContext(ctx, &current, `SELECT status, vendor_call_id FROM recipients
			WHERE campaign_id = $1 AND id = $2 FOR UPDATE`, u.CampaignID, u.RecipientID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return repository.ErrNotFound
			}
			return fmt.Errorf("recipient repo: lock: %w", err)
		}

		from := domain.RecipientStatus(current.Status)
		change = repository.StatusChange{From: from, To: u.Status}
		if domain.AttachesCall(from, current.VendorCallID, u.Status, u.VendorCallID) {
			if _, err := tx.ExecContext(ctx, `UPDATE recipients SET vendor_call_id = $3, updated_at = $4
				WHERE campaign_id = $1 AND id = $2`, u.CampaignID, u.RecipientID, u.VendorCallID, u.At); err != nil {
				return fmt.Errorf("recipient repo: attach call: %w", err)
			}
			change.Applied = true
			return nil
		}
		if !allowed(from, u.Status) {
			return nil
		}

		_, err = tx.ExecContext(ctx, `UPDATE recipients SET
			status = $3,
			successful = $4,
			vendor_call_id = CASE WHEN $5 = '' THEN vendor_call_id ELSE $5 END,
			last_error = CASE WHEN $6 = '' THEN last_error ELSE $6 END,
			attempts = CASE WHEN $3 = 'calling' THEN attempts + 1 ELSE attempts END,
			updated_at = $7
		WHERE campaign_id = $1 AND id = $2`,
			u.CampaignID, u.RecipientID, string(u.Status), u.Successful, u.VendorCallID, u.Error, u.At)
		if err != nil {
			return fmt.Errorf("recipient repo: apply status: %w", err)
		}

		change.Applied = true
		change.Delta = repository.TransitionDelta(from, u.Status, u.Successful)
		return applyCounters(ctx, tx, u.CampaignID, change.Delta)
	})
	if err != nil {
		return repository.StatusChange{}, err
	}
	return change, nil
}

func allowed(from, to domain.RecipientStatus) bool {
	for _, s := range domain.PredecessorsOf(to) {
		if s == from {
			return true
		}
	}
	return false
}

func (r *RecipientRepository) query(ctx context.Context, op, q string, args ...any) ([]*domain.Recipient, error) {
	rows, err := r.db.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("recipient repo: %s: %w", op, err)
	}
	defer rows.Close()

	var results []*domain.Recipient
	for rows.Next() {
		var rec recipientRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("recipient repo: scan: %w", err)
		}
		recipient, err := rec.toDomain()
		if err != nil {
			return nil, err
		}
		results = append(results, recipient)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recipient repo: rows err: %w", err)
	}
	return results, nil
}

func recipientParams(campaignID uuid.UUID, rc *domain.Recipient) (map[string]any, error) {
	vars := rc.Variables
	if vars == nil {
		vars = map[string]string{}
	}
	payload, err := json.Marshal(vars)
	if err != nil {
		return nil, fmt.Errorf("recipient repo: marshal variables: %w", err)
	}

	return map[string]any{
		"id":             rc.ID,
		"campaign_id":    campaignID,
		"phone_number":   rc.PhoneNumber,
		"name":           rc.Name,
		"email":          rc.Email,
		"company":        rc.Company,
		"variables":      payload,
		"status":         string(rc.Status),
		"successful":     rc.Successful,
		"vendor_call_id": rc.VendorCallID,
		"last_error":     rc.LastError,
		"attempts":       rc.Attempts,
		"created_at":     rc.CreatedAt,
		"updated_at":     rc.UpdatedAt,
	}, nil
}

type recipientRecord struct {
	ID           uuid.UUID `db:"id"`
	CampaignID   uuid.UUID `db:"campaign_id"`
	PhoneNumber  string    `db:"phone_number"`
	Name         string    `db:"name"`
	Email        string    `db:"email"`
	Company      string    `db:"company"`
	Variables    []byte    `db:"variables"`
	Status       string    `db:"status"`
	Successful   bool      `db:"successful"`
	VendorCallID string    `db:"vendor_call_id"`
	LastError    string    `db:"last_error"`
	Attempts     int       `db:"attempts"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r recipientRecord) toDomain() (*domain.Recipient, error) {
	rc := &domain.Recipient{
		ID:           r.ID,
		CampaignID:   r.CampaignID,
		PhoneNumber:  r.PhoneNumber,
		Name:         r.Name,
		Email:        r.Email,
		Company:      r.Company,
		Status:       domain.RecipientStatus(r.Status),
		Successful:   r.Successful,
		VendorCallID: r.VendorCallID,
		LastError:    r.LastError,
		Attempts:     r.Attempts,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if len(r.Variables) > 0 {
		if err := json.Unmarshal(r.Variables, &rc.Variables); err != nil {
			return nil, fmt.Errorf("recipient repo: decode variables for %s: %w", r.ID, err)
		}
	}
	return rc, nil
}
