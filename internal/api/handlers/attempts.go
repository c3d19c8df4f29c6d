package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/voice-campaign-core/internal/domain"
	"github.com/acme/voice-campaign-core/internal/service/common"
)

type attemptResponse struct {
	ID           uuid.UUID       `json:"id"`
	RecipientID  uuid.UUID       `json:"recipient_id"`
	PhoneNumber  string          `json:"phone_number,omitempty"`
	Provider     domain.Provider `json:"provider,omitempty"`
	Outcome      string          `json:"outcome"`
	VendorCallID string          `json:"vendor_call_id,omitempty"`
	Error        string          `json:"error,omitempty"`
	AttemptNum   int             `json:"attempt"`
	CreatedAt    time.Time       `json:"created_at"`
}

type listAttemptsResponse struct {
	Attempts []attemptResponse `json:"attempts"`
	NextPage string            `json:"next_page_token,omitempty"`
}

func (h *HandlerSet) listAttempts(ctx *fiber.Ctx) error {
	id, err := campaignID(ctx)
	if err != nil {
		return err
	}
	if h.deps.Attempts == nil {
		return fiber.NewError(http.StatusServiceUnavailable, "attempt log is not configured")
	}
	if _, err := h.deps.Campaigns.Get(ctx.UserContext(), id); err != nil {
		return translateError(err)
	}

	limit, _ := strconv.Atoi(ctx.Query("limit", "100"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	paging, err := common.DecodePageToken(id, ctx.Query("page_token"))
	if err != nil {
		return translateError(err)
	}

	attempts, next, err := h.deps.Attempts.List(ctx.UserContext(), id, limit, paging)
	if err != nil {
		return translateError(err)
	}

	resp := listAttemptsResponse{Attempts: make([]attemptResponse, 0, len(attempts))}
	for _, a := range attempts {
		resp.Attempts = append(resp.Attempts, attemptResponse{
			ID:           a.ID,
			RecipientID:  a.RecipientID,
			PhoneNumber:  a.PhoneNumber,
			Provider:     a.Provider,
			Outcome:      a.Outcome,
			VendorCallID: a.VendorCallID,
			Error:        a.Error,
			AttemptNum:   a.AttemptNum,
			CreatedAt:    a.CreatedAt,
		})
	}
	resp.NextPage = common.EncodePageToken(id, next)
	return ctx.Status(http.StatusOK).JSON(resp)
}
