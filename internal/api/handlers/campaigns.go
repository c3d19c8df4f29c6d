package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/voice-campaign-core/internal/domain"
	"github.com/acme/voice-campaign-core/internal/progress"
	"github.com/acme/voice-campaign-core/internal/repository"
	campaignsvc "github.com/acme/voice-campaign-core/internal/service/campaign"
)

type retryPolicyRequest struct {
	MaxAttempts  int `json:"max_attempts"`
	DelaySeconds int `json:"delay_seconds"`
}

type createCampaignRequest struct {
	Name               string                `json:"name"`
	WorkspaceID        string                `json:"workspace_id"`
	AgentID            string                `json:"agent_id"`
	ScheduleType       domain.ScheduleType   `json:"schedule_type"`
	ScheduledStartAt   *time.Time            `json:"scheduled_start_at"`
	ScheduledExpiresAt *time.Time            `json:"scheduled_expires_at"`
	TimeZone           string                `json:"time_zone"`
	BusinessHours      *domain.BusinessHours `json:"business_hours"`
	MaxConcurrentCalls int                   `json:"max_concurrent_calls"`
	RetryPolicy        *retryPolicyRequest   `json:"retry_policy"`
}

type updateCampaignRequest struct {
	Name               *string               `json:"name"`
	AgentID            *string               `json:"agent_id"`
	ScheduleType       *domain.ScheduleType  `json:"schedule_type"`
	ScheduledStartAt   *time.Time            `json:"scheduled_start_at"`
	ScheduledExpiresAt *time.Time            `json:"scheduled_expires_at"`
	TimeZone           *string               `json:"time_zone"`
	BusinessHours      *domain.BusinessHours `json:"business_hours"`
	ClearBusinessHours bool                  `json:"clear_business_hours"`
	MaxConcurrentCalls *int                  `json:"max_concurrent_calls"`
	RetryPolicy        *retryPolicyRequest   `json:"retry_policy"`
}

type startCampaignRequest struct {
	StartNow            bool `json:"start_now"`
	IgnoreBusinessHours bool `json:"ignore_business_hours"`
}

type countersResponse struct {
	Total      int64 `json:"total_recipients"`
	Pending    int64 `json:"pending_calls"`
	Completed  int64 `json:"completed_calls"`
	Successful int64 `json:"successful_calls"`
	Failed     int64 `json:"failed_calls"`
}

type campaignResponse struct {
	ID                 uuid.UUID             `json:"id"`
	Name               string                `json:"name"`
	WorkspaceID        uuid.UUID             `json:"workspace_id"`
	AgentID            uuid.UUID             `json:"agent_id"`
	Status             domain.CampaignStatus `json:"status"`
	ScheduleType       domain.ScheduleType   `json:"schedule_type"`
	ScheduledStartAt   *time.Time            `json:"scheduled_start_at,omitempty"`
	ScheduledExpiresAt *time.Time            `json:"scheduled_expires_at,omitempty"`
	TimeZone           string                `json:"time_zone"`
	BusinessHours      *domain.BusinessHours `json:"business_hours,omitempty"`
	MaxConcurrentCalls int                   `json:"max_concurrent_calls"`
	RetryPolicy        retryPolicyRequest    `json:"retry_policy"`
	Counters           countersResponse      `json:"counters"`
	Percent            float64               `json:"percent"`
	SuccessRate        float64               `json:"success_rate"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
	StartedAt          *time.Time            `json:"started_at,omitempty"`
	CompletedAt        *time.Time            `json:"completed_at,omitempty"`
}

type listCampaignsResponse struct {
	Campaigns []campaignResponse `json:"campaigns"`
}

type pauseResponse struct {
	Campaign  campaignResponse `json:"campaign"`
	Guarantee string           `json:"pause_guarantee"`
}

func (h *HandlerSet) createCampaign(ctx *fiber.Ctx) error {
	var req createCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}

	workspaceID, err := uuid.Parse(req.WorkspaceID)
	if err != nil {
		return badRequest("invalid workspace_id")
	}
	agentID, err := uuid.Parse(req.AgentID)
	if err != nil {
		return badRequest("invalid agent_id")
	}

	input := campaignsvc.CreateCampaignInput{
		Name:               req.Name,
		WorkspaceID:        workspaceID,
		AgentID:            agentID,
		ScheduleType:       req.ScheduleType,
		ScheduledStartAt:   req.ScheduledStartAt,
		ScheduledExpiresAt: req.ScheduledExpiresAt,
		TimeZone:           req.TimeZone,
		BusinessHours:      req.BusinessHours,
		MaxConcurrentCalls: req.MaxConcurrentCalls,
	}
	if req.RetryPolicy != nil {
		input.RetryPolicy = toRetryPolicy(*req.RetryPolicy)
	}

	campaign, err := h.deps.Campaigns.Create(ctx.UserContext(), input)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusCreated).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) listCampaigns(ctx *fiber.Ctx) error {
	limit, _ := strconv.Atoi(ctx.Query("limit", "50"))
	offset, _ := strconv.Atoi(ctx.Query("offset", "0"))
	filter := repository.CampaignFilter{
		Status: domain.CampaignStatus(ctx.Query("status")),
		Limit:  limit,
		Offset: offset,
	}
	if ws := ctx.Query("workspace_id"); ws != "" {
		id, err := uuid.Parse(ws)
		if err != nil {
			return badRequest("invalid workspace_id")
		}
		filter.WorkspaceID = &id
	}

	campaigns, err := h.deps.Campaigns.List(ctx.UserContext(), filter)
	if err != nil {
		return translateError(err)
	}

	resp := listCampaignsResponse{Campaigns: make([]campaignResponse, 0, len(campaigns))}
	for _, c := range campaigns {
		resp.Campaigns = append(resp.Campaigns, toCampaignResponse(c))
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) getCampaign(ctx *fiber.Ctx) error {
	id, err := campaignID(ctx)
	if err != nil {
		return err
	}
	campaign, err := h.deps.Campaigns.Get(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) updateCampaign(ctx *fiber.Ctx) error {
	id, err := campaignID(ctx)
	if err != nil {
		return err
	}

	var req updateCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}

	input := campaignsvc.UpdateCampaignInput{
		ID:                 id,
		Name:               req.Name,
		ScheduleType:       req.ScheduleType,
		ScheduledStartAt:   req.ScheduledStartAt,
		ScheduledExpiresAt: req.ScheduledExpiresAt,
		TimeZone:           req.TimeZone,
		BusinessHours:      req.BusinessHours,
		ClearBusinessHours: req.ClearBusinessHours,
		MaxConcurrentCalls: req.MaxConcurrentCalls,
	}
	if req.AgentID != nil {
		agentID, err := uuid.Parse(*req.AgentID)
		if err != nil {
			return badRequest("invalid agent_id")
		}
		input.AgentID = &agentID
	}
	if req.RetryPolicy != nil {
		rp := toRetryPolicy(*req.RetryPolicy)
		input.RetryPolicy = &rp
	}

	campaign, err := h.deps.Campaigns.Update(ctx.UserContext(), input)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) deleteCampaign(ctx *fiber.Ctx) error {
	id, err := campaignID(ctx)
	if err != nil {
		return err
	}
	if err := h.deps.Campaigns.Delete(ctx.UserContext(), id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) startCampaign(ctx *fiber.Ctx) error {
	id, err := campaignID(ctx)
	if err != nil {
		return err
	}
	var req startCampaignRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return badRequest("invalid request body")
		}
	}

	campaign, err := h.deps.Campaigns.Start(ctx.UserContext(), id, campaignsvc.StartOptions{
		StartNow:            req.StartNow,
		IgnoreBusinessHours: req.IgnoreBusinessHours,
	})
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) pauseCampaign(ctx *fiber.Ctx) error {
	id, err := campaignID(ctx)
	if err != nil {
		return err
	}
	result, err := h.deps.Campaigns.Pause(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(pauseResponse{
		Campaign:  toCampaignResponse(result.Campaign),
		Guarantee: string(result.Guarantee),
	})
}

func (h *HandlerSet) resumeCampaign(ctx *fiber.Ctx) error {
	id, err := campaignID(ctx)
	if err != nil {
		return err
	}
	campaign, err := h.deps.Campaigns.Resume(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) cancelCampaign(ctx *fiber.Ctx) error {
	id, err := campaignID(ctx)
	if err != nil {
		return err
	}
	campaign, err := h.deps.Campaigns.Cancel(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func toCampaignResponse(c *domain.Campaign) campaignResponse {
	p := progress.Compute(progress.SnapshotOf(c, c.UpdatedAt), nil, "")
	return campaignResponse{
		ID:                 c.ID,
		Name:               c.Name,
		WorkspaceID:        c.WorkspaceID,
		AgentID:            c.AgentID,
		Status:             c.Status,
		ScheduleType:       c.ScheduleType,
		ScheduledStartAt:   c.ScheduledStartAt,
		ScheduledExpiresAt: c.ScheduledExpiresAt,
		TimeZone:           c.TimeZone,
		BusinessHours:      c.BusinessHours,
		MaxConcurrentCalls: c.MaxConcurrentCalls,
		RetryPolicy: retryPolicyRequest{
			MaxAttempts:  c.RetryPolicy.MaxAttempts,
			DelaySeconds: int(c.RetryPolicy.Delay / time.Second),
		},
		Counters: countersResponse{
			Total:      c.Counters.TotalRecipients,
			Pending:    c.Counters.PendingCalls,
			Completed:  c.Counters.CompletedCalls,
			Successful: c.Counters.SuccessfulCalls,
			Failed:     c.Counters.FailedCalls,
		},
		Percent:     p.Percent,
		SuccessRate: p.SuccessRate,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
		StartedAt:   c.StartedAt,
		CompletedAt: c.CompletedAt,
	}
}

func toRetryPolicy(req retryPolicyRequest) domain.RetryPolicy {
	return domain.RetryPolicy{
		MaxAttempts: req.MaxAttempts,
		Delay:       time.Duration(req.DelaySeconds) * time.Second,
	}
}

func campaignID(ctx *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return uuid.Nil, badRequest("invalid campaign id")
	}
	return id, nil
}
