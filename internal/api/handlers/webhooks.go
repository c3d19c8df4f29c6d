package handlers

import (
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/voice-campaign-core/internal/queue"
	"github.com/acme/voice-campaign-core/internal/webhook"
	apperrors "github.com/acme/voice-campaign-core/pkg/errors"
)

func (h *HandlerSet) relayWebhook(ctx *fiber.Ctx) error {
	return h.handleWebhook(ctx, h.deps.RelaySecret, webhook.ParseRelay)
}

func (h *HandlerSet) directDialWebhook(ctx *fiber.Ctx) error {
	return h.handleWebhook(ctx, h.deps.DirectDialSecret, webhook.ParseDirectDial)
}

// handleWebhook verifies, normalizes and queues a vendor callback. Callbacks that carry
// no recipient transition are acknowledged and dropped.
func (h *HandlerSet) handleWebhook(ctx *fiber.Ctx, secret string, parse func([]byte) (queue.RecipientStatusEvent, bool, error)) error {
	body := ctx.Body()
	if !webhook.Verify(body, secret, ctx.Get(webhook.SignatureHeader)) {
		return fiber.NewError(http.StatusUnauthorized, "invalid webhook signature")
	}

	evt, ok, err := parse(body)
	if err != nil {
		return translateError(err)
	}
	if !ok {
		return ctx.Status(http.StatusOK).JSON(fiber.Map{"accepted": false})
	}

	if h.deps.Statuses == nil {
		return fiber.NewError(http.StatusServiceUnavailable, "status queue is not configured")
	}
	if err := h.deps.Statuses.PublishStatus(ctx.UserContext(), evt); err != nil {
		h.deps.Logger.Error("webhook: publish status", zap.String("recipient_id", evt.RecipientID.String()), zap.Error(err))
		return translateError(fmt.Errorf("%w: status queue: %v", apperrors.ErrUnavailable, err))
	}
	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{"accepted": true})
}
