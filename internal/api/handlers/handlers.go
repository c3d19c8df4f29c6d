package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/voice-campaign-core/internal/app"
	"github.com/acme/voice-campaign-core/internal/progress"
	"github.com/acme/voice-campaign-core/internal/queue"
	"github.com/acme/voice-campaign-core/internal/repository"
	campaignsvc "github.com/acme/voice-campaign-core/internal/service/campaign"
	recipientsvc "github.com/acme/voice-campaign-core/internal/service/recipient"
)

// StatusPublisher forwards normalized webhook events to the status worker.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, evt queue.RecipientStatusEvent) error
}

// Deps are the collaborators of the HTTP handlers.
type Deps struct {
	Campaigns  *campaignsvc.Service
	Recipients *recipientsvc.Service
	Attempts   repository.AttemptLog
	Statuses   StatusPublisher
	// Pushes feeds the progress stream. Nil streams fall back to polling.
	Pushes   progress.PushSource
	Progress progress.Options
	// Secrets for webhook signature checks, keyed by provider path segment.
	RelaySecret      string
	DirectDialSecret string
	// Checks are named dependency checks reported by /healthz.
	Checks map[string]func(ctx context.Context) error
	Logger *zap.Logger
}

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	deps Deps
}

// NewHandlerSet creates the handler bundle from the container.
func NewHandlerSet(container *app.Container) *HandlerSet {
	services := container.Services()
	cfg := container.Config
	return New(Deps{
		Campaigns:  services.Campaign,
		Recipients: services.Recipient,
		Attempts:   container.Repositories().Attempts,
		Statuses:   container.Publishers().Status,
		Pushes:     container.Broker(),
		Progress: progress.Options{
			PushTimeout:  cfg.Progress.PushTimeout,
			PollInterval: cfg.Progress.PollInterval,
			RateWindow:   cfg.Progress.RateWindow,
		},
		RelaySecret:      cfg.Webhooks.RelaySecret,
		DirectDialSecret: cfg.Webhooks.DirectDialSecret,
		Checks:           container.HealthChecks(),
		Logger:           container.Logger.Logger,
	})
}

// New creates a handler bundle from explicit dependencies.
func New(deps Deps) *HandlerSet {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	deps.Progress.Logger = deps.Logger
	return &HandlerSet{deps: deps}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	webhooks := app.Group("/webhooks")
	webhooks.Post("/relay", h.relayWebhook)
	webhooks.Post("/direct-dial", h.directDialWebhook)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	campaigns := v1.Group("/campaigns")
	campaigns.Post("/", h.createCampaign)
	campaigns.Get("/", h.listCampaigns)
	campaigns.Get("/:id", h.getCampaign)
	campaigns.Put("/:id", h.updateCampaign)
	campaigns.Delete("/:id", h.deleteCampaign)
	campaigns.Post("/:id/start", h.startCampaign)
	campaigns.Post("/:id/pause", h.pauseCampaign)
	campaigns.Post("/:id/resume", h.resumeCampaign)
	campaigns.Post("/:id/cancel", h.cancelCampaign)

	campaigns.Post("/:id/recipients", h.importRecipients)
	campaigns.Post("/:id/recipients/single", h.addRecipient)
	campaigns.Get("/:id/recipients", h.listRecipients)
	campaigns.Delete("/:id/recipients", h.deleteRecipients)

	campaigns.Get("/:id/progress", h.getProgress)
	campaigns.Get("/:id/progress/stream", h.streamProgress)
	campaigns.Get("/:id/attempts", h.listAttempts)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.deps.Logger.Error("request failed", zap.String("path", ctx.Path()), zap.Error(err))
		message = "internal server error"
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": traceID(ctx),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.UserContext(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)
	for name, check := range h.deps.Checks {
		if err := check(healthCtx); err != nil {
			errs[name] = err.Error()
		}
	}

	status := fiber.StatusOK
	state := "ok"
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
		state = "degraded"
	}

	return ctx.Status(status).JSON(fiber.Map{"status": state, "errors": errs})
}

func traceID(ctx *fiber.Ctx) string {
	sc := trace.SpanContextFromContext(ctx.UserContext())
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
