package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/acme/voice-campaign-core/internal/progress"
)

const streamHeartbeat = 15 * time.Second

func (h *HandlerSet) getProgress(ctx *fiber.Ctx) error {
	id, err := campaignID(ctx)
	if err != nil {
		return err
	}
	snap, err := h.deps.Campaigns.Snapshot(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(progress.Compute(snap, nil, progress.ModeDegradedPolling))
}

// streamProgress serves progress as server-sent events until the campaign reaches a
// terminal status or the client goes away. force_polling=true skips the push channel.
func (h *HandlerSet) streamProgress(ctx *fiber.Ctx) error {
	id, err := campaignID(ctx)
	if err != nil {
		return err
	}
	if _, err := h.deps.Campaigns.Snapshot(ctx.UserContext(), id); err != nil {
		return translateError(err)
	}

	opts := h.deps.Progress
	opts.ForcePolling = ctx.QueryBool("force_polling") || h.deps.Pushes == nil
	reconciler := progress.NewReconciler(id, h.deps.Campaigns, h.deps.Pushes, opts)
	log := h.deps.Logger.With(zap.String("campaign_id", id.String()))

	ctx.Set(fiber.HeaderContentType, "text/event-stream")
	ctx.Set(fiber.HeaderCacheControl, "no-cache")
	ctx.Set(fiber.HeaderConnection, "keep-alive")
	ctx.Set("X-Accel-Buffering", "no")

	ctx.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		streamCtx, cancel := context.WithCancel(context.Background())
		defer cancel()

		updates := make(chan progress.Progress, 16)
		go func() {
			defer close(updates)
			if err := reconciler.Run(streamCtx, func(p progress.Progress) {
				select {
				case updates <- p:
				default:
				}
			}); err != nil && streamCtx.Err() == nil {
				log.Warn("progress stream: reconciler stopped", zap.Error(err))
			}
		}()

		heartbeat := time.NewTicker(streamHeartbeat)
		defer heartbeat.Stop()

		for {
			select {
			case p, ok := <-updates:
				if !ok {
					return
				}
				payload, err := json.Marshal(p)
				if err != nil {
					log.Error("progress stream: marshal", zap.Error(err))
					continue
				}
				fmt.Fprintf(w, "event: progress\ndata: %s\n\n", payload)
				if err := w.Flush(); err != nil {
					return
				}
				if p.Status.Terminal() {
					fmt.Fprint(w, "event: done\ndata: {}\n\n")
					_ = w.Flush()
					return
				}
			case <-heartbeat.C:
				fmt.Fprint(w, ": ping\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))
	return nil
}
