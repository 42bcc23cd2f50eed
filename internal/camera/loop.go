package camera

import (
	"context"
	"errors"
	"image"
	"log/slog"

	"github.com/your-org/iaction/internal/observability"
)

// runLoop feeds frames from the camera source through the sampling gate to
// the orchestrator until the camera stops capturing.
func (r *Registry) runLoop(ctx context.Context, c *Context) {
	defer r.loops.Done()
	defer close(c.done)
	defer observability.ActiveCameras.Dec()

	err := c.source.Run(ctx, func(img image.Image) {
		r.handleFrame(c, img)
	}, func() bool {
		return c.IsCapturing() && !r.shuttingDown.Load()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("capture loop ended with error", "camera_id", c.id, "error", err)
	}
	slog.Info("capture loop exited", "camera_id", c.id)
}

func (r *Registry) handleFrame(c *Context, img image.Image) {
	observability.FramesCaptured.WithLabelValues(c.id).Inc()
	c.setFrame(img)

	d := c.gate.Evaluate(img, r.now())
	if !d.Admit {
		observability.FramesRejected.WithLabelValues(c.id, d.Reason).Inc()
		return
	}
	if r.orchestrator.Submit(c, img) {
		observability.FramesAdmitted.WithLabelValues(c.id).Inc()
	}
}
