package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/your-org/iaction/internal/ai"
	"github.com/your-org/iaction/internal/config"
	"github.com/your-org/iaction/internal/observability"
)

// Analyzer runs one AI analysis of an encoded frame for a camera.
type Analyzer interface {
	Analyze(ctx context.Context, cameraID string, jpeg []byte) ai.Result
}

// Orchestrator dispatches accepted frames to the Analyzer, at most one
// in flight per camera.
type Orchestrator struct {
	analyzer  Analyzer
	breaker   *Breaker
	cfg       config.AnalysisConfig
	aiTimeout time.Duration
	now       func() time.Time
	onDone    func(c *Context)

	wg sync.WaitGroup
}

func NewOrchestrator(analyzer Analyzer, breaker *Breaker, cfg config.AnalysisConfig, aiTimeout time.Duration) *Orchestrator {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 1280, 720
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 85
	}
	if aiTimeout <= 0 {
		aiTimeout = 10 * time.Second
	}
	return &Orchestrator{
		analyzer:  analyzer,
		breaker:   breaker,
		cfg:       cfg,
		aiTimeout: aiTimeout,
		now:       time.Now,
	}
}

// Submit starts an analysis of img unless one is already running for the
// camera or the minimum interval since the last one has not elapsed.
func (o *Orchestrator) Submit(c *Context, img image.Image) bool {
	if c.analyzing.Load() {
		observability.FramesRejected.WithLabelValues(c.id, "busy").Inc()
		return false
	}
	if end := c.lastAnalysisEnd(); !end.IsZero() && o.now().Sub(end) < o.cfg.AnalysisInterval(c.id) {
		observability.FramesRejected.WithLabelValues(c.id, "min_interval").Inc()
		return false
	}
	if !c.analyzing.CompareAndSwap(false, true) {
		observability.FramesRejected.WithLabelValues(c.id, "busy").Inc()
		return false
	}
	// A halt lands before the previous analysis releases the slot.
	if !c.IsCapturing() {
		c.analyzing.Store(false)
		return false
	}

	frame := o.prepare(img)
	o.wg.Add(1)
	go o.run(c, frame)
	return true
}

// prepare copies img into a new buffer at the analysis resolution.
func (o *Orchestrator) prepare(img image.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, o.cfg.Width, o.cfg.Height))
	if img == nil {
		return dst
	}
	b := img.Bounds()
	if b.Dx() == o.cfg.Width && b.Dy() == o.cfg.Height {
		draw.Copy(dst, image.Point{}, img, b, draw.Src, nil)
	} else {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	}
	return dst
}

func (o *Orchestrator) run(c *Context, frame *image.RGBA) {
	defer o.wg.Done()
	defer c.analyzing.Store(false)

	start := o.now()
	var result ai.Result
	defer func() {
		if r := recover(); r != nil {
			slog.Error("analysis panicked", "camera_id", c.id, "panic", r)
			result = ai.Result{Error: fmt.Sprintf("analysis panic: %v", r), Kind: ai.KindOther}
		}
		end := o.now()
		c.recordAnalysis(start, end)
		observability.AnalysisDuration.WithLabelValues(c.id).Observe(end.Sub(start).Seconds())
		if o.breaker != nil {
			o.breaker.Inspect(c, result)
		}
		if o.onDone != nil {
			o.onDone(c)
		}
	}()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: o.cfg.JPEGQuality}); err != nil {
		result = ai.Result{Error: fmt.Sprintf("encode frame: %v", err), Kind: ai.KindOther}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.aiTimeout)
	defer cancel()
	result = o.analyzer.Analyze(ctx, c.id, buf.Bytes())
}

// Wait blocks until every dispatched analysis has finished or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
