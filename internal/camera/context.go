package camera

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/your-org/iaction/internal/capture"
	"github.com/your-org/iaction/internal/models"
	"github.com/your-org/iaction/internal/sampling"
)

// CaptureSensorID is the binary sensor reporting whether a camera captures.
func CaptureSensorID(cameraID string) string {
	return "capture_active_" + cameraID
}

// Context is the running state of one started camera. A Context is never
// reused: restarting a camera builds a new one.
type Context struct {
	id         string
	sourceType models.SourceType
	sourceURL  string
	startedAt  time.Time
	source     capture.FrameSource
	gate       *sampling.Gate
	cancel     context.CancelFunc
	done       chan struct{}

	capturing atomic.Bool
	analyzing atomic.Bool
	failures  atomic.Int32

	mu           sync.Mutex
	frame        image.Image
	lastEnd      time.Time
	lastDuration time.Duration
	lastInterval time.Duration
	haltReason   string
}

func (c *Context) ID() string { return c.id }

func (c *Context) IsCapturing() bool { return c.capturing.Load() }

func (c *Context) AnalysisInProgress() bool { return c.analyzing.Load() }

func (c *Context) ConsecutiveFailures() int { return int(c.failures.Load()) }

// Done is closed when the capture loop has exited.
func (c *Context) Done() <-chan struct{} { return c.done }

func (c *Context) setFrame(img image.Image) {
	c.mu.Lock()
	c.frame = img
	c.mu.Unlock()
}

func (c *Context) CurrentFrame() image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

func (c *Context) lastAnalysisEnd() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastEnd
}

// recordAnalysis stores the duration of an analysis and the end-to-end
// interval since the previous one ended.
func (c *Context) recordAnalysis(start, end time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastDuration = end.Sub(start)
	if c.lastEnd.IsZero() {
		c.lastInterval = 0
	} else {
		c.lastInterval = end.Sub(c.lastEnd)
	}
	c.lastEnd = end
}

func (c *Context) setHaltReason(reason string) {
	c.mu.Lock()
	c.haltReason = reason
	c.mu.Unlock()
}

func (c *Context) Status() models.CameraStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.CameraStatus{
		CameraID:              c.id,
		SourceType:            c.sourceType,
		SourceURL:             c.sourceURL,
		IsCapturing:           c.capturing.Load(),
		AnalysisInProgress:    c.analyzing.Load(),
		ConsecutiveAIFailures: int(c.failures.Load()),
		StartedAt:             c.startedAt,
		LastAnalysisEndTime:   c.lastEnd,
		LastAnalysisDuration:  c.lastDuration,
		LastAnalysisInterval:  c.lastInterval,
		HaltReason:            c.haltReason,
	}
}
