package sampling

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/corona10/goimagehash"

	"github.com/your-org/iaction/internal/config"
)

const (
	ReasonNoMotion  = "no_motion"
	ReasonInterval  = "interval"
	ReasonDuplicate = "duplicate"
)

var errNilFrame = errors.New("nil frame")

// Decision is the verdict for one frame. A filter that fails to compute
// leaves Admit set and marks the decision Degraded.
type Decision struct {
	Admit         bool
	Motion        bool
	MotionPercent float64
	Reason        string
	Degraded      bool
}

// Gate decides which frames of one camera are forwarded for analysis.
// It is not safe for concurrent use; the capture loop owns it.
type Gate struct {
	cameraID string
	cfg      config.SamplingConfig

	reference    *image.Gray
	frameCounter int
	lastMotion   time.Time
	lastHash     *goimagehash.ImageHash
	lastAccepted time.Time
}

func NewGate(cameraID string, cfg config.SamplingConfig) *Gate {
	if cfg.DiffWidth <= 0 || cfg.DiffHeight <= 0 {
		cfg.DiffWidth, cfg.DiffHeight = 320, 240
	}
	if cfg.ReferenceRefresh <= 0 {
		cfg.ReferenceRefresh = 30
	}
	return &Gate{cameraID: cameraID, cfg: cfg}
}

// Evaluate runs the motion, interval and duplicate filters in that order.
// Motion is measured even when its filter is disabled because the interval
// widens with the time since the last motion.
func (g *Gate) Evaluate(img image.Image, now time.Time) Decision {
	d := Decision{Admit: true}
	g.frameCounter++

	if err := safely(func() error {
		var err error
		d.Motion, d.MotionPercent, err = g.detectMotion(img)
		return err
	}); err != nil {
		if g.cfg.MotionEnabled {
			g.degrade(&d, "motion", err)
		}
		d.Motion = true
	}

	if d.Motion || g.lastMotion.IsZero() {
		g.lastMotion = now
	}
	if g.cfg.MotionEnabled && !d.Motion {
		d.Admit, d.Reason = false, ReasonNoMotion
		return d
	}

	if !g.lastAccepted.IsZero() && now.Sub(g.lastAccepted) < g.Interval(now.Sub(g.lastMotion)) {
		d.Admit, d.Reason = false, ReasonInterval
		return d
	}

	var hash *goimagehash.ImageHash
	if g.cfg.DedupEnabled {
		if err := safely(func() error {
			var err error
			hash, err = goimagehash.AverageHash(img)
			return err
		}); err != nil {
			g.degrade(&d, "dedup", err)
			hash = nil
		}
		if hash != nil && g.lastHash != nil {
			if dist, err := g.lastHash.Distance(hash); err == nil && dist == 0 {
				d.Admit, d.Reason = false, ReasonDuplicate
				return d
			}
		}
	}

	g.lastAccepted = now
	if hash != nil {
		g.lastHash = hash
	}
	return d
}

// Interval is the minimum spacing between accepted frames after idle
// time without motion.
func (g *Gate) Interval(idle time.Duration) time.Duration {
	switch {
	case g.cfg.LongIdleAfter > 0 && idle >= g.cfg.LongIdleAfter:
		return g.cfg.LongIdleInterval
	case g.cfg.IdleAfter > 0 && idle >= g.cfg.IdleAfter:
		return g.cfg.IdleInterval
	default:
		return g.cfg.BaseInterval
	}
}

func (g *Gate) detectMotion(img image.Image) (bool, float64, error) {
	if img == nil {
		return false, 0, errNilFrame
	}

	current := grayThumbnail(img, g.cfg.DiffWidth, g.cfg.DiffHeight)
	if g.reference == nil {
		g.reference = current
		return true, 100, nil
	}

	pct, err := changedPercent(g.reference, current, g.cfg.PixelDelta)
	if err != nil {
		g.reference = current
		return false, 0, err
	}
	if g.frameCounter%g.cfg.ReferenceRefresh == 0 {
		g.reference = current
	}
	return pct > g.cfg.MotionThreshold, pct, nil
}

func (g *Gate) degrade(d *Decision, filter string, err error) {
	d.Degraded = true
	slog.Warn("sampling filter failed, admitting frame",
		"camera_id", g.cameraID,
		"filter", filter,
		"error", err,
	)
}

func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
