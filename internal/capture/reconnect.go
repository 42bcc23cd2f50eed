package capture

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/your-org/iaction/internal/observability"
)

type ReconnectConfig struct {
	ProbeAttempts int
	ProbeDelay    time.Duration
	MaxBackoff    time.Duration
}

// Backoff returns the wait imposed after the given number of consecutive
// failed reconnection cycles: 2^n seconds, capped at max.
func Backoff(attempts int, max time.Duration) time.Duration {
	if attempts <= 0 {
		return 0
	}
	if attempts >= 30 {
		return max
	}
	d := time.Duration(1<<uint(attempts)) * time.Second
	if d > max {
		return max
	}
	return d
}

// Reconnector restores a Session when it closes or goes stale.
// Frame is called from the capture loop only.
type Reconnector struct {
	cameraID string
	session  *Session
	cfg      ReconnectConfig
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) bool

	mu            sync.Mutex
	attempts      int
	nextAttemptAt time.Time
}

func NewReconnector(cameraID string, session *Session, cfg ReconnectConfig) *Reconnector {
	if cfg.ProbeAttempts <= 0 {
		cfg.ProbeAttempts = 3
	}
	if cfg.ProbeDelay <= 0 {
		cfg.ProbeDelay = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Reconnector{
		cameraID: cameraID,
		session:  session,
		cfg:      cfg,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Frame returns the latest frame, reconnecting first if the session is
// unusable and the backoff gate allows it.
func (r *Reconnector) Frame(ctx context.Context) image.Image {
	if r.session.IsOpen() && !r.session.Stale() {
		if img := r.session.ReadLatestFrame(ctx); img != nil {
			r.markHealthy()
			return img
		}
		if r.session.IsOpen() && !r.session.Stale() {
			return nil
		}
	}
	return r.reconnect(ctx)
}

func (r *Reconnector) reconnect(ctx context.Context) image.Image {
	r.mu.Lock()
	gate := r.nextAttemptAt
	r.mu.Unlock()
	if r.now().Before(gate) {
		return nil
	}

	reason := "closed"
	if r.session.Stale() {
		reason = "stale"
	}
	slog.Warn("capture session unusable, reconnecting",
		"camera_id", r.cameraID,
		"reason", reason,
		"url", RedactURL(r.session.URL()),
	)
	r.session.Close()

	for i := 0; i < r.cfg.ProbeAttempts; i++ {
		if i > 0 && !r.sleep(ctx, r.cfg.ProbeDelay) {
			return nil
		}
		if img := r.session.Probe(ctx); img != nil {
			r.markHealthy()
			observability.ReconnectAttempts.WithLabelValues(r.cameraID, "success").Inc()
			slog.Info("capture session restored", "camera_id", r.cameraID, "probe", i+1)
			return img
		}
		if ctx.Err() != nil {
			return nil
		}
	}

	r.mu.Lock()
	r.attempts++
	wait := Backoff(r.attempts, r.cfg.MaxBackoff)
	r.nextAttemptAt = r.now().Add(wait)
	attempts := r.attempts
	r.mu.Unlock()

	observability.ReconnectAttempts.WithLabelValues(r.cameraID, "failure").Inc()
	slog.Error("reconnect failed",
		"camera_id", r.cameraID,
		"attempts", attempts,
		"retry_in", wait,
	)
	return nil
}

func (r *Reconnector) markHealthy() {
	r.mu.Lock()
	r.attempts = 0
	r.nextAttemptAt = time.Time{}
	r.mu.Unlock()
}

// Attempts is the number of consecutive failed reconnection cycles.
func (r *Reconnector) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

func (r *Reconnector) NextAttemptAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextAttemptAt
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
