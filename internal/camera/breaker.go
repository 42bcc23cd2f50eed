package camera

import (
	"log/slog"

	"github.com/your-org/iaction/internal/ai"
	"github.com/your-org/iaction/internal/observability"
)

const (
	HaltAITimeout    = "ai_timeout"
	HaltAIConnection = "ai_connection"
	HaltAIFailures   = "ai_failures"
)

// Breaker halts a camera after a timeout or connection failure of the AI
// backend, or after threshold consecutive failures of any other kind.
type Breaker struct {
	threshold int
	halt      func(c *Context, reason string) bool
}

func NewBreaker(threshold int, halt func(c *Context, reason string) bool) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	return &Breaker{threshold: threshold, halt: halt}
}

// Inspect records the outcome of one analysis and reports whether the
// camera was halted because of it.
func (b *Breaker) Inspect(c *Context, r ai.Result) bool {
	kind := ai.Classify(r)
	if kind == ai.KindNone {
		c.failures.Store(0)
		return false
	}

	n := int(c.failures.Add(1))
	observability.AIFailures.WithLabelValues(c.id, string(kind)).Inc()
	slog.Warn("analysis failed",
		"camera_id", c.id,
		"kind", kind,
		"error", r.Error,
		"consecutive_failures", n,
	)

	if !c.IsCapturing() {
		return false
	}
	var reason string
	switch {
	case kind == ai.KindTimeout:
		reason = HaltAITimeout
	case kind == ai.KindConnection:
		reason = HaltAIConnection
	case n >= b.threshold:
		reason = HaltAIFailures
	default:
		return false
	}
	if b.halt == nil {
		return false
	}
	return b.halt(c, reason)
}
