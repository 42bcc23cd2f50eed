package capture

import (
	"context"
	"image"
	"time"
)

// FrameSource feeds frames to onFrame until isRunning reports false or
// ctx is cancelled.
type FrameSource interface {
	Run(ctx context.Context, onFrame func(image.Image), isRunning func() bool) error
	// Close releases the underlying connection. Run may still be returning.
	Close()
}

// StreamSource pulls frames from a reconnecting Session at the stream's
// native frame rate.
type StreamSource struct {
	session     *Session
	reconnector *Reconnector
	defaultPoll time.Duration
}

func NewStreamSource(session *Session, reconnector *Reconnector, defaultPoll time.Duration) *StreamSource {
	if defaultPoll <= 0 {
		defaultPoll = 20 * time.Millisecond
	}
	return &StreamSource{
		session:     session,
		reconnector: reconnector,
		defaultPoll: defaultPoll,
	}
}

func (s *StreamSource) Run(ctx context.Context, onFrame func(image.Image), isRunning func() bool) error {
	defer s.session.Close()

	for isRunning() {
		if img := s.reconnector.Frame(ctx); img != nil && isRunning() {
			onFrame(img)
		}
		if !sleepCtx(ctx, s.pollInterval()) {
			return ctx.Err()
		}
	}
	return nil
}

func (s *StreamSource) pollInterval() time.Duration {
	if fps := s.session.FPS(); fps > 0 && fps < 240 {
		return time.Duration(float64(time.Second) / fps)
	}
	return s.defaultPoll
}

func (s *StreamSource) Close() {
	s.session.Close()
}
