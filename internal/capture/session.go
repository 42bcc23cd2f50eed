package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"
)

// Handle is an open source producing encoded frames.
type Handle interface {
	// Read waits for the next buffered frame, bounded by the read timeout.
	Read(ctx context.Context) ([]byte, error)
	// TryRead returns a buffered frame without waiting.
	TryRead() ([]byte, bool)
	FPS() float64
	Close() error
}

// Opener connects to a source URL.
type Opener interface {
	Open(ctx context.Context, url string) (Handle, error)
}

type SessionConfig struct {
	Username       string
	Password       string
	DrainCount     int
	StaleThreshold time.Duration
}

// Session owns the connection to one video source.
type Session struct {
	cameraID string
	opener   Opener
	cfg      SessionConfig
	now      func() time.Time

	mu          sync.Mutex
	handle      Handle
	sourceURL   string
	lastFrameAt time.Time
}

func NewSession(cameraID string, opener Opener, cfg SessionConfig) *Session {
	if cfg.DrainCount <= 0 {
		cfg.DrainCount = 2
	}
	return &Session{
		cameraID: cameraID,
		opener:   opener,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Open connects to rawURL, embedding the configured credentials.
// Any previous connection is released first.
func (s *Session) Open(ctx context.Context, rawURL string) bool {
	s.Close()

	s.mu.Lock()
	s.sourceURL = rawURL
	s.mu.Unlock()

	h, err := s.opener.Open(ctx, WithCredentials(rawURL, s.cfg.Username, s.cfg.Password))
	if err != nil {
		slog.Warn("open capture source failed",
			"camera_id", s.cameraID,
			"url", RedactURL(rawURL),
			"error", err,
		)
		return false
	}

	s.mu.Lock()
	s.handle = h
	s.lastFrameAt = s.now()
	s.mu.Unlock()

	slog.Info("capture source opened", "camera_id", s.cameraID, "url", RedactURL(rawURL), "fps", h.FPS())
	return true
}

// ReadLatestFrame returns the newest available frame, discarding older
// buffered ones. It returns nil when no frame could be read.
func (s *Session) ReadLatestFrame(ctx context.Context) image.Image {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h == nil {
		return nil
	}

	data, err := h.Read(ctx)
	if err != nil {
		if !errors.Is(err, ErrReadTimeout) {
			slog.Warn("capture read failed", "camera_id", s.cameraID, "error", err)
			s.closeHandle(h)
		}
		return nil
	}
	for i := 1; i < s.cfg.DrainCount; i++ {
		newer, ok := h.TryRead()
		if !ok {
			break
		}
		data = newer
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		slog.Debug("decode frame failed", "camera_id", s.cameraID, "error", err)
		return nil
	}

	s.mu.Lock()
	s.lastFrameAt = s.now()
	s.mu.Unlock()
	return img
}

// Probe reopens the last URL and reads one frame to confirm the source works.
func (s *Session) Probe(ctx context.Context) image.Image {
	s.mu.Lock()
	rawURL := s.sourceURL
	s.mu.Unlock()

	if !s.Open(ctx, rawURL) {
		return nil
	}
	img := s.ReadLatestFrame(ctx)
	if img == nil {
		s.Close()
	}
	return img
}

func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil
}

// Stale reports whether an open session has gone without a good frame
// for longer than the stale threshold.
func (s *Session) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil || s.cfg.StaleThreshold <= 0 {
		return false
	}
	return s.now().Sub(s.lastFrameAt) > s.cfg.StaleThreshold
}

func (s *Session) FPS() float64 {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h == nil {
		return 0
	}
	return h.FPS()
}

func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sourceURL
}

// Close releases the connection. It is safe to call repeatedly.
func (s *Session) Close() {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.lastFrameAt = time.Time{}
	s.mu.Unlock()

	if h != nil {
		_ = h.Close()
	}
}

func (s *Session) closeHandle(h Handle) {
	s.mu.Lock()
	if s.handle == h {
		s.handle = nil
		s.lastFrameAt = time.Time{}
	}
	s.mu.Unlock()
	_ = h.Close()
}
