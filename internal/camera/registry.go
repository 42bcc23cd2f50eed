package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/your-org/iaction/internal/capture"
	"github.com/your-org/iaction/internal/config"
	"github.com/your-org/iaction/internal/models"
	"github.com/your-org/iaction/internal/observability"
	"github.com/your-org/iaction/internal/sampling"
)

var (
	ErrAlreadyCapturing   = errors.New("camera is already capturing")
	ErrNotFound           = errors.New("camera not found")
	ErrShuttingDown       = errors.New("registry is shutting down")
	ErrInvalidRequest     = errors.New("invalid start request")
	ErrOpenFailed         = errors.New("could not open camera source")
	ErrPollingUnavailable = errors.New("home assistant polling is not configured")
)

// StatePublisher receives camera state changes. Implementations must not
// fail the caller.
type StatePublisher interface {
	SetupBinarySensor(sensorID, name, deviceClass string)
	PublishBinarySensorState(sensorID string, state bool)
	PublishStatus(status any)
}

// CameraRegistrar is implemented by analyzers that keep per-camera state.
type CameraRegistrar interface {
	RegisterCamera(cameraID string)
	UnregisterCamera(cameraID string)
}

type StartRequest struct {
	CameraID   string
	SourceType models.SourceType
	URL        string
	Username   string
	Password   string
	EntityID   string
}

// Registry owns every started camera.
type Registry struct {
	cfg          config.Config
	opener       capture.Opener
	analyzer     Analyzer
	publisher    StatePublisher
	orchestrator *Orchestrator
	now          func() time.Time

	startMu sync.Mutex

	mu      sync.RWMutex
	cameras map[string]*Context

	loops        sync.WaitGroup
	shuttingDown atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

func NewRegistry(cfg config.Config, opener capture.Opener, analyzer Analyzer, publisher StatePublisher) *Registry {
	r := &Registry{
		cfg:       cfg,
		opener:    opener,
		analyzer:  analyzer,
		publisher: publisher,
		now:       time.Now,
		cameras:   make(map[string]*Context),
	}
	breaker := NewBreaker(cfg.Analysis.FailureThreshold, r.halt)
	r.orchestrator = NewOrchestrator(analyzer, breaker, cfg.Analysis, cfg.AI.Timeout)
	r.orchestrator.onDone = r.publishStatus
	return r
}

// Start begins capturing for req.CameraID. A camera that is still
// capturing is rejected; a halted one is replaced by a fresh context.
func (r *Registry) Start(ctx context.Context, req StartRequest) (models.CameraStatus, error) {
	if r.shuttingDown.Load() {
		return models.CameraStatus{}, ErrShuttingDown
	}
	req.CameraID = strings.TrimSpace(req.CameraID)
	if req.CameraID == "" {
		return models.CameraStatus{}, fmt.Errorf("%w: camera id is required", ErrInvalidRequest)
	}
	if req.SourceType == "" {
		req.SourceType = models.SourceRTSP
	}

	r.startMu.Lock()
	defer r.startMu.Unlock()

	r.mu.RLock()
	existing, ok := r.cameras[req.CameraID]
	r.mu.RUnlock()
	if ok && existing.IsCapturing() {
		return existing.Status(), ErrAlreadyCapturing
	}

	source, err := r.buildSource(ctx, req)
	if err != nil {
		return models.CameraStatus{}, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c := &Context{
		id:         req.CameraID,
		sourceType: req.SourceType,
		sourceURL:  capture.RedactURL(req.URL),
		startedAt:  r.now(),
		source:     source,
		gate:       sampling.NewGate(req.CameraID, r.cfg.Sampling),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	if req.SourceType == models.SourcePolling {
		c.sourceURL = r.cfg.HomeAssistant.BaseURL
	}
	c.capturing.Store(true)

	r.mu.Lock()
	if r.shuttingDown.Load() {
		r.mu.Unlock()
		cancel()
		source.Close()
		return models.CameraStatus{}, ErrShuttingDown
	}
	r.cameras[req.CameraID] = c
	r.mu.Unlock()

	sensor := CaptureSensorID(c.id)
	r.publisher.SetupBinarySensor(sensor, "Capture "+c.id, "running")
	r.publisher.PublishBinarySensorState(sensor, true)
	if reg, ok := r.analyzer.(CameraRegistrar); ok {
		reg.RegisterCamera(c.id)
	}

	observability.ActiveCameras.Inc()
	r.loops.Add(1)
	go r.runLoop(loopCtx, c)

	slog.Info("camera capture started",
		"camera_id", c.id,
		"source_type", c.sourceType,
		"url", c.sourceURL,
	)
	return c.Status(), nil
}

func (r *Registry) buildSource(ctx context.Context, req StartRequest) (capture.FrameSource, error) {
	switch req.SourceType {
	case models.SourceRTSP:
		if err := capture.ValidateURL(req.URL); err != nil {
			return nil, err
		}
		session := capture.NewSession(req.CameraID, r.opener, capture.SessionConfig{
			Username:       req.Username,
			Password:       req.Password,
			DrainCount:     r.cfg.Capture.DrainCount,
			StaleThreshold: r.cfg.Capture.StaleThreshold,
		})
		if !session.Open(ctx, req.URL) {
			return nil, fmt.Errorf("%w: %s", ErrOpenFailed, capture.RedactURL(req.URL))
		}
		reconnector := capture.NewReconnector(req.CameraID, session, capture.ReconnectConfig{
			ProbeAttempts: r.cfg.Capture.ProbeAttempts,
			ProbeDelay:    r.cfg.Capture.ProbeDelay,
			MaxBackoff:    r.cfg.Capture.MaxBackoff,
		})
		return capture.NewStreamSource(session, reconnector, r.cfg.Capture.DefaultPoll), nil

	case models.SourcePolling:
		ha := r.cfg.HomeAssistant
		if req.EntityID != "" {
			ha.EntityID = req.EntityID
		}
		if !ha.Configured() {
			return nil, ErrPollingUnavailable
		}
		return capture.NewPollingSource(req.CameraID, capture.PollingConfig{
			BaseURL:   ha.BaseURL,
			Token:     ha.Token,
			EntityID:  ha.EntityID,
			ImageAttr: ha.ImageAttr,
			Interval:  ha.PollInterval,
			Timeout:   ha.Timeout,
		}), nil

	default:
		return nil, fmt.Errorf("%w: unknown source type %q", ErrInvalidRequest, req.SourceType)
	}
}

// Stop ends capture for a camera and removes it from the registry.
func (r *Registry) Stop(cameraID string) error {
	r.startMu.Lock()
	defer r.startMu.Unlock()

	r.mu.Lock()
	c, ok := r.cameras[cameraID]
	if ok {
		delete(r.cameras, cameraID)
	}
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	r.release(c)
	if reg, ok := r.analyzer.(CameraRegistrar); ok {
		reg.UnregisterCamera(cameraID)
	}
	slog.Info("camera capture stopped", "camera_id", cameraID)
	return nil
}

// StopAll stops every registered camera and returns how many were stopped.
func (r *Registry) StopAll() int {
	stopped := 0
	for _, id := range r.ids() {
		if err := r.Stop(id); err == nil {
			stopped++
		}
	}
	return stopped
}

// release signals the loop to stop and closes the source.
func (r *Registry) release(c *Context) {
	c.capturing.Store(false)
	c.source.Close()
	c.cancel()
	r.publisher.PublishBinarySensorState(CaptureSensorID(c.id), false)
}

// halt stops a camera in place after a fatal analysis failure. The context
// stays registered so its state remains visible until restarted or stopped.
func (r *Registry) halt(c *Context, reason string) bool {
	if !c.capturing.CompareAndSwap(true, false) {
		return false
	}
	c.setHaltReason(reason)
	c.source.Close()
	c.cancel()
	r.publisher.PublishBinarySensorState(CaptureSensorID(c.id), false)
	observability.CaptureHalts.WithLabelValues(c.id, reason).Inc()
	slog.Error("camera capture halted",
		"camera_id", c.id,
		"reason", reason,
		"consecutive_failures", c.ConsecutiveFailures(),
	)
	return true
}

func (r *Registry) Get(cameraID string) (models.CameraStatus, bool) {
	r.mu.RLock()
	c, ok := r.cameras[cameraID]
	r.mu.RUnlock()
	if !ok {
		return models.CameraStatus{}, false
	}
	return c.Status(), true
}

// List returns status snapshots ordered by camera id.
func (r *Registry) List() []models.CameraStatus {
	r.mu.RLock()
	out := make([]models.CameraStatus, 0, len(r.cameras))
	for _, c := range r.cameras {
		out = append(out, c.Status())
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b models.CameraStatus) int {
		return strings.Compare(a.CameraID, b.CameraID)
	})
	return out
}

func (r *Registry) CurrentFrame(cameraID string) (image.Image, bool) {
	r.mu.RLock()
	c, ok := r.cameras[cameraID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	img := c.CurrentFrame()
	return img, img != nil
}

// ActiveCount returns the number of cameras currently capturing.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.cameras {
		if c.IsCapturing() {
			n++
		}
	}
	return n
}

// Shutdown stops every camera and waits for capture loops and in-flight
// analyses to finish. Only the first call does any work.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.shutdownOnce.Do(func() {
		r.shuttingDown.Store(true)

		r.startMu.Lock()
		r.mu.Lock()
		all := make([]*Context, 0, len(r.cameras))
		for _, c := range r.cameras {
			all = append(all, c)
		}
		r.cameras = make(map[string]*Context)
		r.mu.Unlock()
		r.startMu.Unlock()

		for _, c := range all {
			r.release(c)
		}
		slog.Info("registry shutting down", "cameras", len(all))

		loopsDone := make(chan struct{})
		go func() {
			r.loops.Wait()
			close(loopsDone)
		}()
		select {
		case <-loopsDone:
		case <-ctx.Done():
			r.shutdownErr = fmt.Errorf("wait for capture loops: %w", ctx.Err())
			return
		}
		if err := r.orchestrator.Wait(ctx); err != nil {
			r.shutdownErr = fmt.Errorf("wait for analyses: %w", err)
		}
	})
	return r.shutdownErr
}

func (r *Registry) publishStatus(c *Context) {
	st := c.Status()
	r.publisher.PublishStatus(map[string]any{
		"camera_id":                     st.CameraID,
		"is_capturing":                  st.IsCapturing,
		"consecutive_ai_failures":       st.ConsecutiveAIFailures,
		"last_analysis_duration":        st.LastAnalysisDuration.Seconds(),
		"last_analysis_to_end_interval": st.LastAnalysisInterval.Seconds(),
		"analysis_fps":                  st.AnalysisFPS(),
		"total_fps":                     st.TotalFPS(),
	})
}

func (r *Registry) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.cameras))
	for id := range r.cameras {
		ids = append(ids, id)
	}
	return ids
}
