package detection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/your-org/iaction/internal/ai"
	"github.com/your-org/iaction/internal/models"
)

var (
	ErrNotFound = errors.New("detection not found")
	ErrInvalid  = errors.New("invalid detection")
)

// Store persists the full detection set.
type Store interface {
	LoadDetections(ctx context.Context) ([]models.Detection, error)
	SaveDetections(ctx context.Context, detections []models.Detection) error
}

// SensorPublisher mirrors per-camera detection states.
type SensorPublisher interface {
	SetupBinarySensor(sensorID, name, deviceClass string)
	RemoveSensor(sensorID, kind string)
	BufferBinarySensorState(sensorID string, state bool)
	FlushMessageBuffer()
}

// SnapshotArchive stores frames that matched at least one detection.
type SnapshotArchive interface {
	SaveSnapshot(ctx context.Context, cameraID string, ts time.Time, jpeg []byte) (string, error)
}

// EventSink receives one event per completed analysis.
type EventSink interface {
	PublishEvent(ctx context.Context, ev models.AnalysisEvent) error
}

type Options struct {
	Snapshots      SnapshotArchive
	Events         []EventSink
	WebhookTimeout time.Duration
}

// Patch holds the fields of an update; nil fields are left unchanged.
type Patch struct {
	Name           *string
	Phrase         *string
	WebhookURL     *string
	EnabledCameras *[]string
}

// SensorID names the binary sensor of one detection on one camera.
func SensorID(detectionID uuid.UUID, cameraID string) string {
	return "detection_" + strings.ReplaceAll(detectionID.String(), "-", "_") +
		"_" + strings.ReplaceAll(cameraID, "-", "_")
}

// Service owns the detection set and turns classifier verdicts into
// sensor states, webhooks, snapshots and events.
type Service struct {
	store      Store
	classifier ai.Classifier
	publisher  SensorPublisher
	snapshots  SnapshotArchive
	events     []EventSink
	webhook    *resty.Client
	now        func() time.Time

	mu         sync.RWMutex
	detections map[uuid.UUID]*models.Detection
	order      []uuid.UUID

	// states[cameraID][detectionID] is the last published sensor state.
	states map[string]map[uuid.UUID]bool

	persistMu sync.Mutex
	hooks     sync.WaitGroup
}

func NewService(store Store, classifier ai.Classifier, publisher SensorPublisher, opts Options) *Service {
	if opts.WebhookTimeout <= 0 {
		opts.WebhookTimeout = 3 * time.Second
	}
	return &Service{
		store:      store,
		classifier: classifier,
		publisher:  publisher,
		snapshots:  opts.Snapshots,
		events:     opts.Events,
		webhook:    resty.New().SetTimeout(opts.WebhookTimeout),
		now:        time.Now,
		detections: make(map[uuid.UUID]*models.Detection),
		states:     make(map[string]map[uuid.UUID]bool),
	}
}

// Load replaces the in-memory set with the stored one.
func (s *Service) Load(ctx context.Context) error {
	list, err := s.store.LoadDetections(ctx)
	if err != nil {
		return fmt.Errorf("load detections: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.detections = make(map[uuid.UUID]*models.Detection, len(list))
	s.order = s.order[:0]
	for i := range list {
		d := list[i]
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
		}
		s.detections[d.ID] = &d
		s.order = append(s.order, d.ID)
	}
	slog.Info("detections loaded", "count", len(list))
	return nil
}

func (s *Service) List() []models.Detection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Detection, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, clone(s.detections[id]))
	}
	return out
}

func (s *Service) Get(id uuid.UUID) (models.Detection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.detections[id]
	if !ok {
		return models.Detection{}, ErrNotFound
	}
	return clone(d), nil
}

// Add creates a detection. An empty camera list enables it everywhere.
func (s *Service) Add(ctx context.Context, name, phrase, webhookURL string, cameras []string) (models.Detection, error) {
	name, phrase = strings.TrimSpace(name), strings.TrimSpace(phrase)
	if name == "" || phrase == "" {
		return models.Detection{}, fmt.Errorf("%w: name and phrase are required", ErrInvalid)
	}

	d := &models.Detection{
		ID:             uuid.New(),
		Name:           name,
		Phrase:         phrase,
		WebhookURL:     strings.TrimSpace(webhookURL),
		EnabledCameras: slices.Clone(cameras),
		CreatedAt:      s.now().UTC(),
	}

	s.mu.Lock()
	s.detections[d.ID] = d
	s.order = append(s.order, d.ID)
	for cameraID, states := range s.states {
		if d.EnabledFor(cameraID) {
			s.setupSensor(d, cameraID)
			states[d.ID] = false
			s.publisher.BufferBinarySensorState(SensorID(d.ID, cameraID), false)
		}
	}
	out := clone(d)
	s.mu.Unlock()

	s.publisher.FlushMessageBuffer()
	s.persist(ctx)
	slog.Info("detection added", "detection_id", d.ID, "name", d.Name)
	return out, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, p Patch) (models.Detection, error) {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return models.Detection{}, fmt.Errorf("%w: name must not be empty", ErrInvalid)
	}
	if p.Phrase != nil && strings.TrimSpace(*p.Phrase) == "" {
		return models.Detection{}, fmt.Errorf("%w: phrase must not be empty", ErrInvalid)
	}

	s.mu.Lock()
	d, ok := s.detections[id]
	if !ok {
		s.mu.Unlock()
		return models.Detection{}, ErrNotFound
	}

	before := clone(d)
	if p.Name != nil {
		d.Name = strings.TrimSpace(*p.Name)
	}
	if p.Phrase != nil {
		d.Phrase = strings.TrimSpace(*p.Phrase)
	}
	if p.WebhookURL != nil {
		d.WebhookURL = strings.TrimSpace(*p.WebhookURL)
	}
	if p.EnabledCameras != nil {
		d.EnabledCameras = slices.Clone(*p.EnabledCameras)
	}

	renamed := before.Name != d.Name
	for cameraID, states := range s.states {
		was, is := before.EnabledFor(cameraID), d.EnabledFor(cameraID)
		switch {
		case was && !is:
			s.publisher.RemoveSensor(SensorID(id, cameraID), "binary_sensor")
			delete(states, id)
		case !was && is:
			s.setupSensor(d, cameraID)
			states[id] = false
			s.publisher.BufferBinarySensorState(SensorID(id, cameraID), false)
		case is && renamed:
			s.setupSensor(d, cameraID)
		}
	}
	out := clone(d)
	s.mu.Unlock()

	s.publisher.FlushMessageBuffer()
	s.persist(ctx)
	return out, nil
}

func (s *Service) Remove(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	if _, ok := s.detections[id]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.detections, id)
	s.order = slices.DeleteFunc(s.order, func(x uuid.UUID) bool { return x == id })
	for cameraID, states := range s.states {
		if _, ok := states[id]; ok {
			s.publisher.RemoveSensor(SensorID(id, cameraID), "binary_sensor")
			delete(states, id)
		}
	}
	s.mu.Unlock()

	s.persist(ctx)
	slog.Info("detection removed", "detection_id", id)
	return nil
}

// RegisterCamera sets up the sensors of every detection enabled for the camera.
func (s *Service) RegisterCamera(cameraID string) {
	s.mu.Lock()
	states, ok := s.states[cameraID]
	if !ok {
		states = make(map[uuid.UUID]bool)
		s.states[cameraID] = states
	}
	for _, id := range s.order {
		d := s.detections[id]
		if !d.EnabledFor(cameraID) {
			continue
		}
		s.setupSensor(d, cameraID)
		states[id] = false
		s.publisher.BufferBinarySensorState(SensorID(id, cameraID), false)
	}
	s.mu.Unlock()
	s.publisher.FlushMessageBuffer()
}

// UnregisterCamera removes the camera's sensors and forgets its states.
func (s *Service) UnregisterCamera(cameraID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.states[cameraID] {
		s.publisher.RemoveSensor(SensorID(id, cameraID), "binary_sensor")
	}
	delete(s.states, cameraID)
}

func (s *Service) setupSensor(d *models.Detection, cameraID string) {
	s.publisher.SetupBinarySensor(SensorID(d.ID, cameraID), fmt.Sprintf("%s (%s)", d.Name, cameraID), "motion")
}

// persist saves the current set. Failures are logged; memory stays authoritative.
func (s *Service) persist(ctx context.Context) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	list := s.List()
	if err := s.store.SaveDetections(ctx, list); err != nil {
		slog.Error("save detections failed", "count", len(list), "error", err)
	}
}

// Wait blocks until in-flight webhooks have finished.
func (s *Service) Wait() {
	s.hooks.Wait()
}

func clone(d *models.Detection) models.Detection {
	out := *d
	out.EnabledCameras = slices.Clone(d.EnabledCameras)
	if d.LastTriggeredAt != nil {
		t := *d.LastTriggeredAt
		out.LastTriggeredAt = &t
	}
	return out
}
