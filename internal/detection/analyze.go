package detection

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/iaction/internal/ai"
	"github.com/your-org/iaction/internal/models"
)

const sideEffectTimeout = 10 * time.Second

type webhookPayload struct {
	DetectionID   uuid.UUID `json:"detection_id"`
	DetectionName string    `json:"detection_name"`
	Triggered     bool      `json:"triggered"`
	Timestamp     float64   `json:"timestamp"`
}

type webhookCall struct {
	url     string
	payload webhookPayload
}

// Analyze asks the classifier about every detection enabled for the camera
// and applies the verdicts. With no applicable detection the classifier is
// not called and the result is a success.
func (s *Service) Analyze(ctx context.Context, cameraID string, jpeg []byte) ai.Result {
	queries := s.queriesFor(cameraID)
	if len(queries) == 0 {
		return ai.Result{Success: true}
	}

	start := s.now()
	res := s.classifier.AnalyzeCombined(ctx, jpeg, queries)
	end := s.now()

	ev := models.AnalysisEvent{
		ID:        uuid.New(),
		CameraID:  cameraID,
		Timestamp: end.UTC(),
		Success:   res.Success,
		Error:     res.Error,
		ErrorKind: string(ai.Classify(res)),
		Duration:  end.Sub(start),
	}

	if res.Success {
		var hooks []webhookCall
		ev.Matches, hooks = s.apply(cameraID, res.Detections, end)
		for _, h := range hooks {
			s.sendWebhook(h)
		}
		if ev.Matched() {
			ev.SnapshotKey = s.archive(cameraID, end, jpeg)
			s.persist(context.Background())
		}
	}

	s.publisher.FlushMessageBuffer()
	s.emit(ev)
	return res
}

func (s *Service) queriesFor(cameraID string) []ai.Query {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ai.Query
	for _, id := range s.order {
		d := s.detections[id]
		if d.EnabledFor(cameraID) {
			out = append(out, ai.Query{ID: d.ID, Name: d.Name, Phrase: d.Phrase})
		}
	}
	return out
}

// apply buffers changed sensor states and records triggers. Verdicts for
// detections removed during the call are ignored.
func (s *Service) apply(cameraID string, verdicts []ai.Match, at time.Time) ([]models.DetectionMatch, []webhookCall) {
	s.mu.Lock()
	defer s.mu.Unlock()

	states, ok := s.states[cameraID]
	if !ok {
		states = make(map[uuid.UUID]bool)
		s.states[cameraID] = states
	}

	var (
		matches []models.DetectionMatch
		hooks   []webhookCall
	)
	for _, v := range verdicts {
		d, ok := s.detections[v.ID]
		if !ok {
			continue
		}
		if prev, seen := states[v.ID]; !seen || prev != v.Match {
			states[v.ID] = v.Match
			s.publisher.BufferBinarySensorState(SensorID(v.ID, cameraID), v.Match)
		}
		matches = append(matches, models.DetectionMatch{DetectionID: v.ID, Name: d.Name, Match: v.Match})
		if !v.Match {
			continue
		}

		t := at.UTC()
		d.LastTriggeredAt = &t
		d.TriggerCount++
		slog.Info("detection triggered",
			"camera_id", cameraID,
			"detection_id", d.ID,
			"name", d.Name,
			"count", d.TriggerCount,
		)
		if d.WebhookURL != "" {
			hooks = append(hooks, webhookCall{
				url: d.WebhookURL,
				payload: webhookPayload{
					DetectionID:   d.ID,
					DetectionName: d.Name,
					Triggered:     true,
					Timestamp:     float64(at.UnixMilli()) / 1000,
				},
			})
		}
	}
	return matches, hooks
}

// sendWebhook posts in the background; failures are only logged.
func (s *Service) sendWebhook(h webhookCall) {
	s.hooks.Add(1)
	go func() {
		defer s.hooks.Done()
		resp, err := s.webhook.R().
			SetHeader("Content-Type", "application/json").
			SetBody(h.payload).
			Post(h.url)
		if err != nil {
			slog.Debug("webhook failed", "detection_id", h.payload.DetectionID, "error", err)
			return
		}
		if resp.IsError() {
			slog.Debug("webhook rejected", "detection_id", h.payload.DetectionID, "status", resp.StatusCode())
		}
	}()
}

func (s *Service) archive(cameraID string, at time.Time, jpeg []byte) string {
	if s.snapshots == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	key, err := s.snapshots.SaveSnapshot(ctx, cameraID, at, jpeg)
	if err != nil {
		slog.Warn("archive snapshot failed", "camera_id", cameraID, "error", err)
		return ""
	}
	return key
}

func (s *Service) emit(ev models.AnalysisEvent) {
	if len(s.events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	for _, sink := range s.events {
		if err := sink.PublishEvent(ctx, ev); err != nil {
			slog.Warn("publish analysis event failed", "camera_id", ev.CameraID, "error", err)
		}
	}
}
