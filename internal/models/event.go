package models

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisEvent is emitted once per completed analysis.
type AnalysisEvent struct {
	ID          uuid.UUID        `json:"id"`
	CameraID    string           `json:"camera_id"`
	Timestamp   time.Time        `json:"timestamp"`
	Success     bool             `json:"success"`
	Error       string           `json:"error,omitempty"`
	ErrorKind   string           `json:"error_kind,omitempty"`
	Duration    time.Duration    `json:"duration"`
	Matches     []DetectionMatch `json:"matches,omitempty"`
	SnapshotKey string           `json:"snapshot_key,omitempty"`
}

// DetectionMatch is the classifier verdict for one detection.
type DetectionMatch struct {
	DetectionID uuid.UUID `json:"detection_id"`
	Name        string    `json:"name"`
	Match       bool      `json:"match"`
}

// Matched reports whether any detection matched.
func (e *AnalysisEvent) Matched() bool {
	for _, m := range e.Matches {
		if m.Match {
			return true
		}
	}
	return false
}
