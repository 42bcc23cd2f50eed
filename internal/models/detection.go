package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Detection is a user-defined condition the AI classifier is asked about.
type Detection struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	Name            string     `json:"name" db:"name"`
	Phrase          string     `json:"phrase" db:"phrase"`
	WebhookURL      string     `json:"webhook_url,omitempty" db:"webhook_url"`
	EnabledCameras  []string   `json:"enabled_cameras" db:"enabled_cameras"` // empty = all cameras
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty" db:"last_triggered_at"`
	TriggerCount    int        `json:"trigger_count" db:"trigger_count"`
}

// EnabledFor reports whether the detection applies to the camera.
func (d *Detection) EnabledFor(cameraID string) bool {
	return len(d.EnabledCameras) == 0 || slices.Contains(d.EnabledCameras, cameraID)
}
