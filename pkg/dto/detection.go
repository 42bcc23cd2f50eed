package dto

import (
	"time"

	"github.com/google/uuid"
)

type CreateDetectionRequest struct {
	Name           string   `json:"name" binding:"required"`
	Phrase         string   `json:"phrase" binding:"required"`
	WebhookURL     string   `json:"webhook_url,omitempty"`
	EnabledCameras []string `json:"enabled_cameras,omitempty"`
}

// UpdateDetectionRequest changes only the fields that are present.
type UpdateDetectionRequest struct {
	Name           *string   `json:"name,omitempty"`
	Phrase         *string   `json:"phrase,omitempty"`
	WebhookURL     *string   `json:"webhook_url,omitempty"`
	EnabledCameras *[]string `json:"enabled_cameras,omitempty"`
}

type DetectionResponse struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	Phrase          string     `json:"phrase"`
	WebhookURL      string     `json:"webhook_url,omitempty"`
	EnabledCameras  []string   `json:"enabled_cameras"`
	CreatedAt       time.Time  `json:"created_at"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	TriggerCount    int        `json:"trigger_count"`
}

type DetectionListResponse struct {
	Detections []DetectionResponse `json:"detections"`
}
