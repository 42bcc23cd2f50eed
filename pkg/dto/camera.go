package dto

import "time"

// StartCameraRequest is the body of POST /v1/cameras/:id/start.
type StartCameraRequest struct {
	SourceType string `json:"source_type"` // rtsp (default) or polling
	URL        string `json:"url"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
}

type CameraResponse struct {
	CameraID              string     `json:"camera_id"`
	SourceType            string     `json:"source_type"`
	SourceURL             string     `json:"source_url,omitempty"`
	IsCapturing           bool       `json:"is_capturing"`
	AnalysisInProgress    bool       `json:"analysis_in_progress"`
	ConsecutiveAIFailures int        `json:"consecutive_ai_failures"`
	StartedAt             time.Time  `json:"started_at"`
	LastAnalysisEndTime   *time.Time `json:"last_analysis_end_time,omitempty"`
	LastAnalysisDuration  float64    `json:"last_analysis_duration"`
	LastAnalysisInterval  float64    `json:"last_analysis_to_end_interval"`
	AnalysisFPS           float64    `json:"analysis_fps"`
	TotalFPS              float64    `json:"total_fps"`
	HaltReason            string     `json:"halt_reason,omitempty"`
}

type CameraListResponse struct {
	Cameras []CameraResponse `json:"cameras"`
	Active  int              `json:"active"`
}

type StopAllResponse struct {
	Stopped int `json:"stopped"`
}
