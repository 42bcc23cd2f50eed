package models

import "time"

type SourceType string

const (
	SourceRTSP    SourceType = "rtsp"
	SourcePolling SourceType = "polling"
)

// CameraStatus is a point-in-time view of one camera's capture context.
type CameraStatus struct {
	CameraID              string        `json:"camera_id"`
	SourceType            SourceType    `json:"source_type"`
	SourceURL             string        `json:"source_url,omitempty"` // redacted
	IsCapturing           bool          `json:"is_capturing"`
	AnalysisInProgress    bool          `json:"analysis_in_progress"`
	ConsecutiveAIFailures int           `json:"consecutive_ai_failures"`
	StartedAt             time.Time     `json:"started_at"`
	LastAnalysisEndTime   time.Time     `json:"last_analysis_end_time,omitempty"`
	LastAnalysisDuration  time.Duration `json:"last_analysis_duration"`
	LastAnalysisInterval  time.Duration `json:"last_analysis_to_end_interval"`
	HaltReason            string        `json:"halt_reason,omitempty"`
}

// AnalysisFPS is the rate implied by the last analysis duration alone.
func (s CameraStatus) AnalysisFPS() float64 {
	if s.LastAnalysisDuration <= 0 {
		return 0
	}
	return 1 / s.LastAnalysisDuration.Seconds()
}

// TotalFPS is the end-to-end rate between the last two completed analyses.
func (s CameraStatus) TotalFPS() float64 {
	if s.LastAnalysisInterval <= 0 {
		return 0
	}
	return 1 / s.LastAnalysisInterval.Seconds()
}
