package dto

// WSEvent is one message pushed to websocket clients.
type WSEvent struct {
	Type     string `json:"type"` // "analysis"
	CameraID string `json:"camera_id"`
	Data     any    `json:"data"`
}
