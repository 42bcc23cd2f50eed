package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "iaction",
		Name:      "frames_captured_total",
		Help:      "Total number of frames read from camera sources",
	}, []string{"camera_id"})

	FramesAdmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "iaction",
		Name:      "frames_admitted_total",
		Help:      "Frames that passed the sampling gate",
	}, []string{"camera_id"})

	FramesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "iaction",
		Name:      "frames_rejected_total",
		Help:      "Frames rejected by the sampling gate or the analysis floor",
	}, []string{"camera_id", "reason"})

	ReconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "iaction",
		Name:      "reconnect_attempts_total",
		Help:      "Capture reconnection rounds by outcome",
	}, []string{"camera_id", "outcome"})

	AnalysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "iaction",
		Name:      "analysis_duration_seconds",
		Help:      "Duration of one AI analysis, dispatch to completion",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"camera_id"})

	AIFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "iaction",
		Name:      "ai_failures_total",
		Help:      "Failed AI classifier calls by failure kind",
	}, []string{"camera_id", "kind"})

	CaptureHalts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "iaction",
		Name:      "capture_halts_total",
		Help:      "Cameras halted by the AI failure circuit breaker",
	}, []string{"camera_id", "reason"})

	ActiveCameras = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "iaction",
		Name:      "active_cameras",
		Help:      "Number of cameras with a running capture loop",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "iaction",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "iaction",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})

	MQTTPublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "iaction",
		Name:      "mqtt_publish_errors_total",
		Help:      "MQTT publishes that failed or timed out",
	})
)
