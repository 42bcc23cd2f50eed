package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_defaultsWhenFileMissing(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("missing.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Capture.StaleThreshold != 3*time.Second {
		t.Errorf("stale threshold = %v, want 3s", cfg.Capture.StaleThreshold)
	}
	if cfg.Capture.DrainCount != 2 {
		t.Errorf("drain count = %d, want 2", cfg.Capture.DrainCount)
	}
	if cfg.Capture.ProbeAttempts != 3 || cfg.Capture.ProbeDelay != 500*time.Millisecond {
		t.Errorf("probes = %d x %v, want 3 x 500ms", cfg.Capture.ProbeAttempts, cfg.Capture.ProbeDelay)
	}
	if cfg.Capture.MaxBackoff != 30*time.Second {
		t.Errorf("max backoff = %v", cfg.Capture.MaxBackoff)
	}
	if !cfg.Sampling.MotionEnabled || !cfg.Sampling.DedupEnabled {
		t.Error("motion and dedup filters should default to enabled")
	}
	if cfg.Sampling.MotionThreshold != 5.0 || cfg.Sampling.PixelDelta != 30 {
		t.Errorf("motion threshold/delta = %v/%d", cfg.Sampling.MotionThreshold, cfg.Sampling.PixelDelta)
	}
	if cfg.Analysis.MinInterval != 100*time.Millisecond {
		t.Errorf("min analysis interval = %v", cfg.Analysis.MinInterval)
	}
	if cfg.Analysis.Width != 1280 || cfg.Analysis.Height != 720 {
		t.Errorf("analysis size = %dx%d", cfg.Analysis.Width, cfg.Analysis.Height)
	}
	if cfg.Analysis.FailureThreshold != 3 {
		t.Errorf("failure threshold = %d", cfg.Analysis.FailureThreshold)
	}
	if cfg.Analysis.WebhookTimeout != 3*time.Second {
		t.Errorf("webhook timeout = %v", cfg.Analysis.WebhookTimeout)
	}
}

func TestLoad_yamlAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	path := filepath.Join(dir, "config.yaml")
	yamlDoc := `
server:
  port: 9000
sampling:
  motion_enabled: false
  motion_threshold: 7.5
analysis:
  camera_intervals:
    garage: 2s
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("IACTION_RTSP_STALE_THRESHOLD", "4.5")
	t.Setenv("IACTION_MIN_ANALYSIS_INTERVAL", "250ms")
	t.Setenv("IACTION_MQTT_BROKER", "broker:1883")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Sampling.MotionEnabled {
		t.Error("motion_enabled: false in yaml should win over the default")
	}
	if cfg.Sampling.MotionThreshold != 7.5 {
		t.Errorf("motion threshold = %v", cfg.Sampling.MotionThreshold)
	}
	if cfg.Capture.StaleThreshold != 4500*time.Millisecond {
		t.Errorf("stale threshold = %v, want 4.5s", cfg.Capture.StaleThreshold)
	}
	if got := cfg.Analysis.AnalysisInterval("garage"); got != 2*time.Second {
		t.Errorf("garage interval = %v, want 2s", got)
	}
	if got := cfg.Analysis.AnalysisInterval("porch"); got != 250*time.Millisecond {
		t.Errorf("porch interval = %v, want 250ms", got)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.Broker != "broker:1883" {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
}

func TestHomeAssistantConfigured(t *testing.T) {
	h := HomeAssistantConfig{BaseURL: "http://ha:8123", Token: "t"}
	if h.Configured() {
		t.Error("missing entity id should not be configured")
	}
	h.EntityID = "camera.porch"
	if !h.Configured() {
		t.Error("complete config should be configured")
	}
}

func TestLoad_zeroMotionThresholdKept(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	path := filepath.Join(dir, "config.yaml")
	yamlDoc := `
sampling:
  motion_threshold: 0
  pixel_delta: 0
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sampling.MotionThreshold != 0 || cfg.Sampling.PixelDelta != 0 {
		t.Errorf("motion threshold/delta = %v/%d, want 0/0", cfg.Sampling.MotionThreshold, cfg.Sampling.PixelDelta)
	}
	if cfg.Sampling.ReferenceRefresh != 30 {
		t.Errorf("reference refresh = %d, want default 30", cfg.Sampling.ReferenceRefresh)
	}
}

// chdir changes the working directory for the duration of the test,
// standing in for testing.T.Chdir on toolchains older than Go 1.24.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
