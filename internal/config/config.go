package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Capture       CaptureConfig       `yaml:"capture"`
	Sampling      SamplingConfig      `yaml:"sampling"`
	Analysis      AnalysisConfig      `yaml:"analysis"`
	AI            AIConfig            `yaml:"ai"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	NATS          NATSConfig          `yaml:"nats"`
	MinIO         MinIOConfig         `yaml:"minio"`
	Database      DatabaseConfig      `yaml:"database"`
	Storage       StorageConfig       `yaml:"storage"`
	HomeAssistant HomeAssistantConfig `yaml:"home_assistant"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type CaptureConfig struct {
	FFmpegPath     string        `yaml:"ffmpeg_path"`
	BufferSize     int           `yaml:"buffer_size"`
	DrainCount     int           `yaml:"drain_count"`
	OpenTimeout    time.Duration `yaml:"open_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	StaleThreshold time.Duration `yaml:"stale_threshold"`
	ProbeAttempts  int           `yaml:"probe_attempts"`
	ProbeDelay     time.Duration `yaml:"probe_delay"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	DefaultPoll    time.Duration `yaml:"default_poll"`
}

type SamplingConfig struct {
	MotionEnabled    bool          `yaml:"motion_enabled"`
	MotionThreshold  float64       `yaml:"motion_threshold"` // percent of changed pixels
	PixelDelta       uint8         `yaml:"pixel_delta"`
	DiffWidth        int           `yaml:"diff_width"`
	DiffHeight       int           `yaml:"diff_height"`
	ReferenceRefresh int           `yaml:"reference_refresh"`
	BaseInterval     time.Duration `yaml:"base_interval"`
	IdleInterval     time.Duration `yaml:"idle_interval"`
	IdleAfter        time.Duration `yaml:"idle_after"`
	LongIdleInterval time.Duration `yaml:"long_idle_interval"`
	LongIdleAfter    time.Duration `yaml:"long_idle_after"`
	DedupEnabled     bool          `yaml:"dedup_enabled"`
}

type AnalysisConfig struct {
	MinInterval      time.Duration            `yaml:"min_interval"`
	CameraIntervals  map[string]time.Duration `yaml:"camera_intervals"`
	Width            int                      `yaml:"width"`
	Height           int                      `yaml:"height"`
	JPEGQuality      int                      `yaml:"jpeg_quality"`
	FailureThreshold int                      `yaml:"failure_threshold"`
	WebhookTimeout   time.Duration            `yaml:"webhook_timeout"`
}

type AIConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
}

type MQTTConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Broker          string `yaml:"broker"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	ClientID        string `yaml:"client_id"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	BaseTopic       string `yaml:"base_topic"`
	DeviceName      string `yaml:"device_name"`
	QoS             byte   `yaml:"qos"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type StorageConfig struct {
	DetectionsFile    string `yaml:"detections_file"`
	SnapshotRetention int    `yaml:"snapshot_retention"`
}

type HomeAssistantConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Token        string        `yaml:"token"`
	EntityID     string        `yaml:"entity_id"`
	ImageAttr    string        `yaml:"image_attr"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Configured reports whether polling capture can be started.
func (h HomeAssistantConfig) Configured() bool {
	return h.BaseURL != "" && h.Token != "" && h.EntityID != ""
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads an optional .env file, then the YAML config, and applies
// environment variable overrides. A missing YAML file yields pure defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	// Zero is a valid value for these, so they are seeded before parsing
	// instead of being filled in by setDefaults.
	cfg := &Config{
		Sampling: SamplingConfig{
			MotionEnabled:   true,
			MotionThreshold: 5.0,
			PixelDelta:      30,
			DedupEnabled:    true,
		},
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5002
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	c := &cfg.Capture
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.BufferSize == 0 {
		c.BufferSize = 2
	}
	if c.DrainCount == 0 {
		c.DrainCount = 2
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = time.Second
	}
	if c.StaleThreshold == 0 {
		c.StaleThreshold = 3 * time.Second
	}
	if c.ProbeAttempts == 0 {
		c.ProbeAttempts = 3
	}
	if c.ProbeDelay == 0 {
		c.ProbeDelay = 500 * time.Millisecond
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.DefaultPoll == 0 {
		c.DefaultPoll = 20 * time.Millisecond
	}

	s := &cfg.Sampling
	if s.DiffWidth == 0 {
		s.DiffWidth = 320
	}
	if s.DiffHeight == 0 {
		s.DiffHeight = 240
	}
	if s.ReferenceRefresh == 0 {
		s.ReferenceRefresh = 30
	}
	if s.BaseInterval == 0 {
		s.BaseInterval = 2 * time.Second
	}
	if s.IdleInterval == 0 {
		s.IdleInterval = 5 * time.Second
	}
	if s.IdleAfter == 0 {
		s.IdleAfter = 30 * time.Second
	}
	if s.LongIdleInterval == 0 {
		s.LongIdleInterval = 10 * time.Second
	}
	if s.LongIdleAfter == 0 {
		s.LongIdleAfter = 60 * time.Second
	}

	a := &cfg.Analysis
	if a.MinInterval == 0 {
		a.MinInterval = 100 * time.Millisecond
	}
	if a.Width == 0 {
		a.Width = 1280
	}
	if a.Height == 0 {
		a.Height = 720
	}
	if a.JPEGQuality == 0 {
		a.JPEGQuality = 85
	}
	if a.FailureThreshold == 0 {
		a.FailureThreshold = 3
	}
	if a.WebhookTimeout == 0 {
		a.WebhookTimeout = 3 * time.Second
	}

	if cfg.AI.BaseURL == "" {
		cfg.AI.BaseURL = "http://localhost:11434"
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = "llava"
	}
	if cfg.AI.Timeout == 0 {
		cfg.AI.Timeout = 10 * time.Second
	}
	if cfg.AI.MaxTokens == 0 {
		cfg.AI.MaxTokens = 300
	}

	m := &cfg.MQTT
	if m.Broker == "" {
		m.Broker = "localhost:1883"
	}
	if m.ClientID == "" {
		m.ClientID = "iaction"
	}
	if m.DiscoveryPrefix == "" {
		m.DiscoveryPrefix = "homeassistant"
	}
	if m.BaseTopic == "" {
		m.BaseTopic = "iaction"
	}
	if m.DeviceName == "" {
		m.DeviceName = "IAction"
	}

	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 5
	}
	if cfg.Storage.DetectionsFile == "" {
		cfg.Storage.DetectionsFile = "detections.json"
	}
	if cfg.Storage.SnapshotRetention == 0 {
		cfg.Storage.SnapshotRetention = 200
	}

	h := &cfg.HomeAssistant
	if h.ImageAttr == "" {
		h.ImageAttr = "entity_picture"
	}
	if h.PollInterval == 0 {
		h.PollInterval = time.Second
	}
	if h.Timeout == 0 {
		h.Timeout = cfg.AI.Timeout
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("IACTION_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("IACTION_RTSP_STALE_THRESHOLD"); v != "" {
		if d, ok := parseSeconds(v); ok {
			cfg.Capture.StaleThreshold = d
		}
	}
	if v := os.Getenv("IACTION_MIN_ANALYSIS_INTERVAL"); v != "" {
		if d, ok := parseSeconds(v); ok {
			cfg.Analysis.MinInterval = d
		}
	}
	if v := os.Getenv("IACTION_MOTION_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Sampling.MotionEnabled = b
		}
	}
	if v := os.Getenv("IACTION_MOTION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Sampling.MotionThreshold = f
		}
	}
	if v := os.Getenv("IACTION_AI_BASE_URL"); v != "" {
		cfg.AI.BaseURL = v
	}
	if v := os.Getenv("IACTION_AI_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("IACTION_AI_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	if v := os.Getenv("IACTION_AI_TIMEOUT"); v != "" {
		if d, ok := parseSeconds(v); ok {
			cfg.AI.Timeout = d
		}
	}
	if v := os.Getenv("IACTION_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
		cfg.MQTT.Enabled = true
	}
	if v := os.Getenv("IACTION_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("IACTION_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("IACTION_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("IACTION_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("IACTION_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("IACTION_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("IACTION_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("IACTION_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("IACTION_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("IACTION_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("IACTION_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("IACTION_HA_BASE_URL"); v != "" {
		cfg.HomeAssistant.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("IACTION_HA_TOKEN"); v != "" {
		cfg.HomeAssistant.Token = v
	}
	if v := os.Getenv("IACTION_HA_ENTITY_ID"); v != "" {
		cfg.HomeAssistant.EntityID = v
	}
	if v := os.Getenv("IACTION_HA_POLL_INTERVAL"); v != "" {
		if d, ok := parseSeconds(v); ok {
			cfg.HomeAssistant.PollInterval = d
		}
	}
	if v := os.Getenv("IACTION_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// parseSeconds accepts either a Go duration ("1.5s") or a bare number of
// seconds ("1.5").
func parseSeconds(v string) (time.Duration, bool) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, true
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return time.Duration(f * float64(time.Second)), true
}

// AnalysisInterval returns the minimum analysis interval for one camera.
func (a AnalysisConfig) AnalysisInterval(cameraID string) time.Duration {
	if d, ok := a.CameraIntervals[cameraID]; ok && d > 0 {
		return d
	}
	return a.MinInterval
}
