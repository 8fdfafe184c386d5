package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Server
	Port        int    `envconfig:"PORT" default:"3000"`
	Environment string `envconfig:"ENV" default:"development"`

	// Database
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// Provider
	ProviderType string `envconfig:"PROVIDER_TYPE" default:"insight"`
	InsightURL   string `envconfig:"INSIGHT_URL" default:"http://localhost:8100"`

	// Storage
	ImagesPath string `envconfig:"IMAGES_PATH" default:"./images"`
	IndexPath  string `envconfig:"INDEX_PATH" default:"./index"`

	// Recognition
	EmbeddingDimension  int     `envconfig:"EMBEDDING_DIMENSION" default:"512"`
	ConfidenceThreshold float32 `envconfig:"CONFIDENCE_THRESHOLD" default:"0.6"`
	AttendanceMin       float32 `envconfig:"ATTENDANCE_MIN" default:"0.6"`
	QualityMin          float64 `envconfig:"QUALITY_MIN" default:"0.5"`
	QualityMinRecognize float64 `envconfig:"QUALITY_MIN_RECOGNIZE" default:"0.35"`
	MinFaceArea         float64 `envconfig:"MIN_FACE_AREA" default:"3600"`

	// Camera workers
	RecognitionHz  float64       `envconfig:"RECOGNITION_HZ" default:"3"`
	StreamMaxHz    float64       `envconfig:"STREAM_MAX_HZ" default:"15"`
	EventCooldown  time.Duration `envconfig:"EVENT_COOLDOWN" default:"10s"`
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT" default:"30s"`
	ShutdownGrace  time.Duration `envconfig:"SHUTDOWN_GRACE" default:"5s"`
	MaxStreams     int           `envconfig:"MAX_STREAMS" default:"20"`

	// PersistenceFailWindow é quanto tempo um worker tolera falhas seguidas
	// de banco antes de se declarar failed e reconectar do zero.
	PersistenceFailWindow time.Duration `envconfig:"PERSISTENCE_FAIL_WINDOW" default:"30s"`

	// Presence
	PresenceTTL    time.Duration `envconfig:"PRESENCE_TTL" default:"30s"`
	EvictionPeriod time.Duration `envconfig:"EVICTION_PERIOD" default:"10s"`
	RefreshPeriod  time.Duration `envconfig:"REFRESH_PERIOD" default:"30s"`

	// Hub
	SubscriberQueue int `envconfig:"SUBSCRIBER_QUEUE" default:"32"`

	// Enrollment
	ImageProcessingTimeout time.Duration `envconfig:"IMAGE_PROCESSING_TIMEOUT" default:"10s"`
	MaxImagesPerStudent    int           `envconfig:"MAX_IMAGES_PER_STUDENT" default:"10"`

	// Attendance day boundary
	TimeZone string `envconfig:"TIME_ZONE" default:"Local"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.AttendanceMin < cfg.ConfidenceThreshold {
		return nil, fmt.Errorf("ATTENDANCE_MIN (%.2f) must not be below CONFIDENCE_THRESHOLD (%.2f)",
			cfg.AttendanceMin, cfg.ConfidenceThreshold)
	}
	if cfg.EvictionPeriod > cfg.PresenceTTL/2 {
		return nil, fmt.Errorf("EVICTION_PERIOD (%s) must be at most half of PRESENCE_TTL (%s)",
			cfg.EvictionPeriod, cfg.PresenceTTL)
	}
	if _, err := cfg.Location(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return &cfg, nil
}

// Location resolves the configured time zone for the attendance day boundary.
// During a DST fall-back the repeated hour maps to the same calendar day, so
// the at-most-one-record-per-day invariant is unaffected.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIME_ZONE %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
