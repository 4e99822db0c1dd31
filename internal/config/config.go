// Package config loads and validates gateway config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :5000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN. When empty the embedded JSON store under DataDir is used.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// DataDir is where the embedded store keeps one JSON file per user.
	DataDir string `mapstructure:"DATA_DIR"`
	// ScratchDir is the root for per-request image scratch directories. Empty means os.TempDir().
	ScratchDir string `mapstructure:"SCRATCH_DIR"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"` // "json" or "text"

	// ORTLibraryPath points at the ONNX Runtime shared library.
	ORTLibraryPath string `mapstructure:"ORT_LIBRARY_PATH"`
	// ORTUseCUDA tries the CUDA execution provider first and falls back to CPU.
	ORTUseCUDA bool `mapstructure:"ORT_USE_CUDA"`

	// Object detection model: either a local ONNX file (with a labels file) or a remote inference URL.
	ObjectModelPath   string `mapstructure:"OBJECT_MODEL_PATH"`
	ObjectModelLabels string `mapstructure:"OBJECT_MODEL_LABELS"`
	ObjectModelURL    string `mapstructure:"OBJECT_MODEL_URL"`
	// Plant disease model, same shape as the object model.
	PlantModelPath   string `mapstructure:"PLANT_MODEL_PATH"`
	PlantModelLabels string `mapstructure:"PLANT_MODEL_LABELS"`
	PlantModelURL    string `mapstructure:"PLANT_MODEL_URL"`

	ModelInputSize      int     `mapstructure:"MODEL_INPUT_SIZE"`
	ModelConfThreshold  float64 `mapstructure:"MODEL_CONF_THRESHOLD"`
	ModelIOUThreshold   float64 `mapstructure:"MODEL_IOU_THRESHOLD"`
	MaxConcurrentInfers int     `mapstructure:"MAX_CONCURRENT_INFERENCES"`
	MaxUploadBytes      int64   `mapstructure:"MAX_UPLOAD_BYTES"`
	// MaxImagePixels caps width*height of decoded images.
	MaxImagePixels      int64   `mapstructure:"MAX_IMAGE_PIXELS"`

	// RejectEmptyReadings makes /update refuse bodies with no channel values.
	// Off by default: an empty reading is accepted and stored.
	RejectEmptyReadings bool `mapstructure:"REJECT_EMPTY_READINGS"`

	// KafkaBrokers is a comma-separated broker list. When set, appended readings are published.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`

	// OTLPEndpoint enables OpenTelemetry export when non-empty.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	ServiceName  string `mapstructure:"SERVICE_NAME"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":5000")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("SCRATCH_DIR", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("ORT_LIBRARY_PATH", "./models/libonnxruntime.so")
	v.SetDefault("ORT_USE_CUDA", true)
	v.SetDefault("OBJECT_MODEL_PATH", "")
	v.SetDefault("OBJECT_MODEL_LABELS", "")
	v.SetDefault("OBJECT_MODEL_URL", "")
	v.SetDefault("PLANT_MODEL_PATH", "")
	v.SetDefault("PLANT_MODEL_LABELS", "")
	v.SetDefault("PLANT_MODEL_URL", "")
	v.SetDefault("MODEL_INPUT_SIZE", 640)
	v.SetDefault("MODEL_CONF_THRESHOLD", 0.25)
	v.SetDefault("MODEL_IOU_THRESHOLD", 0.45)
	v.SetDefault("MAX_CONCURRENT_INFERENCES", 4)
	v.SetDefault("MAX_UPLOAD_BYTES", 32<<20)
	v.SetDefault("MAX_IMAGE_PIXELS", 40_000_000)
	v.SetDefault("REJECT_EMPTY_READINGS", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "homeauto-readings")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("SERVICE_NAME", "homeauto-gateway")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.ModelInputSize <= 0 || cfg.ModelInputSize%32 != 0 {
		return nil, errors.New("config: MODEL_INPUT_SIZE must be a positive multiple of 32")
	}
	if cfg.ModelConfThreshold < 0 || cfg.ModelConfThreshold > 1 {
		return nil, errors.New("config: MODEL_CONF_THRESHOLD must be between 0 and 1")
	}
	if cfg.ModelIOUThreshold <= 0 || cfg.ModelIOUThreshold > 1 {
		return nil, errors.New("config: MODEL_IOU_THRESHOLD must be in (0, 1]")
	}
	if cfg.MaxConcurrentInfers < 1 {
		return nil, errors.New("config: MAX_CONCURRENT_INFERENCES must be at least 1")
	}
	if cfg.MaxUploadBytes <= 0 {
		return nil, errors.New("config: MAX_UPLOAD_BYTES must be positive")
	}
	if cfg.MaxImagePixels <= 0 {
		return nil, errors.New("config: MAX_IMAGE_PIXELS must be positive")
	}
	if cfg.ObjectModelPath != "" && cfg.ObjectModelURL != "" {
		return nil, errors.New("config: set only one of OBJECT_MODEL_PATH and OBJECT_MODEL_URL")
	}
	if cfg.PlantModelPath != "" && cfg.PlantModelURL != "" {
		return nil, errors.New("config: set only one of PLANT_MODEL_PATH and PLANT_MODEL_URL")
	}

	return &cfg, nil
}

// KafkaBrokerList returns Kafka broker addresses from the comma-separated config.
func (c *Config) KafkaBrokerList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
