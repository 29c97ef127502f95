package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
// Per-run parameters (event date, AOI paths, detection method) come from CLI
// flags instead; see cmd/floodmap.
type Config struct {
	// Remote geospatial platform.
	PlatformBaseURL string
	PlatformToken   string
	PlatformProject string
	PlatformTimeout time.Duration

	// Analysis parameters.
	ScaleMeters        float64 // nominal working scale in meters per pixel
	HistogramBuckets   int
	CloudPixelPercent  float64 // max CLOUDY_PIXEL_PERCENTAGE for Sentinel-2 scenes
	SpeckleRadiusM     float64
	MinConnectedPixels int
	MaxSlopeDegrees    float64

	// Export defaults.
	ExportCRS       string
	ExportMaxPixels int64

	// Optional Kafka report sink.
	KafkaBrokers     []string
	KafkaReportTopic string
	KafkaEnabled     bool

	CatalogCacheSize int

	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	timeout, err := parseDuration("PLATFORM_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	scale, err := parseFloat("SCALE_METERS", 10)
	if err != nil {
		return nil, err
	}
	cloudPct, err := parseFloat("CLOUD_PIXEL_PERCENT", 30)
	if err != nil {
		return nil, err
	}
	speckleRadius, err := parseFloat("SPECKLE_RADIUS_METERS", 30)
	if err != nil {
		return nil, err
	}
	maxSlope, err := parseFloat("MAX_SLOPE_DEGREES", 5)
	if err != nil {
		return nil, err
	}

	buckets, err := parseInt("HISTOGRAM_BUCKETS", 256)
	if err != nil {
		return nil, err
	}
	minConnected, err := parseInt("MIN_CONNECTED_PIXELS", 8)
	if err != nil {
		return nil, err
	}
	cacheSize, err := parseInt("CATALOG_CACHE_SIZE", 128)
	if err != nil {
		return nil, err
	}
	maxPixels, err := parseInt("EXPORT_MAX_PIXELS", 10_000_000_000)
	if err != nil {
		return nil, err
	}

	kafkaEnabled := false
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	cfg := &Config{
		PlatformBaseURL: envOrDefault("PLATFORM_BASE_URL", "https://earthengine.googleapis.com"),
		PlatformToken:   os.Getenv("PLATFORM_TOKEN"),
		PlatformProject: envOrDefault("PLATFORM_PROJECT", "flood-mapper"),
		PlatformTimeout: timeout,

		ScaleMeters:        scale,
		HistogramBuckets:   buckets,
		CloudPixelPercent:  cloudPct,
		SpeckleRadiusM:     speckleRadius,
		MinConnectedPixels: minConnected,
		MaxSlopeDegrees:    maxSlope,

		ExportCRS:       envOrDefault("EXPORT_CRS", "EPSG:4326"),
		ExportMaxPixels: int64(maxPixels),

		KafkaBrokers:     parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaReportTopic: envOrDefault("KAFKA_REPORT_TOPIC", "flood-reports"),
		KafkaEnabled:     kafkaEnabled,

		CatalogCacheSize: cacheSize,

		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "text"),
		ShutdownTimeout: shutdownTimeout,
	}

	if cfg.PlatformBaseURL == "" {
		return nil, errors.New("PLATFORM_BASE_URL is required")
	}
	if cfg.ScaleMeters <= 0 {
		return nil, errors.New("SCALE_METERS must be positive")
	}
	if cfg.HistogramBuckets < 2 {
		return nil, errors.New("HISTOGRAM_BUCKETS must be at least 2")
	}
	if cfg.CloudPixelPercent < 0 || cfg.CloudPixelPercent > 100 {
		return nil, errors.New("CLOUD_PIXEL_PERCENT must be in [0,100]")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if cfg.KafkaEnabled && cfg.KafkaReportTopic == "" {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_REPORT_TOPIC is not set")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseBrokers(s string) []string {
	parts := strings.Split(s, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}
