package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://earthengine.googleapis.com", cfg.PlatformBaseURL)
	assert.Empty(t, cfg.PlatformToken)
	assert.Equal(t, "flood-mapper", cfg.PlatformProject)
	assert.Equal(t, 30*time.Second, cfg.PlatformTimeout)
	assert.Equal(t, 10.0, cfg.ScaleMeters)
	assert.Equal(t, 256, cfg.HistogramBuckets)
	assert.Equal(t, 30.0, cfg.CloudPixelPercent)
	assert.Equal(t, 30.0, cfg.SpeckleRadiusM)
	assert.Equal(t, 8, cfg.MinConnectedPixels)
	assert.Equal(t, 5.0, cfg.MaxSlopeDegrees)
	assert.Equal(t, "EPSG:4326", cfg.ExportCRS)
	assert.Equal(t, int64(10_000_000_000), cfg.ExportMaxPixels)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "flood-reports", cfg.KafkaReportTopic)
	assert.False(t, cfg.KafkaEnabled)
	assert.Equal(t, 128, cfg.CatalogCacheSize)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("PLATFORM_BASE_URL", "https://platform.example.com")
	t.Setenv("PLATFORM_TOKEN", "tok-123")
	t.Setenv("PLATFORM_PROJECT", "my-project")
	t.Setenv("PLATFORM_TIMEOUT", "45s")
	t.Setenv("SCALE_METERS", "30")
	t.Setenv("HISTOGRAM_BUCKETS", "128")
	t.Setenv("CLOUD_PIXEL_PERCENT", "20")
	t.Setenv("SPECKLE_RADIUS_METERS", "50")
	t.Setenv("MIN_CONNECTED_PIXELS", "12")
	t.Setenv("MAX_SLOPE_DEGREES", "3")
	t.Setenv("EXPORT_CRS", "EPSG:32631")
	t.Setenv("EXPORT_MAX_PIXELS", "100000000")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_REPORT_TOPIC", "custom-reports")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("CATALOG_CACHE_SIZE", "64")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://platform.example.com", cfg.PlatformBaseURL)
	assert.Equal(t, "tok-123", cfg.PlatformToken)
	assert.Equal(t, "my-project", cfg.PlatformProject)
	assert.Equal(t, 45*time.Second, cfg.PlatformTimeout)
	assert.Equal(t, 30.0, cfg.ScaleMeters)
	assert.Equal(t, 128, cfg.HistogramBuckets)
	assert.Equal(t, 20.0, cfg.CloudPixelPercent)
	assert.Equal(t, 50.0, cfg.SpeckleRadiusM)
	assert.Equal(t, 12, cfg.MinConnectedPixels)
	assert.Equal(t, 3.0, cfg.MaxSlopeDegrees)
	assert.Equal(t, "EPSG:32631", cfg.ExportCRS)
	assert.Equal(t, int64(100_000_000), cfg.ExportMaxPixels)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "custom-reports", cfg.KafkaReportTopic)
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, 64, cfg.CatalogCacheSize)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_InvalidTimeout(t *testing.T) {
	t.Setenv("PLATFORM_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PLATFORM_TIMEOUT")
}

func TestLoad_NegativeTimeout(t *testing.T) {
	t.Setenv("PLATFORM_TIMEOUT", "-1s")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PLATFORM_TIMEOUT")
}

func TestLoad_InvalidScale(t *testing.T) {
	t.Setenv("SCALE_METERS", "abc")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCALE_METERS")
}

func TestLoad_ZeroScale(t *testing.T) {
	t.Setenv("SCALE_METERS", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCALE_METERS")
}

func TestLoad_TooFewBuckets(t *testing.T) {
	t.Setenv("HISTOGRAM_BUCKETS", "1")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HISTOGRAM_BUCKETS")
}

func TestLoad_CloudPercentOutOfRange(t *testing.T) {
	t.Setenv("CLOUD_PIXEL_PERCENT", "150")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CLOUD_PIXEL_PERCENT")
}

func TestLoad_KafkaEnabledWithoutBrokers(t *testing.T) {
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", " ")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")
}
