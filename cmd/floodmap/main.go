// Command floodmap maps the flood extent of one event from satellite
// imagery. It selects pre- and post-event scenes around the event date,
// calibrates water thresholds, reconciles the water masks into a flood
// extent, measures its area, and optionally exports the extent as a platform
// asset and publishes a report to Kafka.
//
// Usage:
//
//	floodmap --event_date 2025-10-14 \
//	  --aoi_path aoi.geojson \
//	  --otsu_aoi_path calibration.geojson \
//	  --detection_method both \
//	  --export --asset_id_prefix projects/my-project/assets/floods
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	httpadapter "github.com/fadodo/flood-mapper/internal/adapter/http"
	kafkaadapter "github.com/fadodo/flood-mapper/internal/adapter/kafka"
	"github.com/fadodo/flood-mapper/internal/config"
	"github.com/fadodo/flood-mapper/internal/ee"
	"github.com/fadodo/flood-mapper/internal/forecast"
	"github.com/fadodo/flood-mapper/internal/geometry"
	"github.com/fadodo/flood-mapper/internal/ingest"
	"github.com/fadodo/flood-mapper/internal/observability"
	"github.com/fadodo/flood-mapper/internal/pipeline"
)

// Default region: the Lomé coastal strip in Togo, with a calibration window
// over the permanently mixed land/water shoreline of Lake Togo.
var (
	defaultAOI     = geometry.Rect(0.889893, 6.110515, 1.853943, 6.342597)
	defaultOtsuAOI = geometry.Rect(1.406947563254846, 6.273029988557553,
		1.4196204943754935, 6.279016328141211)
)

func main() {
	eventDate := flag.String("event_date", "", "flood event date, YYYY-MM-DD (required)")
	aoiPath := flag.String("aoi_path", "", "GeoJSON file with the area of interest (default: Lomé region)")
	otsuAOIPath := flag.String("otsu_aoi_path", "", "GeoJSON file with the threshold calibration region")
	sarDays := flag.Int("sar_search_days", 12, "Sentinel-1 search window, days either side of the event")
	s2Days := flag.Int("s2_search_days", 20, "Sentinel-2 search window, days either side of the event")
	export := flag.Bool("export", false, "export flood extents as platform assets")
	assetPrefix := flag.String("asset_id_prefix", "", "asset ID prefix for exports (required with --export)")
	method := flag.String("detection_method", "both", "detection method: sar, s2, or both")
	metricsAddr := flag.String("metrics_addr", "", "serve /healthz, /readyz, /metrics on this address during the run")
	flag.Parse()

	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)

	opts, err := buildOptions(*eventDate, *aoiPath, *otsuAOIPath, *sarDays, *s2Days, *export, *assetPrefix, *method)
	if err != nil {
		logger.Error("invalid flags", "error", err)
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, *metricsAddr, logger); err != nil {
		logger.Error("mapping run failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts pipeline.Options, metricsAddr string, logger *slog.Logger) error {
	metrics := observability.NewMetrics()

	client := ee.NewClient(cfg, metrics, logger)
	catalog := ee.NewCachedCatalog(client, cfg.CatalogCacheSize, metrics)

	ing := ingest.NewService(catalog, cfg, metrics, logger)
	fc := forecast.NewService(catalog, client, logger)

	var sink pipeline.Sink
	if cfg.KafkaEnabled {
		writer := kafkaadapter.NewWriter(cfg, logger)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("kafka writer close", "error", err)
			}
		}()
		sink = writer
		logger.Info("kafka report sink enabled", "topic", cfg.KafkaReportTopic)
	}

	svc := pipeline.NewService(client, ing, fc, sink, cfg, metrics, logger)

	// The metrics server, when requested, lives for the duration of the run.
	var srvDone chan error
	if metricsAddr != "" {
		srv := httpadapter.NewServer(metricsAddr, httpadapter.ReadinessFunc(func(context.Context) error {
			if cfg.PlatformToken == "" {
				return fmt.Errorf("PLATFORM_TOKEN is not set")
			}
			return nil
		}), logger)
		srvDone = make(chan error, 1)
		go func() { srvDone <- srv.Run(ctx, cfg.ShutdownTimeout) }()
	}

	report, err := svc.Run(ctx, opts)
	if err != nil {
		return err
	}
	printSummary(report)

	if srvDone != nil {
		// Leave the endpoints up until interrupted, so a final scrape can
		// collect the run's metrics.
		logger.Info("run complete; metrics server still up, interrupt to exit")
		if err := <-srvDone; err != nil {
			logger.Error("metrics server", "error", err)
		}
	}
	return nil
}

func buildOptions(eventDate, aoiPath, otsuAOIPath string, sarDays, s2Days int,
	export bool, assetPrefix, method string) (pipeline.Options, error) {
	if eventDate == "" {
		return pipeline.Options{}, fmt.Errorf("--event_date is required")
	}
	event, err := time.Parse("2006-01-02", eventDate)
	if err != nil {
		return pipeline.Options{}, fmt.Errorf("invalid --event_date %q: %w", eventDate, err)
	}

	m, err := pipeline.ParseMethod(method)
	if err != nil {
		return pipeline.Options{}, err
	}

	if sarDays <= 0 || s2Days <= 0 {
		return pipeline.Options{}, fmt.Errorf("search windows must be positive")
	}
	if export && assetPrefix == "" {
		return pipeline.Options{}, fmt.Errorf("--asset_id_prefix is required with --export")
	}

	aoi := defaultAOI
	if aoiPath != "" {
		if aoi, err = geometry.Load(aoiPath); err != nil {
			return pipeline.Options{}, fmt.Errorf("load AOI: %w", err)
		}
	}
	otsuAOI := defaultOtsuAOI
	if otsuAOIPath != "" {
		if otsuAOI, err = geometry.Load(otsuAOIPath); err != nil {
			return pipeline.Options{}, fmt.Errorf("load calibration region: %w", err)
		}
	}

	return pipeline.Options{
		EventDate:     event,
		AOI:           aoi,
		OtsuAOI:       otsuAOI,
		SARWindowDays: sarDays,
		S2WindowDays:  s2Days,
		Method:        m,
		Export:        export,
		AssetIDPrefix: assetPrefix,
	}, nil
}

func printSummary(report *pipeline.Report) {
	fmt.Printf("Run %s — event %s (%s)\n", report.RunID, report.EventDate, report.Method)
	if report.SAR != nil {
		fmt.Printf("  SAR: flood %.3f km², refined %.3f km² (thresholds %.2f / %.2f dB)\n",
			report.SAR.FloodAreaKm2, report.SAR.RefinedKm2,
			report.SAR.PreThreshold, report.SAR.PostThreshold)
	}
	if report.SARSkipped != "" {
		fmt.Printf("  SAR: skipped — %s\n", report.SARSkipped)
	}
	if report.S2 != nil {
		fmt.Printf("  S2:  flood %.3f km²\n", report.S2.FloodAreaKm2)
	}
	if report.S2Skipped != "" {
		fmt.Printf("  S2:  skipped — %s\n", report.S2Skipped)
	}
	if report.Precip != nil {
		fmt.Printf("  Precipitation outlook %s to %s: %.1f mm mean accumulation\n",
			report.Precip.Start.Format("2006-01-02"), report.Precip.End.Format("2006-01-02"),
			report.Precip.MeanAccumMM)
	}
	for _, job := range report.Exports {
		fmt.Printf("  Export %s → %s (job %s)\n", job.Kind, job.AssetID, job.JobID)
	}
	if data, err := json.MarshalIndent(report, "", "  "); err == nil {
		fmt.Printf("\n%s\n", data)
	}
}
