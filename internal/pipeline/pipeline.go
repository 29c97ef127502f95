// Package pipeline orchestrates a complete flood mapping run: scene
// selection, threshold calibration, water masking, mask reconciliation,
// refinement, area measurement, and optional asset export and report
// publishing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/fadodo/flood-mapper/internal/config"
	"github.com/fadodo/flood-mapper/internal/detect"
	"github.com/fadodo/flood-mapper/internal/ee"
	"github.com/fadodo/flood-mapper/internal/ee/expr"
	"github.com/fadodo/flood-mapper/internal/forecast"
	"github.com/fadodo/flood-mapper/internal/geometry"
	"github.com/fadodo/flood-mapper/internal/ingest"
	"github.com/fadodo/flood-mapper/internal/observability"
)

// Method selects which detection branches a run executes.
type Method string

const (
	MethodSAR  Method = "sar"
	MethodS2   Method = "s2"
	MethodBoth Method = "both"
)

// ParseMethod validates a detection method flag value.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodSAR, MethodS2, MethodBoth:
		return Method(s), nil
	default:
		return "", fmt.Errorf("unknown detection method %q (want sar, s2, or both)", s)
	}
}

// Options parameterizes one mapping run.
type Options struct {
	EventDate     time.Time
	AOI           geometry.AOI
	OtsuAOI       geometry.AOI
	SARWindowDays int
	S2WindowDays  int
	Method        Method
	Export        bool
	AssetIDPrefix string
	ForecastDays  int
}

// Platform is the slice of the remote platform the pipeline itself drives.
// It also satisfies the detect package's Histogrammer and Summer.
type Platform interface {
	ReduceHistogram(ctx context.Context, img expr.Image, region geometry.AOI, scale float64, maxBuckets int) (ee.Histogram, error)
	ReduceSum(ctx context.Context, img expr.Image, region geometry.AOI, scale float64) (float64, error)
	ExportImage(ctx context.Context, img expr.Image, spec ee.ExportSpec) (string, error)
}

// Sink receives the finished report. Publishing is best effort; a sink
// failure never fails the run.
type Sink interface {
	Publish(ctx context.Context, report *Report) error
}

// SARResult is the outcome of the SAR detection branch.
type SARResult struct {
	PreThreshold  float64 `json:"pre_threshold_db"`
	PostThreshold float64 `json:"post_threshold_db"`
	FloodAreaKm2  float64 `json:"flood_area_km2"`
	RefinedKm2    float64 `json:"refined_area_km2"`
}

// S2Result is the outcome of the optical detection branch.
type S2Result struct {
	FloodAreaKm2 float64 `json:"flood_area_km2"`
}

// ExportJob records one submitted asset export.
type ExportJob struct {
	Kind    string `json:"kind"` // flood_extent_sar, flood_extent_s2
	AssetID string `json:"asset_id"`
	JobID   string `json:"job_id"`
}

// Report is the full result of a mapping run.
type Report struct {
	RunID       string            `json:"run_id"`
	EventDate   string            `json:"event_date"`
	Method      Method            `json:"method"`
	GeneratedAt time.Time         `json:"generated_at"`
	SAR         *SARResult        `json:"sar,omitempty"`
	SARSkipped  string            `json:"sar_skipped,omitempty"`
	S2          *S2Result         `json:"s2,omitempty"`
	S2Skipped   string            `json:"s2_skipped,omitempty"`
	Precip      *forecast.Outlook `json:"precip,omitempty"`
	Exports     []ExportJob       `json:"exports,omitempty"`
}

// Service runs flood mapping pipelines.
type Service struct {
	platform Platform
	ingest   *ingest.Service
	forecast *forecast.Service
	sink     Sink

	cfg     *config.Config
	metrics *observability.Metrics
	logger  *slog.Logger
	clock   clockwork.Clock
}

// NewService wires a pipeline. sink and forecast may be nil; the
// corresponding steps are skipped.
func NewService(platform Platform, ing *ingest.Service, fc *forecast.Service, sink Sink,
	cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{
		platform: platform,
		ingest:   ing,
		forecast: fc,
		sink:     sink,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
		clock:    clockwork.NewRealClock(),
	}
}

// SetClock replaces the wall clock, for tests.
func (s *Service) SetClock(c clockwork.Clock) { s.clock = c }

// Run executes one mapping run and returns its report. With Method both, a
// branch that finds no imagery is skipped as long as the other succeeds;
// with a single method, no imagery fails the run.
func (s *Service) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Method == "" {
		opts.Method = MethodBoth
	}
	if opts.ForecastDays <= 0 {
		opts.ForecastDays = 5
	}

	s.metrics.PipelineRunning.Set(1)
	defer s.metrics.PipelineRunning.Set(0)
	start := s.clock.Now()
	defer func() {
		s.metrics.PipelineDuration.Observe(s.clock.Since(start).Seconds())
	}()

	report := &Report{
		RunID:       uuid.NewString(),
		EventDate:   opts.EventDate.Format("2006-01-02"),
		Method:      opts.Method,
		GeneratedAt: s.clock.Now().UTC(),
	}
	logger := s.logger.With("run_id", report.RunID, "event_date", report.EventDate)
	logger.Info("mapping run started", "method", opts.Method)

	if opts.Method == MethodSAR || opts.Method == MethodBoth {
		res, extent, err := s.runSAR(ctx, opts, logger)
		switch {
		case err == nil:
			report.SAR = res
			if opts.Export {
				if err := s.export(ctx, report, "flood_extent_sar", extent, opts, logger); err != nil {
					return nil, err
				}
			}
		case errors.Is(err, ingest.ErrNoImagery) && opts.Method == MethodBoth:
			logger.Warn("skipping SAR branch", "reason", err)
			report.SARSkipped = err.Error()
		default:
			return nil, fmt.Errorf("SAR branch: %w", err)
		}
	}

	if opts.Method == MethodS2 || opts.Method == MethodBoth {
		res, extent, err := s.runS2(ctx, opts, logger)
		switch {
		case err == nil:
			report.S2 = res
			if opts.Export {
				if err := s.export(ctx, report, "flood_extent_s2", extent, opts, logger); err != nil {
					return nil, err
				}
			}
		case errors.Is(err, ingest.ErrNoImagery) && opts.Method == MethodBoth:
			logger.Warn("skipping optical branch", "reason", err)
			report.S2Skipped = err.Error()
		default:
			return nil, fmt.Errorf("optical branch: %w", err)
		}
	}

	if report.SAR == nil && report.S2 == nil {
		return nil, fmt.Errorf("no imagery for any detection branch: %w", ingest.ErrNoImagery)
	}

	if s.forecast != nil {
		outlook, err := s.forecast.Outlook(ctx, opts.AOI, opts.EventDate, opts.ForecastDays)
		switch {
		case err == nil:
			report.Precip = &outlook
		case errors.Is(err, forecast.ErrNoForecast):
			logger.Warn("no precipitation outlook", "reason", err)
		default:
			return nil, fmt.Errorf("precipitation outlook: %w", err)
		}
	}

	s.publish(ctx, report, logger)
	logger.Info("mapping run finished", "duration", s.clock.Since(start))
	return report, nil
}

// runSAR executes the radar branch: speckle-filtered pre/post scenes, a
// fresh Otsu threshold per scene over the calibration region, water masks,
// flood extent over the common valid domain, and terrain refinement.
func (s *Service) runSAR(ctx context.Context, opts Options, logger *slog.Logger) (*SARResult, expr.Image, error) {
	pair, err := s.ingest.SARPair(ctx, opts.AOI, opts.EventDate, opts.SARWindowDays)
	if err != nil {
		return nil, expr.Image{}, err
	}

	scale := s.cfg.ScaleMeters
	buckets := s.cfg.HistogramBuckets
	preT, err := detect.ComputeThreshold(ctx, s.platform, pair.Pre, detect.SARBand, opts.OtsuAOI, scale, buckets)
	if err != nil {
		return nil, expr.Image{}, fmt.Errorf("pre-event threshold: %w", err)
	}
	postT, err := detect.ComputeThreshold(ctx, s.platform, pair.Post, detect.SARBand, opts.OtsuAOI, scale, buckets)
	if err != nil {
		return nil, expr.Image{}, fmt.Errorf("post-event threshold: %w", err)
	}
	logger.Info("thresholds calibrated", "pre_db", preT, "post_db", postT)

	preWater := detect.SARWaterMask(pair.Pre, preT)
	postWater := detect.SARWaterMask(pair.Post, postT)
	extent := detect.FloodExtent(preWater, postWater)

	area, err := detect.Area(ctx, s.platform, extent, opts.AOI, scale)
	if err != nil {
		return nil, expr.Image{}, fmt.Errorf("measure flood extent: %w", err)
	}
	s.metrics.FloodAreaKm2.WithLabelValues("sar").Set(area)

	refined := detect.Refine(extent, s.ingest.DEM(opts.AOI), detect.RefineParams{
		MinConnectedPixels: s.cfg.MinConnectedPixels,
		MaxSlopeDegrees:    s.cfg.MaxSlopeDegrees,
	})
	refinedArea, err := detect.Area(ctx, s.platform, refined, opts.AOI, scale)
	if err != nil {
		return nil, expr.Image{}, fmt.Errorf("measure refined extent: %w", err)
	}
	s.metrics.FloodAreaKm2.WithLabelValues("sar_refined").Set(refinedArea)
	logger.Info("SAR branch complete", "flood_km2", area, "refined_km2", refinedArea)

	return &SARResult{
		PreThreshold:  preT,
		PostThreshold: postT,
		FloodAreaKm2:  area,
		RefinedKm2:    refinedArea,
	}, refined, nil
}

// runS2 executes the optical branch: median composites around the event and
// an NDWI water mask comparison.
func (s *Service) runS2(ctx context.Context, opts Options, logger *slog.Logger) (*S2Result, expr.Image, error) {
	pair, err := s.ingest.S2Pair(ctx, opts.AOI, opts.EventDate, opts.S2WindowDays)
	if err != nil {
		return nil, expr.Image{}, err
	}

	preWater := detect.NDWIWaterMask(pair.Pre)
	postWater := detect.NDWIWaterMask(pair.Post)
	extent := detect.FloodExtent(preWater, postWater)

	area, err := detect.Area(ctx, s.platform, extent, opts.AOI, s.cfg.ScaleMeters)
	if err != nil {
		return nil, expr.Image{}, fmt.Errorf("measure flood extent: %w", err)
	}
	s.metrics.FloodAreaKm2.WithLabelValues("s2").Set(area)
	logger.Info("optical branch complete", "flood_km2", area)

	return &S2Result{FloodAreaKm2: area}, extent, nil
}

func (s *Service) export(ctx context.Context, report *Report, kind string, img expr.Image, opts Options, logger *slog.Logger) error {
	assetID := fmt.Sprintf("%s/%s_%s", opts.AssetIDPrefix, kind, opts.EventDate.Format("20060102"))
	jobID, err := s.platform.ExportImage(ctx, img, ee.ExportSpec{
		AssetID:   assetID,
		Region:    opts.AOI,
		Scale:     s.cfg.ScaleMeters,
		CRS:       s.cfg.ExportCRS,
		MaxPixels: s.cfg.ExportMaxPixels,
	})
	if err != nil {
		return fmt.Errorf("export %s: %w", kind, err)
	}
	s.metrics.ExportsSubmitted.Inc()
	logger.Info("export submitted", "kind", kind, "asset_id", assetID, "job_id", jobID)
	report.Exports = append(report.Exports, ExportJob{Kind: kind, AssetID: assetID, JobID: jobID})
	return nil
}

func (s *Service) publish(ctx context.Context, report *Report, logger *slog.Logger) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Publish(ctx, report); err != nil {
		logger.Error("publish report", "error", err)
		return
	}
	s.metrics.ReportsPublished.Inc()
}
