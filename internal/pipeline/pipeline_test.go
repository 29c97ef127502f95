package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fadodo/flood-mapper/internal/config"
	"github.com/fadodo/flood-mapper/internal/ee"
	"github.com/fadodo/flood-mapper/internal/ee/expr"
	"github.com/fadodo/flood-mapper/internal/forecast"
	"github.com/fadodo/flood-mapper/internal/geometry"
	"github.com/fadodo/flood-mapper/internal/ingest"
	"github.com/fadodo/flood-mapper/internal/observability"
	"github.com/fadodo/flood-mapper/internal/pipeline"
)

// fakePlatform scripts the remote platform: collection sizes and area sums
// are consumed in call order, histograms are always cleanly bimodal.
type fakePlatform struct {
	sizes     []int
	sizeErr   error
	sums      []float64
	sumCalls  int
	histCalls int
	exports   []ee.ExportSpec
	exportErr error
}

func (f *fakePlatform) CollectionSize(context.Context, expr.Collection) (int, error) {
	if f.sizeErr != nil {
		return 0, f.sizeErr
	}
	if len(f.sizes) == 0 {
		return 0, nil
	}
	n := f.sizes[0]
	f.sizes = f.sizes[1:]
	return n, nil
}

func (f *fakePlatform) ReduceHistogram(context.Context, expr.Image, geometry.AOI, float64, int) (ee.Histogram, error) {
	f.histCalls++
	return ee.Histogram{
		Counts:      []float64{40, 0, 0, 60},
		BucketMeans: []float64{-22, -18, -14, -10},
	}, nil
}

func (f *fakePlatform) ReduceSum(context.Context, expr.Image, geometry.AOI, float64) (float64, error) {
	if f.sumCalls >= len(f.sums) {
		return 0, errors.New("unexpected ReduceSum call")
	}
	v := f.sums[f.sumCalls]
	f.sumCalls++
	return v, nil
}

func (f *fakePlatform) ReduceMean(context.Context, expr.Image, geometry.AOI, float64) (float64, error) {
	return 12.5, nil
}

func (f *fakePlatform) ExportImage(_ context.Context, _ expr.Image, spec ee.ExportSpec) (string, error) {
	if f.exportErr != nil {
		return "", f.exportErr
	}
	f.exports = append(f.exports, spec)
	return "job-" + spec.AssetID, nil
}

type fakeSink struct {
	reports []*pipeline.Report
	err     error
}

func (f *fakeSink) Publish(_ context.Context, r *pipeline.Report) error {
	if f.err != nil {
		return f.err
	}
	f.reports = append(f.reports, r)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		ScaleMeters:        10,
		HistogramBuckets:   64,
		CloudPixelPercent:  30,
		SpeckleRadiusM:     30,
		MinConnectedPixels: 8,
		MaxSlopeDegrees:    5,
		ExportCRS:          "EPSG:4326",
		ExportMaxPixels:    1e10,
	}
}

func newService(t *testing.T, platform *fakePlatform, sink pipeline.Sink, withForecast bool) *pipeline.Service {
	t.Helper()
	cfg := testConfig()
	metrics := observability.NewMetricsForTesting()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ing := ingest.NewService(platform, cfg, metrics, logger)
	var fc *forecast.Service
	if withForecast {
		fc = forecast.NewService(platform, platform, logger)
	}
	svc := pipeline.NewService(platform, ing, fc, sink, cfg, metrics, logger)
	svc.SetClock(clockwork.NewFakeClockAt(time.Date(2025, 10, 20, 12, 0, 0, 0, time.UTC)))
	return svc
}

func baseOptions() pipeline.Options {
	return pipeline.Options{
		EventDate:     time.Date(2025, 10, 14, 0, 0, 0, 0, time.UTC),
		AOI:           geometry.Rect(0.89, 6.11, 1.85, 6.34),
		OtsuAOI:       geometry.Rect(1.40, 6.27, 1.42, 6.28),
		SARWindowDays: 12,
		S2WindowDays:  20,
		Method:        pipeline.MethodBoth,
	}
}

func TestRun_BothBranches(t *testing.T) {
	platform := &fakePlatform{
		// SAR total/pre/post, then S2 total/pre/post.
		sizes: []int{4, 2, 2, 6, 3, 3},
		// SAR raw, SAR refined, S2 raw, in m².
		sums: []float64{8.4e6, 6.1e6, 9.9e6},
	}
	svc := newService(t, platform, nil, false)

	report, err := svc.Run(context.Background(), baseOptions())
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "2025-10-14", report.EventDate)
	assert.Equal(t, time.Date(2025, 10, 20, 12, 0, 0, 0, time.UTC), report.GeneratedAt)

	require.NotNil(t, report.SAR)
	// Otsu over the scripted bimodal histogram lands on the -22 dB bucket.
	assert.Equal(t, -22.0, report.SAR.PreThreshold)
	assert.Equal(t, -22.0, report.SAR.PostThreshold)
	assert.InDelta(t, 8.4, report.SAR.FloodAreaKm2, 1e-9)
	assert.InDelta(t, 6.1, report.SAR.RefinedKm2, 1e-9)

	require.NotNil(t, report.S2)
	assert.InDelta(t, 9.9, report.S2.FloodAreaKm2, 1e-9)

	assert.Equal(t, 2, platform.histCalls, "one fresh threshold per scene")
	assert.Empty(t, report.Exports)
}

func TestRun_SkipsSARWhenNoRadarImagery(t *testing.T) {
	platform := &fakePlatform{
		sizes: []int{1, 6, 3, 3}, // SAR total < 2, then S2 total/pre/post
		sums:  []float64{9.9e6},
	}
	svc := newService(t, platform, nil, false)

	report, err := svc.Run(context.Background(), baseOptions())
	require.NoError(t, err)

	assert.Nil(t, report.SAR)
	assert.Contains(t, report.SARSkipped, "Sentinel-1")
	require.NotNil(t, report.S2)
}

func TestRun_SingleMethodFailsWithoutImagery(t *testing.T) {
	platform := &fakePlatform{sizes: []int{0}}
	svc := newService(t, platform, nil, false)

	opts := baseOptions()
	opts.Method = pipeline.MethodSAR
	_, err := svc.Run(context.Background(), opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, ingest.ErrNoImagery)
}

func TestRun_FailsWhenEveryBranchEmpty(t *testing.T) {
	platform := &fakePlatform{sizes: []int{0, 0}}
	svc := newService(t, platform, nil, false)

	_, err := svc.Run(context.Background(), baseOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, ingest.ErrNoImagery)
}

func TestRun_ExportsRefinedExtent(t *testing.T) {
	platform := &fakePlatform{
		sizes: []int{4, 2, 2},
		sums:  []float64{8.4e6, 6.1e6},
	}
	svc := newService(t, platform, nil, false)

	opts := baseOptions()
	opts.Method = pipeline.MethodSAR
	opts.Export = true
	opts.AssetIDPrefix = "projects/demo/assets/floods"

	report, err := svc.Run(context.Background(), opts)
	require.NoError(t, err)

	require.Len(t, report.Exports, 1)
	job := report.Exports[0]
	assert.Equal(t, "flood_extent_sar", job.Kind)
	assert.Equal(t, "projects/demo/assets/floods/flood_extent_sar_20251014", job.AssetID)
	assert.Equal(t, "job-"+job.AssetID, job.JobID)

	require.Len(t, platform.exports, 1)
	assert.Equal(t, "EPSG:4326", platform.exports[0].CRS)
	assert.Equal(t, 10.0, platform.exports[0].Scale)
}

func TestRun_ExportFailureFailsRun(t *testing.T) {
	platform := &fakePlatform{
		sizes:     []int{4, 2, 2},
		sums:      []float64{8.4e6, 6.1e6},
		exportErr: errors.New("quota exceeded"),
	}
	svc := newService(t, platform, nil, false)

	opts := baseOptions()
	opts.Method = pipeline.MethodSAR
	opts.Export = true
	_, err := svc.Run(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "export flood_extent_sar")
}

func TestRun_PublishesReport(t *testing.T) {
	platform := &fakePlatform{
		sizes: []int{4, 2, 2},
		sums:  []float64{8.4e6, 6.1e6},
	}
	sink := &fakeSink{}
	svc := newService(t, platform, sink, false)

	opts := baseOptions()
	opts.Method = pipeline.MethodSAR
	report, err := svc.Run(context.Background(), opts)
	require.NoError(t, err)

	require.Len(t, sink.reports, 1)
	assert.Equal(t, report.RunID, sink.reports[0].RunID)
}

func TestRun_SinkFailureDoesNotFailRun(t *testing.T) {
	platform := &fakePlatform{
		sizes: []int{4, 2, 2},
		sums:  []float64{8.4e6, 6.1e6},
	}
	svc := newService(t, platform, &fakeSink{err: errors.New("broker down")}, false)

	opts := baseOptions()
	opts.Method = pipeline.MethodSAR
	_, err := svc.Run(context.Background(), opts)
	require.NoError(t, err)
}

func TestRun_IncludesPrecipitationOutlook(t *testing.T) {
	platform := &fakePlatform{
		// SAR total/pre/post, then forecast collection size.
		sizes: []int{4, 2, 2, 3},
		sums:  []float64{8.4e6, 6.1e6},
	}
	svc := newService(t, platform, nil, true)

	opts := baseOptions()
	opts.Method = pipeline.MethodSAR
	report, err := svc.Run(context.Background(), opts)
	require.NoError(t, err)

	require.NotNil(t, report.Precip)
	assert.Equal(t, 12.5, report.Precip.MeanAccumMM)
	assert.Equal(t, opts.EventDate, report.Precip.Start)
	assert.Equal(t, opts.EventDate.AddDate(0, 0, 5), report.Precip.End)
}

func TestRun_MissingOutlookIsNonFatal(t *testing.T) {
	platform := &fakePlatform{
		sizes: []int{4, 2, 2, 0}, // forecast window empty
		sums:  []float64{8.4e6, 6.1e6},
	}
	svc := newService(t, platform, nil, true)

	opts := baseOptions()
	opts.Method = pipeline.MethodSAR
	report, err := svc.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Nil(t, report.Precip)
}

func TestParseMethod(t *testing.T) {
	for _, ok := range []string{"sar", "s2", "both"} {
		m, err := pipeline.ParseMethod(ok)
		require.NoError(t, err)
		assert.Equal(t, pipeline.Method(ok), m)
	}
	_, err := pipeline.ParseMethod("lidar")
	assert.Error(t, err)
}
