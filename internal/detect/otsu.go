package detect

import (
	"context"
	"errors"
	"fmt"

	"github.com/fadodo/flood-mapper/internal/ee"
	"github.com/fadodo/flood-mapper/internal/ee/expr"
	"github.com/fadodo/flood-mapper/internal/geometry"
)

// ErrDegenerateHistogram indicates the calibration region produced a
// histogram with fewer than two occupied buckets, from which no threshold
// can be derived.
var ErrDegenerateHistogram = errors.New("degenerate histogram: cannot compute threshold")

// Histogrammer fetches a value histogram for an expression over a region.
type Histogrammer interface {
	ReduceHistogram(ctx context.Context, img expr.Image, region geometry.AOI, scale float64, maxBuckets int) (ee.Histogram, error)
}

// OtsuThreshold picks the threshold maximizing between-class variance over
// the histogram. Thresholds are recomputed from a fresh histogram on every
// run; callers must not reuse them across runs.
func OtsuThreshold(h ee.Histogram) (float64, error) {
	if len(h.Counts) != len(h.BucketMeans) {
		return 0, fmt.Errorf("histogram has %d counts but %d bucket means", len(h.Counts), len(h.BucketMeans))
	}

	var total float64
	occupied := 0
	for _, c := range h.Counts {
		total += c
		if c > 0 {
			occupied++
		}
	}
	if occupied < 2 {
		return 0, ErrDegenerateHistogram
	}

	// omega: cumulative class probability; mu: cumulative class mean mass.
	var omega, mu float64
	muT := 0.0
	for i, c := range h.Counts {
		muT += c / total * h.BucketMeans[i]
	}

	best := -1.0
	threshold := h.BucketMeans[0]
	for i, c := range h.Counts {
		p := c / total
		omega += p
		mu += p * h.BucketMeans[i]

		denom := omega * (1 - omega)
		if denom <= 0 {
			continue
		}
		d := muT*omega - mu
		sigma := d * d / denom
		if sigma > best {
			best = sigma
			threshold = h.BucketMeans[i]
		}
	}
	if best <= 0 {
		return 0, ErrDegenerateHistogram
	}
	return threshold, nil
}

// ComputeThreshold fetches the band's histogram over the calibration region
// and runs Otsu's method on it.
func ComputeThreshold(ctx context.Context, h Histogrammer, img expr.Image, band string, calibration geometry.AOI, scale float64, buckets int) (float64, error) {
	hist, err := h.ReduceHistogram(ctx, img.Select(band), calibration, scale, buckets)
	if err != nil {
		return 0, fmt.Errorf("fetch %s histogram: %w", band, err)
	}
	t, err := OtsuThreshold(hist)
	if err != nil {
		return 0, fmt.Errorf("threshold over calibration region: %w", err)
	}
	return t, nil
}
