// Package forecast estimates near-term precipitation over an area of
// interest from the NOAA CPC gauge-based daily analysis, giving a flood
// assessment some forward-looking context.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fadodo/flood-mapper/internal/ee/expr"
	"github.com/fadodo/flood-mapper/internal/geometry"
)

// CatalogID is the NOAA CPC daily precipitation collection.
const CatalogID = "NOAA/CPC/GHCN_D"

// precipBand is the daily precipitation band, in tenths of a millimetre.
const precipBand = "prcp"

// precipScaleM is the reduction scale matching the dataset's native
// resolution, far coarser than the imagery scale.
const precipScaleM = 1000

// ErrNoForecast indicates the CPC archive has no analysis covering the
// requested window yet. Callers treat this as missing context, not failure.
var ErrNoForecast = errors.New("no precipitation analysis for window")

// Catalog answers collection membership queries against the platform.
type Catalog interface {
	CollectionSize(ctx context.Context, coll expr.Collection) (int, error)
}

// Meaner reduces an image to its mean over a region.
type Meaner interface {
	ReduceMean(ctx context.Context, img expr.Image, region geometry.AOI, scale float64) (float64, error)
}

// Outlook summarises precipitation over the AOI for a window after the event.
type Outlook struct {
	Start time.Time
	End   time.Time
	// MeanAccumMM is the accumulated precipitation over the window,
	// averaged across the AOI, in millimetres.
	MeanAccumMM float64
}

// Service builds and evaluates precipitation queries.
type Service struct {
	catalog Catalog
	meaner  Meaner
	logger  *slog.Logger
}

// NewService creates a forecast service.
func NewService(catalog Catalog, meaner Meaner, logger *slog.Logger) *Service {
	return &Service{catalog: catalog, meaner: meaner, logger: logger}
}

// Collection builds the CPC precipitation collection for the window.
func (s *Service) Collection(aoi geometry.AOI, start, end time.Time) expr.Collection {
	return expr.Catalog(CatalogID).
		FilterBounds(aoi).
		FilterDate(start.Format("2006-01-02"), end.Format("2006-01-02"))
}

// Accumulated sums the daily analyses in the window into one accumulation
// image, clipped to the AOI. The prcp band is stored in tenths of a
// millimetre, so the sum is rescaled to millimetres.
func (s *Service) Accumulated(aoi geometry.AOI, start, end time.Time) expr.Image {
	return s.Collection(aoi, start, end).
		Sum().
		Select(precipBand).
		Multiply(expr.Constant(0.1)).
		Clip(aoi).
		Rename("precip_accum_mm")
}

// Outlook evaluates accumulated precipitation over the AOI for days days
// after the event date. Returns ErrNoForecast when the archive holds no
// analysis for the window.
func (s *Service) Outlook(ctx context.Context, aoi geometry.AOI, event time.Time, days int) (Outlook, error) {
	start := event
	end := event.AddDate(0, 0, days)

	n, err := s.catalog.CollectionSize(ctx, s.Collection(aoi, start, end))
	if err != nil {
		return Outlook{}, fmt.Errorf("query precipitation collection: %w", err)
	}
	if n == 0 {
		return Outlook{}, fmt.Errorf("%w: %s to %s",
			ErrNoForecast, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	s.logger.Debug("precipitation analyses found", "count", n)

	mm, err := s.meaner.ReduceMean(ctx, s.Accumulated(aoi, start, end), aoi, precipScaleM)
	if err != nil {
		return Outlook{}, fmt.Errorf("reduce precipitation over region: %w", err)
	}
	return Outlook{Start: start, End: end, MeanAccumMM: mm}, nil
}
