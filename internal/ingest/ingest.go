// Package ingest builds the satellite imagery queries for a flood event:
// Sentinel-1 SAR and Sentinel-2 optical collections filtered to the area of
// interest and the event's search window, and the pre/post-event scene pair
// each detection branch works on.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fadodo/flood-mapper/internal/config"
	"github.com/fadodo/flood-mapper/internal/ee/expr"
	"github.com/fadodo/flood-mapper/internal/geometry"
	"github.com/fadodo/flood-mapper/internal/observability"
)

// Platform catalog identifiers.
const (
	S1CatalogID  = "COPERNICUS/S1_GRD"
	S2CatalogID  = "COPERNICUS/S2_SR_HARMONIZED"
	DEMCatalogID = "WWF/HydroSHEDS/03VFDEM"
)

// timeStartProperty orders scenes by acquisition time.
const timeStartProperty = "system:time_start"

// ErrNoImagery indicates a search window matched too few scenes to form a
// pre/post pair.
var ErrNoImagery = errors.New("no imagery found in search window")

// Catalog answers collection membership queries against the platform.
type Catalog interface {
	CollectionSize(ctx context.Context, coll expr.Collection) (int, error)
}

// ScenePair holds the pre- and post-event image expressions for one sensor.
type ScenePair struct {
	Pre  expr.Image
	Post expr.Image
}

// Service constructs imagery queries using configured filter parameters.
type Service struct {
	catalog Catalog
	metrics *observability.Metrics
	logger  *slog.Logger

	cloudPixelPercent float64
	speckleRadiusM    float64
}

// NewService creates an ingest service.
func NewService(catalog Catalog, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{
		catalog:           catalog,
		metrics:           metrics,
		logger:            logger,
		cloudPixelPercent: cfg.CloudPixelPercent,
		speckleRadiusM:    cfg.SpeckleRadiusM,
	}
}

// SARCollection builds the Sentinel-1 collection for the event window:
// IW mode, ascending pass, 10 m resolution, intersecting the AOI.
func (s *Service) SARCollection(aoi geometry.AOI, event time.Time, windowDays int) expr.Collection {
	start := event.AddDate(0, 0, -windowDays)
	end := event.AddDate(0, 0, windowDays)
	return expr.Catalog(S1CatalogID).
		FilterEq("instrumentMode", "IW").
		FilterEq("orbitProperties_pass", "ASCENDING").
		FilterEq("resolution_meters", 10).
		FilterBounds(aoi).
		FilterDate(dateStr(start), dateStr(end))
}

// S2Collection builds the Sentinel-2 surface reflectance collection for the
// event window, discarding scenes above the cloudy-pixel threshold.
func (s *Service) S2Collection(aoi geometry.AOI, event time.Time, windowDays int) expr.Collection {
	start := event.AddDate(0, 0, -windowDays)
	end := event.AddDate(0, 0, windowDays)
	return expr.Catalog(S2CatalogID).
		FilterLt("CLOUDY_PIXEL_PERCENTAGE", s.cloudPixelPercent).
		FilterBounds(aoi).
		FilterDate(dateStr(start), dateStr(end))
}

// SARPair selects and preprocesses the pre/post-event SAR scene pair:
// the latest scene before the event and the first one after, each speckle
// filtered and clipped to the AOI. Fails with ErrNoImagery when either half
// of the window is empty.
func (s *Service) SARPair(ctx context.Context, aoi geometry.AOI, event time.Time, windowDays int) (ScenePair, error) {
	coll := s.SARCollection(aoi, event, windowDays)

	total, err := s.catalog.CollectionSize(ctx, coll)
	if err != nil {
		return ScenePair{}, fmt.Errorf("query Sentinel-1 collection: %w", err)
	}
	if total < 2 {
		return ScenePair{}, fmt.Errorf("%w: %d Sentinel-1 scenes within %d days of %s",
			ErrNoImagery, total, windowDays, dateStr(event))
	}
	s.countScenes("sentinel-1", total)

	preColl := coll.FilterDate(dateStr(event.AddDate(0, 0, -windowDays)), dateStr(event))
	postColl := coll.FilterDate(dateStr(event), dateStr(event.AddDate(0, 0, windowDays)))

	if err := s.requireScenes(ctx, preColl, "pre-event Sentinel-1", event, windowDays); err != nil {
		return ScenePair{}, err
	}
	if err := s.requireScenes(ctx, postColl, "post-event Sentinel-1", event, windowDays); err != nil {
		return ScenePair{}, err
	}

	pre := preColl.Sort(timeStartProperty, false).First()
	post := postColl.Sort(timeStartProperty, true).First()

	return ScenePair{
		Pre:  pre.FocalMean(s.speckleRadiusM, 1).Clip(aoi),
		Post: post.FocalMean(s.speckleRadiusM, 1).Clip(aoi),
	}, nil
}

// S2Pair selects the pre/post-event Sentinel-2 composites: the per-pixel
// median of each half of the search window, clipped to the AOI.
func (s *Service) S2Pair(ctx context.Context, aoi geometry.AOI, event time.Time, windowDays int) (ScenePair, error) {
	coll := s.S2Collection(aoi, event, windowDays)

	total, err := s.catalog.CollectionSize(ctx, coll)
	if err != nil {
		return ScenePair{}, fmt.Errorf("query Sentinel-2 collection: %w", err)
	}
	if total < 2 {
		return ScenePair{}, fmt.Errorf("%w: %d Sentinel-2 scenes within %d days of %s",
			ErrNoImagery, total, windowDays, dateStr(event))
	}
	s.countScenes("sentinel-2", total)

	preColl := coll.FilterDate(dateStr(event.AddDate(0, 0, -windowDays)), dateStr(event))
	postColl := coll.FilterDate(dateStr(event), dateStr(event.AddDate(0, 0, windowDays)))

	if err := s.requireScenes(ctx, preColl, "pre-event Sentinel-2", event, windowDays); err != nil {
		return ScenePair{}, err
	}
	if err := s.requireScenes(ctx, postColl, "post-event Sentinel-2", event, windowDays); err != nil {
		return ScenePair{}, err
	}

	return ScenePair{
		Pre:  preColl.Median().Clip(aoi),
		Post: postColl.Median().Clip(aoi),
	}, nil
}

// DEM returns the HydroSHEDS elevation model clipped to the AOI, the terrain
// source for topological refinement.
func (s *Service) DEM(aoi geometry.AOI) expr.Image {
	return expr.CatalogImage(DEMCatalogID).Clip(aoi)
}

func (s *Service) requireScenes(ctx context.Context, coll expr.Collection, what string, event time.Time, windowDays int) error {
	n, err := s.catalog.CollectionSize(ctx, coll)
	if err != nil {
		return fmt.Errorf("query %s scenes: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: no %s scene within %d days of %s",
			ErrNoImagery, what, windowDays, dateStr(event))
	}
	s.logger.Debug("scenes selected", "kind", what, "count", n)
	return nil
}

func (s *Service) countScenes(sensor string, n int) {
	if s.metrics != nil {
		s.metrics.ScenesSelected.WithLabelValues(sensor).Add(float64(n))
	}
}

func dateStr(t time.Time) string {
	return t.Format("2006-01-02")
}
