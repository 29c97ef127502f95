package geometry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

// earthRadiusM is the mean Earth radius used for approximate area calculations.
const earthRadiusM = 6371008.8

var (
	// ErrEmptyGeometry indicates a geometry with no usable rings.
	ErrEmptyGeometry = errors.New("geometry has no coordinates")

	// ErrUnsupportedType indicates a GeoJSON type other than Polygon,
	// MultiPolygon, Feature, or FeatureCollection.
	ErrUnsupportedType = errors.New("unsupported GeoJSON type")
)

// AOI is an immutable polygonal area of interest in WGS-84 lon/lat order.
// MultiPolygon inputs are carried as multiple polygons.
type AOI struct {
	polygons [][][][2]float64 // polygon -> ring -> vertex -> (lon, lat)
}

// geoJSON mirrors the subset of the GeoJSON structure we accept.
type geoJSON struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
	Geometry    *geoJSON        `json:"geometry"`
	Features    []geoJSON       `json:"features"`
}

// Load reads an AOI from a GeoJSON file. FeatureCollections contribute only
// their first feature, matching the platform's single-region analysis model.
func Load(path string) (AOI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AOI{}, fmt.Errorf("read AOI file: %w", err)
	}
	aoi, err := Parse(data)
	if err != nil {
		return AOI{}, fmt.Errorf("parse AOI %s: %w", path, err)
	}
	return aoi, nil
}

// Parse decodes a GeoJSON document into an AOI.
func Parse(data []byte) (AOI, error) {
	var doc geoJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return AOI{}, fmt.Errorf("invalid GeoJSON: %w", err)
	}
	return fromGeoJSON(doc)
}

func fromGeoJSON(doc geoJSON) (AOI, error) {
	switch doc.Type {
	case "FeatureCollection":
		if len(doc.Features) == 0 {
			return AOI{}, ErrEmptyGeometry
		}
		return fromGeoJSON(doc.Features[0])
	case "Feature":
		if doc.Geometry == nil {
			return AOI{}, ErrEmptyGeometry
		}
		return fromGeoJSON(*doc.Geometry)
	case "Polygon":
		var rings [][][2]float64
		if err := json.Unmarshal(doc.Coordinates, &rings); err != nil {
			return AOI{}, fmt.Errorf("invalid Polygon coordinates: %w", err)
		}
		return newAOI([][][][2]float64{rings})
	case "MultiPolygon":
		var polys [][][][2]float64
		if err := json.Unmarshal(doc.Coordinates, &polys); err != nil {
			return AOI{}, fmt.Errorf("invalid MultiPolygon coordinates: %w", err)
		}
		return newAOI(polys)
	default:
		return AOI{}, fmt.Errorf("%w: %q", ErrUnsupportedType, doc.Type)
	}
}

// Rect builds a rectangular AOI from west/south/east/north bounds.
func Rect(west, south, east, north float64) AOI {
	aoi, _ := newAOI([][][][2]float64{{{
		{west, south}, {east, south}, {east, north}, {west, north}, {west, south},
	}}})
	return aoi
}

func newAOI(polys [][][][2]float64) (AOI, error) {
	if len(polys) == 0 {
		return AOI{}, ErrEmptyGeometry
	}
	for _, rings := range polys {
		if len(rings) == 0 {
			return AOI{}, ErrEmptyGeometry
		}
		for _, ring := range rings {
			if len(ring) < 4 {
				return AOI{}, fmt.Errorf("ring has %d vertices, need at least 4", len(ring))
			}
			for _, v := range ring {
				if v[0] < -180 || v[0] > 180 || v[1] < -90 || v[1] > 90 {
					return AOI{}, fmt.Errorf("vertex (%g, %g) outside lon/lat range", v[0], v[1])
				}
			}
			first, last := ring[0], ring[len(ring)-1]
			if first != last {
				return AOI{}, errors.New("ring is not closed")
			}
		}
	}
	return AOI{polygons: polys}, nil
}

// IsZero reports whether the AOI holds no geometry.
func (a AOI) IsZero() bool { return len(a.polygons) == 0 }

// Polygons returns a deep copy of the polygon coordinates, preserving
// immutability of the AOI itself.
func (a AOI) Polygons() [][][][2]float64 {
	out := make([][][][2]float64, len(a.polygons))
	for i, rings := range a.polygons {
		out[i] = make([][][2]float64, len(rings))
		for j, ring := range rings {
			out[i][j] = append([][2]float64(nil), ring...)
		}
	}
	return out
}

// Bounds returns the west, south, east, north extent of the AOI.
func (a AOI) Bounds() (west, south, east, north float64) {
	west, south = math.Inf(1), math.Inf(1)
	east, north = math.Inf(-1), math.Inf(-1)
	for _, rings := range a.polygons {
		for _, v := range rings[0] {
			west = math.Min(west, v[0])
			east = math.Max(east, v[0])
			south = math.Min(south, v[1])
			north = math.Max(north, v[1])
		}
	}
	return west, south, east, north
}

// Centroid returns the centroid of the AOI's bounding box as (lon, lat).
func (a AOI) Centroid() (lon, lat float64) {
	w, s, e, n := a.Bounds()
	return (w + e) / 2, (s + n) / 2
}

// ApproxAreaKm2 estimates the AOI area in square kilometers using the
// shoelace formula on an equirectangular projection of each outer ring.
// Accurate enough for sanity reporting; analysis-grade areas come from the
// platform's pixelArea reducer.
func (a AOI) ApproxAreaKm2() float64 {
	var total float64
	for _, rings := range a.polygons {
		total += ringAreaM2(rings[0])
		for _, hole := range rings[1:] {
			total -= ringAreaM2(hole)
		}
	}
	return total / 1e6
}

func ringAreaM2(ring [][2]float64) float64 {
	if len(ring) < 4 {
		return 0
	}
	var latSum float64
	for _, v := range ring {
		latSum += v[1]
	}
	midLat := latSum / float64(len(ring)) * math.Pi / 180
	mPerDegLat := earthRadiusM * math.Pi / 180
	mPerDegLon := mPerDegLat * math.Cos(midLat)

	var area float64
	for i := 0; i < len(ring)-1; i++ {
		x1, y1 := ring[i][0]*mPerDegLon, ring[i][1]*mPerDegLat
		x2, y2 := ring[i+1][0]*mPerDegLon, ring[i+1][1]*mPerDegLat
		area += x1*y2 - x2*y1
	}
	return math.Abs(area) / 2
}

// MarshalJSON encodes the AOI as a GeoJSON Polygon or MultiPolygon geometry,
// the form the platform API accepts for region arguments.
func (a AOI) MarshalJSON() ([]byte, error) {
	if a.IsZero() {
		return nil, ErrEmptyGeometry
	}
	if len(a.polygons) == 1 {
		return json.Marshal(struct {
			Type        string          `json:"type"`
			Coordinates [][][2]float64  `json:"coordinates"`
		}{Type: "Polygon", Coordinates: a.polygons[0]})
	}
	return json.Marshal(struct {
		Type        string           `json:"type"`
		Coordinates [][][][2]float64 `json:"coordinates"`
	}{Type: "MultiPolygon", Coordinates: a.polygons})
}
