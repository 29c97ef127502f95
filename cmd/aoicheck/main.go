// Command aoicheck validates AOI GeoJSON files before they are fed to
// floodmap. For each file it reports the geometry shape, bounding box,
// centroid, and approximate area, and flags anything floodmap would reject.
//
// Usage:
//
//	aoicheck aoi.geojson calibration.geojson
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fadodo/flood-mapper/internal/geometry"
)

// result tracks the validation outcome for one input file.
type result struct {
	path   string
	errors []string
	aoi    geometry.AOI
}

func (r *result) errorf(format string, args ...any) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func (r *result) passed() bool { return len(r.errors) == 0 }

func main() {
	maxAreaKm2 := flag.Float64("max-area-km2", 0, "flag AOIs larger than this many km² (0 disables)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <file.geojson> [...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	results := make([]*result, 0, flag.NArg())
	for _, path := range flag.Args() {
		results = append(results, check(path, *maxAreaKm2))
	}

	allPassed := true
	for _, r := range results {
		status := "\033[32mOK\033[0m"
		if !r.passed() {
			status = fmt.Sprintf("\033[31mINVALID (%d errors)\033[0m", len(r.errors))
			allPassed = false
		}
		fmt.Printf("  %-40s %s\n", r.path, status)
		if r.passed() {
			describe(r.aoi)
		}
	}

	for _, r := range results {
		if r.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", r.path)
		for i, e := range r.errors {
			fmt.Printf("  %d. %s\n", i+1, e)
		}
	}

	if !allPassed {
		os.Exit(1)
	}
}

func check(path string, maxAreaKm2 float64) *result {
	r := &result{path: path}

	aoi, err := geometry.Load(path)
	if err != nil {
		r.errorf("%v", err)
		return r
	}
	r.aoi = aoi

	if maxAreaKm2 > 0 {
		if area := aoi.ApproxAreaKm2(); area > maxAreaKm2 {
			r.errorf("area %.1f km² exceeds limit %.1f km²", area, maxAreaKm2)
		}
	}
	return r
}

func describe(aoi geometry.AOI) {
	polys := aoi.Polygons()
	rings, vertices := 0, 0
	for _, poly := range polys {
		rings += len(poly)
		for _, ring := range poly {
			vertices += len(ring)
		}
	}

	west, south, east, north := aoi.Bounds()
	lon, lat := aoi.Centroid()

	fmt.Printf("      polygons: %d, rings: %d, vertices: %d\n", len(polys), rings, vertices)
	fmt.Printf("      bounds:   [%.6f, %.6f] to [%.6f, %.6f]\n", west, south, east, north)
	fmt.Printf("      centroid: %.6f, %.6f\n", lon, lat)
	fmt.Printf("      area:     %.2f km²\n", aoi.ApproxAreaKm2())
}
