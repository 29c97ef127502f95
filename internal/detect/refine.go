package detect

import (
	"github.com/fadodo/flood-mapper/internal/ee/expr"
)

// RefineParams controls topological cleanup of a raw flood extent.
type RefineParams struct {
	MinConnectedPixels int
	MaxSlopeDegrees    float64
}

// Refine drops flood patches smaller than MinConnectedPixels and pixels on
// terrain steeper than MaxSlopeDegrees. dem is the elevation image supplying
// slope, already clipped to the analysis region.
func Refine(extent, dem expr.Image, p RefineParams) expr.Image {
	connections := extent.ConnectedPixelCount()
	refined := extent.UpdateMask(connections.Gte(float64(p.MinConnectedPixels)))

	slope := dem.Slope()
	refined = refined.UpdateMask(slope.Lt(p.MaxSlopeDegrees))

	return refined.Rename("effective_flood_extent")
}
