package detect

import (
	"github.com/fadodo/flood-mapper/internal/ee/expr"
)

// SARBand is the cross-polarized backscatter band used for water detection.
const SARBand = "VH"

// SARWaterMask marks pixels whose backscatter falls below the threshold.
// Open water scatters SAR energy away from the sensor, so low VH means water.
func SARWaterMask(scene expr.Image, threshold float64) expr.Image {
	return scene.Select(SARBand).Lt(threshold).Rename("water")
}

// NDWI computes the Normalized Difference Water Index from a Sentinel-2
// scene: (green − NIR) / (green + NIR).
func NDWI(scene expr.Image) expr.Image {
	green := scene.Select("B3")
	nir := scene.Select("B8")
	return green.Subtract(nir).Divide(green.Add(nir)).Rename("NDWI")
}

// NDWIWaterMask marks pixels with positive NDWI as water.
func NDWIWaterMask(scene expr.Image) expr.Image {
	return NDWI(scene).Gt(0).Rename("water")
}
