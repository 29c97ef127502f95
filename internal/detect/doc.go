// Package detect implements the flood detection heuristics.
//
// # Method
//
// Water absorbs SAR energy, so flooded pixels show low VH backscatter. A
// per-epoch threshold separating the water and land modes of the backscatter
// histogram is chosen with Otsu's method, computed over a small calibration
// region that is known to contain both open water and land. Pixels below the
// threshold are water. The optical branch instead uses NDWI, the normalized
// difference of the green (B3) and near-infrared (B8) bands; values above
// zero indicate surface water.
//
// # Mask reconciliation
//
// Pre- and post-event scenes rarely share a validity footprint: orbits
// differ, clouds mask optical pixels, and scene edges shift. Differencing
// masks with mismatched footprints manufactures phantom floods wherever one
// epoch has data and the other does not. Flood extent is therefore defined
// as
//
//	post-water AND NOT pre-water, restricted to Va ∩ Vb
//
// where Va and Vb are the valid-pixel sets of the two epochs. Every area
// statistic downstream inherits that common domain.
//
// # Refinement
//
// Raw SAR extents are salted with single-pixel false positives. Two
// topological filters clean them up: connected components smaller than a
// minimum pixel count are dropped, and pixels on terrain steeper than a
// slope cutoff are dropped, since standing water does not persist on
// hillsides.
//
// All functions here compose remote expressions; the only local arithmetic
// is Otsu's threshold selection over a fetched histogram.
package detect
