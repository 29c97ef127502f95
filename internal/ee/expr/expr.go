// Package expr builds client-side computation graphs over remote imagery.
//
// Nothing here touches pixels. An Image or Collection is an immutable
// description of work — filters, band math, masking — that the remote
// platform evaluates when a reduction, export, or thumbnail is requested
// through the ee client. Composing expressions is free; only evaluation
// costs a round trip.
package expr

import (
	"encoding/json"

	"github.com/fadodo/flood-mapper/internal/geometry"
)

// Operation names understood by the platform's expression evaluator.
const (
	OpCatalog        = "catalog"
	OpFilterDate     = "filterDate"
	OpFilterBounds   = "filterBounds"
	OpFilterEq       = "filterEq"
	OpFilterLt       = "filterLt"
	OpSort           = "sort"
	OpFirst          = "first"
	OpMedian         = "median"
	OpMosaicSum      = "mosaicSum"
	OpConstant       = "constant"
	OpSelect         = "select"
	OpAdd            = "add"
	OpSubtract       = "subtract"
	OpMultiply       = "multiply"
	OpDivide         = "divide"
	OpLtConst        = "ltConst"
	OpGtConst        = "gtConst"
	OpGteConst       = "gteConst"
	OpAnd            = "and"
	OpOr             = "or"
	OpNot            = "not"
	OpFocalMean      = "focalMean"
	OpUpdateMask     = "updateMask"
	OpMask           = "mask"
	OpConnectedCount = "connectedPixelCount"
	OpSlope          = "slope"
	OpPixelArea      = "pixelArea"
	OpRename         = "rename"
	OpClip           = "clip"
)

// Node is one vertex of the computation graph. Nodes are write-once: builder
// methods allocate new nodes and never mutate existing ones, so subtrees may
// be shared freely.
type Node struct {
	Op     string         `json:"op"`
	Inputs []*Node        `json:"inputs,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
}

// Image is an expression evaluating to a single remote raster.
type Image struct {
	node *Node
}

// Collection is an expression evaluating to a filtered set of remote rasters.
type Collection struct {
	node *Node
}

// Catalog references a named image collection on the platform,
// e.g. "COPERNICUS/S1_GRD".
func Catalog(id string) Collection {
	return Collection{node: &Node{Op: OpCatalog, Args: map[string]any{"id": id}}}
}

// CatalogImage references a single named image asset, e.g. a global DEM.
func CatalogImage(id string) Image {
	return Image{node: &Node{Op: OpCatalog, Args: map[string]any{"id": id}}}
}

// Constant is an image where every pixel holds the given value.
func Constant(v float64) Image {
	return Image{node: &Node{Op: OpConstant, Args: map[string]any{"value": v}}}
}

// PixelArea is an image whose pixel values are the area of that pixel in
// square meters.
func PixelArea() Image {
	return Image{node: &Node{Op: OpPixelArea}}
}

// Node exposes the underlying graph vertex for serialization and evaluation.
func (img Image) Node() *Node { return img.node }

// Node exposes the underlying graph vertex for serialization and evaluation.
func (c Collection) Node() *Node { return c.node }

// IsZero reports whether the image expression is empty.
func (img Image) IsZero() bool { return img.node == nil }

// IsZero reports whether the collection expression is empty.
func (c Collection) IsZero() bool { return c.node == nil }

// MarshalJSON serializes the expression graph for the platform API.
func (img Image) MarshalJSON() ([]byte, error) { return json.Marshal(img.node) }

// MarshalJSON serializes the expression graph for the platform API.
func (c Collection) MarshalJSON() ([]byte, error) { return json.Marshal(c.node) }

// --- collection builders ---

// FilterDate keeps images acquired in [start, end). Dates are "YYYY-MM-DD".
func (c Collection) FilterDate(start, end string) Collection {
	return c.derive(OpFilterDate, map[string]any{"start": start, "end": end})
}

// FilterBounds keeps images intersecting the region.
func (c Collection) FilterBounds(region geometry.AOI) Collection {
	return c.derive(OpFilterBounds, map[string]any{"region": region})
}

// FilterEq keeps images whose metadata property equals value.
func (c Collection) FilterEq(property string, value any) Collection {
	return c.derive(OpFilterEq, map[string]any{"property": property, "value": value})
}

// FilterLt keeps images whose metadata property is below value.
func (c Collection) FilterLt(property string, value float64) Collection {
	return c.derive(OpFilterLt, map[string]any{"property": property, "value": value})
}

// Sort orders the collection by a metadata property.
func (c Collection) Sort(property string, ascending bool) Collection {
	return c.derive(OpSort, map[string]any{"property": property, "ascending": ascending})
}

// First reduces the collection to its first image.
func (c Collection) First() Image {
	return Image{node: &Node{Op: OpFirst, Inputs: []*Node{c.node}}}
}

// Median composites the collection into a per-pixel median image.
func (c Collection) Median() Image {
	return Image{node: &Node{Op: OpMedian, Inputs: []*Node{c.node}}}
}

// Sum composites the collection into a per-pixel sum. Used to accumulate
// binary flood extents into a duration count.
func (c Collection) Sum() Image {
	return Image{node: &Node{Op: OpMosaicSum, Inputs: []*Node{c.node}}}
}

func (c Collection) derive(op string, args map[string]any) Collection {
	return Collection{node: &Node{Op: op, Inputs: []*Node{c.node}, Args: args}}
}

// --- image builders ---

// Select narrows the image to a single band.
func (img Image) Select(band string) Image {
	return img.derive(OpSelect, map[string]any{"band": band})
}

// Add computes img + other per pixel.
func (img Image) Add(other Image) Image { return img.binary(OpAdd, other) }

// Subtract computes img - other per pixel.
func (img Image) Subtract(other Image) Image { return img.binary(OpSubtract, other) }

// Multiply computes img * other per pixel.
func (img Image) Multiply(other Image) Image { return img.binary(OpMultiply, other) }

// Divide computes img / other per pixel.
func (img Image) Divide(other Image) Image { return img.binary(OpDivide, other) }

// Lt produces a binary image: 1 where img < v, else 0.
func (img Image) Lt(v float64) Image {
	return img.derive(OpLtConst, map[string]any{"value": v})
}

// Gt produces a binary image: 1 where img > v, else 0.
func (img Image) Gt(v float64) Image {
	return img.derive(OpGtConst, map[string]any{"value": v})
}

// Gte produces a binary image: 1 where img >= v, else 0.
func (img Image) Gte(v float64) Image {
	return img.derive(OpGteConst, map[string]any{"value": v})
}

// And computes the pixelwise logical AND of two binary images.
func (img Image) And(other Image) Image { return img.binary(OpAnd, other) }

// Or computes the pixelwise logical OR of two binary images.
func (img Image) Or(other Image) Image { return img.binary(OpOr, other) }

// Not inverts a binary image.
func (img Image) Not() Image {
	return Image{node: &Node{Op: OpNot, Inputs: []*Node{img.node}}}
}

// FocalMean applies a square focal mean kernel of the given radius in meters.
// This is the speckle filter used on SAR backscatter.
func (img Image) FocalMean(radiusMeters float64, iterations int) Image {
	return img.derive(OpFocalMean, map[string]any{
		"radius":     radiusMeters,
		"units":      "meters",
		"iterations": iterations,
	})
}

// UpdateMask marks pixels invalid wherever mask is 0 or itself invalid.
func (img Image) UpdateMask(mask Image) Image { return img.binary(OpUpdateMask, mask) }

// Mask returns the validity of img as a binary image: 1 for valid pixels,
// 0 for masked ones. The result itself has no masked pixels.
func (img Image) Mask() Image {
	return Image{node: &Node{Op: OpMask, Inputs: []*Node{img.node}}}
}

// ConnectedPixelCount labels each valid pixel with the size of its
// 8-connected component of identically-valued neighbors.
func (img Image) ConnectedPixelCount() Image {
	return Image{node: &Node{Op: OpConnectedCount, Inputs: []*Node{img.node}}}
}

// Slope derives terrain slope in degrees from an elevation image.
func (img Image) Slope() Image {
	return Image{node: &Node{Op: OpSlope, Inputs: []*Node{img.node}}}
}

// Rename sets the band name of the result.
func (img Image) Rename(name string) Image {
	return img.derive(OpRename, map[string]any{"name": name})
}

// Clip restricts the image to the region; pixels outside become invalid.
func (img Image) Clip(region geometry.AOI) Image {
	return img.derive(OpClip, map[string]any{"region": region})
}

func (img Image) derive(op string, args map[string]any) Image {
	return Image{node: &Node{Op: op, Inputs: []*Node{img.node}, Args: args}}
}

func (img Image) binary(op string, other Image) Image {
	return Image{node: &Node{Op: op, Inputs: []*Node{img.node, other.node}}}
}
