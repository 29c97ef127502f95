package detect

import (
	"github.com/fadodo/flood-mapper/internal/ee/expr"
)

// CommonMask returns the binary intersection of two images' validity masks:
// 1 where both epochs have data, 0 elsewhere. The result itself is valid
// everywhere, making it usable as an updateMask argument.
func CommonMask(pre, post expr.Image) expr.Image {
	return pre.Mask().And(post.Mask())
}

// FloodExtent computes new water between two epochs: pixels that are water
// post-event and were not water pre-event. The result is masked to the
// common validity domain of both inputs, so pixels observed in only one
// epoch can never register as flood. Its valid domain is exactly Va ∩ Vb.
func FloodExtent(preWater, postWater expr.Image) expr.Image {
	return postWater.
		And(preWater.Not()).
		UpdateMask(CommonMask(preWater, postWater)).
		Rename("flood_extent")
}

// Duration accumulates a collection of binary flood extents into a per-pixel
// count of flooded observations, clipped to the extent collection's region
// by the caller. With daily extents the value reads as days underwater.
func Duration(extents expr.Collection) expr.Image {
	return extents.Sum().Rename("flood_duration")
}
