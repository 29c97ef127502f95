package detect

import (
	"context"
	"fmt"

	"github.com/fadodo/flood-mapper/internal/ee/expr"
	"github.com/fadodo/flood-mapper/internal/geometry"
)

// Summer reduces an expression to the sum of its valid pixels over a region.
type Summer interface {
	ReduceSum(ctx context.Context, img expr.Image, region geometry.AOI, scale float64) (float64, error)
}

// Area measures a binary extent in square kilometers: each true pixel
// contributes its ground area, summed over the extent's valid domain only.
func Area(ctx context.Context, s Summer, extent expr.Image, region geometry.AOI, scale float64) (float64, error) {
	weighted := extent.Multiply(expr.PixelArea())
	sumM2, err := s.ReduceSum(ctx, weighted, region, scale)
	if err != nil {
		return 0, fmt.Errorf("reduce area: %w", err)
	}
	return sumM2 / 1e6, nil
}
