package detect

import (
	"context"
	"testing"

	"github.com/fadodo/flood-mapper/internal/ee/expr"
	"github.com/fadodo/flood-mapper/internal/ee/exprtest"
	"github.com/fadodo/flood-mapper/internal/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func preImg() expr.Image  { return expr.CatalogImage("pre") }
func postImg() expr.Image { return expr.CatalogImage("post") }

func env(pre, post *exprtest.Grid) *exprtest.Env {
	return &exprtest.Env{
		Grids:       map[string]*exprtest.Grid{"pre": pre, "post": post},
		PixelAreaM2: 100, // 10 m pixels
	}
}

type gridSummer struct {
	env *exprtest.Env
}

func (g gridSummer) ReduceSum(_ context.Context, img expr.Image, _ geometry.AOI, _ float64) (float64, error) {
	grid, err := exprtest.Eval(img, g.env)
	if err != nil {
		return 0, err
	}
	return exprtest.ReduceSum(grid), nil
}

func TestFloodExtent_ValidDomainIsIntersection(t *testing.T) {
	// pre is missing the left column, post the bottom row. The extent may
	// only exist where BOTH epochs were observed.
	pre := exprtest.NewGrid(4, 4)
	post := exprtest.NewGrid(4, 4)
	for y := 0; y < 4; y++ {
		pre.Invalidate(0, y)
	}
	for x := 0; x < 4; x++ {
		post.Invalidate(x, 3)
	}
	// Water everywhere post-event, nowhere pre-event.
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			post.Vals[y*4+x] = 1
		}
	}

	out, err := exprtest.Eval(FloodExtent(preImg(), postImg()), env(pre, post))
	require.NoError(t, err)

	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			_, preOK := pre.At(x, y)
			_, postOK := post.At(x, y)
			_, outOK := out.At(x, y)
			assert.Equal(t, preOK && postOK, outOK, "pixel (%d,%d)", x, y)
		}
	}
}

func TestFloodExtent_OnlyNewWater(t *testing.T) {
	pre := exprtest.FromRows([][]float64{
		{1, 1, 0, 0},
		{0, 0, 0, 0},
	})
	post := exprtest.FromRows([][]float64{
		{1, 0, 1, 0},
		{1, 1, 0, 0},
	})

	out, err := exprtest.Eval(FloodExtent(preImg(), postImg()), env(pre, post))
	require.NoError(t, err)

	want := [][]float64{
		{0, 0, 1, 0}, // persistent water and receded water are not flood
		{1, 1, 0, 0},
	}
	for y, row := range want {
		for x, v := range row {
			got, ok := out.At(x, y)
			require.True(t, ok)
			assert.Equal(t, v, got, "pixel (%d,%d)", x, y)
		}
	}
}

func TestFloodExtent_IdenticalMasksYieldNothing(t *testing.T) {
	g := exprtest.FromRows([][]float64{
		{1, 0, 1},
		{0, 1, 0},
	})
	e := env(g, g)

	out, err := exprtest.Eval(FloodExtent(preImg(), postImg()), e)
	require.NoError(t, err)
	assert.Zero(t, exprtest.ReduceSum(out))

	area, err := Area(context.Background(), gridSummer{e}, FloodExtent(preImg(), postImg()), geometry.Rect(0, 0, 1, 1), 10)
	require.NoError(t, err)
	assert.Zero(t, area)
}

func TestFloodExtent_AreaMonotonicInFloodedPixels(t *testing.T) {
	pre := exprtest.NewGrid(5, 5)
	post := exprtest.NewGrid(5, 5)
	region := geometry.Rect(0, 0, 1, 1)

	var last float64
	// Flip post-event pixels to water one at a time within a fixed domain;
	// the measured area must never decrease.
	for i := 0; i < 25; i++ {
		post.Vals[i] = 1
		e := env(pre, post)
		area, err := Area(context.Background(), gridSummer{e}, FloodExtent(preImg(), postImg()), region, 10)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, area, last, "area shrank after flooding pixel %d", i)
		last = area
	}

	// 25 pixels of 100 m² each.
	assert.InDelta(t, 25*100.0/1e6, last, 1e-12)
}

func TestCommonMask_AllValidEverywhere(t *testing.T) {
	pre := exprtest.NewGrid(3, 3)
	post := exprtest.NewGrid(3, 3)
	pre.Invalidate(1, 1)
	post.Invalidate(2, 2)

	out, err := exprtest.Eval(CommonMask(preImg(), postImg()), env(pre, post))
	require.NoError(t, err)

	// The common mask itself is defined on every pixel, holding 0/1.
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			v, ok := out.At(x, y)
			require.True(t, ok)
			_, preOK := pre.At(x, y)
			_, postOK := post.At(x, y)
			if preOK && postOK {
				assert.Equal(t, 1.0, v)
			} else {
				assert.Equal(t, 0.0, v)
			}
		}
	}
}

func TestDuration_GraphShape(t *testing.T) {
	d := Duration(expr.Catalog("extents"))
	n := d.Node()
	require.Equal(t, expr.OpRename, n.Op)
	assert.Equal(t, "flood_duration", n.Args["name"])
	assert.Equal(t, expr.OpMosaicSum, n.Inputs[0].Op)
}
