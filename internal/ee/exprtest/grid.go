// Package exprtest evaluates expression graphs against small in-memory
// grids. It exists so tests can verify mask reconciliation, thresholding,
// and area logic without a remote platform; production code never imports it.
package exprtest

import (
	"fmt"
	"math"

	"github.com/fadodo/flood-mapper/internal/ee/expr"
)

// Grid is a tiny single-band raster: row-major values plus a validity mask.
type Grid struct {
	W, H  int
	Vals  []float64
	Valid []bool
}

// NewGrid allocates a fully-valid grid of zeros.
func NewGrid(w, h int) *Grid {
	g := &Grid{W: w, H: h, Vals: make([]float64, w*h), Valid: make([]bool, w*h)}
	for i := range g.Valid {
		g.Valid[i] = true
	}
	return g
}

// FromRows builds a grid from row slices. NaN marks an invalid pixel.
func FromRows(rows [][]float64) *Grid {
	h := len(rows)
	w := 0
	if h > 0 {
		w = len(rows[0])
	}
	g := &Grid{W: w, H: h, Vals: make([]float64, w*h), Valid: make([]bool, w*h)}
	for y, row := range rows {
		for x, v := range row {
			i := y*w + x
			if math.IsNaN(v) {
				continue
			}
			g.Vals[i] = v
			g.Valid[i] = true
		}
	}
	return g
}

// Set assigns a pixel value and marks it valid.
func (g *Grid) Set(x, y int, v float64) {
	g.Vals[y*g.W+x] = v
	g.Valid[y*g.W+x] = true
}

// Invalidate marks a pixel as no-data.
func (g *Grid) Invalidate(x, y int) {
	g.Valid[y*g.W+x] = false
}

// At returns the pixel value and whether it is valid.
func (g *Grid) At(x, y int) (float64, bool) {
	i := y*g.W + x
	return g.Vals[i], g.Valid[i]
}

func (g *Grid) clone() *Grid {
	return &Grid{
		W: g.W, H: g.H,
		Vals:  append([]float64(nil), g.Vals...),
		Valid: append([]bool(nil), g.Valid...),
	}
}

// Env binds catalog IDs to grids and fixes the pixel geometry of the
// simulated scene.
type Env struct {
	Grids       map[string]*Grid
	PixelAreaM2 float64 // area of one pixel; defaults to CellSizeM²
	CellSizeM   float64 // ground size of one pixel edge, for slope and kernels
}

func (e *Env) cellSize() float64 {
	if e.CellSizeM > 0 {
		return e.CellSizeM
	}
	return 10
}

func (e *Env) pixelArea() float64 {
	if e.PixelAreaM2 > 0 {
		return e.PixelAreaM2
	}
	s := e.cellSize()
	return s * s
}

// Eval interprets an image expression over the environment's grids.
func Eval(img expr.Image, env *Env) (*Grid, error) {
	return evalNode(img.Node(), env)
}

func evalNode(n *expr.Node, env *Env) (*Grid, error) {
	if n == nil {
		return nil, fmt.Errorf("nil expression node")
	}
	switch n.Op {
	case expr.OpCatalog:
		id, _ := n.Args["id"].(string)
		g, ok := env.Grids[id]
		if !ok {
			return nil, fmt.Errorf("no grid bound to catalog id %q", id)
		}
		return g.clone(), nil

	case expr.OpConstant:
		return nil, fmt.Errorf("constant image has no extent without a companion grid")

	case expr.OpSelect, expr.OpRename, expr.OpClip:
		// Single-band grids: band selection, renaming, and clipping to the
		// (whole) region are identities here.
		return evalNode(n.Inputs[0], env)

	case expr.OpLtConst, expr.OpGtConst, expr.OpGteConst:
		in, err := evalNode(n.Inputs[0], env)
		if err != nil {
			return nil, err
		}
		v := argFloat(n, "value")
		out := in.clone()
		for i := range out.Vals {
			if !out.Valid[i] {
				continue
			}
			var hit bool
			switch n.Op {
			case expr.OpLtConst:
				hit = in.Vals[i] < v
			case expr.OpGtConst:
				hit = in.Vals[i] > v
			case expr.OpGteConst:
				hit = in.Vals[i] >= v
			}
			out.Vals[i] = b2f(hit)
		}
		return out, nil

	case expr.OpNot:
		in, err := evalNode(n.Inputs[0], env)
		if err != nil {
			return nil, err
		}
		out := in.clone()
		for i := range out.Vals {
			if out.Valid[i] {
				out.Vals[i] = b2f(in.Vals[i] == 0)
			}
		}
		return out, nil

	case expr.OpAnd, expr.OpOr, expr.OpAdd, expr.OpSubtract, expr.OpMultiply, expr.OpDivide:
		return evalBinary(n, env)

	case expr.OpUpdateMask:
		in, err := evalNode(n.Inputs[0], env)
		if err != nil {
			return nil, err
		}
		mask, err := evalNode(n.Inputs[1], env)
		if err != nil {
			return nil, err
		}
		if err := sameShape(in, mask); err != nil {
			return nil, err
		}
		out := in.clone()
		for i := range out.Valid {
			if !mask.Valid[i] || mask.Vals[i] == 0 {
				out.Valid[i] = false
			}
		}
		return out, nil

	case expr.OpMask:
		in, err := evalNode(n.Inputs[0], env)
		if err != nil {
			return nil, err
		}
		out := in.clone()
		for i := range out.Vals {
			out.Vals[i] = b2f(in.Valid[i])
			out.Valid[i] = true
		}
		return out, nil

	case expr.OpPixelArea:
		return nil, fmt.Errorf("pixelArea image has no extent without a companion grid")

	case expr.OpFocalMean:
		in, err := evalNode(n.Inputs[0], env)
		if err != nil {
			return nil, err
		}
		radiusPx := int(math.Round(argFloat(n, "radius") / env.cellSize()))
		iters := int(argFloat(n, "iterations"))
		if iters < 1 {
			iters = 1
		}
		out := in
		for it := 0; it < iters; it++ {
			out = focalMean(out, radiusPx)
		}
		return out, nil

	case expr.OpConnectedCount:
		in, err := evalNode(n.Inputs[0], env)
		if err != nil {
			return nil, err
		}
		return connectedCount(in), nil

	case expr.OpSlope:
		in, err := evalNode(n.Inputs[0], env)
		if err != nil {
			return nil, err
		}
		return slopeDegrees(in, env.cellSize()), nil

	default:
		return nil, fmt.Errorf("exprtest: unsupported op %q", n.Op)
	}
}

func evalBinary(n *expr.Node, env *Env) (*Grid, error) {
	// constant and pixelArea right-hand sides take their extent from the left.
	left, err := evalNode(n.Inputs[0], env)
	if err != nil {
		return nil, err
	}
	right, err := evalCompanion(n.Inputs[1], left, env)
	if err != nil {
		return nil, err
	}
	if err := sameShape(left, right); err != nil {
		return nil, err
	}

	out := left.clone()
	for i := range out.Vals {
		if !left.Valid[i] || !right.Valid[i] {
			out.Valid[i] = false
			continue
		}
		a, b := left.Vals[i], right.Vals[i]
		switch n.Op {
		case expr.OpAnd:
			out.Vals[i] = b2f(a != 0 && b != 0)
		case expr.OpOr:
			out.Vals[i] = b2f(a != 0 || b != 0)
		case expr.OpAdd:
			out.Vals[i] = a + b
		case expr.OpSubtract:
			out.Vals[i] = a - b
		case expr.OpMultiply:
			out.Vals[i] = a * b
		case expr.OpDivide:
			if b == 0 {
				out.Valid[i] = false
			} else {
				out.Vals[i] = a / b
			}
		}
	}
	return out, nil
}

// evalCompanion evaluates a node that may lack intrinsic extent (constant,
// pixelArea) by stamping it over the shape of ref.
func evalCompanion(n *expr.Node, ref *Grid, env *Env) (*Grid, error) {
	switch n.Op {
	case expr.OpConstant:
		out := NewGrid(ref.W, ref.H)
		v := argFloat(n, "value")
		for i := range out.Vals {
			out.Vals[i] = v
		}
		return out, nil
	case expr.OpPixelArea:
		out := NewGrid(ref.W, ref.H)
		for i := range out.Vals {
			out.Vals[i] = env.pixelArea()
		}
		return out, nil
	default:
		return evalNode(n, env)
	}
}

// ReduceSum sums valid pixel values, matching the platform's sum reducer.
func ReduceSum(g *Grid) float64 {
	var sum float64
	for i, v := range g.Vals {
		if g.Valid[i] {
			sum += v
		}
	}
	return sum
}

// ReduceMean averages valid pixel values. Returns 0 for an all-invalid grid.
func ReduceMean(g *Grid) float64 {
	var sum float64
	var n int
	for i, v := range g.Vals {
		if g.Valid[i] {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// ReduceHistogram buckets valid pixel values into at most maxBuckets equal
// intervals, returning counts and bucket means the way the platform's
// histogram reducer does. A grid with no valid pixels yields empty slices.
func ReduceHistogram(g *Grid, maxBuckets int) (counts, means []float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, v := range g.Vals {
		if g.Valid[i] {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if lo > hi {
		return nil, nil
	}
	if lo == hi {
		return []float64{countValid(g)}, []float64{lo}
	}

	counts = make([]float64, maxBuckets)
	means = make([]float64, maxBuckets)
	width := (hi - lo) / float64(maxBuckets)
	for b := range means {
		means[b] = lo + (float64(b)+0.5)*width
	}
	for i, v := range g.Vals {
		if !g.Valid[i] {
			continue
		}
		b := int((v - lo) / width)
		if b >= maxBuckets {
			b = maxBuckets - 1
		}
		counts[b]++
	}
	return counts, means
}

func countValid(g *Grid) float64 {
	var n float64
	for _, ok := range g.Valid {
		if ok {
			n++
		}
	}
	return n
}

func focalMean(g *Grid, radiusPx int) *Grid {
	if radiusPx < 1 {
		return g.clone()
	}
	out := g.clone()
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W; x++ {
			if !g.Valid[y*g.W+x] {
				continue
			}
			var sum float64
			var n int
			for dy := -radiusPx; dy <= radiusPx; dy++ {
				for dx := -radiusPx; dx <= radiusPx; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= g.W || ny >= g.H {
						continue
					}
					if !g.Valid[ny*g.W+nx] {
						continue
					}
					sum += g.Vals[ny*g.W+nx]
					n++
				}
			}
			out.Vals[y*g.W+x] = sum / float64(n)
		}
	}
	return out
}

// connectedCount labels each valid pixel with the size of its 8-connected
// component of equal-valued valid pixels.
func connectedCount(g *Grid) *Grid {
	out := g.clone()
	label := make([]int, len(g.Vals))
	sizes := []int{0}
	next := 1

	for start := range g.Vals {
		if !g.Valid[start] || label[start] != 0 {
			continue
		}
		queue := []int{start}
		label[start] = next
		size := 0
		for len(queue) > 0 {
			i := queue[0]
			queue = queue[1:]
			size++
			x, y := i%g.W, i/g.W
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= g.W || ny >= g.H {
						continue
					}
					j := ny*g.W + nx
					if !g.Valid[j] || label[j] != 0 || g.Vals[j] != g.Vals[i] {
						continue
					}
					label[j] = next
					queue = append(queue, j)
				}
			}
		}
		sizes = append(sizes, size)
		next++
	}

	for i := range out.Vals {
		if g.Valid[i] {
			out.Vals[i] = float64(sizes[label[i]])
		}
	}
	return out
}

// slopeDegrees approximates terrain slope from central differences.
func slopeDegrees(dem *Grid, cellSizeM float64) *Grid {
	out := dem.clone()
	at := func(x, y int) float64 {
		x = clamp(x, 0, dem.W-1)
		y = clamp(y, 0, dem.H-1)
		return dem.Vals[y*dem.W+x]
	}
	for y := 0; y < dem.H; y++ {
		for x := 0; x < dem.W; x++ {
			if !dem.Valid[y*dem.W+x] {
				continue
			}
			dzdx := (at(x+1, y) - at(x-1, y)) / (2 * cellSizeM)
			dzdy := (at(x, y+1) - at(x, y-1)) / (2 * cellSizeM)
			out.Vals[y*dem.W+x] = math.Atan(math.Hypot(dzdx, dzdy)) * 180 / math.Pi
		}
	}
	return out
}

func sameShape(a, b *Grid) error {
	if a.W != b.W || a.H != b.H {
		return fmt.Errorf("grid shape mismatch: %dx%d vs %dx%d", a.W, a.H, b.W, b.H)
	}
	return nil
}

func argFloat(n *expr.Node, key string) float64 {
	switch v := n.Args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
