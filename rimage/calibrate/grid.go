package calibrate

import (
	"math"

	"github.com/golang/geo/r2"
)

// latticeTolerance is the fraction of the local square size a candidate may deviate from its
// predicted lattice position.
const latticeTolerance = 0.35

type latticeCoord struct {
	i, j int
}

// latticeNode is a candidate placed on the lattice together with the local lattice vectors used to
// predict its neighbors.
type latticeNode struct {
	candidate int
	u, v      r2.Point
}

// initialLatticeVectors picks the two shortest non-parallel steps from the seed to its neighbors.
func initialLatticeVectors(pts []r2.Point, seed int) (r2.Point, r2.Point, bool) {
	u, uNorm := r2.Point{}, math.Inf(1)
	for i, p := range pts {
		if i == seed {
			continue
		}
		d := p.Sub(pts[seed])
		if n := d.Norm(); n > 0 && n < uNorm {
			u, uNorm = d, n
		}
	}
	if math.IsInf(uNorm, 1) {
		return r2.Point{}, r2.Point{}, false
	}
	v, vNorm := r2.Point{}, math.Inf(1)
	for i, p := range pts {
		if i == seed {
			continue
		}
		d := p.Sub(pts[seed])
		n := d.Norm()
		if n == 0 || n >= vNorm {
			continue
		}
		if math.Abs(d.Dot(u))/(n*uNorm) < 0.7 {
			v, vNorm = d, n
		}
	}
	if math.IsInf(vNorm, 1) {
		return r2.Point{}, r2.Point{}, false
	}
	return u, v, true
}

// growLattice assigns integer lattice coordinates to candidates by breadth-first growth from the
// candidate closest to their centroid, predicting each neighbor from the local lattice vectors.
func growLattice(corners []Corner) map[latticeCoord]int {
	pts := make([]r2.Point, len(corners))
	for i, c := range corners {
		pts[i] = c.Point()
	}
	center := centroid(corners)
	seed, best := 0, math.Inf(1)
	for i, p := range pts {
		if d := p.Sub(center).Norm(); d < best {
			seed, best = i, d
		}
	}
	u, v, ok := initialLatticeVectors(pts, seed)
	if !ok {
		return nil
	}

	assigned := map[latticeCoord]int{{0, 0}: seed}
	used := make([]bool, len(pts))
	used[seed] = true
	queue := []latticeCoord{{0, 0}}
	nodes := map[latticeCoord]latticeNode{{0, 0}: {seed, u, v}}
	steps := []latticeCoord{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

	for len(queue) > 0 {
		at := queue[0]
		queue = queue[1:]
		node := nodes[at]
		p := pts[node.candidate]
		for _, step := range steps {
			next := latticeCoord{at.i + step.i, at.j + step.j}
			if _, ok := assigned[next]; ok {
				continue
			}
			predicted := p.Add(node.u.Mul(float64(step.i))).Add(node.v.Mul(float64(step.j)))
			tol := latticeTolerance * math.Min(node.u.Norm(), node.v.Norm())
			found, bestDist := -1, tol
			for k, q := range pts {
				if used[k] {
					continue
				}
				if d := q.Sub(predicted).Norm(); d < bestDist {
					found, bestDist = k, d
				}
			}
			if found < 0 {
				continue
			}
			measured := pts[found].Sub(p)
			nu, nv := node.u, node.v
			if step.i != 0 {
				nu = measured.Mul(float64(step.i))
			} else {
				nv = measured.Mul(float64(step.j))
			}
			used[found] = true
			assigned[next] = found
			nodes[next] = latticeNode{found, nu, nv}
			queue = append(queue, next)
		}
	}
	return assigned
}

// orderLattice turns a grown lattice into a width x height grid in row-major order. ok is false
// unless the lattice is a complete rectangle of the board's size.
func orderLattice(assigned map[latticeCoord]int, pts []r2.Point, geometry BoardGeometry) ([]r2.Point, bool) {
	if len(assigned) != geometry.CornerCount() {
		return nil, false
	}
	minI, maxI, minJ, maxJ := math.MaxInt, math.MinInt, math.MaxInt, math.MinInt
	for c := range assigned {
		minI, maxI = min(minI, c.i), max(maxI, c.i)
		minJ, maxJ = min(minJ, c.j), max(maxJ, c.j)
	}
	spanI, spanJ := maxI-minI+1, maxJ-minJ+1

	w, h := geometry.Width, geometry.Height
	var grid [][]r2.Point
	fill := func(transpose bool) {
		grid = make([][]r2.Point, h)
		for row := range grid {
			grid[row] = make([]r2.Point, w)
		}
		for c, idx := range assigned {
			col, row := c.i-minI, c.j-minJ
			if transpose {
				col, row = row, col
			}
			grid[row][col] = pts[idx]
		}
	}
	switch {
	case spanI == w && spanJ == h:
		fill(false)
	case spanI == h && spanJ == w:
		fill(true)
	default:
		return nil, false
	}

	// square boards: prefer columns that run horizontally
	if w == h {
		colDir, rowDir := gridDirections(grid)
		if math.Abs(colDir.X) < math.Abs(rowDir.X) {
			grid = transposeGrid(grid)
		}
	}
	colDir, rowDir := gridDirections(grid)
	if colDir.X < 0 {
		for _, row := range grid {
			for a, b := 0, len(row)-1; a < b; a, b = a+1, b-1 {
				row[a], row[b] = row[b], row[a]
			}
		}
	}
	if rowDir.Y < 0 {
		for a, b := 0, len(grid)-1; a < b; a, b = a+1, b-1 {
			grid[a], grid[b] = grid[b], grid[a]
		}
	}

	out := make([]r2.Point, 0, geometry.CornerCount())
	for _, row := range grid {
		out = append(out, row...)
	}
	return out, true
}

// gridDirections returns the mean image displacement along a row (first to last column) and along a
// column (first to last row).
func gridDirections(grid [][]r2.Point) (r2.Point, r2.Point) {
	var colDir, rowDir r2.Point
	h, w := len(grid), len(grid[0])
	for _, row := range grid {
		colDir = colDir.Add(row[w-1].Sub(row[0]))
	}
	for c := 0; c < w; c++ {
		rowDir = rowDir.Add(grid[h-1][c].Sub(grid[0][c]))
	}
	return colDir.Mul(1 / float64(h)), rowDir.Mul(1 / float64(w))
}

func transposeGrid(grid [][]r2.Point) [][]r2.Point {
	h, w := len(grid), len(grid[0])
	out := make([][]r2.Point, w)
	for c := range out {
		out[c] = make([]r2.Point, h)
		for r := 0; r < h; r++ {
			out[c][r] = grid[r][c]
		}
	}
	return out
}
