package calibrate

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/floats"
)

// BoardGeometry is the number of interior corners of a chessboard along each axis.
type BoardGeometry struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	// SquareSize is the side of a board square in world units. Zero means 1.
	SquareSize float64 `json:"square_size,omitempty"`
}

// NewBoardGeometry returns a geometry with unit squares, or an *InvalidGeometryError if either
// dimension is smaller than 2.
func NewBoardGeometry(width, height int) (BoardGeometry, error) {
	g := BoardGeometry{Width: width, Height: height, SquareSize: 1}
	if err := g.Validate(); err != nil {
		return BoardGeometry{}, err
	}
	return g, nil
}

// Validate checks that the board has at least 2x2 interior corners.
func (g BoardGeometry) Validate() error {
	if g.Width < 2 || g.Height < 2 {
		return &InvalidGeometryError{g.Width, g.Height}
	}
	return nil
}

// CornerCount is the number of interior corners, width*height.
func (g BoardGeometry) CornerCount() int {
	return g.Width * g.Height
}

func (g BoardGeometry) squareSize() float64 {
	if g.SquareSize <= 0 {
		return 1
	}
	return g.SquareSize
}

// WorldPoints returns the planar (z = 0) coordinates of the interior corners in row-major order:
// index row*width+col is at (col, row) * SquareSize.
func (g BoardGeometry) WorldPoints() []r3.Vector {
	if g.Validate() != nil {
		return nil
	}
	xs := make([]float64, g.Width)
	ys := make([]float64, g.Height)
	s := g.squareSize()
	floats.Span(xs, 0, float64(g.Width-1)*s)
	floats.Span(ys, 0, float64(g.Height-1)*s)
	pts := make([]r3.Vector, 0, g.CornerCount())
	for _, y := range ys {
		for _, x := range xs {
			pts = append(pts, r3.Vector{X: x, Y: y})
		}
	}
	return pts
}
