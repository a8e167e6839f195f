package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Homography is a 3x3 matrix (represented as a 2D array) mapping points of one plane to another,
// here the board plane to the image plane. Indices are [row][column].
type Homography [3][3]float64

// NewHomography creates a Homography from 9 row-major values.
func NewHomography(vals []float64) (*Homography, error) {
	if len(vals) != 9 {
		return nil, errors.Errorf("input to NewHomography must have length of 9. Has length of %d", len(vals))
	}
	var h Homography
	for i, v := range vals {
		h[i/3][i%3] = v
	}
	return &h, nil
}

// At returns the element at row, col.
func (h *Homography) At(row, col int) float64 {
	return h[row][col]
}

// Apply maps pt through the homography.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	z := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	return r2.Point{X: x / z, Y: y / z}
}

// Column returns column col as a 3-vector.
func (h *Homography) Column(col int) [3]float64 {
	return [3]float64{h[0][col], h[1][col], h[2][col]}
}

// Dense returns the homography as a *mat.Dense.
func (h *Homography) Dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		h[0][0], h[0][1], h[0][2],
		h[1][0], h[1][1], h[1][2],
		h[2][0], h[2][1], h[2][2],
	})
}

// normalizingTransform returns the similarity that moves the centroid of pts to the origin and
// scales their mean distance to it to sqrt(2).
func normalizingTransform(pts []r2.Point) (*mat.Dense, error) {
	var c r2.Point
	for _, p := range pts {
		c = c.Add(p)
	}
	c = c.Mul(1 / float64(len(pts)))
	meanDist := 0.
	for _, p := range pts {
		meanDist += p.Sub(c).Norm()
	}
	meanDist /= float64(len(pts))
	if meanDist < 1e-12 {
		return nil, errors.New("points are all coincident")
	}
	s := math.Sqrt2 / meanDist
	return mat.NewDense(3, 3, []float64{
		s, 0, -s * c.X,
		0, s, -s * c.Y,
		0, 0, 1,
	}), nil
}

// EstimateHomography computes the homography mapping src onto dst with the normalized direct linear
// transform. At least 4 correspondences are needed; the result is scaled so that H[2][2] = 1.
func EstimateHomography(src, dst []r2.Point) (*Homography, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("point sets have different sizes %d and %d", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, errors.Errorf("need at least 4 correspondences to estimate a homography, got %d", len(src))
	}
	tSrc, err := normalizingTransform(src)
	if err != nil {
		return nil, errors.Wrap(err, "source")
	}
	tDst, err := normalizingTransform(dst)
	if err != nil {
		return nil, errors.Wrap(err, "destination")
	}
	n := len(src)
	a := mat.NewDense(2*n, 9, nil)
	for i := range src {
		x := tSrc.At(0, 0)*src[i].X + tSrc.At(0, 2)
		y := tSrc.At(1, 1)*src[i].Y + tSrc.At(1, 2)
		u := tDst.At(0, 0)*dst[i].X + tDst.At(0, 2)
		v := tDst.At(1, 1)*dst[i].Y + tDst.At(1, 2)
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return nil, errors.New("failed to factorize the DLT system")
	}
	var v mat.Dense
	svd.VTo(&v)
	hn := mat.NewDense(3, 3, nil)
	for i := 0; i < 9; i++ {
		hn.Set(i/3, i%3, v.At(i, 8))
	}
	// denormalize: H = tDst⁻¹ Hn tSrc
	var tDstInv mat.Dense
	if err := tDstInv.Inverse(tDst); err != nil {
		return nil, errors.Wrap(err, "cannot invert normalization")
	}
	var tmp, h mat.Dense
	tmp.Mul(&tDstInv, hn)
	h.Mul(&tmp, tSrc)
	scale := h.At(2, 2)
	if math.Abs(scale) < 1e-12 {
		return nil, errors.New("degenerate homography")
	}
	var out Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r][c] = h.At(r, c) / scale
		}
	}
	return &out, nil
}
