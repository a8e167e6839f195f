package calibrate

import (
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcal/rimage"
)

// gradients returns the central difference derivatives of img along x and y.
func gradients(img *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	dx, err := rimage.NewKernel([][]float64{{-0.5, 0, 0.5}})
	if err != nil {
		return nil, nil, err
	}
	dy, err := rimage.NewKernel([][]float64{{-0.5}, {0}, {0.5}})
	if err != nil {
		return nil, nil, err
	}
	gx, err := rimage.ConvolveGrayFloat64(img, dx, rimage.BorderReplicate)
	if err != nil {
		return nil, nil, err
	}
	gy, err := rimage.ConvolveGrayFloat64(img, dy, rimage.BorderReplicate)
	if err != nil {
		return nil, nil, err
	}
	return gx, gy, nil
}

// refineCorners moves every corner to the point q where the image gradient in the surrounding window
// is orthogonal to the vector from q, i.e. sum_p w(p) g(p) g(p)ᵀ (q - p) = 0. Each corner iterates
// until it moves less than cfg.Epsilon or cfg.MaxIterations is reached. A corner that drifts out of
// its window keeps its initial location.
func refineCorners(img *mat.Dense, corners []r2.Point, cfg DetectorConfig) ([]r2.Point, error) {
	gx, gy, err := gradients(img)
	if err != nil {
		return nil, err
	}
	half := cfg.WindowHalfSize
	size := 2*half + 1
	weights := make([]float64, size*size)
	for y := -half; y <= half; y++ {
		for x := -half; x <= half; x++ {
			weights[(y+half)*size+x+half] = math.Exp(-float64(x*x+y*y) / float64(half*half))
		}
	}

	out := make([]r2.Point, len(corners))
	for i, start := range corners {
		q := start
		for iter := 0; iter < cfg.MaxIterations; iter++ {
			var a, b, c, bx, by float64
			for y := -half; y <= half; y++ {
				for x := -half; x <= half; x++ {
					px, py := q.X+float64(x), q.Y+float64(y)
					gX := rimage.BilinearFloat(gx, px, py)
					gY := rimage.BilinearFloat(gy, px, py)
					w := weights[(y+half)*size+x+half]
					gxx, gxy, gyy := w*gX*gX, w*gX*gY, w*gY*gY
					a += gxx
					b += gxy
					c += gyy
					bx += gxx*px + gxy*py
					by += gxy*px + gyy*py
				}
			}
			det := a*c - b*b
			if math.Abs(det) < 1e-12*(a*c+1) {
				break
			}
			next := r2.Point{X: (c*bx - b*by) / det, Y: (a*by - b*bx) / det}
			moved := next.Sub(q).Norm()
			q = next
			if moved < cfg.Epsilon {
				break
			}
		}
		if q.Sub(start).Norm() > float64(half) || math.IsNaN(q.X) || math.IsNaN(q.Y) {
			q = start
		}
		out[i] = q
	}
	return out, nil
}
