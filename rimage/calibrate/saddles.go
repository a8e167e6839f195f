package calibrate

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcal/rimage"
)

// minRingContrast is the smallest intensity range around a candidate that can be an X-junction.
const minRingContrast = 20.

// Corner refers to a point on an image with a corner value=R (saddle score).
type Corner struct {
	X float64
	Y float64
	R float64
}

// Point returns the corner location.
func (c Corner) Point() r2.Point {
	return r2.Point{X: c.X, Y: c.Y}
}

// SortCornerListByR sorts the corners by decreasing score.
func SortCornerListByR(list []Corner) []Corner {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].R > list[j].R
	})
	return list
}

// computePixelWiseHessianDeterminant computes hessian components for each pixel and returns a *mat.Dense
// containing the value of the determinant of the Hessian for each pixel.
// The sign and value of the determinant of the Hessian gives location of saddle points.
func computePixelWiseHessianDeterminant(img *mat.Dense) (*mat.Dense, error) {
	nRows, nCols := img.Dims()
	sobelX := rimage.GetSobelX()
	sobelY := rimage.GetSobelY()
	gX, err := rimage.ConvolveGrayFloat64(img, &sobelX, rimage.BorderReplicate)
	if err != nil {
		return nil, err
	}
	gY, err := rimage.ConvolveGrayFloat64(img, &sobelY, rimage.BorderReplicate)
	if err != nil {
		return nil, err
	}
	gXX, err := rimage.ConvolveGrayFloat64(gX, &sobelX, rimage.BorderReplicate)
	if err != nil {
		return nil, err
	}
	gYY, err := rimage.ConvolveGrayFloat64(gY, &sobelY, rimage.BorderReplicate)
	if err != nil {
		return nil, err
	}
	gXY, err := rimage.ConvolveGrayFloat64(gX, &sobelY, rimage.BorderReplicate)
	if err != nil {
		return nil, err
	}
	m1 := mat.NewDense(nRows, nCols, nil)
	m2 := mat.NewDense(nRows, nCols, nil)
	out := mat.NewDense(nRows, nCols, nil)
	m1.MulElem(gXX, gYY)
	m2.MulElem(gXY, gXY)
	out.Sub(m1, m2)
	return out, nil
}

// saddleScoreMap blurs the image and returns max(0, -det(H)) per pixel. X-junctions of a chessboard
// have a strongly negative Hessian determinant while straight edges have a zero one.
func saddleScoreMap(img *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	blur := rimage.GetBlur3()
	blurred, err := rimage.ConvolveGrayFloat64(img, &blur, rimage.BorderReplicate)
	if err != nil {
		return nil, nil, err
	}
	hessian, err := computePixelWiseHessianDeterminant(blurred)
	if err != nil {
		return nil, nil, err
	}
	hessian.Apply(func(_, _ int, v float64) float64 {
		if v >= 0 {
			return 0
		}
		return -v
	}, hessian)
	return hessian, blurred, nil
}

// nonMaxSuppression returns the local maxima of score within a (2*radius+1) window whose score is
// above minRatio of the global maximum. Pixels closer than margin to the border are ignored.
func nonMaxSuppression(score *mat.Dense, radius, margin int, minRatio float64) []Corner {
	h, w := score.Dims()
	maxScore := 0.
	for y := margin; y < h-margin; y++ {
		for x := margin; x < w-margin; x++ {
			maxScore = math.Max(maxScore, score.At(y, x))
		}
	}
	if maxScore <= 0 {
		return nil
	}
	thresh := maxScore * minRatio
	var out []Corner
	for y := margin; y < h-margin; y++ {
		for x := margin; x < w-margin; x++ {
			v := score.At(y, x)
			if v <= thresh || v <= 0 {
				continue
			}
			if isLocalMax(score, x, y, radius, v) {
				out = append(out, Corner{float64(x), float64(y), v})
			}
		}
	}
	return out
}

// isLocalMax reports whether (x, y) holds the maximum of its window. Ties go to the first pixel in
// raster order so plateaus yield a single maximum.
func isLocalMax(score *mat.Dense, x, y, radius int, v float64) bool {
	h, w := score.Dims()
	for yy := max(0, y-radius); yy <= min(h-1, y+radius); yy++ {
		for xx := max(0, x-radius); xx <= min(w-1, x+radius); xx++ {
			if xx == x && yy == y {
				continue
			}
			n := score.At(yy, xx)
			if n > v {
				return false
			}
			if n == v && (yy < y || (yy == y && xx < x)) {
				return false
			}
		}
	}
	return true
}

// ringTransitions samples a circle of the given radius around (x, y) and counts how many times the
// samples cross the midpoint between their darkest and brightest value. An X-junction has exactly 4
// crossings, an L-shaped corner or an edge 2.
func ringTransitions(img *mat.Dense, x, y, radius float64, samples int) (int, float64) {
	values := make([]float64, samples)
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := range values {
		angle := 2 * math.Pi * float64(i) / float64(samples)
		v := rimage.BilinearFloat(img, x+radius*math.Cos(angle), y+radius*math.Sin(angle))
		values[i] = v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	contrast := hi - lo
	mid := (hi + lo) / 2
	transitions := 0
	for i, v := range values {
		prev := values[(i+samples-1)%samples]
		if (v > mid) != (prev > mid) {
			transitions++
		}
	}
	return transitions, contrast
}

// findSaddleCandidates returns the X-junction candidates of a grayscale float image, strongest first.
func findSaddleCandidates(img *mat.Dense, cfg DetectorConfig) ([]Corner, error) {
	score, blurred, err := saddleScoreMap(img)
	if err != nil {
		return nil, err
	}
	margin := int(math.Ceil(cfg.RingRadius)) + cfg.WindowHalfSize/2 + 2
	raw := nonMaxSuppression(score, cfg.NMSRadius, margin, cfg.MinScoreRatio)
	out := make([]Corner, 0, len(raw))
	for _, c := range raw {
		transitions, contrast := ringTransitions(blurred, c.X, c.Y, cfg.RingRadius, 32)
		if transitions == 4 && contrast >= minRingContrast {
			out = append(out, c)
		}
	}
	return SortCornerListByR(out), nil
}

// countSaddles counts raw saddle maxima without the ring test. It is the cheap half of the fast check.
func countSaddles(img *mat.Dense, nmsRadius int, minRatio float64) (int, error) {
	score, _, err := saddleScoreMap(img)
	if err != nil {
		return 0, err
	}
	return len(nonMaxSuppression(score, nmsRadius, 2, minRatio)), nil
}

// centroid returns the mean location of the corners.
func centroid(corners []Corner) r2.Point {
	var c r2.Point
	for _, p := range corners {
		c = c.Add(p.Point())
	}
	return c.Mul(1 / float64(len(corners)))
}
