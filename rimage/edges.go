package rimage

import (
	"image"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Threshold returns a binary image where pixels strictly above thresh are 255 and all others 0.
func Threshold(img *image.Gray, thresh uint8) *image.Gray {
	out := CloneGray(img)
	for i, v := range out.Pix {
		if v > thresh {
			out.Pix[i] = 255
		} else {
			out.Pix[i] = 0
		}
	}
	return out
}

// GaussianKernel returns a normalized square Gaussian kernel covering +/- 3 sigma.
func GaussianKernel(sigma float64) Kernel {
	if sigma <= 0 {
		return Kernel{[][]float64{{1}}, 1, 1}
	}
	half := int(math.Ceil(3 * sigma))
	size := 2*half + 1
	rows := make([][]float64, size)
	sum := 0.
	for y := range rows {
		rows[y] = make([]float64, size)
		for x := range rows[y] {
			dx, dy := float64(x-half), float64(y-half)
			v := math.Exp(-(dx*dx + dy*dy) / (2 * sigma * sigma))
			rows[y][x] = v
			sum += v
		}
	}
	for y := range rows {
		for x := range rows[y] {
			rows[y][x] /= sum
		}
	}
	return Kernel{rows, size, size}
}

// CannyEdgeDetector finds edges with the classic Canny pipeline: Gaussian smoothing, Sobel
// gradients, non-maximum suppression along the gradient and hysteresis thresholding.
type CannyEdgeDetector struct {
	LowThreshold  float64
	HighThreshold float64
}

// NewCannyEdgeDetector creates a detector with the given hysteresis thresholds on the Sobel
// gradient magnitude.
func NewCannyEdgeDetector(low, high float64) (*CannyEdgeDetector, error) {
	if low < 0 || high < low {
		return nil, errors.Errorf("invalid canny thresholds low=%v high=%v", low, high)
	}
	return &CannyEdgeDetector{LowThreshold: low, HighThreshold: high}, nil
}

// DetectEdges returns a binary edge image (edges are 255).
func (cd *CannyEdgeDetector) DetectEdges(img *image.Gray, blurSigma float64) (*image.Gray, error) {
	m := GrayToFloat(img)
	gauss := GaussianKernel(blurSigma)
	blurred, err := ConvolveGrayFloat64(m, &gauss, BorderReplicate)
	if err != nil {
		return nil, err
	}
	sobelX, sobelY := GetSobelX(), GetSobelY()
	gx, err := ConvolveGrayFloat64(blurred, &sobelX, BorderReplicate)
	if err != nil {
		return nil, err
	}
	gy, err := ConvolveGrayFloat64(blurred, &sobelY, BorderReplicate)
	if err != nil {
		return nil, err
	}
	h, w := m.Dims()
	mag := mat.NewDense(h, w, nil)
	mag.Apply(func(i, j int, _ float64) float64 {
		return math.Hypot(gx.At(i, j), gy.At(i, j))
	}, mag)

	// non-maximum suppression, quantizing the gradient direction to 4 neighbors
	const (
		none = iota
		weak
		strong
	)
	class := make([]uint8, h*w)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			v := mag.At(y, x)
			if v < cd.LowThreshold || v == 0 {
				continue
			}
			angle := math.Atan2(gy.At(y, x), gx.At(y, x)) * 180 / math.Pi
			if angle < 0 {
				angle += 180
			}
			var n1, n2 float64
			switch {
			case angle < 22.5 || angle >= 157.5:
				n1, n2 = mag.At(y, x-1), mag.At(y, x+1)
			case angle < 67.5:
				n1, n2 = mag.At(y-1, x-1), mag.At(y+1, x+1)
			case angle < 112.5:
				n1, n2 = mag.At(y-1, x), mag.At(y+1, x)
			default:
				n1, n2 = mag.At(y-1, x+1), mag.At(y+1, x-1)
			}
			if v < n1 || v < n2 {
				continue
			}
			if v >= cd.HighThreshold {
				class[y*w+x] = strong
			} else {
				class[y*w+x] = weak
			}
		}
	}

	// hysteresis: keep weak pixels connected to a strong one
	out := image.NewGray(image.Rect(0, 0, w, h))
	stack := make([]int, 0, 64)
	for i, c := range class {
		if c == strong {
			out.Pix[i] = 255
			stack = append(stack, i)
		}
	}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := i%w, i/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if class[j] == weak && out.Pix[j] == 0 {
					out.Pix[j] = 255
					stack = append(stack, j)
				}
			}
		}
	}
	return out, nil
}
