package rimage

import (
	"image"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// BorderPad is the way pixels outside of the image are filled in during a convolution.
type BorderPad int

const (
	// BorderConstant pads with zeros.
	BorderConstant BorderPad = iota
	// BorderReplicate repeats the closest edge pixel.
	BorderReplicate
	// BorderReflect mirrors the image at its edge, excluding the edge pixel itself.
	BorderReflect
)

// Kernel is a 2D convolution kernel stored row-major.
type Kernel struct {
	Content [][]float64
	Width   int
	Height  int
}

// NewKernel creates a Kernel from its rows. All rows must have the same length.
func NewKernel(rows [][]float64) (*Kernel, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errors.New("kernel cannot be empty")
	}
	for i, r := range rows {
		if len(r) != len(rows[0]) {
			return nil, errors.Errorf("kernel row %d has %d elements, expected %d", i, len(r), len(rows[0]))
		}
	}
	return &Kernel{rows, len(rows[0]), len(rows)}, nil
}

// Size returns the kernel dimensions as a point (X = width, Y = height).
func (k *Kernel) Size() image.Point {
	return image.Point{k.Width, k.Height}
}

// At returns the kernel element at column x, row y.
func (k *Kernel) At(x, y int) float64 {
	return k.Content[y][x]
}

// GetSobelX returns the Kernel corresponding to the Sobel kernel in the x direction.
func GetSobelX() Kernel {
	return Kernel{
		[][]float64{
			{-1, 0, 1},
			{-2, 0, 2},
			{-1, 0, 1},
		},
		3,
		3,
	}
}

// GetSobelY returns the Kernel corresponding to the Sobel kernel in the y direction.
func GetSobelY() Kernel {
	return Kernel{
		[][]float64{
			{-1, -2, -1},
			{0, 0, 0},
			{1, 2, 1},
		},
		3,
		3,
	}
}

// GetBlur3 returns a normalized 3x3 binomial (Gaussian-like) blur kernel.
func GetBlur3() Kernel {
	return Kernel{
		[][]float64{
			{1.0 / 16, 2.0 / 16, 1.0 / 16},
			{2.0 / 16, 4.0 / 16, 2.0 / 16},
			{1.0 / 16, 2.0 / 16, 1.0 / 16},
		},
		3,
		3,
	}
}

// padIndex maps a possibly out of range index into [0, n) according to the border mode.
// ok is false when the pixel should be treated as zero.
func padIndex(i, n int, border BorderPad) (int, bool) {
	if i >= 0 && i < n {
		return i, true
	}
	switch border {
	case BorderReplicate:
		if i < 0 {
			return 0, true
		}
		return n - 1, true
	case BorderReflect:
		if n == 1 {
			return 0, true
		}
		for i < 0 || i >= n {
			if i < 0 {
				i = -i
			}
			if i >= n {
				i = 2*(n-1) - i
			}
		}
		return i, true
	case BorderConstant:
		return 0, false
	default:
		return 0, false
	}
}

// ConvolveGrayFloat64 convolves a float64 image (rows = y, columns = x) with the kernel. The kernel
// is anchored at its center. There is no clamping of the output values.
func ConvolveGrayFloat64(m *mat.Dense, kernel *Kernel, border BorderPad) (*mat.Dense, error) {
	if m == nil || kernel == nil {
		return nil, errors.New("cannot convolve a nil image or kernel")
	}
	h, w := m.Dims()
	result := mat.NewDense(h, w, nil)
	anchor := image.Point{kernel.Width / 2, kernel.Height / 2}
	raw := m.RawMatrix()
	out := result.RawMatrix()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := 0.
			for ky := 0; ky < kernel.Height; ky++ {
				yy, ok := padIndex(y+ky-anchor.Y, h, border)
				if !ok {
					continue
				}
				row := raw.Data[yy*raw.Stride : yy*raw.Stride+w]
				for kx := 0; kx < kernel.Width; kx++ {
					xx, ok := padIndex(x+kx-anchor.X, w, border)
					if !ok {
						continue
					}
					sum += row[xx] * kernel.Content[ky][kx]
				}
			}
			out.Data[y*out.Stride+x] = sum
		}
	}
	return result, nil
}
