package rimage

import (
	"image"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	xdraw "golang.org/x/image/draw"
	"gonum.org/v1/gonum/mat"
)

// SameImgSize compares images to see if they're the same size.
func SameImgSize(g1, g2 image.Image) bool {
	return g1.Bounds().Dx() == g2.Bounds().Dx() && g1.Bounds().Dy() == g2.Bounds().Dy()
}

// GrayToFloat converts an 8-bit grayscale image into a float64 matrix with rows = y and columns = x.
// The matrix origin is the image's Bounds().Min.
func GrayToFloat(img *image.Gray) *mat.Dense {
	b := img.Bounds()
	out := mat.NewDense(b.Dy(), b.Dx(), nil)
	raw := out.RawMatrix()
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Dx()]
		for x, v := range row {
			raw.Data[y*raw.Stride+x] = float64(v)
		}
	}
	return out
}

// FloatToGray converts a float64 matrix into an 8-bit grayscale image, clamping values to [0, 255].
func FloatToGray(m *mat.Dense) *image.Gray {
	h, w := m.Dims()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Pix[y*out.Stride+x] = ClampUint8(m.At(y, x))
		}
	}
	return out
}

// ClampUint8 rounds v and clamps it into the uint8 range.
func ClampUint8(v float64) uint8 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}

// BilinearGray samples the image at the sub-pixel location pt, where integer coordinates are pixel
// centers. ok is false if pt falls outside of the image.
func BilinearGray(img *image.Gray, pt r2.Point) (float64, bool) {
	b := img.Bounds()
	x := pt.X - float64(b.Min.X)
	y := pt.Y - float64(b.Min.Y)
	w, h := b.Dx(), b.Dy()
	if x < 0 || y < 0 || x > float64(w-1) || y > float64(h-1) || math.IsNaN(x) || math.IsNaN(y) {
		return 0, false
	}
	x0, y0 := int(x), int(y)
	x1, y1 := x0+1, y0+1
	if x1 > w-1 {
		x1 = w - 1
	}
	if y1 > h-1 {
		y1 = h - 1
	}
	fx, fy := x-float64(x0), y-float64(y0)
	p00 := float64(img.Pix[y0*img.Stride+x0])
	p10 := float64(img.Pix[y0*img.Stride+x1])
	p01 := float64(img.Pix[y1*img.Stride+x0])
	p11 := float64(img.Pix[y1*img.Stride+x1])
	top := p00 + (p10-p00)*fx
	bot := p01 + (p11-p01)*fx
	return top + (bot-top)*fy, true
}

// BilinearFloat samples a float matrix (rows = y) at a sub-pixel location, replicating the border
// for points that fall slightly outside.
func BilinearFloat(m *mat.Dense, x, y float64) float64 {
	h, w := m.Dims()
	x = math.Max(0, math.Min(x, float64(w-1)))
	y = math.Max(0, math.Min(y, float64(h-1)))
	x0, y0 := int(x), int(y)
	x1, y1 := x0+1, y0+1
	if x1 > w-1 {
		x1 = w - 1
	}
	if y1 > h-1 {
		y1 = h - 1
	}
	fx, fy := x-float64(x0), y-float64(y0)
	top := m.At(y0, x0) + (m.At(y0, x1)-m.At(y0, x0))*fx
	bot := m.At(y1, x0) + (m.At(y1, x1)-m.At(y1, x0))*fx
	return top + (bot-top)*fy
}

// CloneGray returns a deep copy of img with its origin moved to (0, 0).
func CloneGray(img *image.Gray) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// ToGray converts any image into an 8-bit grayscale image. It is the frame-format conversion a
// host performs before handing frames to a calibration session.
func ToGray(img image.Image) (*image.Gray, error) {
	if img == nil {
		return nil, errors.New("cannot convert a nil image to grayscale")
	}
	if g, ok := img.(*image.Gray); ok {
		return g, nil
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, errors.Errorf("cannot convert an empty image %v to grayscale", b)
	}
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), imaging.Grayscale(img), image.Point{}, draw.Src)
	return out, nil
}

// MirrorGray flips the image horizontally, like a front facing camera preview.
func MirrorGray(img *image.Gray) *image.Gray {
	flipped := imaging.FlipH(img)
	out := image.NewGray(flipped.Bounds())
	draw.Draw(out, out.Bounds(), flipped, image.Point{}, draw.Src)
	return out
}

// InvertGray returns the photographic negative of img.
func InvertGray(img *image.Gray) *image.Gray {
	out := CloneGray(img)
	for i, v := range out.Pix {
		out.Pix[i] = 255 - v
	}
	return out
}

// ScaleGray resizes img by factor using bilinear interpolation.
func ScaleGray(img *image.Gray, factor float64) (*image.Gray, error) {
	if factor <= 0 {
		return nil, errors.Errorf("scale factor must be positive, got %v", factor)
	}
	b := img.Bounds()
	w := int(math.Max(1, math.Round(float64(b.Dx())*factor)))
	h := int(math.Max(1, math.Round(float64(b.Dy())*factor)))
	out := image.NewGray(image.Rect(0, 0, w, h))
	xdraw.BiLinear.Scale(out, out.Bounds(), img, b, xdraw.Src, nil)
	return out, nil
}
