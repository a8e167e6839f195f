package transform

import (
	"fmt"
	"image"
	"math"
	"unsafe"

	"github.com/pkg/errors"
)

// MapBuildError is returned when an undistortion map cannot be built for a camera model.
type MapBuildError struct {
	Size image.Point
	Err  error
}

func (e *MapBuildError) Error() string {
	return fmt.Sprintf("cannot build undistortion map for %dx%d: %v", e.Size.X, e.Size.Y, e.Err)
}

// Unwrap returns the underlying cause.
func (e *MapBuildError) Unwrap() error {
	return e.Err
}

// UndistortionMap holds, for every pixel of an undistorted image, the sub-pixel location in the
// distorted source image to sample from. Both tables are row-major with Size.X columns.
type UndistortionMap struct {
	Size image.Point
	MapX []float32
	MapY []float32
}

// BuildUndistortionMap computes the lookup tables for the camera model at the given image size. For
// each destination pixel the ideal normalized coordinate is distorted with the forward model and
// projected back with the same camera matrix.
func BuildUndistortionMap(model *PinholeCameraModel, size image.Point) (*UndistortionMap, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, &MapBuildError{size, errors.New("image size must be positive")}
	}
	if model == nil {
		return nil, &MapBuildError{size, NewNoIntrinsicsError("camera model does not exist")}
	}
	if err := model.CheckValid(); err != nil {
		return nil, &MapBuildError{size, err}
	}
	distortionMap := model.DistortionMap()
	m := &UndistortionMap{
		Size: size,
		MapX: make([]float32, size.X*size.Y),
		MapY: make([]float32, size.X*size.Y),
	}
	for v := 0; v < size.Y; v++ {
		for u := 0; u < size.X; u++ {
			x, y := distortionMap(float64(u), float64(v))
			if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
				return nil, &MapBuildError{size, errors.Errorf("non-finite source location for pixel (%d, %d)", u, v)}
			}
			m.MapX[v*size.X+u] = float32(x)
			m.MapY[v*size.X+u] = float32(y)
		}
	}
	return m, nil
}

// Apply returns a new image, the remapped version of src. src is never modified. Destination pixels
// whose source location falls outside of src are 0.
func (m *UndistortionMap) Apply(src *image.Gray) (*image.Gray, error) {
	dst := image.NewGray(image.Rect(0, 0, m.Size.X, m.Size.Y))
	if err := m.ApplyInto(dst, src); err != nil {
		return nil, err
	}
	return dst, nil
}

// ApplyInto writes the remapped src into dst. dst and src must not share pixel memory.
func (m *UndistortionMap) ApplyInto(dst, src *image.Gray) error {
	if dst == nil || src == nil {
		return errors.New("cannot remap nil images")
	}
	if src.Bounds().Size() != m.Size {
		return errors.Errorf("source size %v does not match map size %v", src.Bounds().Size(), m.Size)
	}
	if dst.Bounds().Size() != m.Size {
		return errors.Errorf("destination size %v does not match map size %v", dst.Bounds().Size(), m.Size)
	}
	if overlaps(dst.Pix, src.Pix) {
		return errors.New("cannot remap an image in place")
	}
	w, h := m.Size.X, m.Size.Y
	sMin := src.Bounds().Min
	for v := 0; v < h; v++ {
		drow := dst.Pix[v*dst.Stride : v*dst.Stride+w]
		for u := 0; u < w; u++ {
			x := float64(m.MapX[v*w+u])
			y := float64(m.MapY[v*w+u])
			drow[u] = sampleBilinear(src, sMin, w, h, x, y)
		}
	}
	return nil
}

// overlaps reports whether two pixel buffers share any memory.
func overlaps(a, b []uint8) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	aStart := uintptr(unsafe.Pointer(unsafe.SliceData(a)))
	bStart := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	return aStart < bStart+uintptr(len(b)) && bStart < aStart+uintptr(len(a))
}

// sampleBilinear samples src at (x, y) relative to its origin; locations outside the image are 0.
// Locations within float32 rounding of the border are clamped onto it.
func sampleBilinear(src *image.Gray, origin image.Point, w, h int, x, y float64) uint8 {
	const slack = 1e-3
	if x < -slack || y < -slack || x > float64(w-1)+slack || y > float64(h-1)+slack {
		return 0
	}
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
	at := func(xx, yy int) float64 {
		return float64(src.Pix[src.PixOffset(xx+origin.X, yy+origin.Y)])
	}
	top := at(x0, y0) + (at(x1, y0)-at(x0, y0))*fx
	bot := at(x0, y1) + (at(x1, y1)-at(x0, y1))*fx
	v := top + (bot-top)*fy + 0.5
	if v >= 255 {
		return 255
	}
	return uint8(v)
}

type mapCacheKey struct {
	model *PinholeCameraModel
	size  image.Point
}

// MapCache lazily builds and keeps the undistortion map for the most recent (model, size) pair. The
// model is keyed by identity: a new model value always causes a rebuild.
type MapCache struct {
	key    mapCacheKey
	cached *UndistortionMap
	builds int
}

// Get returns the map for model at size, building it if the key changed since the last call.
func (c *MapCache) Get(model *PinholeCameraModel, size image.Point) (*UndistortionMap, error) {
	key := mapCacheKey{model, size}
	if c.cached != nil && c.key == key {
		return c.cached, nil
	}
	m, err := BuildUndistortionMap(model, size)
	if err != nil {
		return nil, err
	}
	c.key = key
	c.cached = m
	c.builds++
	return m, nil
}

// Current returns the cached map, or nil.
func (c *MapCache) Current() *UndistortionMap {
	return c.cached
}

// Builds returns how many maps the cache has built.
func (c *MapCache) Builds() int {
	return c.builds
}

// Clear drops the cached map.
func (c *MapCache) Clear() {
	c.key = mapCacheKey{}
	c.cached = nil
}
