package transform

import (
	"image"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func gradientImage(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Pix[y*img.Stride+x] = uint8((x + 2*y) % 256)
		}
	}
	return img
}

func TestBuildUndistortionMapIdentity(t *testing.T) {
	model := &PinholeCameraModel{
		PinholeCameraIntrinsics: &PinholeCameraIntrinsics{Width: 40, Height: 30, Fx: 50, Fy: 50, Ppx: 20, Ppy: 15},
	}
	m, err := BuildUndistortionMap(model, image.Point{40, 30})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.MapX, test.ShouldHaveLength, 40*30)
	test.That(t, m.MapX[31], test.ShouldAlmostEqual, 31, 1e-4)
	test.That(t, m.MapY[40*7+3], test.ShouldAlmostEqual, 7, 1e-4)

	src := gradientImage(40, 30)
	before := append([]uint8(nil), src.Pix...)
	dst, err := m.Apply(src)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dst.Pix, test.ShouldResemble, src.Pix)
	test.That(t, src.Pix, test.ShouldResemble, before)
	test.That(t, &dst.Pix[0], test.ShouldNotEqual, &src.Pix[0])
}

func TestUndistortionMapDistorted(t *testing.T) {
	model := testModel(t)
	size := image.Point{320, 240}
	m, err := BuildUndistortionMap(model, size)
	test.That(t, err, test.ShouldBeNil)

	// the principal point does not move
	test.That(t, m.MapX[120*320+160], test.ShouldAlmostEqual, 160, 1e-4)
	test.That(t, m.MapY[120*320+160], test.ShouldAlmostEqual, 120, 1e-4)

	// barrel distortion pulls corner samples toward the center
	test.That(t, m.MapX[0], test.ShouldBeGreaterThan, 0)
	test.That(t, m.MapY[0], test.ShouldBeGreaterThan, 0)

	for _, p := range [][2]int{{10, 10}, {300, 50}, {200, 230}} {
		x, y := model.DistortionMap()(float64(p[0]), float64(p[1]))
		test.That(t, float64(m.MapX[p[1]*320+p[0]]), test.ShouldAlmostEqual, x, 1e-3)
		test.That(t, float64(m.MapY[p[1]*320+p[0]]), test.ShouldAlmostEqual, y, 1e-3)
	}

	// pincushion distortion samples outside the source near the corners, which become 0
	pincushion, err := NewBrownConrady([]float64{0.5})
	test.That(t, err, test.ShouldBeNil)
	outward := &PinholeCameraModel{PinholeCameraIntrinsics: model.PinholeCameraIntrinsics, Distortion: pincushion}
	m, err = BuildUndistortionMap(outward, size)
	test.That(t, err, test.ShouldBeNil)
	white := image.NewGray(image.Rect(0, 0, 320, 240))
	for i := range white.Pix {
		white.Pix[i] = 255
	}
	dst, err := m.Apply(white)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dst.GrayAt(0, 0).Y, test.ShouldEqual, 0)
	test.That(t, dst.GrayAt(160, 120).Y, test.ShouldEqual, 255)
}

func TestApplyInto(t *testing.T) {
	model := testModel(t)
	m, err := BuildUndistortionMap(model, image.Point{320, 240})
	test.That(t, err, test.ShouldBeNil)

	src := gradientImage(320, 240)
	err = m.ApplyInto(src, src)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "in place")

	// overlapping sub-images are rejected too
	big := gradientImage(640, 480)
	a := big.SubImage(image.Rect(0, 0, 320, 240)).(*image.Gray)
	b := big.SubImage(image.Rect(100, 100, 420, 340)).(*image.Gray)
	test.That(t, m.ApplyInto(a, b), test.ShouldNotBeNil)

	dst := image.NewGray(image.Rect(0, 0, 320, 240))
	test.That(t, m.ApplyInto(dst, src), test.ShouldBeNil)
	expected, err := m.Apply(src)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dst.Pix, test.ShouldResemble, expected.Pix)

	test.That(t, m.ApplyInto(image.NewGray(image.Rect(0, 0, 10, 10)), src), test.ShouldNotBeNil)
	_, err = m.Apply(gradientImage(100, 100))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestMapBuildError(t *testing.T) {
	size := image.Point{320, 240}
	_, err := BuildUndistortionMap(nil, size)
	var buildErr *MapBuildError
	test.That(t, errors.As(err, &buildErr), test.ShouldBeTrue)
	test.That(t, buildErr.Size, test.ShouldResemble, size)

	bad := &PinholeCameraModel{PinholeCameraIntrinsics: &PinholeCameraIntrinsics{Width: 320, Height: 240, Fx: 0, Fy: 300}}
	_, err = BuildUndistortionMap(bad, size)
	test.That(t, errors.As(err, &buildErr), test.ShouldBeTrue)
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)

	_, err = BuildUndistortionMap(testModel(t), image.Point{})
	test.That(t, errors.As(err, &buildErr), test.ShouldBeTrue)
}

func TestMapCache(t *testing.T) {
	model := testModel(t)
	var cache MapCache
	test.That(t, cache.Current(), test.ShouldBeNil)

	first, err := cache.Get(model, image.Point{320, 240})
	test.That(t, err, test.ShouldBeNil)
	second, err := cache.Get(model, image.Point{320, 240})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second, test.ShouldEqual, first)
	test.That(t, cache.Builds(), test.ShouldEqual, 1)

	// a different size rebuilds
	resized, err := cache.Get(model, image.Point{160, 120})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resized, test.ShouldNotEqual, first)
	test.That(t, resized.Size, test.ShouldResemble, image.Point{160, 120})

	// an equal but distinct model rebuilds
	other := *model
	rebuilt, err := cache.Get(&other, image.Point{160, 120})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rebuilt, test.ShouldNotEqual, resized)
	test.That(t, cache.Builds(), test.ShouldEqual, 3)

	// a failed build keeps the previous entry
	_, err = cache.Get(&PinholeCameraModel{}, image.Point{160, 120})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, cache.Current(), test.ShouldEqual, rebuilt)

	cache.Clear()
	test.That(t, cache.Current(), test.ShouldBeNil)
}
