package calibrate

import (
	"image"
	"math"
	"sync"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcal/rimage"
	"go.viam.com/camcal/rimage/transform"
)

// testCamera is the camera every synthetic frame in these tests is rendered with.
func testCamera(t *testing.T) *transform.PinholeCameraModel {
	t.Helper()
	bc, err := transform.NewBrownConrady([]float64{-0.1, 0.01})
	test.That(t, err, test.ShouldBeNil)
	return &transform.PinholeCameraModel{
		PinholeCameraIntrinsics: &transform.PinholeCameraIntrinsics{
			Width: 320, Height: 240, Fx: 300, Fy: 300, Ppx: 160, Ppy: 120,
		},
		Distortion: bc,
	}
}

func testBoard(t *testing.T) BoardGeometry {
	t.Helper()
	g, err := NewBoardGeometry(9, 6)
	test.That(t, err, test.ShouldBeNil)
	return g
}

const syntheticViews = 16

var (
	syntheticOnce   sync.Once
	syntheticFrames []*image.Gray
	syntheticPoses  []Pose
	syntheticErr    error
)

// testFrames renders syntheticViews distinct board views once per test binary.
func testFrames(t *testing.T) ([]*image.Gray, []Pose) {
	t.Helper()
	model := testCamera(t)
	board := testBoard(t)
	syntheticOnce.Do(func() {
		syntheticPoses = SyntheticPoses(board, syntheticViews, 15)
		for _, pose := range syntheticPoses {
			img, err := RenderBoard(model, board, pose)
			if err != nil {
				syntheticErr = err
				return
			}
			syntheticFrames = append(syntheticFrames, img)
		}
	})
	test.That(t, syntheticErr, test.ShouldBeNil)
	return syntheticFrames, syntheticPoses
}

// blankFrame returns a uniform gray frame of the test camera's size.
func blankFrame(value uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 320, 240))
	for i := range img.Pix {
		img.Pix[i] = value
	}
	return img
}

// matchRMS pairs every detected point with the nearest expected point and returns the RMS distance
// and the largest one. The detector may return any isometry of the board's lattice order, so the
// comparison does not rely on it.
func matchRMS(t *testing.T, detected, expected []r2.Point) (float64, float64) {
	t.Helper()
	test.That(t, detected, test.ShouldHaveLength, len(expected))
	used := make([]bool, len(expected))
	sq, worst := 0., 0.
	for _, d := range detected {
		best, bestDist := -1, math.Inf(1)
		for j, e := range expected {
			if dist := d.Sub(e).Norm(); !used[j] && dist < bestDist {
				best, bestDist = j, dist
			}
		}
		test.That(t, best, test.ShouldBeGreaterThanOrEqualTo, 0)
		used[best] = true
		sq += bestDist * bestDist
		worst = math.Max(worst, bestDist)
	}
	return math.Sqrt(sq / float64(len(detected))), worst
}

func grayFloat(img *image.Gray) *mat.Dense {
	return rimage.GrayToFloat(img)
}
