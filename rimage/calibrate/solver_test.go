package calibrate

import (
	"image"
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/camcal/rimage/transform"
)

// exactObservations projects the board through the test camera for n synthetic poses, optionally
// adding gaussian pixel noise.
func exactObservations(t *testing.T, n int, noise float64) (ObservationSet, []Pose) {
	t.Helper()
	model := testCamera(t)
	board := testBoard(t)
	poses := SyntheticPoses(board, n, 15)
	acc, err := NewAccumulator(board, n)
	test.That(t, err, test.ShouldBeNil)
	rng := rand.New(rand.NewSource(42))
	for _, pose := range poses {
		pts := ProjectBoard(model, board, pose)
		for i := range pts {
			pts[i] = pts[i].Add(r2.Point{X: rng.NormFloat64() * noise, Y: rng.NormFloat64() * noise})
		}
		test.That(t, acc.Accept(pts), test.ShouldBeTrue)
	}
	return acc.Observations(), poses
}

func TestSolveExact(t *testing.T) {
	obs, poses := exactObservations(t, 12, 0)
	result, err := Solve(obs, image.Point{320, 240}, DefaultSolverConfig())
	test.That(t, err, test.ShouldBeNil)

	test.That(t, result.RMS, test.ShouldBeLessThan, 1e-3)
	test.That(t, result.CameraMatrix[0][0], test.ShouldAlmostEqual, 300, 6)
	test.That(t, result.CameraMatrix[1][1], test.ShouldAlmostEqual, 300, 6)
	test.That(t, result.CameraMatrix[0][2], test.ShouldAlmostEqual, 160, 1)
	test.That(t, result.CameraMatrix[1][2], test.ShouldAlmostEqual, 120, 1)
	test.That(t, result.CameraMatrix[0][1], test.ShouldEqual, 0)
	test.That(t, result.CameraMatrix[1][0], test.ShouldEqual, 0)
	test.That(t, result.CameraMatrix[2], test.ShouldResemble, [3]float64{0, 0, 1})
	test.That(t, result.Distortion, test.ShouldHaveLength, 5)
	test.That(t, result.Distortion[0], test.ShouldAlmostEqual, -0.1, 0.01)
	test.That(t, result.ImageSize, test.ShouldResemble, image.Point{320, 240})
	test.That(t, result.Iterations, test.ShouldBeGreaterThan, 0)

	test.That(t, result.PerViewRMS, test.ShouldHaveLength, 12)
	test.That(t, result.Extrinsics, test.ShouldHaveLength, 12)
	for i, pose := range result.Extrinsics {
		test.That(t, pose.Translation.Sub(poses[i].Translation).Norm(), test.ShouldBeLessThan, 0.1)
		test.That(t, pose.Rotation.Sub(poses[i].Rotation).Norm(), test.ShouldBeLessThan, 0.01)
	}

	rms, err := ReprojectionRMS(result, obs)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rms, test.ShouldAlmostEqual, result.RMS, 1e-12)

	model, err := result.Model()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model.Width, test.ShouldEqual, 320)
	test.That(t, model.Distortion.Parameters(), test.ShouldResemble, result.Distortion)
}

func TestSolveNoisy(t *testing.T) {
	obs, _ := exactObservations(t, 15, 0.2)
	result, err := Solve(obs, image.Point{320, 240}, DefaultSolverConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.RMS, test.ShouldBeLessThan, 1)
	test.That(t, result.RMS, test.ShouldBeGreaterThan, 0)
	test.That(t, math.Abs(result.CameraMatrix[0][0]-300)/300, test.ShouldBeLessThan, 0.02)
	test.That(t, math.Abs(result.CameraMatrix[1][1]-300)/300, test.ShouldBeLessThan, 0.02)

	summary, err := result.ErrorStats()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary.Max, test.ShouldBeGreaterThanOrEqualTo, summary.P90)
	test.That(t, summary.P90, test.ShouldBeGreaterThanOrEqualTo, summary.Median)
	test.That(t, summary.Mean, test.ShouldBeLessThan, 1)
}

func TestSolveErrors(t *testing.T) {
	_, err := Solve(ObservationSet{Geometry: testBoard(t)}, image.Point{320, 240}, DefaultSolverConfig())
	test.That(t, errors.Is(err, ErrInsufficientData), test.ShouldBeTrue)

	obs, _ := exactObservations(t, 2, 0)
	_, err = Solve(obs, image.Point{}, DefaultSolverConfig())
	test.That(t, err, test.ShouldNotBeNil)

	_, err = Solve(obs, image.Point{320, 240}, SolverConfig{})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "max_iterations")
	test.That(t, err.Error(), test.ShouldContainSubstring, "tolerance")

	// every point of a view on top of each other cannot give a homography
	collapsed := obs
	collapsed.Observations = append([]Observation(nil), obs.Observations...)
	collapsed.Observations[0] = Observation{
		ImagePoints: make([]r2.Point, len(obs.Observations[0].WorldPoints)),
		WorldPoints: obs.Observations[0].WorldPoints,
	}
	_, err = Solve(collapsed, image.Point{320, 240}, DefaultSolverConfig())
	test.That(t, err, test.ShouldNotBeNil)

	_, err = ReprojectionRMS(&CalibrationResult{}, obs)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestInitPose(t *testing.T) {
	obs, poses := exactObservations(t, 4, 0)
	model := testCamera(t)
	for i, o := range obs.Observations {
		// without distortion the homography is exact
		undistorted, err := model.UndistortPoints(o.ImagePoints)
		test.That(t, err, test.ShouldBeNil)
		h, err := transform.EstimateHomography(planar(o.WorldPoints), undistorted)
		test.That(t, err, test.ShouldBeNil)
		pose, err := initPose(h, 300, 300, 160, 120)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cmp.Equal(pose, poses[i], cmpopts.EquateApprox(0, 1e-4)), test.ShouldBeTrue)
	}
}
