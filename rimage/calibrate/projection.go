package calibrate

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcal/rimage/transform"
)

// Pose is the rigid transform from board coordinates to camera coordinates of one view.
type Pose struct {
	// Rotation is an axis-angle (Rodrigues) vector.
	Rotation    r3.Vector `json:"rotation"`
	Translation r3.Vector `json:"translation"`
}

// intrinsicParams is the shared part of the parameter vector: fx, fy, cx, cy, k1, k2, p1, p2, k3.
const intrinsicParams = 9

// poseParams is the per-view part of the parameter vector: rotation vector then translation.
const poseParams = 6

// projectPoints projects board points through a pose and a camera with Brown-Conrady distortion.
// intr holds [fx, fy, cx, cy, k1, k2, p1, p2, k3]. dst must have len(world) elements.
func projectPoints(dst []r2.Point, intr []float64, rot mat.Matrix, t r3.Vector, world []r3.Vector) {
	dist := transform.BrownConrady{
		RadialK1:     intr[4],
		RadialK2:     intr[5],
		TangentialP1: intr[6],
		TangentialP2: intr[7],
		RadialK3:     intr[8],
	}
	for i, p := range world {
		pc := transform.RotatePoint(rot, p).Add(t)
		x, y := dist.Transform(pc.X/pc.Z, pc.Y/pc.Z)
		dst[i] = r2.Point{X: intr[0]*x + intr[2], Y: intr[1]*y + intr[3]}
	}
}

// ProjectBoard returns where the board's world points land in an image taken by model from pose.
// Points behind the camera come back as the zero point.
func ProjectBoard(model *transform.PinholeCameraModel, geometry BoardGeometry, pose Pose) []r2.Point {
	rot := transform.RotationMatrixFromVector(pose.Rotation)
	world := geometry.WorldPoints()
	out := make([]r2.Point, len(world))
	for i, p := range world {
		out[i], _ = model.ProjectPoint(transform.RotatePoint(rot, p).Add(pose.Translation))
	}
	return out
}
