package calibrate

import (
	"image"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/camcal/rimage/transform"
)

// Synthetic board colors. Squares outside the board and rays that miss it are white.
const (
	syntheticBlack = 30
	syntheticWhite = 220
)

// RenderBoard draws the chessboard as seen by model from pose, including lens distortion. The board
// has (Width+1) x (Height+1) squares covering [-1, Width] x [-1, Height] square units, so its interior
// corners are exactly geometry.WorldPoints(). Each pixel averages a 2x2 supersampling grid.
func RenderBoard(model *transform.PinholeCameraModel, geometry BoardGeometry, pose Pose) (*image.Gray, error) {
	if err := model.CheckValid(); err != nil {
		return nil, err
	}
	if err := geometry.Validate(); err != nil {
		return nil, err
	}
	var inverse transform.Distorter
	if model.Distortion != nil {
		var err error
		if inverse, err = transform.NewInverseBrownConrady(model.Distortion.Parameters()); err != nil {
			return nil, err
		}
	}
	rot := transform.RotationMatrixFromVector(pose.Rotation)
	normal := transform.RotatePoint(rot, r3.Vector{Z: 1})
	planeDist := normal.Dot(pose.Translation)
	if planeDist == 0 {
		return nil, errors.New("camera lies on the board plane")
	}
	square := geometry.squareSize()
	minX, maxX := -square, float64(geometry.Width)*square
	minY, maxY := -square, float64(geometry.Height)*square

	sample := func(u, v float64) float64 {
		x, y := (u-model.Ppx)/model.Fx, (v-model.Ppy)/model.Fy
		if inverse != nil {
			x, y = inverse.Transform(x, y)
		}
		ray := r3.Vector{X: x, Y: y, Z: 1}
		denom := normal.Dot(ray)
		if denom == 0 {
			return syntheticWhite
		}
		s := planeDist / denom
		if s <= 0 {
			return syntheticWhite
		}
		// back to board coordinates: Rᵀ(p - t)
		d := ray.Mul(s).Sub(pose.Translation)
		bx := rot.At(0, 0)*d.X + rot.At(1, 0)*d.Y + rot.At(2, 0)*d.Z
		by := rot.At(0, 1)*d.X + rot.At(1, 1)*d.Y + rot.At(2, 1)*d.Z
		if bx < minX || bx >= maxX || by < minY || by >= maxY {
			return syntheticWhite
		}
		col := int(math.Floor(bx / square))
		row := int(math.Floor(by / square))
		if ((col+row)%2+2)%2 == 0 {
			return syntheticBlack
		}
		return syntheticWhite
	}

	img := image.NewGray(image.Rect(0, 0, model.Width, model.Height))
	offsets := []float64{-0.25, 0.25}
	for v := 0; v < model.Height; v++ {
		for u := 0; u < model.Width; u++ {
			sum := 0.
			for _, dy := range offsets {
				for _, dx := range offsets {
					sum += sample(float64(u)+dx, float64(v)+dy)
				}
			}
			img.Pix[v*img.Stride+u] = uint8(math.Round(sum / 4))
		}
	}
	return img, nil
}

// LookAtBoard returns a pose that puts the board center on the optical axis at the given distance
// after rotating it by rotation, then shifts it by offset in camera coordinates.
func LookAtBoard(geometry BoardGeometry, rotation r3.Vector, distance float64, offset r3.Vector) Pose {
	s := geometry.squareSize()
	center := r3.Vector{X: float64(geometry.Width-1) * s / 2, Y: float64(geometry.Height-1) * s / 2}
	rot := transform.RotationMatrixFromVector(rotation)
	t := r3.Vector{Z: distance}.Add(offset).Sub(transform.RotatePoint(rot, center))
	return Pose{Rotation: rotation, Translation: t}
}

// SyntheticPoses returns n varied board poses suitable for calibration: tilts of up to 0.3 rad about
// both image axes, small in-plane rotations, and offsets around the optical axis.
func SyntheticPoses(geometry BoardGeometry, n int, distance float64) []Pose {
	poses := make([]Pose, n)
	for i := range poses {
		a := 2 * math.Pi * float64(i) / float64(n)
		rotation := r3.Vector{
			X: 0.3 * math.Sin(a),
			Y: 0.3 * math.Cos(a),
			Z: 0.15 * math.Sin(2*a),
		}
		offset := r3.Vector{X: 0.6 * math.Cos(3*a), Y: 0.4 * math.Sin(3*a), Z: 1.5 * math.Sin(a+0.5)}
		poses[i] = LookAtBoard(geometry, rotation, distance, offset)
	}
	return poses
}
