package transform

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// RotationMatrixFromVector converts an axis-angle vector (unit axis scaled by the angle in radians)
// into a 3x3 rotation matrix.
func RotationMatrixFromVector(rv r3.Vector) *mat.Dense {
	return quatToMatrix(vectorToQuat(rv))
}

// RotationVectorFromMatrix is the inverse of RotationMatrixFromVector. The input must be a proper
// rotation matrix.
func RotationVectorFromMatrix(r mat.Matrix) (r3.Vector, error) {
	rows, cols := r.Dims()
	if rows != 3 || cols != 3 {
		return r3.Vector{}, errors.Errorf("rotation matrix must be 3x3, got %dx%d", rows, cols)
	}
	return quatToVector(matrixToQuat(r)), nil
}

// vectorToQuat returns the unit quaternion of an axis-angle vector.
func vectorToQuat(rv r3.Vector) quat.Number {
	theta := rv.Norm()
	// sin(theta/2)/theta tends to 1/2
	scale := 0.5
	if theta > 1e-12 {
		scale = math.Sin(theta/2) / theta
	}
	return quat.Number{Real: math.Cos(theta / 2), Imag: rv.X * scale, Jmag: rv.Y * scale, Kmag: rv.Z * scale}
}

// quatToVector returns the axis-angle vector of a unit quaternion, with the angle in [0, pi].
func quatToVector(q quat.Number) r3.Vector {
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	axis := r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	denom := axis.Norm()
	if denom < 1e-12 {
		return axis.Mul(2)
	}
	angle := 2 * math.Atan2(denom, q.Real)
	return axis.Mul(angle / denom)
}

func quatToMatrix(q quat.Number) *mat.Dense {
	q = quat.Scale(1/quat.Abs(q), q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}

// matrixToQuat picks the largest of w, x, y, z to divide by, which keeps the conversion stable
// near a half turn.
func matrixToQuat(r mat.Matrix) quat.Number {
	r00, r11, r22 := r.At(0, 0), r.At(1, 1), r.At(2, 2)
	var q quat.Number
	switch trace := r00 + r11 + r22; {
	case trace > 0:
		s := 2 * math.Sqrt(trace+1)
		q = quat.Number{
			Real: s / 4,
			Imag: (r.At(2, 1) - r.At(1, 2)) / s,
			Jmag: (r.At(0, 2) - r.At(2, 0)) / s,
			Kmag: (r.At(1, 0) - r.At(0, 1)) / s,
		}
	case r00 > r11 && r00 > r22:
		s := 2 * math.Sqrt(1+r00-r11-r22)
		q = quat.Number{
			Real: (r.At(2, 1) - r.At(1, 2)) / s,
			Imag: s / 4,
			Jmag: (r.At(0, 1) + r.At(1, 0)) / s,
			Kmag: (r.At(0, 2) + r.At(2, 0)) / s,
		}
	case r11 > r22:
		s := 2 * math.Sqrt(1+r11-r00-r22)
		q = quat.Number{
			Real: (r.At(0, 2) - r.At(2, 0)) / s,
			Imag: (r.At(0, 1) + r.At(1, 0)) / s,
			Jmag: s / 4,
			Kmag: (r.At(1, 2) + r.At(2, 1)) / s,
		}
	default:
		s := 2 * math.Sqrt(1+r22-r00-r11)
		q = quat.Number{
			Real: (r.At(1, 0) - r.At(0, 1)) / s,
			Imag: (r.At(0, 2) + r.At(2, 0)) / s,
			Jmag: (r.At(1, 2) + r.At(2, 1)) / s,
			Kmag: s / 4,
		}
	}
	return quat.Scale(1/quat.Abs(q), q)
}

// NearestRotation returns the rotation matrix closest in Frobenius norm to m, R = U Vᵀ with the
// sign of the last singular vector flipped if needed to keep det(R) = +1.
func NearestRotation(m mat.Matrix) (*mat.Dense, error) {
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDFull) {
		return nil, errors.New("failed to factorize rotation estimate")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	r := mat.NewDense(3, 3, nil)
	r.Mul(&u, v.T())
	if mat.Det(r) < 0 {
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		r.Mul(&u, v.T())
	}
	return r, nil
}

// RotatePoint applies the rotation matrix r to p.
func RotatePoint(r mat.Matrix, p r3.Vector) r3.Vector {
	return r3.Vector{
		X: r.At(0, 0)*p.X + r.At(0, 1)*p.Y + r.At(0, 2)*p.Z,
		Y: r.At(1, 0)*p.X + r.At(1, 1)*p.Y + r.At(1, 2)*p.Z,
		Z: r.At(2, 0)*p.X + r.At(2, 1)*p.Y + r.At(2, 2)*p.Z,
	}
}
