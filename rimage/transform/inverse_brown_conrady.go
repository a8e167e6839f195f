package transform

import "math"

// InverseBrownConrady applies the inverse of the Brown-Conrady distortion model.
// Given distorted points, it computes the corresponding undistorted points using
// an iterative Newton-Raphson method. Parameters use the same [k1, k2, p1, p2, k3]
// order as BrownConrady.
type InverseBrownConrady struct {
	BrownConrady
}

// NewInverseBrownConrady takes in a slice of floats that will be passed into the struct in order.
func NewInverseBrownConrady(inp []float64) (*InverseBrownConrady, error) {
	bc, err := NewBrownConrady(inp)
	if err != nil {
		return nil, err
	}
	return &InverseBrownConrady{*bc}, nil
}

// CheckValid checks if the fields for InverseBrownConrady have valid inputs.
func (ibc *InverseBrownConrady) CheckValid() error {
	if ibc == nil {
		return InvalidDistortionError("InverseBrownConrady shaped distortion_parameters not provided")
	}
	return checkFinite(ibc.Parameters())
}

// ModelType returns the type of distortion model.
func (ibc *InverseBrownConrady) ModelType() DistortionType {
	return InverseBrownConradyDistortionType
}

// Parameters returns the parameters of the distortion model as a list of floats.
func (ibc *InverseBrownConrady) Parameters() []float64 {
	if ibc == nil {
		return []float64{}
	}
	return ibc.BrownConrady.Parameters()
}

// Newton iteration limits for InverseBrownConrady.Transform.
const (
	inverseMaxIterations = 20
	inverseTolerance     = 1e-10
)

// Transform finds the undistorted (x_u, y_u) whose forward distortion is (x_d, y_d), starting
// Newton's method from the distorted point. It gives up on a singular Jacobian and returns the
// last estimate.
func (ibc *InverseBrownConrady) Transform(xd, yd float64) (float64, float64) {
	if ibc == nil {
		return xd, yd
	}
	k1, k2, p1, p2, k3 := ibc.RadialK1, ibc.RadialK2, ibc.TangentialP1, ibc.TangentialP2, ibc.RadialK3
	xu, yu := xd, yd
	for iter := 0; iter < inverseMaxIterations; iter++ {
		fx, fy := distortBrownConrady(k1, k2, p1, p2, k3, xu, yu)
		ex, ey := fx-xd, fy-yd
		if math.Hypot(ex, ey) < inverseTolerance {
			break
		}
		a, b, c, d := brownConradyJacobian(k1, k2, p1, p2, k3, xu, yu)
		det := a*d - b*c
		if det == 0 {
			break
		}
		xu -= (d*ex - b*ey) / det
		yu -= (a*ey - c*ex) / det
	}
	return xu, yu
}
