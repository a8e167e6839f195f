package transform

// BrownConrady is the forward radial-tangential lens model. Parameters are ordered
// [k1, k2, p1, p2, k3], the order used by calibration results and artifacts.
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
	RadialK3     float64 `json:"rk3"`
}

// NewBrownConrady takes in a slice of floats that will be passed into the struct in order.
// Missing trailing values are 0.
func NewBrownConrady(inp []float64) (*BrownConrady, error) {
	params, err := padParameters(inp)
	if err != nil {
		return nil, err
	}
	return &BrownConrady{params[0], params[1], params[2], params[3], params[4]}, nil
}

// CheckValid checks if the fields for BrownConrady have valid inputs.
func (bc *BrownConrady) CheckValid() error {
	if bc == nil {
		return InvalidDistortionError("BrownConrady shaped distortion_parameters not provided")
	}
	return checkFinite(bc.Parameters())
}

// ModelType returns the type of distortion model.
func (bc *BrownConrady) ModelType() DistortionType {
	return BrownConradyDistortionType
}

// Parameters returns the parameters of the distortion model as a list of floats.
func (bc *BrownConrady) Parameters() []float64 {
	if bc == nil {
		return []float64{}
	}
	return []float64{bc.RadialK1, bc.RadialK2, bc.TangentialP1, bc.TangentialP2, bc.RadialK3}
}

// Transform distorts a normalized, undistorted point:
//
//	x_d = x_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p1*x_u*y_u + p2*(r² + 2*x_u²)
//	y_d = y_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p2*x_u*y_u + p1*(r² + 2*y_u²)
func (bc *BrownConrady) Transform(xu, yu float64) (float64, float64) {
	if bc == nil {
		return xu, yu
	}
	return distortBrownConrady(bc.RadialK1, bc.RadialK2, bc.TangentialP1, bc.TangentialP2, bc.RadialK3, xu, yu)
}

func distortBrownConrady(k1, k2, p1, p2, k3, xu, yu float64) (float64, float64) {
	r2 := xu*xu + yu*yu
	r4 := r2 * r2
	r6 := r4 * r2
	radDist := 1.0 + k1*r2 + k2*r4 + k3*r6
	xd := xu*radDist + 2.0*p1*xu*yu + p2*(r2+2.0*xu*xu)
	yd := yu*radDist + 2.0*p2*xu*yu + p1*(r2+2.0*yu*yu)
	return xd, yd
}

// brownConradyJacobian returns the partial derivatives of the distorted point with respect to the
// undistorted one: [dxd/dxu dxd/dyu; dyd/dxu dyd/dyu].
func brownConradyJacobian(k1, k2, p1, p2, k3, xu, yu float64) (float64, float64, float64, float64) {
	r2 := xu*xu + yu*yu
	radial := 1 + r2*(k1+r2*(k2+r2*k3))
	dRadialDr2 := k1 + r2*(2*k2+3*k3*r2)
	// d(radial)/dx = 2x * d(radial)/d(r²)
	gx, gy := 2*xu*dRadialDr2, 2*yu*dRadialDr2
	return radial + xu*gx + 2*p1*yu + 6*p2*xu,
		xu*gy + 2*p1*xu + 2*p2*yu,
		yu*gx + 2*p2*yu + 2*p1*xu,
		radial + yu*gy + 2*p2*xu + 6*p1*yu
}
