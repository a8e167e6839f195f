package calibrate

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcal/rimage/transform"
)

// SolverConfig stores the Levenberg-Marquardt termination parameters.
type SolverConfig struct {
	MaxIterations int     `json:"max_iterations"`
	Tolerance     float64 `json:"tolerance"`
}

// DefaultSolverConfig returns the configuration used when none is given.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{MaxIterations: 100, Tolerance: 1e-10}
}

// Validate checks that every parameter is in range.
func (cfg SolverConfig) Validate() error {
	var err error
	if cfg.MaxIterations < 1 {
		err = multierr.Append(err, errors.Errorf("solver max_iterations must be at least 1, got %d", cfg.MaxIterations))
	}
	if cfg.Tolerance <= 0 {
		err = multierr.Append(err, errors.Errorf("solver tolerance must be positive, got %v", cfg.Tolerance))
	}
	return err
}

// CalibrationResult is the outcome of a calibration.
type CalibrationResult struct {
	// CameraMatrix is row-major [fx 0 cx; 0 fy cy; 0 0 1].
	CameraMatrix [3][3]float64
	// Distortion is [k1, k2, p1, p2, k3].
	Distortion []float64
	// RMS is the root mean square reprojection error over all points, in pixels.
	RMS        float64
	PerViewRMS []float64
	Extrinsics []Pose
	ImageSize  image.Point
	Iterations int
}

// Model returns the camera model described by the result.
func (r *CalibrationResult) Model() (*transform.PinholeCameraModel, error) {
	intrinsics := transform.NewPinholeCameraIntrinsicsFromMatrix(r.CameraMatrix, r.ImageSize.X, r.ImageSize.Y)
	distortion, err := transform.NewBrownConrady(r.Distortion)
	if err != nil {
		return nil, err
	}
	model := &transform.PinholeCameraModel{PinholeCameraIntrinsics: intrinsics, Distortion: distortion}
	if err := model.CheckValid(); err != nil {
		return nil, err
	}
	return model, nil
}

// ViewErrorStats summarizes the per-view reprojection errors.
type ViewErrorStats struct {
	Mean   float64
	Median float64
	P90    float64
	Max    float64
}

// ErrorStats summarizes PerViewRMS.
func (r *CalibrationResult) ErrorStats() (ViewErrorStats, error) {
	data := stats.Float64Data(r.PerViewRMS)
	mean, err := data.Mean()
	if err != nil {
		return ViewErrorStats{}, err
	}
	median, err := data.Median()
	if err != nil {
		return ViewErrorStats{}, err
	}
	p90, err := data.Percentile(90)
	if err != nil {
		return ViewErrorStats{}, err
	}
	maxErr, err := data.Max()
	if err != nil {
		return ViewErrorStats{}, err
	}
	return ViewErrorStats{Mean: mean, Median: median, P90: p90, Max: maxErr}, nil
}

// Solve jointly estimates the camera intrinsics, the distortion coefficients and one pose per view
// from a set of planar board observations. It returns ErrInsufficientData for an empty set.
func Solve(obs ObservationSet, imageSize image.Point, cfg SolverConfig) (*CalibrationResult, error) {
	if obs.Len() == 0 {
		return nil, ErrInsufficientData
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if imageSize.X <= 0 || imageSize.Y <= 0 {
		return nil, errors.Errorf("invalid image size %v", imageSize)
	}
	for i, o := range obs.Observations {
		if len(o.ImagePoints) != len(o.WorldPoints) || len(o.ImagePoints) < 4 {
			return nil, errors.Errorf("view %d has %d image points for %d world points", i, len(o.ImagePoints), len(o.WorldPoints))
		}
	}

	homographies := make([]*transform.Homography, obs.Len())
	for i, o := range obs.Observations {
		h, err := transform.EstimateHomography(planar(o.WorldPoints), o.ImagePoints)
		if err != nil {
			return nil, errors.Wrapf(err, "view %d", i)
		}
		homographies[i] = h
	}
	fx, fy, cx, cy := initIntrinsics(homographies, imageSize)

	params := make([]float64, intrinsicParams+poseParams*obs.Len())
	params[0], params[1], params[2], params[3] = fx, fy, cx, cy
	for i, h := range homographies {
		pose, err := initPose(h, fx, fy, cx, cy)
		if err != nil {
			return nil, errors.Wrapf(err, "view %d", i)
		}
		off := intrinsicParams + poseParams*i
		params[off], params[off+1], params[off+2] = pose.Rotation.X, pose.Rotation.Y, pose.Rotation.Z
		params[off+3], params[off+4], params[off+5] = pose.Translation.X, pose.Translation.Y, pose.Translation.Z
	}

	p := &problem{obs: obs}
	iterations := p.levenbergMarquardt(params, cfg)

	for _, v := range params {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.New("calibration diverged to a non-finite solution")
		}
	}
	if params[0] <= 0 || params[1] <= 0 {
		return nil, errors.Errorf("calibration produced invalid focal lengths fx=%v fy=%v", params[0], params[1])
	}

	result := &CalibrationResult{
		CameraMatrix: [3][3]float64{{params[0], 0, params[2]}, {0, params[1], params[3]}, {0, 0, 1}},
		Distortion:   append([]float64(nil), params[4:intrinsicParams]...),
		ImageSize:    imageSize,
		Iterations:   iterations,
		Extrinsics:   make([]Pose, obs.Len()),
	}
	for i := range obs.Observations {
		off := intrinsicParams + poseParams*i
		result.Extrinsics[i] = Pose{
			Rotation:    r3.Vector{X: params[off], Y: params[off+1], Z: params[off+2]},
			Translation: r3.Vector{X: params[off+3], Y: params[off+4], Z: params[off+5]},
		}
	}
	rms, perView, err := reprojectionErrors(result, obs)
	if err != nil {
		return nil, err
	}
	result.RMS, result.PerViewRMS = rms, perView
	return result, nil
}

// ReprojectionRMS recomputes the root mean square reprojection error of result over obs.
func ReprojectionRMS(result *CalibrationResult, obs ObservationSet) (float64, error) {
	rms, _, err := reprojectionErrors(result, obs)
	return rms, err
}

func reprojectionErrors(result *CalibrationResult, obs ObservationSet) (float64, []float64, error) {
	if len(result.Extrinsics) != obs.Len() {
		return 0, nil, errors.Errorf("result has %d poses for %d views", len(result.Extrinsics), obs.Len())
	}
	if obs.PointCount() == 0 {
		return 0, nil, ErrInsufficientData
	}
	intr := []float64{
		result.CameraMatrix[0][0], result.CameraMatrix[1][1], result.CameraMatrix[0][2], result.CameraMatrix[1][2],
		0, 0, 0, 0, 0,
	}
	copy(intr[4:], result.Distortion)
	total := 0.
	perView := make([]float64, obs.Len())
	for i, o := range obs.Observations {
		pose := result.Extrinsics[i]
		projected := make([]r2.Point, len(o.WorldPoints))
		projectPoints(projected, intr, transform.RotationMatrixFromVector(pose.Rotation), pose.Translation, o.WorldPoints)
		sq := 0.
		for j, pt := range projected {
			d := pt.Sub(o.ImagePoints[j])
			sq += d.Dot(d)
		}
		total += sq
		perView[i] = math.Sqrt(sq / float64(len(projected)))
	}
	return math.Sqrt(total / float64(obs.PointCount())), perView, nil
}

func planar(world []r3.Vector) []r2.Point {
	out := make([]r2.Point, len(world))
	for i, p := range world {
		out[i] = r2.Point{X: p.X, Y: p.Y}
	}
	return out
}

// initIntrinsics estimates the focal lengths from the homographies with the principal point fixed at
// the image center. Each view gives two linear constraints on (1/fx², 1/fy²) from the orthogonality
// and equal norm of the first two rotation columns.
func initIntrinsics(homographies []*transform.Homography, size image.Point) (float64, float64, float64, float64) {
	cx := float64(size.X-1) / 2
	cy := float64(size.Y-1) / 2
	a := mat.NewDense(2*len(homographies), 2, nil)
	b := mat.NewVecDense(2*len(homographies), nil)
	for i, hom := range homographies {
		var h, v, d1, d2 [3]float64
		col0, col1 := hom.Column(0), hom.Column(1)
		// move the principal point to the origin
		col0[0] -= cx * col0[2]
		col0[1] -= cy * col0[2]
		col1[0] -= cx * col1[2]
		col1[1] -= cy * col1[2]
		for j := 0; j < 3; j++ {
			h[j], v[j] = col0[j], col1[j]
			d1[j] = (col0[j] + col1[j]) / 2
			d2[j] = (col0[j] - col1[j]) / 2
		}
		for _, vec := range []*[3]float64{&h, &v, &d1, &d2} {
			floats.Scale(1/floats.Norm(vec[:], 2), vec[:])
		}
		a.Set(2*i, 0, h[0]*v[0])
		a.Set(2*i, 1, h[1]*v[1])
		b.SetVec(2*i, -h[2]*v[2])
		a.Set(2*i+1, 0, d1[0]*d2[0])
		a.Set(2*i+1, 1, d1[1]*d2[1])
		b.SetVec(2*i+1, -d1[2]*d2[2])
	}
	fallback := float64(max(size.X, size.Y))
	var f mat.VecDense
	if err := f.SolveVec(a, b); err != nil {
		return fallback, fallback, cx, cy
	}
	fx := math.Sqrt(math.Abs(1 / f.AtVec(0)))
	fy := math.Sqrt(math.Abs(1 / f.AtVec(1)))
	if math.IsNaN(fx) || math.IsInf(fx, 0) || fx == 0 || math.IsNaN(fy) || math.IsInf(fy, 0) || fy == 0 {
		return fallback, fallback, cx, cy
	}
	return fx, fy, cx, cy
}

// initPose recovers a board pose from its homography: K⁻¹H = λ[r1 r2 t], with the rotation
// orthonormalized and the board in front of the camera.
func initPose(h *transform.Homography, fx, fy, cx, cy float64) (Pose, error) {
	m := [3][3]float64{}
	for c := 0; c < 3; c++ {
		col := h.Column(c)
		m[2][c] = col[2]
		m[1][c] = (col[1] - cy*col[2]) / fy
		m[0][c] = (col[0] - cx*col[2]) / fx
	}
	n0 := math.Sqrt(m[0][0]*m[0][0] + m[1][0]*m[1][0] + m[2][0]*m[2][0])
	n1 := math.Sqrt(m[0][1]*m[0][1] + m[1][1]*m[1][1] + m[2][1]*m[2][1])
	if n0+n1 < 1e-12 {
		return Pose{}, errors.New("degenerate homography")
	}
	lambda := 2 / (n0 + n1)
	if m[2][2]*lambda < 0 {
		lambda = -lambda
	}
	r1 := r3.Vector{X: m[0][0], Y: m[1][0], Z: m[2][0]}.Mul(lambda)
	r2v := r3.Vector{X: m[0][1], Y: m[1][1], Z: m[2][1]}.Mul(lambda)
	r3v := r1.Cross(r2v)
	t := r3.Vector{X: m[0][2], Y: m[1][2], Z: m[2][2]}.Mul(lambda)
	rot, err := transform.NearestRotation(mat.NewDense(3, 3, []float64{
		r1.X, r2v.X, r3v.X,
		r1.Y, r2v.Y, r3v.Y,
		r1.Z, r2v.Z, r3v.Z,
	}))
	if err != nil {
		return Pose{}, err
	}
	rv, err := transform.RotationVectorFromMatrix(rot)
	if err != nil {
		return Pose{}, err
	}
	return Pose{Rotation: rv, Translation: t}, nil
}

// problem is the joint reprojection least squares problem.
type problem struct {
	obs ObservationSet
}

// viewResiduals writes the 2*n reprojection residuals of view i for the given intrinsics and pose.
func (p *problem) viewResiduals(dst, intr, pose []float64, i int, scratch []r2.Point) {
	o := p.obs.Observations[i]
	rot := transform.RotationMatrixFromVector(r3.Vector{X: pose[0], Y: pose[1], Z: pose[2]})
	projectPoints(scratch, intr, rot, r3.Vector{X: pose[3], Y: pose[4], Z: pose[5]}, o.WorldPoints)
	for j, pt := range scratch {
		dst[2*j] = pt.X - o.ImagePoints[j].X
		dst[2*j+1] = pt.Y - o.ImagePoints[j].Y
	}
}

func (p *problem) residuals(dst, params []float64) {
	row := 0
	for i, o := range p.obs.Observations {
		n := len(o.WorldPoints)
		off := intrinsicParams + poseParams*i
		p.viewResiduals(dst[row:row+2*n], params[:intrinsicParams], params[off:off+poseParams], i, make([]r2.Point, n))
		row += 2 * n
	}
}

// jacobian fills jac with the derivative of the residuals. Each view only depends on the shared
// intrinsics and its own pose, so it is differentiated separately.
func (p *problem) jacobian(jac *mat.Dense, params []float64) {
	jac.Zero()
	row := 0
	for i, o := range p.obs.Observations {
		n := len(o.WorldPoints)
		off := intrinsicParams + poseParams*i
		local := make([]float64, intrinsicParams+poseParams)
		copy(local, params[:intrinsicParams])
		copy(local[intrinsicParams:], params[off:off+poseParams])
		scratch := make([]r2.Point, n)
		block := mat.NewDense(2*n, intrinsicParams+poseParams, nil)
		fd.Jacobian(block, func(y, x []float64) {
			p.viewResiduals(y, x[:intrinsicParams], x[intrinsicParams:], i, scratch)
		}, local, &fd.JacobianSettings{Formula: fd.Central})
		for r := 0; r < 2*n; r++ {
			for c := 0; c < intrinsicParams; c++ {
				jac.Set(row+r, c, block.At(r, c))
			}
			for c := 0; c < poseParams; c++ {
				jac.Set(row+r, off+c, block.At(r, intrinsicParams+c))
			}
		}
		row += 2 * n
	}
}

// maxDamping stops the search when no step along the damped gradient reduces the cost.
const maxDamping = 1e16

// levenbergMarquardt minimizes the squared residuals in place and returns the number of iterations.
// The damping is scaled by the diagonal of JᵀJ so that parameters of very different magnitudes
// (focal lengths, distortion coefficients, rotations) are treated alike.
func (p *problem) levenbergMarquardt(params []float64, cfg SolverConfig) int {
	nParams := len(params)
	nRes := 2 * p.obs.PointCount()
	res := make([]float64, nRes)
	trialRes := make([]float64, nRes)
	trial := make([]float64, nParams)
	jac := mat.NewDense(nRes, nParams, nil)

	p.residuals(res, params)
	cost := floats.Dot(res, res)
	lambda := 1e-3
	iter := 0
	for ; iter < cfg.MaxIterations; iter++ {
		if cost < 1e-24 {
			break
		}
		p.jacobian(jac, params)
		var jtj mat.SymDense
		jtj.SymOuterK(1, jac.T())
		var g mat.VecDense
		g.MulVec(jac.T(), mat.NewVecDense(nRes, res))

		for {
			delta, ok := dampedStep(&jtj, &g, lambda)
			if ok {
				for k := range trial {
					trial[k] = params[k] - delta.AtVec(k)
				}
				p.residuals(trialRes, trial)
				if trialCost := floats.Dot(trialRes, trialRes); trialCost < cost {
					stepNorm := floats.Norm(delta.RawVector().Data, 2)
					paramNorm := floats.Norm(params, 2)
					relReduction := (cost - trialCost) / cost
					copy(params, trial)
					copy(res, trialRes)
					cost = trialCost
					lambda = math.Max(lambda/10, 1e-15)
					if relReduction < cfg.Tolerance || stepNorm < cfg.Tolerance*(paramNorm+cfg.Tolerance) {
						return iter + 1
					}
					break
				}
			}
			lambda *= 10
			if lambda > maxDamping {
				return iter
			}
		}
	}
	return iter
}

// dampedStep solves (JᵀJ + λ diag(JᵀJ)) δ = Jᵀr, with Cholesky and an LU fallback.
func dampedStep(jtj *mat.SymDense, g *mat.VecDense, lambda float64) (*mat.VecDense, bool) {
	n := jtj.SymmetricDim()
	damped := mat.NewSymDense(n, nil)
	damped.CopySym(jtj)
	for k := 0; k < n; k++ {
		d := jtj.At(k, k)
		damped.SetSym(k, k, d+lambda*math.Max(d, 1e-12))
	}
	var delta mat.VecDense
	var chol mat.Cholesky
	if chol.Factorize(damped) {
		if err := chol.SolveVecTo(&delta, g); err == nil {
			return &delta, true
		}
	}
	if err := delta.SolveVec(damped, g); err != nil {
		return nil, false
	}
	for _, v := range delta.RawVector().Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
	}
	return &delta, true
}
