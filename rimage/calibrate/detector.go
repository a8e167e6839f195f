package calibrate

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/camcal/logging"
	"go.viam.com/camcal/rimage"
)

// DetectorConfig stores the parameters of the chessboard corner detector.
type DetectorConfig struct {
	// WindowHalfSize is the half side of the sub-pixel refinement window, in pixels.
	WindowHalfSize int `json:"window_half_size"`
	// MaxIterations and Epsilon bound the sub-pixel refinement: it stops after MaxIterations or once
	// a corner moves less than Epsilon pixels.
	MaxIterations int     `json:"max_iterations"`
	Epsilon       float64 `json:"epsilon"`
	// FastCheck rejects frames that cannot contain the board before the full-resolution search.
	FastCheck bool `json:"fast_check"`
	// RingRadius is the radius of the circle sampled to classify X-junctions.
	RingRadius float64 `json:"ring_radius"`
	// NMSRadius is the half size of the non-maximum suppression window on the saddle map.
	NMSRadius int `json:"nms_radius"`
	// MinScoreRatio is the saddle score, relative to the strongest one, below which pixels are ignored.
	MinScoreRatio float64 `json:"min_score_ratio"`
}

// DefaultDetectorConfig returns the configuration used when none is given.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		WindowHalfSize: 5,
		MaxIterations:  30,
		Epsilon:        0.1,
		FastCheck:      true,
		RingRadius:     4,
		NMSRadius:      3,
		MinScoreRatio:  0.05,
	}
}

// Validate checks that every parameter is in range.
func (cfg DetectorConfig) Validate() error {
	var err error
	if cfg.WindowHalfSize < 1 {
		err = multierr.Append(err, errors.Errorf("window_half_size must be at least 1, got %d", cfg.WindowHalfSize))
	}
	if cfg.MaxIterations < 1 {
		err = multierr.Append(err, errors.Errorf("max_iterations must be at least 1, got %d", cfg.MaxIterations))
	}
	if cfg.Epsilon <= 0 {
		err = multierr.Append(err, errors.Errorf("epsilon must be positive, got %v", cfg.Epsilon))
	}
	if cfg.RingRadius < 2 {
		err = multierr.Append(err, errors.Errorf("ring_radius must be at least 2, got %v", cfg.RingRadius))
	}
	if cfg.NMSRadius < 1 {
		err = multierr.Append(err, errors.Errorf("nms_radius must be at least 1, got %d", cfg.NMSRadius))
	}
	if cfg.MinScoreRatio < 0 || cfg.MinScoreRatio >= 1 {
		err = multierr.Append(err, errors.Errorf("min_score_ratio must be in [0, 1), got %v", cfg.MinScoreRatio))
	}
	return err
}

// Detection is a successful chessboard detection.
type Detection struct {
	// Corners are the refined interior corners in row-major order, one per board world point.
	Corners []r2.Point
	// Candidates is the number of X-junctions considered before the lattice was fitted.
	Candidates int
}

// Detector finds the interior corners of a chessboard in grayscale frames. It holds no per-frame
// state and may be shared.
type Detector struct {
	cfg    DetectorConfig
	logger logging.Logger
}

// NewDetector validates cfg and returns a Detector.
func NewDetector(cfg DetectorConfig, logger logging.Logger) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewBlankLogger("detector")
	}
	return &Detector{cfg: cfg, logger: logger}, nil
}

// Config returns the detector configuration.
func (d *Detector) Config() DetectorConfig {
	return d.cfg
}

// Detect looks for the full board in img. found is false when the board is absent or only partially
// visible; err is only set for invalid inputs.
func (d *Detector) Detect(img *image.Gray, geometry BoardGeometry) (*Detection, bool, error) {
	if err := geometry.Validate(); err != nil {
		return nil, false, err
	}
	if img == nil || img.Bounds().Empty() {
		return nil, false, NewUnsupportedFrameFormatError(img)
	}
	if d.cfg.FastCheck {
		ok, err := d.fastCheck(img, geometry)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			d.logger.Debug("fast check rejected frame")
			return nil, false, nil
		}
	}

	gray := rimage.GrayToFloat(img)
	candidates, err := findSaddleCandidates(gray, d.cfg)
	if err != nil {
		return nil, false, err
	}
	if len(candidates) < geometry.CornerCount() {
		d.logger.Debugw("not enough corner candidates", "candidates", len(candidates), "needed", geometry.CornerCount())
		return nil, false, nil
	}

	pts := make([]r2.Point, len(candidates))
	for i, c := range candidates {
		pts[i] = c.Point()
	}
	ordered, ok := orderLattice(growLattice(candidates), pts, geometry)
	if !ok {
		d.logger.Debugw("candidates do not form the board lattice", "candidates", len(candidates))
		return nil, false, nil
	}

	refined, err := refineCorners(gray, ordered, d.cfg)
	if err != nil {
		return nil, false, err
	}
	if len(refined) != geometry.CornerCount() {
		return nil, false, nil
	}
	return &Detection{Corners: refined, Candidates: len(candidates)}, true, nil
}

// fastCheck is a cheap test for the presence of a board: the frame needs some contrast, and a half
// resolution saddle map needs at least half as many maxima as the board has corners.
func (d *Detector) fastCheck(img *image.Gray, geometry BoardGeometry) (bool, error) {
	lo, hi := uint8(255), uint8(0)
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[(y-b.Min.Y)*img.Stride : (y-b.Min.Y)*img.Stride+b.Dx()]
		for _, v := range row {
			lo, hi = min(lo, v), max(hi, v)
		}
	}
	if float64(hi)-float64(lo) < minRingContrast {
		return false, nil
	}
	if b.Dx() < 16 || b.Dy() < 16 {
		return true, nil
	}
	small, err := rimage.ScaleGray(img, 0.5)
	if err != nil {
		return false, err
	}
	count, err := countSaddles(rimage.GrayToFloat(small), max(1, d.cfg.NMSRadius/2), d.cfg.MinScoreRatio)
	if err != nil {
		return false, err
	}
	return count >= int(math.Ceil(float64(geometry.CornerCount())/2)), nil
}

// DetectCorners runs a detector with the default configuration.
func DetectCorners(img *image.Gray, geometry BoardGeometry) ([]r2.Point, bool, error) {
	d, err := NewDetector(DefaultDetectorConfig(), nil)
	if err != nil {
		return nil, false, err
	}
	det, found, err := d.Detect(img, geometry)
	if err != nil || !found {
		return nil, found, err
	}
	return det.Corners, true, nil
}
