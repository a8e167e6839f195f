package framefilter

import (
	"image"

	"github.com/pkg/errors"

	"go.viam.com/camcal/logging"
	"go.viam.com/camcal/rimage/calibrate"
)

func init() {
	RegisterProcessor("calibration", func(am AttributeMap, logger logging.Logger) (FrameProcessor, error) {
		return NewCalibrationProcessor(am, logger)
	})
}

// calibrationConfig are the attributes for a calibration processor.
type calibrationConfig struct {
	BoardWidth        int     `json:"board_width"`
	BoardHeight       int     `json:"board_height"`
	SquareSize        float64 `json:"square_size"`
	TargetSampleCount int     `json:"target_sample_count"`
	FastCheck         *bool   `json:"fast_check"`
	Mirror            bool    `json:"mirror"`
	ArtifactPath      string  `json:"artifact_path"`
}

// CalibrationProcessor feeds frames to its own calibration session. Until the camera is solved it
// passes frames through; afterwards it returns them undistorted.
type CalibrationProcessor struct {
	session *calibrate.Session
	mirror  bool
	last    calibrate.FrameResult
}

// NewCalibrationProcessor builds a processor with a new session. Session options such as a
// notifier may be added with opts.
func NewCalibrationProcessor(am AttributeMap, logger logging.Logger, opts ...calibrate.Option) (*CalibrationProcessor, error) {
	conf, err := TransformAttributeMap[*calibrationConfig](am)
	if err != nil {
		return nil, errors.Wrap(err, "cannot parse calibration attribute map")
	}
	board, err := calibrate.NewBoardGeometry(conf.BoardWidth, conf.BoardHeight)
	if err != nil {
		return nil, err
	}
	board.SquareSize = conf.SquareSize
	cfg := calibrate.DefaultSessionConfig(board)
	if am.Has("target_sample_count") {
		cfg.TargetSampleCount = conf.TargetSampleCount
	}
	if conf.FastCheck != nil {
		cfg.Detector.FastCheck = *conf.FastCheck
	}
	sessionOpts := []calibrate.Option{calibrate.WithLogger(logger)}
	if conf.ArtifactPath != "" {
		sessionOpts = append(sessionOpts, calibrate.WithArtifactSink(calibrate.JSONFileSink{Path: conf.ArtifactPath}))
	}
	session, err := calibrate.NewSession(cfg, append(sessionOpts, opts...)...)
	if err != nil {
		return nil, err
	}
	return &CalibrationProcessor{session: session, mirror: conf.Mirror}, nil
}

// Session returns the processor's calibration session.
func (cp *CalibrationProcessor) Session() *calibrate.Session {
	return cp.session
}

// LastResult returns the session result of the last processed frame.
func (cp *CalibrationProcessor) LastResult() calibrate.FrameResult {
	return cp.last
}

// Process converts the frame to grayscale and hands it to the session.
func (cp *CalibrationProcessor) Process(frame image.Image) Result {
	gray, err := toGray(frame, cp.mirror)
	if err != nil {
		// let the session see and count the unusable frame
		cp.last = cp.session.Process(frame)
		return Result{Frame: frame, Err: cp.last.Err}
	}
	cp.last = cp.session.Process(gray)
	if cp.last.Frame == nil {
		return Result{Frame: gray, Err: cp.last.Err}
	}
	return Result{Frame: cp.last.Frame, Err: cp.last.Err}
}
