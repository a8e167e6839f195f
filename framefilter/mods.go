package framefilter

import (
	"image"

	"github.com/pkg/errors"

	"go.viam.com/camcal/logging"
	"go.viam.com/camcal/rimage"
)

func init() {
	RegisterProcessor("threshold", newThresholdProcessor)
	RegisterProcessor("canny", newCannyProcessor)
}

// toGray converts a host frame to grayscale, mirroring it if asked to.
func toGray(frame image.Image, mirror bool) (*image.Gray, error) {
	gray, err := rimage.ToGray(frame)
	if err != nil {
		return nil, err
	}
	if mirror {
		return rimage.MirrorGray(gray), nil
	}
	return gray, nil
}

// thresholdConfig are the attributes for a threshold processor.
type thresholdConfig struct {
	Threshold int  `json:"threshold"`
	Mirror    bool `json:"mirror"`
}

type thresholdProcessor struct {
	threshold uint8
	mirror    bool
}

func newThresholdProcessor(am AttributeMap, logger logging.Logger) (FrameProcessor, error) {
	conf, err := TransformAttributeMap[*thresholdConfig](am)
	if err != nil {
		return nil, errors.Wrap(err, "cannot parse threshold attribute map")
	}
	if !am.Has("threshold") {
		conf.Threshold = 128
	}
	if conf.Threshold < 0 || conf.Threshold > 255 {
		return nil, errors.Errorf("threshold must be in [0, 255], got %d", conf.Threshold)
	}
	return &thresholdProcessor{uint8(conf.Threshold), conf.Mirror}, nil
}

// Process binarizes the frame: pixels brighter than the threshold become white.
func (tp *thresholdProcessor) Process(frame image.Image) Result {
	gray, err := toGray(frame, tp.mirror)
	if err != nil {
		return Result{Frame: frame, Err: err}
	}
	return Result{Frame: rimage.Threshold(gray, tp.threshold)}
}

// cannyConfig are the attributes for a canny processor. When only low is given, high is three
// times low.
type cannyConfig struct {
	Low       float64 `json:"low"`
	High      float64 `json:"high"`
	BlurSigma float64 `json:"blur_sigma"`
}

type cannyProcessor struct {
	detector  *rimage.CannyEdgeDetector
	blurSigma float64
}

func newCannyProcessor(am AttributeMap, logger logging.Logger) (FrameProcessor, error) {
	conf, err := TransformAttributeMap[*cannyConfig](am)
	if err != nil {
		return nil, errors.Wrap(err, "cannot parse canny attribute map")
	}
	if !am.Has("low") {
		conf.Low = 50
	}
	if !am.Has("high") {
		conf.High = 3 * conf.Low
	}
	if !am.Has("blur_sigma") {
		conf.BlurSigma = 1
	}
	detector, err := rimage.NewCannyEdgeDetector(conf.Low, conf.High)
	if err != nil {
		return nil, err
	}
	logger.Debugw("canny processor", "low", conf.Low, "high", conf.High, "blur_sigma", conf.BlurSigma)
	return &cannyProcessor{detector, conf.BlurSigma}, nil
}

// Process returns the binary edge image of the frame.
func (cp *cannyProcessor) Process(frame image.Image) Result {
	gray, err := toGray(frame, false)
	if err != nil {
		return Result{Frame: frame, Err: err}
	}
	edges, err := cp.detector.DetectEdges(gray, cp.blurSigma)
	if err != nil {
		return Result{Frame: frame, Err: err}
	}
	return Result{Frame: edges}
}
