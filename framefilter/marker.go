package framefilter

import (
	"fmt"
	"image"

	"github.com/fogleman/gg"
	"github.com/pkg/errors"

	"go.viam.com/camcal/logging"
	"go.viam.com/camcal/rimage"
)

func init() {
	RegisterProcessor("marker_detect", func(am AttributeMap, logger logging.Logger) (FrameProcessor, error) {
		return NewMarkerDetector(am, logger)
	})
}

// Square markers have a bounding box aspect ratio within [1/maxMarkerAspect, maxMarkerAspect] and
// cover at least minMarkerFill of it.
const (
	maxMarkerAspect = 1.3
	minMarkerFill   = 0.6
)

// markerConfig are the attributes for a marker_detect processor.
type markerConfig struct {
	Threshold int `json:"threshold"`
	MinArea   int `json:"min_area"`
}

// MarkerDetector finds dark, filled, roughly square markers on a light background and outlines
// them on the frame.
type MarkerDetector struct {
	threshold uint8
	minArea   int
	logger    logging.Logger
}

// NewMarkerDetector builds a marker detector from its attributes.
func NewMarkerDetector(am AttributeMap, logger logging.Logger) (*MarkerDetector, error) {
	conf, err := TransformAttributeMap[*markerConfig](am)
	if err != nil {
		return nil, errors.Wrap(err, "cannot parse marker_detect attribute map")
	}
	if !am.Has("threshold") {
		conf.Threshold = 128
	}
	if !am.Has("min_area") {
		conf.MinArea = 100
	}
	if conf.Threshold < 0 || conf.Threshold > 255 {
		return nil, errors.Errorf("threshold must be in [0, 255], got %d", conf.Threshold)
	}
	if conf.MinArea < 1 {
		return nil, errors.Errorf("min_area must be positive, got %d", conf.MinArea)
	}
	return &MarkerDetector{uint8(conf.Threshold), conf.MinArea, logger}, nil
}

// Detect returns the bounding boxes of the markers in img.
func (md *MarkerDetector) Detect(img *image.Gray) []image.Rectangle {
	binary := rimage.Threshold(img, md.threshold)
	full := image.Rect(0, 0, binary.Bounds().Dx(), binary.Bounds().Dy())
	var markers []image.Rectangle
	for _, blob := range rimage.FindBlobs(binary, 0) {
		if blob.Area < md.minArea || blob.Fill() < minMarkerFill {
			continue
		}
		// blobs cut by the frame border are not whole markers
		if blob.Bounds.Min.X == 0 || blob.Bounds.Min.Y == 0 ||
			blob.Bounds.Max.X == full.Max.X || blob.Bounds.Max.Y == full.Max.Y {
			continue
		}
		aspect := float64(blob.Bounds.Dx()) / float64(blob.Bounds.Dy())
		if aspect > maxMarkerAspect || aspect < 1/maxMarkerAspect {
			continue
		}
		markers = append(markers, blob.Bounds)
	}
	return markers
}

// Process outlines every marker of the frame.
func (md *MarkerDetector) Process(frame image.Image) Result {
	gray, err := toGray(frame, false)
	if err != nil {
		return Result{Frame: frame, Err: err}
	}
	markers := md.Detect(gray)
	md.logger.Debugw("markers detected", "count", len(markers))

	dc := gg.NewContextForImage(gray)
	for _, m := range markers {
		rimage.DrawRectangleEmpty(dc, m, rimage.Red, 2)
	}
	rimage.DrawString(dc, fmt.Sprintf("markers: %d", len(markers)), image.Point{4, 4}, rimage.Yellow, 12)
	return Result{Frame: dc.Image()}
}
