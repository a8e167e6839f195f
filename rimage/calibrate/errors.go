package calibrate

import (
	"fmt"
	"image"

	"github.com/pkg/errors"

	"go.viam.com/camcal/rimage/transform"
)

// ErrInsufficientData is returned when a solve is requested without any observations.
var ErrInsufficientData = errors.New("not enough observations to calibrate")

// InvalidGeometryError is returned when a board geometry has fewer than 2 corners along an axis.
type InvalidGeometryError struct {
	Width, Height int
}

func (e *InvalidGeometryError) Error() string {
	return fmt.Sprintf("invalid board geometry %dx%d: both dimensions must be at least 2", e.Width, e.Height)
}

// UnsupportedFrameFormatError is returned for frames that are not non-empty 8-bit grayscale images.
type UnsupportedFrameFormatError struct {
	Format string
	Bounds image.Rectangle
}

func (e *UnsupportedFrameFormatError) Error() string {
	return fmt.Sprintf("unsupported frame format %s with bounds %v, expected a non-empty 8-bit grayscale image",
		e.Format, e.Bounds)
}

// NewUnsupportedFrameFormatError describes why img cannot be processed.
func NewUnsupportedFrameFormatError(img image.Image) *UnsupportedFrameFormatError {
	if img == nil {
		return &UnsupportedFrameFormatError{Format: "<nil>"}
	}
	return &UnsupportedFrameFormatError{Format: fmt.Sprintf("%T", img), Bounds: img.Bounds()}
}

// MapBuildError is returned when the undistortion map cannot be built from a calibration result.
type MapBuildError = transform.MapBuildError
