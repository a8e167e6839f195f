package calibrate

import (
	"encoding/json"
	"image"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/camcal/rimage/transform"
)

// Artifact is the persisted form of a calibration.
type Artifact struct {
	CameraMatrix           [3][3]float64 `json:"CameraMatrix"`
	DistortionCoefficients []float64     `json:"DistortionCoefficients"`
	AvgReprojectionError   float64       `json:"AvgReprojectionError"`
	ImageWidth             int           `json:"ImageWidth"`
	ImageHeight            int           `json:"ImageHeight"`
	BoardWidth             int           `json:"BoardWidth"`
	BoardHeight            int           `json:"BoardHeight"`
	SessionID              string        `json:"SessionID,omitempty"`
	CalibratedAt           time.Time     `json:"CalibratedAt"`
}

// NewArtifact describes result for persistence.
func NewArtifact(result *CalibrationResult, geometry BoardGeometry, sessionID string, at time.Time) Artifact {
	return Artifact{
		CameraMatrix:           result.CameraMatrix,
		DistortionCoefficients: append([]float64(nil), result.Distortion...),
		AvgReprojectionError:   result.RMS,
		ImageWidth:             result.ImageSize.X,
		ImageHeight:            result.ImageSize.Y,
		BoardWidth:             geometry.Width,
		BoardHeight:            geometry.Height,
		SessionID:              sessionID,
		CalibratedAt:           at.UTC(),
	}
}

// Model returns the camera model stored in the artifact.
func (a Artifact) Model() (*transform.PinholeCameraModel, error) {
	result := &CalibrationResult{
		CameraMatrix: a.CameraMatrix,
		Distortion:   a.DistortionCoefficients,
		ImageSize:    image.Point{a.ImageWidth, a.ImageHeight},
	}
	return result.Model()
}

// ArtifactSink receives the artifact of a session once its calibration is solved.
type ArtifactSink interface {
	WriteArtifact(a Artifact) error
}

// ArtifactSinkFunc adapts a function to an ArtifactSink.
type ArtifactSinkFunc func(a Artifact) error

// WriteArtifact calls f.
func (f ArtifactSinkFunc) WriteArtifact(a Artifact) error {
	return f(a)
}

// JSONFileSink writes artifacts as indented JSON to Path.
type JSONFileSink struct {
	Path string
}

// WriteArtifact writes a to the sink's file, replacing any previous content.
func (s JSONFileSink) WriteArtifact(a Artifact) error {
	b, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.Path, b, 0o600); err != nil {
		return errors.Wrapf(err, "cannot write calibration artifact to %q", s.Path)
	}
	return nil
}

// ReadArtifactFile reads an artifact written by JSONFileSink.
func ReadArtifactFile(path string) (Artifact, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return Artifact{}, errors.Wrap(err, "error opening artifact file")
	}
	defer utils.UncheckedErrorFunc(f.Close)
	b, err := io.ReadAll(f)
	if err != nil {
		return Artifact{}, errors.Wrap(err, "error reading artifact file")
	}
	var a Artifact
	if err := json.Unmarshal(b, &a); err != nil {
		return Artifact{}, errors.Wrap(err, "error parsing artifact")
	}
	return a, nil
}
