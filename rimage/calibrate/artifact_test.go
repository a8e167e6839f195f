package calibrate

import (
	"encoding/json"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"
)

func testResult() *CalibrationResult {
	return &CalibrationResult{
		CameraMatrix: [3][3]float64{{301.5, 0, 159.2}, {0, 299.8, 121.1}, {0, 0, 1}},
		Distortion:   []float64{-0.1, 0.01, 0.001, -0.002, 0},
		RMS:          0.12,
		ImageSize:    image.Point{320, 240},
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	artifact := NewArtifact(testResult(), testBoard(t), "abc", at)
	test.That(t, artifact.BoardWidth, test.ShouldEqual, 9)
	test.That(t, artifact.ImageHeight, test.ShouldEqual, 240)

	path := filepath.Join(t.TempDir(), "calibration.json")
	test.That(t, JSONFileSink{Path: path}.WriteArtifact(artifact), test.ShouldBeNil)

	read, err := ReadArtifactFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, read.CameraMatrix, test.ShouldResemble, artifact.CameraMatrix)
	test.That(t, read.DistortionCoefficients, test.ShouldResemble, artifact.DistortionCoefficients)
	test.That(t, read.AvgReprojectionError, test.ShouldEqual, 0.12)
	test.That(t, read.SessionID, test.ShouldEqual, "abc")
	test.That(t, read.CalibratedAt.Equal(at), test.ShouldBeTrue)

	//nolint:gosec
	raw, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	fields := map[string]any{}
	test.That(t, json.Unmarshal(raw, &fields), test.ShouldBeNil)
	for _, key := range []string{"CameraMatrix", "DistortionCoefficients", "AvgReprojectionError"} {
		test.That(t, fields, test.ShouldContainKey, key)
	}
	test.That(t, fields["CameraMatrix"], test.ShouldHaveLength, 3)

	model, err := read.Model()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model.Fx, test.ShouldEqual, 301.5)
	test.That(t, model.Ppy, test.ShouldEqual, 121.1)
	test.That(t, model.Width, test.ShouldEqual, 320)
	test.That(t, model.Distortion.Parameters(), test.ShouldResemble, artifact.DistortionCoefficients)
}

func TestArtifactErrors(t *testing.T) {
	_, err := ReadArtifactFile(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)

	path := filepath.Join(t.TempDir(), "bad.json")
	test.That(t, os.WriteFile(path, []byte("{"), 0o600), test.ShouldBeNil)
	_, err = ReadArtifactFile(path)
	test.That(t, err, test.ShouldNotBeNil)

	err = JSONFileSink{Path: filepath.Join(t.TempDir(), "no", "such", "dir.json")}.WriteArtifact(Artifact{})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = Artifact{}.Model()
	test.That(t, err, test.ShouldNotBeNil)
}
