package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"

	"go.viam.com/camcal/logging"
	"go.viam.com/camcal/rimage/calibrate"
)

func TestDefaults(t *testing.T) {
	cfg, err := FromReader("", strings.NewReader(`{"board": {"width": 9, "height": 6}}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.TargetSampleCount, test.ShouldEqual, 15)
	test.That(t, cfg.Board.SquareSize, test.ShouldEqual, 1)
	test.That(t, *cfg.LogLevel, test.ShouldEqual, logging.INFO)

	board, err := calibrate.NewBoardGeometry(9, 6)
	test.That(t, err, test.ShouldBeNil)
	board.SquareSize = 1
	test.That(t, cfg.SessionConfig(), test.ShouldResemble, calibrate.DefaultSessionConfig(board))
}

func TestOverrides(t *testing.T) {
	cfg, err := FromReader("inline", strings.NewReader(`{
		"board": {"width": 7, "height": 5, "square_size": 0.025},
		"target_sample_count": 20,
		"detector": {"fast_check": false, "window_half_size": 7, "min_score_ratio": 0},
		"solver": {"max_iterations": 50},
		"mirror": true,
		"artifact_path": "/tmp/calibration.json",
		"log_level": "debug",
		"pipeline": [{"type": "threshold", "attributes": {"threshold": 90}}]
	}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.ConfigFilePath, test.ShouldEqual, "inline")
	test.That(t, cfg.Mirror, test.ShouldBeTrue)
	test.That(t, *cfg.LogLevel, test.ShouldEqual, logging.DEBUG)
	test.That(t, cfg.Pipeline, test.ShouldHaveLength, 1)
	test.That(t, cfg.Pipeline[0].Attributes["threshold"], test.ShouldEqual, 90.)

	sc := cfg.SessionConfig()
	test.That(t, sc.Board.SquareSize, test.ShouldEqual, 0.025)
	test.That(t, sc.TargetSampleCount, test.ShouldEqual, 20)
	test.That(t, sc.Detector.FastCheck, test.ShouldBeFalse)
	test.That(t, sc.Detector.WindowHalfSize, test.ShouldEqual, 7)
	test.That(t, sc.Detector.MaxIterations, test.ShouldEqual, 30)
	// an explicit zero is kept rather than replaced by the default
	test.That(t, sc.Detector.MinScoreRatio, test.ShouldEqual, 0.)
	test.That(t, sc.Solver.MaxIterations, test.ShouldEqual, 50)
	test.That(t, sc.Solver.Tolerance, test.ShouldEqual, 1e-10)
}

func TestValidate(t *testing.T) {
	_, err := FromReader("", strings.NewReader(`{}`))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `"width" is required`)
	test.That(t, err.Error(), test.ShouldContainSubstring, `"height" is required`)

	_, err = FromReader("", strings.NewReader(`{"board": {"width": 1, "height": 6}, "detector": {"epsilon": -1},
		"pipeline": [{"type": "sepia"}]}`))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "invalid board geometry")
	test.That(t, err.Error(), test.ShouldContainSubstring, "epsilon")
	test.That(t, err.Error(), test.ShouldContainSubstring, "sepia")

	_, err = FromReader("", strings.NewReader(`{"board": {"width": 9, "height": 6}, "boards": 2}`))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = FromReader("", strings.NewReader(`{"board": {"width": 9, "height": 6}, "log_level": "loud"}`))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRead(t *testing.T) {
	t.Setenv("CAMCAL_ARTIFACT", "/data/out.json")
	path := filepath.Join(t.TempDir(), "camcal.json")
	test.That(t, os.WriteFile(path,
		[]byte(`{"board": {"width": 9, "height": 6}, "artifact_path": "${CAMCAL_ARTIFACT}"}`), 0o600),
		test.ShouldBeNil)

	cfg, err := Read(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.ArtifactPath, test.ShouldEqual, "/data/out.json")
	test.That(t, cfg.ConfigFilePath, test.ShouldEqual, path)

	_, err = Read(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}
