package cli

import (
	"bytes"
	"image"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"go.viam.com/camcal/rimage"
	"go.viam.com/camcal/rimage/calibrate"
)

func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	err := NewApp(out, errOut).Run(append([]string{"camcal"}, args...))
	return out.String(), errOut.String(), err
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	test.That(t, err, test.ShouldBeNil)
	return len(entries)
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "camcal.json")
	test.That(t, os.WriteFile(path, []byte(body), 0o600), test.ShouldBeNil)
	return path
}

// synthFrames renders 16 frames of a 9x6 board with the camera the calibrate tests expect.
func synthFrames(t *testing.T, dir string) string {
	t.Helper()
	frames := filepath.Join(dir, "frames")
	out, _, err := runApp(t, "synth", "--out", frames, "--size", "320x240", "--focal", "300", "--count", "16")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "wrote 16 frames of a 9x6 board")
	test.That(t, countFiles(t, frames), test.ShouldEqual, 16)
	return frames
}

func TestCalibrateAndUndistort(t *testing.T) {
	dir := t.TempDir()
	frames := synthFrames(t, dir)
	artifactPath := filepath.Join(dir, "calibration.json")
	plotPath := filepath.Join(dir, "residuals.png")
	logPath := filepath.Join(dir, "camcal.log")
	cfgPath := writeConfig(t, dir, `{"board": {"width": 9, "height": 6}, "target_sample_count": 15}`)

	out, _, err := runApp(t, "--log-file", logPath, "calibrate",
		"--config", cfgPath, "--frames", frames, "--artifact", artifactPath, "--residual-plot", plotPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "board 1/15")
	test.That(t, out, test.ShouldContainSubstring, "board 15/15")
	test.That(t, out, test.ShouldContainSubstring, "calibration finished")
	test.That(t, out, test.ShouldContainSubstring, "fx, fy")
	test.That(t, out, test.ShouldContainSubstring, "view error p90")
	test.That(t, out, test.ShouldContainSubstring, "calibration written to "+artifactPath)

	artifact, err := calibrate.ReadArtifactFile(artifactPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, artifact.ImageWidth, test.ShouldEqual, 320)
	test.That(t, artifact.ImageHeight, test.ShouldEqual, 240)
	test.That(t, artifact.BoardWidth, test.ShouldEqual, 9)
	test.That(t, artifact.CameraMatrix[0][0], test.ShouldAlmostEqual, 300, 9)
	test.That(t, artifact.CameraMatrix[1][1], test.ShouldAlmostEqual, 300, 9)
	test.That(t, artifact.AvgReprojectionError, test.ShouldBeLessThan, 0.5)
	test.That(t, artifact.SessionID, test.ShouldNotBeEmpty)

	info, err := os.Stat(plotPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)

	logged, err := os.ReadFile(logPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(logged), test.ShouldContainSubstring, "calibration solved")

	undistorted := filepath.Join(dir, "undistorted")
	out, _, err = runApp(t, "undistort", "--artifact", artifactPath, "--in", frames, "--out", undistorted)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "undistorted 16 frames")
	test.That(t, countFiles(t, undistorted), test.ShouldEqual, 16)
	img, err := rimage.ReadImageFromFile(filepath.Join(undistorted, "frame_000.png"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds(), test.ShouldResemble, image.Rect(0, 0, 320, 240))
}

func TestCalibrateErrors(t *testing.T) {
	dir := t.TempDir()
	frames := synthFrames(t, dir)
	cfgPath := writeConfig(t, dir, `{"board": {"width": 9, "height": 6}, "target_sample_count": 40}`)

	_, _, err := runApp(t, "calibrate", "--config", cfgPath, "--frames", frames)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "ran out of frames")

	_, _, err = runApp(t, "calibrate", "--config", cfgPath, "--frames", filepath.Join(dir, "missing"))
	test.That(t, err, test.ShouldNotBeNil)

	badCfg := writeConfig(t, dir, `{"board": {"width": 9}}`)
	_, _, err = runApp(t, "calibrate", "--config", badCfg, "--frames", frames)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "height")

	_, _, err = runApp(t, "calibrate", "--frames", frames)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDetect(t *testing.T) {
	dir := t.TempDir()
	frames := synthFrames(t, dir)
	overlay := filepath.Join(dir, "overlay.png")

	out, _, err := runApp(t, "detect", "--board", "9x6", "--in", filepath.Join(frames, "frame_000.png"), "--out", overlay)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "found 9x6 board")
	test.That(t, out, test.ShouldContainSubstring, "53\t")
	img, err := rimage.ReadImageFromFile(overlay)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds(), test.ShouldResemble, image.Rect(0, 0, 320, 240))

	blank := image.NewGray(image.Rect(0, 0, 320, 240))
	for i := range blank.Pix {
		blank.Pix[i] = 128
	}
	blankPath := filepath.Join(dir, "blank.png")
	test.That(t, rimage.WriteImageToFile(blankPath, blank), test.ShouldBeNil)
	out, _, err = runApp(t, "detect", "--board", "9x6", "--in", blankPath, "--out", overlay)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "no 9x6 board found")

	_, _, err = runApp(t, "detect", "--board", "9by6", "--in", blankPath)
	test.That(t, err, test.ShouldNotBeNil)
	_, _, err = runApp(t, "detect", "--board", "1x6", "--in", blankPath)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFilter(t *testing.T) {
	dir := t.TempDir()
	frames := synthFrames(t, dir)
	filtered := filepath.Join(dir, "filtered")
	cfgPath := writeConfig(t, dir, `{
		"board": {"width": 9, "height": 6},
		"pipeline": [{"type": "threshold", "attributes": {"threshold": 100}}]
	}`)

	out, _, err := runApp(t, "filter", "--config", cfgPath, "--in", frames, "--out", filtered)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "filtered 16 frames")
	test.That(t, countFiles(t, filtered), test.ShouldEqual, 16)

	gray, err := rimage.ReadGrayFromFile(filepath.Join(filtered, "frame_003.png"))
	test.That(t, err, test.ShouldBeNil)
	for _, v := range gray.Pix {
		if v != 0 && v != 255 {
			t.Fatalf("thresholded frame has value %d", v)
		}
	}

	noPipeline := writeConfig(t, dir, `{"board": {"width": 9, "height": 6}}`)
	_, _, err = runApp(t, "filter", "--config", noPipeline, "--in", frames, "--out", filtered)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no pipeline")
}

func TestSynthErrors(t *testing.T) {
	dir := t.TempDir()
	_, _, err := runApp(t, "synth", "--out", dir, "--count", "0")
	test.That(t, err, test.ShouldNotBeNil)
	_, _, err = runApp(t, "synth", "--out", dir, "--size", "0x240")
	test.That(t, err, test.ShouldNotBeNil)
	_, _, err = runApp(t, "synth", "--out", dir, "--distortion", "1,2,3,4,5,6")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestParseDimensions(t *testing.T) {
	p, err := parseDimensions("640x480")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldResemble, image.Point{640, 480})

	p, err = parseDimensions(" 9X6 ")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldResemble, image.Point{9, 6})

	for _, bad := range []string{"", "9", "9x", "x6", "9x6x2", "-9x6", "0x6", "ninexsix"} {
		_, err := parseDimensions(bad)
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func TestOutputPath(t *testing.T) {
	test.That(t, outputPath("out", "/in/frame_001.jpg"), test.ShouldEqual, filepath.Join("out", "frame_001.png"))
	test.That(t, outputPath("out", "noext"), test.ShouldEqual, filepath.Join("out", "noext.png"))
}
