package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

func newBufferLogger(name string, level Level) (Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return newImpl(name, level, true, NewWriterAppender(buf)), buf
}

// assertLogMatches checks the level, caller file, message and structured fields of the next line
// in `actual`, ignoring the exact timestamp and line number.
func assertLogMatches(t *testing.T, actual *bytes.Buffer, level, file, msg string, fields map[string]any) {
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	parts := strings.Split(strings.TrimSuffix(output, "\n"), "\t")
	_, err = time.Parse(DefaultTimeFormatStr, parts[0])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, parts[1], test.ShouldEqual, level)

	actualFile, _, found := strings.Cut(parts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	test.That(t, actualFile, test.ShouldEqual, file)
	test.That(t, parts[4], test.ShouldEqual, msg)

	if fields == nil {
		test.That(t, len(parts), test.ShouldEqual, 5)
		return
	}
	test.That(t, len(parts), test.ShouldEqual, 6)
	actualFields := map[string]any{}
	test.That(t, json.Unmarshal([]byte(parts[5]), &actualFields), test.ShouldBeNil)
	test.That(t, actualFields, test.ShouldResemble, fields)
}

func TestConsoleOutputFormat(t *testing.T) {
	logger, buf := newBufferLogger("calibration", INFO)

	logger.Info("board found")
	assertLogMatches(t, buf, "INFO", "logging/impl_test.go", "board found", nil)

	logger.Infof("accepted %d of %d", 3, 15)
	assertLogMatches(t, buf, "INFO", "logging/impl_test.go", "accepted 3 of 15", nil)

	logger.Warnw("frame dropped", "reason", "unsupported format", "width", 0)
	assertLogMatches(t, buf, "WARN", "logging/impl_test.go", "frame dropped",
		map[string]any{"reason": "unsupported format", "width": float64(0)})

	// unpaired keys are reported rather than dropped
	logger.Errorw("solve failed", "views")
	assertLogMatches(t, buf, "ERROR", "logging/impl_test.go", "solve failed",
		map[string]any{"views": "unpaired log key"})
}

func TestLevels(t *testing.T) {
	logger, buf := newBufferLogger("", INFO)

	logger.Debug("hidden")
	test.That(t, buf.Len(), test.ShouldEqual, 0)

	logger.SetLevel(DEBUG)
	test.That(t, logger.GetLevel(), test.ShouldEqual, DEBUG)
	test.That(t, logger.Level(), test.ShouldEqual, zapcore.DebugLevel)
	logger.Debug("shown")
	assertLogMatches(t, buf, "DEBUG", "logging/impl_test.go", "shown", nil)

	logger.SetLevel(ERROR)
	logger.Warn("hidden")
	test.That(t, buf.Len(), test.ShouldEqual, 0)

	for _, tc := range []struct {
		in  string
		out Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warning", WARN},
		{"error", ERROR},
	} {
		level, err := LevelFromString(tc.in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, tc.out)
	}
	_, err := LevelFromString("verbose")
	test.That(t, err, test.ShouldNotBeNil)

	var level Level
	test.That(t, json.Unmarshal([]byte(`"warn"`), &level), test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, WARN)
}

func TestSublogger(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	sub := logger.Sublogger("calibration").Sublogger("detector")
	sub.Infow("corners", "count", 54)

	entries := observed.FilterMessage("corners").All()
	test.That(t, entries, test.ShouldHaveLength, 1)
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "calibration.detector")
	test.That(t, entries[0].ContextMap()["count"], test.ShouldEqual, int64(54))
}

func TestWithFields(t *testing.T) {
	logger, buf := newBufferLogger("calibration", INFO)
	scoped := logger.WithFields("session", "abc")
	scoped.Infow("board accepted", "count", 2)
	assertLogMatches(t, buf, "INFO", "logging/impl_test.go", "board accepted",
		map[string]any{"session": "abc", "count": float64(2)})

	// fields carry over to subloggers and do not leak back into the parent
	scoped.Sublogger("detector").Warn("no corners")
	assertLogMatches(t, buf, "WARN", "logging/impl_test.go", "no corners", map[string]any{"session": "abc"})
	logger.Info("plain")
	assertLogMatches(t, buf, "INFO", "logging/impl_test.go", "plain", nil)
}

func TestCallerToString(t *testing.T) {
	for _, tc := range []struct {
		file string
		out  string
	}{
		{"/home/user/camcal/rimage/calibrate/session.go", "calibrate/session.go:12"},
		{"pkg/file.go", "pkg/file.go:12"},
		{"file.go", "file.go:12"},
	} {
		test.That(t, callerToString(&zapcore.EntryCaller{File: tc.file, Line: 12}), test.ShouldEqual, tc.out)
	}
}

func TestFileAppender(t *testing.T) {
	path := t.TempDir() + "/camcal.log"
	appender, closer := NewFileAppender(path)
	logger := NewBlankLogger("cli")
	logger.AddAppender(appender)
	logger.Info("written to disk")
	test.That(t, logger.Sync(), test.ShouldBeNil)
	test.That(t, closer.Close(), test.ShouldBeNil)
}
