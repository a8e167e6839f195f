package cli

import (
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// printf prints a message with no decoration.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// warningf prints a message prefixed with a bold yellow "Warning: ".
func warningf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, "\x1b[1;33mWarning:\x1b[0m "+format+"\n", a...)
}

// parseDimensions parses a "WIDTHxHEIGHT" pair of positive integers.
func parseDimensions(s string) (image.Point, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "x")
	if len(parts) != 2 {
		return image.Point{}, errors.Errorf("%q is not of the form WIDTHxHEIGHT", s)
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return image.Point{}, errors.Wrapf(err, "invalid width in %q", s)
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return image.Point{}, errors.Wrapf(err, "invalid height in %q", s)
	}
	if w <= 0 || h <= 0 {
		return image.Point{}, errors.Errorf("dimensions must be positive, got %q", s)
	}
	return image.Point{w, h}, nil
}

// outputPath returns the path in outDir for a frame read from inPath, always with a .png extension.
func outputPath(outDir, inPath string) string {
	base := filepath.Base(inPath)
	return filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base))+".png")
}

// ensureDir creates dir and its parents if needed.
func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrapf(err, "cannot create output directory %q", dir)
	}
	return nil
}
