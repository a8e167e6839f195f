// Package config reads the camcal configuration file.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/camcal/framefilter"
	"go.viam.com/camcal/logging"
	"go.viam.com/camcal/rimage/calibrate"
)

// Config describes a calibration run.
type Config struct {
	ConfigFilePath string `json:"-"`

	Board             BoardConfig                  `json:"board"`
	TargetSampleCount int                          `json:"target_sample_count,omitempty"`
	Detector          DetectorConfig               `json:"detector"`
	Solver            SolverConfig                 `json:"solver"`
	Mirror            bool                         `json:"mirror,omitempty"`
	ArtifactPath      string                       `json:"artifact_path,omitempty"`
	LogLevel          *logging.Level               `json:"log_level,omitempty"`
	Pipeline          []framefilter.Transformation `json:"pipeline,omitempty"`
}

// BoardConfig is the chessboard being calibrated against.
type BoardConfig struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	SquareSize float64 `json:"square_size,omitempty"`
}

// DetectorConfig overrides the corner detector defaults. Zero values keep the default, except for the
// pointer fields where only a missing value does.
type DetectorConfig struct {
	WindowHalfSize int      `json:"window_half_size,omitempty"`
	MaxIterations  int      `json:"max_iterations,omitempty"`
	Epsilon        float64  `json:"epsilon,omitempty"`
	FastCheck      *bool    `json:"fast_check,omitempty"`
	RingRadius     float64  `json:"ring_radius,omitempty"`
	NMSRadius      int      `json:"nms_radius,omitempty"`
	MinScoreRatio  *float64 `json:"min_score_ratio,omitempty"`
}

// SolverConfig overrides the solver defaults. Zero values keep the default.
type SolverConfig struct {
	MaxIterations int     `json:"max_iterations,omitempty"`
	Tolerance     float64 `json:"tolerance,omitempty"`
}

// Read reads the config at filePath, substituting environment variables, then applies the defaults
// and validates it.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config %q", filePath)
	}
	return FromReader(filePath, bytes.NewReader(buf))
}

// FromReader reads a config from r. originalPath is where, if anywhere, it came from.
func FromReader(originalPath string, r io.Reader) (*Config, error) {
	cfg := Config{ConfigFilePath: originalPath}
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode Config from json")
	}
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Defaults fills every unset value.
func (c *Config) Defaults() {
	if c.TargetSampleCount == 0 {
		c.TargetSampleCount = calibrate.DefaultTargetSampleCount
	}
	if c.Board.SquareSize == 0 {
		c.Board.SquareSize = 1
	}
	d := calibrate.DefaultDetectorConfig()
	if c.Detector.WindowHalfSize == 0 {
		c.Detector.WindowHalfSize = d.WindowHalfSize
	}
	if c.Detector.MaxIterations == 0 {
		c.Detector.MaxIterations = d.MaxIterations
	}
	if c.Detector.Epsilon == 0 {
		c.Detector.Epsilon = d.Epsilon
	}
	if c.Detector.FastCheck == nil {
		fastCheck := d.FastCheck
		c.Detector.FastCheck = &fastCheck
	}
	if c.Detector.RingRadius == 0 {
		c.Detector.RingRadius = d.RingRadius
	}
	if c.Detector.NMSRadius == 0 {
		c.Detector.NMSRadius = d.NMSRadius
	}
	if c.Detector.MinScoreRatio == nil {
		ratio := d.MinScoreRatio
		c.Detector.MinScoreRatio = &ratio
	}
	s := calibrate.DefaultSolverConfig()
	if c.Solver.MaxIterations == 0 {
		c.Solver.MaxIterations = s.MaxIterations
	}
	if c.Solver.Tolerance == 0 {
		c.Solver.Tolerance = s.Tolerance
	}
	if c.LogLevel == nil {
		level := logging.INFO
		c.LogLevel = &level
	}
}

// Validate returns every problem with the config.
func (c *Config) Validate() error {
	var err error
	if c.Board.Width == 0 {
		err = multierr.Append(err, utils.NewConfigValidationFieldRequiredError("board", "width"))
	}
	if c.Board.Height == 0 {
		err = multierr.Append(err, utils.NewConfigValidationFieldRequiredError("board", "height"))
	}
	if c.Board.SquareSize < 0 {
		err = multierr.Append(err, utils.NewConfigValidationError("board",
			errors.Errorf("square_size must not be negative, got %v", c.Board.SquareSize)))
	}
	if err != nil {
		return err
	}
	if sessionErr := c.SessionConfig().Validate(); sessionErr != nil {
		err = multierr.Append(err, sessionErr)
	}
	known := map[string]bool{}
	for _, typ := range framefilter.RegisteredTypes() {
		known[typ] = true
	}
	for i, tr := range c.Pipeline {
		if !known[tr.Type] {
			err = multierr.Append(err, utils.NewConfigValidationError(fmt.Sprintf("pipeline.%d", i),
				errors.Errorf("unknown transform type %q", tr.Type)))
		}
	}
	return err
}

// SessionConfig returns the calibration session configuration described by c. Call Defaults first.
func (c *Config) SessionConfig() calibrate.SessionConfig {
	d := calibrate.DefaultDetectorConfig()
	fastCheck := d.FastCheck
	if c.Detector.FastCheck != nil {
		fastCheck = *c.Detector.FastCheck
	}
	minScoreRatio := d.MinScoreRatio
	if c.Detector.MinScoreRatio != nil {
		minScoreRatio = *c.Detector.MinScoreRatio
	}
	return calibrate.SessionConfig{
		Board: calibrate.BoardGeometry{
			Width:      c.Board.Width,
			Height:     c.Board.Height,
			SquareSize: c.Board.SquareSize,
		},
		TargetSampleCount: c.TargetSampleCount,
		Detector: calibrate.DetectorConfig{
			WindowHalfSize: c.Detector.WindowHalfSize,
			MaxIterations:  c.Detector.MaxIterations,
			Epsilon:        c.Detector.Epsilon,
			FastCheck:      fastCheck,
			RingRadius:     c.Detector.RingRadius,
			NMSRadius:      c.Detector.NMSRadius,
			MinScoreRatio:  minScoreRatio,
		},
		Solver: calibrate.SolverConfig{
			MaxIterations: c.Solver.MaxIterations,
			Tolerance:     c.Solver.Tolerance,
		},
	}
}
