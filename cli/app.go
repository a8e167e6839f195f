// Package cli contains the camcal command line application.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	flagConfig       = "config"
	flagFrames       = "frames"
	flagWatch        = "watch"
	flagArtifact     = "artifact"
	flagResidualPlot = "residual-plot"
	flagProgress     = "progress"
	flagLogFile      = "log-file"
	flagDebug        = "debug"
	flagIn           = "in"
	flagOut          = "out"
	flagBoard        = "board"
	flagCount        = "count"
	flagSize         = "size"
	flagFocal        = "focal"
	flagDistortion   = "distortion"
)

var app = &cli.App{
	Name:            "camcal",
	Usage:           "calibrate cameras from chessboard frames",
	HideHelpCommand: true,
	Metadata:        map[string]interface{}{},
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    flagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
		&cli.PathFlag{
			Name:  flagLogFile,
			Usage: "also write logs to the rotated `FILE`",
		},
	},
	Before: setupLogging,
	After:  closeLogging,
	Commands: []*cli.Command{
		{
			Name:      "calibrate",
			Usage:     "calibrate a camera from the chessboard frames of a directory",
			UsageText: "camcal calibrate --config <file> --frames <dir> [other options]",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     flagConfig,
					Aliases:  []string{"c"},
					Required: true,
					Usage:    "load configuration from `FILE`",
				},
				&cli.PathFlag{
					Name:     flagFrames,
					Required: true,
					Usage:    "directory of frames to calibrate from",
				},
				&cli.BoolFlag{
					Name:  flagWatch,
					Usage: "keep waiting for new frames in the directory until the calibration finishes",
				},
				&cli.PathFlag{
					Name:  flagArtifact,
					Usage: "write the calibration to `FILE`, overriding the config's artifact_path",
				},
				&cli.PathFlag{
					Name:  flagResidualPlot,
					Usage: "write a scatter plot of the reprojection residuals to the PNG `FILE`",
				},
				&cli.BoolFlag{
					Name:  flagProgress,
					Usage: "show a spinner instead of one line per board",
				},
			},
			Action: CalibrateAction,
		},
		{
			Name:      "undistort",
			Usage:     "undistort every frame of a directory with a calibration",
			UsageText: "camcal undistort --artifact <file> --in <dir> --out <dir>",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     flagArtifact,
					Required: true,
					Usage:    "calibration written by calibrate",
				},
				&cli.PathFlag{
					Name:     flagIn,
					Required: true,
					Usage:    "directory of frames to undistort",
				},
				&cli.PathFlag{
					Name:     flagOut,
					Required: true,
					Usage:    "directory to write the undistorted frames to",
				},
			},
			Action: UndistortAction,
		},
		{
			Name:      "detect",
			Usage:     "find the chessboard corners of one frame and draw them",
			UsageText: "camcal detect --board <WxH> --in <file> --out <png>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     flagBoard,
					Required: true,
					Usage:    "interior corners of the board, as WIDTHxHEIGHT",
				},
				&cli.PathFlag{
					Name:     flagIn,
					Required: true,
					Usage:    "frame to search",
				},
				&cli.PathFlag{
					Name:  flagOut,
					Usage: "write the frame with the corners drawn to this PNG",
				},
			},
			Action: DetectAction,
		},
		{
			Name:      "filter",
			Usage:     "run the config's frame pipeline over every frame of a directory",
			UsageText: "camcal filter --config <file> --in <dir> --out <dir>",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     flagConfig,
					Aliases:  []string{"c"},
					Required: true,
					Usage:    "load configuration from `FILE`",
				},
				&cli.PathFlag{
					Name:     flagIn,
					Required: true,
					Usage:    "directory of frames to filter",
				},
				&cli.PathFlag{
					Name:     flagOut,
					Required: true,
					Usage:    "directory to write the filtered frames to",
				},
			},
			Action: FilterAction,
		},
		{
			Name:      "synth",
			Usage:     "render chessboard frames as seen by a simulated camera",
			UsageText: "camcal synth --out <dir> [other options]",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     flagOut,
					Required: true,
					Usage:    "directory to write the frames to",
				},
				&cli.StringFlag{
					Name:  flagBoard,
					Value: "9x6",
					Usage: "interior corners of the board, as WIDTHxHEIGHT",
				},
				&cli.IntFlag{
					Name:  flagCount,
					Value: 20,
					Usage: "number of frames",
				},
				&cli.StringFlag{
					Name:  flagSize,
					Value: "640x480",
					Usage: "frame size, as WIDTHxHEIGHT",
				},
				&cli.Float64Flag{
					Name:  flagFocal,
					Usage: "focal length in pixels (default 0.9 times the width)",
				},
				&cli.Float64SliceFlag{
					Name:  flagDistortion,
					Value: cli.NewFloat64Slice(-0.1, 0.01),
					Usage: "distortion coefficients k1,k2,p1,p2,k3",
				},
			},
			Action: SynthAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
