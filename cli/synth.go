package cli

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/camcal/rimage"
	"go.viam.com/camcal/rimage/calibrate"
	"go.viam.com/camcal/rimage/transform"
)

// boardSpan is the fraction of the frame width the board covers in synthesized frames.
const boardSpan = 0.625

// SynthAction renders chessboard frames as seen by a simulated, distorted camera.
func SynthAction(c *cli.Context) error {
	dims, err := parseDimensions(c.String(flagBoard))
	if err != nil {
		return err
	}
	board, err := calibrate.NewBoardGeometry(dims.X, dims.Y)
	if err != nil {
		return err
	}
	size, err := parseDimensions(c.String(flagSize))
	if err != nil {
		return err
	}
	count := c.Int(flagCount)
	if count < 1 {
		return errors.Errorf("--%s must be at least 1, got %d", flagCount, count)
	}
	focal := c.Float64(flagFocal)
	if focal == 0 {
		focal = 0.9 * float64(size.X)
	}
	distortion, err := transform.NewBrownConrady(c.Float64Slice(flagDistortion))
	if err != nil {
		return err
	}
	model := &transform.PinholeCameraModel{
		PinholeCameraIntrinsics: &transform.PinholeCameraIntrinsics{
			Width:  size.X,
			Height: size.Y,
			Fx:     focal,
			Fy:     focal,
			Ppx:    float64(size.X) / 2,
			Ppy:    float64(size.Y) / 2,
		},
		Distortion: distortion,
	}
	if err := model.CheckValid(); err != nil {
		return err
	}
	outDir := c.Path(flagOut)
	if err := ensureDir(outDir); err != nil {
		return err
	}

	distance := focal * float64(board.Width+1) / (boardSpan * float64(size.X))
	for i, pose := range calibrate.SyntheticPoses(board, count, distance) {
		img, err := calibrate.RenderBoard(model, board, pose)
		if err != nil {
			return errors.Wrapf(err, "cannot render frame %d", i)
		}
		if err := rimage.WriteImageToFile(filepath.Join(outDir, fmt.Sprintf("frame_%03d.png", i)), img); err != nil {
			return err
		}
	}
	printf(c.App.Writer, "wrote %d frames of a %dx%d board to %s", count, board.Width, board.Height, outDir)
	return nil
}
