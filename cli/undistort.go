package cli

import (
	"io"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/camcal/rimage"
	"go.viam.com/camcal/rimage/calibrate"
	"go.viam.com/camcal/rimage/imagesource"
	"go.viam.com/camcal/rimage/transform"
)

// UndistortAction remaps every frame of a directory with a stored calibration.
func UndistortAction(c *cli.Context) (err error) {
	logger := appLogger(c)
	artifact, err := calibrate.ReadArtifactFile(c.Path(flagArtifact))
	if err != nil {
		return err
	}
	model, err := artifact.Model()
	if err != nil {
		return errors.Wrap(err, "invalid calibration")
	}
	outDir := c.Path(flagOut)
	if err := ensureDir(outDir); err != nil {
		return err
	}
	dirSource, err := imagesource.NewDirSource(c.Path(flagIn), logger.Sublogger("frames"))
	if err != nil {
		return err
	}
	src := &imagesource.GraySource{Original: dirSource}
	defer func() {
		err = multierr.Combine(err, src.Close())
	}()

	var maps transform.MapCache
	written := 0
	for {
		img, release, err := src.Next(c.Context)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			warningf(c.App.ErrWriter, "skipping %s: %v", dirSource.Current(), err)
			continue
		}
		release()
		gray, err := rimage.ToGray(img)
		if err != nil {
			return err
		}
		size := gray.Bounds().Size()
		if size.X != artifact.ImageWidth || size.Y != artifact.ImageHeight {
			logger.Warnw("frame size differs from the calibrated size", "path", dirSource.Current(),
				"size", size, "calibrated", []int{artifact.ImageWidth, artifact.ImageHeight})
		}
		m, err := maps.Get(model, size)
		if err != nil {
			return err
		}
		out, err := m.Apply(gray)
		if err != nil {
			return err
		}
		if err := rimage.WriteImageToFile(outputPath(outDir, dirSource.Current()), out); err != nil {
			return err
		}
		written++
	}
	printf(c.App.Writer, "undistorted %d frames into %s", written, outDir)
	return nil
}
