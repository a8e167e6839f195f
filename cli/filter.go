package cli

import (
	"io"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/camcal/config"
	"go.viam.com/camcal/framefilter"
	"go.viam.com/camcal/rimage"
	"go.viam.com/camcal/rimage/imagesource"
)

// FilterAction runs the configured frame pipeline over every frame of a directory.
func FilterAction(c *cli.Context) (err error) {
	logger := appLogger(c)
	cfg, err := config.Read(c.Path(flagConfig))
	if err != nil {
		return err
	}
	if len(cfg.Pipeline) == 0 {
		return errors.Errorf("config %q has no pipeline", cfg.ConfigFilePath)
	}
	pipeline, err := framefilter.NewPipeline(cfg.Pipeline, logger.Sublogger("pipeline"))
	if err != nil {
		return err
	}
	outDir := c.Path(flagOut)
	if err := ensureDir(outDir); err != nil {
		return err
	}
	src, err := imagesource.NewDirSource(c.Path(flagIn), logger.Sublogger("frames"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, src.Close())
	}()

	written, failed := 0, 0
	for {
		img, release, err := src.Next(c.Context)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			warningf(c.App.ErrWriter, "skipping %s: %v", src.Current(), err)
			continue
		}
		res := pipeline.Process(img)
		release()
		if res.Err != nil {
			failed++
			logger.Warnw("pipeline failed", "path", src.Current(), "error", res.Err)
		}
		if res.Frame == nil {
			continue
		}
		if err := rimage.WriteImageToFile(outputPath(outDir, src.Current()), res.Frame); err != nil {
			return err
		}
		written++
	}
	printf(c.App.Writer, "filtered %d frames into %s (%d failed)", written, outDir, failed)
	return nil
}
