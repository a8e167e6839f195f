package cli

import (
	"context"
	"fmt"
	"image/color"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"go.viam.com/camcal/config"
	"go.viam.com/camcal/logging"
	"go.viam.com/camcal/rimage/calibrate"
	"go.viam.com/camcal/rimage/imagesource"
)

// CalibrateAction feeds every frame of a directory to a calibration session until it is solved.
func CalibrateAction(c *cli.Context) (err error) {
	logger := appLogger(c)
	cfg, err := config.Read(c.Path(flagConfig))
	if err != nil {
		return err
	}
	if !c.Bool(flagDebug) && cfg.LogLevel != nil {
		logger.SetLevel(*cfg.LogLevel)
	}
	artifactPath := cfg.ArtifactPath
	if c.IsSet(flagArtifact) {
		artifactPath = c.Path(flagArtifact)
	}

	var dirSource *imagesource.DirSource
	if c.Bool(flagWatch) {
		dirSource, err = imagesource.NewWatchingDirSource(c.Path(flagFrames), logger.Sublogger("frames"))
	} else {
		dirSource, err = imagesource.NewDirSource(c.Path(flagFrames), logger.Sublogger("frames"))
	}
	if err != nil {
		return err
	}
	src := &imagesource.GraySource{Original: dirSource, Mirror: cfg.Mirror}
	defer func() {
		err = multierr.Combine(err, src.Close())
	}()

	progress := newStageProgress(c.App.Writer, c.Bool(flagProgress))
	defer progress.Stop()
	session, err := newCLISession(c, cfg, artifactPath, progress, logger)
	if err != nil {
		return err
	}
	if err := progress.Start("collecting boards"); err != nil {
		return err
	}
	if err := runSession(c.Context, session, src, logger); err != nil {
		progress.Fail(err)
		return err
	}

	result := session.Result()
	report, err := calibrationReport(result)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", report)
	if artifactPath != "" {
		printf(c.App.Writer, "calibration written to %s", artifactPath)
	}
	if path := c.Path(flagResidualPlot); path != "" {
		if err := progress.Start("plotting residuals"); err != nil {
			return err
		}
		if err := saveResidualPlot(path, result, session.Observations()); err != nil {
			progress.Fail(err)
			return err
		}
		progress.Complete("plotted residuals")
		printf(c.App.Writer, "residual plot written to %s", path)
	}
	return nil
}

func newCLISession(
	c *cli.Context,
	cfg *config.Config,
	artifactPath string,
	progress *stageProgress,
	logger logging.Logger,
) (*calibrate.Session, error) {
	var session *calibrate.Session
	opts := []calibrate.Option{
		calibrate.WithLogger(logger.Sublogger("calibration")),
		calibrate.WithNotifier(calibrate.NotifierFuncs{
			BoardFound: func() {
				msg := fmt.Sprintf("board %d/%d", session.Count(), session.Target())
				if progress.disabled {
					printf(c.App.Writer, "%s", msg)
				} else {
					progress.Update("collecting boards: " + msg)
				}
			},
			CalibrationFinished: func(reprojectionError float64) {
				progress.Complete(fmt.Sprintf("collected %d boards", session.Count()))
				printf(c.App.Writer, "calibration finished, RMS reprojection error %.4f px", reprojectionError)
			},
		}),
	}
	if artifactPath != "" {
		opts = append(opts, calibrate.WithArtifactSink(calibrate.JSONFileSink{Path: artifactPath}))
	}
	var err error
	session, err = calibrate.NewSession(cfg.SessionConfig(), opts...)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// runSession reads frames until the session is solved. Frames that cannot be decoded are skipped.
func runSession(ctx context.Context, session *calibrate.Session, src imagesource.ImageSource, logger logging.Logger) error {
	for session.State() != calibrate.StateSolved {
		img, release, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return err
			}
			logger.Warnw("skipping frame", "error", err)
			continue
		}
		res := session.Process(img)
		release()
		if res.Err != nil {
			logger.Debugw("frame not used", "outcome", res.Outcome.String(), "error", res.Err)
		}
	}
	if session.State() != calibrate.StateSolved {
		return errors.Errorf("ran out of frames with %d of %d boards found", session.Count(), session.Target())
	}
	return nil
}

// calibrationReport renders the result as a table.
func calibrationReport(result *calibrate.CalibrationResult) (string, error) {
	errStats, err := result.ErrorStats()
	if err != nil {
		return "", err
	}
	k := result.CameraMatrix
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Parameter", "Value"})
	t.AppendRow([]interface{}{"image size", fmt.Sprintf("%dx%d", result.ImageSize.X, result.ImageSize.Y)})
	t.AppendRow([]interface{}{"fx, fy", fmt.Sprintf("%.3f, %.3f", k[0][0], k[1][1])})
	t.AppendRow([]interface{}{"cx, cy", fmt.Sprintf("%.3f, %.3f", k[0][2], k[1][2])})
	t.AppendRow([]interface{}{"k1, k2, p1, p2, k3", formatFloats(result.Distortion)})
	t.AppendRow([]interface{}{"RMS error (px)", fmt.Sprintf("%.4f", result.RMS)})
	t.AppendRow([]interface{}{"iterations", result.Iterations})
	t.AppendSeparator()
	t.AppendRow([]interface{}{"view error mean", fmt.Sprintf("%.4f", errStats.Mean)})
	t.AppendRow([]interface{}{"view error median", fmt.Sprintf("%.4f", errStats.Median)})
	t.AppendRow([]interface{}{"view error p90", fmt.Sprintf("%.4f", errStats.P90)})
	t.AppendRow([]interface{}{"view error max", fmt.Sprintf("%.4f", errStats.Max)})

	views := table.NewWriter()
	views.AppendHeader(table.Row{"View", "RMS (px)"})
	for i, rms := range result.PerViewRMS {
		views.AppendRow([]interface{}{i, fmt.Sprintf("%.4f", rms)})
	}
	return t.Render() + "\n" + views.Render(), nil
}

func formatFloats(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = fmt.Sprintf("%.5f", v)
	}
	return strings.Join(parts, ", ")
}

// saveResidualPlot scatters the reprojection residual of every observed corner.
func saveResidualPlot(path string, result *calibrate.CalibrationResult, obs calibrate.ObservationSet) error {
	model, err := result.Model()
	if err != nil {
		return err
	}
	if len(result.Extrinsics) != obs.Len() {
		return errors.Errorf("calibration has %d views but %d observations", len(result.Extrinsics), obs.Len())
	}
	pts := make(plotter.XYs, 0, obs.PointCount())
	for i, o := range obs.Observations {
		projected := calibrate.ProjectBoard(model, obs.Geometry, result.Extrinsics[i])
		for j, p := range o.ImagePoints {
			d := p.Sub(projected[j])
			pts = append(pts, plotter.XY{X: d.X, Y: d.Y})
		}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Reprojection residuals (RMS %.4f px)", result.RMS)
	p.X.Label.Text = "dx (px)"
	p.Y.Label.Text = "dy (px)"
	p.Add(plotter.NewGrid())
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return errors.Wrap(err, "cannot plot residuals")
	}
	scatter.GlyphStyle.Color = color.RGBA{R: 200, A: 255}
	scatter.GlyphStyle.Radius = vg.Points(1.5)
	p.Add(scatter)
	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "cannot save residual plot to %q", path)
	}
	return nil
}
