package cli

import (
	"image"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"
	"github.com/urfave/cli/v2"

	"go.viam.com/camcal/rimage"
	"go.viam.com/camcal/rimage/calibrate"
)

// DetectAction looks for the chessboard in one frame and optionally draws what it found.
func DetectAction(c *cli.Context) error {
	logger := appLogger(c)
	dims, err := parseDimensions(c.String(flagBoard))
	if err != nil {
		return err
	}
	board, err := calibrate.NewBoardGeometry(dims.X, dims.Y)
	if err != nil {
		return err
	}
	gray, err := rimage.ReadGrayFromFile(c.Path(flagIn))
	if err != nil {
		return err
	}
	detector, err := calibrate.NewDetector(calibrate.DefaultDetectorConfig(), logger.Sublogger("detector"))
	if err != nil {
		return err
	}
	det, found, err := detector.Detect(gray, board)
	if err != nil {
		return err
	}
	if found {
		printf(c.App.Writer, "found %dx%d board (%d candidates)", board.Width, board.Height, det.Candidates)
		for i, p := range det.Corners {
			printf(c.App.Writer, "%d\t%.3f\t%.3f", i, p.X, p.Y)
		}
	} else {
		printf(c.App.Writer, "no %dx%d board found", board.Width, board.Height)
	}

	outPath := c.Path(flagOut)
	if outPath == "" {
		return nil
	}
	var corners []r2.Point
	if found {
		corners = det.Corners
	}
	return rimage.WriteImageToFile(outPath, drawDetection(gray, board, corners))
}

// drawDetection draws the board rows and corners over img, or a notice when corners is empty.
func drawDetection(img *image.Gray, board calibrate.BoardGeometry, corners []r2.Point) image.Image {
	dc := gg.NewContextForImage(img)
	if len(corners) == 0 {
		rimage.DrawString(dc, "board not found", image.Point{4, 4}, rimage.Red, 14)
		return dc.Image()
	}
	for row := 0; row < board.Height; row++ {
		rimage.DrawPolyline(dc, corners[row*board.Width:(row+1)*board.Width], rimage.Green, 1)
	}
	rimage.DrawPoints(dc, corners, rimage.Red, 2)
	rimage.DrawPoints(dc, corners[:1], rimage.Yellow, 3)
	return dc.Image()
}
