package imagesource

import (
	"context"
	"image"

	"go.viam.com/camcal/rimage"
)

// GraySource converts every frame of Original to 8-bit grayscale, mirroring it horizontally when
// Mirror is set. It is the frame-format conversion a host performs before handing frames to a
// calibration session.
type GraySource struct {
	Original ImageSource
	Mirror   bool
}

// Next reads the next frame of the original source and converts it.
func (gs *GraySource) Next(ctx context.Context) (image.Image, func(), error) {
	orig, release, err := gs.Original.Next(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	gray, err := rimage.ToGray(orig)
	if err != nil {
		return nil, nil, err
	}
	if gray == orig {
		gray = rimage.CloneGray(gray)
	}
	if gs.Mirror {
		gray = rimage.MirrorGray(gray)
	}
	return gray, func() {}, nil
}

// Close closes the original source.
func (gs *GraySource) Close() error {
	return gs.Original.Close()
}
