// Package imagesource provides the frame sources the camcal tools read from: single files, directories
// replayed in name order, and directories watched for new frames.
package imagesource

import (
	"context"
	"image"

	"go.viam.com/camcal/rimage"
)

// ImageSource produces frames one at a time. A source that has no more frames returns io.EOF from
// Next. The returned release func must be called once the caller is done with the frame.
type ImageSource interface {
	Next(ctx context.Context) (image.Image, func(), error)
	Close() error
}

// StaticSource returns the same image forever.
type StaticSource struct {
	Img image.Image
}

// Next returns the static image.
func (ss *StaticSource) Next(ctx context.Context) (image.Image, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return ss.Img, func() {}, nil
}

// Close does nothing.
func (ss *StaticSource) Close() error {
	return nil
}

// FileSource decodes the image at Path on every call to Next.
type FileSource struct {
	Path string
}

// Next reads the file.
func (fs *FileSource) Next(ctx context.Context) (image.Image, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	img, err := rimage.ReadImageFromFile(fs.Path)
	if err != nil {
		return nil, nil, err
	}
	return img, func() {}, nil
}

// Close does nothing.
func (fs *FileSource) Close() error {
	return nil
}
