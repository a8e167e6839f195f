package rimage

import (
	"image"
	// register the decoders frames may arrive in.
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lmittmann/ppm" // register ppm
	"github.com/pkg/errors"
	_ "github.com/xfmoulet/qoi" // register qoi
	"go.viam.com/utils"
)

// SupportedImageExtensions are the file extensions ReadImageFromFile knows how to decode.
var SupportedImageExtensions = []string{".png", ".jpg", ".jpeg", ".ppm", ".qoi"}

// IsSupportedImageFile returns whether the path has one of the SupportedImageExtensions.
func IsSupportedImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedImageExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// ReadImageFromFile decodes the image stored at path.
func ReadImageFromFile(path string) (image.Image, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode %q", path)
	}
	return img, nil
}

// ReadGrayFromFile decodes the image stored at path and converts it to grayscale.
func ReadGrayFromFile(path string) (*image.Gray, error) {
	img, err := ReadImageFromFile(path)
	if err != nil {
		return nil, err
	}
	return ToGray(img)
}

// WriteImageToFile writes img as a PNG.
func WriteImageToFile(path string, img image.Image) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()
	return png.Encode(f, img)
}
