package imagesource

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/camcal/logging"
	"go.viam.com/camcal/rimage"
)

func writeFrame(t *testing.T, path string, value uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 6))
	for i := range img.Pix {
		img.Pix[i] = value
	}
	test.That(t, rimage.WriteImageToFile(path, img), test.ShouldBeNil)
}

func frameValue(t *testing.T, img image.Image) uint8 {
	t.Helper()
	gray, err := rimage.ToGray(img)
	test.That(t, err, test.ShouldBeNil)
	return gray.Pix[0]
}

func TestDirSourceReplay(t *testing.T) {
	dir := t.TempDir()
	writeFrame(t, filepath.Join(dir, "frame_002.png"), 2)
	writeFrame(t, filepath.Join(dir, "frame_001.png"), 1)
	writeFrame(t, filepath.Join(dir, "frame_010.png"), 10)
	test.That(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o600), test.ShouldBeNil)
	test.That(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0o700), test.ShouldBeNil)

	src, err := NewDirSource(dir, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, src.Close(), test.ShouldBeNil)
	}()
	test.That(t, src.Pending(), test.ShouldEqual, 3)

	ctx := context.Background()
	for _, expected := range []uint8{1, 2, 10} {
		img, release, err := src.Next(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, frameValue(t, img), test.ShouldEqual, expected)
		release()
	}
	_, _, err = src.Next(ctx)
	test.That(t, err, test.ShouldEqual, io.EOF)

	_, err = NewDirSource(filepath.Join(dir, "missing"), nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDirSourceWatch(t *testing.T) {
	dir := t.TempDir()
	writeFrame(t, filepath.Join(dir, "a.png"), 1)

	src, err := NewWatchingDirSource(dir, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, src.Close(), test.ShouldBeNil)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	img, _, err := src.Next(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frameValue(t, img), test.ShouldEqual, 1)

	// frames are written under another name and renamed so that they appear complete
	tmp := filepath.Join(dir, "b.png.part")
	writeFrame(t, tmp, 7)
	test.That(t, os.Rename(tmp, filepath.Join(dir, "b.png")), test.ShouldBeNil)

	img, _, err = src.Next(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frameValue(t, img), test.ShouldEqual, 7)

	short, cancelShort := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelShort()
	_, _, err = src.Next(short)
	test.That(t, err, test.ShouldEqual, context.DeadlineExceeded)
}

func TestDirSourceWatchPartialWrite(t *testing.T) {
	dir := t.TempDir()
	src, err := NewWatchingDirSource(dir, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, src.Close(), test.ShouldBeNil)
	}()

	img := image.NewGray(image.Rect(0, 0, 32, 24))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	var buf bytes.Buffer
	test.That(t, png.Encode(&buf, img), test.ShouldBeNil)
	data := buf.Bytes()
	half := len(data) / 2

	path := filepath.Join(dir, "frame.png")
	test.That(t, os.WriteFile(path, data[:half], 0o600), test.ShouldBeNil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, _, err = src.Next(ctx)
	test.That(t, err, test.ShouldNotBeNil)

	//nolint:gosec
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	test.That(t, err, test.ShouldBeNil)
	_, err = f.Write(data[half:])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Close(), test.ShouldBeNil)

	// earlier events for the file may still be queued; keep reading until it decodes
	var got image.Image
	for got == nil {
		got, _, err = src.Next(ctx)
		test.That(t, err, test.ShouldNotEqual, context.DeadlineExceeded)
	}
	test.That(t, src.Current(), test.ShouldEqual, path)
	gray, err := rimage.ToGray(got)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, gray.Pix, test.ShouldResemble, img.Pix)
}

func TestGraySource(t *testing.T) {
	rgba := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for i := range rgba.Pix {
		rgba.Pix[i] = 255
	}
	rgba.Pix[3], rgba.Pix[0], rgba.Pix[1], rgba.Pix[2] = 255, 0, 0, 0

	src := &GraySource{Original: &StaticSource{Img: rgba}, Mirror: true}
	img, release, err := src.Next(context.Background())
	test.That(t, err, test.ShouldBeNil)
	release()
	gray, ok := img.(*image.Gray)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, gray.GrayAt(3, 0).Y, test.ShouldEqual, 0)
	test.That(t, gray.GrayAt(0, 0).Y, test.ShouldEqual, 255)
	test.That(t, src.Close(), test.ShouldBeNil)

	// gray frames are copied, never modified in place
	in := image.NewGray(image.Rect(0, 0, 2, 1))
	in.Pix[0] = 9
	src = &GraySource{Original: &StaticSource{Img: in}}
	img, _, err = src.Next(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.(*image.Gray).Pix[0], test.ShouldEqual, 9)
	test.That(t, img, test.ShouldNotEqual, in)

	fileSrc := &FileSource{Path: filepath.Join(t.TempDir(), "missing.png")}
	_, _, err = fileSrc.Next(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, fileSrc.Close(), test.ShouldBeNil)
}
