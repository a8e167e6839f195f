package imagesource

import (
	"context"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"go.viam.com/camcal/logging"
	"go.viam.com/camcal/rimage"
)

// DirSource plays the supported image files of a directory in name order. In watch mode it then
// blocks for files created in the directory afterwards and returns them in arrival order;
// otherwise it returns io.EOF once every file was read.
type DirSource struct {
	dir     string
	logger  logging.Logger
	pending []string
	seen    map[string]struct{}
	current string
	watcher *fsnotify.Watcher
}

// NewDirSource lists dir and returns a source that replays its frames.
func NewDirSource(dir string, logger logging.Logger) (*DirSource, error) {
	if logger == nil {
		logger = logging.NewBlankLogger("imagesource")
	}
	ds := &DirSource{dir: dir, logger: logger.WithFields("dir", dir), seen: map[string]struct{}{}}
	if err := ds.scan(); err != nil {
		return nil, err
	}
	return ds, nil
}

// NewWatchingDirSource returns a source that replays the frames already in dir and then waits for
// new ones.
func NewWatchingDirSource(dir string, logger logging.Logger) (*DirSource, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create directory watcher")
	}
	// watch before listing so that no file falls between the two
	if err := watcher.Add(dir); err != nil {
		return nil, multiClose(errors.Wrapf(err, "cannot watch %q", dir), watcher)
	}
	ds, err := NewDirSource(dir, logger)
	if err != nil {
		return nil, multiClose(err, watcher)
	}
	ds.watcher = watcher
	return ds, nil
}

func multiClose(err error, watcher *fsnotify.Watcher) error {
	if closeErr := watcher.Close(); closeErr != nil {
		return errors.Wrapf(err, "also failed to close watcher: %v", closeErr)
	}
	return err
}

func (ds *DirSource) scan() error {
	entries, err := os.ReadDir(ds.dir)
	if err != nil {
		return errors.Wrapf(err, "cannot list frames in %q", ds.dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !rimage.IsSupportedImageFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, n := range names {
		ds.enqueue(filepath.Join(ds.dir, n))
	}
	return nil
}

func (ds *DirSource) enqueue(path string) {
	if _, ok := ds.seen[path]; ok {
		return
	}
	ds.seen[path] = struct{}{}
	ds.pending = append(ds.pending, path)
}

// Pending returns how many known frames have not been read yet.
func (ds *DirSource) Pending() int {
	return len(ds.pending)
}

// Current returns the path of the file the last call to Next read.
func (ds *DirSource) Current() string {
	return ds.current
}

// Next returns the next frame. Decoding errors are returned for that frame only; the following call
// moves on to the next file. In watch mode a file that failed to decode is read again after it is
// next written to, so frames may be written in place.
func (ds *DirSource) Next(ctx context.Context) (image.Image, func(), error) {
	for len(ds.pending) == 0 {
		if ds.watcher == nil {
			return nil, nil, io.EOF
		}
		if err := ds.wait(ctx); err != nil {
			return nil, nil, err
		}
	}
	path := ds.pending[0]
	ds.pending = ds.pending[1:]
	ds.current = path
	ds.logger.Debugw("reading frame", "path", path)
	img, err := rimage.ReadImageFromFile(path)
	if err != nil {
		if ds.watcher != nil {
			// the writer may not be done yet; its next write queues the file again
			delete(ds.seen, path)
		}
		return nil, nil, err
	}
	return img, func() {}, nil
}

// wait blocks until the watcher reports at least one new frame file.
func (ds *DirSource) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case event, ok := <-ds.watcher.Events:
		if !ok {
			return io.EOF
		}
		if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
			return nil
		}
		if !rimage.IsSupportedImageFile(event.Name) {
			return nil
		}
		if info, err := os.Stat(event.Name); err != nil || info.IsDir() {
			return nil
		}
		ds.enqueue(event.Name)
		return nil
	case err, ok := <-ds.watcher.Errors:
		if !ok {
			return io.EOF
		}
		ds.logger.Warnw("directory watch error", "error", err)
		return nil
	}
}

// Close stops watching the directory.
func (ds *DirSource) Close() error {
	if ds.watcher == nil {
		return nil
	}
	return ds.watcher.Close()
}
