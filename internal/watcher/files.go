package watcher

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// IsDockerfile reports whether a file name is treated as a Dockerfile:
// Dockerfile, Containerfile, *.Dockerfile or Dockerfile.*.
func IsDockerfile(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	switch {
	case base == "dockerfile", base == "containerfile":
		return true
	case strings.HasSuffix(base, ".dockerfile"), strings.HasPrefix(base, "dockerfile."):
		return true
	}
	return false
}

// URI returns the file URI of path.
func URI(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

// FileWatcher feeds filesystem events for Dockerfiles in a set of
// directories into a Workspace.
type FileWatcher struct {
	ws      *Workspace
	dirs    []string
	watcher *fsnotify.Watcher
	logger  *logrus.Entry
}

func NewFileWatcher(ws *Workspace, logger *logrus.Entry, dirs ...string) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file watcher")
	}
	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			return nil, errors.Wrapf(err, "failed to watch %s", dir)
		}
	}
	return &FileWatcher{
		ws:      ws,
		dirs:    dirs,
		watcher: w,
		logger:  logger.WithField("component", "files"),
	}, nil
}

// Run activates every Dockerfile already present, then follows events until ctx
// is done.
func (fw *FileWatcher) Run(ctx context.Context) error {
	defer fw.watcher.Close()

	for _, dir := range fw.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return errors.Wrapf(err, "failed to list %s", dir)
		}
		for _, entry := range entries {
			if entry.IsDir() || !IsDockerfile(entry.Name()) {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if content, ok := fw.read(path); ok {
				fw.ws.Activate(URI(path), content)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return nil
			}
			fw.handle(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return nil
			}
			fw.logger.WithError(err).Warn("file watcher error")
		}
	}
}

func (fw *FileWatcher) handle(event fsnotify.Event) {
	if !IsDockerfile(event.Name) {
		return
	}
	uri := URI(event.Name)
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		fw.logger.WithField("path", event.Name).Debug("document removed")
		fw.ws.Close(uri)
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		if content, ok := fw.read(event.Name); ok {
			fw.ws.Change(uri, content)
		}
	}
}

func (fw *FileWatcher) read(path string) ([]byte, bool) {
	content, err := os.ReadFile(path)
	if err != nil {
		fw.logger.WithError(err).WithField("path", path).Debug("failed to read document")
		return nil, false
	}
	return content, true
}
