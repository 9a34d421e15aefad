// Package capture supplies camera frames to the game.
package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrStopped  = errors.New("capture stopped")
	ErrNoFrames = errors.New("no frames available")
)

const (
	DefaultReadyTimeout = 4 * time.Second
	readyPollInterval   = 100 * time.Millisecond
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// Directory treats the newest image in a directory as the current camera
// frame. Any camera app or script that drops photos into the directory can
// feed the game.
type Directory struct {
	dir string

	mu      sync.Mutex
	stopped bool
}

func NewDirectory(dir string) (*Directory, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, goerr.Wrap(err, "capture directory not accessible", goerr.V("dir", dir))
	}
	if !info.IsDir() {
		return nil, goerr.New("capture path is not a directory", goerr.V("dir", dir))
	}
	return &Directory{dir: dir}, nil
}

// Frame returns the newest image, base64 encoded.
func (d *Directory) Frame(ctx context.Context) (string, error) {
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped {
		return "", ErrStopped
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path, err := d.newest()
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", goerr.Wrap(err, "failed to read frame", goerr.V("path", path))
	}
	if !strings.HasPrefix(http.DetectContentType(data), "image/") {
		return "", goerr.New("frame is not an image", goerr.V("path", path))
	}

	logger.Debug("captured frame", "path", path, "bytes", len(data))
	return base64.StdEncoding.EncodeToString(data), nil
}

// WaitReady blocks until the directory holds at least one image.
func (d *Directory) WaitReady(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()
	for {
		if _, err := d.newest(); err == nil {
			return nil
		} else if !errors.Is(err, ErrNoFrames) {
			return err
		}

		select {
		case <-ctx.Done():
			return goerr.Wrap(ErrNoFrames, "camera not ready", goerr.V("dir", d.dir), goerr.V("timeout", timeout))
		case <-ticker.C:
		}
	}
}

func (d *Directory) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	return nil
}

func (d *Directory) newest() (string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return "", goerr.Wrap(err, "failed to list capture directory", goerr.V("dir", d.dir))
	}

	var (
		newestPath string
		newestTime time.Time
	)
	for _, entry := range entries {
		if entry.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newestPath == "" || info.ModTime().After(newestTime) {
			newestPath = filepath.Join(d.dir, entry.Name())
			newestTime = info.ModTime()
		}
	}
	if newestPath == "" {
		return "", ErrNoFrames
	}
	return newestPath, nil
}
