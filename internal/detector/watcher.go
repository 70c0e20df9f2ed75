package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/clipmirror/clipmirror/internal/media"
)

// File readiness polling. A file dropped into the watch directory is
// ingested once its size stops changing.
const (
	fileReadyInterval = 200 * time.Millisecond
	fileReadyTimeout  = 30 * time.Second
)

// defaultExtensions are the media file types the watcher ingests.
var defaultExtensions = []string{".mp4", ".mov", ".mkv", ".webm", ".avi"}

// WatcherConfig holds the watch directory and the accepted file types.
type WatcherConfig struct {
	// Dir is the directory to watch. Must exist when Start is called.
	Dir string

	// Extensions restricts ingestion to these file extensions (with
	// leading dot, case-insensitive). Defaults to common video types.
	Extensions []string
}

// Watcher ingests media files dropped into a local directory. Each settled
// file becomes an item whose source URL is a file URL; the download stage
// copies it into the working directory like any other source. Watcher
// implements media.Detector.
type Watcher struct {
	cfg    WatcherConfig
	sink   media.DetectSink
	logger *slog.Logger

	mu       sync.Mutex
	watching bool
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewWatcher creates a Watcher for the configured directory.
func NewWatcher(cfg WatcherConfig, sink media.DetectSink, logger *slog.Logger) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("watcher requires a directory")
	}
	if sink == nil {
		return nil, errors.New("watcher requires a sink")
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = defaultExtensions
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With("component", "file_watcher"),
	}, nil
}

// Start begins watching the directory. The context only covers startup;
// watching continues until Stop.
func (w *Watcher) Start(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watching {
		return errors.New("watcher already started")
	}

	if _, err := os.Stat(w.cfg.Dir); os.IsNotExist(err) {
		return fmt.Errorf("watch directory does not exist: %s", w.cfg.Dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}
	if err := watcher.Add(w.cfg.Dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", w.cfg.Dir, err)
	}

	w.watcher = watcher
	w.stopCh = make(chan struct{})
	w.watching = true

	w.wg.Add(1)
	go w.watchLoop()

	w.logger.Info("watching for dropped files", "dir", w.cfg.Dir)
	return nil
}

// Stop halts watching. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.watching {
		return nil
	}

	close(w.stopCh)
	w.watcher.Close()
	w.wg.Wait()
	w.watching = false

	w.logger.Info("file watching stopped")
	return nil
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create == 0 {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		w.logger.Warn("stat failed for new path", "path", event.Name, "error", err)
		return
	}
	if info.IsDir() {
		return
	}
	if !w.accepts(event.Name) {
		w.logger.Debug("ignoring non-media file", "path", event.Name)
		return
	}

	if err := w.waitForFileReady(event.Name); err != nil {
		w.logger.Warn("file never settled", "path", event.Name, "error", err)
		return
	}

	w.ingest(event.Name)
}

// accepts checks the file extension against the configured set.
func (w *Watcher) accepts(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range w.cfg.Extensions {
		if strings.ToLower(allowed) == ext {
			return true
		}
	}
	return false
}

// waitForFileReady blocks until the file size stops changing, so a file
// still being written is not ingested half-finished.
func (w *Watcher) waitForFileReady(path string) error {
	timeout := time.After(fileReadyTimeout)
	var lastSize int64 = -1

	for {
		select {
		case <-timeout:
			return fmt.Errorf("file still changing after %s", fileReadyTimeout)
		case <-w.stopCh:
			return errors.New("watcher stopped")
		case <-time.After(fileReadyInterval):
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("stat during settle wait: %w", err)
			}
			if info.Size() == lastSize && info.Size() > 0 {
				return nil
			}
			lastSize = info.Size()
		}
	}
}

// ingest turns a settled file into a detected item.
func (w *Watcher) ingest(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		w.logger.Warn("resolving dropped file path", "path", path, "error", err)
		return
	}
	stem := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))

	w.sink(media.Item{
		ID:        stem,
		Title:     stem,
		SourceURL: "file://" + abs,
		Meta:      map[string]any{"origin": "watch"},
	})
	w.logger.Info("ingested dropped file", "path", abs, "item_id", stem)
}
