package models

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher observes the model directory and reports when model files
// appear or disappear, so resolved paths and preset state can refresh
// without a restart.
type Watcher struct {
	dir      string
	logger   zerolog.Logger
	onChange func()
	done     chan struct{}
	stopped  chan struct{}
}

// NewWatcher builds a watcher over the model directory. onChange fires
// on every model file event.
func NewWatcher(dir string, onChange func(), logger zerolog.Logger) *Watcher {
	return &Watcher{
		dir:      dir,
		logger:   logger,
		onChange: onChange,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return err
	}

	go w.run(watcher)
	return nil
}

// Stop ends the watch loop and waits for it to exit.
func (w *Watcher) Stop() {
	close(w.done)
	<-w.stopped
}

func (w *Watcher) run(watcher *fsnotify.Watcher) {
	defer close(w.stopped)
	defer watcher.Close()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isModelFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("model directory changed")
				w.onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("model directory watch error")
		}
	}
}

// isModelFile reports whether the path looks like an engine model.
func isModelFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bin", ".gguf":
		return true
	}
	return false
}
