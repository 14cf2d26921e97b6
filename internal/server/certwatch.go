package server

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// certWatcher reports changes of the configured certificate files. The
// parent directories are watched so that renewals replacing the files by
// rename are seen too.
type certWatcher struct {
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	onChange func()
	debounce time.Duration

	mu    sync.Mutex
	files map[string]struct{}
	dirs  map[string]struct{}
	timer *time.Timer

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newCertWatcher(logger *zap.Logger, debounce time.Duration, onChange func()) (*certWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &certWatcher{
		watcher:  watcher,
		logger:   logger,
		onChange: onChange,
		debounce: debounce,
		files:    make(map[string]struct{}),
		dirs:     make(map[string]struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Watch replaces the set of watched files
func (w *certWatcher) Watch(paths ...string) {
	files := make(map[string]struct{})
	dirs := make(map[string]struct{})
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for dir := range w.dirs {
		if _, keep := dirs[dir]; !keep {
			_ = w.watcher.Remove(dir)
		}
	}
	for dir := range dirs {
		if _, ok := w.dirs[dir]; ok {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			w.logger.Warn("Failed to watch certificate directory", zap.String("dir", dir), zap.Error(err))
			delete(dirs, dir)
		}
	}
	w.files = files
	w.dirs = dirs
}

func (w *certWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stop)
		err = w.watcher.Close()
	})
	<-w.done

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return err
}

func (w *certWatcher) run() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			w.mu.Lock()
			_, watched := w.files[filepath.Clean(event.Name)]
			if watched {
				w.schedule()
			}
			w.mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Certificate watcher error", zap.Error(err))
		}
	}
}

// schedule coalesces bursts of events (a renewal writes both files) into
// one callback. Must hold mu.
func (w *certWatcher) schedule() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.stop:
			return
		default:
		}
		w.logger.Info("Certificate files changed")
		w.onChange()
	})
}
