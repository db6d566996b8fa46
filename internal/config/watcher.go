package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"

	"platformbridge/internal/logger"
)

// DefaultSettle is how long a watched file must stay quiet before a reload.
const DefaultSettle = 100 * time.Millisecond

// FileWatcher calls onChange once a watched file has been written or
// recreated and then left alone for the settle period. Bursts of writes from
// a single save collapse into one call. The parent directory is watched so
// files replaced by rename are still seen.
type FileWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func()
	clock    clock.Clock
	settle   time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewFileWatcher creates a watcher for path with DefaultSettle.
func NewFileWatcher(path string, onChange func()) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &FileWatcher{
		path:     path,
		watcher:  w,
		onChange: onChange,
		clock:    clock.New(),
		settle:   DefaultSettle,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// SetSettle changes the quiet period. It has no effect once started.
func (fw *FileWatcher) SetSettle(d time.Duration) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if !fw.running && d > 0 {
		fw.settle = d
	}
}

// Start begins watching for file changes.
func (fw *FileWatcher) Start() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.running {
		return nil
	}
	if err := fw.watcher.Add(filepath.Dir(fw.path)); err != nil {
		return err
	}
	fw.running = true

	log := logger.WithComponent("file-watcher")
	log.Info().
		Str("path", fw.path).
		Dur("settle", fw.settle).
		Msg("Watching file")
	go fw.watch(fw.settle)
	return nil
}

// Stop ends the watch and waits for the event loop. A pending reload is
// dropped. Stop may be called more than once.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return nil
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.stop)
	err := fw.watcher.Close()
	<-fw.done
	return err
}

// IsRunning reports whether Start has been called without a matching Stop.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

func (fw *FileWatcher) watch(settle time.Duration) {
	defer close(fw.done)
	log := logger.WithComponent("file-watcher").With().Str("path", fw.path).Logger()
	name := filepath.Base(fw.path)

	timer := fw.clock.Timer(settle)
	timer.Stop()
	defer timer.Stop()
	pending := 0

	for {
		select {
		case <-fw.stop:
			log.Info().Msg("File watcher stopped")
			return

		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			pending++
			timer.Reset(settle)

		case <-timer.C:
			if pending == 0 {
				continue
			}
			log.Info().Int("events", pending).Msg("File changed, reloading")
			pending = 0
			if fw.onChange != nil {
				fw.onChange()
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("File watcher error")
		}
	}
}

// NewWatcher creates a watcher that reloads Bridge.json on change. A file
// that fails to load or validate is logged and skipped; the caller keeps its
// current configuration.
func NewWatcher(path string, callback func(*Config)) (*FileWatcher, error) {
	return NewFileWatcher(path, func() {
		cfg, err := Load(path)
		if err != nil {
			log := logger.WithComponent("config-watcher")
			log.Error().Err(err).Msg("Ignoring invalid Bridge.json")
			return
		}
		if callback != nil {
			callback(cfg)
		}
	})
}

// NewLoggingWatcher creates a watcher that reloads Logging.json on change.
func NewLoggingWatcher(path string, callback func(*logger.Config)) (*FileWatcher, error) {
	return NewFileWatcher(path, func() {
		lc, err := LoadLogging(path)
		if err != nil {
			log := logger.WithComponent("config-watcher")
			log.Error().Err(err).Msg("Ignoring invalid Logging.json")
			return
		}
		if callback != nil {
			callback(lc)
		}
	})
}
