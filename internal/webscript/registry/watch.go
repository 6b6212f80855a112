package registry

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/conduit-lang/webscript/internal/webscript/description"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher resets the registry when documents or templates of file stores change
type Watcher struct {
	registry  *Registry
	watcher   *fsnotify.Watcher
	debouncer *debouncer
	logger    *zap.Logger
	stop      chan struct{}
	once      sync.Once
	wg        sync.WaitGroup
}

// Watch starts watching the directories of every file store of r
func Watch(r *Registry, delay time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w := &Watcher{
		registry: r,
		watcher:  fw,
		logger:   r.logger.Named("watch"),
		stop:     make(chan struct{}),
	}
	w.debouncer = newDebouncer(delay, w.reset)

	for _, store := range r.Stores() {
		fsStore, ok := store.(*description.FSStore)
		if !ok || fsStore.Dir() == "" {
			continue
		}
		if err := w.addTree(fsStore.Dir()); err != nil {
			fw.Close()
			return nil, err
		}
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", path, err)
		}
		w.logger.Debug("watching directory", zap.String("dir", path))
		return nil
	})
}

func relevant(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return description.IsDocument(base) || strings.HasSuffix(base, description.TemplateExt)
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						w.logger.Warn("failed to watch new directory", zap.Error(err))
					}
					w.debouncer.add(event.Name)
					continue
				}
			}
			if relevant(event.Name) && event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.debouncer.add(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) reset(files []string) {
	w.logger.Info("web script files changed", zap.Strings("files", files))
	if err := w.registry.Reset(context.Background()); err != nil {
		w.logger.Error("keeping previous web scripts", zap.Error(err))
	}
}

// Close stops watching
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stop)
		w.wg.Wait()
		w.debouncer.stop()
		err = w.watcher.Close()
	})
	return err
}

// debouncer batches file events and fires once the burst settles
type debouncer struct {
	delay    time.Duration
	mu       sync.Mutex
	timer    *time.Timer
	files    map[string]struct{}
	callback func([]string)
	stopped  bool
}

func newDebouncer(delay time.Duration, callback func([]string)) *debouncer {
	return &debouncer{delay: delay, files: map[string]struct{}{}, callback: callback}
}

func (d *debouncer) add(file string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.files[file] = struct{}{}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flush)
}

func (d *debouncer) flush() {
	d.mu.Lock()
	if d.stopped || len(d.files) == 0 {
		d.mu.Unlock()
		return
	}
	files := make([]string, 0, len(d.files))
	for f := range d.files {
		files = append(files, f)
	}
	d.files = map[string]struct{}{}
	d.mu.Unlock()

	d.callback(files)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
