package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce coalesces bursts of file events into one reload
const DefaultDebounce = 200 * time.Millisecond

// Watch reloads the catalog whenever a file below the root changes, until
// ctx is done. onReload, if set, runs after every reload.
func (c *Catalog) Watch(ctx context.Context, debounce time.Duration, onReload func()) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := c.watchTree(w, c.root); err != nil {
		return err
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		if err := c.Load(ctx); err != nil {
			c.logger.Warn("Catalog reload failed", zap.Error(err))
			return
		}
		if onReload != nil {
			onReload()
		}
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := c.watchTree(w, event.Name); err != nil {
						c.logger.Warn("Cannot watch directory", zap.String("path", event.Name), zap.Error(err))
					}
				}
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}

			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, reload)
			mu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("Catalog watch error", zap.Error(err))
		}
	}
}

// watchTree adds dir and every directory below it
func (c *Catalog) watchTree(w *fsnotify.Watcher, dir string) error {
	var mu sync.Mutex
	conf := fastwalk.Config{Follow: false}
	return fastwalk.Walk(&conf, dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		if err := w.Add(filepath.Clean(p)); err != nil {
			c.logger.Warn("Cannot watch directory", zap.String("path", p), zap.Error(err))
		}
		return nil
	})
}
