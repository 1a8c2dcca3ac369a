package persona

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"boardroom/internal/config"
	"boardroom/internal/logging"
)

const reloadDebounce = 200 * time.Millisecond

// Watcher reloads the registry when board.yml changes on disk.
type Watcher struct {
	Registry *Registry
	Path     string
	Log      *logging.Logger
	// OnReload runs after a successful swap.
	OnReload func(*config.Config)
}

// Run blocks until ctx is done. The parent directory is watched so editors that
// replace the file atomically are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(w.Path)); err != nil {
		return err
	}
	target := filepath.Clean(w.Path)

	timer := time.NewTimer(0)
	<-timer.C
	pending := false
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = true
			timer.Reset(reloadDebounce)
		case <-timer.C:
			if pending {
				pending = false
				w.reload()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.Log.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := config.FromFile(w.Path)
	if err != nil {
		w.Log.Warn("config reload rejected", "path", w.Path, "error", err)
		return
	}
	if err := w.Registry.Reload(cfg); err != nil {
		w.Log.Warn("config reload rejected", "path", w.Path, "error", err)
		return
	}
	w.Log.Info("config reloaded", "path", w.Path, "members", len(cfg.Members))
	if w.OnReload != nil {
		w.OnReload(cfg)
	}
}
