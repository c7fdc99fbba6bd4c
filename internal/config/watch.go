package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"modbot/pkg/logx"
)

// Watch reloads the config file on change and invokes onChange with each
// successfully parsed config. Parse failures keep the previous config and
// are logged; editors that replace the file (rename+create) are handled by
// watching the parent directory.
func Watch(ctx context.Context, path string, log logx.Logger, onChange func(Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return err
	}

	go func() {
		defer w.Close()

		// Debounce: editors fire several events per save.
		var pending <-chan time.Time
		target := filepath.Clean(path)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				pending = time.After(250 * time.Millisecond)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("config watch error", logx.Err(err))
			case <-pending:
				pending = nil
				cfg, err := Load(path)
				if err != nil {
					log.Warn("config reload failed; keeping previous config", logx.Err(err))
					continue
				}
				log.Info("config reloaded", logx.String("path", path))
				onChange(cfg)
			}
		}
	}()

	return nil
}
