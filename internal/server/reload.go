package server

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mrtian2016/flowpilot/internal/config"
)

// reloadDebounce coalesces the burst of filesystem events an editor
// save produces into one reload.
const reloadDebounce = 250 * time.Millisecond

// watchConfig hot-reloads policies and inventory when the config file
// changes. The watch is on the parent directory, so atomic saves that
// rename a temp file into place are seen too.
func (s *Server) watchConfig(ctx context.Context) error {
	if s.configPath == "" {
		return nil
	}
	target, err := filepath.Abs(s.configPath)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		var mu sync.Mutex
		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, s.reloadConfig)
				mu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("config watcher error", "error", err)
			}
		}
	}()

	s.logger.Info("watching config file", "path", target)
	return nil
}

// reloadConfig re-reads the file and swaps the live views. A file that
// no longer parses or validates leaves the previous configuration in
// place.
func (s *Server) reloadConfig() {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		s.logger.Warn("config reload failed, keeping previous configuration", "error", err)
		return
	}
	if err := s.engine.Reload(cfg.Policies); err != nil {
		s.logger.Warn("policy reload failed, keeping previous rules", "error", err)
		return
	}
	s.resolver.SetConfig(cfg)
	s.setConfig(cfg)
	s.logger.Info("configuration reloaded",
		"path", s.configPath,
		"hosts", len(cfg.Hosts),
		"policies", len(cfg.Policies),
	)
}
