package server

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Reload re-reads the config file and applies its reloadable settings.
// Opers are told the outcome either way.
func (s *Services) Reload() error {
	if s.confPath == "" {
		return fmt.Errorf("no config file to reload")
	}
	conf, err := LoadServicesConf(s.confPath)
	if err == nil {
		err = s.Apply(conf)
	}
	if err != nil {
		log.Error().Err(err).Str("component", "reload").Str("path", s.confPath).Msg("config reload failed")
		s.NotifyOpers(fmt.Sprintf("Configuration reload failed: %v", err))
		return err
	}
	s.NotifyOpers(fmt.Sprintf("Configuration reloaded from %s.", filepath.Base(s.confPath)))
	return nil
}

// WatchConfig reloads the config file whenever it is written, until ctx
// is done. Editors that replace the file are handled by watching its
// directory. Bursts of events within settle are coalesced.
func (s *Services) WatchConfig(ctx context.Context, settle time.Duration) error {
	if s.confPath == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	dir := filepath.Dir(s.confPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	log.Info().Str("component", "reload").Str("path", s.confPath).Msg("watching config for changes")

	go func() {
		defer watcher.Close()
		var timer <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if filepath.Clean(event.Name) != filepath.Clean(s.confPath) {
					continue
				}
				timer = time.After(settle)
			case <-timer:
				timer = nil
				s.Reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Str("component", "reload").Msg("config watcher error")
			}
		}
	}()
	return nil
}
