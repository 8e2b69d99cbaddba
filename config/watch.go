// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// Watch reloads the configuration file into p whenever it changes, until ctx
// is done. Files that fail to load are rejected and the running snapshot is
// kept.
func Watch(ctx context.Context, path string, p *Provider, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the directory so atomic renames by editors are observed.
	base := filepath.Base(path)
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}

	logger.Info("config_watch_started", slog.String("path", path))

	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(reloadDebounce)
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(reloadDebounce)
		}
		timerCh = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			schedule()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config_watch_error", slog.String("error", err.Error()))
		case <-timerCh:
			timerCh = nil
			reload(path, p, logger)
		}
	}
}

func reload(path string, p *Provider, logger *slog.Logger) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("config_reload_failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	cfg, err := Parse(data)
	if err != nil {
		logger.Error("config_reload_failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	p.Store(cfg)
	logger.Info("config_reloaded",
		slog.String("path", path),
		slog.Int("queues", len(cfg.Queues)),
		slog.Int("binders", len(cfg.Binders)))
}
