// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// watchFiles calls cancel as soon as one of the paths is modified, so the
// server exits and can be restarted with the new binary or joke data.
func watchFiles(ctx context.Context, cancel context.CancelFunc, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err = w.Add(p); err != nil {
			_ = w.Close()
			return err
		}
	}
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Has(fsnotify.Write) || e.Has(fsnotify.Create) || e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename) {
					slog.InfoContext(ctx, "watch", "msg", "file changed, shutting down", "path", e.Name, "op", e.Op.String())
					cancel()
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.ErrorContext(ctx, "watch", "err", err)
			}
		}
	}()
	return nil
}
