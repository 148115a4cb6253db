package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

func isImage(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff", ".png":
		return true
	}
	return false
}

// watch calls show for every image created or rewritten in dir until ctx
// is done. Events arriving while an image is shown are merged so that only
// the newest path is shown next.
func watch(ctx context.Context, dir string, show func(path string) error) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	slog.Info("watching", "dir", dir)

	latest := make(chan string, 1)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err, ok := <-w.Errors:
				if !ok {
					return nil
				}
				slog.Warn("watch error", "err", err)
			case ev, ok := <-w.Events:
				if !ok {
					return nil
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) || !isImage(ev.Name) {
					continue
				}
				// Replace an unshown path with the newer one.
				select {
				case <-latest:
				default:
				}
				latest <- ev.Name
			}
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case path := <-latest:
				if err := show(path); err != nil {
					// Files are often caught half written; the next event retries.
					slog.Warn("show failed", "path", path, "err", err)
				}
			}
		}
	})
	return g.Wait()
}
