package scan

import (
	"context"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher rescans directories as files appear, change or vanish.
// Events are handled at directory granularity: a create/write triggers a
// rescan of the containing directory, a remove drops the file.
type Watcher struct {
	scanner *Scanner
	fsw     *fsnotify.Watcher
}

func NewWatcher(scanner *Scanner, folders []string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, f := range folders {
		if err := fsw.Add(f); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return &Watcher{scanner: scanner, fsw: fsw}, nil
}

// Run processes events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fsw.Close() }()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			log.Printf("watch: %v", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	switch {
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
		dir := filepath.Dir(ev.Name)
		if err := w.scanner.ScanFolder(ctx, dir); err != nil {
			log.Printf("watch: rescan %s: %v", dir, err)
		}
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		if err := w.scanner.RemoveFile(ctx, ev.Name); err != nil {
			log.Printf("watch: remove %s: %v", ev.Name, err)
		}
	}
}
