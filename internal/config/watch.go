package config

import (
	"github.com/fsnotify/fsnotify"
)

// Watcher notifies a session when its config file changes on disk. The
// orchestration loop only prints a notice; edited values take effect on
// the next run or resume, not in the running loop.
type Watcher struct {
	fsw  *fsnotify.Watcher
	path string
}

// Watch begins watching path for writes. An empty path (no config file
// present when the session started) returns a nil Watcher and no error;
// callers should treat a nil Watcher as "nothing to watch".
func Watch(path string) (*Watcher, error) {
	if path == "" {
		return nil, nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{fsw: fsw, path: path}, nil
}

// Reloaded returns a channel that receives a freshly-loaded Config each
// time the watched file is written or created, and a channel that
// receives reload/watch errors. A parse error on the file being edited
// is reported on the error channel rather than closing the watcher, so
// a momentarily invalid save doesn't tear down the session watching it.
func (w *Watcher) Reloaded() (<-chan Config, <-chan error) {
	out := make(chan Config)
	errs := make(chan error)
	go func() {
		defer close(out)
		defer close(errs)
		for {
			select {
			case event, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(w.path)
				if err != nil {
					errs <- err
					continue
				}
				out <- cfg
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				if err != nil {
					errs <- err
				}
			}
		}
	}()
	return out, errs
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	if w == nil {
		return nil
	}
	return w.fsw.Close()
}
