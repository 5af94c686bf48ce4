package session

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mchiang0610/continue/log"
)

// FileOp is what happened to a snapshot file
type FileOp string

const (
	FileWritten FileOp = "written"
	FileRemoved FileOp = "removed"
)

// FileEvent reports a debounced change to one snapshot file
type FileEvent struct {
	SessionID string `json:"sessionId"`
	Op        FileOp `json:"op"`
}

// StoreWatcher watches the sessions directory for snapshot changes,
// including ones made by other processes.
type StoreWatcher struct {
	dir      string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func(FileEvent)
	started  atomic.Bool
	done     chan struct{}
}

// NewStoreWatcher starts watching dir. onChange runs on the watcher goroutine.
func NewStoreWatcher(dir string, onChange func(FileEvent)) (*StoreWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	return &StoreWatcher{
		dir:      dir,
		watcher:  watcher,
		debounce: 100 * time.Millisecond,
		onChange: onChange,
		done:     make(chan struct{}),
	}, nil
}

// Start runs the event loop until ctx is cancelled or Close is called
func (w *StoreWatcher) Start(ctx context.Context) {
	if w.started.CompareAndSwap(false, true) {
		go w.eventLoop(ctx)
	}
}

func (w *StoreWatcher) eventLoop(ctx context.Context) {
	defer close(w.done)

	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C // drain initial timer

	pending := make(map[string]FileOp)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			id, ok := idFromFileName(filepath.Base(event.Name))
			if !ok {
				continue
			}

			switch {
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				pending[id] = FileRemoved
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				pending[id] = FileWritten
			default:
				continue
			}
			debounceTimer.Reset(w.debounce)

		case <-debounceTimer.C:
			for id, op := range pending {
				w.onChange(FileEvent{SessionID: id, Op: op})
			}
			pending = make(map[string]FileOp)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Str("dir", w.dir).Msg("fsnotify error")

		case <-ctx.Done():
			return
		}
	}
}

// Close stops watching and waits for the event loop if it was started
func (w *StoreWatcher) Close() {
	w.watcher.Close()
	if w.started.Load() {
		<-w.done
	}
}
