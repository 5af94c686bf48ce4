package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mchiang0610/continue/engine"
)

type fileEventLog struct {
	mu     sync.Mutex
	events []FileEvent
}

func (l *fileEventLog) add(e FileEvent) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *fileEventLog) last(id string) (FileOp, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var op FileOp
	n := 0
	for _, e := range l.events {
		if e.SessionID == id {
			op = e.Op
			n++
		}
	}
	return op, n
}

func setupStoreWatcher(t *testing.T) (*FileStore, *fileEventLog, func()) {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	events := &fileEventLog{}
	w, err := NewStoreWatcher(store.Dir(), events.add)
	if err != nil {
		t.Fatalf("NewStoreWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	return store, events, func() {
		cancel()
		w.Close()
	}
}

func TestStoreWatcher_ReportsWrites(t *testing.T) {
	store, events, cleanup := setupStoreWatcher(t)
	defer cleanup()

	if _, err := store.Save("watched", engine.NewState()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "write event", func() bool {
		op, _ := events.last("watched")
		return op == FileWritten
	})
}

func TestStoreWatcher_DebouncesBursts(t *testing.T) {
	store, events, cleanup := setupStoreWatcher(t)
	defer cleanup()

	for i := 0; i < 5; i++ {
		if _, err := store.Save("busy", engine.NewState()); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, "write event", func() bool {
		_, n := events.last("busy")
		return n > 0
	})
	time.Sleep(250 * time.Millisecond)

	if _, n := events.last("busy"); n >= 5 {
		t.Errorf("expected bursts to be coalesced, got %d events", n)
	}
}

func TestStoreWatcher_ReportsRemovals(t *testing.T) {
	store, events, cleanup := setupStoreWatcher(t)
	defer cleanup()

	if _, err := store.Save("doomed", engine.NewState()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "write event", func() bool {
		op, _ := events.last("doomed")
		return op == FileWritten
	})

	if err := store.Delete("doomed"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "remove event", func() bool {
		op, _ := events.last("doomed")
		return op == FileRemoved
	})
}

func TestStoreWatcher_IgnoresNonSnapshotFiles(t *testing.T) {
	store, events, cleanup := setupStoreWatcher(t)
	defer cleanup()

	if err := os.WriteFile(filepath.Join(store.Dir(), "README.txt"), []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(250 * time.Millisecond)

	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.events) != 0 {
		t.Errorf("unexpected events: %+v", events.events)
	}
}

func TestStoreWatcher_CloseWithoutStart(t *testing.T) {
	w, err := NewStoreWatcher(t.TempDir(), func(FileEvent) {})
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		w.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on a watcher that was never started")
	}
}
