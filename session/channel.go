package session

import (
	"context"
	"errors"
	"sync"
)

// Message is the single shape pushed to a GUI channel
type Message struct {
	MessageType string `json:"messageType"`
	Data        any    `json:"data"`
}

const MessageStateUpdate = "state_update"

// Channel is a push transport to the session's GUI.
type Channel interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

// outboxItem is either a message or a request to read the engine's full
// state at delivery time.
type outboxItem struct {
	msg    Message
	resync bool
}

// outbox decouples engine state emission from channel I/O.
// Enqueue never blocks; when the buffer is full the item is dropped.
// After close returns no further deliveries happen.
type outbox struct {
	mu     sync.Mutex
	closed bool
	queue  chan outboxItem

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newOutbox(size int, deliver func(ctx context.Context, item outboxItem)) *outbox {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &outbox{
		queue:  make(chan outboxItem, size),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go o.loop(deliver)
	return o
}

func (o *outbox) loop(deliver func(ctx context.Context, item outboxItem)) {
	defer close(o.done)
	for {
		select {
		case <-o.ctx.Done():
			return
		case item := <-o.queue:
			if o.ctx.Err() != nil {
				return
			}
			deliver(o.ctx, item)
		}
	}
}

var (
	errOutboxClosed = errors.New("outbox closed")
	errOutboxFull   = errors.New("outbox full")
)

func (o *outbox) enqueue(msg Message) error {
	return o.push(outboxItem{msg: msg})
}

func (o *outbox) push(item outboxItem) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errOutboxClosed
	}
	select {
	case o.queue <- item:
		return nil
	default:
		return errOutboxFull
	}
}

// close cancels any in-flight delivery and waits for the loop to exit.
func (o *outbox) close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		<-o.done
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	<-o.done
}
