package notifications

import (
	"sync"
	"time"
)

// EventType represents the type of notification event
type EventType string

const (
	EventConnected          EventType = "connected"
	EventSessionCreated     EventType = "session-created"
	EventSessionResumed     EventType = "session-resumed"
	EventSessionRemoved     EventType = "session-removed"
	EventSessionPersisted   EventType = "session-persisted"
	EventSessionDiscarded   EventType = "session-discarded"
	EventSessionFileChanged EventType = "session-file-changed"
)

// Event represents a notification event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	SessionID string    `json:"sessionId,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// Service manages SSE subscriptions and event broadcasting
type Service struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	bufferSize  int
	closed      bool
	onDrop      func()
}

// NewService creates a notification service. bufferSize bounds each
// subscriber's queue; events for a full subscriber are dropped.
func NewService(bufferSize int) *Service {
	if bufferSize <= 0 {
		bufferSize = 10
	}
	return &Service{
		subscribers: make(map[chan Event]struct{}),
		bufferSize:  bufferSize,
	}
}

// OnDrop registers a hook called once per event dropped for a slow subscriber
func (s *Service) OnDrop(fn func()) {
	s.mu.Lock()
	s.onDrop = fn
	s.mu.Unlock()
}

// Subscribe creates a new subscription channel
// Returns the event channel and an unsubscribe function
func (s *Service) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, s.bufferSize)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		// Only close if the channel is still in subscribers map
		if _, exists := s.subscribers[ch]; exists {
			delete(s.subscribers, ch)
			close(ch)
		}
	}

	return ch, unsubscribe
}

// Notify broadcasts an event to all subscribers
func (s *Service) Notify(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			if s.onDrop != nil {
				s.onDrop()
			}
		}
	}
}

// NotifySession sends a session lifecycle event
func (s *Service) NotifySession(eventType EventType, sessionID string) {
	s.Notify(Event{
		Type:      eventType,
		SessionID: sessionID,
	})
}

// NotifySessionFileChanged sends a session-file-changed event.
// Used when a snapshot in the sessions dir is written or removed, including
// by another process.
func (s *Service) NotifySessionFileChanged(sessionID string, op string) {
	s.Notify(Event{
		Type:      EventSessionFileChanged,
		SessionID: sessionID,
		Data: map[string]any{
			"op": op,
		},
	})
}

// Shutdown closes all subscriber channels. Later subscriptions get a closed channel.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	for ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = make(map[chan Event]struct{})
}

// SubscriberCount returns the number of active subscribers
func (s *Service) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}
