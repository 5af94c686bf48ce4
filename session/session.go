package session

import (
	"context"
	"sync"
	"time"

	"github.com/mchiang0610/continue/engine"
)

// Session binds an id to its engine and, once a GUI connects, a push channel.
type Session struct {
	ID        string
	Engine    engine.Engine
	CreatedAt time.Time
	Resumed   bool

	mu      sync.RWMutex
	channel Channel
	removed bool

	cancelRun context.CancelFunc
	runDone   chan struct{}
	outbox    *outbox
}

// Channel returns the attached channel, or nil
func (s *Session) Channel() Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channel
}

// attach replaces the channel. It fails once the session has been removed.
func (s *Session) attach(ch Channel) (Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return nil, false
	}
	prev := s.channel
	s.channel = ch
	return prev, true
}

// release clears ch if it is still the attached channel
func (s *Session) release(ch Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel != ch {
		return false
	}
	s.channel = nil
	return true
}

// detach marks the session removed and hands back the channel for closing
func (s *Session) detach() Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = true
	ch := s.channel
	s.channel = nil
	return ch
}

// Done is closed when the engine run loop has exited
func (s *Session) Done() <-chan struct{} {
	return s.runDone
}

// SessionInfo is a point-in-time view for listings
type SessionInfo struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"createdAt"`
	Resumed         bool      `json:"resumed"`
	HasChannel      bool      `json:"hasChannel"`
	ControllerID    string    `json:"controllerId,omitempty"`
	ControllerState string    `json:"controllerState,omitempty"`
}

func (s *Session) info(c Controller) SessionInfo {
	info := SessionInfo{
		ID:         s.ID,
		CreatedAt:  s.CreatedAt,
		Resumed:    s.Resumed,
		HasChannel: s.Channel() != nil,
	}
	if c != nil {
		info.ControllerID = c.ID()
		info.ControllerState = c.State().String()
	}
	return info
}
