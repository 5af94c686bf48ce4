package session

import (
	"sync"
)

// ControllerState records which session, if any, a controller owns.
// The zero value is Unbound.
type ControllerState struct {
	SessionID string
}

// Unbound is the state of a controller that owns no session
var Unbound = ControllerState{}

// BoundTo returns the state of a controller owning id
func BoundTo(id string) ControllerState {
	return ControllerState{SessionID: id}
}

func (s ControllerState) IsBound() bool {
	return s.SessionID != ""
}

func (s ControllerState) IsBoundTo(id string) bool {
	return s.SessionID != "" && s.SessionID == id
}

func (s ControllerState) String() string {
	if !s.IsBound() {
		return "unbound"
	}
	return "bound:" + s.SessionID
}

// Controller is the IDE connection a session belongs to.
type Controller interface {
	ID() string
	State() ControllerState
	Bind(sessionID string)
	Unbind()
	IsOpen() bool
	Close() error
}

// ControllerRegistry maps session ids to the controller that created them.
// Entries outlive the controller's connection so a reconnecting IDE can resume.
type ControllerRegistry struct {
	mu          sync.RWMutex
	controllers map[string]Controller
}

func NewControllerRegistry() *ControllerRegistry {
	return &ControllerRegistry{controllers: make(map[string]Controller)}
}

func (r *ControllerRegistry) Register(sessionID string, c Controller) {
	r.mu.Lock()
	r.controllers[sessionID] = c
	r.mu.Unlock()
}

func (r *ControllerRegistry) Get(sessionID string) (Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controllers[sessionID]
	return c, ok
}

// Live returns the controller for sessionID only if it still claims that session.
func (r *ControllerRegistry) Live(sessionID string) (Controller, bool) {
	c, ok := r.Get(sessionID)
	if !ok || !c.State().IsBoundTo(sessionID) {
		return nil, false
	}
	return c, true
}

func (r *ControllerRegistry) Remove(sessionID string) {
	r.mu.Lock()
	delete(r.controllers, sessionID)
	r.mu.Unlock()
}

func (r *ControllerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.controllers)
}
