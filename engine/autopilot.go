package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrAlreadyRunning = errors.New("engine already running")
	ErrStopped        = errors.New("engine stopped")
	ErrInputQueueFull = errors.New("engine input queue full")
)

// Controller is the view of the IDE connection an engine needs.
type Controller interface {
	ID() string
}

// Engine is the automation loop owned by one session.
type Engine interface {
	// Run blocks until ctx is cancelled.
	Run(ctx context.Context) error
	// FullState returns a copy of the current state. It waits for the run loop
	// to finish whatever step it is applying.
	FullState(ctx context.Context) (*State, error)
	// OnStateChange registers a listener called after every state change.
	// Listeners run on the engine goroutine and must not block.
	OnStateChange(fn func(State))
	SubmitInput(text string) error
	HandleManualEdits(edits []FileEdit)
}

// Factory builds an engine. state is nil for a fresh session.
type Factory func(ctx context.Context, policy Policy, controller Controller, state *State) (Engine, error)

const inputBufferSize = 32

// Autopilot is the default Engine. All state mutation happens on the Run goroutine.
type Autopilot struct {
	policy     Policy
	controller Controller

	state State

	listenersMu sync.RWMutex
	listeners   []func(State)

	inputs    chan string
	stateReqs chan chan State
	started   atomic.Bool
	done      chan struct{}
}

var _ Engine = (*Autopilot)(nil)

// NewAutopilot is the default Factory.
func NewAutopilot(_ context.Context, policy Policy, controller Controller, state *State) (Engine, error) {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if state == nil {
		state = NewState()
	} else if err := state.Validate(); err != nil {
		return nil, err
	}

	initial := state.Clone()
	// A snapshot taken mid-step is resumed idle
	initial.Active = false

	return &Autopilot{
		policy:     policy,
		controller: controller,
		state:      initial,
		inputs:     make(chan string, inputBufferSize),
		stateReqs:  make(chan chan State),
		done:       make(chan struct{}),
	}, nil
}

// OnStateChange implements Engine.
func (a *Autopilot) OnStateChange(fn func(State)) {
	a.listenersMu.Lock()
	a.listeners = append(a.listeners, fn)
	a.listenersMu.Unlock()
}

// SubmitInput queues user input for the run loop.
func (a *Autopilot) SubmitInput(text string) error {
	select {
	case <-a.done:
		return ErrStopped
	default:
	}
	select {
	case a.inputs <- text:
		return nil
	default:
		return ErrInputQueueFull
	}
}

// HandleManualEdits is the hook for edits the user makes directly in the IDE.
// Edits are not buffered into the history; policies that need them can wrap
// the engine and override this.
func (a *Autopilot) HandleManualEdits(edits []FileEdit) {}

// FullState implements Engine.
func (a *Autopilot) FullState(ctx context.Context) (*State, error) {
	reply := make(chan State, 1)
	select {
	case a.stateReqs <- reply:
	case <-a.done:
		// The loop has exited and no longer writes a.state
		s := a.state.Clone()
		return &s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case s := <-reply:
		return &s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run implements Engine.
func (a *Autopilot) Run(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(a.done)

	// Resumed snapshots may still have queued input
	a.advance()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text := <-a.inputs:
			a.state.UserInputQueue = append(a.state.UserInputQueue, text)
			a.touch()
			a.emit()
			a.advance()
		case reply := <-a.stateReqs:
			reply <- a.state.Clone()
		}
	}
}

// advance applies policy steps until the policy goes idle.
func (a *Autopilot) advance() {
	ran := false
	for {
		step := a.policy.Next(a.state.Clone())
		if step == nil {
			break
		}
		if !ran {
			a.state.Active = true
			ran = true
		}
		if step.Kind == StepUserInput && len(a.state.UserInputQueue) > 0 {
			a.state.UserInputQueue = a.state.UserInputQueue[1:]
		}
		a.state.History = append(a.state.History, *step)
		a.touch()
		a.emit()
	}
	if ran {
		a.state.Active = false
		a.touch()
		a.emit()
	}
}

func (a *Autopilot) touch() {
	a.state.UpdatedAt = time.Now()
}

func (a *Autopilot) emit() {
	a.listenersMu.RLock()
	listeners := append([]func(State){}, a.listeners...)
	a.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(a.state.Clone())
	}
}
