package engine

import (
	"errors"
	"fmt"
	"time"
)

// StepKind classifies a history entry
type StepKind string

const (
	StepUserInput StepKind = "user_input"
	StepResponse  StepKind = "response"
)

// Step is one entry in a session's history
type Step struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      StepKind  `json:"kind"`
	Input     string    `json:"input,omitempty"`
	Output    string    `json:"output,omitempty"`
	Hide      bool      `json:"hide,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// State is the full observable state of one engine at a point in time.
// It is the persistence payload and the body of state_update notifications.
type State struct {
	History        []Step    `json:"history"`
	Active         bool      `json:"active"`
	UserInputQueue []string  `json:"userInputQueue"`
	SavedContext   []string  `json:"savedContext,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// FileEdit is a manual edit reported by the IDE
type FileEdit struct {
	Filepath     string `json:"filepath"`
	Replacement  string `json:"replacement"`
	FileContents string `json:"fileContents,omitempty"`
}

var ErrInvalidState = errors.New("invalid state")

// Validate checks a decoded snapshot before an engine is built from it.
func (s *State) Validate() error {
	if s.History == nil {
		return fmt.Errorf("%w: history missing", ErrInvalidState)
	}
	seen := make(map[string]struct{}, len(s.History))
	for i, step := range s.History {
		if step.ID == "" {
			return fmt.Errorf("%w: step %d has no id", ErrInvalidState, i)
		}
		if _, dup := seen[step.ID]; dup {
			return fmt.Errorf("%w: duplicate step id %s", ErrInvalidState, step.ID)
		}
		seen[step.ID] = struct{}{}
		switch step.Kind {
		case StepUserInput, StepResponse:
		default:
			return fmt.Errorf("%w: step %s has unknown kind %q", ErrInvalidState, step.ID, step.Kind)
		}
	}
	return nil
}

// Clone returns a deep copy safe to hand to other goroutines
func (s State) Clone() State {
	out := s
	out.History = append([]Step(nil), s.History...)
	if out.History == nil {
		out.History = []Step{}
	}
	out.UserInputQueue = append([]string(nil), s.UserInputQueue...)
	if out.UserInputQueue == nil {
		out.UserInputQueue = []string{}
	}
	if s.SavedContext != nil {
		out.SavedContext = append([]string(nil), s.SavedContext...)
	}
	return out
}

// NewState returns an empty, valid state
func NewState() *State {
	return &State{
		History:        []Step{},
		UserInputQueue: []string{},
	}
}
