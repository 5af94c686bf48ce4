package engine

import (
	"time"

	"github.com/google/uuid"
)

// Policy decides the next step to run given the current state.
// Returning nil means the engine is idle until more input arrives.
type Policy interface {
	Next(state State) *Step
}

type defaultPolicy struct{}

// DefaultPolicy records each queued user input and answers it with a response step.
func DefaultPolicy() Policy {
	return defaultPolicy{}
}

func (defaultPolicy) Next(state State) *Step {
	now := time.Now()

	// Answer the last input first
	if n := len(state.History); n > 0 && state.History[n-1].Kind == StepUserInput {
		last := state.History[n-1]
		return &Step{
			ID:        uuid.NewString(),
			Name:      "Response",
			Kind:      StepResponse,
			Input:     last.Input,
			Output:    last.Input,
			CreatedAt: now,
		}
	}

	if len(state.UserInputQueue) == 0 {
		return nil
	}
	return &Step{
		ID:        uuid.NewString(),
		Name:      "User Input",
		Kind:      StepUserInput,
		Input:     state.UserInputQueue[0],
		CreatedAt: now,
	}
}
