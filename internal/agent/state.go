package agent

import (
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle phase of a task.
type State int

const (
	StateCreated State = iota
	StateResuming
	StateRunning
	StateWaitingForModel
	StateWaitingForApproval
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateResuming:
		return "resuming"
	case StateRunning:
		return "running"
	case StateWaitingForModel:
		return "waiting_for_model"
	case StateWaitingForApproval:
		return "waiting_for_approval"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

// ErrIllegalTransition is returned for a transition the table does not
// allow.
var ErrIllegalTransition = errors.New("illegal state transition")

// transitions lists the allowed targets of each state. Aborted is reachable
// from every non-terminal state and is not repeated here.
var transitions = map[State][]State{
	StateCreated:            {StateRunning, StateResuming},
	StateResuming:           {StateRunning, StateWaitingForApproval},
	StateRunning:            {StateWaitingForModel, StateWaitingForApproval, StateCompleted},
	StateWaitingForModel:    {StateRunning, StateWaitingForApproval},
	StateWaitingForApproval: {StateRunning, StateWaitingForModel, StateResuming},
}

// stateMachine guards the lifecycle of one task. The loop goroutine and the
// presenter's drain goroutine both move it, so it has its own lock.
type stateMachine struct {
	mu    sync.Mutex
	state State
}

func (m *stateMachine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to next or returns ErrIllegalTransition.
func (m *stateMachine) Transition(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !allowed(m.state, next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.state, next)
	}
	m.state = next
	return nil
}

func allowed(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateAborted {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
