package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []State
		ok   bool
	}{
		{"fresh task", []State{StateRunning, StateWaitingForModel, StateWaitingForApproval, StateWaitingForModel, StateRunning, StateCompleted}, true},
		{"resumed task", []State{StateResuming, StateWaitingForApproval, StateResuming, StateRunning}, true},
		{"abort while waiting", []State{StateRunning, StateWaitingForModel, StateAborted}, true},
		{"complete from created", []State{StateCompleted}, false},
		{"model from resuming", []State{StateResuming, StateWaitingForModel}, false},
		{"leave completed", []State{StateRunning, StateCompleted, StateRunning}, false},
		{"abort twice", []State{StateAborted, StateAborted}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m stateMachine
			var err error
			for _, s := range tt.path {
				if err = m.Transition(s); err != nil {
					break
				}
			}
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.path[len(tt.path)-1], m.Current())
			} else {
				assert.True(t, errors.Is(err, ErrIllegalTransition), "got %v", err)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "waiting_for_approval", StateWaitingForApproval.String())
	assert.Equal(t, "state(42)", State(42).String())
	assert.True(t, StateAborted.Terminal())
	assert.False(t, StateRunning.Terminal())
}
