package agent

import (
	"errors"
	"fmt"

	"followme.ai/internal/protocol"
)

var (
	ErrLabelNotActive = errors.New("label not active")
	// ErrNoPeers is raised when a direction is requested from zero peers. Follow checks
	// for peers before averaging, so this only guards the averaging step itself.
	ErrNoPeers = errors.New("no peers to average")
)

// ExecutionError is a semantic failure of an instruction on one agent.
type ExecutionError struct {
	Code   string
	Reason string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func labelNotActive(label string) *ExecutionError {
	return &ExecutionError{
		Code:   protocol.ErrLabelNotActive,
		Reason: fmt.Sprintf("tried unsignaling %q which is not active", label),
		Err:    ErrLabelNotActive,
	}
}

func directionError() *ExecutionError {
	return &ExecutionError{
		Code:   protocol.ErrDirection,
		Reason: "direction normalization error",
		Err:    ErrNoPeers,
	}
}
