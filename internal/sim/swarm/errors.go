package swarm

import (
	"errors"
	"fmt"
)

// ErrNotProgrammed is returned by Tick before a program has been loaded.
var ErrNotProgrammed = errors.New("swarm has no program loaded")

// AgentError attributes an execution error to one agent of the swarm.
type AgentError struct {
	Index int
	Err   error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %d: %v", e.Index, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }

// AgentErrors flattens the per-agent errors joined into err by Tick.
func AgentErrors(err error) []*AgentError {
	if err == nil {
		return nil
	}
	var out []*AgentError
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range j.Unwrap() {
			out = append(out, AgentErrors(e)...)
		}
		return out
	}
	var ae *AgentError
	if errors.As(err, &ae) {
		out = append(out, ae)
	}
	return out
}
