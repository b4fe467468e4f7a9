package engine

import (
	"fmt"

	"followme.ai/internal/sim/program"
)

// InvariantError reports a programming error inside the engine. It is raised with
// panic, never returned: callers cannot recover a machine that hits one.
type InvariantError struct {
	Op     string
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("engine invariant violated in %s: %s", e.Op, e.Reason)
}

// Frame is one activation of a loop body or of the program root.
type Frame struct {
	Body []program.Instruction
	IP   int
	// Owner is applied according to the loop-end policy once IP runs past Body.
	Owner program.Instruction
}

func (f Frame) Exhausted() bool { return f.IP >= len(f.Body) }

// Stack is an array-backed LIFO of frames.
type Stack struct {
	frames []Frame
}

func (s *Stack) Len() int { return len(s.frames) }

func (s *Stack) Push(body []program.Instruction, owner program.Instruction) {
	s.frames = append(s.frames, Frame{Body: body, Owner: owner})
}

func (s *Stack) Pop() Frame {
	if len(s.frames) == 0 {
		panic(&InvariantError{Op: "pop", Reason: "empty frame stack"})
	}
	f := s.frames[len(s.frames)-1]
	s.frames[len(s.frames)-1] = Frame{}
	s.frames = s.frames[:len(s.frames)-1]
	return f
}

func (s *Stack) Top() Frame {
	if len(s.frames) == 0 {
		panic(&InvariantError{Op: "peek", Reason: "empty frame stack"})
	}
	return s.frames[len(s.frames)-1]
}

// Advance moves the instruction pointer of the frame at depth i by one.
func (s *Stack) Advance(i int) {
	if i < 0 || i >= len(s.frames) {
		panic(&InvariantError{Op: "advance", Reason: fmt.Sprintf("no frame at depth %d", i)})
	}
	f := &s.frames[i]
	if f.IP >= len(f.Body) {
		panic(&InvariantError{Op: "advance", Reason: fmt.Sprintf("ip %d already at end of body (len %d)", f.IP, len(f.Body))})
	}
	f.IP++
}

func (s *Stack) Clear() {
	clear(s.frames)
	s.frames = s.frames[:0]
}

// Frames returns a copy of the stack, bottom first.
func (s *Stack) Frames() []Frame {
	return append([]Frame(nil), s.frames...)
}
