// Package engine runs robot programs one step per tick.
//
// A Machine turns the nested instruction tree into resumable, iterative execution with
// an explicit frame stack: entering a loop pushes a frame, running off the end of a
// body pops it and applies the loop-end policy of the frame's owner. Nothing recurses,
// so nesting depth is bounded by memory only.
package engine

import (
	"followme.ai/internal/sim/program"
)

// Host is the agent a Machine drives.
type Host interface {
	program.Context
	// ResumeMove re-applies the most recent move order, if any.
	ResumeMove()
}

type Machine struct {
	stack      Stack
	terminated bool
	continueMs int64
	loaded     bool
}

// Load resets the machine onto instrs. The root frame is owned by END, which keeps the
// stack non-empty until the program terminates.
func (m *Machine) Load(instrs []program.Instruction) {
	m.stack.Clear()
	m.stack.Push(instrs, program.End{})
	m.terminated = false
	m.continueMs = 0
	m.loaded = true
}

func (m *Machine) Loaded() bool     { return m.loaded }
func (m *Machine) Terminated() bool { return m.terminated }
func (m *Machine) Terminate()       { m.terminated = true }
func (m *Machine) Depth() int       { return m.stack.Len() }

// Enter pushes a frame for body; owner decides what happens once it is exhausted.
func (m *Machine) Enter(body []program.Instruction, owner program.Instruction) {
	m.stack.Push(body, owner)
}

// ContinueFor holds the instruction pointer for ms of instruction time.
func (m *Machine) ContinueFor(ms int64) {
	if ms < 0 {
		ms = 0
	}
	m.continueMs = ms
}

func (m *Machine) ContinuingMs() int64 { return m.continueMs }

// Current returns the instruction the next Step will execute, if the top frame has one.
func (m *Machine) Current() (program.Instruction, bool) {
	if m.terminated || m.stack.Len() == 0 {
		return nil, false
	}
	top := m.stack.Top()
	if top.Exhausted() {
		return nil, false
	}
	return top.Body[top.IP], true
}

func (m *Machine) Frames() []Frame { return m.stack.Frames() }

// Step advances exactly one unit of control flow. instrMs is the instruction duration
// of the tick. Errors come from instruction effects; when one is returned the pointer
// has not moved and the same instruction runs again next tick.
func (m *Machine) Step(h Host, instrMs int64) error {
	if m.terminated {
		return nil
	}
	if m.continueMs > 0 {
		m.continueMs -= instrMs
		if m.continueMs < 0 {
			m.continueMs = 0
		}
		h.ResumeMove()
		return nil
	}

	depth := m.stack.Len() - 1
	top := m.stack.Top()
	if top.Exhausted() {
		return m.endLoop(h)
	}

	ins := top.Body[top.IP]
	if !isMove(ins.Kind()) {
		h.ResumeMove()
	}
	if err := ins.Apply(h); err != nil {
		return err
	}
	// Apply may have pushed a frame above depth; the executing frame is the one advanced.
	m.stack.Advance(depth)
	return nil
}

func (m *Machine) endLoop(h Host) error {
	f := m.stack.Pop()
	switch f.Owner.Kind() {
	case program.KindRepeat:
		// Repetitions were unrolled; the parent resumes next tick.
		return nil
	case program.KindEnd, program.KindUntil, program.KindForever:
		// END terminates, UNTIL re-checks its condition, FOREVER re-enters.
		return f.Owner.Apply(h)
	default:
		panic(&InvariantError{Op: "loop end", Reason: "frame owned by " + f.Owner.Kind().String()})
	}
}

func isMove(k program.Kind) bool {
	return k == program.KindMove || k == program.KindMoveRandom
}
