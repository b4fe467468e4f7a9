package engine

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"followme.ai/internal/sim/mathx"
	"followme.ai/internal/sim/program"
)

// fakeHost counts effects and wires loop/termination calls back into the machine.
type fakeHost struct {
	m *Machine

	counts   map[string]int
	trace    []string
	resumed  int
	region   bool
	unsigErr error
	rng      *rand.Rand
}

func newFakeHost() *fakeHost {
	h := &fakeHost{m: &Machine{}, counts: map[string]int{}, rng: rand.New(rand.NewPCG(1, 1))}
	return h
}

func (h *fakeHost) note(s string) {
	h.counts[s]++
	h.trace = append(h.trace, s)
}

func (h *fakeHost) Move(mathx.Vec2, float64)              { h.note("move") }
func (h *fakeHost) Rand() *rand.Rand                      { return h.rng }
func (h *fakeHost) Signal(l string)                       { h.note("signal " + l) }
func (h *fakeHost) Follow(string, float64, float64) error { h.note("follow"); return nil }
func (h *fakeHost) Stop()                                 { h.note("stop") }
func (h *fakeHost) ContinueFor(s int)                     { h.m.ContinueFor(int64(s) * 1000) }
func (h *fakeHost) InRegion(string) bool                  { return h.region }
func (h *fakeHost) Terminate()                            { h.note("end"); h.m.Terminate() }
func (h *fakeHost) ResumeMove()                           { h.resumed++ }
func (h *fakeHost) Enter(body []program.Instruction, owner program.Instruction) {
	h.m.Enter(body, owner)
}
func (h *fakeHost) Unsignal(l string) error {
	if h.unsigErr != nil {
		return h.unsigErr
	}
	h.note("unsignal " + l)
	return nil
}

func (h *fakeHost) run(t *testing.T, maxTicks int) int {
	t.Helper()
	for i := 0; i < maxTicks; i++ {
		if h.m.Terminated() {
			return i
		}
		require.NoError(t, h.m.Step(h, 100))
	}
	return maxTicks
}

func mv() program.Instruction { return program.Move{Offset: mathx.Vec2{X: 1, Y: 1}, Speed: 3} }

func TestExampleProgram(t *testing.T) {
	// SIGNAL A; REPEAT 2 [MOVE 1 1 3]; UNSIGNAL A; MOVE 1 1 3
	prog := []program.Instruction{
		program.Signal{Label: "A"},
		program.NewRepeat(2, []program.Instruction{mv()}),
		program.Unsignal{Label: "A"},
		mv(),
	}
	h := newFakeHost()
	h.m.Load(prog)
	ticks := h.run(t, 100)

	require.True(t, h.m.Terminated())
	assert.Equal(t, []string{"signal A", "move", "move", "unsignal A", "move", "end"}, h.trace)
	// signal, repeat(enter), move, move, repeat-end, unsignal, move, root-end
	assert.Equal(t, 8, ticks)
}

func TestTerminationIsSticky(t *testing.T) {
	h := newFakeHost()
	h.m.Load([]program.Instruction{program.Signal{Label: "A"}})
	h.run(t, 10)
	require.True(t, h.m.Terminated())

	before := len(h.trace)
	for i := 0; i < 5; i++ {
		require.NoError(t, h.m.Step(h, 100))
		assert.True(t, h.m.Terminated())
	}
	assert.Len(t, h.trace, before)
	assert.Equal(t, 0, h.m.Depth())
}

func TestRepeatZero_FallsThrough(t *testing.T) {
	h := newFakeHost()
	h.m.Load([]program.Instruction{
		program.NewRepeat(0, []program.Instruction{program.Signal{Label: "X"}}),
		program.Signal{Label: "after"},
	})
	require.NoError(t, h.m.Step(h, 100))
	assert.Equal(t, 1, h.m.Depth(), "no frame pushed for an empty repetition")
	require.NoError(t, h.m.Step(h, 100))
	assert.Equal(t, []string{"signal after"}, h.trace)
}

func TestNestedRepeatCounts(t *testing.T) {
	inner := program.NewRepeat(3, []program.Instruction{program.Signal{Label: "in"}})
	outer := program.NewRepeat(2, []program.Instruction{inner, program.Signal{Label: "out"}})
	h := newFakeHost()
	h.m.Load([]program.Instruction{outer})
	h.run(t, 1000)
	require.True(t, h.m.Terminated())
	assert.Equal(t, 6, h.counts["signal in"])
	assert.Equal(t, 2, h.counts["signal out"])
}

func TestForever_NeverTerminates(t *testing.T) {
	h := newFakeHost()
	h.m.Load([]program.Instruction{
		program.NewForever([]program.Instruction{program.Signal{Label: "A"}}),
		program.Signal{Label: "unreachable"},
	})
	ticks := h.run(t, 500)
	assert.Equal(t, 500, ticks)
	assert.False(t, h.m.Terminated())
	assert.Zero(t, h.counts["signal unreachable"])
	assert.Greater(t, h.counts["signal A"], 200)
}

func TestForever_EmptyBodyNeverTerminates(t *testing.T) {
	h := newFakeHost()
	h.m.Load([]program.Instruction{program.NewForever(nil)})
	assert.Equal(t, 100, h.run(t, 100))
	assert.False(t, h.m.Terminated())
}

func TestForever_EndInsideBodyStops(t *testing.T) {
	h := newFakeHost()
	h.m.Load([]program.Instruction{
		program.NewForever([]program.Instruction{program.Signal{Label: "A"}, program.End{}}),
	})
	h.run(t, 100)
	assert.True(t, h.m.Terminated())
	assert.Equal(t, 1, h.counts["signal A"])
}

func TestUntil_SatisfiedAtEntrySkipsBody(t *testing.T) {
	h := newFakeHost()
	h.region = true
	h.m.Load([]program.Instruction{
		program.NewUntil("Z", []program.Instruction{program.Signal{Label: "body"}}),
		program.Signal{Label: "after"},
	})
	h.run(t, 100)
	require.True(t, h.m.Terminated())
	assert.Zero(t, h.counts["signal body"])
	assert.Equal(t, 1, h.counts["signal after"])
}

func TestUntil_RepeatsUntilSatisfied(t *testing.T) {
	h := newFakeHost()
	h.m.Load([]program.Instruction{
		program.NewUntil("Z", []program.Instruction{program.Signal{Label: "body"}}),
		program.Signal{Label: "after"},
	})
	for h.counts["signal body"] < 4 {
		require.NoError(t, h.m.Step(h, 100))
	}
	h.region = true
	h.run(t, 100)
	require.True(t, h.m.Terminated())
	assert.Equal(t, 4, h.counts["signal body"])
	assert.Equal(t, 1, h.counts["signal after"])
}

func TestContinue_HoldsPointerAndKeepsMoving(t *testing.T) {
	h := newFakeHost()
	h.m.Load([]program.Instruction{
		mv(),
		program.Continue{Seconds: 1},
		program.Signal{Label: "A"},
	})
	require.NoError(t, h.m.Step(h, 100)) // move
	require.NoError(t, h.m.Step(h, 100)) // continue: 1000ms
	resumedBefore := h.resumed
	for i := 0; i < 10; i++ {
		require.NoError(t, h.m.Step(h, 100))
		assert.Zero(t, h.counts["signal A"], "tick %d", i)
	}
	assert.Equal(t, resumedBefore+10, h.resumed)
	assert.Zero(t, h.m.ContinuingMs())
	require.NoError(t, h.m.Step(h, 100))
	assert.Equal(t, 1, h.counts["signal A"])
}

func TestContinue_UnevenDurationsClearCountdown(t *testing.T) {
	h := newFakeHost()
	h.m.Load([]program.Instruction{program.Continue{Seconds: 1}, program.Signal{Label: "A"}})
	require.NoError(t, h.m.Step(h, 300))
	for i := 0; i < 4; i++ {
		require.NoError(t, h.m.Step(h, 300))
	}
	assert.Zero(t, h.m.ContinuingMs())
	require.NoError(t, h.m.Step(h, 300))
	assert.Equal(t, 1, h.counts["signal A"])
}

func TestResumeMove_BeforeNonMoveOnly(t *testing.T) {
	h := newFakeHost()
	h.m.Load([]program.Instruction{mv(), program.Signal{Label: "A"}, mv()})
	require.NoError(t, h.m.Step(h, 100))
	assert.Equal(t, 0, h.resumed)
	require.NoError(t, h.m.Step(h, 100))
	assert.Equal(t, 1, h.resumed)
	require.NoError(t, h.m.Step(h, 100))
	assert.Equal(t, 1, h.resumed)
}

func TestStepError_KeepsPointer(t *testing.T) {
	h := newFakeHost()
	h.unsigErr = errors.New("label not active")
	h.m.Load([]program.Instruction{program.Unsignal{Label: "Z1"}})

	err := h.m.Step(h, 100)
	require.Error(t, err)
	cur, ok := h.m.Current()
	require.True(t, ok)
	assert.Equal(t, program.KindUnsignal, cur.Kind())

	h.unsigErr = nil
	h.run(t, 10)
	assert.True(t, h.m.Terminated())
}

func TestLoad_ResetsState(t *testing.T) {
	h := newFakeHost()
	h.m.Load([]program.Instruction{program.NewForever([]program.Instruction{program.Continue{Seconds: 5}})})
	h.run(t, 5)
	require.Greater(t, h.m.Depth(), 1)

	h.m.Load([]program.Instruction{program.Signal{Label: "B"}})
	assert.Equal(t, 1, h.m.Depth())
	assert.Zero(t, h.m.ContinuingMs())
	assert.False(t, h.m.Terminated())
	h.run(t, 10)
	assert.True(t, h.m.Terminated())
}

func TestDeepNestingWithoutRecursion(t *testing.T) {
	body := []program.Instruction{program.Signal{Label: "leaf"}}
	const depth = 10000
	for i := 0; i < depth; i++ {
		body = []program.Instruction{program.NewRepeat(1, body)}
	}
	h := newFakeHost()
	h.m.Load(body)
	h.run(t, 3*depth+10)
	require.True(t, h.m.Terminated())
	assert.Equal(t, 1, h.counts["signal leaf"])
}

func TestStep_EmptyStackPanics(t *testing.T) {
	h := newFakeHost()
	assert.PanicsWithError(t, (&InvariantError{Op: "peek", Reason: "empty frame stack"}).Error(), func() {
		_ = h.m.Step(h, 100)
	})
}

func TestStack_AdvancePastEndPanics(t *testing.T) {
	var s Stack
	s.Push([]program.Instruction{program.Stop{}}, program.End{})
	s.Advance(0)
	defer func() {
		r := recover()
		require.NotNil(t, r)
		var ie *InvariantError
		require.True(t, errors.As(r.(error), &ie))
		assert.Equal(t, "advance", ie.Op)
	}()
	s.Advance(0)
}
