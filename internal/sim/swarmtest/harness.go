package swarmtest

import (
	"testing"

	"followme.ai/internal/sim/agent"
	"followme.ai/internal/sim/mathx"
	"followme.ai/internal/sim/scenario"
	"followme.ai/internal/sim/swarm"
)

// Harness drives a swarm through its exported API only:
// - scenarios are given as YAML text and compiled like scenario files
// - Step/StepUntilDone tick the coordinator and record a digest per round
// - Agent/Digest expose the last observed state
type Harness struct {
	T *testing.T
	S *swarm.Coordinator

	InstrMs int64
	SimMs   int64

	states  []agent.State
	digests []string
}

// NewHarness compiles yaml and configures n agents seeded with seed.
func NewHarness(t *testing.T, yaml string, n int, seed int64) *Harness {
	t.Helper()

	sc, err := scenario.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("scenario.Parse: %v", err)
	}
	s := swarm.New(swarm.Config{Seed: seed})
	if err := s.LoadRegions(sc.Regions); err != nil {
		t.Fatalf("LoadRegions: %v", err)
	}
	if err := s.Configure(n); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	s.LoadProgram(sc.Program)

	h := &Harness{T: t, S: s, InstrMs: 100, SimMs: 100}
	h.states = s.Snapshot()
	return h
}

// Step runs one round and fails the test on any execution error.
func (h *Harness) Step() {
	h.T.Helper()
	if err := h.TryStep(); err != nil {
		h.T.Fatalf("round %d: %v", h.S.Round(), err)
	}
}

// TryStep runs one round and returns its execution error, if any.
func (h *Harness) TryStep() error {
	err := h.S.Tick(h.InstrMs, h.SimMs)
	h.states = h.S.Snapshot()
	h.digests = append(h.digests, swarm.Digest(h.S.Round(), h.states))
	return err
}

func (h *Harness) StepN(n int) {
	h.T.Helper()
	for i := 0; i < n; i++ {
		h.Step()
	}
}

// StepUntilDone steps until every agent terminated and returns the number of rounds
// taken. It fails the test after limit rounds.
func (h *Harness) StepUntilDone(limit int) int {
	h.T.Helper()
	for i := 0; i < limit; i++ {
		if h.S.Done() {
			return i
		}
		h.Step()
	}
	if !h.S.Done() {
		h.T.Fatalf("swarm not done after %d rounds", limit)
	}
	return limit
}

func (h *Harness) Agent(i int) agent.State {
	h.T.Helper()
	if i < 0 || i >= len(h.states) {
		h.T.Fatalf("unknown agent %d", i)
	}
	return h.states[i]
}

func (h *Harness) Pos(i int) mathx.Vec2 { return h.Agent(i).Pos }

// Digests returns the digest of every round stepped so far.
func (h *Harness) Digests() []string {
	return append([]string(nil), h.digests...)
}

// FailedAgents lists the indexes of agents that failed in err.
func FailedAgents(err error) []int {
	var out []int
	for _, ae := range swarm.AgentErrors(err) {
		out = append(out, ae.Index)
	}
	return out
}
