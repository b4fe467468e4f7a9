package swarm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"followme.ai/internal/sim/agent"
	"followme.ai/internal/sim/mathx"
	"followme.ai/internal/sim/program"
	"followme.ai/internal/sim/region"
)

func exampleProgram() []program.Instruction {
	mv := program.Move{Offset: mathx.Vec2{X: 1, Y: 1}, Speed: 3}
	return []program.Instruction{
		program.Signal{Label: "A"},
		program.NewRepeat(2, []program.Instruction{mv}),
		program.Unsignal{Label: "A"},
		mv,
	}
}

func newSwarm(t *testing.T, n int, seed int64) *Coordinator {
	t.Helper()
	c := New(Config{Seed: seed})
	require.NoError(t, c.Configure(n))
	return c
}

func TestTick_RequiresProgram(t *testing.T) {
	c := newSwarm(t, 2, 1)
	assert.ErrorIs(t, c.Tick(100, 100), ErrNotProgrammed)
}

func TestConfigure_RejectsNegative(t *testing.T) {
	c := New(Config{})
	assert.Error(t, c.Configure(-1))
}

func TestEmptySwarmIsDone(t *testing.T) {
	c := newSwarm(t, 0, 1)
	c.LoadProgram(exampleProgram())
	require.NoError(t, c.Tick(100, 100))
	assert.True(t, c.Done())
}

func TestExampleProgramTerminatesTogether(t *testing.T) {
	c := newSwarm(t, 4, 1)
	c.LoadProgram(exampleProgram())

	rounds := 0
	for !c.Done() {
		require.NoError(t, c.Tick(100, 100))
		rounds++
		require.Less(t, rounds, 100)
	}
	// SIGNAL, REPEAT, MOVE, MOVE, repeat end, UNSIGNAL, MOVE, END
	assert.Equal(t, 8, rounds)
	assert.Equal(t, uint64(8), c.Round())
	for _, s := range c.Snapshot() {
		assert.True(t, s.Terminated)
		assert.Empty(t, s.Signals)
	}
}

func TestPeersComeFromRoundStartSnapshot(t *testing.T) {
	c := newSwarm(t, 3, 1)
	c.LoadProgram([]program.Instruction{
		program.Signal{Label: "A"},
		program.Unsignal{Label: "A"},
		program.Stop{},
	})

	// Nobody signals at the start of round 1, even though agents 0 and 1 signal
	// before agent 2 ticks.
	require.NoError(t, c.Tick(100, 100))
	for _, s := range c.Snapshot() {
		assert.Empty(t, s.Peers, "agent %d", s.ID)
		assert.Equal(t, []string{"A"}, s.Signals)
	}

	require.NoError(t, c.Tick(100, 100))
	snap := c.Snapshot()
	assert.Equal(t, []int{1, 2}, snap[0].Peers)
	assert.Equal(t, []int{0, 2}, snap[1].Peers)
	assert.Equal(t, []int{0, 1}, snap[2].Peers)

	require.NoError(t, c.Tick(100, 100))
	for _, s := range c.Snapshot() {
		assert.Empty(t, s.Peers)
	}
}

func TestTick_JoinsAgentErrors(t *testing.T) {
	c := newSwarm(t, 3, 1)
	c.LoadProgram([]program.Instruction{program.Unsignal{Label: "Z1"}})

	err := c.Tick(100, 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, agent.ErrLabelNotActive)

	var ee *agent.ExecutionError
	assert.True(t, errors.As(err, &ee))

	faults := AgentErrors(err)
	require.Len(t, faults, 3)
	for i, f := range faults {
		assert.Equal(t, i, f.Index)
	}
	assert.False(t, c.Done())

	require.NoError(t, c.Retire(0))
	require.NoError(t, c.Retire(1))
	require.NoError(t, c.Retire(2))
	assert.True(t, c.Done())
	assert.Error(t, c.Retire(3))
}

func TestLoadRegions_PlacesAgents(t *testing.T) {
	c := New(Config{Seed: 9})
	require.NoError(t, c.LoadRegions([]region.Def{
		{Label: "Z1", Shape: "circle", Args: []float64{100, 100, 2}},
		{Label: "Z2", Shape: "RECTANGLE", Args: []float64{-100, -100, 4, 2}},
	}))
	require.NoError(t, c.Configure(20))

	for _, s := range c.Snapshot() {
		assert.Contains(t, []string{"Z1", "Z2"}, s.Region, "agent %d at %v", s.ID, s.Pos)
	}

	require.Error(t, c.LoadRegions([]region.Def{{Label: "bad", Shape: "circle", Args: []float64{1, 2}}}))
	assert.Equal(t, 2, c.Regions().Len(), "failed load keeps the old catalog")
}

func TestLoadRegions_ReplacesExistingAgents(t *testing.T) {
	c := newSwarm(t, 5, 3)
	require.NoError(t, c.LoadRegions([]region.Def{
		{Label: "FAR", Shape: "circle", Args: []float64{1000, 1000, 1}},
	}))
	for _, s := range c.Snapshot() {
		assert.Equal(t, "FAR", s.Region)
	}
}

func TestConfigure_ReusesLoadedProgram(t *testing.T) {
	c := newSwarm(t, 1, 1)
	c.LoadProgram(exampleProgram())
	require.NoError(t, c.Configure(2))
	require.NoError(t, c.Tick(100, 100))
	for _, s := range c.Snapshot() {
		assert.Equal(t, []string{"A"}, s.Signals)
	}
}

func wanderProgram() []program.Instruction {
	return []program.Instruction{
		program.Signal{Label: "A"},
		program.NewForever([]program.Instruction{
			program.MoveRandom{X1: -1, X2: 1, Y1: -1, Y2: 1, Speed: 2},
			program.Follow{Label: "A", Radius: 3, Speed: 1},
		}),
	}
}

func digests(t *testing.T, seed int64, rounds int) []string {
	t.Helper()
	c := newSwarm(t, 6, seed)
	c.LoadProgram(wanderProgram())
	out := make([]string, 0, rounds)
	for i := 0; i < rounds; i++ {
		require.NoError(t, c.Tick(100, 250))
		out = append(out, Digest(c.Round(), c.Snapshot()))
	}
	return out
}

func TestDeterministicForSeed(t *testing.T) {
	a := digests(t, 42, 50)
	b := digests(t, 42, 50)
	assert.Equal(t, a, b)

	other := digests(t, 43, 50)
	assert.NotEqual(t, a[len(a)-1], other[len(other)-1])
}

func TestSnapshotIsACopy(t *testing.T) {
	c := newSwarm(t, 2, 1)
	c.LoadProgram([]program.Instruction{program.Signal{Label: "A"}})
	require.NoError(t, c.Tick(100, 100))
	snap := c.Snapshot()
	snap[0].Signals[0] = "mutated"
	assert.Equal(t, []string{"A"}, c.Snapshot()[0].Signals)
}
