package indexdb

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"followme.ai/internal/protocol"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqRound}

	_ = s.Begin(protocol.RunHeader{})
	_ = s.Round(protocol.RoundMsg{Round: 2})
	_ = s.Round(protocol.RoundMsg{Round: 3})
	_ = s.End(protocol.DoneMsg{})

	st := s.Stats()
	assert.Equal(t, uint64(1), st.DropRunTotal)
	assert.Equal(t, uint64(2), st.DropRoundTotal)
	assert.Equal(t, uint64(1), st.DropDoneTotal)
	assert.Equal(t, 1, st.QueueDepth)
	assert.Equal(t, 1, st.QueueCapacity)
}

func TestSQLiteIndex_NilAndClosedAreNoops(t *testing.T) {
	var s *SQLiteIndex
	require.NoError(t, s.Round(protocol.RoundMsg{}))
	assert.Equal(t, Stats{}, s.Stats())
}

func TestSQLiteIndex_WritesRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	require.NoError(t, err)

	require.NoError(t, idx.Begin(protocol.RunHeader{
		RunID:          "r1",
		StartedAt:      "2026-01-01T00:00:00Z",
		Seed:           5,
		SwarmSize:      2,
		InstructionMs:  100,
		SimMs:          100,
		ErrorPolicy:    "retire",
		ScenarioName:   "demo",
		ScenarioDigest: "abc",
		Scenario:       json.RawMessage(`{"program":[]}`),
	}))
	for r := uint64(1); r <= 3; r++ {
		m := protocol.RoundMsg{
			RunID:     "r1",
			Round:     r,
			SimTimeMs: int64(r) * 100,
			Digest:    "d" + string(rune('0'+r)),
			Agents: []protocol.AgentState{
				{ID: 0, Pos: [2]float64{float64(r), 0}, Signals: []string{"A"}},
				{ID: 1, Pos: [2]float64{0, float64(r)}, Terminated: r == 3},
			},
		}
		if r == 2 {
			m.Errors = []protocol.AgentFault{{AgentID: 1, Code: protocol.ErrLabelNotActive, Message: "x"}}
		}
		require.NoError(t, idx.Round(m))
	}
	require.NoError(t, idx.End(protocol.DoneMsg{RunID: "r1", Rounds: 3, SwarmDone: false, Reason: "max_rounds", Digest: "d3"}))
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	rd, err := OpenReader(path)
	require.NoError(t, err)
	defer rd.Close()
	ctx := context.Background()

	runs, err := rd.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, RunRow{
		RunID:          "r1",
		StartedAt:      "2026-01-01T00:00:00Z",
		Seed:           5,
		SwarmSize:      2,
		ScenarioName:   "demo",
		ScenarioDigest: "abc",
		Rounds:         3,
		SwarmDone:      false,
		Reason:         "max_rounds",
		FinalDigest:    "d3",
	}, runs[0])

	digests, err := rd.RoundDigests(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, map[uint64]string{1: "d1", 2: "d2", 3: "d3"}, digests)

	traj, err := rd.Trajectory(ctx, "r1", 1)
	require.NoError(t, err)
	require.Len(t, traj, 3)
	assert.Equal(t, 2.0, traj[1].Y)
	assert.Nil(t, traj[0].Signals)
	assert.True(t, traj[2].Terminated)

	traj0, err := rd.Trajectory(ctx, "r1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, traj0[0].Signals)

	faults, err := rd.FaultCodes(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{protocol.ErrLabelNotActive: 1}, faults)
}

func TestOpen_Errors(t *testing.T) {
	_, err := OpenSQLite("")
	assert.Error(t, err)
	_, err = OpenReader(filepath.Join(t.TempDir(), "missing.db"))
	assert.Error(t, err)
}
