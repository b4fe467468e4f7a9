package log

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"followme.ai/internal/protocol"
)

func writeRun(t *testing.T, dir string, rounds uint64, segment int) {
	t.Helper()
	l := NewRoundLogger(dir, segment)
	require.NoError(t, l.Begin(protocol.RunHeader{
		ProtocolVersion: protocol.Version,
		RunID:           "run-1",
		Seed:            7,
		SwarmSize:       2,
		Scenario:        json.RawMessage(`{"program":[{"op":"stop"}]}`),
	}))
	for r := uint64(1); r <= rounds; r++ {
		require.NoError(t, l.Round(protocol.RoundMsg{
			Type:   protocol.TypeRound,
			RunID:  "run-1",
			Round:  r,
			Agents: []protocol.AgentState{{ID: 0, Pos: [2]float64{float64(r), 0}}},
			Digest: "d",
		}))
	}
	require.NoError(t, l.End(protocol.DoneMsg{RunID: "run-1", Rounds: rounds, SwarmDone: true, Reason: "swarm_done"}))
	require.NoError(t, l.Close())
}

func TestRoundLogger_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeRun(t, dir, 25, 10)

	files, err := ListSegments(dir)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "rounds-000000.jsonl.zst", filepath.Base(files[0]))
	assert.Equal(t, "rounds-000002.jsonl.zst", filepath.Base(files[2]))

	var (
		header protocol.RunHeader
		rounds []uint64
		done   protocol.DoneMsg
	)
	require.NoError(t, ReadRun(dir, Visitor{
		Run:   func(h protocol.RunHeader) error { header = h; return nil },
		Round: func(m protocol.RoundMsg) error { rounds = append(rounds, m.Round); return nil },
		Done:  func(d protocol.DoneMsg) error { done = d; return nil },
	}))

	assert.Equal(t, protocol.TypeRun, header.Type)
	assert.Equal(t, int64(7), header.Seed)
	assert.JSONEq(t, `{"program":[{"op":"stop"}]}`, string(header.Scenario))
	require.Len(t, rounds, 25)
	for i, r := range rounds {
		assert.Equal(t, uint64(i+1), r)
	}
	assert.Equal(t, protocol.TypeDone, done.Type)
	assert.Equal(t, uint64(25), done.Rounds)
	assert.True(t, done.SwarmDone)
}

func TestReadHeader(t *testing.T) {
	dir := t.TempDir()
	writeRun(t, dir, 3, 0)
	h, err := ReadHeader(dir)
	require.NoError(t, err)
	assert.Equal(t, "run-1", h.RunID)
}

func TestReadRun_Errors(t *testing.T) {
	_, err := ReadHeader(t.TempDir())
	assert.Error(t, err)

	_, err = ListSegments(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "rounds")
	require.NoError(t, w.Write("000000", map[string]string{"type": "BOGUS"}))
	require.NoError(t, w.Close())
	assert.ErrorContains(t, ReadRun(dir, Visitor{}), "unknown record type")
}

func TestJSONLZstdWriter_AppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "rounds")
	require.NoError(t, w.Write("000000", protocol.RoundMsg{Type: protocol.TypeRound, Round: 1}))
	require.NoError(t, w.Close())
	w2 := NewJSONLZstdWriter(dir, "rounds")
	require.NoError(t, w2.Write("000000", protocol.RoundMsg{Type: protocol.TypeRound, Round: 2}))
	require.NoError(t, w2.Close())

	var got []uint64
	require.NoError(t, ReadRun(dir, Visitor{Round: func(m protocol.RoundMsg) error {
		got = append(got, m.Round)
		return nil
	}}))
	assert.Equal(t, []uint64{1, 2}, got)
}
