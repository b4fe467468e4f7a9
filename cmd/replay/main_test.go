package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	persistlog "followme.ai/internal/persistence/log"
	"followme.ai/internal/protocol"
	"followme.ai/internal/sim/driver"
	"followme.ai/internal/sim/scenario"
	"followme.ai/internal/sim/tuning"
)

// tamper rewrites the digest of one round before it reaches the log.
type tamper struct {
	next  *persistlog.RoundLogger
	round uint64
}

func (t tamper) Begin(h protocol.RunHeader) error { return t.next.Begin(h) }
func (t tamper) Round(m protocol.RoundMsg) error {
	if m.Round == t.round {
		m.Digest = "bogus"
	}
	return t.next.Round(m)
}
func (t tamper) End(d protocol.DoneMsg) error { return t.next.End(d) }

func record(t *testing.T, every int, corruptRound uint64) string {
	t.Helper()
	sc, err := scenario.Load("../../configs/scenarios/wander.yaml")
	require.NoError(t, err)
	tn := tuning.Defaults()
	tn.SwarmSize = 4
	tn.MaxRounds = 30
	tn.SnapshotEveryRounds = every

	dir := t.TempDir()
	logger := persistlog.NewRoundLogger(dir, 10)
	var sink driver.RoundSink = logger
	if corruptRound != 0 {
		sink = tamper{next: logger, round: corruptRound}
	}
	d, err := driver.New(driver.Config{Tuning: tn, Scenario: sc, Sinks: []driver.RoundSink{sink}})
	require.NoError(t, err)
	_, err = d.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, logger.Close())
	return dir
}

func TestVerify_EveryRound(t *testing.T) {
	rep, err := verify(record(t, 1, 0), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), rep.Checked)
	assert.Equal(t, uint64(30), rep.LastRound)
	assert.Equal(t, 4, rep.Agents)
	assert.Equal(t, "wander", rep.Scenario)
}

func TestVerify_SparseRounds(t *testing.T) {
	rep, err := verify(record(t, 7, 0), 0)
	require.NoError(t, err)
	// 7, 14, 21, 28 and the final round
	assert.Equal(t, uint64(5), rep.Checked)
	assert.Equal(t, uint64(30), rep.LastRound)
}

func TestVerify_StopsAtRound(t *testing.T) {
	rep, err := verify(record(t, 1, 0), 12)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), rep.Checked)
	assert.Equal(t, uint64(12), rep.LastRound)
}

func TestVerify_DetectsMismatch(t *testing.T) {
	_, err := verify(record(t, 1, 17), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "digest mismatch at round 17")
}

func TestVerify_MissingRun(t *testing.T) {
	_, err := verify(t.TempDir(), 0)
	assert.Error(t, err)
}

func TestTuningFor(t *testing.T) {
	tn := tuningFor(protocol.RunHeader{
		ProtocolVersion: protocol.Version,
		Seed:            5,
		SwarmSize:       3,
		InstructionMs:   50,
		SimMs:           25,
		MaxRounds:       9,
		ErrorPolicy:     "retire",
	})
	require.NoError(t, tn.Validate())
	assert.Equal(t, int64(5), tn.Seed)
	assert.Equal(t, 3, tn.SwarmSize)
	assert.Equal(t, tuning.PolicyRetire, tn.ErrorPolicy)
	assert.Equal(t, 9, tn.MaxRounds)
}
