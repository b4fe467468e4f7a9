package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	persistlog "followme.ai/internal/persistence/log"
	"followme.ai/internal/protocol"
	"followme.ai/internal/sim/driver"
	"followme.ai/internal/sim/scenario"
	"followme.ai/internal/sim/tuning"
)

func main() {
	var (
		runDir  = flag.String("run", "", "run directory containing rounds-*.jsonl.zst")
		toRound = flag.Uint64("to_round", 0, "stop after this round (inclusive, optional)")
	)
	flag.Parse()

	if *runDir == "" {
		fmt.Fprintln(os.Stderr, "missing -run")
		os.Exit(2)
	}

	rep, err := verify(*runDir, *toRound)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: run=%s scenario=%s seed=%d agents=%d checked=%d rounds (last=%d)\n",
		rep.RunID, rep.Scenario, rep.Seed, rep.Agents, rep.Checked, rep.LastRound)
}

var errStop = errors.New("stop")

type report struct {
	RunID     string
	Scenario  string
	Seed      int64
	Agents    int
	Checked   uint64
	LastRound uint64
}

// tuningFor rebuilds the tuning a run was recorded with. Reporting cadence and
// pacing do not affect the simulation and are left at their replay defaults.
func tuningFor(h protocol.RunHeader) tuning.Tuning {
	t := tuning.Defaults()
	t.ProtocolVersion = h.ProtocolVersion
	t.Seed = h.Seed
	t.SwarmSize = h.SwarmSize
	t.InstructionMs = h.InstructionMs
	t.SimMs = h.SimMs
	t.MaxRounds = int(h.MaxRounds)
	t.ErrorPolicy = tuning.ErrorPolicy(h.ErrorPolicy)
	t.SnapshotEveryRounds = 1
	t.Pace = false
	return t
}

// verify re-simulates the run stored in runDir and compares every recorded round
// digest, plus the final one.
func verify(runDir string, toRound uint64) (report, error) {
	h, err := persistlog.ReadHeader(runDir)
	if err != nil {
		return report{}, err
	}
	if h.ProtocolVersion != protocol.Version {
		return report{}, fmt.Errorf("protocol version %q, want %q", h.ProtocolVersion, protocol.Version)
	}
	if len(h.Scenario) == 0 {
		return report{}, fmt.Errorf("run %s does not embed its scenario", h.RunID)
	}
	sc, err := scenario.Parse(h.Scenario)
	if err != nil {
		return report{}, fmt.Errorf("recorded scenario: %w", err)
	}
	if sc.Digest != h.ScenarioDigest {
		return report{}, fmt.Errorf("scenario digest mismatch: got=%s want=%s", sc.Digest, h.ScenarioDigest)
	}

	d, err := driver.New(driver.Config{Tuning: tuningFor(h), Scenario: sc, RunID: h.RunID})
	if err != nil {
		return report{}, err
	}
	rep := report{RunID: h.RunID, Scenario: h.ScenarioName, Seed: h.Seed, Agents: h.SwarmSize}

	var last protocol.RoundMsg
	stepTo := func(round uint64) error {
		for last.Round < round {
			// Execution errors were recorded too; only the digests matter here.
			msg, _ := d.Step()
			if msg.Round == 0 {
				return fmt.Errorf("round %d: swarm did not advance", last.Round+1)
			}
			last = msg
		}
		return nil
	}

	err = persistlog.ReadRun(runDir, persistlog.Visitor{
		Round: func(m protocol.RoundMsg) error {
			if toRound != 0 && m.Round > toRound {
				return errStop
			}
			if m.Round <= last.Round {
				return fmt.Errorf("round %d out of order (after %d)", m.Round, last.Round)
			}
			if err := stepTo(m.Round); err != nil {
				return err
			}
			if last.Digest != m.Digest {
				return fmt.Errorf("digest mismatch at round %d: got=%s want=%s", m.Round, last.Digest, m.Digest)
			}
			rep.Checked++
			rep.LastRound = m.Round
			return nil
		},
		Done: func(dm protocol.DoneMsg) error {
			if toRound != 0 && dm.Rounds > toRound {
				return errStop
			}
			if err := stepTo(dm.Rounds); err != nil {
				return err
			}
			if dm.Digest != "" && last.Digest != dm.Digest {
				return fmt.Errorf("final digest mismatch at round %d: got=%s want=%s", dm.Rounds, last.Digest, dm.Digest)
			}
			rep.LastRound = dm.Rounds
			return nil
		},
	})
	if err != nil && !errors.Is(err, errStop) {
		return rep, err
	}
	return rep, nil
}
