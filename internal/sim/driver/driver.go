// Package driver runs a scenario on a swarm round by round and reports every round to
// a set of sinks.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"followme.ai/internal/protocol"
	"followme.ai/internal/sim/agent"
	"followme.ai/internal/sim/region"
	"followme.ai/internal/sim/scenario"
	"followme.ai/internal/sim/swarm"
	"followme.ai/internal/sim/tuning"
)

// RoundSink receives the reported rounds of a run. Sinks get their own copies of the
// messages and may hand them to other goroutines.
type RoundSink interface {
	Begin(protocol.RunHeader) error
	Round(protocol.RoundMsg) error
	End(protocol.DoneMsg) error
}

// Stop reasons reported in DoneMsg.Reason.
const (
	ReasonSwarmDone = "swarm_done"
	ReasonMaxRounds = "max_rounds"
	ReasonCanceled  = "canceled"
	ReasonError     = "execution_error"
)

type Config struct {
	Tuning   tuning.Tuning
	Scenario *scenario.Scenario

	// RunID defaults to a random UUID.
	RunID  string
	Now    func() time.Time
	Logger *slog.Logger
	Sinks  []RoundSink
}

type Result struct {
	RunID      string
	Rounds     uint64
	SwarmDone  bool
	Reason     string
	Digest     string
	Faults     int
	SinkErrors int
}

type Driver struct {
	cfg    tuning.Tuning
	log    *slog.Logger
	sinks  []RoundSink
	swarm  *swarm.Coordinator
	header protocol.RunHeader

	simTimeMs  int64
	lastDigest string
	faults     int
	sinkErrs   int
}

func New(cfg Config) (*Driver, error) {
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", protocol.ErrBadTuning, err)
	}
	if cfg.Scenario == nil {
		return nil, fmt.Errorf("%s: no scenario", protocol.ErrBadScenario)
	}
	l := cfg.Logger
	if l == nil {
		l = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	t := cfg.Tuning

	sw := swarm.New(swarm.Config{Seed: t.Seed, Logger: l})
	if err := sw.LoadRegions(cfg.Scenario.Regions); err != nil {
		return nil, fmt.Errorf("%s: %w", protocol.ErrBadScenario, err)
	}
	if err := sw.Configure(t.SwarmSize); err != nil {
		return nil, fmt.Errorf("%s: %w", protocol.ErrBadTuning, err)
	}
	sw.LoadProgram(cfg.Scenario.Program)

	d := &Driver{
		cfg:   t,
		log:   l.With("component", "driver", "run_id", runID),
		sinks: cfg.Sinks,
		swarm: sw,
		header: protocol.RunHeader{
			Type:            protocol.TypeRun,
			ProtocolVersion: protocol.Version,
			RunID:           runID,
			StartedAt:       now().UTC().Format(time.RFC3339Nano),
			Seed:            t.Seed,
			SwarmSize:       t.SwarmSize,
			InstructionMs:   t.InstructionMs,
			SimMs:           t.SimMs,
			MaxRounds:       uint64(t.MaxRounds),
			ErrorPolicy:     string(t.ErrorPolicy),
			ScenarioName:    cfg.Scenario.Name,
			ScenarioDigest:  cfg.Scenario.Digest,
			Scenario:        cfg.Scenario.Canonical,
		},
	}
	return d, nil
}

func (d *Driver) Header() protocol.RunHeader { return d.header }
func (d *Driver) Swarm() *swarm.Coordinator  { return d.swarm }

// Regions describes the environment in catalog order, shapes in canonical spelling.
func (d *Driver) Regions() []protocol.RegionInfo {
	rs := d.swarm.Regions().Regions()
	out := make([]protocol.RegionInfo, len(rs))
	for i, rg := range rs {
		info := protocol.RegionInfo{Label: rg.Label, Shape: string(rg.Shape.Kind())}
		switch sh := rg.Shape.(type) {
		case region.Circle:
			info.Args = []float64{sh.Center.X, sh.Center.Y, sh.R}
		case region.Rectangle:
			info.Args = []float64{sh.Center.X, sh.Center.Y, sh.W, sh.H}
		}
		out[i] = info
	}
	return out
}

// Step runs one round and applies the error policy. Under PolicyHalt the returned
// error is the round's execution error; the message is valid either way.
func (d *Driver) Step() (protocol.RoundMsg, error) {
	err := d.swarm.Tick(d.cfg.InstructionMs, d.cfg.SimMs)
	if errors.Is(err, swarm.ErrNotProgrammed) {
		return protocol.RoundMsg{}, err
	}
	d.simTimeMs += d.cfg.SimMs

	faults := swarm.AgentErrors(err)
	d.faults += len(faults)
	if len(faults) > 0 && d.cfg.ErrorPolicy == tuning.PolicyRetire {
		for _, f := range faults {
			d.log.Warn("retiring agent", "round", d.swarm.Round(), "agent", f.Index, "err", f.Err)
			_ = d.swarm.Retire(f.Index)
		}
		err = nil
	}

	states := d.swarm.Snapshot()
	d.lastDigest = swarm.Digest(d.swarm.Round(), states)
	msg := protocol.RoundMsg{
		Type:            protocol.TypeRound,
		ProtocolVersion: protocol.Version,
		RunID:           d.header.RunID,
		Round:           d.swarm.Round(),
		SimTimeMs:       d.simTimeMs,
		Agents:          AgentStates(states),
		Errors:          agentFaults(faults),
		Done:            d.swarm.Done(),
		Digest:          d.lastDigest,
	}
	return msg, err
}

// Run loops rounds until the swarm is done, the round limit is hit, ctx is canceled
// or, under PolicyHalt, an agent fails.
func (d *Driver) Run(ctx context.Context) (Result, error) {
	d.emit(func(s RoundSink) error { return s.Begin(d.header) })
	d.log.Info("run started", "agents", d.cfg.SwarmSize, "seed", d.cfg.Seed, "scenario", d.header.ScenarioName)

	var pace *rate.Limiter
	if d.cfg.Pace {
		pace = rate.NewLimiter(rate.Every(time.Duration(d.cfg.InstructionMs)*time.Millisecond), 1)
	}

	every := uint64(d.cfg.SnapshotEveryRounds)
	var (
		reason  string
		runErr  error
		pending *protocol.RoundMsg
	)
	for {
		if d.swarm.Done() {
			reason = ReasonSwarmDone
			break
		}
		if d.cfg.MaxRounds > 0 && d.swarm.Round() >= uint64(d.cfg.MaxRounds) {
			reason = ReasonMaxRounds
			break
		}
		if err := ctx.Err(); err != nil {
			reason, runErr = ReasonCanceled, err
			break
		}
		if pace != nil {
			if err := pace.Wait(ctx); err != nil {
				// Wait gives up early when the next slot lies past ctx's deadline.
				<-ctx.Done()
				reason, runErr = ReasonCanceled, ctx.Err()
				break
			}
		}

		msg, err := d.Step()
		if err != nil {
			d.emitRound(msg)
			pending = nil
			reason, runErr = ReasonError, err
			d.log.Warn("halting on execution error", "round", msg.Round, "err", err)
			break
		}
		if msg.Round%every == 0 || msg.Done {
			d.emitRound(msg)
			pending = nil
		} else {
			pending = &msg
		}
		d.log.Debug("round", "round", msg.Round, "done", msg.Done)
	}
	// The last round is always reported.
	if pending != nil {
		d.emitRound(*pending)
	}

	res := Result{
		RunID:      d.header.RunID,
		Rounds:     d.swarm.Round(),
		SwarmDone:  d.swarm.Done(),
		Reason:     reason,
		Digest:     d.lastDigest,
		Faults:     d.faults,
		SinkErrors: d.sinkErrs,
	}
	done := protocol.DoneMsg{
		Type:            protocol.TypeDone,
		ProtocolVersion: protocol.Version,
		RunID:           res.RunID,
		Rounds:          res.Rounds,
		SwarmDone:       res.SwarmDone,
		Reason:          res.Reason,
		Digest:          res.Digest,
	}
	d.emit(func(s RoundSink) error { return s.End(done) })
	res.SinkErrors = d.sinkErrs
	d.log.Info("run finished", "rounds", res.Rounds, "reason", res.Reason, "faults", res.Faults)
	return res, runErr
}

func (d *Driver) emitRound(msg protocol.RoundMsg) {
	d.emit(func(s RoundSink) error { return s.Round(cloneRound(msg)) })
}

func (d *Driver) emit(fn func(RoundSink) error) {
	for _, s := range d.sinks {
		if err := fn(s); err != nil {
			d.sinkErrs++
			d.log.Warn("sink error", "sink", fmt.Sprintf("%T", s), "err", err)
		}
	}
}

// AgentStates converts agent reports to their wire form.
func AgentStates(states []agent.State) []protocol.AgentState {
	out := make([]protocol.AgentState, len(states))
	for i, s := range states {
		out[i] = protocol.AgentState{
			ID:           s.ID,
			Pos:          [2]float64{s.Pos.X, s.Pos.Y},
			Target:       [2]float64{s.Target.X, s.Target.Y},
			Heading:      s.Heading,
			Speed:        s.Speed,
			Signals:      s.Signals,
			Region:       s.Region,
			Current:      s.Current,
			Depth:        s.Depth,
			ContinuingMs: s.ContinuingMs,
			Terminated:   s.Terminated,
		}
	}
	return out
}

func agentFaults(errs []*swarm.AgentError) []protocol.AgentFault {
	if len(errs) == 0 {
		return nil
	}
	out := make([]protocol.AgentFault, 0, len(errs))
	for _, e := range errs {
		code := protocol.ErrExecution
		var ee *agent.ExecutionError
		if errors.As(e.Err, &ee) {
			code = ee.Code
		}
		out = append(out, protocol.AgentFault{AgentID: e.Index, Code: code, Message: e.Err.Error()})
	}
	return out
}

func cloneRound(m protocol.RoundMsg) protocol.RoundMsg {
	m.Agents = append([]protocol.AgentState(nil), m.Agents...)
	for i := range m.Agents {
		m.Agents[i].Signals = append([]string(nil), m.Agents[i].Signals...)
	}
	m.Errors = append([]protocol.AgentFault(nil), m.Errors...)
	return m
}
