// Package swarm runs a fixed-size group of agents in synchronized rounds.
package swarm

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"

	"followme.ai/internal/sim/agent"
	"followme.ai/internal/sim/mathx"
	"followme.ai/internal/sim/program"
	"followme.ai/internal/sim/region"
)

type Config struct {
	Seed   int64
	Logger *slog.Logger
}

// Coordinator owns the agents and the shared region catalog. It is not safe for
// concurrent use; callers drive it from a single goroutine.
type Coordinator struct {
	seed int64
	log  *slog.Logger

	agents  []*agent.Agent
	regions *region.Catalog
	program []program.Instruction
	loaded  bool

	round uint64
	views []agent.PeerView
}

func New(cfg Config) *Coordinator {
	l := cfg.Logger
	if l == nil {
		l = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Coordinator{seed: cfg.Seed, log: l.With("component", "swarm")}
}

// Configure replaces the swarm with n fresh agents placed in the current regions.
// A program loaded earlier is handed to the new agents.
func (c *Coordinator) Configure(n int) error {
	if n < 0 {
		return fmt.Errorf("swarm size must be >= 0, got %d", n)
	}
	c.agents = make([]*agent.Agent, n)
	for i := range c.agents {
		s := mathx.SubSeed(c.seed, i)
		a := agent.New(i, rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15)))
		a.SetRegions(c.regions)
		if c.loaded {
			a.LoadProgram(c.program)
		}
		c.agents[i] = a
	}
	c.round = 0
	c.log.Debug("configured", "agents", n)
	return nil
}

// LoadRegions compiles defs into the shared catalog and re-places every agent in it.
func (c *Coordinator) LoadRegions(defs []region.Def) error {
	cat, err := region.Compile(defs)
	if err != nil {
		return err
	}
	c.regions = cat
	for _, a := range c.agents {
		a.SetRegions(cat)
	}
	c.log.Debug("regions loaded", "regions", cat.Len())
	return nil
}

// LoadProgram hands every agent its own copy of instrs and restarts them.
func (c *Coordinator) LoadProgram(instrs []program.Instruction) {
	c.program = append([]program.Instruction(nil), instrs...)
	c.loaded = true
	for _, a := range c.agents {
		a.LoadProgram(c.program)
	}
	c.log.Debug("program loaded", "instructions", len(instrs))
}

// Tick runs one round: every agent's peer list is refreshed from a round-start
// snapshot, then every agent ticks in index order. Execution errors do not stop the
// round; they are returned joined, one *AgentError per failing agent.
func (c *Coordinator) Tick(instrMs, simMs int64) error {
	if !c.loaded {
		return ErrNotProgrammed
	}
	c.refreshPeers()

	var errs []error
	for i, a := range c.agents {
		if err := a.Tick(instrMs, simMs); err != nil {
			c.log.Warn("agent execution error", "round", c.round, "agent", i, "err", err)
			errs = append(errs, &AgentError{Index: i, Err: err})
		}
	}
	c.round++
	return errors.Join(errs...)
}

func (c *Coordinator) refreshPeers() {
	c.views = c.views[:0]
	for _, a := range c.agents {
		if a.Signaling() {
			c.views = append(c.views, a.View())
		}
	}
	for _, a := range c.agents {
		a.SetPeers(c.views)
	}
}

// Done reports whether every agent has terminated. An empty swarm is done.
func (c *Coordinator) Done() bool {
	for _, a := range c.agents {
		if !a.Done() {
			return false
		}
	}
	return true
}

// Retire terminates agent i from outside its program.
func (c *Coordinator) Retire(i int) error {
	if i < 0 || i >= len(c.agents) {
		return fmt.Errorf("agent index %d out of range [0,%d)", i, len(c.agents))
	}
	c.agents[i].Retire()
	return nil
}

func (c *Coordinator) Len() int                 { return len(c.agents) }
func (c *Coordinator) Round() uint64            { return c.round }
func (c *Coordinator) Regions() *region.Catalog { return c.regions }

// Snapshot reports every agent's state in index order.
func (c *Coordinator) Snapshot() []agent.State {
	out := make([]agent.State, len(c.agents))
	for i, a := range c.agents {
		out[i] = a.State()
	}
	return out
}
