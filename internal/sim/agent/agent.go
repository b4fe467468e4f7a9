// Package agent implements a single robot: its kinematic state, its swarm-relative
// behavior and the program it executes.
package agent

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"

	"followme.ai/internal/sim/engine"
	"followme.ai/internal/sim/mathx"
	"followme.ai/internal/sim/program"
	"followme.ai/internal/sim/region"
)

// Agent is mutated only by its own Tick and by SetPeers.
type Agent struct {
	id int

	pos       mathx.Vec2
	target    mathx.Vec2
	heading   float64
	speed     float64
	lastSpeed float64
	order     *moveOrder

	signals map[string]struct{}
	peers   []PeerView

	rng     *rand.Rand
	regions *region.Catalog

	program []program.Instruction
	machine engine.Machine
}

func New(id int, rng *rand.Rand) *Agent {
	return &Agent{
		id:      id,
		signals: map[string]struct{}{},
		rng:     rng,
	}
}

func (a *Agent) ID() int { return a.id }

// SetRegions hands the agent its environment and places it at a random spot in it.
func (a *Agent) SetRegions(cat *region.Catalog) {
	a.regions = cat
	a.Place(cat.Place(a.rng))
}

// Place puts the agent at p, at rest.
func (a *Agent) Place(p mathx.Vec2) {
	a.pos = p
	a.target = p
	a.halt()
}

// LoadProgram gives the agent its own copy of instrs and restarts execution.
func (a *Agent) LoadProgram(instrs []program.Instruction) {
	a.program = slices.Clone(instrs)
	a.order = nil
	a.machine.Load(a.program)
}

func (a *Agent) Programmed() bool { return a.machine.Loaded() }
func (a *Agent) Done() bool       { return a.machine.Terminated() }

// Retire terminates the agent from outside its program.
func (a *Agent) Retire() { a.machine.Terminate() }

// Tick runs one control-flow step with instrMs of instruction time, then integrates
// simMs of motion. An execution error aborts the rest of the tick.
func (a *Agent) Tick(instrMs, simMs int64) error {
	if err := a.machine.Step(a, instrMs); err != nil {
		return err
	}
	a.integrate(simMs)
	return nil
}

// SetPeers replaces the agent's view of signaling peers, dropping itself.
func (a *Agent) SetPeers(views []PeerView) {
	peers := make([]PeerView, 0, len(views))
	for _, v := range views {
		if v.ID == a.id {
			continue
		}
		peers = append(peers, v)
	}
	a.peers = peers
}

// View is the snapshot peers see of this agent.
func (a *Agent) View() PeerView {
	return PeerView{ID: a.id, Pos: a.pos, Signals: a.Signals()}
}

func (a *Agent) Signaling() bool { return len(a.signals) > 0 }

// Signals returns the active labels, sorted.
func (a *Agent) Signals() []string {
	out := make([]string, 0, len(a.signals))
	for l := range a.signals {
		out = append(out, l)
	}
	slices.Sort(out)
	return out
}

func (a *Agent) Pos() mathx.Vec2    { return a.pos }
func (a *Agent) Target() mathx.Vec2 { return a.target }
func (a *Agent) Heading() float64   { return a.heading }
func (a *Agent) Speed() float64     { return a.speed }
func (a *Agent) LastSpeed() float64 { return a.lastSpeed }

// State is a read-only report of an agent.
type State struct {
	ID           int
	Pos          mathx.Vec2
	Target       mathx.Vec2
	Heading      float64
	Speed        float64
	LastSpeed    float64
	Signals      []string
	Peers        []int
	Region       string
	Current      string
	Depth        int
	ContinuingMs int64
	Terminated   bool
}

func (a *Agent) State() State {
	s := State{
		ID:           a.id,
		Pos:          a.pos,
		Target:       a.target,
		Heading:      a.heading,
		Speed:        a.speed,
		LastSpeed:    a.lastSpeed,
		Signals:      a.Signals(),
		Depth:        a.machine.Depth(),
		ContinuingMs: a.machine.ContinuingMs(),
		Terminated:   a.machine.Terminated(),
	}
	for _, p := range a.peers {
		s.Peers = append(s.Peers, p.ID)
	}
	if l, ok := a.regions.LabelAt(a.pos); ok {
		s.Region = l
	}
	if cur, ok := a.machine.Current(); ok {
		s.Current = cur.String()
	}
	return s
}

func (s State) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Robot %d\n", s.ID)
	fmt.Fprintf(&b, "Position: (%g, %g)\n", s.Pos.X, s.Pos.Y)
	fmt.Fprintf(&b, "Target Position: (%g, %g)\n", s.Target.X, s.Target.Y)
	fmt.Fprintf(&b, "Heading: %g\n", s.Heading)
	fmt.Fprintf(&b, "Speed: %g\n", s.Speed)
	fmt.Fprintf(&b, "Signals: %v\n", s.Signals)
	fmt.Fprintf(&b, "Signaling Robots: %v\n", s.Peers)
	if s.ContinuingMs > 0 {
		fmt.Fprintf(&b, "Continuing: Yes (%dms)\n", s.ContinuingMs)
	} else {
		b.WriteString("Continuing: No\n")
	}
	b.WriteString("-----\n")
	return b.String()
}
