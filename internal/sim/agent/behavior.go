package agent

import (
	"math/rand/v2"
	"slices"

	"followme.ai/internal/sim/mathx"
	"followme.ai/internal/sim/program"
)

// PeerView is the round-start snapshot of another agent, as seen by its peers.
type PeerView struct {
	ID      int
	Pos     mathx.Vec2
	Signals []string // sorted
}

func (p PeerView) Has(label string) bool {
	_, ok := slices.BinarySearch(p.Signals, label)
	return ok
}

var _ program.Context = (*Agent)(nil)

func (a *Agent) Move(offset mathx.Vec2, speed float64) {
	a.setOrder(a.pos.Add(offset), speed)
}

func (a *Agent) Rand() *rand.Rand { return a.rng }

func (a *Agent) Signal(label string) {
	a.signals[label] = struct{}{}
}

func (a *Agent) Unsignal(label string) error {
	if _, ok := a.signals[label]; !ok {
		return labelNotActive(label)
	}
	delete(a.signals, label)
	return nil
}

func (a *Agent) Stop() {
	a.halt()
	a.order = nil
}

func (a *Agent) ContinueFor(seconds int) {
	a.machine.ContinueFor(int64(seconds) * 1000)
}

// Follow heads radius units toward the centroid of the peers signaling label within
// radius. Without such peers it wanders to a random offset within radius per axis.
func (a *Agent) Follow(label string, radius, speed float64) error {
	near := a.qualifyingPeers(label, radius)
	if len(near) == 0 {
		off := mathx.Vec2{
			X: (a.rng.Float64()*2 - 1) * radius,
			Y: (a.rng.Float64()*2 - 1) * radius,
		}
		a.Move(off, speed)
		return nil
	}
	dir, err := a.directionTo(near)
	if err != nil {
		return err
	}
	a.Move(dir.Scale(radius), speed)
	return nil
}

func (a *Agent) qualifyingPeers(label string, radius float64) []mathx.Vec2 {
	var out []mathx.Vec2
	for _, p := range a.peers {
		if !p.Has(label) {
			continue
		}
		if mathx.Dist(a.pos, p.Pos) <= radius {
			out = append(out, p.Pos)
		}
	}
	return out
}

// directionTo is the unit vector from the agent to the centroid of ps; the zero
// vector when the agent already sits on it.
func (a *Agent) directionTo(ps []mathx.Vec2) (mathx.Vec2, error) {
	avg, ok := mathx.Mean(ps)
	if !ok {
		return mathx.Vec2{}, directionError()
	}
	return avg.Sub(a.pos).Normalize(), nil
}

func (a *Agent) InRegion(label string) bool {
	got, ok := a.regions.LabelAt(a.pos)
	return ok && got == label
}

func (a *Agent) Enter(body []program.Instruction, owner program.Instruction) {
	a.machine.Enter(body, owner)
}

func (a *Agent) Terminate() { a.machine.Terminate() }
