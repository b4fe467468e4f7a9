package agent

import "followme.ai/internal/sim/mathx"

const (
	// ArrivalEpsilon is the per-axis distance at which an agent counts as already arrived.
	ArrivalEpsilon = 1e-4
	// SnapDistance is how close a sub-step must land to snap onto the target.
	SnapDistance = 0.1
	// SubSteps is the number of integration steps per tick.
	SubSteps = 20
)

// moveOrder is the last issued move, kept so it can be re-applied while other
// instructions run.
type moveOrder struct {
	target mathx.Vec2
	speed  float64
}

// integrate advances the agent toward its target over simMs of simulated time.
func (a *Agent) integrate(simMs int64) {
	if mathx.Near(a.pos, a.target, ArrivalEpsilon) {
		a.halt()
		return
	}

	a.heading = mathx.HeadingDeg(a.pos, a.target)

	dt := float64(simMs) / 1000 / SubSteps
	for i := 0; i < SubSteps; i++ {
		if a.speed == 0 {
			return
		}
		next := a.pos.Add(mathx.Step(a.heading, a.speed*dt))
		if mathx.Dist(next, a.target) < SnapDistance {
			a.pos = a.target
			a.halt()
			return
		}
		a.pos = next
	}
}

// halt zeroes speed, remembering the last nonzero one.
func (a *Agent) halt() {
	if a.speed != 0 {
		a.lastSpeed = a.speed
	}
	a.speed = 0
}

func (a *Agent) setOrder(target mathx.Vec2, speed float64) {
	a.target = target
	a.speed = speed
	a.order = &moveOrder{target: target, speed: speed}
}

// ResumeMove re-applies the last move order so movement continues while the program
// runs non-move instructions.
func (a *Agent) ResumeMove() {
	if a.order == nil {
		return
	}
	a.target = a.order.target
	a.speed = a.order.speed
}
