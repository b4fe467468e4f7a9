// Package program defines the closed instruction set robots execute.
//
// Instructions are immutable values built once per scenario. Loop instructions
// (Repeat, Until, Forever) own their bodies; Repeat carries its body already
// unrolled so the engine never counts iterations.
package program

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"followme.ai/internal/sim/mathx"
)

type Kind uint8

const (
	KindMove Kind = iota + 1
	KindMoveRandom
	KindSignal
	KindUnsignal
	KindFollow
	KindStop
	KindContinue
	KindRepeat
	KindUntil
	KindForever
	KindEnd
)

var kindNames = map[Kind]string{
	KindMove:       "MOVE",
	KindMoveRandom: "MOVE_RANDOM",
	KindSignal:     "SIGNAL",
	KindUnsignal:   "UNSIGNAL",
	KindFollow:     "FOLLOW",
	KindStop:       "STOP",
	KindContinue:   "CONTINUE",
	KindRepeat:     "REPEAT",
	KindUntil:      "UNTIL",
	KindForever:    "FOREVER",
	KindEnd:        "END",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "KIND(" + strconv.Itoa(int(k)) + ")"
}

// Context is the agent-side surface an instruction acts on.
type Context interface {
	// Move targets current position + offset at speed.
	Move(offset mathx.Vec2, speed float64)
	Rand() *rand.Rand
	Signal(label string)
	Unsignal(label string) error
	Follow(label string, radius, speed float64) error
	Stop()
	ContinueFor(seconds int)
	// InRegion reports whether the agent currently stands in a region labeled label.
	InRegion(label string) bool
	// Enter starts executing body; owner decides what happens when body runs out.
	Enter(body []Instruction, owner Instruction)
	Terminate()
}

// Instruction is implemented only by the types in this package.
type Instruction interface {
	Kind() Kind
	Apply(ctx Context) error
	String() string
	sealed()
}

type Move struct {
	Offset mathx.Vec2
	Speed  float64
}

func (Move) Kind() Kind { return KindMove }
func (Move) sealed()    {}
func (m Move) Apply(ctx Context) error {
	ctx.Move(m.Offset, m.Speed)
	return nil
}
func (m Move) String() string { return fmt.Sprintf("MOVE %g %g %g", m.Offset.X, m.Offset.Y, m.Speed) }

// MoveRandom moves by an offset drawn uniformly from [X1,X2]x[Y1,Y2].
type MoveRandom struct {
	X1, X2, Y1, Y2 float64
	Speed          float64
}

func (MoveRandom) Kind() Kind { return KindMoveRandom }
func (MoveRandom) sealed()    {}
func (m MoveRandom) Apply(ctx Context) error {
	r := ctx.Rand()
	off := mathx.Vec2{
		X: m.X1 + (m.X2-m.X1)*r.Float64(),
		Y: m.Y1 + (m.Y2-m.Y1)*r.Float64(),
	}
	ctx.Move(off, m.Speed)
	return nil
}
func (m MoveRandom) String() string {
	return fmt.Sprintf("MOVE RANDOM %g %g %g %g %g", m.X1, m.X2, m.Y1, m.Y2, m.Speed)
}

type Signal struct{ Label string }

func (Signal) Kind() Kind { return KindSignal }
func (Signal) sealed()    {}
func (s Signal) Apply(ctx Context) error {
	ctx.Signal(s.Label)
	return nil
}
func (s Signal) String() string { return "SIGNAL " + s.Label }

type Unsignal struct{ Label string }

func (Unsignal) Kind() Kind                { return KindUnsignal }
func (Unsignal) sealed()                   {}
func (u Unsignal) Apply(ctx Context) error { return ctx.Unsignal(u.Label) }
func (u Unsignal) String() string          { return "UNSIGNAL " + u.Label }

type Follow struct {
	Label  string
	Radius float64
	Speed  float64
}

func (Follow) Kind() Kind                { return KindFollow }
func (Follow) sealed()                   {}
func (f Follow) Apply(ctx Context) error { return ctx.Follow(f.Label, f.Radius, f.Speed) }
func (f Follow) String() string {
	return fmt.Sprintf("FOLLOW %s %g %g", f.Label, f.Radius, f.Speed)
}

type Stop struct{}

func (Stop) Kind() Kind { return KindStop }
func (Stop) sealed()    {}
func (Stop) Apply(ctx Context) error {
	ctx.Stop()
	return nil
}
func (Stop) String() string { return "STOP" }

// Continue keeps the current movement going for Seconds without advancing the program.
type Continue struct{ Seconds int }

func (Continue) Kind() Kind { return KindContinue }
func (Continue) sealed()    {}
func (c Continue) Apply(ctx Context) error {
	ctx.ContinueFor(c.Seconds)
	return nil
}
func (c Continue) String() string { return "CONTINUE " + strconv.Itoa(c.Seconds) }

type Repeat struct {
	Times int
	Body  []Instruction

	unrolled []Instruction
}

// NewRepeat builds a Repeat whose body is unrolled times times.
func NewRepeat(times int, body []Instruction) *Repeat {
	body = clone(body)
	return &Repeat{Times: times, Body: body, unrolled: unroll(times, body)}
}

func unroll(times int, body []Instruction) []Instruction {
	if times <= 0 || len(body) == 0 {
		return nil
	}
	out := make([]Instruction, 0, times*len(body))
	for i := 0; i < times; i++ {
		out = append(out, body...)
	}
	return out
}

// Unrolled is the flat sequence the engine executes.
func (r *Repeat) Unrolled() []Instruction {
	if r.unrolled == nil {
		return unroll(r.Times, r.Body)
	}
	return r.unrolled
}

func (*Repeat) Kind() Kind { return KindRepeat }
func (*Repeat) sealed()    {}

// Apply enters the unrolled body. An empty unrolled body falls straight through.
func (r *Repeat) Apply(ctx Context) error {
	if body := r.Unrolled(); len(body) > 0 {
		ctx.Enter(body, r)
	}
	return nil
}
func (r *Repeat) String() string { return "REPEAT " + strconv.Itoa(r.Times) + " " + formatBody(r.Body) }

// Until runs Body again and again until the agent stands in a region labeled Label.
type Until struct {
	Label string
	Body  []Instruction
}

func NewUntil(label string, body []Instruction) *Until {
	return &Until{Label: label, Body: clone(body)}
}

func (*Until) Kind() Kind { return KindUntil }
func (*Until) sealed()    {}
func (u *Until) Apply(ctx Context) error {
	if !ctx.InRegion(u.Label) {
		ctx.Enter(u.Body, u)
	}
	return nil
}
func (u *Until) String() string { return "UNTIL " + u.Label + " " + formatBody(u.Body) }

type Forever struct {
	Body []Instruction
}

func NewForever(body []Instruction) *Forever {
	return &Forever{Body: clone(body)}
}

func (*Forever) Kind() Kind { return KindForever }
func (*Forever) sealed()    {}
func (f *Forever) Apply(ctx Context) error {
	ctx.Enter(f.Body, f)
	return nil
}
func (f *Forever) String() string { return "DOFOREVER " + formatBody(f.Body) }

type End struct{}

func (End) Kind() Kind { return KindEnd }
func (End) sealed()    {}
func (End) Apply(ctx Context) error {
	ctx.Terminate()
	return nil
}
func (End) String() string { return "END" }

func clone(body []Instruction) []Instruction {
	if len(body) == 0 {
		return nil
	}
	return append(make([]Instruction, 0, len(body)), body...)
}

func formatBody(body []Instruction) string {
	parts := make([]string, len(body))
	for i, ins := range body {
		parts[i] = ins.String()
	}
	return "[" + strings.Join(parts, "; ") + "]"
}

// Format renders a program in its textual form, one top-level instruction per line.
func Format(instrs []Instruction) string {
	var b strings.Builder
	for _, ins := range instrs {
		b.WriteString(ins.String())
		b.WriteByte('\n')
	}
	return b.String()
}
