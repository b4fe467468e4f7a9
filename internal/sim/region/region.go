// Package region holds the labeled 2D areas of an environment.
//
// A Catalog is immutable once compiled and is shared read-only by every agent of a swarm.
package region

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"followme.ai/internal/sim/mathx"
)

type Kind string

const (
	KindCircle    Kind = "circle"
	KindRectangle Kind = "rectangle"
)

// FallbackHalfSide bounds placement when an environment has no regions.
const FallbackHalfSide = 10.0

// Def is an uncompiled region as it arrives from a scenario file.
type Def struct {
	Label string    `json:"label" yaml:"label"`
	Shape string    `json:"shape" yaml:"shape"`
	Args  []float64 `json:"args" yaml:"args"`
}

type Shape interface {
	Kind() Kind
	Contains(p mathx.Vec2) bool
	// RandomPoint draws a point uniformly from the shape's area.
	RandomPoint(r *rand.Rand) mathx.Vec2
}

type Circle struct {
	Center mathx.Vec2
	R      float64
}

func (c Circle) Kind() Kind { return KindCircle }

func (c Circle) Contains(p mathx.Vec2) bool {
	return mathx.Dist(c.Center, p) <= c.R
}

func (c Circle) RandomPoint(r *rand.Rand) mathx.Vec2 {
	angle := r.Float64() * 2 * math.Pi
	dist := c.R * math.Sqrt(r.Float64())
	return mathx.Vec2{X: c.Center.X + dist*math.Cos(angle), Y: c.Center.Y + dist*math.Sin(angle)}
}

// Rectangle is axis-aligned and centered on Center.
type Rectangle struct {
	Center mathx.Vec2
	W, H   float64
}

func (rc Rectangle) Kind() Kind { return KindRectangle }

func (rc Rectangle) Contains(p mathx.Vec2) bool {
	return math.Abs(p.X-rc.Center.X) <= rc.W/2 && math.Abs(p.Y-rc.Center.Y) <= rc.H/2
}

func (rc Rectangle) RandomPoint(r *rand.Rand) mathx.Vec2 {
	return mathx.Vec2{
		X: rc.Center.X - rc.W/2 + r.Float64()*rc.W,
		Y: rc.Center.Y - rc.H/2 + r.Float64()*rc.H,
	}
}

type Region struct {
	Label string
	Shape Shape
}

type Catalog struct {
	regions []Region
}

// Compile validates defs and builds a catalog preserving their order.
// Shape kinds are matched case-insensitively.
func Compile(defs []Def) (*Catalog, error) {
	c := &Catalog{regions: make([]Region, 0, len(defs))}
	for i, d := range defs {
		s, err := compileShape(d)
		if err != nil {
			return nil, fmt.Errorf("region %d (%q): %w", i, d.Label, err)
		}
		c.regions = append(c.regions, Region{Label: d.Label, Shape: s})
	}
	return c, nil
}

func compileShape(d Def) (Shape, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(d.Shape))) {
	case KindCircle:
		if len(d.Args) != 3 {
			return nil, fmt.Errorf("circle wants 3 args (x, y, r), got %d", len(d.Args))
		}
		if d.Args[2] < 0 {
			return nil, fmt.Errorf("circle radius must be >= 0")
		}
		return Circle{Center: mathx.Vec2{X: d.Args[0], Y: d.Args[1]}, R: d.Args[2]}, nil
	case KindRectangle:
		if len(d.Args) != 4 {
			return nil, fmt.Errorf("rectangle wants 4 args (x, y, w, h), got %d", len(d.Args))
		}
		if d.Args[2] < 0 || d.Args[3] < 0 {
			return nil, fmt.Errorf("rectangle size must be >= 0")
		}
		return Rectangle{Center: mathx.Vec2{X: d.Args[0], Y: d.Args[1]}, W: d.Args[2], H: d.Args[3]}, nil
	default:
		return nil, fmt.Errorf("unsupported shape %q", d.Shape)
	}
}

// New builds a catalog from already-compiled regions.
func New(regions ...Region) *Catalog {
	return &Catalog{regions: append([]Region(nil), regions...)}
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.regions)
}

// Regions returns a copy of the catalog in its fixed order.
func (c *Catalog) Regions() []Region {
	if c == nil {
		return nil
	}
	return append([]Region(nil), c.regions...)
}

// LabelAt returns the label of the first region containing p.
func (c *Catalog) LabelAt(p mathx.Vec2) (string, bool) {
	if c == nil {
		return "", false
	}
	for _, rg := range c.regions {
		if rg.Shape.Contains(p) {
			return rg.Label, true
		}
	}
	return "", false
}

// Place picks a uniformly chosen region and a uniform point inside it.
// Without regions the point is uniform in the fallback square.
func (c *Catalog) Place(r *rand.Rand) mathx.Vec2 {
	if c.Len() == 0 {
		return mathx.Vec2{
			X: -FallbackHalfSide + r.Float64()*2*FallbackHalfSide,
			Y: -FallbackHalfSide + r.Float64()*2*FallbackHalfSide,
		}
	}
	rg := c.regions[r.IntN(len(c.regions))]
	return rg.Shape.RandomPoint(r)
}
