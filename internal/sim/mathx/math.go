package mathx

import "math"

// Vec2 is a point or displacement in the simulation plane.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vec2) Add(o Vec2) Vec2      { return Vec2{X: v.X + o.X, Y: v.Y + o.Y} }
func (v Vec2) Sub(o Vec2) Vec2      { return Vec2{X: v.X - o.X, Y: v.Y - o.Y} }
func (v Vec2) Scale(k float64) Vec2 { return Vec2{X: v.X * k, Y: v.Y * k} }
func (v Vec2) Norm() float64        { return math.Sqrt(v.X*v.X + v.Y*v.Y) }

// Normalize returns v scaled to unit length. The zero vector stays zero.
func (v Vec2) Normalize() Vec2 {
	n := v.Norm()
	if n == 0 {
		return v
	}
	return Vec2{X: v.X / n, Y: v.Y / n}
}

func Dist(a, b Vec2) float64 {
	return b.Sub(a).Norm()
}

// Near reports whether a and b differ by less than eps on both axes.
func Near(a, b Vec2, eps float64) bool {
	return math.Abs(a.X-b.X) < eps && math.Abs(a.Y-b.Y) < eps
}

// HeadingDeg is the angle of the from->to vector in degrees, in [0,360).
func HeadingDeg(from, to Vec2) float64 {
	d := to.Sub(from)
	h := math.Atan2(d.Y, d.X) * 180 / math.Pi
	if h < 0 {
		h += 360
	}
	return h
}

// Step is the displacement of length dist along headingDeg.
func Step(headingDeg, dist float64) Vec2 {
	rad := headingDeg * math.Pi / 180
	return Vec2{X: dist * math.Cos(rad), Y: dist * math.Sin(rad)}
}

// Mean is the centroid of ps. ok is false for an empty slice.
func Mean(ps []Vec2) (Vec2, bool) {
	if len(ps) == 0 {
		return Vec2{}, false
	}
	var sx, sy float64
	for _, p := range ps {
		sx += p.X
		sy += p.Y
	}
	n := float64(len(ps))
	return Vec2{X: sx / n, Y: sy / n}, true
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// SubSeed derives an independent, deterministic stream seed for member i of a seeded group.
func SubSeed(seed int64, i int) uint64 {
	ui := uint64(uint32(int32(i)))
	return mix64(uint64(seed) ^ (ui * 0x9e3779b97f4a7c15))
}
