package swarm

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"followme.ai/internal/sim/agent"
)

// Digest hashes the observable swarm state after a round. Two runs with the same
// seed, scenario and durations produce the same digest sequence.
func Digest(round uint64, states []agent.State) string {
	h := sha256.New()
	var tmp [8]byte
	u64 := func(v uint64) {
		binary.LittleEndian.PutUint64(tmp[:], v)
		h.Write(tmp[:])
	}
	f64 := func(v float64) { u64(math.Float64bits(v)) }
	str := func(s string) {
		u64(uint64(len(s)))
		h.Write([]byte(s))
	}

	u64(round)
	u64(uint64(len(states)))
	for _, s := range states {
		u64(uint64(s.ID))
		f64(s.Pos.X)
		f64(s.Pos.Y)
		f64(s.Target.X)
		f64(s.Target.Y)
		f64(s.Heading)
		f64(s.Speed)
		u64(uint64(len(s.Signals)))
		for _, l := range s.Signals {
			str(l)
		}
		u64(uint64(s.ContinuingMs))
		u64(uint64(s.Depth))
		if s.Terminated {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
