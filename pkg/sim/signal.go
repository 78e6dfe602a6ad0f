// Package sim drives an analyzer.Encoder with synthetic signals so traces
// can be produced without hardware.
package sim

import (
	"math/rand/v2"
)

// Signal decides, cycle by cycle, whether a source fires and with what data.
type Signal interface {
	Sample(cycle uint64) (data uint32, active bool)
}

// SignalFunc adapts a function to Signal.
type SignalFunc func(cycle uint64) (uint32, bool)

// Sample implements Signal.
func (f SignalFunc) Sample(cycle uint64) (uint32, bool) {
	return f(cycle)
}

// Strobe fires every Period cycles, starting at Phase.
type Strobe struct {
	Period uint64
	Phase  uint64
}

// Sample implements Signal.
func (s Strobe) Sample(cycle uint64) (uint32, bool) {
	if s.Period == 0 || cycle < s.Phase {
		return 0, false
	}
	return 0, (cycle-s.Phase)%s.Period == 0
}

// Counter fires every Period cycles carrying an incrementing value.
type Counter struct {
	Period uint64
	Step   uint32

	value uint32
}

// Sample implements Signal.
func (c *Counter) Sample(cycle uint64) (uint32, bool) {
	if c.Period == 0 || cycle%c.Period != 0 {
		return 0, false
	}
	v := c.value
	c.value += c.Step
	return v, true
}

// Script fires exactly on the listed cycles.
type Script map[uint64]uint32

// Sample implements Signal.
func (s Script) Sample(cycle uint64) (uint32, bool) {
	v, ok := s[cycle]
	return v, ok
}

// Level is a sampled waveform: the value of a set of lines at a cycle.
type Level func(cycle uint64) uint32

// Changes fires whenever the masked level differs from the previous cycle,
// the way a change-triggered source observes pins. The first sample always
// fires.
func Changes(level Level, mask uint32) Signal {
	var (
		last    uint32
		started bool
	)
	return SignalFunc(func(cycle uint64) (uint32, bool) {
		v := level(cycle) & mask
		if started && v == last {
			return 0, false
		}
		last, started = v, true
		return v, true
	})
}

// Random fires with probability p per cycle carrying uniformly random data.
// The sequence is reproducible for a given seed.
type Random struct {
	P   float64
	rng *rand.Rand
}

// NewRandom returns a seeded Random signal.
func NewRandom(seed uint64, p float64) *Random {
	return &Random{P: p, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Sample implements Signal.
func (r *Random) Sample(uint64) (uint32, bool) {
	if r.rng.Float64() >= r.P {
		return 0, false
	}
	return r.rng.Uint32(), true
}
