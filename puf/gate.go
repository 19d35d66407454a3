package puf

import (
	"math/rand"
	"sync/atomic"

	"github.com/gregschmit/puflib/rng"
)

// Gate is a single delay element. Delay is fixed at manufacture; Noise is
// added on every sample.
type Gate struct {
	Delay float64
	Noise rng.Distribution

	sampled atomic.Uint64
}

// NewGate returns a gate with the given nominal delay.
func NewGate(delay float64, noise rng.Distribution) *Gate {
	return &Gate{Delay: delay, Noise: noise}
}

// Sample returns one measured traversal time. r supplies the noise and may
// be nil for noiseless gates.
func (g *Gate) Sample(r *rand.Rand) float64 {
	g.sampled.Add(1)
	if g.Noise == nil {
		return g.Delay
	}
	return g.Delay + g.Noise.Sample(r)
}

// TimesSampled reports how often the gate has been traversed.
func (g *Gate) TimesSampled() uint64 { return g.sampled.Load() }

// Mux is a pair of gates.
type Mux struct {
	Up   *Gate
	Down *Gate
}

// Stage is a pair of multiplexers.
type Stage struct {
	Up   *Mux
	Down *Mux
}

// Delays lists the nominal gate delays in the order
// Up.Up, Up.Down, Down.Up, Down.Down.
func (s *Stage) Delays() [4]float64 {
	return [4]float64{s.Up.Up.Delay, s.Up.Down.Delay, s.Down.Up.Delay, s.Down.Down.Delay}
}

// NewStage builds a stage from explicit delays, ordered as in Delays.
func NewStage(d [4]float64, noise rng.Distribution) *Stage {
	return &Stage{
		Up:   &Mux{Up: NewGate(d[0], noise), Down: NewGate(d[1], noise)},
		Down: &Mux{Up: NewGate(d[2], noise), Down: NewGate(d[3], noise)},
	}
}

// Manufacture draws n stages from production using r.
func Manufacture(n int, production, noise rng.Distribution, r *rand.Rand) []*Stage {
	stages := make([]*Stage, n)
	for i := range stages {
		var d [4]float64
		for j := range d {
			d[j] = production.Sample(r)
		}
		stages[i] = NewStage(d, noise)
	}
	return stages
}
