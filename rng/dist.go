package rng

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// Distribution draws real values, e.g. gate delays at manufacture time or
// measurement noise at evaluation time.
type Distribution interface {
	Sample(r *rand.Rand) float64
	Spec() Spec
}

// Normal is a Gaussian with the given mean and standard deviation.
type Normal struct {
	Mean   float64
	StdDev float64
}

func (n Normal) Sample(r *rand.Rand) float64 { return n.Mean + n.StdDev*r.NormFloat64() }
func (n Normal) Spec() Spec                  { return Spec{Kind: KindNormal, Mean: n.Mean, StdDev: n.StdDev} }

// Uniform draws from [Min, Max).
type Uniform struct {
	Min float64
	Max float64
}

func (u Uniform) Sample(r *rand.Rand) float64 { return u.Min + (u.Max-u.Min)*r.Float64() }
func (u Uniform) Spec() Spec                  { return Spec{Kind: KindUniform, Min: u.Min, Max: u.Max} }

// Constant always returns Value and never consumes randomness.
type Constant struct {
	Value float64
}

func (c Constant) Sample(*rand.Rand) float64 { return c.Value }
func (c Constant) Spec() Spec                { return Spec{Kind: KindConstant, Value: c.Value} }

const (
	KindNormal   = "normal"
	KindUniform  = "uniform"
	KindConstant = "constant"
)

// Spec is the JSON form of a Distribution.
type Spec struct {
	Kind   string  `json:"kind"`
	Mean   float64 `json:"mean,omitempty"`
	StdDev float64 `json:"stddev,omitempty"`
	Min    float64 `json:"min,omitempty"`
	Max    float64 `json:"max,omitempty"`
	Value  float64 `json:"value,omitempty"`
}

// Validate checks that the spec names a known distribution with sane
// parameters.
func (s Spec) Validate() error {
	for _, v := range []float64{s.Mean, s.StdDev, s.Min, s.Max, s.Value} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Errorf("distribution %q: non-finite parameter", s.Kind)
		}
	}
	switch s.Kind {
	case KindNormal:
		if s.StdDev < 0 {
			return errors.Errorf("normal: stddev must be >=0, got %g", s.StdDev)
		}
	case KindUniform:
		if s.Max < s.Min {
			return errors.Errorf("uniform: max (%g) < min (%g)", s.Max, s.Min)
		}
	case KindConstant:
	default:
		return errors.Errorf("unknown distribution kind %q", s.Kind)
	}
	return nil
}

// Distribution builds the distribution described by s.
func (s Spec) Distribution() (Distribution, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	switch s.Kind {
	case KindNormal:
		return Normal{Mean: s.Mean, StdDev: s.StdDev}, nil
	case KindUniform:
		return Uniform{Min: s.Min, Max: s.Max}, nil
	default:
		return Constant{Value: s.Value}, nil
	}
}

// DefaultProduction models manufacturing variation of a gate delay.
func DefaultProduction() Distribution { return Normal{Mean: 10, StdDev: 1} }

// DefaultNoise is a noiseless measurement.
func DefaultNoise() Distribution { return Constant{} }
