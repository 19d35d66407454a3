package puf

import (
	"math"
	"math/rand"
	"sync"

	"github.com/pkg/errors"

	"github.com/gregschmit/puflib/bitstr"
	"github.com/gregschmit/puflib/measure"
	"github.com/gregschmit/puflib/rng"
)

// Kind names an architecture.
type Kind string

const (
	KindArbiter Kind = "arbiter"
	KindLoop    Kind = "loop"
	KindXor     Kind = "xor"
)

var (
	ErrChallengeLength = errors.New("puf: challenge must have same number of bits as the PUF has stages")
	ErrNoStages        = errors.New("puf: architecture needs at least one stage")
	ErrTooFewChildren  = errors.New("puf: composite architecture must have at least 2 child PUFs")
	ErrUnknownKind     = errors.New("puf: unknown architecture kind")
)

// Architecture is an emulated device answering binary challenges.
type Architecture interface {
	Kind() Kind
	Stages() int
	Run(c bitstr.Bits) (bitstr.Bit, error)
}

// Opts controls manufacture of a single chain.
type Opts struct {
	Stages      int
	Sensitivity float64
	Production  rng.Distribution
	Noise       rng.Distribution
	// Seed reproduces both the silicon and the evaluation stream. Empty
	// means a fresh random device.
	Seed []byte
}

// DefaultOpts returns an 8-stage device with N(10,1) gate delays, noiseless
// measurement and a 0.01 sensitivity.
func DefaultOpts() Opts {
	return Opts{
		Stages:      8,
		Sensitivity: 0.01,
		Production:  rng.DefaultProduction(),
		Noise:       rng.DefaultNoise(),
	}
}

func (o Opts) validate() error {
	if o.Stages <= 0 {
		return ErrNoStages
	}
	if o.Sensitivity < 0 || math.IsNaN(o.Sensitivity) || math.IsInf(o.Sensitivity, 0) {
		return errors.Errorf("puf: sensitivity must be finite and >=0, got %g", o.Sensitivity)
	}
	return nil
}

// chain is the stage array and evaluation stream shared by Arbiter and Loop.
type chain struct {
	kind        Kind
	stages      []*Stage
	sensitivity float64

	mu     sync.Mutex
	eval   *rand.Rand
	d1, d2 float64
}

func newChain(kind Kind, o Opts) (*chain, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}
	if o.Production == nil {
		o.Production = rng.DefaultProduction()
	}
	seed := o.Seed
	if len(seed) == 0 {
		var err error
		if seed, err = rng.Fresh(); err != nil {
			return nil, err
		}
	}
	prod, err := rng.New(rng.Derive(seed, "production", 0))
	if err != nil {
		return nil, err
	}
	stages := Manufacture(o.Stages, o.Production, o.Noise, prod)
	return chainFromStages(kind, stages, o.Sensitivity, rng.Derive(seed, "evaluation", 0))
}

func chainFromStages(kind Kind, stages []*Stage, sensitivity float64, evalSeed []byte) (*chain, error) {
	if len(stages) == 0 {
		return nil, ErrNoStages
	}
	eval, err := rng.New(evalSeed)
	if err != nil {
		return nil, err
	}
	return &chain{kind: kind, stages: stages, sensitivity: sensitivity, eval: eval}, nil
}

func (c *chain) Kind() Kind { return c.kind }

func (c *chain) Stages() int { return len(c.stages) }

// StageList exposes the manufactured stages.
func (c *chain) StageList() []*Stage { return c.stages }

func (c *chain) Sensitivity() float64 { return c.sensitivity }

// LastDelays returns the accumulated top and bottom delays of the most
// recent evaluation, sensitivity offset included.
func (c *chain) LastDelays() (d1, d2 float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.d1, c.d2
}

// reversed validates ch and returns it in stage order (read right to left).
func (c *chain) reversed(ch bitstr.Bits) (bitstr.Bits, error) {
	if _, err := bitstr.Parse(string(ch)); err != nil {
		return "", err
	}
	if ch.Len() != len(c.stages) {
		return "", errors.Wrapf(ErrChallengeLength, "got %d bits, have %d stages", ch.Len(), len(c.stages))
	}
	return ch.Reverse(), nil
}

// decide adds the sensitivity offset to a side picked by a fair coin and
// reports whether the top signal was slower. Caller holds c.mu.
func (c *chain) decide(d1, d2 float64, samples int) bitstr.Bit {
	if c.eval.Intn(2) == 0 {
		d1 += c.sensitivity
	} else {
		d2 += c.sensitivity
	}
	c.d1, c.d2 = d1, d2
	measure.Global.Evaluation(string(c.kind), samples)
	if d1-d2 > 0 {
		return bitstr.One
	}
	return bitstr.Zero
}
