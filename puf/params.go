package puf

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"os"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/tailscale/hujson"

	"github.com/gregschmit/puflib/rng"
)

// Params is the on-disk description of a device family. Manufacturing a
// device from Params and a seed is deterministic.
type Params struct {
	Kind        Kind     `json:"kind"`
	Stages      int      `json:"stages"`
	Sensitivity float64  `json:"sensitivity"`
	Production  rng.Spec `json:"production"`
	Noise       rng.Spec `json:"noise"`
	Xor         XorSpec  `json:"xor"`
}

// XorSpec configures the Xor composite.
type XorSpec struct {
	K    int  `json:"k"`
	Base Kind `json:"base"`
}

// DefaultParams describes an 8-stage arbiter with N(10,1) delays and no
// measurement noise.
func DefaultParams() Params {
	return Params{
		Kind:        KindArbiter,
		Stages:      8,
		Sensitivity: 0.01,
		Production:  rng.DefaultProduction().Spec(),
		Noise:       rng.DefaultNoise().Spec(),
		Xor:         XorSpec{K: 4, Base: KindArbiter},
	}
}

// Validate performs basic consistency checks on the parameter set.
func (p *Params) Validate() error {
	if p == nil {
		return errors.New("nil params")
	}
	switch p.Kind {
	case KindArbiter, KindLoop:
	case KindXor:
		if p.Xor.K <= 1 {
			return errors.Wrapf(ErrTooFewChildren, "xor.k=%d", p.Xor.K)
		}
		if p.Xor.Base != KindArbiter && p.Xor.Base != KindLoop {
			return errors.Wrapf(ErrUnknownKind, "xor.base %q", p.Xor.Base)
		}
	default:
		return errors.Wrapf(ErrUnknownKind, "%q", p.Kind)
	}
	if p.Stages <= 0 {
		return errors.Errorf("stages must be >0, got %d", p.Stages)
	}
	if p.Sensitivity < 0 || math.IsNaN(p.Sensitivity) || math.IsInf(p.Sensitivity, 0) {
		return errors.Errorf("sensitivity must be finite and >=0, got %g", p.Sensitivity)
	}
	if err := p.Production.Validate(); err != nil {
		return errors.Wrap(err, "production")
	}
	if err := p.Noise.Validate(); err != nil {
		return errors.Wrap(err, "noise")
	}
	return nil
}

// LoadParams decodes parameters from JSON (comments and trailing commas are
// accepted) on top of DefaultParams and validates them.
func LoadParams(r io.Reader) (*Params, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read params")
	}
	std, err := hujson.Standardize(raw)
	if err != nil {
		return nil, errors.Wrap(err, "decode params")
	}
	p := DefaultParams()
	dec := json.NewDecoder(bytes.NewReader(std))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, errors.Wrap(err, "decode params")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadParamsFromFile opens the given path, decodes parameters, and validates them.
func LoadParamsFromFile(path string) (*Params, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open params file")
	}
	defer f.Close()
	return LoadParams(f)
}

// Opts converts the parameter set into manufacturing options.
func (p *Params) Opts(seed []byte) (Opts, error) {
	if err := p.Validate(); err != nil {
		return Opts{}, err
	}
	prod, err := p.Production.Distribution()
	if err != nil {
		return Opts{}, err
	}
	noise, err := p.Noise.Distribution()
	if err != nil {
		return Opts{}, err
	}
	return Opts{
		Stages:      p.Stages,
		Sensitivity: p.Sensitivity,
		Production:  prod,
		Noise:       noise,
		Seed:        seed,
	}, nil
}

// New manufactures a device described by p.
func New(p *Params, seed []byte) (Architecture, error) {
	o, err := p.Opts(seed)
	if err != nil {
		return nil, err
	}
	var a Architecture
	if p.Kind == KindXor {
		a, err = NewXor(p.Xor.Base, p.Xor.K, o)
	} else {
		a, err = newSingle(p.Kind, o)
	}
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"kind":   p.Kind,
		"stages": p.Stages,
		"seeded": len(seed) > 0,
	}).Debug("manufactured device")
	return a, nil
}
