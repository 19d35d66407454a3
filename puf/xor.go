package puf

import (
	"github.com/pkg/errors"

	"github.com/gregschmit/puflib/bitstr"
	"github.com/gregschmit/puflib/rng"
)

// Xor combines k independently manufactured chains of the same kind by
// XOR-ing their responses.
type Xor struct {
	base     Kind
	children []Architecture
}

// NewXor manufactures k chains of kind base. Child i is seeded from
// o.Seed with index i, so a seeded Xor is reproducible.
func NewXor(base Kind, k int, o Opts) (*Xor, error) {
	if k <= 1 {
		return nil, ErrTooFewChildren
	}
	seed := o.Seed
	if len(seed) == 0 {
		var err error
		if seed, err = rng.Fresh(); err != nil {
			return nil, err
		}
	}
	children := make([]Architecture, k)
	for i := range children {
		co := o
		co.Seed = rng.Derive(seed, "child", i)
		child, err := newSingle(base, co)
		if err != nil {
			return nil, errors.Wrapf(err, "child %d", i)
		}
		children[i] = child
	}
	return &Xor{base: base, children: children}, nil
}

// NewXorFrom combines existing devices. All children must share kind and
// stage count.
func NewXorFrom(children []Architecture) (*Xor, error) {
	if len(children) <= 1 {
		return nil, ErrTooFewChildren
	}
	base, n := children[0].Kind(), children[0].Stages()
	for i, c := range children[1:] {
		if c.Kind() != base {
			return nil, errors.Errorf("puf: child %d is %s, want %s", i+1, c.Kind(), base)
		}
		if c.Stages() != n {
			return nil, errors.Errorf("puf: child %d has %d stages, want %d", i+1, c.Stages(), n)
		}
	}
	return &Xor{base: base, children: children}, nil
}

func newSingle(kind Kind, o Opts) (Architecture, error) {
	switch kind {
	case KindArbiter:
		return NewArbiter(o)
	case KindLoop:
		return NewLoop(o)
	default:
		return nil, errors.Wrapf(ErrUnknownKind, "%q cannot be an xor child", kind)
	}
}

func (x *Xor) Kind() Kind { return KindXor }

// Base is the kind of the child chains.
func (x *Xor) Base() Kind { return x.base }

func (x *Xor) Stages() int { return x.children[0].Stages() }

func (x *Xor) Children() []Architecture { return x.children }

// Run returns the XOR of every child response.
func (x *Xor) Run(ch bitstr.Bits) (bitstr.Bit, error) {
	responses := make([]bitstr.Bits, len(x.children))
	for i, c := range x.children {
		b, err := c.Run(ch)
		if err != nil {
			return 0, err
		}
		responses[i] = bitstr.Bits(b.String())
	}
	r, err := bitstr.XorList(responses)
	if err != nil {
		return 0, err
	}
	return r.Bit(0), nil
}
