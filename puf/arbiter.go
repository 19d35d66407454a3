package puf

import "github.com/gregschmit/puflib/bitstr"

// Arbiter is the multiplexer-chain PUF. Two signals race down the chain; a
// 1 bit crosses them over at that stage. The response is 1 when the top
// signal arrives last.
type Arbiter struct {
	*chain
}

// NewArbiter manufactures an arbiter PUF.
func NewArbiter(o Opts) (*Arbiter, error) {
	c, err := newChain(KindArbiter, o)
	if err != nil {
		return nil, err
	}
	return &Arbiter{c}, nil
}

// NewArbiterFromStages wraps already manufactured stages.
func NewArbiterFromStages(stages []*Stage, sensitivity float64, evalSeed []byte) (*Arbiter, error) {
	c, err := chainFromStages(KindArbiter, stages, sensitivity, evalSeed)
	if err != nil {
		return nil, err
	}
	return &Arbiter{c}, nil
}

func (a *Arbiter) Run(ch bitstr.Bits) (bitstr.Bit, error) {
	rc, err := a.reversed(ch)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.eval
	var d1, d2 float64
	flip := false
	for i, s := range a.stages {
		if rc[i] == '0' {
			if flip {
				d2 += s.Up.Up.Sample(r)
				d1 += s.Down.Up.Sample(r)
			} else {
				d1 += s.Up.Up.Sample(r)
				d2 += s.Down.Up.Sample(r)
			}
			continue
		}
		flip = !flip
		if flip {
			d2 += s.Down.Down.Sample(r)
			d1 += s.Up.Down.Sample(r)
		} else {
			d1 += s.Down.Down.Sample(r)
			d2 += s.Up.Down.Sample(r)
		}
	}
	return a.decide(d1, d2, 2*len(a.stages)), nil
}
