package puf

import "github.com/gregschmit/puflib/bitstr"

// Loop races a challenge against its complement on the same chain. When the
// two paths differ by less than the sensitivity the winner is random.
type Loop struct {
	*chain
}

// NewLoop manufactures a loop PUF.
func NewLoop(o Opts) (*Loop, error) {
	c, err := newChain(KindLoop, o)
	if err != nil {
		return nil, err
	}
	return &Loop{c}, nil
}

// NewLoopFromStages wraps already manufactured stages.
func NewLoopFromStages(stages []*Stage, sensitivity float64, evalSeed []byte) (*Loop, error) {
	c, err := chainFromStages(KindLoop, stages, sensitivity, evalSeed)
	if err != nil {
		return nil, err
	}
	return &Loop{c}, nil
}

// Run returns 1 if the challenge path is slower than its complement.
func (l *Loop) Run(ch bitstr.Bits) (bitstr.Bit, error) {
	rc, err := l.reversed(ch)
	if err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.eval
	var d1, d2 float64
	for i, s := range l.stages {
		if rc[i] == '0' {
			d1 += s.Up.Up.Sample(r) + s.Down.Down.Sample(r)
			d2 += s.Up.Down.Sample(r) + s.Down.Up.Sample(r)
		} else {
			d1 += s.Up.Down.Sample(r) + s.Down.Up.Sample(r)
			d2 += s.Up.Up.Sample(r) + s.Down.Down.Sample(r)
		}
	}
	return l.decide(d1, d2, 4*len(l.stages)), nil
}
