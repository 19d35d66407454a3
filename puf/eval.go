package puf

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/gregschmit/puflib/bitstr"
	"github.com/gregschmit/puflib/rng"
)

// DefaultQuickTestRuns is the repetition count QuickTest uses when asked for
// zero or fewer runs.
const DefaultQuickTestRuns = 100

// CRP is a challenge-response pair.
type CRP struct {
	Challenge bitstr.Bits `json:"challenge"`
	Response  bitstr.Bit  `json:"response"`
}

// RunSet evaluates challenges in order.
func RunSet(a Architecture, challenges []bitstr.Bits) ([]bitstr.Bit, error) {
	out := make([]bitstr.Bit, len(challenges))
	for i, c := range challenges {
		b, err := a.Run(c)
		if err != nil {
			return nil, errors.Wrapf(err, "challenge %d", i)
		}
		out[i] = b
	}
	return out, nil
}

// Responses is RunSet concatenated into a single bit string.
func Responses(a Architecture, challenges []bitstr.Bits) (bitstr.Bits, error) {
	bits, err := RunSet(a, challenges)
	if err != nil {
		return "", err
	}
	buf := make([]byte, len(bits))
	for i, b := range bits {
		buf[i] = byte(b)
	}
	return bitstr.Bits(buf), nil
}

// QuickResult summarises a repeated evaluation of one challenge.
type QuickResult struct {
	Challenge bitstr.Bits
	Winner    bitstr.Bit
	Frequency float64
	Zeros     int
	Ones      int
}

// QuickTest evaluates challenge times times and reports the majority
// response and its frequency. Ties go to 1. An empty challenge is drawn at
// random from r; a nil r uses a fresh source.
func QuickTest(a Architecture, r *rand.Rand, challenge bitstr.Bits, times int) (QuickResult, error) {
	if times <= 0 {
		times = DefaultQuickTestRuns
	}
	if challenge == "" {
		if r == nil {
			var err error
			if r, err = rng.New(nil); err != nil {
				return QuickResult{}, err
			}
		}
		challenge = bitstr.Random(r, 1, a.Stages(), false)[0]
	}
	if challenge.Len() != a.Stages() {
		return QuickResult{}, ErrChallengeLength
	}
	res := QuickResult{Challenge: challenge}
	for i := 0; i < times; i++ {
		b, err := a.Run(challenge)
		if err != nil {
			return QuickResult{}, err
		}
		if b == bitstr.One {
			res.Ones++
		} else {
			res.Zeros++
		}
	}
	if res.Zeros > res.Ones {
		res.Winner = bitstr.Zero
		res.Frequency = float64(res.Zeros) / float64(times)
	} else {
		res.Winner = bitstr.One
		res.Frequency = float64(res.Ones) / float64(times)
	}
	return res, nil
}

// GenerateCRPs evaluates n random challenges drawn from r.
func GenerateCRPs(a Architecture, r *rand.Rand, n int, unique bool) ([]CRP, error) {
	cs := bitstr.Random(r, n, a.Stages(), unique)
	out := make([]CRP, len(cs))
	for i, c := range cs {
		b, err := a.Run(c)
		if err != nil {
			return nil, err
		}
		out[i] = CRP{Challenge: c, Response: b}
	}
	return out, nil
}

// Bitstring renders x as a challenge sized for a.
func Bitstring(a Architecture, x uint64) bitstr.Bits {
	return bitstr.FromInt(x, a.Stages())
}
