package analysis

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/gregschmit/puflib/bitstr"
	"github.com/gregschmit/puflib/puf"
)

// ReliabilityReport describes how consistently one device answers the same
// challenges.
type ReliabilityReport struct {
	Challenges []bitstr.Bits `json:"challenges"`
	// Reference is the first evaluation of every challenge.
	Reference bitstr.Bits `json:"reference"`
	// Stability is the majority frequency per challenge over all runs.
	Stability []float64 `json:"stability"`
	// IntraHD holds the fractional Hamming distance of every repeated run
	// against Reference.
	IntraHD []float64 `json:"intra_hd"`
}

// Reliability is one minus the mean intra-device distance.
func (r *ReliabilityReport) Reliability() float64 {
	if len(r.IntraHD) == 0 {
		return 1
	}
	return 1 - Summarize(r.IntraHD).Mean
}

// Reliability evaluates challenges once for reference and repeats more
// times.
func Reliability(ctx context.Context, a puf.Architecture, challenges []bitstr.Bits, repeats int) (*ReliabilityReport, error) {
	if len(challenges) == 0 {
		return nil, errors.New("analysis: no challenges")
	}
	if repeats < 0 {
		return nil, errors.Errorf("analysis: repeats must be >=0, got %d", repeats)
	}
	ref, err := puf.Responses(a, challenges)
	if err != nil {
		return nil, err
	}
	ones := make([]int, len(challenges))
	count := func(resp bitstr.Bits) {
		for i := 0; i < resp.Len(); i++ {
			if resp.Bit(i) == bitstr.One {
				ones[i]++
			}
		}
	}
	count(ref)
	rep := &ReliabilityReport{Challenges: challenges, Reference: ref}
	for i := 0; i < repeats; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := puf.Responses(a, challenges)
		if err != nil {
			return nil, err
		}
		count(resp)
		rep.IntraHD = append(rep.IntraHD, bitstr.FracHamming(ref, resp))
	}
	runs := float64(repeats + 1)
	rep.Stability = make([]float64, len(challenges))
	for i, n := range ones {
		f := float64(n) / runs
		if f < 0.5 {
			f = 1 - f
		}
		rep.Stability[i] = f
	}
	return rep, nil
}

// Uniformity is the fraction of ones in responses. An ideal device sits at
// 0.5.
func Uniformity(responses bitstr.Bits) float64 {
	if responses.Len() == 0 {
		return 0
	}
	return float64(responses.Ones()) / float64(responses.Len())
}

// UniquenessReport compares the responses of several devices to the same
// challenges.
type UniquenessReport struct {
	Responses []bitstr.Bits `json:"responses"`
	// InterHD holds the fractional distance of every device pair.
	InterHD []float64 `json:"inter_hd"`
	// Aliasing is, per challenge, the fraction of devices answering 1.
	Aliasing []float64 `json:"aliasing"`
	// Uniformity per device.
	Uniformity []float64 `json:"uniformity"`
}

// Uniqueness is the mean inter-device distance; ideally 0.5.
func (u *UniquenessReport) Uniqueness() float64 {
	return Summarize(u.InterHD).Mean
}

// Uniqueness evaluates every device on challenges.
func Uniqueness(ctx context.Context, devices []puf.Architecture, challenges []bitstr.Bits) (*UniquenessReport, error) {
	if len(devices) < 2 {
		return nil, errors.New("analysis: uniqueness needs at least 2 devices")
	}
	u := &UniquenessReport{}
	for i, d := range devices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := puf.Responses(d, challenges)
		if err != nil {
			return nil, errors.Wrapf(err, "device %d", i)
		}
		u.Responses = append(u.Responses, resp)
		u.Uniformity = append(u.Uniformity, Uniformity(resp))
	}
	for i := 0; i < len(u.Responses); i++ {
		for j := i + 1; j < len(u.Responses); j++ {
			u.InterHD = append(u.InterHD, bitstr.FracHamming(u.Responses[i], u.Responses[j]))
		}
	}
	u.Aliasing = BitAliasing(u.Responses)
	return u, nil
}

// BitAliasing returns, per position, the fraction of response strings with
// a 1 there. Strings shorter than the first are ignored past their end.
func BitAliasing(responses []bitstr.Bits) []float64 {
	if len(responses) == 0 {
		return nil
	}
	n := responses[0].Len()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		ones, seen := 0, 0
		for _, r := range responses {
			if i >= r.Len() {
				continue
			}
			seen++
			if r.Bit(i) == bitstr.One {
				ones++
			}
		}
		if seen > 0 {
			out[i] = float64(ones) / float64(seen)
		}
	}
	return out
}

// TriBucket groups challenge pairs at the same Tri distance.
type TriBucket struct {
	Tri   int `json:"tri"`
	Pairs int `json:"pairs"`
	Equal int `json:"equal"`
}

// Agreement is the fraction of pairs in the bucket with equal responses.
func (b TriBucket) Agreement() float64 {
	if b.Pairs == 0 {
		return 0
	}
	return float64(b.Equal) / float64(b.Pairs)
}

// TriProfile evaluates challenges on a and groups every pair by Tri
// distance. For an arbiter chain, pairs with small Tri tend to agree.
func TriProfile(a puf.Architecture, challenges []bitstr.Bits) ([]TriBucket, error) {
	resp, err := puf.Responses(a, challenges)
	if err != nil {
		return nil, err
	}
	buckets := map[int]*TriBucket{}
	for i := 0; i < len(challenges); i++ {
		for j := i + 1; j < len(challenges); j++ {
			t := bitstr.Tri(challenges[i], challenges[j])
			b, ok := buckets[t]
			if !ok {
				b = &TriBucket{Tri: t}
				buckets[t] = b
			}
			b.Pairs++
			if resp.Bit(i) == resp.Bit(j) {
				b.Equal++
			}
		}
	}
	out := make([]TriBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tri < out[j].Tri })
	return out, nil
}
