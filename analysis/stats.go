// Package analysis computes the usual PUF quality metrics: reliability
// (intra-device distance), uniqueness (inter-device distance), uniformity
// and bit aliasing, plus a profile of response correlation against the
// Tri distance of challenge pairs.
package analysis

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
)

// Summary is a compact description of a sample.
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Q1     float64 `json:"q1"`
	Median float64 `json:"median"`
	Q3     float64 `json:"q3"`
	Max    float64 `json:"max"`
	IQR    float64 `json:"iqr"`
}

// Summarize returns the zero Summary for an empty sample.
func Summarize(x []float64) Summary {
	if len(x) == 0 {
		return Summary{}
	}
	data := stats.Float64Data(x)
	s := Summary{Count: len(x)}
	s.Mean, _ = stats.Mean(data)
	s.Min, _ = stats.Min(data)
	s.Max, _ = stats.Max(data)
	s.Median, _ = stats.Median(data)
	if len(x) > 1 {
		s.Std, _ = stats.StandardDeviationSample(data)
		q, err := stats.Quartile(data)
		if err == nil {
			s.Q1, s.Q3 = q.Q1, q.Q3
		}
	} else {
		s.Q1, s.Q3 = s.Median, s.Median
	}
	s.IQR = s.Q3 - s.Q1
	return s
}

// FreedmanDiaconisBins picks a histogram bin count for x, capped at 200.
func FreedmanDiaconisBins(x []float64) int {
	n := len(x)
	if n < 2 {
		return 1
	}
	s := Summarize(x)
	if s.IQR == 0 || s.Max == s.Min {
		if n < 200 {
			return n
		}
		return 200
	}
	bw := 2 * s.IQR * math.Pow(float64(n), -1.0/3.0)
	bins := int(math.Ceil((s.Max - s.Min) / bw))
	if bins < 1 {
		bins = 1
	}
	if bins > 200 {
		bins = 200
	}
	return bins
}

// Histogram splits x into nbins equal-width bins and returns the nbins+1
// edges and the counts.
func Histogram(x []float64, nbins int) ([]float64, []int) {
	if nbins < 1 {
		nbins = 1
	}
	edges := make([]float64, nbins+1)
	counts := make([]int, nbins)
	if len(x) == 0 {
		return edges, counts
	}
	cp := append([]float64(nil), x...)
	sort.Float64s(cp)
	lo, hi := cp[0], cp[len(cp)-1]
	if hi == lo {
		hi = lo + 1
	}
	w := (hi - lo) / float64(nbins)
	for i := range edges {
		edges[i] = lo + float64(i)*w
	}
	for _, v := range cp {
		idx := int((v - lo) / w)
		if idx >= nbins {
			idx = nbins - 1
		}
		counts[idx]++
	}
	return edges, counts
}
