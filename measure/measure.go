// Package measure collects evaluation counters for emulated devices on a
// private prometheus registry.
package measure

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Enabled gates every recording call. Benchmarks turn it off.
var Enabled = true

// Global is the process-wide recorder.
var Global = NewRecorder(nil)

// Recorder owns the puflib metrics.
type Recorder struct {
	registry *prometheus.Registry

	evaluations *prometheus.CounterVec
	gateSamples prometheus.Counter
	auths       *prometheus.CounterVec
	stage       *prometheus.HistogramVec
	custom      *prometheus.CounterVec
}

// NewRecorder registers the metrics on reg, or on a fresh registry when reg
// is nil.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "puflib",
			Name:      "evaluations_total",
			Help:      "Challenge evaluations per architecture kind",
		}, []string{"kind"}),
		gateSamples: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "puflib",
			Name:      "gate_samples_total",
			Help:      "Gate delay samples taken while racing signals",
		}),
		auths: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "puflib",
			Name:      "authentications_total",
			Help:      "Authentication attempts by verdict",
		}, []string{"result"}),
		stage: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "puflib",
			Name:      "stage_seconds",
			Help:      "Wall-clock duration of tracked stages",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 10, 8),
		}, []string{"label"}),
		custom: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "puflib",
			Name:      "custom_total",
			Help:      "Free-form counters added with Add",
		}, []string{"name"}),
	}
}

// Registry exposes the underlying registry, e.g. for promhttp.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) Evaluation(kind string, gateSamples int) {
	if !Enabled {
		return
	}
	r.evaluations.WithLabelValues(kind).Inc()
	r.gateSamples.Add(float64(gateSamples))
}

func (r *Recorder) Authentication(accepted bool) {
	if !Enabled {
		return
	}
	result := "reject"
	if accepted {
		result = "accept"
	}
	r.auths.WithLabelValues(result).Inc()
}

func (r *Recorder) ObserveStage(label string, d time.Duration) {
	if !Enabled {
		return
	}
	r.stage.WithLabelValues(label).Observe(d.Seconds())
}

// Add bumps the free-form counter name by v.
func (r *Recorder) Add(name string, v int64) {
	if !Enabled || v <= 0 {
		return
	}
	r.custom.WithLabelValues(name).Add(float64(v))
}

// Snapshot flattens the registry into "name{label=value}" keys. Histograms
// contribute _count and _sum entries.
func (r *Recorder) Snapshot() (map[string]float64, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			var suffix string
			if len(labels) > 0 {
				suffix = "{" + strings.Join(labels, ",") + "}"
			}
			name := mf.GetName()
			switch {
			case m.GetCounter() != nil:
				out[name+suffix] = m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				out[name+"_count"+suffix] = float64(m.GetHistogram().GetSampleCount())
				out[name+"_sum"+suffix] = m.GetHistogram().GetSampleSum()
			case m.GetGauge() != nil:
				out[name+suffix] = m.GetGauge().GetValue()
			}
		}
	}
	return out, nil
}

// Dump writes the snapshot sorted by key.
func (r *Recorder) Dump(w io.Writer) error {
	snap, err := r.Snapshot()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%-60s %g\n", k, snap[k]); err != nil {
			return err
		}
	}
	return nil
}
