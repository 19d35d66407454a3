// Package prof collects wall-clock timings of CLI and library stages.
package prof

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/gregschmit/puflib/measure"
)

// Entry is one timed stage.
type Entry struct {
	Label string
	Dur   time.Duration
}

var (
	mu      sync.Mutex
	entries []Entry
)

// Track records the time since start under label and feeds the
// puflib_stage_seconds histogram. Use as `defer prof.Track(time.Now(), "x")`.
func Track(start time.Time, label string) {
	elapsed := time.Since(start)
	mu.Lock()
	entries = append(entries, Entry{Label: label, Dur: elapsed})
	mu.Unlock()
	measure.Global.ObserveStage(label, elapsed)
}

// SnapshotAndReset returns the collected entries and clears them.
func SnapshotAndReset() []Entry {
	mu.Lock()
	defer mu.Unlock()
	out := entries
	entries = nil
	return out
}

// Total sums the durations recorded for label.
func Total(es []Entry, label string) time.Duration {
	var d time.Duration
	for _, e := range es {
		if e.Label == label {
			d += e.Dur
		}
	}
	return d
}

// Write prints one line per label with its call count and total time,
// sorted by label.
func Write(w io.Writer, es []Entry) error {
	counts := map[string]int{}
	for _, e := range es {
		counts[e.Label]++
	}
	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		if _, err := fmt.Fprintf(w, "%-12s %4d  %v\n", l, counts[l], Total(es, l)); err != nil {
			return err
		}
	}
	return nil
}
