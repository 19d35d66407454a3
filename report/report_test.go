package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gregschmit/puflib/analysis"
)

func TestRender(t *testing.T) {
	p := New("device quality").
		Histogram("intra-device distance", []float64{0, 0.01, 0.02, 0.02, 0.05}).
		Histogram("skipped", nil).
		Aliasing("bit aliasing", []float64{0.5, 0.25, 0.75}).
		TriProfile("tri profile", []analysis.TriBucket{{Tri: 1, Pairs: 4, Equal: 3}, {Tri: 5, Pairs: 2}})
	if p.Len() != 3 {
		t.Fatalf("charts=%d want 3", p.Len())
	}
	var buf bytes.Buffer
	if err := p.Render(&buf); err != nil {
		t.Fatalf("render: %v", err)
	}
	html := buf.String()
	for _, want := range []string{"<html", "device quality", "bit aliasing"} {
		if !strings.Contains(html, want) {
			t.Fatalf("output missing %q", want)
		}
	}
}

func TestRenderEmpty(t *testing.T) {
	if err := New("empty").Render(&bytes.Buffer{}); err == nil {
		t.Fatalf("empty page rendered")
	}
}
