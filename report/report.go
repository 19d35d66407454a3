// Package report renders analysis results as a self-contained HTML page of
// go-echarts charts.
package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/pkg/errors"

	"github.com/gregschmit/puflib/analysis"
)

const (
	width  = "1200px"
	height = "600px"
)

// Page collects charts for one HTML document.
type Page struct {
	title  string
	charts []components.Charter
}

// New starts an empty page.
func New(title string) *Page {
	return &Page{title: title}
}

// Len reports the number of charts on the page.
func (p *Page) Len() int { return len(p.charts) }

func toBarItems[T int | float64](vals []T) []opts.BarData {
	out := make([]opts.BarData, len(vals))
	for i, v := range vals {
		out[i] = opts.BarData{Value: v}
	}
	return out
}

func newBar(title, subtitle string) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: width, Height: height}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}, opts.DataZoom{Type: "slider"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	return bar
}

// Histogram adds a histogram of values with Freedman-Diaconis binning.
// Empty samples are skipped.
func (p *Page) Histogram(title string, values []float64) *Page {
	if len(values) == 0 {
		return p
	}
	st := analysis.Summarize(values)
	nbins := analysis.FreedmanDiaconisBins(values)
	edges, counts := analysis.Histogram(values, nbins)
	labels := make([]string, nbins)
	for i := 0; i < nbins; i++ {
		labels[i] = fmt.Sprintf("%.3f", 0.5*(edges[i]+edges[i+1]))
	}
	sub := fmt.Sprintf("n=%d, mean=%.3f, std=%.3f, median=%.3f, IQR=%.3f", st.Count, st.Mean, st.Std, st.Median, st.IQR)
	bar := newBar(title, sub)
	bar.SetXAxis(labels).
		AddSeries("count", toBarItems(counts)).
		SetSeriesOptions(charts.WithLabelOpts(opts.Label{Show: opts.Bool(false)}))
	p.charts = append(p.charts, bar)
	return p
}

// Aliasing adds one bar per challenge index showing the fraction of devices
// answering 1.
func (p *Page) Aliasing(title string, aliasing []float64) *Page {
	if len(aliasing) == 0 {
		return p
	}
	labels := make([]int, len(aliasing))
	for i := range labels {
		labels[i] = i
	}
	st := analysis.Summarize(aliasing)
	bar := newBar(title, fmt.Sprintf("challenges=%d, mean=%.3f, std=%.3f", st.Count, st.Mean, st.Std))
	bar.SetXAxis(labels).AddSeries("P(1)", toBarItems(aliasing))
	p.charts = append(p.charts, bar)
	return p
}

// TriProfile adds a bar per Tri distance with the agreement of pairs at
// that distance.
func (p *Page) TriProfile(title string, buckets []analysis.TriBucket) *Page {
	if len(buckets) == 0 {
		return p
	}
	labels := make([]int, len(buckets))
	agree := make([]float64, len(buckets))
	pairs := make([]int, len(buckets))
	for i, b := range buckets {
		labels[i] = b.Tri
		agree[i] = b.Agreement()
		pairs[i] = b.Pairs
	}
	bar := newBar(title, "fraction of challenge pairs with equal responses")
	bar.SetXAxis(labels).
		AddSeries("agreement", toBarItems(agree)).
		AddSeries("pairs", toBarItems(pairs))
	p.charts = append(p.charts, bar)
	return p
}

// Render writes the page as HTML.
func (p *Page) Render(w io.Writer) error {
	if len(p.charts) == 0 {
		return errors.New("report: nothing to render")
	}
	page := components.NewPage()
	page.PageTitle = p.title
	page.AddCharts(p.charts...)
	return errors.Wrap(page.Render(w), "render report")
}
