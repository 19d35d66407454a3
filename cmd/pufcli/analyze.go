package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/gregschmit/puflib/analysis"
	"github.com/gregschmit/puflib/bitstr"
	"github.com/gregschmit/puflib/prof"
	"github.com/gregschmit/puflib/puf"
	"github.com/gregschmit/puflib/report"
)

// analysisStats is the JSON summary written next to the HTML report.
type analysisStats struct {
	Devices     int                  `json:"devices"`
	Challenges  int                  `json:"challenges"`
	Repeats     int                  `json:"repeats"`
	Reliability float64              `json:"reliability"`
	Uniqueness  float64              `json:"uniqueness"`
	IntraHD     analysis.Summary     `json:"intra_hd"`
	InterHD     analysis.Summary     `json:"inter_hd"`
	Uniformity  analysis.Summary     `json:"uniformity"`
	Aliasing    analysis.Summary     `json:"aliasing"`
	Tri         []analysis.TriBucket `json:"tri"`
}

// maxTriChallenges bounds the quadratic pair count of the tri profile.
const maxTriChallenges = 128

func analyzeCmd(g *globals) *cobra.Command {
	var (
		devices, n, repeats int
		out                 string
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Measure reliability, uniqueness and bias over a device family",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer prof.Track(time.Now(), "analyze")
			if devices < 2 {
				return errors.Errorf("--devices must be >= 2, got %d", devices)
			}
			if g.model != "" {
				return errors.New("analyze manufactures its own family; drop --model")
			}
			ctx := cmd.Context()
			fam := make([]puf.Architecture, devices)
			for i := range fam {
				a, _, err := g.member(i, devices)
				if err != nil {
					return err
				}
				fam[i] = a
			}
			r, err := g.challengeRNG("analyze")
			if err != nil {
				return err
			}
			challenges := bitstr.Random(r, n, fam[0].Stages(), true)

			var intra []float64
			for i, a := range fam {
				rel, err := analysis.Reliability(ctx, a, challenges, repeats)
				if err != nil {
					return errors.Wrapf(err, "device %d", i)
				}
				intra = append(intra, rel.IntraHD...)
			}
			uq, err := analysis.Uniqueness(ctx, fam, challenges)
			if err != nil {
				return err
			}
			triSet := challenges
			if len(triSet) > maxTriChallenges {
				triSet = triSet[:maxTriChallenges]
			}
			tri, err := analysis.TriProfile(fam[0], triSet)
			if err != nil {
				return err
			}

			st := analysisStats{
				Devices:     devices,
				Challenges:  n,
				Repeats:     repeats,
				Reliability: 1 - analysis.Summarize(intra).Mean,
				Uniqueness:  uq.Uniqueness(),
				IntraHD:     analysis.Summarize(intra),
				InterHD:     analysis.Summarize(uq.InterHD),
				Uniformity:  analysis.Summarize(uq.Uniformity),
				Aliasing:    analysis.Summarize(uq.Aliasing),
				Tri:         tri,
			}
			log.WithFields(log.Fields{
				"reliability": st.Reliability,
				"uniqueness":  st.Uniqueness,
			}).Debug("analysis done")

			if err := os.MkdirAll(out, 0o755); err != nil {
				return errors.Wrap(err, "create output dir")
			}
			ts := time.Now().Format("20060102_150405")
			w := cmd.OutOrStdout()
			jsonPath := filepath.Join(out, fmt.Sprintf("puf_stats_%s.json", ts))
			if err := writeJSONFile(w, jsonPath, st); err != nil {
				return err
			}

			page := report.New(fmt.Sprintf("PUF family analysis (%d devices)", devices)).
				Histogram("intra-device distance", intra).
				Histogram("inter-device distance", uq.InterHD).
				Histogram("uniformity", uq.Uniformity).
				Aliasing("bit aliasing", uq.Aliasing).
				TriProfile("response agreement by tri distance", tri)
			htmlPath := filepath.Join(out, fmt.Sprintf("puf_report_%s.html", ts))
			f, err := os.Create(htmlPath)
			if err != nil {
				return errors.Wrap(err, "create html")
			}
			if err := page.Render(f); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return errors.Wrapf(err, "close %s", htmlPath)
			}
			fmt.Fprintln(w, "wrote", htmlPath)
			fmt.Fprintf(w, "reliability %.4f  uniqueness %.4f\n", st.Reliability, st.Uniqueness)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&devices, "devices", 8, "family size")
	f.IntVarP(&n, "challenges", "n", 256, "challenges per device")
	f.IntVar(&repeats, "repeats", 10, "repeated evaluations for reliability")
	f.StringVarP(&out, "out", "o", "analysis_out", "output directory")
	return cmd
}
