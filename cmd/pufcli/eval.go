package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/gregschmit/puflib/bitstr"
	"github.com/gregschmit/puflib/model"
	"github.com/gregschmit/puflib/prof"
	"github.com/gregschmit/puflib/puf"
)

func runCmd(g *globals) *cobra.Command {
	var asInt bool
	cmd := &cobra.Command{
		Use:   "run CHALLENGE...",
		Short: "Evaluate the device on each challenge and print the response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer prof.Track(time.Now(), "run")
			a, err := g.device()
			if err != nil {
				return err
			}
			for _, arg := range args {
				var c bitstr.Bits
				if asInt {
					var x uint64
					if _, err := fmt.Sscan(arg, &x); err != nil {
						return errors.Wrapf(err, "challenge %q", arg)
					}
					c = puf.Bitstring(a, x)
				} else if c, err = bitstr.Parse(arg); err != nil {
					return err
				}
				b, err := a.Run(c)
				if err != nil {
					return errors.Wrapf(err, "challenge %s", c)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", c, b)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asInt, "int", false, "read challenges as unsigned integers")
	return cmd
}

func quickTestCmd(g *globals) *cobra.Command {
	var times int
	cmd := &cobra.Command{
		Use:   "quicktest [CHALLENGE]",
		Short: "Evaluate one challenge repeatedly and report the majority response",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.device()
			if err != nil {
				return err
			}
			var c bitstr.Bits
			if len(args) == 1 {
				if c, err = bitstr.Parse(args[0]); err != nil {
					return err
				}
			}
			r, err := g.challengeRNG("quicktest")
			if err != nil {
				return err
			}
			res, err := puf.QuickTest(a, r, c, times)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().IntVarP(&times, "times", "t", puf.DefaultQuickTestRuns, "number of evaluations")
	return cmd
}

func crpsCmd(g *globals) *cobra.Command {
	var (
		n      int
		unique bool
		out    string
	)
	cmd := &cobra.Command{
		Use:   "crps",
		Short: "Generate random challenge-response pairs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer prof.Track(time.Now(), "crps")
			a, err := g.device()
			if err != nil {
				return err
			}
			r, err := g.challengeRNG("crps")
			if err != nil {
				return err
			}
			crps, err := puf.GenerateCRPs(a, r, n, unique)
			if err != nil {
				return err
			}
			return writeJSONFile(cmd.OutOrStdout(), out, crps)
		},
	}
	cmd.Flags().IntVarP(&n, "pairs", "n", 16, "number of pairs")
	cmd.Flags().BoolVar(&unique, "unique", false, "draw distinct challenges")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func modelCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Export or verify device models",
	}
	var out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Snapshot the manufactured delays of the device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.device()
			if err != nil {
				return err
			}
			m, err := model.Export(a)
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				return writeJSON(cmd.OutOrStdout(), m)
			}
			if err := model.Save(out, m); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s)\n", out, m.Fingerprint)
			return nil
		},
	}
	export.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	verify := &cobra.Command{
		Use:   "verify FILE...",
		Short: "Check model files against their fingerprints",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed int
			for _, path := range args {
				m, err := model.Load(path)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", path, red(err.Error()))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s %s %d stages %s\n", path, green("ok"), m.Kind, m.StageCount(), m.Fingerprint)
			}
			if failed > 0 {
				return errors.Errorf("%d of %d models failed verification", failed, len(args))
			}
			return nil
		},
	}
	cmd.AddCommand(export, verify)
	return cmd
}
