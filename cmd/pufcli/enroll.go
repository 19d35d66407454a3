package main

import (
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/gregschmit/puflib/crp"
	"github.com/gregschmit/puflib/measure"
	"github.com/gregschmit/puflib/prof"
	"github.com/gregschmit/puflib/puf"
)

type storeFlags struct {
	kind string
	path string
}

func (s *storeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.kind, "store", "file", "enrollment store: file or sqlite")
	cmd.Flags().StringVar(&s.path, "db", "", "store location (default ./pufdb or ./puf.db)")
}

func (s *storeFlags) open() (crp.Store, error) {
	switch s.kind {
	case "file":
		if s.path == "" {
			s.path = "pufdb"
		}
		return crp.NewFileStore(s.path)
	case "sqlite":
		if s.path == "" {
			s.path = "puf.db"
		}
		return crp.NewSQLiteStore(s.path)
	default:
		return nil, errors.Errorf("unknown store %q", s.kind)
	}
}

// member builds device i of a family sharing the global params. With a
// single member the global seed is used unchanged.
func (g *globals) member(i, size int) (puf.Architecture, string, error) {
	if size == 1 {
		a, err := g.device()
		return a, g.seed, err
	}
	p, err := g.loadParams()
	if err != nil {
		return nil, "", err
	}
	var seed string
	if g.seed != "" {
		seed = fmt.Sprintf("%s/%d", g.seed, i)
	}
	var raw []byte
	if seed != "" {
		raw = []byte(seed)
	}
	a, err := puf.New(p, raw)
	return a, seed, err
}

func enrollCmd(g *globals) *cobra.Command {
	var (
		sf      storeFlags
		id      string
		devices int
		o       crp.EnrollOpts
	)
	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Record challenge-response pairs for one or more devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer prof.Track(time.Now(), "enroll")
			if devices < 1 {
				return errors.Errorf("--devices must be >= 1, got %d", devices)
			}
			if devices > 1 && g.model != "" {
				return errors.New("--model enrolls a single device")
			}
			s, err := sf.open()
			if err != nil {
				return err
			}
			defer s.Close()
			r, err := g.challengeRNG("enroll")
			if err != nil {
				return err
			}
			errw := cmd.ErrOrStderr()
			bar := progressbar.NewOptions64(
				int64(devices*o.N),
				progressbar.OptionSetDescription("enrolling"),
				progressbar.OptionShowDescriptionAtLineEnd(),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionThrottle(65*time.Millisecond),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprint(errw, "\n")
				}),
				progressbar.OptionSetWriter(errw),
			)
			o.Progress = func(done, total int) { _ = bar.Add(1) }
			out := cmd.OutOrStdout()
			for i := 0; i < devices; i++ {
				a, seed, err := g.member(i, devices)
				if err != nil {
					return err
				}
				o.DeviceID = id
				if id != "" && devices > 1 {
					o.DeviceID = fmt.Sprintf("%s-%d", id, i)
				}
				e, err := crp.Enroll(cmd.Context(), a, r, o)
				if err != nil {
					return err
				}
				if err := s.Save(cmd.Context(), e); err != nil {
					return errors.Wrapf(err, "save %s", e.DeviceID)
				}
				log.WithFields(log.Fields{"device": e.DeviceID, "seed": seed}).Debug("saved enrollment")
				fmt.Fprintf(out, "%s\t%d pairs\tseed=%q\n", e.DeviceID, len(e.CRPs), seed)
			}
			return nil
		},
	}
	sf.register(cmd)
	f := cmd.Flags()
	f.StringVar(&id, "id", "", "device id (default random UUID)")
	f.IntVar(&devices, "devices", 1, "number of devices to enroll; device i uses seed SEED/i")
	f.IntVarP(&o.N, "pairs", "n", 256, "challenges per device")
	f.IntVar(&o.Repeats, "repeats", 11, "evaluations per challenge")
	f.Float64Var(&o.MinStability, "min-stability", 0, "drop pairs less stable than this")
	return cmd
}

func authCmd(g *globals) *cobra.Command {
	var (
		sf storeFlags
		id string
		o  crp.AuthOpts
	)
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authenticate the device against its enrollment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer prof.Track(time.Now(), "auth")
			if id == "" {
				return errors.New("--id is required")
			}
			s, err := sf.open()
			if err != nil {
				return err
			}
			defer s.Close()
			a, err := g.device()
			if err != nil {
				return err
			}
			res, err := crp.Authenticate(cmd.Context(), a, s, id, o)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d/%d mismatches (error rate %.3f, limit %.3f)\n",
				res.DeviceID, verdict(res.Accepted), res.Mismatches, res.Checked, res.ErrorRate, o.MaxErrorRate)
			measure.Global.Add("cli_auth_rounds", 1)
			return nil
		},
	}
	sf.register(cmd)
	f := cmd.Flags()
	f.StringVar(&id, "id", "", "enrolled device id")
	f.IntVarP(&o.Count, "count", "c", 32, "pairs to spend")
	f.Float64Var(&o.MaxErrorRate, "max-error", 0.1, "largest accepted mismatch fraction")
	return cmd
}
