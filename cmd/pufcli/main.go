// Command pufcli manufactures emulated PUF devices, evaluates them, and runs
// enrollment, authentication and quality analysis against them.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/gregschmit/puflib/measure"
	"github.com/gregschmit/puflib/model"
	"github.com/gregschmit/puflib/prof"
	"github.com/gregschmit/puflib/puf"
	"github.com/gregschmit/puflib/rng"
)

// global flags
type globals struct {
	verbose bool
	params  string
	model   string
	seed    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRoot(os.Stdout).ExecuteContext(ctx)
	stop()
	if err != nil {
		log.WithError(err).Error("pufcli failed")
		os.Exit(1)
	}
}

func newRoot(out io.Writer) *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "pufcli",
		Short:         "Emulate and evaluate delay-based physically unclonable functions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.SetHandler(cli.New(cmd.ErrOrStderr()))
			if g.verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if !g.verbose {
				return nil
			}
			if err := prof.Write(cmd.ErrOrStderr(), prof.SnapshotAndReset()); err != nil {
				return err
			}
			return measure.Global.Dump(cmd.ErrOrStderr())
		},
	}
	root.SetOut(out)
	pf := root.PersistentFlags()
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "enable debug logging and dump metrics on exit")
	pf.StringVarP(&g.params, "params", "p", "", "device parameter file (JSON with comments)")
	pf.StringVarP(&g.model, "model", "m", "", "build the device from an exported model instead of params")
	pf.StringVarP(&g.seed, "seed", "s", "", "manufacturing seed; empty draws a fresh device")

	root.AddCommand(
		runCmd(g),
		quickTestCmd(g),
		crpsCmd(g),
		modelCmd(g),
		enrollCmd(g),
		authCmd(g),
		analyzeCmd(g),
	)
	return root
}

func (g *globals) seedBytes() []byte {
	if g.seed == "" {
		return nil
	}
	return []byte(g.seed)
}

func (g *globals) loadParams() (*puf.Params, error) {
	if g.params == "" {
		p := puf.DefaultParams()
		return &p, nil
	}
	return puf.LoadParamsFromFile(g.params)
}

// device builds the selected device. A model fixes the delays; the seed then
// only keys the evaluation noise.
func (g *globals) device() (puf.Architecture, error) {
	if g.model != "" {
		m, err := model.Load(g.model)
		if err != nil {
			return nil, err
		}
		log.WithFields(log.Fields{"model": g.model, "fingerprint": m.Fingerprint}).Debug("loaded model")
		return m.Build(g.seedBytes())
	}
	p, err := g.loadParams()
	if err != nil {
		return nil, err
	}
	if g.seed == "" {
		log.Warn("no --seed given; this device cannot be reproduced")
	}
	return puf.New(p, g.seedBytes())
}

// challengeRNG returns a reproducible challenge source when a seed is set.
func (g *globals) challengeRNG(label string) (*rand.Rand, error) {
	var seed []byte
	if g.seed != "" {
		seed = rng.Derive([]byte(g.seed), label, 0)
	}
	r, err := rng.New(seed)
	if err != nil {
		return nil, errors.Wrap(err, "challenge source")
	}
	return r, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeJSONFile writes v to path, or to w when path is empty or "-".
func writeJSONFile(w io.Writer, path string, v any) error {
	if path == "" || path == "-" {
		return writeJSON(w, v)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create output")
	}
	if err := writeJSON(f, v); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", path)
	}
	fmt.Fprintln(w, "wrote", path)
	return nil
}
