// Package model persists manufactured devices. A Model captures every gate
// delay of a device so it can be rebuilt bit-for-bit in another process.
package model

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math"
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"

	"github.com/gregschmit/puflib/puf"
	"github.com/gregschmit/puflib/rng"
)

// Version tags the on-disk schema.
const Version = "puflib-model-v1"

var (
	ErrFingerprint = errors.New("model: fingerprint mismatch")
	ErrVersion     = errors.New("model: unsupported version")
	ErrMalformed   = errors.New("model: malformed document")
)

// Model is the JSON form of a device.
type Model struct {
	Version     string       `json:"version"`
	Created     string       `json:"created"`
	Kind        puf.Kind     `json:"kind"`
	Sensitivity float64      `json:"sensitivity,omitempty"`
	Noise       *rng.Spec    `json:"noise,omitempty"`
	Stages      [][4]float64 `json:"stages,omitempty"`
	Children    []*Model     `json:"children,omitempty"`
	Fingerprint string       `json:"fingerprint"`
}

type chain interface {
	puf.Architecture
	StageList() []*puf.Stage
	Sensitivity() float64
}

// Export snapshots a device.
func Export(a puf.Architecture) (*Model, error) {
	m, err := export(a)
	if err != nil {
		return nil, err
	}
	m.Created = time.Now().UTC().Format(time.RFC3339)
	return m, nil
}

func export(a puf.Architecture) (*Model, error) {
	m := &Model{Version: Version, Kind: a.Kind()}
	switch d := a.(type) {
	case *puf.Xor:
		for i, c := range d.Children() {
			cm, err := export(c)
			if err != nil {
				return nil, errors.Wrapf(err, "child %d", i)
			}
			m.Children = append(m.Children, cm)
		}
	case chain:
		m.Sensitivity = d.Sensitivity()
		for _, s := range d.StageList() {
			m.Stages = append(m.Stages, s.Delays())
		}
		if n := d.StageList()[0].Up.Up.Noise; n != nil {
			spec := n.Spec()
			m.Noise = &spec
		}
	default:
		return nil, errors.Errorf("model: cannot export %T", a)
	}
	m.Fingerprint = m.fingerprint()
	return m, nil
}

// fingerprint hashes kind, sensitivity, the delay table and the children's
// fingerprints with SHA3-256.
func (m *Model) fingerprint() string {
	h := sha3.New256()
	var buf [8]byte
	putFloat := func(f float64) {
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(f))
		_, _ = h.Write(buf[:])
	}
	_, _ = h.Write([]byte(m.Kind))
	putFloat(m.Sensitivity)
	binary.BigEndian.PutUint64(buf[:], uint64(len(m.Stages)))
	_, _ = h.Write(buf[:])
	for _, s := range m.Stages {
		for _, d := range s {
			putFloat(d)
		}
	}
	for _, c := range m.Children {
		_, _ = h.Write([]byte(c.fingerprint()))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// StageCount is the chain length, taken from the first child of a composite.
func (m *Model) StageCount() int {
	if len(m.Children) > 0 && m.Children[0] != nil {
		return m.Children[0].StageCount()
	}
	return len(m.Stages)
}

// checkShape rejects documents whose layout does not match their kind. It
// runs before hashing so nil children never reach fingerprint.
func (m *Model) checkShape() error {
	if m == nil {
		return errors.Wrap(ErrMalformed, "null model")
	}
	switch m.Kind {
	case puf.KindXor:
		if len(m.Stages) > 0 {
			return errors.Wrap(ErrMalformed, "xor model carries stages")
		}
		if len(m.Children) < 2 {
			return errors.Wrapf(puf.ErrTooFewChildren, "%d children", len(m.Children))
		}
		for i, c := range m.Children {
			if err := c.checkShape(); err != nil {
				return errors.Wrapf(err, "child %d", i)
			}
			if c.Kind == puf.KindXor {
				return errors.Wrapf(ErrMalformed, "child %d is itself xor", i)
			}
		}
	case puf.KindArbiter, puf.KindLoop:
		if len(m.Children) > 0 {
			return errors.Wrapf(ErrMalformed, "%s model carries children", m.Kind)
		}
		if len(m.Stages) == 0 {
			return puf.ErrNoStages
		}
	default:
		return errors.Wrapf(puf.ErrUnknownKind, "%q", m.Kind)
	}
	return nil
}

// Verify checks the version and layout and recomputes the fingerprint.
func (m *Model) Verify() error {
	if err := m.checkShape(); err != nil {
		return err
	}
	if m.Version != Version {
		return errors.Wrapf(ErrVersion, "%q", m.Version)
	}
	if got := m.fingerprint(); got != m.Fingerprint {
		return errors.Wrapf(ErrFingerprint, "have %s, computed %s", m.Fingerprint, got)
	}
	for i, c := range m.Children {
		if err := c.Verify(); err != nil {
			return errors.Wrapf(err, "child %d", i)
		}
	}
	return nil
}

// Build reconstructs the device. evalSeed seeds the measurement stream; an
// empty seed gives a fresh one. Delays are always those of the model.
func (m *Model) Build(evalSeed []byte) (puf.Architecture, error) {
	if err := m.Verify(); err != nil {
		return nil, err
	}
	return m.build(evalSeed)
}

func (m *Model) build(evalSeed []byte) (puf.Architecture, error) {
	if m.Kind == puf.KindXor {
		children := make([]puf.Architecture, len(m.Children))
		for i, cm := range m.Children {
			var cs []byte
			if len(evalSeed) > 0 {
				cs = rng.Derive(evalSeed, "child", i)
			}
			c, err := cm.build(cs)
			if err != nil {
				return nil, errors.Wrapf(err, "child %d", i)
			}
			children[i] = c
		}
		return puf.NewXorFrom(children)
	}
	var noise rng.Distribution
	if m.Noise != nil {
		var err error
		if noise, err = m.Noise.Distribution(); err != nil {
			return nil, errors.Wrap(err, "noise")
		}
	}
	stages := make([]*puf.Stage, len(m.Stages))
	for i, d := range m.Stages {
		stages[i] = puf.NewStage(d, noise)
	}
	switch m.Kind {
	case puf.KindArbiter:
		return puf.NewArbiterFromStages(stages, m.Sensitivity, evalSeed)
	case puf.KindLoop:
		return puf.NewLoopFromStages(stages, m.Sensitivity, evalSeed)
	default:
		return nil, errors.Wrapf(puf.ErrUnknownKind, "%q", m.Kind)
	}
}

// Save writes m to path as indented JSON.
func Save(path string, m *Model) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal model")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(err, "write model")
	}
	return nil
}

// Load reads a model from disk and verifies it.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read model")
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "unmarshal model")
	}
	if err := m.Verify(); err != nil {
		return nil, err
	}
	return &m, nil
}
