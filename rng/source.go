// Package rng provides the seeded randomness used to manufacture and
// measure emulated devices. Streams are drawn from lattigo's keyed XOF
// PRNG so a device seed reproduces the same silicon and the same noise.
package rng

import (
	"encoding/binary"
	"math/rand"

	"github.com/pkg/errors"
	"github.com/tuneinsight/lattigo/v4/utils"
	"golang.org/x/crypto/sha3"
)

// SeedSize is the length of seeds produced by Derive.
const SeedSize = 32

// Source adapts a keyed PRNG to math/rand.Source64.
// It is not safe for concurrent use.
type Source struct {
	key  []byte
	prng *utils.KeyedPRNG
	buf  [8]byte
}

// NewSource returns a Source keyed by seed. An empty seed selects a fresh
// random SeedSize-byte key.
func NewSource(seed []byte) (*Source, error) {
	key := append([]byte(nil), seed...)
	if len(key) == 0 {
		var err error
		if key, err = Fresh(); err != nil {
			return nil, err
		}
	}
	p, err := utils.NewKeyedPRNG(key)
	if err != nil {
		return nil, errors.Wrap(err, "rng: new prng")
	}
	return &Source{key: key, prng: p}, nil
}

// New wraps NewSource in a *rand.Rand.
func New(seed []byte) (*rand.Rand, error) {
	src, err := NewSource(seed)
	if err != nil {
		return nil, err
	}
	return rand.New(src), nil
}

// Key returns a copy of the PRNG key, which for a seeded source is the seed
// itself.
func (s *Source) Key() []byte { return append([]byte(nil), s.key...) }

func (s *Source) Uint64() uint64 {
	if _, err := s.prng.Read(s.buf[:]); err != nil {
		panic(errors.Wrap(err, "rng: read prng"))
	}
	return binary.LittleEndian.Uint64(s.buf[:])
}

func (s *Source) Int63() int64 {
	return int64(s.Uint64() & (1<<63 - 1))
}

// Seed re-keys the source from a 64-bit value.
func (s *Source) Seed(seed int64) {
	var k [8]byte
	binary.LittleEndian.PutUint64(k[:], uint64(seed))
	key := Derive(k[:], "seed", 0)
	p, err := utils.NewKeyedPRNG(key)
	if err != nil {
		panic(errors.Wrap(err, "rng: reseed"))
	}
	s.key, s.prng = key, p
}

// Derive expands seed into an independent SeedSize-byte subseed for the
// given label and index using SHAKE256.
func Derive(seed []byte, label string, index int) []byte {
	h := sha3.NewShake256()
	_, _ = h.Write([]byte("puflib/"))
	_, _ = h.Write([]byte(label))
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], uint64(index))
	_, _ = h.Write(idx[:])
	_, _ = h.Write(seed)
	out := make([]byte, SeedSize)
	_, _ = h.Read(out)
	return out
}

// Fresh returns SeedSize bytes from a freshly keyed PRNG.
func Fresh() ([]byte, error) {
	p, err := utils.NewPRNG()
	if err != nil {
		return nil, errors.Wrap(err, "rng: new prng")
	}
	out := make([]byte, SeedSize)
	if _, err := p.Read(out); err != nil {
		return nil, errors.Wrap(err, "rng: read prng")
	}
	return out, nil
}
