// Package bitstr holds the bit-string representation shared by challenges and
// responses, plus the distance measures used when studying delay PUFs.
package bitstr

import (
	"math/rand"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Bits is a challenge or response written as a string of '0' and '1'.
// Index 0 is the leftmost (most significant) bit.
type Bits string

// Bit is a single response bit.
type Bit byte

const (
	Zero Bit = '0'
	One  Bit = '1'
)

var (
	ErrEmpty     = errors.New("bitstr: empty bit string")
	ErrNotBinary = errors.New("bitstr: non-binary character")
)

func (b Bit) String() string { return string(rune(b)) }

// MarshalText encodes the bit as "0" or "1".
func (b Bit) MarshalText() ([]byte, error) {
	if b != Zero && b != One {
		return nil, errors.Wrapf(ErrNotBinary, "bit %d", byte(b))
	}
	return []byte{byte(b)}, nil
}

func (b *Bit) UnmarshalText(text []byte) error {
	if len(text) != 1 || (text[0] != '0' && text[0] != '1') {
		return errors.Wrapf(ErrNotBinary, "bit %q", text)
	}
	*b = Bit(text[0])
	return nil
}

// Flip returns the opposite bit.
func (b Bit) Flip() Bit {
	if b == One {
		return Zero
	}
	return One
}

// Parse validates s and returns it as Bits.
func Parse(s string) (Bits, error) {
	if s == "" {
		return "", ErrEmpty
	}
	for i := 0; i < len(s); i++ {
		if s[i] != '0' && s[i] != '1' {
			return "", errors.Wrapf(ErrNotBinary, "%q at offset %d", s[i], i)
		}
	}
	return Bits(s), nil
}

// MustParse is Parse for literals; it panics on malformed input.
func MustParse(s string) Bits {
	b, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return b
}

// FromInt renders x in binary using exactly n bits: the most significant
// bits are dropped when x does not fit, zeros are prepended otherwise.
func FromInt(x uint64, n int) Bits {
	if n <= 0 {
		return ""
	}
	s := strconv.FormatUint(x, 2)
	if len(s) >= n {
		return Bits(s[len(s)-n:])
	}
	return Bits(strings.Repeat("0", n-len(s)) + s)
}

func (b Bits) Len() int { return len(b) }

// Bit returns the i-th bit counting from the left.
func (b Bits) Bit(i int) Bit { return Bit(b[i]) }

func (b Bits) String() string { return string(b) }

// Reverse returns b read right to left.
func (b Bits) Reverse() Bits {
	out := make([]byte, len(b))
	for i := 0; i < len(b); i++ {
		out[len(b)-1-i] = b[i]
	}
	return Bits(out)
}

// Complement flips every bit.
func (b Bits) Complement() Bits {
	out := make([]byte, len(b))
	for i := 0; i < len(b); i++ {
		out[i] = byte(Bit(b[i]).Flip())
	}
	return Bits(out)
}

// Ones counts the set bits.
func (b Bits) Ones() int {
	return strings.Count(string(b), "1")
}

// Uint returns b as an unsigned integer. Only the low 64 bits are kept.
func (b Bits) Uint() uint64 {
	var x uint64
	for i := 0; i < len(b); i++ {
		x <<= 1
		if b[i] == '1' {
			x |= 1
		}
	}
	return x
}

// Random returns n random b-bit strings. With unique set, strings are
// distinct until all 2^b values have been produced; past that point the
// remaining strings are drawn freely and may repeat.
func Random(r *rand.Rand, n, b int, unique bool) []Bits {
	out := make([]Bits, 0, n)
	if n <= 0 || b <= 0 {
		return out
	}
	draw := func() Bits {
		buf := make([]byte, b)
		for i := range buf {
			if r.Intn(2) == 1 {
				buf[i] = '1'
			} else {
				buf[i] = '0'
			}
		}
		return Bits(buf)
	}
	if !unique {
		for len(out) < n {
			out = append(out, draw())
		}
		return out
	}
	space := uint64(1) << 63
	if b < 63 {
		space = uint64(1) << uint(b)
	}
	seen := make(map[Bits]struct{}, n)
	for len(out) < n {
		c := draw()
		if uint64(len(out)) < space {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
		}
		out = append(out, c)
	}
	return out
}
