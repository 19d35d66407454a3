package bitstr

import "github.com/pkg/errors"

// Xor combines a and b bitwise over their common prefix.
func Xor(a, b Bits) Bits {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		if a[i] == b[i] {
			out[i] = '0'
		} else {
			out[i] = '1'
		}
	}
	return Bits(out)
}

// XorList folds Xor over list from the left.
func XorList(list []Bits) (Bits, error) {
	if len(list) == 0 {
		return "", errors.New("bitstr: xor of empty list")
	}
	r := list[0]
	for _, x := range list[1:] {
		r = Xor(r, x)
	}
	return r, nil
}

// Hamming counts differing positions over the common prefix.
func Hamming(a, b Bits) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	d := 0
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			d++
		}
	}
	return d
}

// FracHamming is Hamming normalised by the common length.
func FracHamming(a, b Bits) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	return float64(Hamming(a, b)) / float64(n)
}

// Tri walks a xor b from the right. Every differing bit counts one and
// toggles the parity state; every equal bit counts two while the state is
// set. The result is the number of stage positions at which the two
// challenges route an arbiter chain with opposite parity.
func Tri(a, b Bits) int {
	ch := Xor(a, b)
	t, state := 0, 0
	for i := len(ch) - 1; i >= 0; i-- {
		if ch[i] == '0' {
			t += state * 2
		} else {
			t++
			state ^= 1
		}
	}
	return t
}

// Gamma is the complement of Tri with respect to the challenge length.
func Gamma(a, b Bits) int { return len(a) - Tri(a, b) }

// Beta is half of Tri, rounded down.
func Beta(a, b Bits) int { return Tri(a, b) / 2 }
