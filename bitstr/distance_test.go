package bitstr

import "testing"

func TestXor(t *testing.T) {
	if got := Xor("1100", "1010"); got != "0110" {
		t.Fatalf("xor=%q want 0110", got)
	}
	if got := Xor("111", "10"); got != "01" {
		t.Fatalf("xor of unequal lengths=%q want 01", got)
	}
	got, err := XorList([]Bits{"1", "1", "1"})
	if err != nil || got != "1" {
		t.Fatalf("XorList=%q,%v want 1", got, err)
	}
	if _, err := XorList(nil); err == nil {
		t.Fatalf("XorList(nil) should fail")
	}
}

func TestHamming(t *testing.T) {
	if d := Hamming("10101010", "10101010"); d != 0 {
		t.Fatalf("d=%d want 0", d)
	}
	if d := Hamming("1111", "0000"); d != 4 {
		t.Fatalf("d=%d want 4", d)
	}
	if f := FracHamming("1100", "1000"); f != 0.25 {
		t.Fatalf("frac=%v want 0.25", f)
	}
	if f := FracHamming("", ""); f != 0 {
		t.Fatalf("frac of empty=%v", f)
	}
}

func TestTriGammaBeta(t *testing.T) {
	cases := []struct {
		a, b Bits
		tri  int
	}{
		{"0000", "0000", 0},
		{"10", "00", 1},
		{"00", "01", 3},
		{"0001", "0000", 7},
		{"1000", "0000", 1},
		{"1001", "0000", 6},
	}
	for _, c := range cases {
		if got := Tri(c.a, c.b); got != c.tri {
			t.Fatalf("Tri(%s,%s)=%d want %d", c.a, c.b, got, c.tri)
		}
		if got := Gamma(c.a, c.b); got != c.a.Len()-c.tri {
			t.Fatalf("Gamma(%s,%s)=%d", c.a, c.b, got)
		}
		if got := Beta(c.a, c.b); got != c.tri/2 {
			t.Fatalf("Beta(%s,%s)=%d", c.a, c.b, got)
		}
	}
}
