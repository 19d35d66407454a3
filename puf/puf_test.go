package puf

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gregschmit/puflib/bitstr"
	"github.com/gregschmit/puflib/rng"
)

func seededOpts(seed string) Opts {
	o := DefaultOpts()
	o.Seed = []byte(seed)
	return o
}

// fixedStages returns a 2-stage chain whose responses can be worked out by
// hand. Delays are ordered Up.Up, Up.Down, Down.Up, Down.Down.
func fixedStages() []*Stage {
	return []*Stage{
		NewStage([4]float64{1, 2, 3, 4}, nil),
		NewStage([4]float64{5, 6, 9, 8}, nil),
	}
}

func TestRunReturnsBit(t *testing.T) {
	a, err := NewArbiter(DefaultOpts())
	if err != nil {
		t.Fatalf("arbiter: %v", err)
	}
	l, err := NewLoop(DefaultOpts())
	if err != nil {
		t.Fatalf("loop: %v", err)
	}
	for _, arch := range []Architecture{a, l} {
		b, err := arch.Run("10101010")
		if err != nil {
			t.Fatalf("%s run: %v", arch.Kind(), err)
		}
		if b != bitstr.Zero && b != bitstr.One {
			t.Fatalf("%s returned %q", arch.Kind(), b)
		}
	}
}

func TestArbiterByHand(t *testing.T) {
	a, err := NewArbiterFromStages(fixedStages(), 0, []byte("eval"))
	if err != nil {
		t.Fatalf("arbiter: %v", err)
	}
	cases := map[bitstr.Bits]bitstr.Bit{
		"00": bitstr.Zero, // d1=1+5 d2=3+9
		"01": bitstr.One,  // d1=2+9 d2=4+5
		"10": bitstr.Zero, // d1=1+6 d2=3+8
	}
	for c, want := range cases {
		got, err := a.Run(c)
		if err != nil {
			t.Fatalf("run %s: %v", c, err)
		}
		if got != want {
			t.Fatalf("arbiter(%s)=%s want %s", c, got, want)
		}
	}
	if _, err := a.Run("10"); err != nil {
		t.Fatalf("run: %v", err)
	}
	d1, d2 := a.LastDelays()
	if d1 != 7 || d2 != 11 {
		t.Fatalf("last delays=%v,%v want 7,11", d1, d2)
	}
	for _, s := range a.StageList() {
		n := s.Up.Up.TimesSampled() + s.Up.Down.TimesSampled() + s.Down.Up.TimesSampled() + s.Down.Down.TimesSampled()
		if n != 8 {
			t.Fatalf("stage sampled %d times want 8", n)
		}
	}
}

func TestLoopByHand(t *testing.T) {
	l, err := NewLoopFromStages(fixedStages(), 0, []byte("eval"))
	if err != nil {
		t.Fatalf("loop: %v", err)
	}
	for c, want := range map[bitstr.Bits]bitstr.Bit{"00": bitstr.Zero, "11": bitstr.One} {
		got, err := l.Run(c)
		if err != nil {
			t.Fatalf("run %s: %v", c, err)
		}
		if got != want {
			t.Fatalf("loop(%s)=%s want %s", c, got, want)
		}
	}
}

func TestChallengeValidation(t *testing.T) {
	a, err := NewArbiter(seededOpts("validation"))
	if err != nil {
		t.Fatalf("arbiter: %v", err)
	}
	if _, err := a.Run("101"); !errors.Is(err, ErrChallengeLength) {
		t.Fatalf("short challenge err=%v", err)
	}
	if _, err := a.Run("1010101x"); !errors.Is(err, bitstr.ErrNotBinary) {
		t.Fatalf("non-binary challenge err=%v", err)
	}
	if _, err := NewArbiter(Opts{Stages: 0}); !errors.Is(err, ErrNoStages) {
		t.Fatalf("zero stages err=%v", err)
	}
	if _, err := NewLoop(Opts{Stages: 4, Sensitivity: -1}); err == nil {
		t.Fatalf("negative sensitivity accepted")
	}
}

func TestSeedReproducesDevice(t *testing.T) {
	a1, err := NewArbiter(seededOpts("device-42"))
	if err != nil {
		t.Fatalf("arbiter: %v", err)
	}
	a2, err := NewArbiter(seededOpts("device-42"))
	if err != nil {
		t.Fatalf("arbiter: %v", err)
	}
	other, err := NewArbiter(seededOpts("device-43"))
	if err != nil {
		t.Fatalf("arbiter: %v", err)
	}
	delays := func(a *Arbiter) [][4]float64 {
		var out [][4]float64
		for _, s := range a.StageList() {
			out = append(out, s.Delays())
		}
		return out
	}
	if diff := cmp.Diff(delays(a1), delays(a2)); diff != "" {
		t.Fatalf("same seed, different silicon (-a1 +a2):\n%s", diff)
	}
	if cmp.Equal(delays(a1), delays(other)) {
		t.Fatalf("different seeds produced identical silicon")
	}
	cs := bitstr.Random(rand.New(rand.NewSource(1)), 64, 8, false)
	r1, err := Responses(a1, cs)
	if err != nil {
		t.Fatalf("responses: %v", err)
	}
	r2, err := Responses(a2, cs)
	if err != nil {
		t.Fatalf("responses: %v", err)
	}
	if r1 != r2 {
		t.Fatalf("responses differ:\n%s\n%s", r1, r2)
	}
}

func TestQuickTestStable(t *testing.T) {
	a, err := NewArbiterFromStages(fixedStages(), 0, []byte("eval"))
	if err != nil {
		t.Fatalf("arbiter: %v", err)
	}
	for c, want := range map[bitstr.Bits]bitstr.Bit{"00": bitstr.Zero, "01": bitstr.One} {
		res, err := QuickTest(a, nil, c, 50)
		if err != nil {
			t.Fatalf("quicktest: %v", err)
		}
		if res.Winner != want || res.Frequency != 1.0 {
			t.Fatalf("quicktest(%s)=%s@%.2f want %s@1.00", c, res.Winner, res.Frequency, want)
		}
	}
	if _, err := QuickTest(a, nil, "000", 10); !errors.Is(err, ErrChallengeLength) {
		t.Fatalf("quicktest wrong length err=%v", err)
	}
	res, err := QuickTest(a, rand.New(rand.NewSource(3)), "", 0)
	if err != nil {
		t.Fatalf("quicktest random: %v", err)
	}
	if res.Challenge.Len() != 2 || res.Zeros+res.Ones != DefaultQuickTestRuns {
		t.Fatalf("unexpected random quicktest %+v", res)
	}
}

func TestSensitivityBreaksTies(t *testing.T) {
	flat := []*Stage{
		NewStage([4]float64{10, 10, 10, 10}, nil),
		NewStage([4]float64{10, 10, 10, 10}, nil),
		NewStage([4]float64{10, 10, 10, 10}, nil),
	}
	a, err := NewArbiterFromStages(flat, 1, []byte("coin"))
	if err != nil {
		t.Fatalf("arbiter: %v", err)
	}
	res, err := QuickTest(a, nil, "010", 400)
	if err != nil {
		t.Fatalf("quicktest: %v", err)
	}
	if res.Frequency > 0.7 {
		t.Fatalf("balanced chain answered %s with frequency %.2f", res.Winner, res.Frequency)
	}
}

func TestNoiseLowersReliability(t *testing.T) {
	o := seededOpts("noisy")
	o.Stages = 16
	o.Noise = rng.Normal{Mean: 0, StdDev: 5}
	a, err := NewArbiter(o)
	if err != nil {
		t.Fatalf("arbiter: %v", err)
	}
	r := rand.New(rand.NewSource(9))
	unstable := 0
	for _, c := range bitstr.Random(r, 32, 16, true) {
		res, err := QuickTest(a, nil, c, 40)
		if err != nil {
			t.Fatalf("quicktest: %v", err)
		}
		if res.Frequency < 1 {
			unstable++
		}
	}
	if unstable == 0 {
		t.Fatalf("heavy noise left every challenge perfectly stable")
	}
}

func TestXor(t *testing.T) {
	if _, err := NewXor(KindArbiter, 1, DefaultOpts()); !errors.Is(err, ErrTooFewChildren) {
		t.Fatalf("k=1 err=%v", err)
	}
	if _, err := NewXor(KindXor, 2, DefaultOpts()); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("xor of xor err=%v", err)
	}
	o := seededOpts("xor")
	o.Sensitivity = 0
	x, err := NewXor(KindArbiter, 3, o)
	if err != nil {
		t.Fatalf("xor: %v", err)
	}
	if x.Kind() != KindXor || x.Base() != KindArbiter || x.Stages() != 8 || len(x.Children()) != 3 {
		t.Fatalf("unexpected xor shape")
	}
	for _, c := range bitstr.Random(rand.New(rand.NewSource(5)), 20, 8, true) {
		got, err := x.Run(c)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		var parts []bitstr.Bits
		for _, child := range x.Children() {
			b, err := child.Run(c)
			if err != nil {
				t.Fatalf("child run: %v", err)
			}
			parts = append(parts, bitstr.Bits(b.String()))
		}
		want, _ := bitstr.XorList(parts)
		if got != want.Bit(0) {
			t.Fatalf("xor(%s)=%s want %s", c, got, want)
		}
	}
}

func TestNewXorFrom(t *testing.T) {
	a, _ := NewArbiter(seededOpts("a"))
	l, _ := NewLoop(seededOpts("b"))
	o := seededOpts("c")
	o.Stages = 4
	short, _ := NewArbiter(o)
	if _, err := NewXorFrom([]Architecture{a}); !errors.Is(err, ErrTooFewChildren) {
		t.Fatalf("single child err=%v", err)
	}
	if _, err := NewXorFrom([]Architecture{a, l}); err == nil {
		t.Fatalf("mixed kinds accepted")
	}
	if _, err := NewXorFrom([]Architecture{a, short}); err == nil {
		t.Fatalf("mixed stage counts accepted")
	}
	b, _ := NewArbiter(seededOpts("d"))
	if _, err := NewXorFrom([]Architecture{a, b}); err != nil {
		t.Fatalf("xor from arbiters: %v", err)
	}
}

func TestGenerateCRPs(t *testing.T) {
	a, err := NewLoop(seededOpts("crps"))
	if err != nil {
		t.Fatalf("loop: %v", err)
	}
	crps, err := GenerateCRPs(a, rand.New(rand.NewSource(11)), 100, true)
	if err != nil {
		t.Fatalf("crps: %v", err)
	}
	seen := map[bitstr.Bits]bool{}
	for _, c := range crps {
		if seen[c.Challenge] {
			t.Fatalf("duplicate challenge %s", c.Challenge)
		}
		seen[c.Challenge] = true
	}
	if len(crps) != 100 {
		t.Fatalf("len=%d want 100", len(crps))
	}
	if got := Bitstring(a, 5); got != "00000101" {
		t.Fatalf("bitstring=%s", got)
	}
}
