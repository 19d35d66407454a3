package crp

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/gregschmit/puflib/bitstr"
	"github.com/gregschmit/puflib/puf"
	"github.com/gregschmit/puflib/rng"
)

func device(t *testing.T, seed string, noise rng.Distribution) puf.Architecture {
	t.Helper()
	o := puf.DefaultOpts()
	o.Stages = 32
	o.Seed = []byte(seed)
	if noise != nil {
		o.Noise = noise
	}
	a, err := puf.NewArbiter(o)
	if err != nil {
		t.Fatalf("arbiter: %v", err)
	}
	return a
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "crps"))
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	ss, err := NewSQLiteStore(filepath.Join(t.TempDir(), "crps.db"))
	if err != nil {
		t.Fatalf("sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })
	return map[string]Store{"file": fs, "sqlite": ss}
}

func TestEnroll(t *testing.T) {
	ctx := context.Background()
	a := device(t, "enroll", nil)
	calls := 0
	e, err := Enroll(ctx, a, rand.New(rand.NewSource(1)), EnrollOpts{
		N:        64,
		Repeats:  5,
		Progress: func(done, total int) { calls++ },
	})
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if len(e.CRPs) != 64 || calls != 64 {
		t.Fatalf("crps=%d progress calls=%d want 64/64", len(e.CRPs), calls)
	}
	if e.DeviceID == "" || e.Kind != puf.KindArbiter || e.Stages != 32 {
		t.Fatalf("unexpected enrollment header %+v", e)
	}
	for i, r := range e.CRPs {
		if r.Stability < 0.5 || r.Stability > 1 {
			t.Fatalf("pair %d stability %.2f out of range", i, r.Stability)
		}
	}
	if _, err := Enroll(ctx, a, rand.New(rand.NewSource(1)), EnrollOpts{}); err == nil {
		t.Fatalf("N=0 accepted")
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := Enroll(cancelled, a, rand.New(rand.NewSource(1)), EnrollOpts{N: 4}); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled enroll err=%v", err)
	}
}

func TestEnrollDropsUnstable(t *testing.T) {
	a := device(t, "noisy", rng.Normal{StdDev: 3})
	e, err := Enroll(context.Background(), a, rand.New(rand.NewSource(2)), EnrollOpts{
		N:            64,
		Repeats:      20,
		MinStability: 0.95,
	})
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if len(e.CRPs) >= 64 {
		t.Fatalf("noisy device kept all %d pairs", len(e.CRPs))
	}
	for _, r := range e.CRPs {
		if r.Stability < 0.95 {
			t.Fatalf("kept pair with stability %.2f", r.Stability)
		}
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := device(t, "roundtrip", nil)
	e, err := Enroll(ctx, a, rand.New(rand.NewSource(3)), EnrollOpts{DeviceID: "dev-1", N: 16})
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	for name, s := range stores(t) {
		if _, err := s.Load(ctx, "dev-1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: load before save err=%v", name, err)
		}
		if err := s.Save(ctx, e); err != nil {
			t.Fatalf("%s: save: %v", name, err)
		}
		got, err := s.Load(ctx, "dev-1")
		if err != nil {
			t.Fatalf("%s: load: %v", name, err)
		}
		if diff := cmp.Diff(e, got); diff != "" {
			t.Fatalf("%s: enrollment changed (-saved +loaded):\n%s", name, diff)
		}
		if err := s.MarkUsed(ctx, "dev-1", []int{0, 3}); err != nil {
			t.Fatalf("%s: mark used: %v", name, err)
		}
		got, err = s.Load(ctx, "dev-1")
		if err != nil {
			t.Fatalf("%s: reload: %v", name, err)
		}
		if len(got.Unused()) != 14 || !got.CRPs[0].Used || !got.CRPs[3].Used {
			t.Fatalf("%s: used flags not persisted", name)
		}
		if err := s.MarkUsed(ctx, "dev-1", []int{99}); err == nil {
			t.Fatalf("%s: out of range index accepted", name)
		}
		// Saving again replaces the previous enrollment.
		if err := s.Save(ctx, e); err != nil {
			t.Fatalf("%s: resave: %v", name, err)
		}
		got, _ = s.Load(ctx, "dev-1")
		if len(got.Unused()) != 16 {
			t.Fatalf("%s: resave kept stale used flags", name)
		}
		ids, err := s.List(ctx)
		if err != nil {
			t.Fatalf("%s: list: %v", name, err)
		}
		if diff := cmp.Diff([]string{"dev-1"}, ids); diff != "" {
			t.Fatalf("%s: list (-want +got):\n%s", name, diff)
		}
	}
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	genuine := device(t, "genuine", nil)
	impostor := device(t, "impostor", nil)
	for name, s := range stores(t) {
		e, err := Enroll(ctx, genuine, rand.New(rand.NewSource(4)), EnrollOpts{DeviceID: "chip", N: 96, Repeats: 3})
		if err != nil {
			t.Fatalf("%s: enroll: %v", name, err)
		}
		if err := s.Save(ctx, e); err != nil {
			t.Fatalf("%s: save: %v", name, err)
		}
		opts := AuthOpts{Count: 32, MaxErrorRate: 0.1}
		ok, err := Authenticate(ctx, genuine, s, "chip", opts)
		if err != nil {
			t.Fatalf("%s: authenticate genuine: %v", name, err)
		}
		if !ok.Accepted {
			t.Fatalf("%s: genuine device rejected: %+v", name, ok)
		}
		bad, err := Authenticate(ctx, impostor, s, "chip", opts)
		if err != nil {
			t.Fatalf("%s: authenticate impostor: %v", name, err)
		}
		if bad.Accepted || bad.ErrorRate < 0.2 {
			t.Fatalf("%s: impostor accepted: %+v", name, bad)
		}
		// 32 of 96 pairs remain; a fourth round must fail.
		if _, err := Authenticate(ctx, genuine, s, "chip", opts); err != nil {
			t.Fatalf("%s: third round: %v", name, err)
		}
		if _, err := Authenticate(ctx, genuine, s, "chip", opts); !errors.Is(err, ErrExhausted) {
			t.Fatalf("%s: exhausted err=%v", name, err)
		}
		if _, err := Authenticate(ctx, genuine, s, "nobody", opts); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: unknown device err=%v", name, err)
		}
		o := puf.DefaultOpts()
		short, _ := puf.NewArbiter(o)
		if _, err := Authenticate(ctx, short, s, "chip", opts); !errors.Is(err, ErrMismatch) {
			t.Fatalf("%s: stage mismatch err=%v", name, err)
		}
		lo := puf.DefaultOpts()
		lo.Stages = 32
		loop, _ := puf.NewLoop(lo)
		if _, err := Authenticate(ctx, loop, s, "chip", opts); !errors.Is(err, ErrMismatch) {
			t.Fatalf("%s: kind mismatch err=%v", name, err)
		}
	}
}

func TestFileStoreRejectsPathIDs(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := s.Save(context.Background(), &Enrollment{DeviceID: "../escape"}); err == nil {
		t.Fatalf("path traversal id accepted")
	}
}

// slowDevice widens the window between claiming pairs and finishing the
// evaluation.
type slowDevice struct {
	puf.Architecture
}

func (d slowDevice) Run(c bitstr.Bits) (bitstr.Bit, error) {
	time.Sleep(time.Millisecond)
	return d.Architecture.Run(c)
}

func TestAuthenticateSpendsPairsOnce(t *testing.T) {
	ctx := context.Background()
	a := device(t, "concurrent", nil)
	for name, s := range stores(t) {
		e, err := Enroll(ctx, a, rand.New(rand.NewSource(5)), EnrollOpts{DeviceID: "chip", N: 32})
		if err != nil {
			t.Fatalf("%s: enroll: %v", name, err)
		}
		if err := s.Save(ctx, e); err != nil {
			t.Fatalf("%s: save: %v", name, err)
		}
		const verifiers = 4
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			ok   int
			errs []error
		)
		for i := 0; i < verifiers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := Authenticate(ctx, slowDevice{a}, s, "chip", AuthOpts{Count: 32, MaxErrorRate: 1})
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					ok++
				} else {
					errs = append(errs, err)
				}
			}()
		}
		wg.Wait()
		if ok != 1 {
			t.Fatalf("%s: %d verifiers spent the same 32 pairs", name, ok)
		}
		for _, err := range errs {
			if !errors.Is(err, ErrExhausted) {
				t.Fatalf("%s: losing verifier err=%v want ErrExhausted", name, err)
			}
		}
		got, err := s.Load(ctx, "chip")
		if err != nil {
			t.Fatalf("%s: load: %v", name, err)
		}
		if len(got.Unused()) != 0 {
			t.Fatalf("%s: %d pairs left unused", name, len(got.Unused()))
		}
	}
}

func TestClaim(t *testing.T) {
	ctx := context.Background()
	e, err := Enroll(ctx, device(t, "claim", nil), rand.New(rand.NewSource(6)), EnrollOpts{DeviceID: "dev", N: 8})
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	for name, s := range stores(t) {
		if _, _, err := s.Claim(ctx, "dev", 1); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: claim before save err=%v", name, err)
		}
		if err := s.Save(ctx, e); err != nil {
			t.Fatalf("%s: save: %v", name, err)
		}
		if err := s.MarkUsed(ctx, "dev", []int{0}); err != nil {
			t.Fatalf("%s: mark used: %v", name, err)
		}
		idx, recs, err := s.Claim(ctx, "dev", 3)
		if err != nil {
			t.Fatalf("%s: claim: %v", name, err)
		}
		if diff := cmp.Diff([]int{1, 2, 3}, idx); diff != "" {
			t.Fatalf("%s: claimed (-want +got):\n%s", name, diff)
		}
		for i, r := range recs {
			if r.Challenge != e.CRPs[idx[i]].Challenge || r.Response != e.CRPs[idx[i]].Response || !r.Used {
				t.Fatalf("%s: record %d does not match pair %d", name, i, idx[i])
			}
		}
		if _, _, err := s.Claim(ctx, "dev", 5); !errors.Is(err, ErrExhausted) {
			t.Fatalf("%s: over-claim err=%v", name, err)
		}
		got, _ := s.Load(ctx, "dev")
		if len(got.Unused()) != 4 {
			t.Fatalf("%s: failed claim spent pairs: %d unused", name, len(got.Unused()))
		}
	}
}
