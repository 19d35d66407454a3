// Package crp enrolls emulated devices into challenge-response databases and
// authenticates them against the recorded pairs.
//
// Each recorded pair is spent once: Authenticate marks the pairs it checked
// as used so an eavesdropped response cannot be replayed.
package crp

import (
	"context"
	"math/rand"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/gregschmit/puflib/bitstr"
	"github.com/gregschmit/puflib/measure"
	"github.com/gregschmit/puflib/puf"
)

var (
	ErrNotFound  = errors.New("crp: device not enrolled")
	ErrExhausted = errors.New("crp: not enough unused challenge-response pairs")
	ErrMismatch  = errors.New("crp: device does not match enrollment")
)

// Record is an enrolled pair plus how reliably the device reproduced it.
type Record struct {
	puf.CRP
	Stability float64 `json:"stability"`
	Used      bool    `json:"used,omitempty"`
}

// Enrollment is the verifier-side database entry for one device.
type Enrollment struct {
	DeviceID  string    `json:"device_id"`
	CreatedAt time.Time `json:"created_at"`
	Kind      puf.Kind  `json:"kind"`
	Stages    int       `json:"stages"`
	CRPs      []Record  `json:"crps"`
}

// Unused returns the indices of pairs not yet spent, in order.
func (e *Enrollment) Unused() []int {
	var out []int
	for i, r := range e.CRPs {
		if !r.Used {
			out = append(out, i)
		}
	}
	return out
}

// EnrollOpts controls Enroll.
type EnrollOpts struct {
	// DeviceID defaults to a random UUID.
	DeviceID string
	// N is the number of distinct challenges to draw.
	N int
	// Repeats is how many times each challenge is evaluated; the majority
	// answer is recorded.
	Repeats int
	// MinStability drops pairs whose majority frequency is below it.
	MinStability float64
	// Progress, when set, is called after each challenge.
	Progress func(done, total int)
}

// Enroll draws challenges from r, measures a and returns the enrollment.
func Enroll(ctx context.Context, a puf.Architecture, r *rand.Rand, o EnrollOpts) (*Enrollment, error) {
	if o.N <= 0 {
		return nil, errors.Errorf("crp: enroll needs N>0, got %d", o.N)
	}
	if o.Repeats <= 0 {
		o.Repeats = 1
	}
	if o.DeviceID == "" {
		o.DeviceID = uuid.Must(uuid.NewRandom()).String()
	}
	e := &Enrollment{
		DeviceID:  o.DeviceID,
		CreatedAt: time.Now().UTC(),
		Kind:      a.Kind(),
		Stages:    a.Stages(),
	}
	challenges := bitstr.Random(r, o.N, a.Stages(), true)
	dropped := 0
	for i, c := range challenges {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := puf.QuickTest(a, nil, c, o.Repeats)
		if err != nil {
			return nil, errors.Wrapf(err, "challenge %d", i)
		}
		if res.Frequency < o.MinStability {
			dropped++
		} else {
			e.CRPs = append(e.CRPs, Record{
				CRP:       puf.CRP{Challenge: c, Response: res.Winner},
				Stability: res.Frequency,
			})
		}
		if o.Progress != nil {
			o.Progress(i+1, len(challenges))
		}
	}
	measure.Global.Add("crps_enrolled", int64(len(e.CRPs)))
	log.WithFields(log.Fields{
		"device":  e.DeviceID,
		"kept":    len(e.CRPs),
		"dropped": dropped,
	}).Debug("enrolled device")
	return e, nil
}

// AuthOpts controls Authenticate.
type AuthOpts struct {
	// Count is the number of unused pairs to spend.
	Count int
	// MaxErrorRate is the largest fraction of mismatching responses still
	// accepted.
	MaxErrorRate float64
}

// AuthResult is the verdict of one authentication.
type AuthResult struct {
	DeviceID   string  `json:"device_id"`
	Checked    int     `json:"checked"`
	Mismatches int     `json:"mismatches"`
	ErrorRate  float64 `json:"error_rate"`
	Accepted   bool    `json:"accepted"`
}

// Authenticate challenges a with unused pairs recorded for id. The pairs
// are claimed from s before the device is evaluated, so they are spent
// whatever the verdict and concurrent verifiers never share a pair.
func Authenticate(ctx context.Context, a puf.Architecture, s Store, id string, o AuthOpts) (*AuthResult, error) {
	if o.Count <= 0 {
		return nil, errors.Errorf("crp: authenticate needs Count>0, got %d", o.Count)
	}
	e, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Kind != a.Kind() {
		return nil, errors.Wrapf(ErrMismatch, "device is %s, enrollment %s", a.Kind(), e.Kind)
	}
	if e.Stages != a.Stages() {
		return nil, errors.Wrapf(ErrMismatch, "device has %d stages, enrollment %d", a.Stages(), e.Stages)
	}
	picked, recs, err := s.Claim(ctx, id, o.Count)
	if err != nil {
		return nil, err
	}
	res := &AuthResult{DeviceID: id, Checked: len(recs)}
	for i, rec := range recs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		got, err := a.Run(rec.Challenge)
		if err != nil {
			return nil, errors.Wrapf(err, "pair %d", picked[i])
		}
		if got != rec.Response {
			res.Mismatches++
		}
	}
	res.ErrorRate = float64(res.Mismatches) / float64(res.Checked)
	res.Accepted = res.ErrorRate <= o.MaxErrorRate
	measure.Global.Authentication(res.Accepted)
	log.WithFields(log.Fields{
		"device":     id,
		"checked":    res.Checked,
		"mismatches": res.Mismatches,
		"accepted":   res.Accepted,
	}).Debug("authenticated device")
	return res, nil
}
