// Package sdft implements the incremental sliding single-bin DFT described
// in spec.md §4.3: for each of the six channels, an O(1) per-sample update
// of the DFT bin at the nominal fundamental frequency, over a window of
// N = fs/f0 samples.
package sdft

import (
	"errors"
	"fmt"
	"math"

	"github.com/kb5jfs/pmud/internal/pmutime"
)

// ErrEstimatorPrecondition is returned by New when fs and f0 do not satisfy
// the sliding DFT's preconditions (fs divisible by f0, and fs > 2*f0 for
// Nyquist).
var ErrEstimatorPrecondition = errors.New("sdft: estimator precondition violated")

// Estimator maintains one incremental DFT bin per channel.
type Estimator struct {
	n       int
	fs, f0  float64
	twiddle complex128

	window [pmutime.NumSignals][]complex128 // circular buffer of raw samples, length n
	phasor [pmutime.NumSignals]complex128   // un-normalized running phasor
	pos    int                              // index of the oldest sample / next write slot
}

// New constructs an Estimator for a sampling rate fs and nominal
// fundamental frequency f0. It fails if fs is not an integer multiple of
// f0, or if fs does not exceed 2*f0 (Nyquist).
func New(fs, f0 float64) (*Estimator, error) {
	if f0 <= 0 || fs <= 0 {
		return nil, fmt.Errorf("%w: fs=%g f0=%g must be positive", ErrEstimatorPrecondition, fs, f0)
	}

	nf := fs / f0
	n := int(math.Round(nf))
	if math.Abs(nf-float64(n)) > 1e-9 {
		return nil, fmt.Errorf("%w: fs=%g is not a multiple of f0=%g", ErrEstimatorPrecondition, fs, f0)
	}
	if fs <= 2*f0 {
		return nil, fmt.Errorf("%w: fs=%g does not exceed 2*f0=%g (Nyquist)", ErrEstimatorPrecondition, fs, 2*f0)
	}

	e := &Estimator{
		n:       n,
		fs:      fs,
		f0:      f0,
		twiddle: complex(math.Cos(-2*math.Pi/float64(n)), math.Sin(-2*math.Pi/float64(n))),
	}
	for c := range e.window {
		e.window[c] = make([]complex128, n)
	}
	return e, nil
}

// N returns the window length fs/f0.
func (e *Estimator) N() int {
	return e.n
}

// Update advances the sliding DFT by one incoming sample. It is strictly
// incremental: O(1) per channel, no per-sample O(N) loop and no FFT. The
// first N-1 calls update against an implicitly zero-padded prefix; these
// warm-up values are still readable so downstream consumers see monotonic
// progress, per spec.md §4.3.
func (e *Estimator) Update(sample pmutime.Sample) {
	for c := 0; c < pmutime.NumSignals; c++ {
		xNew := complex(float64(sample.Channels[c]), 0)
		xOld := e.window[c][e.pos]
		e.phasor[c] = e.twiddle * (e.phasor[c] - xOld + xNew)
		e.window[c][e.pos] = xNew
	}
	e.pos = (e.pos + 1) % e.n
}

// Phasors returns the current per-channel phasor, normalized by the window
// length (the 1/N factor is applied at read time, not on update, per
// spec.md §4.3).
func (e *Estimator) Phasors() [pmutime.NumSignals]complex128 {
	var out [pmutime.NumSignals]complex128
	norm := complex(1/float64(e.n), 0)
	for c := range out {
		out[c] = e.phasor[c] * norm
	}
	return out
}

// FromScratch computes the same bin directly from N raw samples, ignoring
// any earlier history; it exists to check the incremental estimator
// against a textbook DFT (spec.md §8's testable property), not for
// production use. samples[0] is the oldest sample in the window and
// samples[n-1] the newest, matching the sign convention the twiddle factor
// in Update accumulates (each step multiplies the whole running sum by
// twiddle, so after N steps the oldest sample has been multiplied by
// twiddle^(N-1) relative to the newest).
func FromScratch(samples []float64, n int) complex128 {
	var sum complex128
	for k := 0; k < n && k < len(samples); k++ {
		angle := 2 * math.Pi * float64(k) / float64(n)
		twiddle := complex(math.Cos(angle), math.Sin(angle))
		sum += complex(samples[k], 0) * twiddle
	}
	return sum / complex(float64(n), 0)
}
