// Package freqrocof implements the zero-crossing-based frequency and
// ROCOF estimator from spec.md §4.4: a rolling 1-second window per
// channel, closed and re-opened each time a sample's timestamp advances
// wall clock past the window's end, yielding a frequency and rate-of-
// change-of-frequency per channel plus an overall sampling rate.
package freqrocof

import (
	"github.com/kb5jfs/pmud/internal/pmutime"
)

const windowDurationUs = 1_000_000

type reading struct {
	timestamp int64
	value     float64
}

type channelState struct {
	buffer    []reading
	lastFreq  float64
	lastRocof float64
}

// Estimator tracks per-channel frequency/ROCOF state and the overall
// sampling rate. All channels share one rolling window (a single
// window_start/window_end pair) and close it together; each channel keeps
// its own sample buffer and its own last frequency/ROCOF.
type Estimator struct {
	windowStart  int64
	windowEnd    int64
	started      bool
	channels     [pmutime.NumSignals]channelState
	samplingRate float64
}

// New returns a freshly-initialized Estimator. Frequencies and ROCOFs read
// zero until the first window closes.
func New() *Estimator {
	return &Estimator{}
}

// Update advances the estimator by one incoming sample, across all six
// channels. When the sample's timestamp pushes wall clock past the
// current window's end, every channel's window is closed and a new
// frequency/ROCOF/sampling-rate snapshot is computed; between closures the
// previously computed values are retained (never reset to zero).
func (e *Estimator) Update(sample pmutime.Sample) {
	if !e.started {
		e.windowStart = sample.Timestamp
		e.windowEnd = e.windowStart + windowDurationUs
		e.started = true
	}

	for c := 0; c < pmutime.NumSignals; c++ {
		e.channels[c].buffer = append(e.channels[c].buffer, reading{
			timestamp: sample.Timestamp,
			value:     float64(sample.Channels[c]),
		})
	}

	if sample.Timestamp < e.windowEnd {
		return
	}

	e.closeWindow(sample.Timestamp, sample.TimeDelta)

	for c := range e.channels {
		e.channels[c].buffer = e.channels[c].buffer[:0]
	}
	e.windowStart = sample.Timestamp
	e.windowEnd = e.windowStart + windowDurationUs
}

func (e *Estimator) closeWindow(lastTimestamp int64, timeDeltaUs int64) {
	samplesInWindow := len(e.channels[0].buffer)

	for c := range e.channels {
		ch := &e.channels[c]
		freq := computeFrequency(ch.buffer)

		var rocof float64
		if timeDeltaUs == 0 {
			rocof = ch.lastRocof
		} else {
			rocof = (freq - ch.lastFreq) * 1_000_000 / float64(timeDeltaUs)
		}

		ch.lastFreq = freq
		ch.lastRocof = rocof
	}

	// Sampling rate residue correction: the window is only approximately
	// 1 second (it closes on the first sample whose timestamp reaches or
	// passes window_end), so scale the raw sample count by how much the
	// actual window duration deviated from 1 second.
	windowDurationSec := float64(lastTimestamp-e.windowStart) / 1_000_000
	residueSamples := 1 - windowDurationSec
	e.samplingRate = float64(samplesInWindow) * (1 + residueSamples)
}

// computeFrequency implements spec.md §4.4 steps 1-3 for one channel's
// 1-second window of readings.
func computeFrequency(buf []reading) float64 {
	if len(buf) < 2 {
		return 0
	}

	vMin, vMax := buf[0].value, buf[0].value
	for _, r := range buf {
		if r.value < vMin {
			vMin = r.value
		}
		if r.value > vMax {
			vMax = r.value
		}
	}
	vZero := (vMin + vMax) / 2

	var crossings int
	var tFirst, tLast int64
	haveFirst := false

	for i := 1; i < len(buf); i++ {
		x0 := buf[i-1].value - vZero
		x1 := buf[i].value - vZero
		if sign(x0) == sign(x1) {
			continue
		}

		t0, t1 := buf[i-1].timestamp, buf[i].timestamp
		t := t0 + int64((0-x0)*float64(t1-t0)/(x1-x0))

		if !haveFirst {
			tFirst = t
			haveFirst = true
		}
		tLast = t
		crossings++
	}

	if crossings < 2 {
		return 0
	}

	crossingSpan := float64(tLast-tFirst) / 1_000_000
	residue := 1 - crossingSpan
	cycles := float64(crossings-1) / 2
	if cycles < 0 {
		cycles = 0
	}
	freq := cycles * (1 + residue)
	if freq < 0 {
		return 0
	}
	return freq
}

// sign classifies x as below (-1) or at/above (+1) the midpoint. A sample
// lying exactly on the midpoint counts as above it, so a crossing that
// lands on a sample is counted once rather than twice.
func sign(x float64) int {
	if x < 0 {
		return -1
	}
	return 1
}

// Frequencies returns the last-computed per-channel frequency estimates.
func (e *Estimator) Frequencies() [pmutime.NumSignals]float64 {
	var out [pmutime.NumSignals]float64
	for c := range out {
		out[c] = e.channels[c].lastFreq
	}
	return out
}

// Rocofs returns the last-computed per-channel rate-of-change-of-frequency
// estimates.
func (e *Estimator) Rocofs() [pmutime.NumSignals]float64 {
	var out [pmutime.NumSignals]float64
	for c := range out {
		out[c] = e.channels[c].lastRocof
	}
	return out
}

// SamplingRate returns the last-computed overall sampling rate.
func (e *Estimator) SamplingRate() float64 {
	return e.samplingRate
}
