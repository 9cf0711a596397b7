package freqrocof

import (
	"math"
	"testing"

	"github.com/kb5jfs/pmud/internal/pmutime"
	"github.com/stretchr/testify/assert"
)

func feed50Hz(e *Estimator, fs, f0 float64, seconds float64) {
	n := int(fs * seconds)
	var prevTs int64
	for i := 0; i < n; i++ {
		ts := int64(float64(i) * 1_000_000 / fs)
		v := 2048 + 1000*math.Cos(2*math.Pi*f0*float64(i)/fs)
		var channels [pmutime.NumSignals]uint16
		for c := range channels {
			channels[c] = uint16(math.Round(v))
		}
		delta := ts - prevTs
		e.Update(pmutime.Sample{Seq: uint64(i), Channels: channels, Timestamp: ts, TimeDelta: delta})
		prevTs = ts
	}
}

func TestFrequencyConvergesNear50Hz(t *testing.T) {
	e := New()
	feed50Hz(e, 1200, 50, 2.0)

	freqs := e.Frequencies()
	for _, f := range freqs {
		assert.InDelta(t, 50.0, f, 0.5)
	}
}

func TestFrequencyNeverNegativeOrAboveNyquist(t *testing.T) {
	e := New()
	feed50Hz(e, 1200, 50, 3.0)

	for _, f := range e.Frequencies() {
		assert.GreaterOrEqual(t, f, 0.0)
		assert.LessOrEqual(t, f, 600.0)
	}
}

func TestFewerThanTwoCrossingsYieldsZero(t *testing.T) {
	e := New()
	// A flat DC signal never crosses its own midpoint.
	for i := 0; i < 1300; i++ {
		var channels [pmutime.NumSignals]uint16
		for c := range channels {
			channels[c] = 2048
		}
		ts := int64(i) * 1_000_000 / 1200
		e.Update(pmutime.Sample{Seq: uint64(i), Channels: channels, Timestamp: ts, TimeDelta: 833})
	}

	for _, f := range e.Frequencies() {
		assert.Equal(t, 0.0, f)
	}
}

func TestZeroTimeDeltaFallsBackToPreviousRocof(t *testing.T) {
	e := New()
	e.Update(pmutime.Sample{Seq: 0, Timestamp: 0, TimeDelta: 0})
	for _, r := range e.Rocofs() {
		assert.Equal(t, 0.0, r)
	}
}

func TestSamplingRateApproximatesConfiguredRate(t *testing.T) {
	e := New()
	feed50Hz(e, 1200, 50, 2.0)
	assert.InDelta(t, 1200, e.SamplingRate(), 50)
}

func TestBetweenClosuresReturnsLastComputedNotZero(t *testing.T) {
	e := New()
	feed50Hz(e, 1200, 50, 1.2)
	midFreq := e.Frequencies()[pmutime.VA]
	assert.Greater(t, midFreq, 0.0)

	// Feed a couple more samples without crossing a window boundary; the
	// estimate must not reset to zero.
	ts := int64(1_300_000)
	e.Update(pmutime.Sample{Seq: 9999, Timestamp: ts, TimeDelta: 833, Channels: [pmutime.NumSignals]uint16{2048, 2048, 2048, 2048, 2048, 2048}})
	assert.Equal(t, midFreq, e.Frequencies()[pmutime.VA])
}
