package calibration

import (
	"testing"

	"github.com/kb5jfs/pmud/internal/pmutime"
	"github.com/kb5jfs/pmud/internal/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNewTableDefaultsToIdentity(t *testing.T) {
	table := New()
	for s := pmutime.Signal(0); int(s) < pmutime.NumSignals; s++ {
		e, err := table.Entry(s)
		require.NoError(t, err)
		assert.Equal(t, 1.0, e.Slope)
		assert.Equal(t, 0.0, e.Intercept)
	}
}

func TestInvalidSignalIndex(t *testing.T) {
	table := New()
	_, err := table.Entry(pmutime.Signal(99))
	assert.ErrorIs(t, err, ErrInvalidSignalIndex)

	_, err = table.Apply(pmutime.Signal(-1), 1)
	assert.ErrorIs(t, err, ErrInvalidSignalIndex)
}

func TestInvalidPoint(t *testing.T) {
	table := New()
	err := table.SetEntry(pmutime.VA, Entry{Slope: 1, Intercept: 0, Points: []Point{{Raw: -1, Actual: 2}}})
	assert.ErrorIs(t, err, ErrInvalidPoint)
}

func TestCalibrateFromPointsExactFit(t *testing.T) {
	slope, intercept := CalibrateFromPoints([]Point{
		{Raw: 100.0, Actual: 120.0},
		{Raw: 200.0, Actual: 240.0},
		{Raw: 300.0, Actual: 360.0},
	})

	assert.InDelta(t, 1.2, slope, 1e-9)
	assert.InDelta(t, 0.0, intercept, 1e-9)
}

func TestCalibrateFromPointsDegenerate(t *testing.T) {
	slope, intercept := CalibrateFromPoints([]Point{{Raw: 100, Actual: 120}})
	assert.Equal(t, 1.0, slope)
	assert.Equal(t, 0.0, intercept)

	slope, intercept = CalibrateFromPoints([]Point{{Raw: 5, Actual: 1}, {Raw: 5, Actual: 2}})
	assert.Equal(t, 1.0, slope)
	assert.Equal(t, 0.0, intercept)
}

func TestApplyMatchesFittedPoints(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x1 := rapid.Float64Range(0, 1000).Draw(t, "x1")
		x2 := rapid.Float64Range(0, 1000).Draw(t, "x2")
		if x1 == x2 {
			t.Skip("degenerate x")
		}
		slopeIn := rapid.Float64Range(-10, 10).Draw(t, "slope")
		interceptIn := rapid.Float64Range(-100, 100).Draw(t, "intercept")

		points := []Point{
			{Raw: x1, Actual: slopeIn*x1 + interceptIn},
			{Raw: x2, Actual: slopeIn*x2 + interceptIn},
		}

		table := New()
		entry := CalibrateFromPointsEntry(points)
		require.NoError(t, table.SetEntry(pmutime.VA, entry))

		for _, p := range points {
			got, err := table.Apply(pmutime.VA, p.Raw)
			require.NoError(t, err)
			assert.InDelta(t, p.Actual, got, 1e-6)
		}
	})
}

func TestLoadSaveRoundTrip(t *testing.T) {
	store := settings.New("unused.yaml")

	table := New()
	require.NoError(t, table.SetEntry(pmutime.VA, Entry{
		Slope:     1.2,
		Intercept: 3.4,
		Points:    []Point{{Raw: 10, Actual: 15.4}},
	}))
	table.Save(store)

	loaded, err := Load(store)
	require.NoError(t, err)

	e, err := loaded.Entry(pmutime.VA)
	require.NoError(t, err)
	assert.InDelta(t, 1.2, e.Slope, 1e-9)
	assert.InDelta(t, 3.4, e.Intercept, 1e-9)
	require.Len(t, e.Points, 1)
	assert.InDelta(t, 10, e.Points[0].Raw, 1e-9)

	// Untouched signals still round-trip as identity.
	vb, err := loaded.Entry(pmutime.VB)
	require.NoError(t, err)
	assert.Equal(t, 1.0, vb.Slope)
}
