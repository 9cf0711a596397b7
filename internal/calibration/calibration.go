// Package calibration implements the per-channel affine calibration table
// described in spec.md §4.2: a slope/intercept pair per signal, optionally
// derived from up to 10 (raw, actual) reference points by ordinary least
// squares.
package calibration

import (
	"errors"
	"fmt"

	"github.com/kb5jfs/pmud/internal/pmutime"
	"github.com/kb5jfs/pmud/internal/settings"
)

// ErrInvalidSignalIndex is returned when a signal index is out of range.
var ErrInvalidSignalIndex = errors.New("calibration: invalid signal index")

// ErrInvalidPoint is returned when a stored reference point has a negative
// component; points are contractually non-negative raw/actual pairs.
var ErrInvalidPoint = errors.New("calibration: invalid point")

// ErrCalibrationDegenerate documents the fewer-than-two-points or
// collinear-x condition under which CalibrateFromPoints silently falls
// back to the identity transform, per spec.md §7. It is never returned by
// CalibrateFromPoints itself (which degrades rather than errors); callers
// that want to detect the degenerate case should do so by comparing the
// result against the identity transform.
var ErrCalibrationDegenerate = errors.New("calibration: degenerate calibration (identity used)")

// MaxPoints is the largest number of reference points retained per signal.
const MaxPoints = 10

// Point is one (raw magnitude, actual engineering-unit magnitude) sample
// used to fit a calibration curve. Both components are contractually
// non-negative.
type Point struct {
	Raw    float64
	Actual float64
}

// Entry is one signal's affine calibration: EngineeringValue = Slope*Raw +
// Intercept, plus the points it was (optionally) derived from.
type Entry struct {
	Slope     float64
	Intercept float64
	Points    []Point
}

func identity() Entry {
	return Entry{Slope: 1, Intercept: 0}
}

// Table holds one Entry per signal. The zero value is not usable; use New.
type Table struct {
	entries [pmutime.NumSignals]Entry
}

// New returns a Table with every signal defaulted to the identity
// transform, per spec.md §4.2's invariant that every signal has a defined
// entry.
func New() *Table {
	t := &Table{}
	for i := range t.entries {
		t.entries[i] = identity()
	}
	return t
}

func checkIndex(signal pmutime.Signal) error {
	if int(signal) < 0 || int(signal) >= pmutime.NumSignals {
		return fmt.Errorf("%w: %d", ErrInvalidSignalIndex, signal)
	}
	return nil
}

// Entry returns the calibration entry for a signal.
func (t *Table) Entry(signal pmutime.Signal) (Entry, error) {
	if err := checkIndex(signal); err != nil {
		return Entry{}, err
	}
	return t.entries[signal], nil
}

// SetEntry replaces the calibration entry for a signal outright.
func (t *Table) SetEntry(signal pmutime.Signal, e Entry) error {
	if err := checkIndex(signal); err != nil {
		return err
	}
	for _, p := range e.Points {
		if p.Raw < 0 || p.Actual < 0 {
			return fmt.Errorf("%w: raw=%g actual=%g", ErrInvalidPoint, p.Raw, p.Actual)
		}
	}
	t.entries[signal] = e
	return nil
}

// Apply maps a raw magnitude to engineering units for a signal.
func (t *Table) Apply(signal pmutime.Signal, rawMagnitude float64) (float64, error) {
	e, err := t.Entry(signal)
	if err != nil {
		return 0, err
	}
	return e.Slope*rawMagnitude + e.Intercept, nil
}

// CalibrateFromPoints fits y = slope*x + intercept to the given points by
// ordinary least squares. If fewer than two points are given, or the fit
// is degenerate (zero variance in x), it returns the identity transform
// (slope=1, intercept=0) per spec.md §4.2 and §7 — this is the documented
// ErrCalibrationDegenerate condition, surfaced by return value rather than
// error.
func CalibrateFromPoints(points []Point) (slope, intercept float64) {
	if len(points) < 2 {
		return 1, 0
	}

	n := float64(len(points))
	var sumX, sumY, sumXY, sumXX float64
	for _, p := range points {
		sumX += p.Raw
		sumY += p.Actual
		sumXY += p.Raw * p.Actual
		sumXX += p.Raw * p.Raw
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 1, 0
	}

	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

// CalibrateFromPointsEntry is a convenience that fits and returns a
// complete Entry, truncating to at most MaxPoints retained points (the
// most recently supplied ones).
func CalibrateFromPointsEntry(points []Point) Entry {
	slope, intercept := CalibrateFromPoints(points)
	kept := points
	if len(kept) > MaxPoints {
		kept = kept[len(kept)-MaxPoints:]
	}
	return Entry{Slope: slope, Intercept: intercept, Points: kept}
}

func signalKey(signal pmutime.Signal) string {
	switch signal {
	case pmutime.VA:
		return "va"
	case pmutime.VB:
		return "vb"
	case pmutime.VC:
		return "vc"
	case pmutime.IA:
		return "ia"
	case pmutime.IB:
		return "ib"
	case pmutime.IC:
		return "ic"
	default:
		return "?"
	}
}

// Load reads every signal's calibration entry from the "calibration"
// section of a settings Store, one subsection per signal.
func Load(store *settings.Store) (*Table, error) {
	t := New()

	for signal := pmutime.Signal(0); int(signal) < pmutime.NumSignals; signal++ {
		key := signalKey(signal)

		slope, slopeOK := store.GetFloat(settings.Section("calibration", key, "slope"))
		intercept, interceptOK := store.GetFloat(settings.Section("calibration", key, "intercept"))
		if !slopeOK || !interceptOK {
			continue
		}

		e := Entry{Slope: slope, Intercept: intercept}

		rawPoints, ok := store.GetSlice(settings.Section("calibration", key, "points"))
		if ok {
			for _, rp := range rawPoints {
				pair, ok := rp.([]any)
				if !ok || len(pair) != 2 {
					continue
				}
				raw, rawOK := toFloat(pair[0])
				actual, actualOK := toFloat(pair[1])
				if !rawOK || !actualOK {
					continue
				}
				e.Points = append(e.Points, Point{Raw: raw, Actual: actual})
			}
		}

		if err := t.SetEntry(signal, e); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// Save writes every signal's calibration entry to the "calibration"
// section of a settings Store. Callers still need to call store.Save() to
// persist to disk.
func (t *Table) Save(store *settings.Store) {
	for signal := pmutime.Signal(0); int(signal) < pmutime.NumSignals; signal++ {
		key := signalKey(signal)
		e := t.entries[signal]

		store.SetFloat(settings.Section("calibration", key, "slope"), e.Slope)
		store.SetFloat(settings.Section("calibration", key, "intercept"), e.Intercept)

		points := make([]any, len(e.Points))
		for i, p := range e.Points {
			points[i] = []any{p.Raw, p.Actual}
		}
		store.SetSlice(settings.Section("calibration", key, "points"), points)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
