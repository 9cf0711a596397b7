package pmutime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseCSV_Basic(t *testing.T) {
	line := "seq_no=42,ch0=100,ch1=200,ch2=300,ch3=400,ch4=500,ch5=600,ts=1700000000000000,delta=833"

	s, err := ParseCSV(line)
	require.NoError(t, err)

	assert.Equal(t, Sample{
		Seq:       42,
		Channels:  [NumSignals]uint16{100, 200, 300, 400, 500, 600},
		Timestamp: 1_700_000_000_000_000,
		TimeDelta: 833,
	}, s)
}

func TestParseCSV_ToleratesWhitespaceAndTrailingComma(t *testing.T) {
	line := " seq_no = 42 , ch0=1, ch1=2,ch2=3,ch3=4,ch4=5,ch5=6,ts=7,delta=8, "

	s, err := ParseCSV(line)
	require.NoError(t, err)
	assert.EqualValues(t, 42, s.Seq)
	assert.EqualValues(t, 7, s.Timestamp)
}

func TestParseCSV_MissingField(t *testing.T) {
	_, err := ParseCSV("seq_no=1,ch0=1,ts=1,delta=1")
	assert.Error(t, err)
}

func TestCSVRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := Sample{
			Seq: rapid.Uint64().Draw(t, "seq"),
			Channels: [NumSignals]uint16{
				rapid.Uint16Range(0, MaxAdcCount).Draw(t, "ch0"),
				rapid.Uint16Range(0, MaxAdcCount).Draw(t, "ch1"),
				rapid.Uint16Range(0, MaxAdcCount).Draw(t, "ch2"),
				rapid.Uint16Range(0, MaxAdcCount).Draw(t, "ch3"),
				rapid.Uint16Range(0, MaxAdcCount).Draw(t, "ch4"),
				rapid.Uint16Range(0, MaxAdcCount).Draw(t, "ch5"),
			},
			Timestamp: rapid.Int64().Draw(t, "ts"),
			TimeDelta: rapid.Int64().Draw(t, "delta"),
		}

		got, err := ParseCSV(FormatCSV(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	})
}

func TestBinaryRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := Sample{
			Seq: rapid.Uint64().Draw(t, "seq"),
			Channels: [NumSignals]uint16{
				rapid.Uint16Range(0, MaxAdcCount).Draw(t, "ch0"),
				rapid.Uint16Range(0, MaxAdcCount).Draw(t, "ch1"),
				rapid.Uint16Range(0, MaxAdcCount).Draw(t, "ch2"),
				rapid.Uint16Range(0, MaxAdcCount).Draw(t, "ch3"),
				rapid.Uint16Range(0, MaxAdcCount).Draw(t, "ch4"),
				rapid.Uint16Range(0, MaxAdcCount).Draw(t, "ch5"),
			},
			Timestamp: rapid.Int64().Draw(t, "ts"),
			TimeDelta: rapid.Int64().Draw(t, "delta"),
		}

		packed := PackBinary(s)
		assert.Len(t, packed, BinarySize)

		got, err := ParseBinary(packed)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	})
}

func TestParseBinary_TooShort(t *testing.T) {
	_, err := ParseBinary([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestPhasePairsAndSignalSets(t *testing.T) {
	assert.Equal(t, []Signal{VA, VB, VC}, VoltageSignals())
	assert.Equal(t, []Signal{IA, IB, IC}, CurrentSignals())
	assert.Equal(t, []PhasePair{{VA, IA}, {VB, IB}, {VC, IC}}, PhasePairs())
	assert.True(t, VA.IsVoltage())
	assert.False(t, VA.IsCurrent())
	assert.True(t, IC.IsCurrent())
}
