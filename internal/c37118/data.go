package c37118

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/kb5jfs/pmud/internal/pmutime"
)

// Stat is the DATA frame's per-station STAT bitfield (spec.md §4.7).
type Stat struct {
	Invalid       bool
	PMUError      bool
	Sync          bool
	SortOrder     bool
	Trigger       bool
	ConfigChanged bool
	UnlockTime    uint8 // bits 5-4, 2 bits
	TriggerReason uint8 // bits 3-0, 4 bits
}

func (s Stat) pack() uint16 {
	var v uint16
	if s.Invalid {
		v |= 1 << 15
	}
	if s.PMUError {
		v |= 1 << 14
	}
	if s.Sync {
		v |= 1 << 13
	}
	if s.SortOrder {
		v |= 1 << 12
	}
	if s.Trigger {
		v |= 1 << 11
	}
	if s.ConfigChanged {
		v |= 1 << 10
	}
	v |= uint16(s.UnlockTime&0b11) << 4
	v |= uint16(s.TriggerReason & 0b1111)
	return v
}

func unpackStat(raw uint16) Stat {
	return Stat{
		Invalid:       raw&(1<<15) != 0,
		PMUError:      raw&(1<<14) != 0,
		Sync:          raw&(1<<13) != 0,
		SortOrder:     raw&(1<<12) != 0,
		Trigger:       raw&(1<<11) != 0,
		ConfigChanged: raw&(1<<10) != 0,
		UnlockTime:    uint8((raw >> 4) & 0b11),
		TriggerReason: uint8(raw & 0b1111),
	}
}

// DataFrame is the decoded DATA frame body for the single station this
// engine carries. Phasors are always stored as complex128 regardless of
// the wire FORMAT; the format context supplied to PackData/UnpackData
// governs only the wire encoding, mirroring spec.md §9's redesign away
// from a process-global format/config pointer.
type DataFrame struct {
	Header    CommonHeader
	Stat      Stat
	Phasors   [pmutime.NumSignals]complex128
	Frequency float64
	Dfreq     float64
	Analogs   []float64
	Digitals  []uint16
}

// PackData encodes a DATA frame using the phasor/analog/frequency wire
// formats described by format.
func PackData(d DataFrame, format FormatBits) []byte {
	var buf bytes.Buffer
	h := d.Header
	h.FrameType = FrameTypeData
	packCommonHeader(&buf, h, 0)

	_ = binary.Write(&buf, binary.BigEndian, d.Stat.pack())

	for _, ph := range d.Phasors {
		packPhasor(&buf, ph, format)
	}

	packAnalogOrFreq(&buf, d.Frequency, format.FreqFloat)
	packAnalogOrFreq(&buf, d.Dfreq, format.FreqFloat)

	for _, a := range d.Analogs {
		packAnalogOrFreq(&buf, a, format.AnalogFloat)
	}

	for _, dig := range d.Digitals {
		_ = binary.Write(&buf, binary.BigEndian, dig)
	}

	return finishFrame(&buf)
}

// UnpackData decodes a DATA frame. numAnalogs/numDigitals come from the
// station's CONFIG frame, since DATA carries no self-describing channel
// counts.
func UnpackData(data []byte, format FormatBits, numAnalogs, numDigitals int) (DataFrame, error) {
	h, frameSize, err := parseCommonHeader(data)
	if err != nil {
		return DataFrame{}, err
	}
	if h.FrameType != FrameTypeData {
		return DataFrame{}, fmt.Errorf("%w: expected DATA, got %s", ErrProtocolParse, h.FrameType)
	}

	body, err := verifyTrailer(data, frameSize)
	if err != nil {
		return DataFrame{}, err
	}

	r := bytes.NewReader(body)

	var statRaw uint16
	if err := binary.Read(r, binary.BigEndian, &statRaw); err != nil {
		return DataFrame{}, fmt.Errorf("%w: STAT: %v", ErrProtocolParse, err)
	}

	var phasors [pmutime.NumSignals]complex128
	for i := range phasors {
		ph, err := unpackPhasor(r, format)
		if err != nil {
			return DataFrame{}, fmt.Errorf("%w: PHASOR[%d]: %v", ErrProtocolParse, i, err)
		}
		phasors[i] = ph
	}

	freq, err := unpackAnalogOrFreq(r, format.FreqFloat)
	if err != nil {
		return DataFrame{}, fmt.Errorf("%w: FREQ: %v", ErrProtocolParse, err)
	}
	dfreq, err := unpackAnalogOrFreq(r, format.FreqFloat)
	if err != nil {
		return DataFrame{}, fmt.Errorf("%w: DFREQ: %v", ErrProtocolParse, err)
	}

	analogs := make([]float64, numAnalogs)
	for i := range analogs {
		a, err := unpackAnalogOrFreq(r, format.AnalogFloat)
		if err != nil {
			return DataFrame{}, fmt.Errorf("%w: ANALOG[%d]: %v", ErrProtocolParse, i, err)
		}
		analogs[i] = a
	}

	digitals := make([]uint16, numDigitals)
	for i := range digitals {
		if err := binary.Read(r, binary.BigEndian, &digitals[i]); err != nil {
			return DataFrame{}, fmt.Errorf("%w: DIGITAL[%d]: %v", ErrProtocolParse, i, err)
		}
	}

	return DataFrame{
		Header:    h,
		Stat:      unpackStat(statRaw),
		Phasors:   phasors,
		Frequency: freq,
		Dfreq:     dfreq,
		Analogs:   analogs,
		Digitals:  digitals,
	}, nil
}

func packPhasor(buf *bytes.Buffer, ph complex128, format FormatBits) {
	var a, b float64
	if format.PhasorRectangular {
		a, b = real(ph), imag(ph)
	} else {
		a, b = cmplxPolar(ph)
	}

	if format.PhasorFloat {
		_ = binary.Write(buf, binary.BigEndian, float32(a))
		_ = binary.Write(buf, binary.BigEndian, float32(b))
		return
	}

	if !format.PhasorRectangular {
		b *= polarAngleScale
	}
	_ = binary.Write(buf, binary.BigEndian, int16(math.Round(a)))
	_ = binary.Write(buf, binary.BigEndian, int16(math.Round(b)))
}

// polarAngleScale converts a polar phasor angle in radians to the 16-bit
// integer wire unit of 10^-4 rad.
const polarAngleScale = 1e4

func unpackPhasor(r *bytes.Reader, format FormatBits) (complex128, error) {
	var a, b float64

	if format.PhasorFloat {
		var fa, fb float32
		if err := binary.Read(r, binary.BigEndian, &fa); err != nil {
			return 0, err
		}
		if err := binary.Read(r, binary.BigEndian, &fb); err != nil {
			return 0, err
		}
		a, b = float64(fa), float64(fb)
	} else {
		var ia, ib int16
		if err := binary.Read(r, binary.BigEndian, &ia); err != nil {
			return 0, err
		}
		if err := binary.Read(r, binary.BigEndian, &ib); err != nil {
			return 0, err
		}
		a, b = float64(ia), float64(ib)
		if !format.PhasorRectangular {
			b /= polarAngleScale
		}
	}

	if format.PhasorRectangular {
		return complex(a, b), nil
	}
	return cmplxFromPolar(a, b), nil
}

func packAnalogOrFreq(buf *bytes.Buffer, v float64, asFloat bool) {
	if asFloat {
		_ = binary.Write(buf, binary.BigEndian, float32(v))
		return
	}
	_ = binary.Write(buf, binary.BigEndian, int16(math.Round(v)))
}

func unpackAnalogOrFreq(r *bytes.Reader, asFloat bool) (float64, error) {
	if asFloat {
		var f float32
		if err := binary.Read(r, binary.BigEndian, &f); err != nil {
			return 0, err
		}
		return float64(f), nil
	}
	var i int16
	if err := binary.Read(r, binary.BigEndian, &i); err != nil {
		return 0, err
	}
	return float64(i), nil
}

func cmplxPolar(c complex128) (magnitude, angleRad float64) {
	return cmplx.Abs(c), cmplx.Phase(c)
}

func cmplxFromPolar(magnitude, angleRad float64) complex128 {
	return cmplx.Rect(magnitude, angleRad)
}
