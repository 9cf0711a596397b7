package c37118

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/kb5jfs/pmud/internal/pmutime"
)

// stationNameSize is the fixed width of the STN field, in ASCII bytes.
const stationNameSize = 16

// channelNameSize is the fixed width of each concatenated CHNAM entry.
const channelNameSize = 16

// PhunitType distinguishes a phasor channel's physical quantity, carried
// in the PHUNIT field's MSB.
type PhunitType uint8

const (
	PhunitVoltage PhunitType = 0
	PhunitCurrent PhunitType = 1
)

// Phunit is one PHUNIT/ANUNIT conversion descriptor: a type tag in the
// high byte and a 24-bit scale factor in the low bits.
type Phunit struct {
	Type  PhunitType
	Scale uint32 // low 24 bits significant
}

func (p Phunit) pack() uint32 {
	return uint32(p.Type)<<24 | (p.Scale & 0x00FFFFFF)
}

func unpackPhunit(raw uint32) Phunit {
	return Phunit{
		Type:  PhunitType(raw >> 24),
		Scale: raw & 0x00FFFFFF,
	}
}

// FormatBits is the CONFIG frame's FORMAT bitfield: each flag selects
// between the polar/rectangular or floating-point/16-bit-integer
// representation used by the companion DATA frame.
type FormatBits struct {
	PhasorRectangular bool // bit 0: false=polar, true=rectangular
	PhasorFloat       bool // bit 1: false=int16, true=float32
	AnalogFloat       bool // bit 2: false=int16, true=float32
	FreqFloat         bool // bit 3: false=int16, true=float32
}

func (f FormatBits) pack() uint16 {
	var v uint16
	if f.PhasorRectangular {
		v |= 1 << 0
	}
	if f.PhasorFloat {
		v |= 1 << 1
	}
	if f.AnalogFloat {
		v |= 1 << 2
	}
	if f.FreqFloat {
		v |= 1 << 3
	}
	return v
}

func unpackFormatBits(raw uint16) FormatBits {
	return FormatBits{
		PhasorRectangular: raw&(1<<0) != 0,
		PhasorFloat:       raw&(1<<1) != 0,
		AnalogFloat:       raw&(1<<2) != 0,
		FreqFloat:         raw&(1<<3) != 0,
	}
}

// StationConfig describes one PMU's channel layout within a CONFIG frame.
// This module always emits and expects exactly one station (spec's
// NUM_PMU=1), but the type itself carries no such assumption.
type StationConfig struct {
	Name         string // STN, truncated/padded to 16 ASCII bytes on the wire
	IDCode       uint16
	Format       FormatBits
	ChannelNames []string // length = NumPhasors + NumAnalogs + NumDigitals
	Phunits      []Phunit // length = NumPhasors
	Anunits      []Phunit // length = NumAnalogs
	Digunits     []uint32 // length = NumDigitals, raw DIGUNIT words
	Fnom50Hz     bool     // FNOM bit 0: true=50Hz, false=60Hz
	ConfigCount  uint16
}

func (s StationConfig) numPhasors() uint16  { return uint16(len(s.Phunits)) }
func (s StationConfig) numAnalogs() uint16  { return uint16(len(s.Anunits)) }
func (s StationConfig) numDigitals() uint16 { return uint16(len(s.Digunits)) }

// Config is the decoded CONFIG-1/CONFIG-2 frame body (the two frame types
// share an identical body layout per spec.md §4.7; FrameType in the common
// header alone distinguishes them).
type Config struct {
	Header    CommonHeader
	TimeBase  uint32
	Station   StationConfig
	DataRate  int16 // positive: frames/s; negative: seconds/frame
}

// StandardStation builds the single-station CONFIG body this engine always
// publishes: one PMU with NumSignals voltage/current phasor channels named
// after pmutime.Signal, no analog or digital channels, rectangular int16
// phasors and int16 frequency by default (matching spec.md §4.8's "FORMAT
// word = 0 on the wire by default").
func StandardStation(idcode uint16, name string, fnom50Hz bool, configCount uint16) StationConfig {
	names := make([]string, 0, pmutime.NumSignals)
	phunits := make([]Phunit, 0, pmutime.NumSignals)
	for s := pmutime.Signal(0); int(s) < pmutime.NumSignals; s++ {
		names = append(names, s.String())
		t := PhunitVoltage
		if s.IsCurrent() {
			t = PhunitCurrent
		}
		phunits = append(phunits, Phunit{Type: t, Scale: 1})
	}

	return StationConfig{
		Name:         name,
		IDCode:       idcode,
		Format:       FormatBits{},
		ChannelNames: names,
		Phunits:      phunits,
		Fnom50Hz:     fnom50Hz,
		ConfigCount:  configCount,
	}
}

func packFixedASCII(buf *bytes.Buffer, s string, width int) {
	b := make([]byte, width)
	for i := range b {
		b[i] = ' '
	}
	copy(b, s)
	buf.Write(b[:width])
}

// PackConfig encodes a CONFIG frame. frameType must be FrameTypeConfig1 or
// FrameTypeConfig2; the two share an identical on-wire body (spec.md
// §4.7), so a single packer serves both.
func PackConfig(frameType FrameType, c Config) ([]byte, error) {
	if frameType != FrameTypeConfig1 && frameType != FrameTypeConfig2 {
		return nil, fmt.Errorf("%w: PackConfig requires CONFIG-1 or CONFIG-2, got %s", ErrProtocolParse, frameType)
	}

	var buf bytes.Buffer
	h := c.Header
	h.FrameType = frameType
	packCommonHeader(&buf, h, 0)

	_ = binary.Write(&buf, binary.BigEndian, c.TimeBase)
	_ = binary.Write(&buf, binary.BigEndian, uint16(1)) // NUM_PMU

	st := c.Station
	packFixedASCII(&buf, st.Name, stationNameSize)
	_ = binary.Write(&buf, binary.BigEndian, st.IDCode)
	_ = binary.Write(&buf, binary.BigEndian, st.Format.pack())
	_ = binary.Write(&buf, binary.BigEndian, st.numPhasors())
	_ = binary.Write(&buf, binary.BigEndian, st.numAnalogs())
	_ = binary.Write(&buf, binary.BigEndian, st.numDigitals())

	for _, name := range st.ChannelNames {
		packFixedASCII(&buf, name, channelNameSize)
	}
	for _, p := range st.Phunits {
		_ = binary.Write(&buf, binary.BigEndian, p.pack())
	}
	for _, a := range st.Anunits {
		_ = binary.Write(&buf, binary.BigEndian, a.pack())
	}
	for _, d := range st.Digunits {
		_ = binary.Write(&buf, binary.BigEndian, d)
	}

	var fnom uint16
	if st.Fnom50Hz {
		fnom = 1
	}
	_ = binary.Write(&buf, binary.BigEndian, fnom)
	_ = binary.Write(&buf, binary.BigEndian, st.ConfigCount)
	_ = binary.Write(&buf, binary.BigEndian, c.DataRate)

	return finishFrame(&buf), nil
}

// UnpackConfig decodes a CONFIG-1/CONFIG-2 frame, verifying FRAMESIZE and
// the CRC-CCITT trailer.
func UnpackConfig(data []byte) (Config, error) {
	h, frameSize, err := parseCommonHeader(data)
	if err != nil {
		return Config{}, err
	}
	if h.FrameType != FrameTypeConfig1 && h.FrameType != FrameTypeConfig2 {
		return Config{}, fmt.Errorf("%w: expected CONFIG-1 or CONFIG-2, got %s", ErrProtocolParse, h.FrameType)
	}

	body, err := verifyTrailer(data, frameSize)
	if err != nil {
		return Config{}, err
	}

	r := bytes.NewReader(body)

	var timeBase uint32
	if err := binary.Read(r, binary.BigEndian, &timeBase); err != nil {
		return Config{}, fmt.Errorf("%w: TIME_BASE: %v", ErrProtocolParse, err)
	}

	var numPMU uint16
	if err := binary.Read(r, binary.BigEndian, &numPMU); err != nil {
		return Config{}, fmt.Errorf("%w: NUM_PMU: %v", ErrProtocolParse, err)
	}
	if numPMU != 1 {
		return Config{}, fmt.Errorf("%w: unsupported NUM_PMU=%d, only single-station frames are handled", ErrProtocolParse, numPMU)
	}

	name, err := readFixedASCII(r, stationNameSize)
	if err != nil {
		return Config{}, fmt.Errorf("%w: STN: %v", ErrProtocolParse, err)
	}

	var idcode uint16
	if err := binary.Read(r, binary.BigEndian, &idcode); err != nil {
		return Config{}, fmt.Errorf("%w: station IDCODE: %v", ErrProtocolParse, err)
	}

	var formatRaw uint16
	if err := binary.Read(r, binary.BigEndian, &formatRaw); err != nil {
		return Config{}, fmt.Errorf("%w: FORMAT: %v", ErrProtocolParse, err)
	}

	var numPhasors, numAnalogs, numDigitals uint16
	if err := binary.Read(r, binary.BigEndian, &numPhasors); err != nil {
		return Config{}, fmt.Errorf("%w: PHNMR: %v", ErrProtocolParse, err)
	}
	if err := binary.Read(r, binary.BigEndian, &numAnalogs); err != nil {
		return Config{}, fmt.Errorf("%w: ANNMR: %v", ErrProtocolParse, err)
	}
	if err := binary.Read(r, binary.BigEndian, &numDigitals); err != nil {
		return Config{}, fmt.Errorf("%w: DGNMR: %v", ErrProtocolParse, err)
	}

	totalNames := int(numPhasors) + int(numAnalogs) + int(numDigitals)
	names := make([]string, totalNames)
	for i := range names {
		n, err := readFixedASCII(r, channelNameSize)
		if err != nil {
			return Config{}, fmt.Errorf("%w: CHNAM[%d]: %v", ErrProtocolParse, i, err)
		}
		names[i] = n
	}

	phunits := make([]Phunit, numPhasors)
	for i := range phunits {
		var raw uint32
		if err := binary.Read(r, binary.BigEndian, &raw); err != nil {
			return Config{}, fmt.Errorf("%w: PHUNIT[%d]: %v", ErrProtocolParse, i, err)
		}
		phunits[i] = unpackPhunit(raw)
	}

	anunits := make([]Phunit, numAnalogs)
	for i := range anunits {
		var raw uint32
		if err := binary.Read(r, binary.BigEndian, &raw); err != nil {
			return Config{}, fmt.Errorf("%w: ANUNIT[%d]: %v", ErrProtocolParse, i, err)
		}
		anunits[i] = unpackPhunit(raw)
	}

	digunits := make([]uint32, numDigitals)
	for i := range digunits {
		if err := binary.Read(r, binary.BigEndian, &digunits[i]); err != nil {
			return Config{}, fmt.Errorf("%w: DIGUNIT[%d]: %v", ErrProtocolParse, i, err)
		}
	}

	var fnom uint16
	if err := binary.Read(r, binary.BigEndian, &fnom); err != nil {
		return Config{}, fmt.Errorf("%w: FNOM: %v", ErrProtocolParse, err)
	}

	var cfgcnt uint16
	if err := binary.Read(r, binary.BigEndian, &cfgcnt); err != nil {
		return Config{}, fmt.Errorf("%w: CFGCNT: %v", ErrProtocolParse, err)
	}

	var dataRate int16
	if err := binary.Read(r, binary.BigEndian, &dataRate); err != nil {
		return Config{}, fmt.Errorf("%w: DATA_RATE: %v", ErrProtocolParse, err)
	}

	return Config{
		Header:   h,
		TimeBase: timeBase,
		Station: StationConfig{
			Name:         name,
			IDCode:       idcode,
			Format:       unpackFormatBits(formatRaw),
			ChannelNames: names,
			Phunits:      phunits,
			Anunits:      anunits,
			Digunits:     digunits,
			Fnom50Hz:     fnom&1 != 0,
			ConfigCount:  cfgcnt,
		},
		DataRate: dataRate,
	}, nil
}

func readFixedASCII(r *bytes.Reader, width int) (string, error) {
	b := make([]byte, width)
	if _, err := r.Read(b); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(b, " \x00")), nil
}
