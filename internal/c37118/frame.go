// Package c37118 implements a bit-exact codec for the IEEE C37.118-2005
// synchrophasor frame types described in spec.md §4.7: the 14-byte common
// header, CONFIG-1/CONFIG-2, DATA, HEADER, and COMMAND bodies, and the
// CRC-CCITT trailer.
//
// Every frame is represented as an owned Go record; Pack returns an owned
// byte slice and Unpack consumes a byte slice and returns a record, per
// spec.md §9's redesign away from malloc'd/freed protocol structs. This
// mirrors the field-at-a-time encoding/binary + bytes.Reader/Buffer style
// of the C37.118 reference decoder this package is grounded on, adapted
// from that reference's package-level mutable config global into explicit
// parameters.
package c37118

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrProtocolParse is returned whenever a frame cannot be decoded: a
// truncated buffer, a bad sync byte, a CRC mismatch, or a FRAMESIZE that
// does not match the buffer length.
var ErrProtocolParse = errors.New("c37118: protocol parse error")

// SyncByte is the fixed first byte of every frame's SYNC field.
const SyncByte = 0xAA

// ProtocolVersion is the low nibble of the SYNC field's second byte.
const ProtocolVersion = 1

// CommonHeaderSize is the byte length of the fixed 14-byte common header.
const CommonHeaderSize = 14

// FrameType identifies which of the five C37.118 frame kinds a buffer
// holds; it occupies the high nibble of the second SYNC byte.
type FrameType uint8

const (
	FrameTypeData    FrameType = 0
	FrameTypeHeader  FrameType = 1
	FrameTypeConfig1 FrameType = 2
	FrameTypeConfig2 FrameType = 3
	FrameTypeCommand FrameType = 4
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeData:
		return "DATA"
	case FrameTypeHeader:
		return "HEADER"
	case FrameTypeConfig1:
		return "CONFIG-1"
	case FrameTypeConfig2:
		return "CONFIG-2"
	case FrameTypeCommand:
		return "COMMAND"
	default:
		return fmt.Sprintf("FrameType(%d)", uint8(t))
	}
}

// CommonHeader is the 14-byte header shared by every frame type.
type CommonHeader struct {
	FrameType FrameType
	IDCode    uint16
	SOC       uint32 // seconds-of-century (Unix seconds)
	// TimeQuality is the FRACSEC high byte's time-quality flags.
	TimeQuality uint8
	// FracSecNumerator is FRACSEC's low 24 bits: the fractional-second
	// numerator over pmutime.TimeBase.
	FracSecNumerator uint32
}

func packCommonHeader(buf *bytes.Buffer, h CommonHeader, frameSize uint16) {
	buf.WriteByte(SyncByte)
	buf.WriteByte(byte(h.FrameType)<<4 | ProtocolVersion)
	_ = binary.Write(buf, binary.BigEndian, frameSize)
	_ = binary.Write(buf, binary.BigEndian, h.IDCode)
	_ = binary.Write(buf, binary.BigEndian, h.SOC)

	fracsec := uint32(h.TimeQuality)<<24 | (h.FracSecNumerator & 0x00FFFFFF)
	_ = binary.Write(buf, binary.BigEndian, fracsec)
}

// parseCommonHeader reads the common header and returns it along with the
// FRAMESIZE field (the caller must still validate FRAMESIZE against the
// actual buffer length, since the trailer has not been read yet here).
func parseCommonHeader(data []byte) (CommonHeader, uint16, error) {
	if len(data) < CommonHeaderSize {
		return CommonHeader{}, 0, fmt.Errorf("%w: buffer too short for common header: %d bytes", ErrProtocolParse, len(data))
	}

	if data[0] != SyncByte {
		return CommonHeader{}, 0, fmt.Errorf("%w: bad sync byte 0x%02X", ErrProtocolParse, data[0])
	}

	version := data[1] & 0x0F
	if version != ProtocolVersion {
		return CommonHeader{}, 0, fmt.Errorf("%w: unsupported protocol version %d", ErrProtocolParse, version)
	}
	frameType := FrameType(data[1] >> 4)

	frameSize := binary.BigEndian.Uint16(data[2:4])
	idcode := binary.BigEndian.Uint16(data[4:6])
	soc := binary.BigEndian.Uint32(data[6:10])
	fracsec := binary.BigEndian.Uint32(data[10:14])

	h := CommonHeader{
		FrameType:        frameType,
		IDCode:           idcode,
		SOC:              soc,
		TimeQuality:      uint8(fracsec >> 24),
		FracSecNumerator: fracsec & 0x00FFFFFF,
	}
	return h, frameSize, nil
}

// finishFrame appends the CRC-CCITT trailer to a frame body that already
// contains a correct common header + body, and patches the FRAMESIZE field
// in place to equal the final byte length.
func finishFrame(buf *bytes.Buffer) []byte {
	out := buf.Bytes()
	total := uint16(len(out) + 2) // +2 for the CRC trailer about to be appended
	binary.BigEndian.PutUint16(out[2:4], total)

	crc := crcCCITT(out)
	var crcBytes [2]byte
	binary.BigEndian.PutUint16(crcBytes[:], crc)

	return append(out, crcBytes[:]...)
}

// verifyTrailer checks that FRAMESIZE matches the buffer length and that
// the trailing CRC-CCITT verifies, returning the body bytes between the
// common header and the CRC.
func verifyTrailer(data []byte, frameSize uint16) ([]byte, error) {
	if int(frameSize) != len(data) {
		return nil, fmt.Errorf("%w: FRAMESIZE %d does not match buffer length %d", ErrProtocolParse, frameSize, len(data))
	}
	if len(data) < CommonHeaderSize+2 {
		return nil, fmt.Errorf("%w: buffer too short for trailer", ErrProtocolParse)
	}

	body := data[:len(data)-2]
	wantCRC := binary.BigEndian.Uint16(data[len(data)-2:])
	gotCRC := crcCCITT(body)
	if wantCRC != gotCRC {
		return nil, fmt.Errorf("%w: CRC mismatch: got 0x%04X want 0x%04X", ErrProtocolParse, gotCRC, wantCRC)
	}

	return data[CommonHeaderSize : len(data)-2], nil
}

// PeekFrameType inspects a buffer's SYNC field without fully decoding the
// frame, to dispatch to the right Unpack* function.
func PeekFrameType(data []byte) (FrameType, error) {
	if len(data) < 2 {
		return 0, fmt.Errorf("%w: buffer too short to contain SYNC", ErrProtocolParse)
	}
	if data[0] != SyncByte {
		return 0, fmt.Errorf("%w: bad sync byte 0x%02X", ErrProtocolParse, data[0])
	}
	return FrameType(data[1] >> 4), nil
}
