package c37118

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Cmd identifies a COMMAND frame's requested action (spec.md §4.7).
type Cmd uint16

const (
	CmdStopData    Cmd = 0x01
	CmdStartData   Cmd = 0x02
	CmdSendHeader  Cmd = 0x03
	CmdSendConfig1 Cmd = 0x04
	CmdSendConfig2 Cmd = 0x05
	CmdExtended    Cmd = 0x08
)

func (c Cmd) String() string {
	switch c {
	case CmdStopData:
		return "STOP_DATA"
	case CmdStartData:
		return "START_DATA"
	case CmdSendHeader:
		return "SEND_HEADER"
	case CmdSendConfig1:
		return "SEND_CONFIG1"
	case CmdSendConfig2:
		return "SEND_CONFIG2"
	case CmdExtended:
		return "EXTENDED"
	default:
		return fmt.Sprintf("Cmd(0x%02X)", uint16(c))
	}
}

// CommandFrame is a decoded COMMAND frame: a fixed CMD code plus an
// optional trailing extended-frame payload.
type CommandFrame struct {
	Header CommonHeader
	Cmd    Cmd
	Data   []byte
}

// PackCommand encodes a COMMAND frame.
func PackCommand(c CommandFrame) []byte {
	var buf bytes.Buffer
	h := c.Header
	h.FrameType = FrameTypeCommand
	packCommonHeader(&buf, h, 0)
	_ = binary.Write(&buf, binary.BigEndian, uint16(c.Cmd))
	buf.Write(c.Data)
	return finishFrame(&buf)
}

// UnpackCommand decodes a COMMAND frame.
func UnpackCommand(data []byte) (CommandFrame, error) {
	h, frameSize, err := parseCommonHeader(data)
	if err != nil {
		return CommandFrame{}, err
	}
	if h.FrameType != FrameTypeCommand {
		return CommandFrame{}, fmt.Errorf("%w: expected COMMAND, got %s", ErrProtocolParse, h.FrameType)
	}

	body, err := verifyTrailer(data, frameSize)
	if err != nil {
		return CommandFrame{}, err
	}
	if len(body) < 2 {
		return CommandFrame{}, fmt.Errorf("%w: COMMAND body too short for CMD field", ErrProtocolParse)
	}

	cmd := Cmd(binary.BigEndian.Uint16(body[:2]))
	var extra []byte
	if len(body) > 2 {
		extra = append(extra, body[2:]...)
	}

	return CommandFrame{Header: h, Cmd: cmd, Data: extra}, nil
}
