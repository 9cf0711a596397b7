package c37118

import (
	"bytes"
	"fmt"
)

// HeaderFrame is the free-form ASCII HEADER frame (spec.md §4.7): a single
// human-readable message, usually a station/build description string.
type HeaderFrame struct {
	Header  CommonHeader
	Message string
}

// PackHeader encodes a HEADER frame.
func PackHeader(h HeaderFrame) []byte {
	var buf bytes.Buffer
	hdr := h.Header
	hdr.FrameType = FrameTypeHeader
	packCommonHeader(&buf, hdr, 0)
	buf.WriteString(h.Message)
	return finishFrame(&buf)
}

// UnpackHeader decodes a HEADER frame.
func UnpackHeader(data []byte) (HeaderFrame, error) {
	h, frameSize, err := parseCommonHeader(data)
	if err != nil {
		return HeaderFrame{}, err
	}
	if h.FrameType != FrameTypeHeader {
		return HeaderFrame{}, fmt.Errorf("%w: expected HEADER, got %s", ErrProtocolParse, h.FrameType)
	}

	body, err := verifyTrailer(data, frameSize)
	if err != nil {
		return HeaderFrame{}, err
	}

	return HeaderFrame{Header: h, Message: string(body)}, nil
}
