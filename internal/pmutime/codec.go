package pmutime

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// BinarySize is the byte length of a Sample's fixed binary layout:
// seq(8) + channels(6*2) + timestamp(8) + delta(8), all big-endian.
const BinarySize = 8 + NumSignals*2 + 8 + 8

// PackBinary serializes a Sample to its fixed big-endian record layout.
func PackBinary(s Sample) []byte {
	var buf bytes.Buffer
	buf.Grow(BinarySize)
	_ = binary.Write(&buf, binary.BigEndian, s.Seq)
	_ = binary.Write(&buf, binary.BigEndian, s.Channels)
	_ = binary.Write(&buf, binary.BigEndian, s.Timestamp)
	_ = binary.Write(&buf, binary.BigEndian, s.TimeDelta)
	return buf.Bytes()
}

// ParseBinary parses a fixed binary Sample record. It returns an error if
// fewer than BinarySize bytes are available.
func ParseBinary(data []byte) (Sample, error) {
	if len(data) < BinarySize {
		return Sample{}, fmt.Errorf("pmutime: binary sample record too short: got %d bytes, need %d", len(data), BinarySize)
	}

	var s Sample
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.BigEndian, &s.Seq); err != nil {
		return Sample{}, fmt.Errorf("pmutime: reading seq: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &s.Channels); err != nil {
		return Sample{}, fmt.Errorf("pmutime: reading channels: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &s.Timestamp); err != nil {
		return Sample{}, fmt.Errorf("pmutime: reading timestamp: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &s.TimeDelta); err != nil {
		return Sample{}, fmt.Errorf("pmutime: reading time delta: %w", err)
	}

	return s, nil
}

// FormatCSV renders a Sample as one CSV-ish key=value line, matching the
// format ParseCSV accepts: "seq_no=N,ch0=N,...,ch5=N,ts=N,delta=N".
func FormatCSV(s Sample) string {
	var b strings.Builder
	fmt.Fprintf(&b, "seq_no=%d", s.Seq)
	for i, ch := range s.Channels {
		fmt.Fprintf(&b, ",ch%d=%d", i, ch)
	}
	fmt.Fprintf(&b, ",ts=%d,delta=%d", s.Timestamp, s.TimeDelta)
	return b.String()
}

// ParseCSV parses one "key=value,..." line into a Sample. Whitespace around
// keys, values, and commas is tolerated, as is a trailing comma.
func ParseCSV(line string) (Sample, error) {
	var s Sample
	var chSeen [NumSignals]bool
	var seqSeen, tsSeen, deltaSeen bool

	for _, field := range strings.Split(line, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}

		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			return Sample{}, fmt.Errorf("pmutime: malformed field %q", field)
		}
		key := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])

		switch {
		case key == "seq_no":
			n, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return Sample{}, fmt.Errorf("pmutime: parsing seq_no: %w", err)
			}
			s.Seq = n
			seqSeen = true
		case key == "ts":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return Sample{}, fmt.Errorf("pmutime: parsing ts: %w", err)
			}
			s.Timestamp = n
			tsSeen = true
		case key == "delta":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return Sample{}, fmt.Errorf("pmutime: parsing delta: %w", err)
			}
			s.TimeDelta = n
			deltaSeen = true
		case strings.HasPrefix(key, "ch"):
			idx, err := strconv.Atoi(key[2:])
			if err != nil || idx < 0 || idx >= NumSignals {
				return Sample{}, fmt.Errorf("pmutime: unrecognized channel key %q", key)
			}
			n, err := strconv.ParseUint(value, 10, 16)
			if err != nil {
				return Sample{}, fmt.Errorf("pmutime: parsing %s: %w", key, err)
			}
			s.Channels[idx] = uint16(n)
			chSeen[idx] = true
		default:
			return Sample{}, fmt.Errorf("pmutime: unrecognized field key %q", key)
		}
	}

	if !seqSeen || !tsSeen || !deltaSeen {
		return Sample{}, fmt.Errorf("pmutime: missing required field in line %q", line)
	}
	for i, seen := range chSeen {
		if !seen {
			return Sample{}, fmt.Errorf("pmutime: missing channel ch%d in line %q", i, line)
		}
	}

	return s, nil
}
