// Package source implements the Sample Source variants of spec.md §4.5:
// standard input, TCP client, UDP, file replay, subprocess, and character
// device, each producing pmutime.Sample values for the Data Processor.
//
// Every variant implements the same Source interface rather than taking a
// callback in its constructor, generalizing the teacher's pattern of one
// concrete transport type per file (kissnet.go/kissserial.go/kiss.go each
// implementing the same byte-oriented read contract for a different
// transport).
package source

import (
	"bufio"
	"context"
	"errors"
	"io"

	"github.com/kb5jfs/pmud/internal/pmulog"
	"github.com/kb5jfs/pmud/internal/pmutime"
)

// ErrSourceExhausted is returned by Read when the underlying transport has
// reached end-of-stream (a zero-length read, or a closed connection).
var ErrSourceExhausted = errors.New("source: exhausted")

// ErrSourceOpen is returned by a Source's constructor when the underlying
// transport cannot be opened at all; per spec.md §7 this is fatal at
// startup rather than a per-read failure.
var ErrSourceOpen = errors.New("source: open failed")

// Source produces samples one read at a time. Read may return more than
// one Sample (a batch read), but typically returns exactly one.
type Source interface {
	Read(ctx context.Context) ([]pmutime.Sample, error)
	Close() error
}

// lineReader wraps a bufio.Scanner/Reader pair for the CSV-or-binary
// framing shared by stdin, TCP, file, and subprocess sources: binary mode
// reads fixed BinarySize-byte records, CSV mode reads newline-terminated
// lines.
type lineReader struct {
	r      *bufio.Reader
	binary bool
	log    interface {
		Warnf(format string, args ...any)
	}
}

func newLineReader(r io.Reader, binary bool, component string) *lineReader {
	return &lineReader{
		r:      bufio.NewReader(r),
		binary: binary,
		log:    pmulog.For(component),
	}
}

// readOne reads a single Sample, tolerating and logging malformed lines
// (it retries until a good record is parsed or the stream is exhausted)
// per spec.md §4.5: "any read error is logged and the loop continues
// without emitting."
func (lr *lineReader) readOne() (pmutime.Sample, error) {
	for {
		if lr.binary {
			buf := make([]byte, pmutime.BinarySize)
			if _, err := io.ReadFull(lr.r, buf); err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					return pmutime.Sample{}, ErrSourceExhausted
				}
				return pmutime.Sample{}, err
			}
			s, err := pmutime.ParseBinary(buf)
			if err != nil {
				lr.log.Warnf("dropping malformed binary record: %v", err)
				continue
			}
			return s, nil
		}

		line, err := lr.r.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				return pmutime.Sample{}, ErrSourceExhausted
			}
			return pmutime.Sample{}, err
		}
		s, parseErr := pmutime.ParseCSV(line)
		if parseErr != nil {
			lr.log.Warnf("dropping malformed CSV line %q: %v", line, parseErr)
			if errors.Is(err, io.EOF) {
				return pmutime.Sample{}, ErrSourceExhausted
			}
			continue
		}
		return s, nil
	}
}
