package source

import (
	"context"
	"os"

	"github.com/kb5jfs/pmud/internal/pmutime"
)

// StdinSource reads Sample records from the process's standard input.
type StdinSource struct {
	lr *lineReader
}

// NewStdinSource builds a StdinSource. binary selects fixed-layout binary
// records over CSV lines.
func NewStdinSource(binary bool) *StdinSource {
	return &StdinSource{lr: newLineReader(os.Stdin, binary, "source.stdin")}
}

func (s *StdinSource) Read(ctx context.Context) ([]pmutime.Sample, error) {
	sample, err := s.lr.readOne()
	if err != nil {
		return nil, err
	}
	return []pmutime.Sample{sample}, nil
}

func (s *StdinSource) Close() error {
	return nil
}
