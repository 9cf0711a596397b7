package source

import (
	"context"
	"fmt"
	"os"

	"github.com/kb5jfs/pmud/internal/pmutime"
)

// FileSource replays a recorded sample stream from disk, one shot, then
// reports ErrSourceExhausted.
type FileSource struct {
	f  *os.File
	lr *lineReader
}

// NewFileSource opens path for one-shot replay.
func NewFileSource(path string, binary bool) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceOpen, err)
	}
	return &FileSource{f: f, lr: newLineReader(f, binary, "source.file")}, nil
}

func (s *FileSource) Read(ctx context.Context) ([]pmutime.Sample, error) {
	sample, err := s.lr.readOne()
	if err != nil {
		return nil, err
	}
	return []pmutime.Sample{sample}, nil
}

func (s *FileSource) Close() error {
	return s.f.Close()
}
