package source

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/creack/pty"
	"github.com/kb5jfs/pmud/internal/pmutime"
)

// SubprocessSource spawns a program and reads Sample records from its
// standard output through a pseudo-terminal, the same allocation the
// teacher uses to give a line-oriented child process a tty instead of a
// plain pipe (avoiding full-buffered stdio in the child, which would
// otherwise stall CSV line delivery).
type SubprocessSource struct {
	cmd  *exec.Cmd
	ptmx *os.File
	lr   *lineReader
}

// NewSubprocessSource spawns name with args and wires its stdout/stderr to
// a pty master.
func NewSubprocessSource(name string, args []string, binary bool) (*SubprocessSource, error) {
	cmd := exec.Command(name, args...)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceOpen, err)
	}

	return &SubprocessSource{
		cmd:  cmd,
		ptmx: ptmx,
		lr:   newLineReader(ptmx, binary, "source.subprocess"),
	}, nil
}

func (s *SubprocessSource) Read(ctx context.Context) ([]pmutime.Sample, error) {
	sample, err := s.lr.readOne()
	if err != nil {
		return nil, err
	}
	return []pmutime.Sample{sample}, nil
}

func (s *SubprocessSource) Close() error {
	_ = s.ptmx.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return s.cmd.Wait()
}
