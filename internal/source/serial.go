package source

import (
	"context"
	"fmt"

	"github.com/kb5jfs/pmud/internal/pmutime"
	"github.com/pkg/term"
)

// SerialSource reads Sample records from an RS-232-attached ADC, opened in
// raw mode at a fixed baud rate. Grounded directly on the teacher's
// serial_port.go (term.Open(name, term.RawMode), fd.SetSpeed(baud)),
// retargeted from KISS-over-serial framing to the same CSV/binary Sample
// framing the other transports use.
type SerialSource struct {
	fd *term.Term
	lr *lineReader
}

// NewSerialSource opens device (e.g. "/dev/ttyUSB0") in raw mode at baud and
// wraps it as a Source. baud of 0 leaves the port's current speed alone,
// matching serial_port_open's behavior.
func NewSerialSource(device string, baud int, binary bool) (*SerialSource, error) {
	fd, err := term.Open(device, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("%w: opening serial port %s: %v", ErrSourceOpen, device, err)
	}

	if baud != 0 {
		if err := fd.SetSpeed(baud); err != nil {
			_ = fd.Close()
			return nil, fmt.Errorf("%w: setting speed %d on %s: %v", ErrSourceOpen, baud, device, err)
		}
	}

	return &SerialSource{
		fd: fd,
		lr: newLineReader(fd, binary, "source.serial"),
	}, nil
}

func (s *SerialSource) Read(ctx context.Context) ([]pmutime.Sample, error) {
	sample, err := s.lr.readOne()
	if err != nil {
		return nil, err
	}
	return []pmutime.Sample{sample}, nil
}

func (s *SerialSource) Close() error {
	return s.fd.Close()
}
