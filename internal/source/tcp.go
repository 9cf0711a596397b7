package source

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/kb5jfs/pmud/internal/pmulog"
	"github.com/kb5jfs/pmud/internal/pmutime"
)

// TCPSource connects to a remote host:port and reads Sample records,
// reconnecting on any disconnect (spec.md §4.5: "reconnect on failure"):
// the Read that loses the connection returns an error (never
// ErrSourceExhausted) and the next Read dials again.
type TCPSource struct {
	addr   string
	binary bool

	mu   sync.Mutex
	conn net.Conn
	lr   *lineReader
}

// NewTCPSource builds a TCPSource. The first connection attempt happens
// lazily on the first Read, mirroring the reconnect path used for every
// subsequent disconnect.
func NewTCPSource(addr string, binary bool) *TCPSource {
	return &TCPSource{addr: addr, binary: binary}
}

func (s *TCPSource) Read(ctx context.Context) ([]pmutime.Sample, error) {
	s.mu.Lock()
	if s.conn == nil {
		if err := s.dial(ctx); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	lr := s.lr
	s.mu.Unlock()

	sample, err := lr.readOne()
	if err != nil {
		s.mu.Lock()
		_ = s.conn.Close()
		s.conn = nil
		s.lr = nil
		s.mu.Unlock()
		pmulog.For("source.tcp").Warnf("connection to %s lost: %v", s.addr, err)
		return nil, fmt.Errorf("connection to %s lost: %v", s.addr, err)
	}
	return []pmutime.Sample{sample}, nil
}

// dial must be called with s.mu held.
func (s *TCPSource) dial(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}
	s.conn = conn
	s.lr = newLineReader(conn, s.binary, "source.tcp")
	return nil
}

func (s *TCPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
