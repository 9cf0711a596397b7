package source

import (
	"context"
	"fmt"
	"net"

	"github.com/kb5jfs/pmud/internal/pmutime"
)

// maxDatagramSize bounds one datagram; it holds a binary record or a CSV
// line with every field at its widest.
const maxDatagramSize = 512

// UDPSource reads one Sample per incoming datagram.
type UDPSource struct {
	conn   *net.UDPConn
	binary bool
}

// NewUDPSource listens for datagrams on addr.
func NewUDPSource(addr string, binary bool) (*UDPSource, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceOpen, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceOpen, err)
	}
	return &UDPSource{conn: conn, binary: binary}, nil
}

func (s *UDPSource) Read(ctx context.Context) ([]pmutime.Sample, error) {
	buf := make([]byte, maxDatagramSize)
	n, _, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrSourceExhausted
	}

	if s.binary {
		sample, err := pmutime.ParseBinary(buf[:n])
		if err != nil {
			return nil, fmt.Errorf("malformed binary datagram: %w", err)
		}
		return []pmutime.Sample{sample}, nil
	}

	sample, err := pmutime.ParseCSV(string(buf[:n]))
	if err != nil {
		return nil, fmt.Errorf("malformed CSV datagram: %w", err)
	}
	return []pmutime.Sample{sample}, nil
}

func (s *UDPSource) Close() error {
	return s.conn.Close()
}
