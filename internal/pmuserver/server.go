// Package pmuserver implements the Phasor Server (spec.md §4.8): a
// single-client TCP server publishing IEEE C37.118 DATA frames at the
// configured data rate and responding to CONFIG/HEADER/START/STOP
// commands.
//
// Grounded on the teacher's kissnet.go accept-loop structure (a listener
// goroutine handing connections to a per-client reader, SO_REUSEADDR set
// on the listener's file descriptor) and server.go's fixed-header command
// dispatch, generalized from AGWPE framing to C37.118 framing and from a
// multi-client fan-out to the single-client model spec.md §4.8 describes.
package pmuserver

import (
	"context"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/kb5jfs/pmud/internal/c37118"
	"github.com/kb5jfs/pmud/internal/pmulog"
	"github.com/kb5jfs/pmud/internal/pmutime"
)

var log = pmulog.For("pmuserver")

// State is the three-bit server state bitfield of spec.md §3: Connected
// implies Listening, DataSending implies Connected.
type State uint8

const (
	StateListening State = 1 << iota
	StateConnected
	StateDataSending
)

// readPollInterval bounds how long the server waits for readyRead on the
// connected client per tick, per spec.md §4.8 step 3.
const readPollInterval = 100 * time.Millisecond

// Identity carries the fixed PMU identity fields needed to answer
// CONFIG/HEADER commands and stamp DATA frames.
type Identity struct {
	IDCode      uint16
	StationName string
	Fnom50Hz    bool
	DataRate    int16
	ConfigCount uint16
	Format      c37118.FormatBits
}

// Server is the Phasor Server: a dedicated goroutine owning exactly one
// TCP listener and at most one connected client.
type Server struct {
	addr     string
	identity Identity

	mu          sync.Mutex
	state       State
	keepRunning bool
	listener    net.Listener
	client      net.Conn

	latchMu    sync.Mutex
	lastSample pmutime.Sample
	lastEst    pmutime.Estimation
}

// New builds a Server bound to addr (host:port) that will present the
// given Identity in its CONFIG/HEADER responses and DATA frames.
func New(addr string, identity Identity) *Server {
	return &Server{addr: addr, identity: identity}
}

// Publish implements processor.Sink: it latches the most recent
// (Sample, Estimation) pair for the next DATA tick to send.
func (s *Server) Publish(sample pmutime.Sample, estimation pmutime.Estimation) {
	s.latchMu.Lock()
	defer s.latchMu.Unlock()
	s.lastSample = sample
	s.lastEst = estimation
}

// State returns the current server state bitfield.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run listens, accepts, and services one client at a time, running the
// per-tick state machine of spec.md §4.8 at 1000/data_rate ms, until ctx
// is cancelled or Stop is called.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	s.keepRunning = true
	s.mu.Unlock()

	interval := time.Second
	if s.identity.DataRate > 0 {
		interval = time.Duration(1000/int64(s.identity.DataRate)) * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	defer s.closeAll()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.mu.Lock()
			running := s.keepRunning
			s.mu.Unlock()
			if !running {
				return nil
			}
			s.tick()
		}
	}
}

// Stop cooperatively ends Run after its current tick.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keepRunning = false
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		_ = s.client.Close()
		s.client = nil
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	s.state = 0
}

// tick performs one iteration of the per-tick work described in spec.md
// §4.8: relisten if needed, accept a pending client, poll for readable
// command bytes, and emit a DATA frame if sending is enabled.
func (s *Server) tick() {
	s.mu.Lock()
	prevState := s.state

	if s.listener == nil {
		if err := s.listen(); err != nil {
			log.Warnf("listen on %s failed: %v", s.addr, err)
			s.mu.Unlock()
			return
		}
		s.state |= StateListening
	}

	if s.client == nil {
		if err := s.listener.(*net.TCPListener).SetDeadline(time.Now().Add(time.Millisecond)); err == nil {
			if conn, acceptErr := s.listener.Accept(); acceptErr == nil {
				s.client = conn
				s.state |= StateConnected
				log.Infof("client connected from %s", conn.RemoteAddr())
			}
		}
	}

	client := s.client
	s.mu.Unlock()

	if client != nil {
		s.serviceClient(client)
	}

	s.mu.Lock()
	sendData := s.state&StateDataSending != 0 && s.client != nil
	s.mu.Unlock()

	if sendData {
		s.emitData()
	}

	s.mu.Lock()
	newState := s.state
	s.mu.Unlock()
	if newState != prevState {
		log.Infof("server state changed: %03b -> %03b", prevState, newState)
	}
}

// listen must be called with s.mu held.
func (s *Server) listen() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	if tcpListener, ok := l.(*net.TCPListener); ok {
		if f, err := tcpListener.File(); err == nil {
			_ = syscall.SetsockoptInt(int(f.Fd()), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			_ = f.Close()
		}
	}
	s.listener = l
	return nil
}

// serviceClient waits up to readPollInterval for a command from the
// connected client and dispatches it.
func (s *Server) serviceClient(client net.Conn) {
	_ = client.SetReadDeadline(time.Now().Add(readPollInterval))

	buf := make([]byte, 4096)
	n, err := client.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return
		}
		s.disconnect("read error: %v", err)
		return
	}
	if n == 0 {
		s.disconnect("client closed connection")
		return
	}

	s.handleCommand(client, buf[:n])
}

func (s *Server) disconnect(format string, args ...any) {
	log.Infof(format, args...)
	s.mu.Lock()
	if s.client != nil {
		_ = s.client.Close()
		s.client = nil
	}
	s.state &^= StateConnected | StateDataSending
	s.mu.Unlock()
}

func (s *Server) handleCommand(client net.Conn, data []byte) {
	ft, err := c37118.PeekFrameType(data)
	if err != nil || ft != c37118.FrameTypeCommand {
		log.Warnf("ignoring non-command input from client")
		return
	}

	cmd, err := c37118.UnpackCommand(data)
	if err != nil {
		log.Warnf("malformed command frame: %v", err)
		return
	}

	switch cmd.Cmd {
	case c37118.CmdStopData:
		s.mu.Lock()
		s.state &^= StateDataSending
		s.mu.Unlock()
	case c37118.CmdStartData:
		s.mu.Lock()
		s.state |= StateDataSending
		s.mu.Unlock()
	case c37118.CmdSendHeader:
		s.writeFrame(client, c37118.PackHeader(c37118.HeaderFrame{
			Header:  s.commonHeader(),
			Message: "pmud synchrophasor engine",
		}))
	case c37118.CmdSendConfig1:
		s.writeConfig(client, c37118.FrameTypeConfig1)
	case c37118.CmdSendConfig2:
		s.writeConfig(client, c37118.FrameTypeConfig2)
	default:
		log.Warnf("unhandled command %s", cmd.Cmd)
	}
}

func (s *Server) writeConfig(client net.Conn, ft c37118.FrameType) {
	station := c37118.StandardStation(s.identity.IDCode, s.identity.StationName, s.identity.Fnom50Hz, s.identity.ConfigCount)
	station.Format = s.identity.Format

	data, err := c37118.PackConfig(ft, c37118.Config{
		Header:   s.commonHeader(),
		TimeBase: pmutime.TimeBase,
		Station:  station,
		DataRate: s.identity.DataRate,
	})
	if err != nil {
		log.Warnf("packing config frame: %v", err)
		return
	}
	s.writeFrame(client, data)
}

// emitData packs and writes one DATA frame from the latest latched
// (Sample, Estimation); a partial write is logged and dropped, never
// retried, per spec.md §4.8's ordering guarantee.
func (s *Server) emitData() {
	s.latchMu.Lock()
	sample, est := s.lastSample, s.lastEst
	s.latchMu.Unlock()

	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return
	}

	d := c37118.DataFrame{
		Header:    s.commonHeaderAt(sample.Timestamp),
		Stat:      c37118.Stat{Sync: true},
		Phasors:   est.Phasors,
		Frequency: averageFrequency(est.Frequencies),
		Dfreq:     averageFrequency(est.Rocofs),
	}

	s.writeFrame(client, c37118.PackData(d, s.identity.Format))
}

func (s *Server) writeFrame(client net.Conn, data []byte) {
	n, err := client.Write(data)
	if err != nil {
		log.Warnf("write to client failed, dropping frame: %v", err)
		return
	}
	if n != len(data) {
		log.Warnf("partial write (%d of %d bytes), dropping frame", n, len(data))
	}
}

func (s *Server) commonHeader() c37118.CommonHeader {
	return s.commonHeaderAt(pmutime.WallNow())
}

func (s *Server) commonHeaderAt(timestampUs int64) c37118.CommonHeader {
	return c37118.CommonHeader{
		IDCode:           s.identity.IDCode,
		SOC:              uint32(timestampUs / pmutime.TimeBase),
		FracSecNumerator: uint32(timestampUs % pmutime.TimeBase),
	}
}

func averageFrequency(values [pmutime.NumSignals]float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
