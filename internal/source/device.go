package source

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/jochenvg/go-udev"
	"github.com/kb5jfs/pmud/internal/pmutime"
	"github.com/warthog618/go-gpiocdev"
	"golang.org/x/sys/unix"
)

// deviceFrameSize is the raw ADC buffer layout this source reads per
// kick: six big-endian uint16 channel counts followed by an 8-byte
// little-endian nanosecond delta since the previous frame, as produced by
// the RPMsg character device driver this engine targets.
const deviceFrameSize = pmutime.NumSignals*2 + 8

// wallClockResyncInterval is how often (in frames) the device source
// re-queries the wall clock instead of advancing its timestamp purely by
// the buffer's reported nanosecond delta, per spec.md §4.5.
const wallClockResyncInterval = 1024

// DeviceSource reads fixed-size ADC frames from a character device,
// optionally asserting a GPIO kick line before each read to request a new
// frame from hardware that exposes its request strobe as a GPIO rather
// than as a zero-length socket write.
type DeviceSource struct {
	f    *os.File
	kick *gpiocdev.Line // nil when no kick line is configured

	seq         uint64
	lastWall    int64
	sinceResync int
}

// DeviceOptions configures a DeviceSource.
type DeviceOptions struct {
	Path     string // character device path, e.g. from ADC_STREAM
	KickChip string // GPIO chip name, e.g. from ADC_KICK_CHIP; empty disables the kick line
	KickLine int    // GPIO line offset, from ADC_KICK_LINE
}

// NewDeviceSource opens and validates the device node, and requests the
// kick GPIO line if configured.
func NewDeviceSource(opts DeviceOptions) (*DeviceSource, error) {
	if err := validateCharDevice(opts.Path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceOpen, err)
	}

	f, err := os.OpenFile(opts.Path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceOpen, err)
	}

	ds := &DeviceSource{f: f, lastWall: pmutime.WallNow()}

	if opts.KickChip != "" {
		line, err := gpiocdev.RequestLine(opts.KickChip, opts.KickLine, gpiocdev.AsOutput(0))
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("%w: kick line %s:%d: %v", ErrSourceOpen, opts.KickChip, opts.KickLine, err)
		}
		ds.kick = line
	}

	return ds, nil
}

// validateCharDevice confirms path names a character device node known to
// udev, rejecting regular files or nodes udev has no record of.
func validateCharDevice(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	sys, ok := info.Sys().(*unix.Stat_t)
	if !ok {
		return fmt.Errorf("cannot determine device number for %s", path)
	}
	if sys.Mode&unix.S_IFMT != unix.S_IFCHR {
		return fmt.Errorf("%s is not a character device", path)
	}

	u := udev.Udev{}
	dev := u.NewDeviceFromDeviceNumber('c', uint64(sys.Rdev))
	if dev == nil {
		return fmt.Errorf("udev has no record of character device %s", path)
	}
	return nil
}

func (s *DeviceSource) assertKick() error {
	if s.kick == nil {
		// No GPIO kick line configured: fall back to the zero-length
		// write the device itself treats as a request strobe.
		_, err := s.f.Write(nil)
		return err
	}
	if err := s.kick.SetValue(1); err != nil {
		return err
	}
	return s.kick.SetValue(0)
}

func (s *DeviceSource) Read(ctx context.Context) ([]pmutime.Sample, error) {
	if err := s.assertKick(); err != nil {
		return nil, fmt.Errorf("kick failed: %w", err)
	}

	buf := make([]byte, deviceFrameSize)
	n, err := io.ReadFull(s.f, buf)
	if n == 0 && err == io.EOF {
		return nil, ErrSourceExhausted
	}
	if err != nil {
		return nil, err
	}

	var channels [pmutime.NumSignals]uint16
	for i := range channels {
		channels[i] = binary.BigEndian.Uint16(buf[i*2 : i*2+2])
	}
	deltaNs := int64(binary.LittleEndian.Uint64(buf[pmutime.NumSignals*2:]))
	deltaUs := deltaNs / 1000

	// Between resyncs the timestamp advances only by the device's reported
	// deltas; drift between the device clock and the wall clock over those
	// 1024 frames is not bounded here.
	s.sinceResync++
	var timestamp int64
	if s.sinceResync >= wallClockResyncInterval {
		timestamp = pmutime.WallNow()
		s.sinceResync = 0
	} else {
		timestamp = s.lastWall + deltaUs
	}

	sample := pmutime.Sample{
		Seq:       s.seq,
		Channels:  channels,
		Timestamp: timestamp,
		TimeDelta: timestamp - s.lastWall,
	}
	s.seq++
	s.lastWall = timestamp

	return []pmutime.Sample{sample}, nil
}

func (s *DeviceSource) Close() error {
	if s.kick != nil {
		_ = s.kick.Close()
	}
	return s.f.Close()
}
