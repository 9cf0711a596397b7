package source

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kb5jfs/pmud/internal/pmutime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSourceCSVReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "samples.csv")
	content := "seq_no=1,ch0=100,ch1=101,ch2=102,ch3=103,ch4=104,ch5=105,ts=10,delta=10\n" +
		"seq_no=2,ch0=200,ch1=201,ch2=202,ch3=203,ch4=204,ch5=205,ts=20,delta=10\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	src, err := NewFileSource(path, false)
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	samples, err := src.Read(ctx)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, uint64(1), samples[0].Seq)

	samples, err = src.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), samples[0].Seq)

	_, err = src.Read(ctx)
	assert.ErrorIs(t, err, ErrSourceExhausted)
}

func TestFileSourceBinaryReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "samples.bin")

	s1 := pmutime.Sample{Seq: 1, Timestamp: 10, TimeDelta: 10}
	s2 := pmutime.Sample{Seq: 2, Timestamp: 20, TimeDelta: 10}
	data := append(pmutime.PackBinary(s1), pmutime.PackBinary(s2)...)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	src, err := NewFileSource(path, true)
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	samples, err := src.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), samples[0].Seq)

	samples, err = src.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), samples[0].Seq)

	_, err = src.Read(ctx)
	assert.ErrorIs(t, err, ErrSourceExhausted)
}

func TestFileSourceOpenMissingFails(t *testing.T) {
	_, err := NewFileSource("/nonexistent/path/does-not-exist.csv", false)
	assert.ErrorIs(t, err, ErrSourceOpen)
}

func TestTCPSourceReadsFromAcceptedConnection(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("seq_no=9,ch0=1,ch1=1,ch2=1,ch3=1,ch4=1,ch5=1,ts=1,delta=1\n"))
		time.Sleep(50 * time.Millisecond)
	}()

	src := NewTCPSource(listener.Addr().String(), false)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	samples, err := src.Read(ctx)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, uint64(9), samples[0].Seq)
}

func TestUDPSourceReadsOneSamplePerDatagram(t *testing.T) {
	src, err := NewUDPSource("127.0.0.1:0", false)
	require.NoError(t, err)
	defer src.Close()

	clientConn, err := net.Dial("udp", src.conn.LocalAddr().String())
	require.NoError(t, err)
	defer clientConn.Close()

	_, err = clientConn.Write([]byte("seq_no=5,ch0=1,ch1=1,ch2=1,ch3=1,ch4=1,ch5=1,ts=1,delta=1"))
	require.NoError(t, err)

	samples, err := src.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, uint64(5), samples[0].Seq)
}
